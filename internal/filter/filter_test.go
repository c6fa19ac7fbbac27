package filter

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func baseSpec() Spec {
	return Spec{
		Bots:            NewBotSet("Atlas Support"),
		Range:           DateRange{From: "2026-01-15", To: "2026-01-28"},
		ComparePrevious: true,
		Channel:         ChannelAll,
		Advanced: Advanced{
			Locale: "en-US",
			Queue:  "Tier 1",
			Tool:   "CRM Lookup",
		},
	}
}

func specDiff(a, b Spec) string {
	return cmp.Diff(a, b, cmp.AllowUnexported(BotSet{}))
}

func TestApplyLeavesUnnamedFieldsUnchanged(t *testing.T) {
	cur := baseSpec()
	voice := ChannelVoice
	compare := false
	from := "2026-01-20"
	bots := NewBotSet("Pulse Voice", "Nova Assist")

	tests := []struct {
		name  string
		patch Patch
		want  func(Spec) Spec
	}{
		{"empty patch", Patch{}, func(s Spec) Spec { return s }},
		{"channel", Patch{Channel: &voice}, func(s Spec) Spec {
			s.Channel = ChannelVoice
			return s
		}},
		{"compare", Patch{ComparePrevious: &compare}, func(s Spec) Spec {
			s.ComparePrevious = false
			return s
		}},
		{"from only", Patch{From: &from}, func(s Spec) Spec {
			s.Range.From = from
			return s
		}},
		{"bots replace wholesale", Patch{Bots: &bots}, func(s Spec) Spec {
			s.Bots = bots
			return s
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Apply(cur, tt.patch)
			if d := specDiff(tt.want(baseSpec()), got); d != "" {
				t.Errorf("Apply mismatch (-want +got):\n%s", d)
			}
			if d := specDiff(baseSpec(), cur); d != "" {
				t.Errorf("Apply mutated input (-want +got):\n%s", d)
			}
		})
	}
}

func TestApplyAdvancedMergeIsKeyLocal(t *testing.T) {
	cur := baseSpec()
	got := Apply(cur, Patch{
		Advanced: map[AdvancedKey]string{KeyLocale: "es-MX"},
	})
	want := Advanced{Locale: "es-MX", Queue: "Tier 1", Tool: "CRM Lookup"}
	if got.Advanced != want {
		t.Errorf("Advanced = %+v, want %+v", got.Advanced, want)
	}
	if cur.Advanced.Locale != "en-US" {
		t.Errorf("input mutated: locale = %q", cur.Advanced.Locale)
	}

	cleared := Apply(got, Patch{
		Advanced: map[AdvancedKey]string{KeyQueue: ""},
	})
	if cleared.Advanced.Queue != "" {
		t.Errorf("queue = %q, want cleared", cleared.Advanced.Queue)
	}
	if cleared.Advanced.Tool != "CRM Lookup" {
		t.Errorf("tool = %q, want untouched", cleared.Advanced.Tool)
	}
}

func TestApplyKeepsIllegalStates(t *testing.T) {
	empty := NewBotSet()
	from := "2026-02-01"
	got := Apply(baseSpec(), Patch{Bots: &empty, From: &from})
	if !got.Bots.Empty() {
		t.Errorf("bots = %v, want empty", got.Bots.IDs())
	}
	if got.Range.From != "2026-02-01" || got.Range.To != "2026-01-28" {
		t.Errorf("range = %+v, dates must not be swapped", got.Range)
	}
	if got.InScope() {
		t.Error("InScope() = true for empty bots and inverted range")
	}
}

func TestInScope(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
		want bool
	}{
		{"valid", baseSpec(), true},
		{"no bots", Spec{Range: baseSpec().Range}, false},
		{"inverted", Spec{
			Bots:  NewBotSet("a"),
			Range: DateRange{From: "2026-01-28", To: "2026-01-15"},
		}, false},
		{"malformed", Spec{
			Bots:  NewBotSet("a"),
			Range: DateRange{From: "Jan 15", To: "2026-01-15"},
		}, false},
		{"single day", Spec{
			Bots:  NewBotSet("a"),
			Range: DateRange{From: "2026-01-15", To: "2026-01-15"},
		}, true},
		{"longest range", Spec{
			Bots:  NewBotSet("a"),
			Range: DateRange{From: "2024-01-01", To: "2024-12-31"},
		}, true},
		{"one day too long", Spec{
			Bots:  NewBotSet("a"),
			Range: DateRange{From: "2024-01-01", To: "2025-01-01"},
		}, false},
		{"all of time", Spec{
			Bots:  NewBotSet("a"),
			Range: DateRange{From: "0001-01-01", To: "9999-12-31"},
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.spec.InScope(); got != tt.want {
				t.Errorf("InScope() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDateRangeDays(t *testing.T) {
	days := DateRange{From: "2026-01-15", To: "2026-01-28"}.Days()
	if len(days) != 14 {
		t.Fatalf("len(days) = %d, want 14", len(days))
	}
	if days[0] != "2026-01-15" || days[13] != "2026-01-28" {
		t.Errorf("days = %v..%v", days[0], days[13])
	}
	if got := (DateRange{From: "2026-01-28", To: "2026-01-15"}).Days(); got != nil {
		t.Errorf("inverted Days() = %v, want nil", got)
	}
}

func TestDateRangePrevious(t *testing.T) {
	got := DateRange{From: "2026-01-15", To: "2026-01-28"}.Previous()
	want := DateRange{From: "2026-01-01", To: "2026-01-14"}
	if got != want {
		t.Errorf("Previous() = %+v, want %+v", got, want)
	}
}

func TestDefault(t *testing.T) {
	today := time.Date(2026, 1, 28, 15, 0, 0, 0, time.UTC)
	s := Default([]string{"Atlas Support"}, today, 14)
	if s.Range.From != "2026-01-15" || s.Range.To != "2026-01-28" {
		t.Errorf("range = %+v", s.Range)
	}
	if !s.ComparePrevious || s.Channel != ChannelAll {
		t.Errorf("spec = %+v", s)
	}
	if !s.Advanced.IsZero() {
		t.Errorf("advanced = %+v, want unset", s.Advanced)
	}
}

func TestKeyDistinguishesSpecs(t *testing.T) {
	a := baseSpec()
	b := Apply(a, Patch{Advanced: map[AdvancedKey]string{KeyCampaign: "Winter"}})
	if a.Key() == b.Key() {
		t.Errorf("Key() collision: %s", a.Key())
	}
	if a.Key() != baseSpec().Key() {
		t.Error("Key() not stable for equal specs")
	}
}

func TestPatchJSON(t *testing.T) {
	var p Patch
	raw := `{"bots":["Atlas Support","Atlas Support","Pulse Voice"],
		"channel":"chat","advanced":{"queue":"Tier 2"}}`
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got := Apply(baseSpec(), p)
	if d := cmp.Diff(
		[]string{"Atlas Support", "Pulse Voice"}, got.Bots.IDs(),
	); d != "" {
		t.Errorf("bots mismatch (-want +got):\n%s", d)
	}
	if got.Channel != ChannelChat {
		t.Errorf("channel = %q", got.Channel)
	}
	if got.Advanced.Queue != "Tier 2" || got.Advanced.Locale != "en-US" {
		t.Errorf("advanced = %+v", got.Advanced)
	}
	if got.Range != baseSpec().Range {
		t.Errorf("range changed: %+v", got.Range)
	}
}

func TestParseChannel(t *testing.T) {
	for _, s := range []string{"", "all", "chat", "voice"} {
		if _, err := ParseChannel(s); err != nil {
			t.Errorf("ParseChannel(%q): %v", s, err)
		}
	}
	if _, err := ParseChannel("email"); err == nil {
		t.Error("ParseChannel(email) succeeded")
	}
}

func TestDateRangeSpan(t *testing.T) {
	tests := []struct {
		name    string
		r       DateRange
		want    int
		tooLong bool
	}{
		{"single day", DateRange{From: "2026-01-15", To: "2026-01-15"}, 1, false},
		{"across DST", DateRange{From: "2026-03-01", To: "2026-03-31"}, 31, false},
		{"leap year", DateRange{From: "2024-01-01", To: "2024-12-31"}, 366, false},
		{"over the limit", DateRange{From: "2024-01-01", To: "2025-01-01"}, 367, true},
		{"inverted", DateRange{From: "2026-01-28", To: "2026-01-15"}, 0, false},
		{"malformed", DateRange{From: "2026-1-1", To: "2026-01-15"}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.Span(); got != tt.want {
				t.Errorf("Span() = %d, want %d", got, tt.want)
			}
			if got := tt.r.TooLong(); got != tt.tooLong {
				t.Errorf("TooLong() = %v, want %v", got, tt.tooLong)
			}
		})
	}
}

func TestDateRangeDaysBounded(t *testing.T) {
	if got := (DateRange{From: "2024-01-01", To: "2024-12-31"}).Days(); len(got) != MaxRangeDays {
		t.Errorf("len(Days()) = %d, want %d", len(got), MaxRangeDays)
	}
	if got := (DateRange{From: "0001-01-01", To: "9999-12-31"}).Days(); got != nil {
		t.Errorf("over-long Days() returned %d days, want nil", len(got))
	}
}

func TestDefaultClampsDays(t *testing.T) {
	today := time.Date(2026, 1, 28, 12, 0, 0, 0, time.UTC)
	if got := Default(nil, today, 5000).Range.Span(); got != MaxRangeDays {
		t.Errorf("Span() = %d, want %d", got, MaxRangeDays)
	}
	if got := Default(nil, today, 0).Range.Span(); got != 1 {
		t.Errorf("Span() = %d, want 1", got)
	}
}
