// Package filter models the dashboard filter selection as an
// immutable value and applies partial updates to it.
package filter

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// MaxRangeDays is the longest date range, in days, that can be in
// scope. Longer ranges yield empty results.
const MaxRangeDays = 366

// Channel selects which conversation channel is in scope.
type Channel string

const (
	ChannelAll   Channel = "all"
	ChannelChat  Channel = "chat"
	ChannelVoice Channel = "voice"
)

// ParseChannel validates s. Empty input means all channels.
func ParseChannel(s string) (Channel, error) {
	switch Channel(s) {
	case "", ChannelAll:
		return ChannelAll, nil
	case ChannelChat, ChannelVoice:
		return Channel(s), nil
	}
	return "", fmt.Errorf("invalid channel %q: must be all, chat, or voice", s)
}

// Includes reports whether a record on the given channel is in
// scope.
func (c Channel) Includes(recordChannel string) bool {
	return c == "" || c == ChannelAll || string(c) == recordChannel
}

// DateRange is an inclusive range of YYYY-MM-DD dates.
type DateRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Valid reports whether both ends parse and From does not exceed
// To. Invalid ranges are legal states that yield empty results.
func (r DateRange) Valid() bool {
	from, err := time.Parse(dateLayout, r.From)
	if err != nil {
		return false
	}
	to, err := time.Parse(dateLayout, r.To)
	if err != nil {
		return false
	}
	return !from.After(to)
}

// Days returns every date in the range in chronological order, or
// nil when the range is invalid or too long.
func (r DateRange) Days() []string {
	n := r.Span()
	if n == 0 || n > MaxRangeDays {
		return nil
	}
	start, _ := time.Parse(dateLayout, r.From)
	days := make([]string, 0, n)
	for i := 0; i < n; i++ {
		days = append(days, start.AddDate(0, 0, i).Format(dateLayout))
	}
	return days
}

// Span returns the number of days in the range, counting both ends,
// or 0 when the range is invalid.
func (r DateRange) Span() int {
	if !r.Valid() {
		return 0
	}
	start, _ := time.Parse(dateLayout, r.From)
	end, _ := time.Parse(dateLayout, r.To)
	return int((end.Unix()-start.Unix())/86400) + 1
}

// TooLong reports whether a valid range exceeds MaxRangeDays.
func (r DateRange) TooLong() bool {
	return r.Span() > MaxRangeDays
}

// Contains reports whether date falls within the range.
func (r DateRange) Contains(date string) bool {
	return date >= r.From && date <= r.To
}

// Previous returns the window of equal length that ends the day
// before From.
func (r DateRange) Previous() DateRange {
	if !r.Valid() {
		return DateRange{}
	}
	start, _ := time.Parse(dateLayout, r.From)
	n := r.Span()
	return DateRange{
		From: start.AddDate(0, 0, -n).Format(dateLayout),
		To:   start.AddDate(0, 0, -1).Format(dateLayout),
	}
}

// Label renders the range for report names and history entries.
func (r DateRange) Label() string {
	if r.From == r.To {
		return r.From
	}
	return r.From + " to " + r.To
}

// Spec is one filter selection. Values are never mutated in place;
// Apply returns a new Spec.
type Spec struct {
	Bots            BotSet    `json:"bots"`
	Range           DateRange `json:"date_range"`
	ComparePrevious bool      `json:"compare_previous"`
	Channel         Channel   `json:"channel"`
	Advanced        Advanced  `json:"advanced"`
}

// Default returns the initial selection: the given bots over the
// last days days ending at today, all channels, comparison on.
func Default(bots []string, today time.Time, days int) Spec {
	days = min(max(days, 1), MaxRangeDays)
	to := today.Format(dateLayout)
	from := today.AddDate(0, 0, -(days - 1)).Format(dateLayout)
	return Spec{
		Bots:            NewBotSet(bots...),
		Range:           DateRange{From: from, To: to},
		ComparePrevious: true,
		Channel:         ChannelAll,
	}
}

// InScope reports whether the selection can match any data. An
// empty bot selection means no data, never all bots. Ranges longer
// than MaxRangeDays are out of scope.
func (s Spec) InScope() bool {
	n := s.Range.Span()
	return !s.Bots.Empty() && n > 0 && n <= MaxRangeDays
}

// Key returns a canonical identity for the selection, suitable for
// logging and cache keys.
func (s Spec) Key() string {
	var b strings.Builder
	b.WriteString("bots=")
	b.WriteString(strings.Join(s.Bots.IDs(), ","))
	b.WriteString(";range=")
	b.WriteString(s.Range.From)
	b.WriteString("..")
	b.WriteString(s.Range.To)
	b.WriteString(";compare=")
	b.WriteString(strconv.FormatBool(s.ComparePrevious))
	b.WriteString(";channel=")
	b.WriteString(string(s.Channel))
	for _, k := range AdvancedKeys {
		if v := s.Advanced.Get(k); v != "" {
			b.WriteString(";")
			b.WriteString(string(k))
			b.WriteString("=")
			b.WriteString(v)
		}
	}
	return b.String()
}

// Patch is a partial update. Nil fields leave the current value
// in place. Bots replaces the whole selection. Advanced merges key
// by key; an empty string clears that key.
type Patch struct {
	Bots            *BotSet                `json:"bots,omitempty"`
	From            *string                `json:"from,omitempty"`
	To              *string                `json:"to,omitempty"`
	ComparePrevious *bool                  `json:"compare_previous,omitempty"`
	Channel         *Channel               `json:"channel,omitempty"`
	Advanced        map[AdvancedKey]string `json:"advanced,omitempty"`
}

// Apply returns the result of applying p to cur. It never fails:
// empty bots and inverted dates are carried through for consumers
// to treat as empty results.
func Apply(cur Spec, p Patch) Spec {
	next := cur
	if p.Bots != nil {
		next.Bots = *p.Bots
	}
	if p.From != nil {
		next.Range.From = *p.From
	}
	if p.To != nil {
		next.Range.To = *p.To
	}
	if p.ComparePrevious != nil {
		next.ComparePrevious = *p.ComparePrevious
	}
	if p.Channel != nil {
		next.Channel = *p.Channel
	}
	if len(p.Advanced) > 0 {
		next.Advanced = cur.Advanced.Merge(p.Advanced)
	}
	return next
}
