// Package derive turns a filter selection and raw provider data
// into render-ready views. Every function is pure and fails soft:
// empty or out-of-scope input yields empty, non-nil output.
package derive

import (
	"cmp"
	"slices"

	"github.com/wesm/botsview/internal/catalog"
	"github.com/wesm/botsview/internal/filter"
	"github.com/wesm/botsview/internal/model"
)

// Sign is the direction of a delta. It carries no judgment.
type Sign string

const (
	SignUp   Sign = "up"
	SignDown Sign = "down"
)

// Classify returns SignUp for delta >= 0 and SignDown otherwise.
func Classify(delta float64) Sign {
	if delta >= 0 {
		return SignUp
	}
	return SignDown
}

// KPIView is a headline metric ready for a card.
type KPIView struct {
	ID       string             `json:"id"`
	Label    string             `json:"label"`
	Value    model.DisplayValue `json:"value"`
	DeltaPct float64            `json:"delta_pct"`
	Sign     Sign               `json:"sign"`
	// Polarity lets a renderer color the delta. It is never used
	// to flip Sign.
	Polarity catalog.Polarity `json:"polarity"`
	Trend    []float64        `json:"trend"`
	HasInfo  bool             `json:"has_info"`
}

// KPIs returns the metrics that apply to the selected channel, in
// provider order.
func KPIs(spec filter.Spec, metrics []model.KPIMetric) []KPIView {
	out := []KPIView{}
	if !spec.InScope() {
		return out
	}
	for _, m := range metrics {
		def, known := catalog.DefinitionByID(m.ID)
		if known && !def.AppliesTo(string(spec.Channel)) {
			continue
		}
		trend := slices.Clone(m.Trend)
		if trend == nil {
			trend = []float64{}
		}
		out = append(out, KPIView{
			ID:       m.ID,
			Label:    m.Label,
			Value:    m.Value,
			DeltaPct: m.DeltaPct,
			Sign:     Classify(m.DeltaPct),
			Polarity: catalog.PolarityOf(m.ID),
			Trend:    trend,
			HasInfo:  known || m.Info != nil,
		})
	}
	return out
}

// TrendView is one aligned trend chart.
type TrendView struct {
	ID     string             `json:"id"`
	Title  string             `json:"title"`
	Lines  []catalog.Line     `json:"lines"`
	Points []model.TrendPoint `json:"points"`
}

// AlignTrend maps raw points onto axis. Every output point carries
// its axis date in order. Only the requested keys are copied, and
// a key missing from the raw point stays missing rather than
// becoming zero. Duplicate raw dates keep the first occurrence.
func AlignTrend(
	axis []string, raw []model.TrendPoint, keys []model.LineKey,
) []model.TrendPoint {
	byDate := make(map[string]model.TrendPoint, len(raw))
	for _, p := range raw {
		if _, dup := byDate[p.Date]; !dup {
			byDate[p.Date] = p
		}
	}
	out := make([]model.TrendPoint, 0, len(axis))
	for _, date := range axis {
		pt := model.TrendPoint{Date: date}
		if src, ok := byDate[date]; ok {
			for _, k := range keys {
				if v := src.Line(k); v != nil {
					pt.SetLine(k, model.Ptr(*v))
				}
			}
		}
		out = append(out, pt)
	}
	return out
}

// Trends aligns every catalog chart onto the selected date range.
func Trends(
	spec filter.Spec, raw map[string][]model.TrendPoint,
) []TrendView {
	out := []TrendView{}
	if !spec.InScope() {
		return out
	}
	axis := spec.Range.Days()
	for _, c := range catalog.Charts() {
		out = append(out, TrendView{
			ID:     c.ID,
			Title:  c.Title,
			Lines:  c.Lines,
			Points: AlignTrend(axis, raw[c.ID], c.Keys()),
		})
	}
	return out
}

// Rank returns the top n items by key, descending. Ties keep input
// order. A negative n keeps everything.
func Rank[T any](in []T, n int, key func(T) float64) []T {
	out := slices.Clone(in)
	slices.SortStableFunc(out, func(a, b T) int {
		return cmp.Compare(key(b), key(a))
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	if out == nil {
		out = []T{}
	}
	return out
}

// DriverViews holds the ranked driver lists.
type DriverViews struct {
	TopByVolume     []model.VolumeDriver  `json:"top_by_volume"`
	TopByEscalation []model.RateDriver    `json:"top_by_escalation"`
	NoMatchPages    []model.NoMatchDriver `json:"no_match_pages"`
	Tools           []model.ToolDriver    `json:"tools"`
}

// Empty reports whether every list is empty.
func (d DriverViews) Empty() bool {
	return len(d.TopByVolume) == 0 && len(d.TopByEscalation) == 0 &&
		len(d.NoMatchPages) == 0 && len(d.Tools) == 0
}

// TopByVolume ranks intents by session count.
func TopByVolume(in []model.VolumeDriver, n int) []model.VolumeDriver {
	return Rank(in, n, func(d model.VolumeDriver) float64 {
		return float64(d.Count)
	})
}

// TopByRate ranks intents by rate.
func TopByRate(in []model.RateDriver, n int) []model.RateDriver {
	return Rank(in, n, func(d model.RateDriver) float64 {
		return d.Rate
	})
}

// TopNoMatch ranks pages by no-match count.
func TopNoMatch(in []model.NoMatchDriver, n int) []model.NoMatchDriver {
	return Rank(in, n, func(d model.NoMatchDriver) float64 {
		return float64(d.Count)
	})
}

// TopTools ranks tools by failures plus timeouts.
func TopTools(in []model.ToolDriver, n int) []model.ToolDriver {
	return Rank(in, n, func(d model.ToolDriver) float64 {
		return float64(d.Failures + d.Timeouts)
	})
}

// Drivers ranks every driver list to its catalog size.
func Drivers(spec filter.Spec, raw model.Drivers) DriverViews {
	if !spec.InScope() {
		raw = model.Drivers{}
	}
	return DriverViews{
		TopByVolume: TopByVolume(
			raw.Intents.TopByVolume, catalog.TopIntentsByVolume,
		),
		TopByEscalation: TopByRate(
			raw.Intents.TopByEscalation, catalog.TopIntentsByEscalation,
		),
		NoMatchPages: TopNoMatch(
			raw.Intents.NoMatchPages, catalog.TopNoMatchPages,
		),
		Tools: TopTools(raw.Tools, catalog.TopTools),
	}
}

// Drilldown keeps the records that match the selected bots,
// channel and attribute filters, in source order.
func Drilldown(
	spec filter.Spec, records []model.SessionRecord,
) []model.DrilldownRow {
	out := []model.DrilldownRow{}
	if !spec.InScope() {
		return out
	}
	for _, r := range records {
		if Matches(spec, r) {
			out = append(out, r.DrilldownRow)
		}
	}
	return out
}

// Matches reports whether a session record is in scope. A record
// without a bot is accepted on the bot check, since providers that
// filter server-side may omit it.
func Matches(spec filter.Spec, r model.SessionRecord) bool {
	if !spec.Channel.Includes(r.Channel) {
		return false
	}
	if r.Bot != "" && !spec.Bots.Contains(r.Bot) {
		return false
	}
	a := spec.Advanced
	if !matchField(a.Locale, r.Locale) ||
		!matchField(a.IntentGroup, r.IntentGroup) ||
		!matchField(a.Queue, r.Queue) ||
		!matchField(a.Campaign, r.Campaign) ||
		!matchField(a.ModelVersion, r.ModelVersion) {
		return false
	}
	if a.HandoffReason != "" {
		if r.HandoffReason == nil || *r.HandoffReason != a.HandoffReason {
			return false
		}
	}
	if a.Tool != "" && !slices.Contains(r.Tools, a.Tool) {
		return false
	}
	return true
}

func matchField(want, got string) bool {
	return want == "" || want == got
}
