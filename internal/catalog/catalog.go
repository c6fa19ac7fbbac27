// Package catalog is the static registry of KPI definitions,
// daily series, trend charts and driver views.
package catalog

import (
	"fmt"
	"math"
	"slices"

	"github.com/wesm/botsview/internal/model"
)

// Unit controls how a raw value is rendered for display.
type Unit int

const (
	UnitCount Unit = iota
	UnitPercent
	UnitDuration    // seconds rendered as "5m 42s"
	UnitScore       // one decimal, no suffix
	UnitSecondsPair // chat seconds and voice seconds, "1.8s / 24s"
	UnitMillis
)

// Aggregation says how daily values combine across days, bots
// and channels.
type Aggregation int

const (
	AggSum Aggregation = iota
	AggMean
)

// Polarity records whether a rising value is good news. The
// derivation layer reports it next to the delta sign but never
// folds it into the sign.
type Polarity string

const (
	HigherIsBetter Polarity = "higher_is_better"
	LowerIsBetter  Polarity = "lower_is_better"
	Neutral        Polarity = "neutral"
)

// Definition describes one headline KPI.
type Definition struct {
	ID       string
	Label    string
	Info     model.KPIInfo
	Unit     Unit
	Polarity Polarity
	// Series lists the daily series the value is computed from.
	// The first series drives the delta and the sparkline.
	Series []string
	// Channels the KPI applies to; empty means every channel.
	Channels []string
}

// AppliesTo reports whether the KPI is meaningful for channel.
// "all" and "" match every KPI.
func (d Definition) AppliesTo(channel string) bool {
	if channel == "" || channel == "all" || len(d.Channels) == 0 {
		return true
	}
	return slices.Contains(d.Channels, channel)
}

// Format renders aggregated series values. values must line up
// with d.Series.
func (d Definition) Format(values ...float64) model.DisplayValue {
	return FormatUnit(d.Unit, values...)
}

// Round1 rounds v to one decimal place, halves away from zero.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// FormatUnit renders values for unit u.
func FormatUnit(u Unit, values ...float64) model.DisplayValue {
	if len(values) == 0 {
		return model.Text("n/a")
	}
	v := values[0]
	switch u {
	case UnitCount:
		return model.Number(math.Round(v))
	case UnitPercent:
		return model.Text(fmt.Sprintf("%.1f%%", Round1(v)))
	case UnitDuration:
		secs := int(math.Round(v))
		return model.Text(fmt.Sprintf("%dm %02ds", secs/60, secs%60))
	case UnitScore:
		return model.Text(fmt.Sprintf("%.1f", Round1(v)))
	case UnitSecondsPair:
		if len(values) < 2 {
			return model.Text(fmt.Sprintf("%.1fs", Round1(v)))
		}
		return model.Text(fmt.Sprintf(
			"%.1fs / %.0fs", Round1(v), math.Round(values[1]),
		))
	case UnitMillis:
		return model.Text(fmt.Sprintf("%.0fms", math.Round(v)))
	}
	return model.Number(v)
}

var definitions = []Definition{
	{
		ID:    "total_sessions",
		Label: "Total Sessions/Calls",
		Info: model.KPIInfo{
			Definition: "Total inbound sessions and voice calls in the period.",
			Formula:    "Count(session_id) + Count(call_id)",
			Notes:      "Deduplicated by session_id/call_id.",
			Sources:    []string{"sessions", "voice_calls"},
		},
		Unit:     UnitCount,
		Polarity: Neutral,
		Series:   []string{SeriesSessions},
	},
	{
		ID:    "containment",
		Label: "Containment %",
		Info: model.KPIInfo{
			Definition: "Percent of sessions resolved without human handoff.",
			Formula:    "1 - (handoff_sessions / total_sessions)",
			Notes:      "Voice includes agent transfers.",
			Sources:    []string{"sessions.outcome", "handoffs"},
		},
		Unit:     UnitPercent,
		Polarity: HigherIsBetter,
		Series:   []string{SeriesContainment},
	},
	{
		ID:    "handoff",
		Label: "Handoff %",
		Info: model.KPIInfo{
			Definition: "Percent of sessions requiring human handoff.",
			Formula:    "handoff_sessions / total_sessions",
			Notes:      "Includes queue transfers.",
			Sources:    []string{"handoffs"},
		},
		Unit:     UnitPercent,
		Polarity: LowerIsBetter,
		Series:   []string{SeriesHandoff},
	},
	{
		ID:    "abandonment",
		Label: "Abandonment %",
		Info: model.KPIInfo{
			Definition: "Sessions ending before a valid outcome.",
			Formula:    "abandoned_sessions / total_sessions",
			Notes:      "Triggered after 60s inactivity.",
			Sources:    []string{"sessions"},
		},
		Unit:     UnitPercent,
		Polarity: LowerIsBetter,
		Series:   []string{SeriesAbandonment},
	},
	{
		ID:    "sla",
		Label: "SLA %",
		Info: model.KPIInfo{
			Definition: "Percent of sessions meeting SLA targets.",
			Formula:    "sessions_meeting_sla / total_sessions",
			Notes:      "SLA differs by channel.",
			Sources:    []string{"sla"},
		},
		Unit:     UnitPercent,
		Polarity: HigherIsBetter,
		Series:   []string{SeriesSLA},
	},
	{
		ID:    "avg_response",
		Label: "Avg Response Time / ASA",
		Info: model.KPIInfo{
			Definition: "Chat response time and voice ASA.",
			Formula:    "avg(chat_response_ms), avg(asa_seconds)",
			Notes:      "Computed separately then combined.",
			Sources:    []string{"chat_responses", "voice_queue"},
		},
		Unit:     UnitSecondsPair,
		Polarity: LowerIsBetter,
		Series:   []string{SeriesChatResponse, SeriesASA},
	},
	{
		ID:    "aht",
		Label: "AHT",
		Info: model.KPIInfo{
			Definition: "Average handle time for voice sessions.",
			Formula:    "sum(handle_time) / call_count",
			Notes:      "Excludes transfers.",
			Sources:    []string{"voice_calls"},
		},
		Unit:     UnitDuration,
		Polarity: LowerIsBetter,
		Series:   []string{SeriesAHT},
		Channels: []string{model.ChannelVoice},
	},
	{
		ID:    "tool_success",
		Label: "Tool Success %",
		Info: model.KPIInfo{
			Definition: "Percent of tool calls with success status.",
			Formula:    "successful_tool_calls / total_tool_calls",
			Notes:      "Timeouts count as failures.",
			Sources:    []string{"tool_calls"},
		},
		Unit:     UnitPercent,
		Polarity: HigherIsBetter,
		Series:   []string{SeriesToolSuccess},
	},
	{
		ID:    "webhook_timeout",
		Label: "Webhook Timeout %",
		Info: model.KPIInfo{
			Definition: "Share of webhook calls timing out.",
			Formula:    "webhook_timeouts / webhook_calls",
			Notes:      "Timeout threshold 5s.",
			Sources:    []string{"webhook_calls"},
		},
		Unit:     UnitPercent,
		Polarity: LowerIsBetter,
		Series:   []string{SeriesWebhookTimeout},
	},
	{
		ID:    "mos",
		Label: "Voice MOS avg",
		Info: model.KPIInfo{
			Definition: "Mean opinion score across voice sessions.",
			Formula:    "avg(mos_score)",
			Notes:      "Range 1-5.",
			Sources:    []string{"voice_quality"},
		},
		Unit:     UnitScore,
		Polarity: HigherIsBetter,
		Series:   []string{SeriesMOS},
		Channels: []string{model.ChannelVoice},
	},
}

var byID = func() map[string]int {
	m := make(map[string]int, len(definitions))
	for i, d := range definitions {
		m[d.ID] = i
	}
	return m
}()

// Definitions returns every KPI in display order.
func Definitions() []Definition {
	return slices.Clone(definitions)
}

// DefinitionByID returns the KPI with the given id.
func DefinitionByID(id string) (Definition, bool) {
	i, ok := byID[id]
	if !ok {
		return Definition{}, false
	}
	return definitions[i], true
}

// Lookup returns the info block for a KPI. ok is false when the id
// is unknown, which callers render as "no info available".
func Lookup(id string) (model.KPIInfo, bool) {
	d, ok := DefinitionByID(id)
	if !ok {
		return model.KPIInfo{}, false
	}
	info := d.Info
	info.Sources = slices.Clone(info.Sources)
	return info, true
}

// PolarityOf returns the polarity of a KPI, or Neutral when the id
// is unknown.
func PolarityOf(id string) Polarity {
	if d, ok := DefinitionByID(id); ok {
		return d.Polarity
	}
	return Neutral
}
