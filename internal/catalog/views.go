package catalog

import "github.com/wesm/botsview/internal/model"

// Daily series ids. KPIs, trend charts and channel summaries are
// all computed from these.
const (
	SeriesSessions       = "sessions"
	SeriesResolved       = "resolved"
	SeriesContainment    = "containment"
	SeriesHandoff        = "handoff"
	SeriesAbandonment    = "abandonment"
	SeriesSLA            = "sla"
	SeriesChatResponse   = "chat_response_s"
	SeriesASA            = "asa_s"
	SeriesAHT            = "aht_s"
	SeriesToolSuccess    = "tool_success"
	SeriesWebhookTimeout = "webhook_timeout"
	SeriesMOS            = "mos"
	SeriesCSAT           = "csat"
	SeriesLatencyChat    = "latency_chat_ms"
	SeriesLatencyTool    = "latency_tool_ms"
	SeriesLatencyWebhook = "latency_webhook_ms"
)

var seriesAgg = map[string]Aggregation{
	SeriesSessions:       AggSum,
	SeriesResolved:       AggSum,
	SeriesContainment:    AggMean,
	SeriesHandoff:        AggMean,
	SeriesAbandonment:    AggMean,
	SeriesSLA:            AggMean,
	SeriesChatResponse:   AggMean,
	SeriesASA:            AggMean,
	SeriesAHT:            AggMean,
	SeriesToolSuccess:    AggMean,
	SeriesWebhookTimeout: AggMean,
	SeriesMOS:            AggMean,
	SeriesCSAT:           AggMean,
	SeriesLatencyChat:    AggMean,
	SeriesLatencyTool:    AggMean,
	SeriesLatencyWebhook: AggMean,
}

// SeriesAggregation returns how a series combines. ok is false for
// unknown series.
func SeriesAggregation(series string) (Aggregation, bool) {
	a, ok := seriesAgg[series]
	return a, ok
}

// KnownSeries reports whether series is registered.
func KnownSeries(series string) bool {
	_, ok := seriesAgg[series]
	return ok
}

// Line binds a chart line key to a daily series.
type Line struct {
	Key    model.LineKey `json:"key"`
	Label  string        `json:"label"`
	Series string        `json:"-"`
}

// Chart describes one trend chart.
type Chart struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Lines []Line `json:"lines"`
}

// Keys returns the line keys the chart declares.
func (c Chart) Keys() []model.LineKey {
	keys := make([]model.LineKey, len(c.Lines))
	for i, l := range c.Lines {
		keys[i] = l.Key
	}
	return keys
}

// Trend chart ids.
const (
	ChartSessions    = "sessions"
	ChartContainment = "containment"
	ChartSLA         = "sla"
	ChartLatency     = "latency"
)

var charts = []Chart{
	{ID: ChartSessions, Title: "Sessions + outcomes", Lines: []Line{
		{Key: model.LineValue, Label: "Sessions", Series: SeriesSessions},
		{Key: model.LineCompare, Label: "Resolved", Series: SeriesResolved},
	}},
	{ID: ChartContainment, Title: "Containment + handoff", Lines: []Line{
		{Key: model.LineValue, Label: "Containment", Series: SeriesContainment},
		{Key: model.LineCompare, Label: "Handoff", Series: SeriesHandoff},
	}},
	{ID: ChartSLA, Title: "SLA + abandonment", Lines: []Line{
		{Key: model.LineValue, Label: "SLA", Series: SeriesSLA},
		{Key: model.LineCompare, Label: "Abandonment", Series: SeriesAbandonment},
	}},
	{ID: ChartLatency, Title: "Latency p95 (chat/tool/webhook)", Lines: []Line{
		{Key: model.LineValue, Label: "Chat", Series: SeriesLatencyChat},
		{Key: model.LineCompare, Label: "Tool", Series: SeriesLatencyTool},
		{Key: model.LineSecondary, Label: "Webhook", Series: SeriesLatencyWebhook},
	}},
}

// Charts returns the trend charts in display order.
func Charts() []Chart {
	out := make([]Chart, len(charts))
	copy(out, charts)
	return out
}

// ChartByID returns the chart with the given id.
func ChartByID(id string) (Chart, bool) {
	for _, c := range charts {
		if c.ID == id {
			return c, true
		}
	}
	return Chart{}, false
}

// SplitLine is one metric of a per-channel summary card.
type SplitLine struct {
	Label  string
	Series string
	Unit   Unit
}

var splits = map[string][]SplitLine{
	model.ChannelChat: {
		{Label: "Volume", Series: SeriesSessions, Unit: UnitCount},
		{Label: "Containment", Series: SeriesContainment, Unit: UnitPercent},
		{Label: "SLA", Series: SeriesSLA, Unit: UnitPercent},
		{Label: "CSAT", Series: SeriesCSAT, Unit: UnitScore},
	},
	model.ChannelVoice: {
		{Label: "Volume", Series: SeriesSessions, Unit: UnitCount},
		{Label: "Containment", Series: SeriesContainment, Unit: UnitPercent},
		{Label: "SLA", Series: SeriesSLA, Unit: UnitPercent},
		{Label: "MOS", Series: SeriesMOS, Unit: UnitScore},
	},
}

// SplitLines returns the summary lines for a channel.
func SplitLines(channel string) []SplitLine {
	return splits[channel]
}

// Top-N sizes of the driver views.
const (
	TopIntentsByVolume     = 5
	TopIntentsByEscalation = 5
	TopNoMatchPages        = 3
	TopTools               = 3
)

// TrendExcerptDays bounds the trend excerpt in report previews.
const TrendExcerptDays = 7
