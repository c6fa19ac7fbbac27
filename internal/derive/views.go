package derive

import (
	"github.com/wesm/botsview/internal/filter"
	"github.com/wesm/botsview/internal/model"
)

// SplitMetricView is one line of a channel summary card.
type SplitMetricView struct {
	Label    string             `json:"label"`
	Value    model.DisplayValue `json:"value"`
	DeltaPct float64            `json:"delta_pct"`
	Sign     Sign               `json:"sign"`
}

// SplitCard is the summary for one channel.
type SplitCard struct {
	Title   string            `json:"title"`
	Metrics []SplitMetricView `json:"metrics"`
}

// SplitView holds the per-channel summaries. A card is nil when
// the channel filter excludes it.
type SplitView struct {
	Chat  *SplitCard `json:"chat"`
	Voice *SplitCard `json:"voice"`
}

// Split builds the chat and voice summary cards.
func Split(
	spec filter.Spec, chat, voice []model.SplitMetric,
) SplitView {
	var v SplitView
	if !spec.InScope() {
		return v
	}
	if spec.Channel.Includes(model.ChannelChat) {
		v.Chat = splitCard("Chat summary", chat)
	}
	if spec.Channel.Includes(model.ChannelVoice) {
		v.Voice = splitCard("Voice summary", voice)
	}
	return v
}

func splitCard(title string, in []model.SplitMetric) *SplitCard {
	card := &SplitCard{Title: title, Metrics: []SplitMetricView{}}
	for _, m := range in {
		card.Metrics = append(card.Metrics, SplitMetricView{
			Label:    m.Label,
			Value:    m.Value,
			DeltaPct: m.DeltaPct,
			Sign:     Classify(m.DeltaPct),
		})
	}
	return card
}

// Views is one consistent snapshot of every derived view for a
// single filter selection.
type Views struct {
	Filter   filter.Spec          `json:"filter"`
	KPIs     []KPIView            `json:"kpis"`
	Trends   []TrendView          `json:"trends"`
	Split    SplitView            `json:"split"`
	Drivers  DriverViews          `json:"drivers"`
	Sessions []model.DrilldownRow `json:"sessions"`
}

// Build derives every view from one set of provider payloads.
func Build(
	spec filter.Spec,
	overview model.Overview,
	drivers model.Drivers,
	sessions []model.SessionRecord,
) Views {
	return Views{
		Filter:   spec,
		KPIs:     KPIs(spec, overview.KPIs),
		Trends:   Trends(spec, overview.Trends),
		Split:    Split(spec, overview.ChatSummary, overview.VoiceSummary),
		Drivers:  Drivers(spec, drivers),
		Sessions: Drilldown(spec, sessions),
	}
}

// Empty builds the views for a selection before any data arrives.
func Empty(spec filter.Spec) Views {
	return Build(spec, model.Overview{}, model.Drivers{}, nil)
}

// HasSession reports whether id is a row of the drilldown.
func (v Views) HasSession(id string) bool {
	for _, r := range v.Sessions {
		if r.ID == id {
			return true
		}
	}
	return false
}

// Chart returns the trend view with the given id.
func (v Views) Chart(id string) (TrendView, bool) {
	for _, t := range v.Trends {
		if t.ID == id {
			return t, true
		}
	}
	return TrendView{}, false
}

// IsEmpty reports whether the snapshot has no data at all.
func (v Views) IsEmpty() bool {
	return len(v.KPIs) == 0 && len(v.Sessions) == 0 && v.Drivers.Empty()
}

// KPIByID returns the KPI view with the given id.
func (v Views) KPIByID(id string) (KPIView, bool) {
	for _, k := range v.KPIs {
		if k.ID == id {
			return k, true
		}
	}
	return KPIView{}, false
}
