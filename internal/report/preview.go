package report

import (
	"fmt"
	"math"
	"strings"

	"github.com/wesm/botsview/internal/catalog"
	"github.com/wesm/botsview/internal/derive"
	"github.com/wesm/botsview/internal/filter"
	"github.com/wesm/botsview/internal/model"
)

// Placeholder is shown when no sections are selected.
const Placeholder = "Select sections to render the preview."

const maxExcerptRows = 5

// Block is the content plan for one section.
type Block struct {
	Section  Section              `json:"section"`
	Title    string               `json:"title"`
	Summary  string               `json:"summary"`
	KPIs     []derive.KPIView     `json:"kpis,omitempty"`
	Trend    []model.TrendPoint   `json:"trend,omitempty"`
	Drivers  *derive.DriverViews  `json:"drivers,omitempty"`
	Split    *derive.SplitView    `json:"split,omitempty"`
	Sessions []model.DrilldownRow `json:"sessions,omitempty"`
}

// Plan is a section-by-section preview.
type Plan struct {
	Template     string      `json:"template"`
	OutputFormat Format      `json:"output_format"`
	Filter       filter.Spec `json:"filter"`
	Placeholder  string      `json:"placeholder,omitempty"`
	Blocks       []Block     `json:"blocks"`
}

var blockTitles = map[Section]string{
	SectionKPISummary:   "KPI summary",
	SectionTrends:       "Trend highlights",
	SectionDrivers:      "Drivers & risks",
	SectionChannelSplit: "Channel split",
	SectionDrilldown:    "Session drilldown",
}

// Preview plans one block per selected section, in selection
// order. views must be derived from spec.Filter(), not from the
// dashboard's live filters.
func Preview(spec Spec, views derive.Views) Plan {
	p := Plan{
		Template:     spec.Template,
		OutputFormat: spec.OutputFormat,
		Filter:       spec.Filter(),
		Blocks:       []Block{},
	}
	if spec.Sections.Len() == 0 {
		p.Placeholder = Placeholder
		return p
	}
	for _, s := range spec.Sections.Items() {
		p.Blocks = append(p.Blocks, buildBlock(s, views))
	}
	return p
}

func buildBlock(s Section, v derive.Views) Block {
	b := Block{Section: s, Title: blockTitles[s]}
	switch s {
	case SectionKPISummary:
		b.KPIs = v.KPIs
		b.Summary = kpiSummary(v.KPIs)
	case SectionTrends:
		b.Trend = trendExcerpt(v)
		b.Summary = trendSummary(b.Trend)
	case SectionDrivers:
		d := v.Drivers
		b.Drivers = &d
		b.Summary = driverSummary(d)
	case SectionChannelSplit:
		sp := v.Split
		b.Split = &sp
		b.Summary = splitSummary(sp)
	case SectionDrilldown:
		b.Sessions = v.Sessions[:min(len(v.Sessions), maxExcerptRows)]
		b.Summary = drilldownSummary(v.Sessions)
	}
	return b
}

func kpiSummary(kpis []derive.KPIView) string {
	if len(kpis) == 0 {
		return "No KPI data for this scope."
	}
	parts := make([]string, 0, 3)
	for _, k := range kpis[:min(len(kpis), 3)] {
		parts = append(parts, fmt.Sprintf(
			"%s %s (%s %.1f%%)",
			k.Label, k.Value, k.Sign, math.Abs(k.DeltaPct),
		))
	}
	return strings.Join(parts, "; ") + "."
}

// trendExcerpt returns the last days of the sessions chart, value
// line only.
func trendExcerpt(v derive.Views) []model.TrendPoint {
	chart, ok := v.Chart(catalog.ChartSessions)
	if !ok {
		return []model.TrendPoint{}
	}
	pts := chart.Points
	if len(pts) > catalog.TrendExcerptDays {
		pts = pts[len(pts)-catalog.TrendExcerptDays:]
	}
	out := make([]model.TrendPoint, len(pts))
	for i, p := range pts {
		out[i] = model.TrendPoint{Date: p.Date, Value: p.Value}
	}
	return out
}

func trendSummary(pts []model.TrendPoint) string {
	var lo, hi float64
	n := 0
	for _, p := range pts {
		if p.Value == nil {
			continue
		}
		if n == 0 || *p.Value < lo {
			lo = *p.Value
		}
		if n == 0 || *p.Value > hi {
			hi = *p.Value
		}
		n++
	}
	if n == 0 {
		return "No trend data for this scope."
	}
	return fmt.Sprintf(
		"Sessions ranged from %.0f to %.0f per day over %d days with data.",
		lo, hi, n,
	)
}

func driverSummary(d derive.DriverViews) string {
	if d.Empty() {
		return "No driver data for this scope."
	}
	var parts []string
	if len(d.TopByEscalation) > 0 {
		top := d.TopByEscalation[0]
		parts = append(parts, fmt.Sprintf(
			"%s intents drive escalations (%.0f%%)", top.Label, top.Rate,
		))
	}
	if len(d.Tools) > 0 {
		top := d.Tools[0]
		parts = append(parts, fmt.Sprintf(
			"%s leads tool failures (%d failures, %d timeouts)",
			top.Name, top.Failures, top.Timeouts,
		))
	}
	if len(d.NoMatchPages) > 0 {
		top := d.NoMatchPages[0]
		parts = append(parts, fmt.Sprintf(
			"%s has the most no-match events (%d)", top.Label, top.Count,
		))
	}
	if len(parts) == 0 {
		top := d.TopByVolume[0]
		parts = append(parts, fmt.Sprintf(
			"%s is the top intent by volume (%d)", top.Label, top.Count,
		))
	}
	return strings.Join(parts, "; ") + "."
}

func splitSummary(sp derive.SplitView) string {
	var parts []string
	for _, card := range []*derive.SplitCard{sp.Chat, sp.Voice} {
		if card == nil || len(card.Metrics) == 0 {
			continue
		}
		m := card.Metrics[0]
		parts = append(parts, fmt.Sprintf(
			"%s: %s %s (%s %.1f%%)",
			card.Title, strings.ToLower(m.Label), m.Value,
			m.Sign, math.Abs(m.DeltaPct),
		))
	}
	if len(parts) == 0 {
		return "No channel data for this scope."
	}
	return strings.Join(parts, "; ") + "."
}

func drilldownSummary(rows []model.DrilldownRow) string {
	if len(rows) == 0 {
		return "No sessions match this scope."
	}
	handoffs := 0
	reasons := make(map[string]int)
	for _, r := range rows {
		if r.HandoffReason != nil {
			handoffs++
			reasons[*r.HandoffReason]++
		}
	}
	s := fmt.Sprintf("%d sessions in scope, %d handed off.", len(rows), handoffs)
	if top, n := topReason(reasons); n > 0 {
		s += fmt.Sprintf(" Top handoff reason: %s (%d).", top, n)
	}
	return s
}

func topReason(counts map[string]int) (string, int) {
	var best string
	n := 0
	for k, c := range counts {
		if c > n || (c == n && k < best) {
			best, n = k, c
		}
	}
	return best, n
}

