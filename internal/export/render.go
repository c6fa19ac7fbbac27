package export

import (
	"encoding/csv"
	"fmt"
	"html/template"
	"io"
	"strconv"

	"github.com/wesm/botsview/internal/derive"
	"github.com/wesm/botsview/internal/report"
)

// document is everything an export renders.
type document struct {
	Plan      report.Plan
	Range     string
	Bots      string
	CreatedBy string
	CreatedAt string
}

var funcs = template.FuncMap{
	"line":  floatCell,
	"deref": deref,
}

var pageTmpl = template.Must(template.New("report").Funcs(funcs).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Plan.Template}} ({{.Range}})</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; margin-bottom: 1em; }
td, th { border: 1px solid #ccc; padding: 4px 8px; text-align: left; }
@media print { section { page-break-inside: avoid; } }
</style>
</head>
<body>
<h1>{{.Plan.Template}}</h1>
<p>{{.Range}} &middot; {{.Bots}} &middot; channel {{.Plan.Filter.Channel}}</p>
<p>Generated {{.CreatedAt}} by {{.CreatedBy}}</p>
{{- if .Plan.Placeholder}}
<p>{{.Plan.Placeholder}}</p>
{{- end}}
{{- range .Plan.Blocks}}
<section>
<h2>{{.Title}}</h2>
<p>{{.Summary}}</p>
{{- if .KPIs}}
<table>
<tr><th>KPI</th><th>Value</th><th>Change</th></tr>
{{- range .KPIs}}
<tr><td>{{.Label}}</td><td>{{.Value}}</td><td>{{.Sign}} {{printf "%.1f" .DeltaPct}}%</td></tr>
{{- end}}
</table>
{{- end}}
{{- if .Trend}}
<table>
<tr><th>Date</th><th>Sessions</th></tr>
{{- range .Trend}}
<tr><td>{{.Date}}</td><td>{{line .Value}}</td></tr>
{{- end}}
</table>
{{- end}}
{{- with .Drivers}}
<table>
<tr><th>Tool</th><th>Failures</th><th>Timeouts</th><th>p95 ms</th></tr>
{{- range .Tools}}
<tr><td>{{.Name}}</td><td>{{.Failures}}</td><td>{{.Timeouts}}</td><td>{{printf "%.0f" .LatencyP95}}</td></tr>
{{- end}}
</table>
{{- end}}
{{- if .Sessions}}
<table>
<tr><th>Session</th><th>Channel</th><th>Intent</th><th>Outcome</th><th>Handoff</th></tr>
{{- range .Sessions}}
<tr><td>{{.ID}}</td><td>{{.Channel}}</td><td>{{.TopIntent}}</td><td>{{.Outcome}}</td><td>{{deref .HandoffReason}}</td></tr>
{{- end}}
</table>
{{- end}}
</section>
{{- end}}
</body>
</html>
`))

func writeHTML(w io.Writer, doc document) error {
	return pageTmpl.Execute(w, doc)
}

// csvHeader is the column layout of CSV exports. Every block
// contributes a summary row followed by one row per item.
var csvHeader = []string{"section", "item", "value", "detail"}

func writeCSV(w io.Writer, doc document) error {
	cw := csv.NewWriter(w)
	rows := [][]string{
		csvHeader,
		{"report", "template", doc.Plan.Template, ""},
		{"report", "date_range", doc.Range, ""},
		{"report", "bots", doc.Bots, ""},
		{"report", "created", doc.CreatedAt, doc.CreatedBy},
	}
	for _, b := range doc.Plan.Blocks {
		rows = append(rows, blockRows(b)...)
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("writing csv: %w", err)
	}
	return nil
}

func blockRows(b report.Block) [][]string {
	sec := string(b.Section)
	rows := [][]string{{sec, "summary", b.Summary, ""}}
	for _, k := range b.KPIs {
		rows = append(rows, []string{
			sec, k.Label, k.Value.String(),
			fmt.Sprintf("%s %.1f%%", k.Sign, k.DeltaPct),
		})
	}
	for _, p := range b.Trend {
		rows = append(rows, []string{sec, p.Date, floatCell(p.Value), ""})
	}
	if d := b.Drivers; d != nil {
		for _, v := range d.TopByVolume {
			rows = append(rows, []string{
				sec, v.Label, strconv.Itoa(v.Count), "volume",
			})
		}
		for _, v := range d.TopByEscalation {
			rows = append(rows, []string{
				sec, v.Label, fmt.Sprintf("%.1f%%", v.Rate), "escalation",
			})
		}
		for _, v := range d.NoMatchPages {
			rows = append(rows, []string{
				sec, v.Label, strconv.Itoa(v.Count), "no_match",
			})
		}
		for _, v := range d.Tools {
			rows = append(rows, []string{
				sec, v.Name,
				fmt.Sprintf("%d failures, %d timeouts", v.Failures, v.Timeouts),
				"tool",
			})
		}
	}
	if sp := b.Split; sp != nil {
		rows = append(rows, splitRows(sec, sp.Chat)...)
		rows = append(rows, splitRows(sec, sp.Voice)...)
	}
	for _, s := range b.Sessions {
		rows = append(rows, []string{
			sec, s.ID, s.Outcome, deref(s.HandoffReason),
		})
	}
	return rows
}

func splitRows(sec string, card *derive.SplitCard) [][]string {
	if card == nil {
		return nil
	}
	rows := make([][]string, 0, len(card.Metrics))
	for _, m := range card.Metrics {
		rows = append(rows, []string{
			sec, card.Title + ": " + m.Label, m.Value.String(),
			fmt.Sprintf("%s %.1f%%", m.Sign, m.DeltaPct),
		})
	}
	return rows
}

func floatCell(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
