package db

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/tidwall/gjson"
	"github.com/wesm/botsview/internal/catalog"
	"github.com/wesm/botsview/internal/derive"
	"github.com/wesm/botsview/internal/filter"
	"github.com/wesm/botsview/internal/model"
)

// Event types and tool call statuses read from session detail.
const (
	eventNoMatch  = "no_match"
	statusError   = "error"
	statusTimeout = "timeout"
)

// percentileFloat returns the value at the given percentile
// from a pre-sorted float64 slice.
func percentileFloat(sorted []float64, pct float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(float64(n) * pct)
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

// intentAcc accumulates per-intent counts in first-seen order.
type intentAcc struct {
	order    []string
	total    map[string]int
	handoffs map[string]int
}

func (a *intentAcc) add(intent string, handedOff bool) {
	if intent == "" {
		return
	}
	if _, ok := a.total[intent]; !ok {
		a.order = append(a.order, intent)
	}
	a.total[intent]++
	if handedOff {
		a.handoffs[intent]++
	}
}

// toolAcc accumulates tool call outcomes and latencies.
type toolAcc struct {
	failures  int
	timeouts  int
	latencies []float64
}

// FetchDrivers computes the intent and tool driver lists from the
// sessions in scope, including advanced filters. The lists are
// unranked; ranking and truncation belong to the derivation
// layer.
func (db *DB) FetchDrivers(
	ctx context.Context, spec filter.Spec,
) (model.Drivers, error) {
	out := model.Drivers{
		Intents: model.IntentDrivers{
			TopByVolume:     []model.VolumeDriver{},
			TopByEscalation: []model.RateDriver{},
			NoMatchPages:    []model.NoMatchDriver{},
		},
		Tools: []model.ToolDriver{},
	}
	if !spec.InScope() {
		return out, nil
	}
	where, args := scopeWhere(spec)
	rows, err := db.reader.QueryContext(ctx,
		"SELECT "+sessionRecordCols+", detail FROM sessions WHERE "+
			where+" ORDER BY started_at, id", args...)
	if err != nil {
		return out, fmt.Errorf("querying driver sessions: %w", err)
	}
	defer rows.Close()

	intents := intentAcc{
		total:    make(map[string]int),
		handoffs: make(map[string]int),
	}
	noMatch := make(map[string]int)
	var noMatchOrder []string
	tools := make(map[string]*toolAcc)
	var toolOrder []string
	sessions := 0

	for rows.Next() {
		var doc string
		r, err := scanSessionRecord(scanWithDetail{rows, &doc})
		if err != nil {
			return out, fmt.Errorf("scanning driver session: %w", err)
		}
		if !derive.Matches(spec, r) {
			continue
		}
		sessions++
		intents.add(r.TopIntent, r.HandoffReason != nil)

		detail := gjson.Parse(doc)
		for _, page := range detail.Get(
			`events.#(type=="` + eventNoMatch + `")#.detail`,
		).Array() {
			label := page.String()
			if label == "" {
				continue
			}
			if _, ok := noMatch[label]; !ok {
				noMatchOrder = append(noMatchOrder, label)
			}
			noMatch[label]++
		}
		detail.Get("tool_calls").ForEach(func(_, v gjson.Result) bool {
			name := v.Get("name").String()
			if name == "" {
				return true
			}
			acc, ok := tools[name]
			if !ok {
				acc = &toolAcc{}
				tools[name] = acc
				toolOrder = append(toolOrder, name)
			}
			switch v.Get("status").String() {
			case statusError:
				acc.failures++
			case statusTimeout:
				acc.timeouts++
			}
			if ms := v.Get("latency_ms"); ms.Exists() {
				acc.latencies = append(acc.latencies, ms.Float())
			}
			return true
		})
	}
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("iterating driver sessions: %w", err)
	}

	for _, name := range intents.order {
		n := intents.total[name]
		out.Intents.TopByVolume = append(out.Intents.TopByVolume,
			model.VolumeDriver{Label: name, Count: n})
		if h := intents.handoffs[name]; h > 0 {
			out.Intents.TopByEscalation = append(
				out.Intents.TopByEscalation,
				model.RateDriver{
					Label: name,
					Rate:  catalog.Round1(float64(h) / float64(n) * 100),
				})
		}
	}
	for _, label := range noMatchOrder {
		n := noMatch[label]
		out.Intents.NoMatchPages = append(out.Intents.NoMatchPages,
			model.NoMatchDriver{
				Label: label,
				Count: n,
				Rate:  catalog.Round1(float64(n) / float64(sessions) * 100),
			})
	}
	for _, name := range toolOrder {
		acc := tools[name]
		lat := slices.Clone(acc.latencies)
		sort.Float64s(lat)
		out.Tools = append(out.Tools, model.ToolDriver{
			Name:       name,
			Failures:   acc.failures,
			Timeouts:   acc.timeouts,
			LatencyP95: percentileFloat(lat, 0.95),
		})
	}
	return out, nil
}

// scanWithDetail appends the detail column to a session record
// scan.
type scanWithDetail struct {
	rs  rowScanner
	doc *string
}

func (s scanWithDetail) Scan(dest ...any) error {
	return s.rs.Scan(append(dest, s.doc)...)
}
