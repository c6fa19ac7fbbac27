package db

import (
	"context"
	"fmt"
	"math"

	"github.com/wesm/botsview/internal/catalog"
	"github.com/wesm/botsview/internal/filter"
	"github.com/wesm/botsview/internal/model"
)

// SeriesValue is one pre-aggregated daily value for a bot and
// channel.
type SeriesValue struct {
	Bot     string  `json:"bot"`
	Channel string  `json:"channel"`
	Date    string  `json:"date"`
	Series  string  `json:"series"`
	Value   float64 `json:"value"`
}

// UpsertSeriesValue inserts or replaces a daily value.
func (db *DB) UpsertSeriesValue(ctx context.Context, v SeriesValue) error {
	if !(filter.DateRange{From: v.Date, To: v.Date}).Valid() {
		return fmt.Errorf("invalid series date %q", v.Date)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.writer.ExecContext(ctx, `
		INSERT INTO daily_series (bot, channel, date, series, value)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(bot, channel, date, series)
		DO UPDATE SET value = excluded.value`,
		v.Bot, v.Channel, v.Date, v.Series, v.Value)
	if err != nil {
		return fmt.Errorf(
			"upserting series %s/%s/%s: %w",
			v.Series, v.Bot, v.Date, err,
		)
	}
	return nil
}

// dayValues maps series -> date -> values from individual bots
// and channels.
type dayValues map[string]map[string][]float64

func (d dayValues) add(series, date string, v float64) {
	byDate, ok := d[series]
	if !ok {
		byDate = make(map[string][]float64)
		d[series] = byDate
	}
	byDate[date] = append(byDate[date], v)
}

func aggregate(series string, vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	if agg, _ := catalog.SeriesAggregation(series); agg == catalog.AggSum {
		return sum
	}
	return sum / float64(len(vals))
}

// daily combines one day's values for series.
func (d dayValues) daily(series, date string) (float64, bool) {
	vals := d[series][date]
	if len(vals) == 0 {
		return 0, false
	}
	return aggregate(series, vals), true
}

// period combines the daily values of series over rng: sums add
// up, everything else is averaged over days with data.
func (d dayValues) period(
	series string, rng filter.DateRange,
) (float64, bool) {
	var days []float64
	for _, date := range rng.Days() {
		if v, ok := d.daily(series, date); ok {
			days = append(days, v)
		}
	}
	if len(days) == 0 {
		return 0, false
	}
	return aggregate(series, days), true
}

// line returns the daily values of series along axis, skipping
// days without data.
func (d dayValues) line(series string, axis []string) []float64 {
	out := []float64{}
	for _, date := range axis {
		if v, ok := d.daily(series, date); ok {
			out = append(out, catalog.Round1(v))
		}
	}
	return out
}

// deltaPct is the relative change from prev to cur in percent,
// rounded to one decimal. A zero baseline has no defined change.
func deltaPct(cur, prev float64) float64 {
	if prev == 0 {
		return 0
	}
	return catalog.Round1((cur - prev) / math.Abs(prev) * 100)
}

// seriesSet is the in-scope daily data, combined and per channel.
type seriesSet struct {
	all       dayValues
	byChannel map[string]dayValues
}

func (db *DB) loadSeries(
	ctx context.Context, spec filter.Spec, from, to string,
) (seriesSet, error) {
	set := seriesSet{
		all: dayValues{},
		byChannel: map[string]dayValues{
			model.ChannelChat:  {},
			model.ChannelVoice: {},
		},
	}
	bots := spec.Bots.IDs()
	args := make([]any, 0, len(bots)+2)
	for _, b := range bots {
		args = append(args, b)
	}
	args = append(args, from, to)
	rows, err := db.reader.QueryContext(ctx, `
		SELECT channel, date, series, value FROM daily_series
		WHERE bot IN (`+inPlaceholders(len(bots))+`)
			AND date >= ? AND date <= ?`, args...)
	if err != nil {
		return set, fmt.Errorf("querying daily series: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			channel, date, series string
			value                 float64
		)
		if err := rows.Scan(&channel, &date, &series, &value); err != nil {
			return set, fmt.Errorf("scanning daily series: %w", err)
		}
		if !spec.Channel.Includes(channel) {
			continue
		}
		set.all.add(series, date, value)
		if ch, ok := set.byChannel[channel]; ok {
			ch.add(series, date, value)
		}
	}
	if err := rows.Err(); err != nil {
		return set, fmt.Errorf("iterating daily series: %w", err)
	}
	return set, nil
}

// FetchOverview computes the headline KPIs, the trend charts and
// the channel summaries for spec. When ComparePrevious is set,
// deltas compare against the equally long window before the
// range; otherwise they are zero.
func (db *DB) FetchOverview(
	ctx context.Context, spec filter.Spec,
) (model.Overview, error) {
	ov := model.Overview{
		KPIs:         []model.KPIMetric{},
		Trends:       map[string][]model.TrendPoint{},
		ChatSummary:  []model.SplitMetric{},
		VoiceSummary: []model.SplitMetric{},
	}
	if !spec.InScope() {
		return ov, nil
	}
	window := spec.Range
	from := window.From
	var prev filter.DateRange
	if spec.ComparePrevious {
		prev = window.Previous()
		from = prev.From
	}
	set, err := db.loadSeries(ctx, spec, from, window.To)
	if err != nil {
		return ov, err
	}
	axis := window.Days()

	for _, def := range catalog.Definitions() {
		if !def.AppliesTo(string(spec.Channel)) {
			continue
		}
		vals := make([]float64, 0, len(def.Series))
		for _, s := range def.Series {
			v, ok := set.all.period(s, window)
			if !ok {
				break
			}
			vals = append(vals, v)
		}
		if len(vals) == 0 {
			continue
		}
		info, _ := catalog.Lookup(def.ID)
		m := model.KPIMetric{
			ID:    def.ID,
			Label: def.Label,
			Value: def.Format(vals...),
			Trend: set.all.line(def.Series[0], axis),
			Info:  &info,
		}
		if spec.ComparePrevious {
			if p, ok := set.all.period(def.Series[0], prev); ok {
				m.DeltaPct = deltaPct(vals[0], p)
			}
		}
		ov.KPIs = append(ov.KPIs, m)
	}

	for _, c := range catalog.Charts() {
		pts := []model.TrendPoint{}
		for _, date := range axis {
			pt := model.TrendPoint{Date: date}
			found := false
			for _, l := range c.Lines {
				if v, ok := set.all.daily(l.Series, date); ok {
					pt.SetLine(l.Key, model.Ptr(catalog.Round1(v)))
					found = true
				}
			}
			if found {
				pts = append(pts, pt)
			}
		}
		ov.Trends[c.ID] = pts
	}

	ov.ChatSummary = splitSummary(
		set.byChannel[model.ChannelChat], model.ChannelChat, spec, prev,
	)
	ov.VoiceSummary = splitSummary(
		set.byChannel[model.ChannelVoice], model.ChannelVoice, spec, prev,
	)
	return ov, nil
}

func splitSummary(
	d dayValues, channel string, spec filter.Spec, prev filter.DateRange,
) []model.SplitMetric {
	out := []model.SplitMetric{}
	if !spec.Channel.Includes(channel) {
		return out
	}
	for _, l := range catalog.SplitLines(channel) {
		v, ok := d.period(l.Series, spec.Range)
		if !ok {
			continue
		}
		m := model.SplitMetric{
			Label: l.Label,
			Value: catalog.FormatUnit(l.Unit, v),
		}
		if spec.ComparePrevious {
			if p, ok := d.period(l.Series, prev); ok {
				m.DeltaPct = deltaPct(v, p)
			}
		}
		out = append(out, m)
	}
	return out
}
