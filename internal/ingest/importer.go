// Package ingest loads JSONL session and daily series records into
// the local store and watches a directory for new files.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/wesm/botsview/internal/catalog"
	"github.com/wesm/botsview/internal/db"
	"github.com/wesm/botsview/internal/filter"
	"github.com/wesm/botsview/internal/metrics"
)

// Record kinds.
const (
	KindSession = "session"
	KindSeries  = "series"
	kindSkipped = "skipped"
)

// Extension is the file suffix the importer and watcher accept.
const Extension = ".jsonl"

// Store receives imported records.
type Store interface {
	UpsertSession(ctx context.Context, s db.SessionRow) error
	UpsertSeriesValue(ctx context.Context, v db.SeriesValue) error
}

// Result counts the outcome of an import.
type Result struct {
	Sessions int `json:"sessions"`
	Series   int `json:"series"`
	Skipped  int `json:"skipped"`
}

func (r *Result) add(o Result) {
	r.Sessions += o.Sessions
	r.Series += o.Series
	r.Skipped += o.Skipped
}

// Importer parses JSONL records and writes them to a Store.
// Malformed lines are logged and skipped; store failures abort.
type Importer struct {
	store   Store
	logger  zerolog.Logger
	metrics *metrics.Metrics
	maxLine int
}

// Option configures an Importer.
type Option func(*Importer)

// WithLogger sets the logger for skipped-line warnings.
func WithLogger(l zerolog.Logger) Option {
	return func(im *Importer) { im.logger = l }
}

// WithMetrics records imported counts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(im *Importer) { im.metrics = m }
}

// New creates an Importer writing to store.
func New(store Store, opts ...Option) *Importer {
	im := &Importer{
		store:   store,
		logger:  zerolog.Nop(),
		maxLine: maxLineLen,
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// ImportDir imports every .jsonl file directly under dir in name
// order.
func (im *Importer) ImportDir(ctx context.Context, dir string) (Result, error) {
	var total Result
	entries, err := os.ReadDir(dir)
	if err != nil {
		return total, fmt.Errorf("reading import dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !isImportFile(e.Name()) {
			continue
		}
		res, err := im.ImportFile(ctx, filepath.Join(dir, e.Name()))
		total.add(res)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ImportFile imports one JSONL file.
func (im *Importer) ImportFile(ctx context.Context, path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	return im.ImportReader(ctx, f, filepath.Base(path))
}

// ImportReader imports JSONL records from r. source names the
// input in log messages.
func (im *Importer) ImportReader(
	ctx context.Context, r io.Reader, source string,
) (Result, error) {
	var res Result
	defer func() {
		im.metrics.ObserveImport(KindSession, res.Sessions)
		im.metrics.ObserveImport(KindSeries, res.Series)
		im.metrics.ObserveImport(kindSkipped, res.Skipped)
	}()

	lr := newLineReader(r, im.maxLine)
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		line, lineNo, ok := lr.next()
		if !ok {
			break
		}
		n, err := im.importLine(ctx, line)
		if err != nil {
			var skip *skipError
			if !errors.As(err, &skip) {
				return res, fmt.Errorf("%s:%d: %w", source, lineNo, err)
			}
			res.Skipped++
			im.logger.Warn().
				Str("source", source).
				Int("line", lineNo).
				Str("reason", skip.reason).
				Msg("skipping import record")
			continue
		}
		res.Sessions += n.Sessions
		res.Series += n.Series
	}
	if err := lr.Err(); err != nil {
		return res, fmt.Errorf("reading %s: %w", source, err)
	}
	if lr.oversized > 0 {
		res.Skipped += lr.oversized
		im.logger.Warn().
			Str("source", source).
			Int("lines", lr.oversized).
			Int("limit", im.maxLine).
			Msg("skipped oversized import lines")
	}
	im.logger.Info().
		Str("source", source).
		Int("sessions", res.Sessions).
		Int("series", res.Series).
		Int("skipped", res.Skipped).
		Msg("import complete")
	return res, nil
}

// skipError marks a record that is malformed but does not stop
// the import.
type skipError struct{ reason string }

func (e *skipError) Error() string { return e.reason }

func skipf(format string, args ...any) error {
	return &skipError{reason: fmt.Sprintf(format, args...)}
}

func (im *Importer) importLine(ctx context.Context, line string) (Result, error) {
	if !gjson.Valid(line) {
		return Result{}, skipf("invalid JSON")
	}
	rec := gjson.Parse(line)
	if !rec.IsObject() {
		return Result{}, skipf("record is not an object")
	}
	switch kind := rec.Get("kind").String(); kind {
	case KindSession:
		row, err := parseSession(rec)
		if err != nil {
			return Result{}, err
		}
		if err := im.store.UpsertSession(ctx, row); err != nil {
			return Result{}, err
		}
		return Result{Sessions: 1}, nil
	case KindSeries:
		vals, err := parseSeries(rec)
		if err != nil {
			return Result{}, err
		}
		for _, v := range vals {
			if err := im.store.UpsertSeriesValue(ctx, v); err != nil {
				return Result{}, err
			}
		}
		return Result{Series: len(vals)}, nil
	case "":
		return Result{}, skipf("missing kind")
	default:
		return Result{}, skipf("unknown kind %q", kind)
	}
}

func recordChannel(rec gjson.Result) (string, error) {
	raw := rec.Get("channel").String()
	ch, err := filter.ParseChannel(raw)
	if err != nil || ch == filter.ChannelAll {
		return "", skipf("invalid channel %q", raw)
	}
	return string(ch), nil
}

func validDay(s string) bool {
	return filter.DateRange{From: s, To: s}.Valid()
}

func parseSession(rec gjson.Result) (db.SessionRow, error) {
	var row db.SessionRow
	id := rec.Get("id").String()
	bot := rec.Get("bot").String()
	startedAt := rec.Get("started_at").String()
	if id == "" || bot == "" {
		return row, skipf("session missing id or bot")
	}
	if len(startedAt) < 10 || !validDay(startedAt[:10]) {
		return row, skipf("session %s has invalid started_at %q", id, startedAt)
	}
	ch, err := recordChannel(rec)
	if err != nil {
		return row, err
	}

	toolCalls := rec.Get("tool_calls")
	row.ID = id
	row.Bot = bot
	row.Channel = ch
	row.StartedAt = startedAt
	row.EndedAt = rec.Get("ended_at").String()
	row.TopIntent = rec.Get("top_intent").String()
	row.IntentGroup = rec.Get("intent_group").String()
	row.Outcome = rec.Get("outcome").String()
	row.Locale = rec.Get("locale").String()
	row.Queue = rec.Get("queue").String()
	row.Campaign = rec.Get("campaign").String()
	row.ModelVersion = rec.Get("model_version").String()
	row.LatencyP95 = rec.Get("latency_p95").Float()

	if v := rec.Get("handoff_reason"); v.Type == gjson.String && v.Str != "" {
		s := v.Str
		row.HandoffReason = &s
	}
	if v := rec.Get("csat"); v.Type == gjson.Number {
		f := v.Num
		row.CSAT = &f
	}
	if v := rec.Get("tool_failures_count"); v.Exists() {
		row.ToolFailuresCount = int(v.Int())
	} else {
		row.ToolFailuresCount = failedCalls(toolCalls)
	}
	row.Tools = sessionTools(rec.Get("tools"), toolCalls)
	row.Detail = detailDoc(rec)
	return row, nil
}

func failedCalls(calls gjson.Result) int {
	n := 0
	for _, c := range calls.Array() {
		if c.Get("status").String() == "error" {
			n++
		}
	}
	return n
}

// sessionTools returns the explicit tools list, or the distinct
// tool call names in call order when the list is absent.
func sessionTools(tools, calls gjson.Result) []string {
	out := []string{}
	if tools.IsArray() {
		for _, t := range tools.Array() {
			if s := t.String(); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	for _, c := range calls.Array() {
		name := c.Get("name").String()
		if name != "" && !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	return out
}

var detailKeys = []string{"events", "tool_calls", "transcript", "errors"}

// detailDoc assembles the stored detail object from the record's
// array fields. Missing or non-array fields become empty arrays.
func detailDoc(rec gjson.Result) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range detailKeys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(`"` + k + `":`)
		if v := rec.Get(k); v.IsArray() {
			b.WriteString(v.Raw)
		} else {
			b.WriteString("[]")
		}
	}
	b.WriteByte('}')
	return b.String()
}

// parseSeries accepts either a single {"series","value"} pair or a
// "values" object keyed by series id.
func parseSeries(rec gjson.Result) ([]db.SeriesValue, error) {
	bot := rec.Get("bot").String()
	date := rec.Get("date").String()
	if bot == "" {
		return nil, skipf("series missing bot")
	}
	if !validDay(date) {
		return nil, skipf("series has invalid date %q", date)
	}
	ch, err := recordChannel(rec)
	if err != nil {
		return nil, err
	}
	base := db.SeriesValue{Bot: bot, Channel: ch, Date: date}

	if values := rec.Get("values"); values.IsObject() {
		var out []db.SeriesValue
		var bad error
		values.ForEach(func(k, v gjson.Result) bool {
			if !catalog.KnownSeries(k.String()) {
				bad = skipf("unknown series %q", k.String())
				return false
			}
			if v.Type != gjson.Number {
				bad = skipf("series %s value is not a number", k.String())
				return false
			}
			sv := base
			sv.Series = k.String()
			sv.Value = v.Num
			out = append(out, sv)
			return true
		})
		if bad != nil {
			return nil, bad
		}
		if len(out) == 0 {
			return nil, skipf("series record has no values")
		}
		return out, nil
	}

	series := rec.Get("series").String()
	if !catalog.KnownSeries(series) {
		return nil, skipf("unknown series %q", series)
	}
	v := rec.Get("value")
	if v.Type != gjson.Number {
		return nil, skipf("series %s value is not a number", series)
	}
	base.Series = series
	base.Value = v.Num
	return []db.SeriesValue{base}, nil
}

func isImportFile(name string) bool {
	return strings.HasSuffix(name, Extension) &&
		!strings.HasPrefix(name, ".")
}
