package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wesm/botsview/internal/config"
	"github.com/wesm/botsview/internal/dashboard"
	"github.com/wesm/botsview/internal/db"
	"github.com/wesm/botsview/internal/export"
	"github.com/wesm/botsview/internal/filter"
	"github.com/wesm/botsview/internal/metrics"
	"github.com/wesm/botsview/internal/model"
	"github.com/wesm/botsview/internal/report"
)

var testRange = filter.DateRange{From: "2026-01-20", To: "2026-01-21"}

// testEnv is a server over a seeded temporary database.
type testEnv struct {
	srv     *Server
	handler http.Handler
	db      *db.DB
	builder *report.Builder
	history *report.History
	metrics *metrics.Metrics
}

type setupOption func(*setupConfig)

type setupConfig struct {
	cfg      config.Config
	exporter report.Exporter
}

func withWriteTimeout(d time.Duration) setupOption {
	return func(c *setupConfig) { c.cfg.WriteTimeout = d }
}

func withExporter(e report.Exporter) setupOption {
	return func(c *setupConfig) { c.exporter = e }
}

func setup(t *testing.T, opts ...setupOption) *testEnv {
	t.Helper()
	dir := t.TempDir()
	database, err := db.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	seed(t, database)

	sc := setupConfig{cfg: config.Config{
		Host:         "127.0.0.1",
		WriteTimeout: 30 * time.Second,
	}}
	for _, opt := range opts {
		opt(&sc)
	}

	m := metrics.New()
	initial := filter.Spec{
		Bots:    filter.NewBotSet("atlas"),
		Range:   testRange,
		Channel: filter.ChannelAll,
	}
	dash := dashboard.New(database, initial, dashboard.WithMetrics(m))
	files, err := export.NewFileService(filepath.Join(dir, "exports"), dash)
	require.NoError(t, err)
	exporter := sc.exporter
	if exporter == nil {
		exporter = files
	}
	hist := report.NewHistory(database)
	builder := report.NewBuilder(
		report.DefaultSpec([]string{"atlas"}, testRange),
		exporter, hist, report.WithTimeout(5*time.Second),
	)

	srv := New(sc.cfg, zerolog.Nop(), Dependencies{
		Dashboard: dash,
		Builder:   builder,
		History:   hist,
		Downloads: files,
		Metrics:   m,
	}, WithVersion(VersionInfo{Version: "1.2.3", Commit: "abc123"}))

	return &testEnv{
		srv:     srv,
		handler: srv.Handler(),
		db:      database,
		builder: builder,
		history: hist,
		metrics: m,
	}
}

func seed(t *testing.T, d *db.DB) {
	t.Helper()
	ctx := context.Background()
	for _, v := range []db.SeriesValue{
		{Bot: "atlas", Channel: "chat", Date: "2026-01-20", Series: "sessions", Value: 120},
		{Bot: "atlas", Channel: "chat", Date: "2026-01-21", Series: "sessions", Value: 130},
		{Bot: "atlas", Channel: "chat", Date: "2026-01-20", Series: "containment", Value: 68},
	} {
		require.NoError(t, d.UpsertSeriesValue(ctx, v))
	}
	reason := "Complex request"
	for _, s := range []db.SessionRow{
		{SessionRecord: model.SessionRecord{
			DrilldownRow: model.DrilldownRow{ID: "S-1", Channel: "chat", TopIntent: "Billing", Outcome: "resolved"},
			Bot:          "atlas", StartedAt: "2026-01-20T09:00:00Z", Queue: "Tier 1",
		}, Detail: `{"transcript":[{"speaker":"user","text":"hi"}]}`},
		{SessionRecord: model.SessionRecord{
			DrilldownRow: model.DrilldownRow{ID: "S-2", Channel: "voice", TopIntent: "Cancel", Outcome: "handoff", HandoffReason: &reason},
			Bot:          "atlas", StartedAt: "2026-01-21T10:00:00Z", Queue: "Tier 2",
		}},
	} {
		require.NoError(t, d.UpsertSession(ctx, s))
	}
}

func (te *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		buf, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, rd)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	te.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type snapshotBody struct {
	Status string `json:"status"`
	Filter struct {
		Bots     []string          `json:"bots"`
		Channel  string            `json:"channel"`
		Advanced map[string]string `json:"advanced"`
	} `json:"filter"`
	Views struct {
		KPIs []struct {
			ID string `json:"id"`
		} `json:"kpis"`
		Sessions []struct {
			ID string `json:"id"`
		} `json:"sessions"`
	} `json:"views"`
	Error string `json:"error"`
}

func (s snapshotBody) sessionIDs() []string {
	ids := []string{}
	for _, r := range s.Views.Sessions {
		ids = append(ids, r.ID)
	}
	return ids
}

type builderBody struct {
	State string `json:"state"`
	Spec  struct {
		Template     string   `json:"template"`
		Sections     []string `json:"sections"`
		OutputFormat string   `json:"output_format"`
	} `json:"spec"`
	Error string `json:"error"`
}

func TestFiltersRoundTrip(t *testing.T) {
	te := setup(t)

	w := te.do(t, http.MethodGet, "/api/v1/filters", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"bots":["atlas"]`)

	w = te.do(t, http.MethodPatch, "/api/v1/filters", map[string]any{
		"channel":       "all",
		"advanced_expr": `queue="Tier 2"`,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	snap := decode[snapshotBody](t, w)
	assert.Equal(t, "ready", snap.Status)
	assert.Equal(t, "Tier 2", snap.Filter.Advanced["queue"])
	assert.Equal(t, []string{"S-2"}, snap.sessionIDs())

	w = te.do(t, http.MethodGet, "/api/v1/dashboard", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"S-2"}, decode[snapshotBody](t, w).sessionIDs())
}

func TestPatchFiltersEmptyBotsIsEmptyNotError(t *testing.T) {
	te := setup(t)
	w := te.do(t, http.MethodPatch, "/api/v1/filters", `{"bots":[]}`)
	require.Equal(t, http.StatusOK, w.Code)
	snap := decode[snapshotBody](t, w)
	assert.Equal(t, "ready", snap.Status)
	assert.Empty(t, snap.Views.KPIs)
	assert.Empty(t, snap.sessionIDs())
}

func TestPatchFiltersValidation(t *testing.T) {
	te := setup(t)
	tests := []struct {
		name string
		body string
	}{
		{"bad date", `{"from":"20-01-2026"}`},
		{"bad channel", `{"channel":"fax"}`},
		{"bad expression", `{"advanced_expr":"queue=\"Tier 2"}`},
		{"unknown advanced key", `{"advanced":{"color":"red"}}`},
		{"unknown field", `{"bots":["atlas"],"extra":1}`},
		{"malformed", `{"bots":`},
		{"all of time", `{"from":"0001-01-01","to":"9999-12-31"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := te.do(t, http.MethodPatch, "/api/v1/filters", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		})
	}
}

func TestRefreshAndSessionDetail(t *testing.T) {
	te := setup(t)

	w := te.do(t, http.MethodGet, "/api/v1/sessions/S-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "nothing in scope before the first load")

	w = te.do(t, http.MethodPost, "/api/v1/dashboard/refresh", nil)
	require.Equal(t, http.StatusOK, w.Code)
	snap := decode[snapshotBody](t, w)
	assert.Equal(t, []string{"S-1", "S-2"}, snap.sessionIDs())

	w = te.do(t, http.MethodGet, "/api/v1/sessions/S-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[model.SessionDetail](t, w)
	assert.True(t, detail.TranscriptAvailable())
	assert.NotNil(t, detail.Errors)

	w = te.do(t, http.MethodGet, "/api/v1/sessions/S-404", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestKPIInfo(t *testing.T) {
	te := setup(t)

	w := te.do(t, http.MethodGet, "/api/v1/kpis/containment/info", nil)
	require.Equal(t, http.StatusOK, w.Code)
	info := decode[model.KPIInfo](t, w)
	assert.NotEmpty(t, info.Definition)
	assert.NotEmpty(t, info.Formula)

	w = te.do(t, http.MethodGet, "/api/v1/kpis/no_such_metric/info", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReportBuilderFlow(t *testing.T) {
	te := setup(t)

	w := te.do(t, http.MethodGet, "/api/v1/reports/builder", nil)
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[builderBody](t, w)
	assert.Equal(t, "draft", st.State)
	assert.Equal(t, []string{"KPI summary", "Trends", "Drivers"}, st.Spec.Sections)

	w = te.do(t, http.MethodPatch, "/api/v1/reports/builder", map[string]any{
		"template":      "Ops Daily",
		"output_format": "csv",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	st = decode[builderBody](t, w)
	assert.Equal(t, "Ops Daily", st.Spec.Template)
	assert.Equal(t, "csv", st.Spec.OutputFormat)

	w = te.do(t, http.MethodPost, "/api/v1/reports/builder/sections",
		map[string]string{"section": "Session drilldown"})
	require.Equal(t, http.StatusOK, w.Code)
	st = decode[builderBody](t, w)
	assert.Equal(t, []string{"KPI summary", "Trends", "Drivers", "Session drilldown"}, st.Spec.Sections)

	w = te.do(t, http.MethodGet, "/api/v1/reports/preview", nil)
	require.Equal(t, http.StatusOK, w.Code)
	plan := decode[report.Plan](t, w)
	require.Len(t, plan.Blocks, 4)
	assert.Equal(t, report.SectionDrilldown, plan.Blocks[3].Section)

	w = te.do(t, http.MethodPost, "/api/v1/reports/generate", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	require.Eventually(t, func() bool {
		return te.builder.Status().State == report.StateGenerated
	}, 5*time.Second, 10*time.Millisecond)

	w = te.do(t, http.MethodGet, "/api/v1/reports/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	hist := decode[[]model.ReportEntry](t, w)
	require.Len(t, hist, 1)
	assert.Equal(t, "Ops Daily", hist[0].Name)
	assert.Equal(t, "2026-01-20 to 2026-01-21", hist[0].DateRangeLabel)
	require.NotEmpty(t, hist[0].Downloads.CSV)

	w = te.do(t, http.MethodGet, "/api/v1/reports/downloads/"+hist[0].Downloads.CSV, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	assert.True(t, strings.HasPrefix(w.Body.String(), "section,item,value,detail"))

	// History survives a restart of the process.
	reloaded, err := report.LoadHistory(context.Background(), te.db)
	require.NoError(t, err)
	assert.Equal(t, hist, reloaded.List())

	w = te.do(t, http.MethodPost, "/api/v1/reports/builder/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "draft", decode[builderBody](t, w).State)
}

func TestPatchFiltersRangeLimit(t *testing.T) {
	te := setup(t)

	// Moving only the start extends the current range past the limit.
	w := te.do(t, http.MethodPatch, "/api/v1/filters", `{"from":"2025-01-20"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "at most 366 days")
	assert.Equal(t, testRange, te.srv.deps.Dashboard.Filter().Range)

	w = te.do(t, http.MethodPatch, "/api/v1/filters", `{"from":"2025-01-21"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := te.srv.deps.Dashboard.Filter().Range
	assert.Equal(t, filter.DateRange{From: "2025-01-21", To: "2026-01-21"}, got)
	assert.Equal(t, filter.MaxRangeDays, got.Span())
}

func TestPatchBuilderValidation(t *testing.T) {
	te := setup(t)
	tests := []struct {
		name string
		body string
	}{
		{"unknown template", `{"template":"Quarterly"}`},
		{"bad format", `{"output_format":"docx"}`},
		{"bad channel", `{"scope":{"channel":"fax"}}`},
		{"inverted range", `{"scope":{"date_range":{"from":"2026-01-26","to":"2026-01-20"}}}`},
		{"range too long", `{"scope":{"date_range":{"from":"2024-01-01","to":"2025-01-01"}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := te.do(t, http.MethodPatch, "/api/v1/reports/builder", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
	// A rejected patch applies nothing.
	st := te.builder.Status()
	assert.Equal(t, report.Templates[0], st.Spec.Template)
	assert.Equal(t, report.FormatPDF, st.Spec.OutputFormat)

	w := te.do(t, http.MethodPost, "/api/v1/reports/builder/sections",
		map[string]string{"section": "Appendix"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGenerateWithoutSections(t *testing.T) {
	te := setup(t)
	for _, s := range []string{"KPI summary", "Trends", "Drivers"} {
		w := te.do(t, http.MethodPost, "/api/v1/reports/builder/sections",
			map[string]string{"section": s})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := te.do(t, http.MethodGet, "/api/v1/reports/preview", nil)
	require.Equal(t, http.StatusOK, w.Code)
	plan := decode[report.Plan](t, w)
	assert.Equal(t, report.Placeholder, plan.Placeholder)
	assert.Empty(t, plan.Blocks)

	w = te.do(t, http.MethodPost, "/api/v1/reports/generate", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, report.StateDraft, te.builder.Status().State)
}

// gateExporter blocks until release is closed.
type gateExporter struct {
	release chan struct{}
}

func (g *gateExporter) Generate(ctx context.Context, spec report.Spec) (model.ReportEntry, error) {
	select {
	case <-g.release:
		return model.ReportEntry{ID: "RPT-TEST", Name: spec.Template}, nil
	case <-ctx.Done():
		return model.ReportEntry{}, ctx.Err()
	}
}

func TestGenerateWhileInFlight(t *testing.T) {
	gate := &gateExporter{release: make(chan struct{})}
	te := setup(t, withExporter(gate))

	w := te.do(t, http.MethodPost, "/api/v1/reports/generate", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "previewing", decode[builderBody](t, w).State)

	w = te.do(t, http.MethodPost, "/api/v1/reports/generate", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = te.do(t, http.MethodPatch, "/api/v1/reports/builder", `{"template":"Ops Daily"}`)
	assert.Equal(t, http.StatusConflict, w.Code, "edits are rejected while exporting")

	w = te.do(t, http.MethodPost, "/api/v1/reports/builder/reset", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	close(gate.release)
	require.Eventually(t, func() bool {
		return te.builder.Status().State == report.StateGenerated
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, te.history.Len())
}

func TestDownloadUnknownRef(t *testing.T) {
	te := setup(t)
	for _, ref := range []string{"not-a-uuid", "7d444840-9dc0-11d1-b245-5ffdce74fad2"} {
		w := te.do(t, http.MethodGet, "/api/v1/reports/downloads/"+ref, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, ref)
	}
}

func TestVersionAndMetrics(t *testing.T) {
	te := setup(t)

	w := te.do(t, http.MethodGet, "/api/v1/version", nil)
	require.Equal(t, http.StatusOK, w.Code)
	v := decode[VersionInfo](t, w)
	assert.Equal(t, "1.2.3", v.Version)

	te.do(t, http.MethodPost, "/api/v1/dashboard/refresh", nil)
	w = te.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `botsview_dashboard_fetches_total{result="ok"} 1`)
}

func TestUnknownRouteIsJSON(t *testing.T) {
	te := setup(t)
	w := te.do(t, http.MethodGet, "/api/v1/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	w = te.do(t, http.MethodDelete, "/api/v1/filters", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	te := setup(t)
	w := te.do(t, http.MethodOptions, "/api/v1/filters", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PATCH")
}

func TestHandlerTimeoutReturnsJSON(t *testing.T) {
	te := setup(t, withWriteTimeout(20*time.Millisecond))
	te.srv.handlerDelay = 200 * time.Millisecond
	te.srv.routes()
	te.handler = te.srv.Handler()

	w := te.do(t, http.MethodGet, "/api/v1/filters", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "request timed out")
}
