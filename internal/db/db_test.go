package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"
	"github.com/wesm/botsview/internal/filter"
	"github.com/wesm/botsview/internal/model"
)

const (
	botA = "Atlas Support"
	botB = "Nova Sales"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	d, err := Open(path)
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func mockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	mdb, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	d := wrap(mdb, mdb)
	t.Cleanup(func() { d.Close() })
	return d, mock
}

// requireErrContains fails if err is nil or doesn't contain
// substr.
func requireErrContains(
	t *testing.T, err error, substr string,
) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), substr) {
		t.Errorf("error %q does not contain %q",
			err.Error(), substr)
	}
}

func insertSeries(t *testing.T, d *DB, vals ...SeriesValue) {
	t.Helper()
	for _, v := range vals {
		if err := d.UpsertSeriesValue(context.Background(), v); err != nil {
			t.Fatalf("UpsertSeriesValue %+v: %v", v, err)
		}
	}
}

// insertSession upserts a session with sensible defaults.
// Override any field via the opts functions.
func insertSession(
	t *testing.T, d *DB, id string, opts ...func(*SessionRow),
) {
	t.Helper()
	s := SessionRow{
		SessionRecord: model.SessionRecord{
			DrilldownRow: model.DrilldownRow{
				ID:      id,
				Channel: model.ChannelChat,
				Outcome: "resolved",
			},
			Bot:       botA,
			StartedAt: "2026-01-03T10:00:00Z",
		},
	}
	for _, opt := range opts {
		opt(&s)
	}
	if err := d.UpsertSession(context.Background(), s); err != nil {
		t.Fatalf("insertSession %s: %v", id, err)
	}
}

func scopeSpec(bots ...string) filter.Spec {
	return filter.Spec{
		Bots:            filter.NewBotSet(bots...),
		Range:           filter.DateRange{From: "2026-01-03", To: "2026-01-04"},
		ComparePrevious: true,
		Channel:         filter.ChannelAll,
	}
}

func seedOverview(t *testing.T, d *DB) {
	t.Helper()
	insertSeries(t, d,
		// previous window
		SeriesValue{botA, "chat", "2026-01-01", "sessions", 100},
		SeriesValue{botA, "chat", "2026-01-02", "sessions", 100},
		// current window
		SeriesValue{botA, "chat", "2026-01-03", "sessions", 100},
		SeriesValue{botB, "chat", "2026-01-03", "sessions", 50},
		SeriesValue{botA, "chat", "2026-01-04", "sessions", 100},
		SeriesValue{botA, "chat", "2026-01-03", "containment", 60},
		SeriesValue{botB, "chat", "2026-01-03", "containment", 80},
		SeriesValue{botA, "chat", "2026-01-04", "containment", 70},
		SeriesValue{botA, "voice", "2026-01-03", "sessions", 40},
		SeriesValue{botA, "voice", "2026-01-03", "aht_s", 342},
		// outside the selection
		SeriesValue{"Other Bot", "chat", "2026-01-03", "sessions", 999},
		SeriesValue{botA, "chat", "2026-01-05", "sessions", 999},
	)
}

func kpiByID(ov model.Overview) map[string]model.KPIMetric {
	out := make(map[string]model.KPIMetric, len(ov.KPIs))
	for _, k := range ov.KPIs {
		out[k.ID] = k
	}
	return out
}

func TestFetchOverviewAggregatesSelection(t *testing.T) {
	d := testDB(t)
	seedOverview(t, d)

	ov, err := d.FetchOverview(
		context.Background(), scopeSpec(botA, botB),
	)
	if err != nil {
		t.Fatalf("FetchOverview: %v", err)
	}
	kpis := kpiByID(ov)

	total := kpis["total_sessions"]
	if got := total.Value.String(); got != "290" {
		t.Errorf("total_sessions = %s, want 290", got)
	}
	// 290 vs 200 in the previous window.
	if total.DeltaPct != 45 {
		t.Errorf("total_sessions delta = %v, want 45", total.DeltaPct)
	}
	if diff := cmp.Diff([]float64{190, 100}, total.Trend); diff != "" {
		t.Errorf("total_sessions trend (-want +got):\n%s", diff)
	}
	if total.Info == nil || total.Info.Formula == "" {
		t.Errorf("total_sessions info missing")
	}

	cont := kpis["containment"]
	if got := cont.Value.String(); got != "70.0%" {
		t.Errorf("containment = %s, want 70.0%%", got)
	}
	if cont.DeltaPct != 0 {
		t.Errorf("containment delta = %v, want 0 without baseline",
			cont.DeltaPct)
	}
	if got := kpis["aht"].Value.String(); got != "5m 42s" {
		t.Errorf("aht = %s, want 5m 42s", got)
	}
	if _, ok := kpis["mos"]; ok {
		t.Errorf("mos has no data and must be omitted")
	}
}

func TestFetchOverviewTrendsAndSplit(t *testing.T) {
	d := testDB(t)
	seedOverview(t, d)

	spec := scopeSpec(botA, botB)
	spec.Channel = filter.ChannelChat
	ov, err := d.FetchOverview(context.Background(), spec)
	if err != nil {
		t.Fatalf("FetchOverview: %v", err)
	}

	want := []model.TrendPoint{
		{Date: "2026-01-03", Value: model.Ptr(150.0)},
		{Date: "2026-01-04", Value: model.Ptr(100.0)},
	}
	if diff := cmp.Diff(want, ov.Trends["sessions"]); diff != "" {
		t.Errorf("sessions trend (-want +got):\n%s", diff)
	}
	if _, ok := kpiByID(ov)["aht"]; ok {
		t.Errorf("aht is voice-only and must not appear for chat")
	}

	if len(ov.VoiceSummary) != 0 {
		t.Errorf("voice summary = %+v, want empty", ov.VoiceSummary)
	}
	if len(ov.ChatSummary) != 2 {
		t.Fatalf("chat summary len = %d, want 2", len(ov.ChatSummary))
	}
	vol := ov.ChatSummary[0]
	if vol.Label != "Volume" || vol.Value.String() != "250" ||
		vol.DeltaPct != 25 {
		t.Errorf("chat volume = %+v", vol)
	}
}

func TestFetchOverviewOutOfScope(t *testing.T) {
	d := testDB(t)
	seedOverview(t, d)

	spec := scopeSpec(botA)
	spec.Range = filter.DateRange{From: "2026-01-04", To: "2026-01-03"}
	ov, err := d.FetchOverview(context.Background(), spec)
	if err != nil {
		t.Fatalf("FetchOverview: %v", err)
	}
	if ov.KPIs == nil || len(ov.KPIs) != 0 {
		t.Errorf("KPIs = %v, want empty non-nil", ov.KPIs)
	}
	if len(ov.Trends) != 0 {
		t.Errorf("Trends = %v, want empty", ov.Trends)
	}
}

func TestUpsertSeriesValueRejectsBadDate(t *testing.T) {
	d := testDB(t)
	err := d.UpsertSeriesValue(context.Background(), SeriesValue{
		Bot: botA, Channel: "chat", Date: "2026-13-01",
		Series: "sessions", Value: 1,
	})
	requireErrContains(t, err, "invalid series date")
}

func TestSessionsRoundTrip(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	reason := "Billing dispute"
	insertSession(t, d, "S-1", func(s *SessionRow) {
		s.TopIntent = "Refund status"
		s.HandoffReason = &reason
		s.Queue = "Tier 2"
		s.Tools = []string{"CRM Lookup"}
		s.CSAT = model.Ptr(4.5)
		s.EndedAt = "2026-01-03T10:05:00Z"
		s.Detail = `{
			"events": [{"ts": "10:00:01", "type": "start", "detail": "greeting"}],
			"tool_calls": [{"name": "CRM Lookup", "status": "ok", "latency_ms": 420}],
			"transcript": [{"speaker": "user", "text": "where is my refund"}]
		}`
	})
	insertSession(t, d, "S-2", func(s *SessionRow) {
		s.Bot = botB
		s.Channel = model.ChannelVoice
		s.StartedAt = "2026-01-04T09:00:00Z"
	})
	insertSession(t, d, "S-3", func(s *SessionRow) {
		s.StartedAt = "2026-01-09T09:00:00Z"
	})

	recs, err := d.FetchSessions(ctx, scopeSpec(botA, botB))
	if err != nil {
		t.Fatalf("FetchSessions: %v", err)
	}
	var ids []string
	for _, r := range recs {
		ids = append(ids, r.ID)
	}
	if diff := cmp.Diff([]string{"S-1", "S-2"}, ids); diff != "" {
		t.Errorf("session ids (-want +got):\n%s", diff)
	}
	if got := recs[0]; got.HandoffReason == nil ||
		*got.HandoffReason != reason ||
		got.Queue != "Tier 2" || *got.CSAT != 4.5 ||
		!cmp.Equal(got.Tools, []string{"CRM Lookup"}) {
		t.Errorf("S-1 record = %+v", got)
	}

	voice := scopeSpec(botA, botB)
	voice.Channel = filter.ChannelVoice
	recs, err = d.FetchSessions(ctx, voice)
	if err != nil {
		t.Fatalf("FetchSessions voice: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "S-2" {
		t.Errorf("voice sessions = %+v, want S-2 only", recs)
	}

	detail, err := d.FetchSessionDetail(ctx, "S-1")
	if err != nil {
		t.Fatalf("FetchSessionDetail: %v", err)
	}
	if detail == nil {
		t.Fatal("expected detail for S-1")
	}
	if !detail.TranscriptAvailable() || detail.HasErrors() {
		t.Errorf("transcript/errors state wrong: %+v", detail)
	}
	if detail.Queue == nil || *detail.Queue != "Tier 2" {
		t.Errorf("queue = %v, want Tier 2", detail.Queue)
	}
	wantCalls := []model.ToolCall{
		{Name: "CRM Lookup", Status: "ok", LatencyMS: 420},
	}
	if diff := cmp.Diff(wantCalls, detail.ToolCalls); diff != "" {
		t.Errorf("tool calls (-want +got):\n%s", diff)
	}

	bare, err := d.FetchSessionDetail(ctx, "S-2")
	if err != nil {
		t.Fatalf("FetchSessionDetail S-2: %v", err)
	}
	if bare.Queue != nil || bare.Errors == nil || bare.Transcript == nil {
		t.Errorf("S-2 detail = %+v, want nil queue and empty lists", bare)
	}

	missing, err := d.FetchSessionDetail(ctx, "S-404")
	if err != nil || missing != nil {
		t.Errorf("missing session = %v, %v; want nil, nil", missing, err)
	}
}

func TestUpsertSessionRejectsBadInput(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	err := d.UpsertSession(ctx, SessionRow{
		SessionRecord: model.SessionRecord{
			DrilldownRow: model.DrilldownRow{ID: "S-1"},
			StartedAt:    "yesterday",
		},
	})
	requireErrContains(t, err, "invalid started_at")

	err = d.UpsertSession(ctx, SessionRow{
		SessionRecord: model.SessionRecord{
			DrilldownRow: model.DrilldownRow{ID: "S-2"},
			StartedAt:    "2026-01-03T10:00:00Z",
		},
		Detail: `{"events": [`,
	})
	requireErrContains(t, err, "invalid detail JSON")
}

func TestFetchDrivers(t *testing.T) {
	d := testDB(t)
	billing := "Billing dispute"
	insertSession(t, d, "S-1", func(s *SessionRow) {
		s.TopIntent = "Refund status"
		s.HandoffReason = &billing
		s.Queue = "Tier 2"
		s.Detail = `{
			"events": [{"type": "no_match", "detail": "Payment options"}],
			"tool_calls": [
				{"name": "CRM Lookup", "status": "error", "latency_ms": 900},
				{"name": "Order API", "status": "timeout", "latency_ms": 3000}
			]
		}`
	})
	insertSession(t, d, "S-2", func(s *SessionRow) {
		s.TopIntent = "Refund status"
		s.Detail = `{
			"events": [
				{"type": "no_match", "detail": "Payment options"},
				{"type": "no_match", "detail": "Store hours"}
			],
			"tool_calls": [
				{"name": "CRM Lookup", "status": "ok", "latency_ms": 300}
			]
		}`
	})
	insertSession(t, d, "S-3", func(s *SessionRow) {
		s.TopIntent = "Order tracking"
		s.Queue = "Tier 1"
	})

	got, err := d.FetchDrivers(context.Background(), scopeSpec(botA))
	if err != nil {
		t.Fatalf("FetchDrivers: %v", err)
	}
	want := model.Drivers{
		Intents: model.IntentDrivers{
			TopByVolume: []model.VolumeDriver{
				{Label: "Refund status", Count: 2},
				{Label: "Order tracking", Count: 1},
			},
			TopByEscalation: []model.RateDriver{
				{Label: "Refund status", Rate: 50},
			},
			NoMatchPages: []model.NoMatchDriver{
				{Label: "Payment options", Count: 2, Rate: 66.7},
				{Label: "Store hours", Count: 1, Rate: 33.3},
			},
		},
		Tools: []model.ToolDriver{
			{Name: "CRM Lookup", Failures: 1, LatencyP95: 900},
			{Name: "Order API", Timeouts: 1, LatencyP95: 3000},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("drivers (-want +got):\n%s", diff)
	}

	// Advanced filters narrow the driver population.
	spec := scopeSpec(botA)
	spec.Advanced.Queue = "Tier 1"
	got, err = d.FetchDrivers(context.Background(), spec)
	if err != nil {
		t.Fatalf("FetchDrivers queue: %v", err)
	}
	if len(got.Intents.TopByVolume) != 1 ||
		got.Intents.TopByVolume[0].Label != "Order tracking" ||
		len(got.Tools) != 0 {
		t.Errorf("queue-filtered drivers = %+v", got)
	}
}

func TestPercentileFloat(t *testing.T) {
	tests := []struct {
		in   []float64
		pct  float64
		want float64
	}{
		{nil, 0.95, 0},
		{[]float64{7}, 0.95, 7},
		{[]float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 0.5, 6},
		{[]float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 0.95, 10},
	}
	for _, tt := range tests {
		if got := percentileFloat(tt.in, tt.pct); got != tt.want {
			t.Errorf("percentileFloat(%v, %v) = %v, want %v",
				tt.in, tt.pct, got, tt.want)
		}
	}
}

func TestReportsMostRecentFirst(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	for _, id := range []string{"RPT-1", "RPT-2", "RPT-3"} {
		err := d.InsertReport(ctx, model.ReportEntry{
			ID:             id,
			Name:           "Executive Weekly",
			DateRangeLabel: "2026-01-03 to 2026-01-04",
			CreatedBy:      "ops",
			CreatedAt:      "2026-01-05 09:00",
			Downloads:      model.Downloads{PDF: id + "-pdf"},
		})
		if err != nil {
			t.Fatalf("InsertReport %s: %v", id, err)
		}
	}
	list, err := d.ListReports(ctx)
	if err != nil {
		t.Fatalf("ListReports: %v", err)
	}
	var ids []string
	for _, e := range list {
		ids = append(ids, e.ID)
	}
	if diff := cmp.Diff([]string{"RPT-3", "RPT-2", "RPT-1"}, ids); diff != "" {
		t.Errorf("report order (-want +got):\n%s", diff)
	}
	if list[0].Downloads.PDF != "RPT-3-pdf" || list[0].Downloads.CSV != "" {
		t.Errorf("downloads = %+v", list[0].Downloads)
	}

	err = d.InsertReport(ctx, model.ReportEntry{ID: "RPT-1"})
	requireErrContains(t, err, "inserting report RPT-1")
}

func TestListReportsQueryError(t *testing.T) {
	// Given: a store whose report query fails
	d, mock := mockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM reports ORDER BY seq DESC")).
		WillReturnError(errors.New("disk I/O error"))

	// When: the history is listed
	_, err := d.ListReports(context.Background())

	// Then: the failure is wrapped with context
	requireErrContains(t, err, "querying reports: disk I/O error")
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled sqlmock expectations: %v", err)
	}
}

func TestFetchSessionDetailCorruptDocument(t *testing.T) {
	// Given: a stored session whose detail column is not JSON
	d, mock := mockDB(t)
	cols := []string{
		"id", "channel", "bot", "started_at", "ended_at", "outcome",
		"handoff_reason", "locale", "queue", "detail",
	}
	mock.ExpectQuery(regexp.QuoteMeta("FROM sessions WHERE id = ?")).
		WithArgs("S-9").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"S-9", "chat", botA, "2026-01-03T10:00:00Z", "", "resolved",
			nil, "en-US", "", "{not json",
		))

	// When: the detail is fetched
	got, err := d.FetchSessionDetail(context.Background(), "S-9")

	// Then: a decode error is returned instead of a partial record
	requireErrContains(t, err, "decoding session S-9")
	if got != nil {
		t.Errorf("got %+v, want nil", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled sqlmock expectations: %v", err)
	}
}

func TestInsertReportWriteError(t *testing.T) {
	d, mock := mockDB(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO reports")).
		WillReturnError(errors.New("database is locked"))

	err := d.InsertReport(context.Background(), model.ReportEntry{ID: "RPT-7"})
	requireErrContains(t, err, "inserting report RPT-7: database is locked")
}

func TestOpenStampsSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v.db")
	d, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	var v int
	if err := d.reader.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		t.Fatalf("reading user_version: %v", err)
	}
	if v != schemaVersion {
		t.Errorf("user_version = %d, want %d", v, schemaVersion)
	}
	d.Close()

	// Reopening a current database is a no-op.
	d, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	d.Close()
}

func TestOpenRefusesNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future.db")
	raw, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := raw.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("setting user_version: %v", err)
	}
	raw.Close()

	_, err = Open(path)
	requireErrContains(t, err, "newer than supported")
}

func TestInPlaceholders(t *testing.T) {
	for n, want := range map[int]string{0: "", 1: "?", 3: "?, ?, ?"} {
		if got := inPlaceholders(n); got != want {
			t.Errorf("inPlaceholders(%d) = %q, want %q", n, got, want)
		}
	}
}
