package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/wesm/botsview/internal/filter"
	"github.com/wesm/botsview/internal/model"
)

// SessionRow is a session as stored: the drilldown record plus
// its end time and the raw detail document. Detail is a JSON
// object with events, tool_calls, transcript and errors arrays.
type SessionRow struct {
	model.SessionRecord
	EndedAt string
	Detail  string
}

// sessionRecordCols is the column list for drilldown queries.
// Keep in sync with scanSessionRecord.
const sessionRecordCols = `id, bot, channel, started_at,
	top_intent, intent_group, outcome, handoff_reason,
	locale, queue, campaign, model_version,
	latency_p95, tool_failures, csat, tools`

func scanSessionRecord(rs rowScanner) (model.SessionRecord, error) {
	var (
		r       model.SessionRecord
		handoff sql.NullString
		csat    sql.NullFloat64
		tools   string
	)
	err := rs.Scan(
		&r.ID, &r.Bot, &r.Channel, &r.StartedAt,
		&r.TopIntent, &r.IntentGroup, &r.Outcome, &handoff,
		&r.Locale, &r.Queue, &r.Campaign, &r.ModelVersion,
		&r.LatencyP95, &r.ToolFailuresCount, &csat, &tools,
	)
	if err != nil {
		return r, err
	}
	if handoff.Valid {
		r.HandoffReason = &handoff.String
	}
	if csat.Valid {
		r.CSAT = &csat.Float64
	}
	r.Tools = parseTools(tools)
	return r, nil
}

func parseTools(raw string) []string {
	out := []string{}
	for _, v := range gjson.Parse(raw).Array() {
		if s := v.String(); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// sessionDay returns the calendar day of an RFC 3339 timestamp.
func sessionDay(startedAt string) (string, error) {
	if len(startedAt) < len("2006-01-02") {
		return "", fmt.Errorf("invalid started_at %q", startedAt)
	}
	day := startedAt[:10]
	if !(filter.DateRange{From: day, To: day}).Valid() {
		return "", fmt.Errorf("invalid started_at %q", startedAt)
	}
	return day, nil
}

// UpsertSession inserts or replaces a session.
func (db *DB) UpsertSession(ctx context.Context, s SessionRow) error {
	day, err := sessionDay(s.StartedAt)
	if err != nil {
		return fmt.Errorf("upserting session %s: %w", s.ID, err)
	}
	tools := s.Tools
	if tools == nil {
		tools = []string{}
	}
	toolsJSON, err := json.Marshal(tools)
	if err != nil {
		return fmt.Errorf("encoding tools for %s: %w", s.ID, err)
	}
	detail := s.Detail
	if detail == "" {
		detail = "{}"
	}
	if !gjson.Valid(detail) {
		return fmt.Errorf("upserting session %s: invalid detail JSON", s.ID)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	_, err = db.writer.ExecContext(ctx, `
		INSERT INTO sessions (
			id, bot, channel, day, started_at, ended_at,
			top_intent, intent_group, outcome, handoff_reason,
			locale, queue, campaign, model_version,
			latency_p95, tool_failures, csat, tools, detail
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			bot = excluded.bot,
			channel = excluded.channel,
			day = excluded.day,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			top_intent = excluded.top_intent,
			intent_group = excluded.intent_group,
			outcome = excluded.outcome,
			handoff_reason = excluded.handoff_reason,
			locale = excluded.locale,
			queue = excluded.queue,
			campaign = excluded.campaign,
			model_version = excluded.model_version,
			latency_p95 = excluded.latency_p95,
			tool_failures = excluded.tool_failures,
			csat = excluded.csat,
			tools = excluded.tools,
			detail = excluded.detail`,
		s.ID, s.Bot, s.Channel, day, s.StartedAt, s.EndedAt,
		s.TopIntent, s.IntentGroup, s.Outcome, s.HandoffReason,
		s.Locale, s.Queue, s.Campaign, s.ModelVersion,
		s.LatencyP95, s.ToolFailuresCount, s.CSAT,
		string(toolsJSON), detail)
	if err != nil {
		return fmt.Errorf("upserting session %s: %w", s.ID, err)
	}
	return nil
}

// scopeWhere builds the bot, day and channel predicates shared by
// the session queries. Advanced filters are applied in Go by the
// derivation layer.
func scopeWhere(spec filter.Spec) (string, []any) {
	bots := spec.Bots.IDs()
	preds := []string{
		"bot IN (" + inPlaceholders(len(bots)) + ")",
		"day >= ?",
		"day <= ?",
	}
	args := make([]any, 0, len(bots)+3)
	for _, b := range bots {
		args = append(args, b)
	}
	args = append(args, spec.Range.From, spec.Range.To)
	if spec.Channel != filter.ChannelAll {
		preds = append(preds, "channel = ?")
		args = append(args, string(spec.Channel))
	}
	return strings.Join(preds, " AND "), args
}

// FetchSessions returns the session records for the selected bots,
// days and channel, oldest first. An out-of-scope selection yields
// an empty list.
func (db *DB) FetchSessions(
	ctx context.Context, spec filter.Spec,
) ([]model.SessionRecord, error) {
	out := []model.SessionRecord{}
	if !spec.InScope() {
		return out, nil
	}
	where, args := scopeWhere(spec)
	rows, err := db.reader.QueryContext(ctx,
		"SELECT "+sessionRecordCols+" FROM sessions WHERE "+where+
			" ORDER BY started_at, id", args...)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanSessionRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return out, nil
}

// FetchSessionDetail returns the full record for id, or nil, nil
// when no such session exists.
func (db *DB) FetchSessionDetail(
	ctx context.Context, id string,
) (*model.SessionDetail, error) {
	var (
		d       model.SessionDetail
		handoff sql.NullString
		queue   string
		doc     string
	)
	err := db.reader.QueryRowContext(ctx, `
		SELECT id, channel, bot, started_at, ended_at, outcome,
			handoff_reason, locale, queue, detail
		FROM sessions WHERE id = ?`, id,
	).Scan(
		&d.ID, &d.Channel, &d.Bot, &d.StartedAt, &d.EndedAt,
		&d.Outcome, &handoff, &d.Locale, &queue, &doc,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting session %s: %w", id, err)
	}
	if handoff.Valid {
		d.HandoffReason = &handoff.String
	}
	if queue != "" {
		d.Queue = &queue
	}
	if err := parseDetail(&d, doc); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}
	d.Normalize()
	return &d, nil
}

func parseDetail(d *model.SessionDetail, doc string) error {
	if !gjson.Valid(doc) {
		return errors.New("invalid detail JSON")
	}
	r := gjson.Parse(doc)
	r.Get("events").ForEach(func(_, v gjson.Result) bool {
		d.Events = append(d.Events, model.SessionEvent{
			TS:     v.Get("ts").String(),
			Type:   v.Get("type").String(),
			Detail: v.Get("detail").String(),
		})
		return true
	})
	r.Get("tool_calls").ForEach(func(_, v gjson.Result) bool {
		d.ToolCalls = append(d.ToolCalls, model.ToolCall{
			Name:      v.Get("name").String(),
			Status:    v.Get("status").String(),
			LatencyMS: int(v.Get("latency_ms").Int()),
		})
		return true
	})
	r.Get("transcript").ForEach(func(_, v gjson.Result) bool {
		d.Transcript = append(d.Transcript, model.TranscriptTurn{
			Speaker: v.Get("speaker").String(),
			Text:    v.Get("text").String(),
		})
		return true
	})
	r.Get("errors").ForEach(func(_, v gjson.Result) bool {
		d.Errors = append(d.Errors, model.SessionError{
			Code:    v.Get("code").String(),
			Message: v.Get("message").String(),
		})
		return true
	})
	return nil
}
