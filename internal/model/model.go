// Package model holds the record types shared by the provider,
// derivation and report layers.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Channel identifiers used on records. The filter package owns
// the "all" selector.
const (
	ChannelChat  = "chat"
	ChannelVoice = "voice"
)

// DisplayValue is a KPI value as produced upstream: either a
// number or pre-formatted text such as "68.3%" or "5m 42s".
// Text values are opaque and never parsed here.
type DisplayValue struct {
	num    float64
	text   string
	isText bool
}

// Number returns a numeric display value.
func Number(v float64) DisplayValue {
	return DisplayValue{num: v}
}

// Text returns a pre-formatted display value.
func Text(s string) DisplayValue {
	return DisplayValue{text: s, isText: true}
}

// IsText reports whether the value is the formatted-text variant.
func (v DisplayValue) IsText() bool { return v.isText }

// Float returns the numeric variant. ok is false for text values.
func (v DisplayValue) Float() (f float64, ok bool) {
	if v.isText {
		return 0, false
	}
	return v.num, true
}

// String renders the value for display.
func (v DisplayValue) String() string {
	if v.isText {
		return v.text
	}
	return strconv.FormatFloat(v.num, 'f', -1, 64)
}

// MarshalJSON encodes the numeric variant as a JSON number and the
// text variant as a JSON string.
func (v DisplayValue) MarshalJSON() ([]byte, error) {
	if v.isText {
		return json.Marshal(v.text)
	}
	return json.Marshal(v.num)
}

// UnmarshalJSON accepts either a JSON number or a JSON string.
func (v *DisplayValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = Text(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("display value: %w", err)
	}
	*v = Number(f)
	return nil
}

// KPIInfo documents how a KPI is defined and computed.
type KPIInfo struct {
	Definition string   `json:"definition"`
	Formula    string   `json:"formula"`
	Notes      string   `json:"notes"`
	Sources    []string `json:"sources"`
}

// KPIMetric is a headline metric as returned by the provider.
type KPIMetric struct {
	ID       string       `json:"id"`
	Label    string       `json:"label"`
	Value    DisplayValue `json:"value"`
	DeltaPct float64      `json:"delta_pct"`
	Trend    []float64    `json:"trend"`
	Info     *KPIInfo     `json:"info,omitempty"`
}

// LineKey names one line of a trend chart.
type LineKey string

const (
	LineValue     LineKey = "value"
	LineCompare   LineKey = "compare"
	LineSecondary LineKey = "secondary"
)

// TrendPoint is one day of a trend chart. A nil line means no
// data for that day, which is distinct from zero.
type TrendPoint struct {
	Date      string   `json:"date"`
	Value     *float64 `json:"value,omitempty"`
	Compare   *float64 `json:"compare,omitempty"`
	Secondary *float64 `json:"secondary,omitempty"`
}

// Line returns the value stored under key, or nil.
func (p TrendPoint) Line(key LineKey) *float64 {
	switch key {
	case LineValue:
		return p.Value
	case LineCompare:
		return p.Compare
	case LineSecondary:
		return p.Secondary
	}
	return nil
}

// SetLine stores v under key. Unknown keys are ignored.
func (p *TrendPoint) SetLine(key LineKey, v *float64) {
	switch key {
	case LineValue:
		p.Value = v
	case LineCompare:
		p.Compare = v
	case LineSecondary:
		p.Secondary = v
	}
}

// VolumeDriver ranks by count.
type VolumeDriver struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// RateDriver ranks by rate (percent).
type RateDriver struct {
	Label string  `json:"label"`
	Rate  float64 `json:"rate"`
}

// NoMatchDriver is a page or step where the bot failed to match
// an intent.
type NoMatchDriver struct {
	Label string  `json:"label"`
	Count int     `json:"count"`
	Rate  float64 `json:"rate"`
}

// ToolDriver is a composite reliability record for one tool.
type ToolDriver struct {
	Name       string  `json:"name"`
	Failures   int     `json:"failures"`
	Timeouts   int     `json:"timeouts"`
	LatencyP95 float64 `json:"latency_p95"`
}

// IntentDrivers groups the intent-level driver lists.
type IntentDrivers struct {
	TopByVolume     []VolumeDriver  `json:"top_by_volume"`
	TopByEscalation []RateDriver    `json:"top_by_escalation"`
	NoMatchPages    []NoMatchDriver `json:"no_match_pages"`
}

// Drivers is the raw driver payload from the provider.
type Drivers struct {
	Intents IntentDrivers `json:"intents"`
	Tools   []ToolDriver  `json:"tools"`
}

// SplitMetric is one line of a per-channel summary.
type SplitMetric struct {
	Label    string       `json:"label"`
	Value    DisplayValue `json:"value"`
	DeltaPct float64      `json:"delta_pct"`
}

// Overview is the raw overview payload from the provider. Trends
// is keyed by chart id.
type Overview struct {
	KPIs         []KPIMetric             `json:"kpis"`
	Trends       map[string][]TrendPoint `json:"trends"`
	ChatSummary  []SplitMetric           `json:"chat_summary"`
	VoiceSummary []SplitMetric           `json:"voice_summary"`
}

// DrilldownRow is one row of the session drilldown table.
type DrilldownRow struct {
	ID                string   `json:"id"`
	Channel           string   `json:"channel"`
	TopIntent         string   `json:"top_intent"`
	Outcome           string   `json:"outcome"`
	HandoffReason     *string  `json:"handoff_reason"`
	LatencyP95        float64  `json:"latency_p95"`
	ToolFailuresCount int      `json:"tool_failures_count"`
	CSAT              *float64 `json:"csat"`
}

// SessionRecord is a drilldown row plus the attributes advanced
// filters match against.
type SessionRecord struct {
	DrilldownRow
	Bot          string   `json:"bot"`
	StartedAt    string   `json:"started_at"`
	Locale       string   `json:"locale"`
	IntentGroup  string   `json:"intent_group"`
	Queue        string   `json:"queue"`
	Campaign     string   `json:"campaign"`
	ModelVersion string   `json:"model_version"`
	Tools        []string `json:"tools"`
}

// SessionEvent is one entry of a session timeline.
type SessionEvent struct {
	TS     string `json:"ts"`
	Type   string `json:"type"`
	Detail string `json:"detail"`
}

// ToolCall is one tool or webhook invocation.
type ToolCall struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	LatencyMS int    `json:"latency_ms"`
}

// TranscriptTurn is one utterance.
type TranscriptTurn struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// SessionError is an error raised during a session.
type SessionError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SessionDetail is the full record behind a drilldown row.
// Collections are never nil; an empty transcript means the
// transcript is unavailable and empty errors means none occurred.
type SessionDetail struct {
	ID            string           `json:"id"`
	Channel       string           `json:"channel"`
	Bot           string           `json:"bot"`
	StartedAt     string           `json:"started_at"`
	EndedAt       string           `json:"ended_at"`
	Outcome       string           `json:"outcome"`
	HandoffReason *string          `json:"handoff_reason"`
	Locale        string           `json:"locale"`
	Queue         *string          `json:"queue"`
	Events        []SessionEvent   `json:"events"`
	ToolCalls     []ToolCall       `json:"tool_calls"`
	Transcript    []TranscriptTurn `json:"transcript"`
	Errors        []SessionError   `json:"errors"`
}

// TranscriptAvailable reports whether any transcript turns exist.
func (d *SessionDetail) TranscriptAvailable() bool {
	return len(d.Transcript) > 0
}

// HasErrors reports whether the session raised any errors.
func (d *SessionDetail) HasErrors() bool {
	return len(d.Errors) > 0
}

// Normalize replaces nil collections with empty ones.
func (d *SessionDetail) Normalize() {
	if d.Events == nil {
		d.Events = []SessionEvent{}
	}
	if d.ToolCalls == nil {
		d.ToolCalls = []ToolCall{}
	}
	if d.Transcript == nil {
		d.Transcript = []TranscriptTurn{}
	}
	if d.Errors == nil {
		d.Errors = []SessionError{}
	}
}

// Downloads holds export references per output format.
type Downloads struct {
	PDF string `json:"pdf,omitempty"`
	CSV string `json:"csv,omitempty"`
}

// ReportEntry is an immutable record of a generated report.
type ReportEntry struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	DateRangeLabel string    `json:"date_range"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      string    `json:"created_at"`
	Downloads      Downloads `json:"downloads"`
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
