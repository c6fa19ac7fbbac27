package report

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/wesm/botsview/internal/model"
)

// State is the builder's lifecycle state.
type State string

const (
	StateDraft      State = "draft"
	StatePreviewing State = "previewing"
	StateGenerated  State = "generated"
)

var (
	// ErrInvalidTransition is returned when an operation is not
	// allowed in the current state. The state is unchanged.
	ErrInvalidTransition = errors.New("invalid report state transition")
	// ErrNoSections is returned when generating with no sections
	// selected.
	ErrNoSections = errors.New("report has no sections selected")
	// ErrUnknownSection is returned for names outside the section
	// vocabulary.
	ErrUnknownSection = errors.New("unknown report section")
	// ErrUnknownTemplate is returned for unknown template names.
	ErrUnknownTemplate = errors.New("unknown report template")
)

// GenerateError is a failed or timed-out export. The builder is
// back in Draft and the request can be retried.
type GenerateError struct {
	Err error
}

func (e *GenerateError) Error() string {
	if e.Timeout() {
		return "report export timed out"
	}
	return fmt.Sprintf("report export failed: %v", e.Err)
}

func (e *GenerateError) Unwrap() error { return e.Err }

// Timeout reports whether the export exceeded its deadline.
func (e *GenerateError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// Retryable is always true: nothing was recorded in history.
func (e *GenerateError) Retryable() bool { return true }

// Exporter produces a report from a resolved report definition.
type Exporter interface {
	Generate(ctx context.Context, spec Spec) (model.ReportEntry, error)
}

// Outcome is delivered once per RequestGenerate call.
type Outcome struct {
	Entry  model.ReportEntry
	Format Format
	Err    error
}

// Status is a point-in-time view of the builder.
type Status struct {
	State State              `json:"state"`
	Spec  Spec               `json:"spec"`
	Error string             `json:"error,omitempty"`
	Last  *model.ReportEntry `json:"last,omitempty"`
}

const defaultExportTimeout = 60 * time.Second

// Builder is the report composition state machine.
type Builder struct {
	mu      sync.Mutex
	spec    Spec
	state   State
	gen     uint64
	lastErr error
	last    *model.ReportEntry

	exporter Exporter
	history  *History
	timeout  time.Duration
	logger   zerolog.Logger
	onResult func(Outcome)
}

// Option configures a Builder.
type Option func(*Builder)

// WithTimeout bounds each export call. Non-positive values are
// ignored.
func WithTimeout(d time.Duration) Option {
	return func(b *Builder) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithLogger sets the builder's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// WithResultHook registers a callback run after every export
// attempt, used for metrics.
func WithResultHook(f func(Outcome)) Option {
	return func(b *Builder) { b.onResult = f }
}

// NewBuilder returns a Builder in Draft holding initial.
func NewBuilder(
	initial Spec, exp Exporter, hist *History, opts ...Option,
) *Builder {
	b := &Builder{
		spec:     initial,
		state:    StateDraft,
		exporter: exp,
		history:  hist,
		timeout:  defaultExportTimeout,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Status returns the current state and report definition.
func (b *Builder) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := Status{State: b.state, Spec: b.spec}
	if b.lastErr != nil {
		st.Error = b.lastErr.Error()
	}
	if b.last != nil {
		e := *b.last
		st.Last = &e
	}
	return st
}

// Spec returns a snapshot of the current report definition.
func (b *Builder) Spec() Spec {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spec
}

// edit applies fn in Draft. An edit after generation starts a new
// draft. Edits while an export is in flight are rejected.
func (b *Builder) edit(fn func(Spec) Spec) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StatePreviewing {
		return ErrInvalidTransition
	}
	b.spec = fn(b.spec)
	b.state = StateDraft
	b.lastErr = nil
	return nil
}

// SetTemplate selects a report template.
func (b *Builder) SetTemplate(name string) error {
	if !slices.Contains(Templates, name) {
		return fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}
	return b.edit(func(s Spec) Spec {
		s.Template = name
		return s
	})
}

// SetScope updates the report's scope filters.
func (b *Builder) SetScope(sc Scope) error {
	return b.edit(func(s Spec) Spec { return s.withScope(sc) })
}

// SetOutputFormat selects the export format.
func (b *Builder) SetOutputFormat(f Format) error {
	if _, err := ParseFormat(string(f)); err != nil {
		return err
	}
	return b.edit(func(s Spec) Spec {
		s.OutputFormat = f
		return s
	})
}

// ToggleSection adds or removes a section.
func (b *Builder) ToggleSection(name Section) error {
	if !name.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownSection, name)
	}
	return b.edit(func(s Spec) Spec {
		s.Sections = s.Sections.Toggle(name)
		return s
	})
}

// Reset returns a generated report to Draft, keeping its
// settings.
func (b *Builder) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StatePreviewing {
		return ErrInvalidTransition
	}
	b.state = StateDraft
	b.lastErr = nil
	return nil
}

// RequestGenerate moves Draft to Previewing and starts the export
// in the background. It fails synchronously, leaving the state
// unchanged, when no sections are selected or the builder is not
// in Draft. The returned channel receives exactly one Outcome.
// The export is not tied to ctx's cancellation; it is bounded by
// the builder's timeout instead.
func (b *Builder) RequestGenerate(
	ctx context.Context,
) (<-chan Outcome, error) {
	b.mu.Lock()
	if b.state != StateDraft {
		b.mu.Unlock()
		return nil, ErrInvalidTransition
	}
	if b.spec.Sections.Len() == 0 {
		b.mu.Unlock()
		return nil, ErrNoSections
	}
	snap := b.spec
	b.state = StatePreviewing
	b.lastErr = nil
	b.gen++
	gen := b.gen
	b.mu.Unlock()

	out := make(chan Outcome, 1)
	go b.run(context.WithoutCancel(ctx), gen, snap, out)
	return out, nil
}

func (b *Builder) run(
	ctx context.Context, gen uint64, snap Spec, out chan<- Outcome,
) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	type result struct {
		entry model.ReportEntry
		err   error
	}
	res := make(chan result, 1)
	go func() {
		entry, err := b.exporter.Generate(ctx, snap)
		res <- result{entry, err}
	}()

	var r result
	select {
	case r = <-res:
	case <-ctx.Done():
		r.err = ctx.Err()
	}

	outcome := b.finish(ctx, gen, r.entry, r.err)
	outcome.Format = snap.OutputFormat
	if b.onResult != nil {
		b.onResult(outcome)
	}
	out <- outcome
	close(out)
}

func (b *Builder) finish(
	ctx context.Context, gen uint64, entry model.ReportEntry, err error,
) Outcome {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.gen || b.state != StatePreviewing {
		return Outcome{Err: ErrInvalidTransition}
	}
	if err != nil {
		gerr := &GenerateError{Err: err}
		b.state = StateDraft
		b.lastErr = gerr
		b.logger.Warn().Err(err).
			Str("template", b.spec.Template).
			Msg("report export failed")
		return Outcome{Err: gerr}
	}
	if b.history != nil {
		if herr := b.history.Append(
			context.WithoutCancel(ctx), entry,
		); herr != nil {
			b.logger.Error().Err(herr).
				Str("report_id", entry.ID).
				Msg("persisting report history")
		}
	}
	b.state = StateGenerated
	b.last = &entry
	b.logger.Info().
		Str("report_id", entry.ID).
		Str("template", entry.Name).
		Msg("report generated")
	return Outcome{Entry: entry}
}
