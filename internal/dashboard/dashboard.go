// Package dashboard owns the live filter selection and the views
// derived from it. Fetches run concurrently and only the most
// recent request may commit its result.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/wesm/botsview/internal/derive"
	"github.com/wesm/botsview/internal/filter"
	"github.com/wesm/botsview/internal/metrics"
	"github.com/wesm/botsview/internal/model"
	"github.com/wesm/botsview/internal/session"
	"golang.org/x/sync/errgroup"
)

// ErrSuperseded is returned when a newer request replaced the
// selection before this fetch finished. Its result was dropped.
var ErrSuperseded = errors.New("dashboard fetch superseded by a newer request")

// Provider is the analytics data source.
type Provider interface {
	FetchOverview(ctx context.Context, spec filter.Spec) (model.Overview, error)
	FetchDrivers(ctx context.Context, spec filter.Spec) (model.Drivers, error)
	FetchSessions(ctx context.Context, spec filter.Spec) ([]model.SessionRecord, error)
	session.Fetcher
}

// Status distinguishes a dashboard that never loaded from one that
// loaded and came back empty.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

// FetchError is a provider failure. The previous views are kept
// and the fetch can be retried with Refresh.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("loading dashboard: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable is always true for provider failures.
func (e *FetchError) Retryable() bool { return true }

// Snapshot is a consistent read of the dashboard. Filter is the
// live selection; Views.Filter is the selection the views were
// derived from, which differs while a fetch is in flight or after
// a failure.
type Snapshot struct {
	Status     Status       `json:"status"`
	Generation uint64       `json:"generation"`
	Filter     filter.Spec  `json:"filter"`
	Views      derive.Views `json:"views"`
	Error      string       `json:"error,omitempty"`
	Retryable  bool         `json:"retryable,omitempty"`
}

// Dashboard holds the live state.
type Dashboard struct {
	mu      sync.Mutex
	spec    filter.Spec
	gen     uint64
	views   *derive.Views
	status  Status
	lastErr error

	provider     Provider
	resolver     *session.Resolver
	logger       zerolog.Logger
	metrics      *metrics.Metrics
	fetchTimeout time.Duration
}

// Option configures a Dashboard.
type Option func(*Dashboard)

// WithLogger sets the dashboard logger.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Dashboard) { d.logger = l }
}

// WithMetrics records fetch outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dashboard) { d.metrics = m }
}

// WithFetchTimeout bounds each fetch. Zero means no bound.
func WithFetchTimeout(t time.Duration) Option {
	return func(d *Dashboard) { d.fetchTimeout = t }
}

// New returns an idle dashboard with the initial selection.
func New(p Provider, initial filter.Spec, opts ...Option) *Dashboard {
	d := &Dashboard{
		spec:     initial,
		status:   StatusIdle,
		provider: p,
		resolver: session.NewResolver(p),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Filter returns the live selection.
func (d *Dashboard) Filter() filter.Spec {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.spec
}

// Snapshot returns the current state.
func (d *Dashboard) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked()
}

func (d *Dashboard) snapshotLocked() Snapshot {
	s := Snapshot{
		Status:     d.status,
		Generation: d.gen,
		Filter:     d.spec,
	}
	if d.views != nil {
		s.Views = *d.views
	} else {
		s.Views = derive.Empty(d.spec)
	}
	if d.lastErr != nil {
		s.Error = d.lastErr.Error()
		var fe *FetchError
		s.Retryable = errors.As(d.lastErr, &fe) && fe.Retryable()
	}
	return s
}

// Update applies p to the live selection and reloads. It returns
// ErrSuperseded when another Update or Refresh started before this
// one finished.
func (d *Dashboard) Update(ctx context.Context, p filter.Patch) (Snapshot, error) {
	d.mu.Lock()
	d.spec = filter.Apply(d.spec, p)
	gen, spec := d.beginLocked()
	d.mu.Unlock()
	return d.load(ctx, gen, spec)
}

// Refresh reloads the current selection.
func (d *Dashboard) Refresh(ctx context.Context) (Snapshot, error) {
	d.mu.Lock()
	gen, spec := d.beginLocked()
	d.mu.Unlock()
	return d.load(ctx, gen, spec)
}

func (d *Dashboard) beginLocked() (uint64, filter.Spec) {
	d.gen++
	d.status = StatusLoading
	return d.gen, d.spec
}

func (d *Dashboard) load(
	ctx context.Context, gen uint64, spec filter.Spec,
) (Snapshot, error) {
	caller := ctx
	if d.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.fetchTimeout)
		defer cancel()
	}
	start := time.Now()
	views, err := d.Derive(ctx, spec)
	elapsed := time.Since(start)

	d.mu.Lock()
	defer d.mu.Unlock()
	if gen != d.gen {
		d.metrics.ObserveFetch(metrics.FetchSuperseded, elapsed)
		d.logger.Debug().
			Uint64("generation", gen).
			Uint64("latest", d.gen).
			Msg("discarding superseded dashboard fetch")
		return d.snapshotLocked(), ErrSuperseded
	}
	if err != nil && caller.Err() != nil {
		// The caller went away. Other readers keep the last outcome.
		d.metrics.ObserveFetch(metrics.FetchAbandoned, elapsed)
		d.status = d.settledLocked()
		d.logger.Debug().Err(err).
			Str("filter", spec.Key()).
			Msg("dashboard fetch abandoned by caller")
		return d.snapshotLocked(), fmt.Errorf("dashboard fetch abandoned: %w", caller.Err())
	}
	if err != nil {
		d.metrics.ObserveFetch(metrics.FetchError, elapsed)
		d.status = StatusError
		d.lastErr = &FetchError{Err: err}
		d.logger.Warn().Err(err).
			Str("filter", spec.Key()).
			Msg("dashboard fetch failed")
		return d.snapshotLocked(), d.lastErr
	}
	d.metrics.ObserveFetch(metrics.FetchOK, elapsed)
	d.views = &views
	d.status = StatusReady
	d.lastErr = nil
	d.logger.Debug().
		Str("filter", spec.Key()).
		Int("sessions", len(views.Sessions)).
		Dur("elapsed", elapsed).
		Msg("dashboard loaded")
	return d.snapshotLocked(), nil
}

// settledLocked is the status of the last completed fetch.
func (d *Dashboard) settledLocked() Status {
	switch {
	case d.lastErr != nil:
		return StatusError
	case d.views != nil:
		return StatusReady
	}
	return StatusIdle
}

// Derive fetches and derives views for spec without touching the
// live state. Out-of-scope selections short-circuit to empty views.
func (d *Dashboard) Derive(
	ctx context.Context, spec filter.Spec,
) (derive.Views, error) {
	if !spec.InScope() {
		return derive.Empty(spec), nil
	}
	var (
		overview model.Overview
		drivers  model.Drivers
		sessions []model.SessionRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		overview, err = d.provider.FetchOverview(gctx, spec)
		if err != nil {
			return fmt.Errorf("fetching overview: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		drivers, err = d.provider.FetchDrivers(gctx, spec)
		if err != nil {
			return fmt.Errorf("fetching drivers: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		sessions, err = d.provider.FetchSessions(gctx, spec)
		if err != nil {
			return fmt.Errorf("fetching sessions: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return derive.Views{}, err
	}
	return derive.Build(spec, overview, drivers, sessions), nil
}

// SessionDetail resolves a drilldown row of the committed views.
// It returns nil, nil for ids outside the current drilldown.
func (d *Dashboard) SessionDetail(
	ctx context.Context, id string,
) (*model.SessionDetail, error) {
	d.mu.Lock()
	var scope session.Scope
	if d.views != nil {
		scope = *d.views
	}
	d.mu.Unlock()
	return d.resolver.Resolve(ctx, scope, id)
}
