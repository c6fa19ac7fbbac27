package report

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/wesm/botsview/internal/model"
)

// Store persists history entries.
type Store interface {
	InsertReport(ctx context.Context, e model.ReportEntry) error
	// ListReports returns entries most recent first.
	ListReports(ctx context.Context) ([]model.ReportEntry, error)
}

// History is the append-only list of generated reports.
type History struct {
	mu      sync.RWMutex
	entries []model.ReportEntry // oldest first
	store   Store
}

// NewHistory returns an empty history. store may be nil for an
// in-memory history.
func NewHistory(store Store) *History {
	return &History{store: store}
}

// LoadHistory returns a history seeded from store.
func LoadHistory(ctx context.Context, store Store) (*History, error) {
	h := NewHistory(store)
	if store == nil {
		return h, nil
	}
	entries, err := store.ListReports(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading report history: %w", err)
	}
	slices.Reverse(entries)
	h.entries = entries
	return h, nil
}

// Append records a generated report. The entry is kept in memory
// even when the store write fails; the error is returned so the
// caller can log it.
func (h *History) Append(ctx context.Context, e model.ReportEntry) error {
	h.mu.Lock()
	h.entries = append(h.entries, e)
	h.mu.Unlock()
	if h.store == nil {
		return nil
	}
	if err := h.store.InsertReport(ctx, e); err != nil {
		return fmt.Errorf("storing report %s: %w", e.ID, err)
	}
	return nil
}

// List returns every entry, most recent first.
func (h *History) List() []model.ReportEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]model.ReportEntry, len(h.entries))
	for i, e := range h.entries {
		out[len(out)-1-i] = e
	}
	return out
}

// Len returns the number of entries.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}
