// Package session resolves drilldown rows to full session
// records.
package session

import (
	"context"
	"fmt"

	"github.com/wesm/botsview/internal/model"
)

// Fetcher loads a session record by id. It returns nil, nil when
// no such session exists.
type Fetcher interface {
	FetchSessionDetail(
		ctx context.Context, id string,
	) (*model.SessionDetail, error)
}

// Scope reports which ids the current drilldown contains.
type Scope interface {
	HasSession(id string) bool
}

// Resolver looks up session detail for ids in the current scope.
type Resolver struct {
	fetcher Fetcher
}

// NewResolver returns a Resolver backed by f.
func NewResolver(f Fetcher) *Resolver {
	return &Resolver{fetcher: f}
}

// Resolve returns the detail for id. It returns nil, nil when id is
// not a row of scope (for example a stale id from an earlier
// filter) or the provider has no record. An error means the
// provider itself failed.
func (r *Resolver) Resolve(
	ctx context.Context, scope Scope, id string,
) (*model.SessionDetail, error) {
	if id == "" || scope == nil || !scope.HasSession(id) {
		return nil, nil
	}
	detail, err := r.fetcher.FetchSessionDetail(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetching session %s: %w", id, err)
	}
	if detail == nil {
		return nil, nil
	}
	detail.Normalize()
	return detail, nil
}
