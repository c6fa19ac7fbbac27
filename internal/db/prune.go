package db

import (
	"context"
	"fmt"

	"github.com/wesm/botsview/internal/filter"
)

// PruneFilter selects data older than a cutoff day, optionally
// limited to one bot.
type PruneFilter struct {
	Before string
	Bot    string
}

// Valid reports whether Before is a YYYY-MM-DD day.
func (f PruneFilter) Valid() bool {
	return filter.DateRange{From: f.Before, To: f.Before}.Valid()
}

// PruneCounts is the number of rows a prune touches.
type PruneCounts struct {
	Sessions int64
	Series   int64
}

func (f PruneFilter) where(dayCol string) (string, []any) {
	where := dayCol + " < ?"
	args := []any{f.Before}
	if f.Bot != "" {
		where += " AND bot = ?"
		args = append(args, f.Bot)
	}
	return where, args
}

// CountPrunable returns how many sessions and daily series values
// match f.
func (db *DB) CountPrunable(
	ctx context.Context, f PruneFilter,
) (PruneCounts, error) {
	var c PruneCounts
	if !f.Valid() {
		return c, fmt.Errorf("invalid prune date %q", f.Before)
	}
	where, args := f.where("day")
	if err := db.reader.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sessions WHERE "+where, args...,
	).Scan(&c.Sessions); err != nil {
		return c, fmt.Errorf("counting sessions: %w", err)
	}
	where, args = f.where("date")
	if err := db.reader.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM daily_series WHERE "+where, args...,
	).Scan(&c.Series); err != nil {
		return c, fmt.Errorf("counting series: %w", err)
	}
	return c, nil
}

// Prune deletes the sessions and daily series values matching f in
// one transaction.
func (db *DB) Prune(ctx context.Context, f PruneFilter) (PruneCounts, error) {
	var c PruneCounts
	if !f.Valid() {
		return c, fmt.Errorf("invalid prune date %q", f.Before)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.writer.BeginTx(ctx, nil)
	if err != nil {
		return c, fmt.Errorf("beginning prune: %w", err)
	}
	defer tx.Rollback()

	where, args := f.where("day")
	res, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE "+where, args...)
	if err != nil {
		return c, fmt.Errorf("pruning sessions: %w", err)
	}
	c.Sessions, _ = res.RowsAffected()

	where, args = f.where("date")
	res, err = tx.ExecContext(ctx, "DELETE FROM daily_series WHERE "+where, args...)
	if err != nil {
		return c, fmt.Errorf("pruning series: %w", err)
	}
	c.Series, _ = res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return PruneCounts{}, fmt.Errorf("committing prune: %w", err)
	}
	return c, nil
}
