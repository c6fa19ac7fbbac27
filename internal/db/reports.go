package db

import (
	"context"
	"fmt"

	"github.com/wesm/botsview/internal/model"
)

// InsertReport appends a generated report to the history table.
func (db *DB) InsertReport(ctx context.Context, e model.ReportEntry) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.writer.ExecContext(ctx, `
		INSERT INTO reports (
			id, name, date_range, created_by, created_at,
			pdf_ref, csv_ref
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Name, e.DateRangeLabel, e.CreatedBy, e.CreatedAt,
		e.Downloads.PDF, e.Downloads.CSV)
	if err != nil {
		return fmt.Errorf("inserting report %s: %w", e.ID, err)
	}
	return nil
}

// ListReports returns every report, most recent first.
func (db *DB) ListReports(ctx context.Context) ([]model.ReportEntry, error) {
	rows, err := db.reader.QueryContext(ctx, `
		SELECT id, name, date_range, created_by, created_at,
			pdf_ref, csv_ref
		FROM reports ORDER BY seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying reports: %w", err)
	}
	defer rows.Close()

	out := []model.ReportEntry{}
	for rows.Next() {
		var e model.ReportEntry
		if err := rows.Scan(
			&e.ID, &e.Name, &e.DateRangeLabel, &e.CreatedBy,
			&e.CreatedAt, &e.Downloads.PDF, &e.Downloads.CSV,
		); err != nil {
			return nil, fmt.Errorf("scanning report: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating reports: %w", err)
	}
	return out, nil
}
