package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/septivank/certificate-issuance-worker/internal/db"
	"github.com/septivank/certificate-issuance-worker/internal/interval"
	"github.com/septivank/certificate-issuance-worker/internal/window"
)

// GetSlidingWindow loads the window for meterID or returns ErrNotFound.
func (r *Repository) GetSlidingWindow(ctx context.Context, meterID string) (window.SlidingWindow, error) {
	query := `
		SELECT meter_id, synchronization_point, missing_intervals, version, updated_at
		FROM sliding_windows
		WHERE meter_id = $1
	`

	var row db.SlidingWindow
	err := r.pool.QueryRow(ctx, query, meterID).Scan(
		&row.MeterID,
		&row.SynchronizationPoint,
		&row.MissingIntervals,
		&row.Version,
		&row.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return window.SlidingWindow{}, ErrNotFound
	}
	if err != nil {
		return window.SlidingWindow{}, fmt.Errorf("failed to query sliding window: %w", err)
	}

	return windowFromRow(row)
}

// SaveSlidingWindow writes w if the stored version still equals w.Version and
// returns the window with its new version. A window with Version zero is
// inserted. Any lost race yields ErrConcurrencyConflict.
func (r *Repository) SaveSlidingWindow(ctx context.Context, w window.SlidingWindow) (window.SlidingWindow, error) {
	if w.Missing == nil {
		w.Missing = interval.MissingSet{}
	}
	missing, err := json.Marshal(w.Missing)
	if err != nil {
		return w, fmt.Errorf("failed to encode missing intervals: %w", err)
	}

	var query string
	args := []any{w.MeterID, w.SynchronizationPoint.Seconds(), missing}
	if w.Version == 0 {
		query = `
			INSERT INTO sliding_windows (meter_id, synchronization_point, missing_intervals, version, updated_at)
			VALUES ($1, $2, $3, 1, now())
			ON CONFLICT (meter_id) DO NOTHING
		`
	} else {
		query = `
			UPDATE sliding_windows
			SET synchronization_point = $2, missing_intervals = $3, version = version + 1, updated_at = now()
			WHERE meter_id = $1 AND version = $4
		`
		args = append(args, w.Version)
	}

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return w, fmt.Errorf("failed to save sliding window: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return w, fmt.Errorf("%w: sliding window %s at version %d", ErrConcurrencyConflict, w.MeterID, w.Version)
	}

	w.Version++
	return w, nil
}

func windowFromRow(row db.SlidingWindow) (window.SlidingWindow, error) {
	missing := interval.MissingSet{}
	if len(row.MissingIntervals) > 0 {
		if err := json.Unmarshal(row.MissingIntervals, &missing); err != nil {
			return window.SlidingWindow{}, fmt.Errorf("failed to decode missing intervals for %s: %w", row.MeterID, err)
		}
	}
	return window.SlidingWindow{
		MeterID:              row.MeterID,
		SynchronizationPoint: interval.Timestamp(row.SynchronizationPoint),
		Missing:              missing,
		Version:              int(row.Version),
	}, nil
}
