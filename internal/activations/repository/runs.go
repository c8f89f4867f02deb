package repository

import (
	"context"
	"fmt"
	"time"

	"activation_backend/internal/activations/domain"
)

// SaveRun inserts a run or updates the row with the same ID.
func (r *Repo) SaveRun(ctx context.Context, run domain.Run) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO activation_runs
			(id, trigger, started_at, finished_at, success, message,
			 demoted_count, incremented_count, created_count, diagnostics_count, watermark)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			success = EXCLUDED.success,
			message = EXCLUDED.message,
			demoted_count = EXCLUDED.demoted_count,
			incremented_count = EXCLUDED.incremented_count,
			created_count = EXCLUDED.created_count,
			diagnostics_count = EXCLUDED.diagnostics_count,
			watermark = EXCLUDED.watermark`,
		run.ID, string(run.Trigger), run.StartedAt, run.FinishedAt, run.Success, run.Message,
		run.DemotedCount, run.IncrementedCount, run.CreatedCount, run.DiagnosticsCount, run.Watermark,
	)
	if err != nil {
		return fmt.Errorf("save activation run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (r *Repo) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, trigger, started_at, finished_at, success, message,
		       demoted_count, incremented_count, created_count, diagnostics_count, watermark
		FROM activation_runs
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list activation runs: %w", err)
	}
	defer rows.Close()

	var out []domain.Run
	for rows.Next() {
		var run domain.Run
		var trigger string
		if err := rows.Scan(
			&run.ID, &trigger, &run.StartedAt, &run.FinishedAt, &run.Success, &run.Message,
			&run.DemotedCount, &run.IncrementedCount, &run.CreatedCount, &run.DiagnosticsCount, &run.Watermark,
		); err != nil {
			return nil, fmt.Errorf("scan activation run: %w", err)
		}
		run.Trigger = domain.RunTrigger(trigger)
		out = append(out, run)
	}
	return out, rows.Err()
}

// DeleteRunsBefore removes runs started before cutoff.
func (r *Repo) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM activation_runs WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete activation runs: %w", err)
	}
	return tag.RowsAffected(), nil
}
