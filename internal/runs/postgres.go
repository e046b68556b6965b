package runs

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// PostgresRepository implements Repository on PostgreSQL.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: db, logger: logger}
}

// Record persists a completed run.
func (r *PostgresRepository) Record(ctx context.Context, run *Run) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO verification_runs
			(id, run_at, mode, scope, status, intact, total_entries, verified_entries,
			 broken_chain_id, broken_at_id, break_reason, expected, actual, error, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, run.ID, run.RunAt, run.Mode, run.Scope, run.Status, run.Intact,
		run.TotalEntries, run.VerifiedEntries,
		nullable(run.BrokenChainID), nullable(run.BrokenAtID), nullable(run.BreakReason),
		nullable(run.Expected), nullable(run.Actual), nullable(run.Error),
		run.DurationMS)
	if err != nil {
		return fmt.Errorf("failed to record verification run: %w", err)
	}
	return nil
}

// ListRecent returns the most recent runs, newest first.
func (r *PostgresRepository) ListRecent(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, run_at, mode, scope, status, intact, total_entries, verified_entries,
		       broken_chain_id, broken_at_id, break_reason, expected, actual, error, duration_ms
		FROM verification_runs
		ORDER BY run_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list verification runs: %w", err)
	}
	defer rows.Close()

	var results []*Run
	for rows.Next() {
		var (
			run       Run
			brokenCID sql.NullString
			brokenAt  sql.NullString
			reason    sql.NullString
			expected  sql.NullString
			actual    sql.NullString
			runErr    sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.RunAt, &run.Mode, &run.Scope, &run.Status, &run.Intact,
			&run.TotalEntries, &run.VerifiedEntries,
			&brokenCID, &brokenAt, &reason, &expected, &actual, &runErr, &run.DurationMS); err != nil {
			return nil, fmt.Errorf("failed to scan verification run: %w", err)
		}
		run.RunAt = run.RunAt.UTC()
		run.BrokenChainID = brokenCID.String
		run.BrokenAtID = brokenAt.String
		run.BreakReason = reason.String
		run.Expected = expected.String
		run.Actual = actual.String
		run.Error = runErr.String
		results = append(results, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate verification runs: %w", err)
	}
	return results, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
