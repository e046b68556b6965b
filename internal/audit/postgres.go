package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/clinichain/clinichain/internal/tracing"
)

// PostgresEntryRepository implements EntryRepository on PostgreSQL.
// Per-chain serialization uses a transaction-scoped advisory lock keyed
// by the chain ID, so appends to different chains never contend.
type PostgresEntryRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresEntryRepository creates a new PostgresEntryRepository.
func NewPostgresEntryRepository(db *sql.DB, logger *slog.Logger) *PostgresEntryRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresEntryRepository{db: db, logger: logger}
}

// AppendEntry atomically appends an entry within its own transaction.
func (r *PostgresEntryRepository) AppendEntry(ctx context.Context, draft *AuditEntry, compute ComputeFunc) (entry *AuditEntry, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_entries", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	// No-op after a successful commit.
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			r.logger.Warn("failed to rollback append transaction",
				slog.String("error", err.Error()),
				slog.String("chain_id", draft.ChainID))
		}
	}()

	entry, err = r.appendInTx(ctx, tx, draft, compute)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit append: %w", mapPQError(err))
	}
	return entry, nil
}

// AppendEntryTx appends an entry inside a caller-owned transaction so a
// business write and its audit entry commit or roll back together. The
// caller remains responsible for commit/rollback.
func (r *PostgresEntryRepository) AppendEntryTx(ctx context.Context, tx *sql.Tx, draft *AuditEntry, compute ComputeFunc) (*AuditEntry, error) {
	return r.appendInTx(ctx, tx, draft, compute)
}

func (r *PostgresEntryRepository) appendInTx(ctx context.Context, tx *sql.Tx, draft *AuditEntry, compute ComputeFunc) (*AuditEntry, error) {
	// Transaction-scoped lock: serializes appends per chain and releases
	// automatically at commit or rollback.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1)::bigint)`, draft.ChainID); err != nil {
		return nil, fmt.Errorf("failed to lock chain: %w", mapPQError(err))
	}

	prev := SeedHash
	var lastHash string
	err := tx.QueryRowContext(ctx, `
		SELECT hash FROM audit_entries
		WHERE chain_id = $1 AND hash IS NOT NULL
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, draft.ChainID).Scan(&lastHash)
	switch {
	case err == nil:
		prev = lastHash
	case errors.Is(err, sql.ErrNoRows):
		// First hashed entry in the chain; keep the seed.
	default:
		return nil, fmt.Errorf("failed to read last chain hash: %w", mapPQError(err))
	}

	hash, version, err := compute(prev)
	if err != nil {
		return nil, err
	}

	metadata, err := json.Marshal(draft.Metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_entries
			(id, chain_id, created_at, action, resource_type, resource_id, metadata, secret_version, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, draft.ID, draft.ChainID, draft.CreatedAt, draft.Action, draft.ResourceType,
		draft.ResourceID, metadata, version, prev, hash)
	if err != nil {
		r.logger.Error("failed to insert audit entry",
			slog.String("error", err.Error()),
			slog.String("chain_id", draft.ChainID),
			slog.String("action", draft.Action))
		return nil, fmt.Errorf("failed to insert audit entry: %w", mapPQError(err))
	}

	entry := *draft
	entry.PrevHash = &prev
	entry.Hash = &hash
	entry.SecretVersion = version
	return &entry, nil
}

// ListAfter returns up to limit entries of a chain strictly after the
// position, ordered by (created_at, id) ascending.
func (r *PostgresEntryRepository) ListAfter(ctx context.Context, chainID string, after Position, limit int) (results []*AuditEntry, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_entries", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	// A zero position scans from the start of the chain. It must not bind
	// the keyset parameters: the id column is uuid and the empty string is
	// not a valid uuid literal, so the bind itself would fail.
	query := `
		SELECT id, chain_id, created_at, action, resource_type, resource_id, metadata, secret_version, prev_hash, hash
		FROM audit_entries
		WHERE chain_id = $1
		ORDER BY created_at, id
		LIMIT $2
	`
	args := []any{chainID, limit}
	if !after.IsZero() {
		query = `
			SELECT id, chain_id, created_at, action, resource_type, resource_id, metadata, secret_version, prev_hash, hash
			FROM audit_entries
			WHERE chain_id = $1 AND (created_at, id) > ($2, $3)
			ORDER BY created_at, id
			LIMIT $4
		`
		args = []any{chainID, after.CreatedAt, after.ID, limit}
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", mapPQError(err))
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return results, nil
}

// ChainIDs returns all distinct chain IDs in ascending order.
func (r *PostgresEntryRepository) ChainIDs(ctx context.Context) (ids []string, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_entries", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT chain_id FROM audit_entries ORDER BY chain_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list chain ids: %w", mapPQError(err))
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan chain id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chain ids: %w", err)
	}
	return ids, nil
}

func scanEntry(rows *sql.Rows) (*AuditEntry, error) {
	var (
		e             AuditEntry
		resourceID    sql.NullString
		metadata      []byte
		secretVersion sql.NullInt64
		prevHash      sql.NullString
		hash          sql.NullString
	)
	if err := rows.Scan(&e.ID, &e.ChainID, &e.CreatedAt, &e.Action, &e.ResourceType,
		&resourceID, &metadata, &secretVersion, &prevHash, &hash); err != nil {
		return nil, fmt.Errorf("failed to scan audit entry: %w", err)
	}
	if resourceID.Valid {
		e.ResourceID = &resourceID.String
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("%w: invalid stored metadata for entry %s: %v", ErrMalformedEntry, e.ID, err)
		}
	}
	if secretVersion.Valid {
		e.SecretVersion = int(secretVersion.Int64)
	}
	if prevHash.Valid {
		e.PrevHash = &prevHash.String
	}
	if hash.Valid {
		e.Hash = &hash.String
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

// mapPQError converts lock/serialization contention and duplicate-key
// violations to ErrAppendConflict so the Writer can retry them.
func mapPQError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "23505", "55P03":
			return fmt.Errorf("%w: %v", ErrAppendConflict, err)
		}
	}
	return err
}
