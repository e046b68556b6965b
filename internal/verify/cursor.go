// Package verify implements full and incremental verification of audit
// hash chains.
package verify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCursorNotFound is returned when a chain has no persisted cursor yet.
var ErrCursorNotFound = errors.New("chain cursor not found")

// Cursor is a per-chain bookmark recording how far incremental
// verification has successfully progressed. It advances only when a full
// incremental pass over its range succeeds; a break or an aborted run
// leaves it untouched so the next run retries from the same position.
type Cursor struct {
	ChainID        string
	LastVerifiedID string
	LastVerifiedAt time.Time
	LastGoodHash   string
}

// CursorRepository provides storage for chain cursors.
type CursorRepository interface {
	// Get returns the cursor for a chain, or ErrCursorNotFound.
	Get(ctx context.Context, chainID string) (*Cursor, error)

	// Upsert creates or advances a chain's cursor.
	Upsert(ctx context.Context, cursor *Cursor) error
}

// InMemoryCursorRepository is an in-memory CursorRepository for tests.
// Thread-safe via RWMutex.
type InMemoryCursorRepository struct {
	mu      sync.RWMutex
	cursors map[string]*Cursor
}

// NewInMemoryCursorRepository creates an empty in-memory repository.
func NewInMemoryCursorRepository() *InMemoryCursorRepository {
	return &InMemoryCursorRepository{cursors: make(map[string]*Cursor)}
}

// Get returns the cursor for a chain.
func (r *InMemoryCursorRepository) Get(ctx context.Context, chainID string) (*Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cursors[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: chain %s", ErrCursorNotFound, chainID)
	}
	copied := *c
	return &copied, nil
}

// Upsert creates or advances a chain's cursor.
func (r *InMemoryCursorRepository) Upsert(ctx context.Context, cursor *Cursor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := *cursor
	r.mu.Lock()
	r.cursors[stored.ChainID] = &stored
	r.mu.Unlock()
	return nil
}

// PostgresCursorRepository implements CursorRepository on PostgreSQL.
type PostgresCursorRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresCursorRepository creates a new PostgresCursorRepository.
func NewPostgresCursorRepository(db *sql.DB, logger *slog.Logger) *PostgresCursorRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresCursorRepository{db: db, logger: logger}
}

// Get returns the cursor for a chain.
func (r *PostgresCursorRepository) Get(ctx context.Context, chainID string) (*Cursor, error) {
	var c Cursor
	err := r.db.QueryRowContext(ctx, `
		SELECT chain_id, last_verified_id, last_verified_created_at, last_good_hash
		FROM chain_cursors
		WHERE chain_id = $1
	`, chainID).Scan(&c.ChainID, &c.LastVerifiedID, &c.LastVerifiedAt, &c.LastGoodHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: chain %s", ErrCursorNotFound, chainID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load chain cursor: %w", err)
	}
	c.LastVerifiedAt = c.LastVerifiedAt.UTC()
	return &c, nil
}

// Upsert creates or advances a chain's cursor.
func (r *PostgresCursorRepository) Upsert(ctx context.Context, cursor *Cursor) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO chain_cursors (chain_id, last_verified_id, last_verified_created_at, last_good_hash, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (chain_id) DO UPDATE SET
			last_verified_id = EXCLUDED.last_verified_id,
			last_verified_created_at = EXCLUDED.last_verified_created_at,
			last_good_hash = EXCLUDED.last_good_hash,
			updated_at = NOW()
	`, cursor.ChainID, cursor.LastVerifiedID, cursor.LastVerifiedAt, cursor.LastGoodHash)
	if err != nil {
		return fmt.Errorf("failed to upsert chain cursor: %w", err)
	}
	return nil
}
