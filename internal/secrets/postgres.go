package secrets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
)

// PostgresStore implements Store on PostgreSQL. Secret versions live in
// their own tables, separate from application data; the API never mounts
// a read path over them.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: db, logger: logger}
}

// GetSecret returns the key material for a version.
func (s *PostgresStore) GetSecret(ctx context.Context, version int) ([]byte, error) {
	var secret []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT secret FROM secret_versions WHERE version = $1`, version).Scan(&secret)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: version %d", ErrMissingSecret, version)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load secret version %d: %w", version, err)
	}
	return secret, nil
}

// AddSecret issues a new version; duplicate versions are rejected so
// issued key material can never be silently replaced.
func (s *PostgresStore) AddSecret(ctx context.Context, version int, secret []byte) error {
	if version <= 0 {
		return ErrInvalidVersion
	}
	if len(secret) == 0 {
		return ErrEmptySecret
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO secret_versions (version, secret, created_at) VALUES ($1, $2, NOW())`,
		version, secret)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("%w: version %d", ErrVersionExists, version)
		}
		return fmt.Errorf("failed to add secret version %d: %w", version, err)
	}
	s.logger.Info("secret version added", slog.Int("version", version))
	return nil
}

// SetDefaultVersion changes which version new appends use. The version
// must exist; pointing the default at a missing key would make every
// subsequent append fail closed.
func (s *PostgresStore) SetDefaultVersion(ctx context.Context, version int) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.logger.Warn("failed to rollback default-version transaction",
				slog.String("error", err.Error()))
		}
	}()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM secret_versions WHERE version = $1)`, version).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check secret version %d: %w", version, err)
	}
	if !exists {
		return fmt.Errorf("%w: version %d", ErrMissingSecret, version)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO secret_config (id, default_version, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET default_version = EXCLUDED.default_version, updated_at = NOW()
	`, version)
	if err != nil {
		return fmt.Errorf("failed to set default secret version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit default secret version: %w", err)
	}
	s.logger.Info("default secret version changed", slog.Int("version", version))
	return nil
}

// DefaultVersion returns the version new appends should use.
func (s *PostgresStore) DefaultVersion(ctx context.Context) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx,
		`SELECT default_version FROM secret_config WHERE id = 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNoDefaultVersion
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load default secret version: %w", err)
	}
	return version, nil
}
