package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clinichain/clinichain/internal/secrets"
	"github.com/clinichain/clinichain/internal/validate"
)

// DefaultMaxRetries is how many times an append is retried after a
// per-chain conflict before the conflict is surfaced to the caller.
const DefaultMaxRetries = 3

// conflictBackoff is the base delay between append retries; it doubles
// per attempt.
const conflictBackoff = 10 * time.Millisecond

// ErrTxUnsupported is returned by AppendTx when the configured
// repository cannot participate in a caller-owned transaction.
var ErrTxUnsupported = errors.New("repository does not support caller-owned transactions")

// TxAppender is implemented by repositories that can append inside a
// caller-owned transaction, letting a business write and its audit entry
// commit or roll back together.
type TxAppender interface {
	AppendEntryTx(ctx context.Context, tx *sql.Tx, draft *AuditEntry, compute ComputeFunc) (*AuditEntry, error)
}

// Writer appends hash-chained entries. It is the only component that
// creates audit entries; there is no update or delete path anywhere.
//
// Appends are fail-closed: if the default secret version cannot be
// resolved, no entry is written, and the caller must treat the business
// operation as failed.
type Writer struct {
	repo    EntryRepository
	secrets secrets.Store
	logger  *slog.Logger

	// MaxRetries bounds retries on ErrAppendConflict.
	MaxRetries int

	// Metrics is optional; nil disables instrumentation.
	Metrics *Metrics
}

// NewWriter creates a Writer. The repository and secret store are
// required.
func NewWriter(repo EntryRepository, store secrets.Store, logger *slog.Logger) (*Writer, error) {
	if repo == nil {
		return nil, ErrNilRepository
	}
	if store == nil {
		return nil, ErrNilSecretStore
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		repo:       repo,
		secrets:    store,
		logger:     logger,
		MaxRetries: DefaultMaxRetries,
	}, nil
}

// Append validates the request, computes the chain hash under the
// chain's append lock, and persists the entry in its own transaction.
func (w *Writer) Append(ctx context.Context, req AppendRequest) (*AuditEntry, error) {
	draft, err := w.draft(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	for attempt := 0; ; attempt++ {
		entry, err := w.repo.AppendEntry(ctx, draft, w.compute(ctx, draft))
		if err == nil {
			w.observeAppend("success", time.Since(start))
			w.logger.Debug("audit entry appended",
				slog.String("entry_id", entry.ID),
				slog.String("chain_id", entry.ChainID),
				slog.String("action", entry.Action),
				slog.Int("secret_version", entry.SecretVersion))
			return entry, nil
		}
		if !errors.Is(err, ErrAppendConflict) || attempt >= w.MaxRetries {
			w.observeAppend("failure", time.Since(start))
			return nil, err
		}
		if w.Metrics != nil {
			w.Metrics.IncAppendConflicts()
		}
		w.logger.Debug("append conflict, retrying",
			slog.String("chain_id", draft.ChainID),
			slog.Int("attempt", attempt+1))
		if err := sleepContext(ctx, conflictBackoff<<attempt); err != nil {
			w.observeAppend("failure", time.Since(start))
			return nil, err
		}
	}
}

// AppendTx appends inside tx, which the caller commits or rolls back
// along with the business write being audited. Conflict retries are not
// possible here; the caller retries the whole transaction.
func (w *Writer) AppendTx(ctx context.Context, tx *sql.Tx, req AppendRequest) (*AuditEntry, error) {
	appender, ok := w.repo.(TxAppender)
	if !ok {
		return nil, ErrTxUnsupported
	}
	draft, err := w.draft(req)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	entry, err := appender.AppendEntryTx(ctx, tx, draft, w.compute(ctx, draft))
	if err != nil {
		w.observeAppend("failure", time.Since(start))
		return nil, err
	}
	w.observeAppend("success", time.Since(start))
	return entry, nil
}

func (w *Writer) draft(req AppendRequest) (*AuditEntry, error) {
	chainID, err := validate.ChainID(req.ChainID)
	if err != nil {
		return nil, fmt.Errorf("%w: chain_id: %v", ErrMalformedEntry, err)
	}
	action, err := validate.Action(req.Action)
	if err != nil {
		return nil, fmt.Errorf("%w: action: %v", ErrMalformedEntry, err)
	}
	resourceType, err := validate.ResourceType(req.ResourceType)
	if err != nil {
		return nil, fmt.Errorf("%w: resource_type: %v", ErrMalformedEntry, err)
	}
	resourceID := req.ResourceID
	if resourceID != nil {
		id, err := validate.ResourceID(*resourceID)
		if err != nil {
			return nil, fmt.Errorf("%w: resource_id: %v", ErrMalformedEntry, err)
		}
		resourceID = &id
	}
	metadata, err := NormalizeMetadata(req.Metadata)
	if err != nil {
		return nil, err
	}
	return &AuditEntry{
		ID:      uuid.New().String(),
		ChainID: chainID,
		// Microsecond precision survives the database round-trip intact.
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     metadata,
	}, nil
}

func (w *Writer) compute(ctx context.Context, draft *AuditEntry) ComputeFunc {
	return func(prevHash string) (string, int, error) {
		version, err := w.secrets.DefaultVersion(ctx)
		if err != nil {
			return "", 0, fmt.Errorf("failed to resolve default secret version: %w", err)
		}
		secret, err := w.secrets.GetSecret(ctx, version)
		if err != nil {
			return "", 0, fmt.Errorf("failed to load secret version %d: %w", version, err)
		}
		hash, err := ComputeHash(secret, prevHash, draft)
		if err != nil {
			return "", 0, err
		}
		return hash, version, nil
	}
}

func (w *Writer) observeAppend(status string, d time.Duration) {
	if w.Metrics == nil {
		return
	}
	w.Metrics.IncAppends(status)
	w.Metrics.ObserveAppendDuration(d.Seconds())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
