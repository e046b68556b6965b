package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"go.opentelemetry.io/otel/attribute"

	"github.com/clinichain/clinichain/internal/audit"
	"github.com/clinichain/clinichain/internal/secrets"
	"github.com/clinichain/clinichain/internal/tracing"
)

// Defaults for the whole-dataset fan-out.
const (
	DefaultConcurrency = 4
	DefaultBatchSize   = 500
)

// Verifier recomputes chain hashes and reports the first point of
// divergence per chain. It is strictly read-only over audit entries and
// safe to run concurrently with ongoing appends: a chain mid-write may
// simply not include its newest entry in this pass.
type Verifier struct {
	entries audit.EntryRepository
	cursors CursorRepository
	secrets secrets.Store
	logger  *slog.Logger

	// Concurrency bounds the worker pool for multi-chain passes.
	Concurrency int

	// BatchSize is the keyset-pagination page size for entry scans.
	BatchSize int
}

// NewVerifier creates a Verifier. The cursor repository is only needed
// for incremental verification and may be nil when unused.
func NewVerifier(entries audit.EntryRepository, cursors CursorRepository, store secrets.Store, logger *slog.Logger) (*Verifier, error) {
	if entries == nil {
		return nil, audit.ErrNilRepository
	}
	if store == nil {
		return nil, audit.ErrNilSecretStore
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		entries:     entries,
		cursors:     cursors,
		secrets:     store,
		logger:      logger,
		Concurrency: DefaultConcurrency,
		BatchSize:   DefaultBatchSize,
	}, nil
}

// chainOutcome is the result of scanning a single chain.
type chainOutcome struct {
	total    int64
	verified int64
	brk      *Break
	lastPos  audit.Position
	lastHash string
	err      error
}

// scanChain walks one chain from a starting position with a seeded
// running hash, applying the per-entry rules:
//
//   - grandfathered entries are counted but skipped; the running hash
//     does not advance across them, so the next hashed entry must link
//     to whatever came before the gap
//   - an unresolvable secret version is a break at that entry
//   - a recomputed hash that differs from the stored one is a break,
//     and the scan stops at the first break
func (v *Verifier) scanChain(ctx context.Context, chainID string, start audit.Position, seedHash string) (out chainOutcome) {
	ctx, endSpan := tracing.StartSpan(ctx, "verify_chain")
	tracing.SetAttributes(ctx, attribute.String("chain_id", chainID))
	defer func() {
		tracing.SetAttributes(ctx,
			attribute.Int64("entries_total", out.total),
			attribute.Int64("entries_verified", out.verified),
		)
		if out.brk != nil {
			tracing.AddEvent(ctx, "chain_break",
				attribute.String("entry_id", out.brk.EntryID),
				attribute.String("reason", out.brk.Reason),
			)
		}
		endSpan(out.err)
	}()

	out = chainOutcome{lastPos: start, lastHash: seedHash}
	running := seedHash
	pos := start
	batchSize := v.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	for {
		if err := ctx.Err(); err != nil {
			out.err = err
			return out
		}
		batch, err := v.entries.ListAfter(ctx, chainID, pos, batchSize)
		if err != nil {
			out.err = fmt.Errorf("failed to scan chain %s: %w", chainID, err)
			return out
		}
		if len(batch) == 0 {
			return out
		}
		for _, e := range batch {
			pos = audit.EntryPosition(e)
			out.total++

			if e.Grandfathered() {
				// Invisible to the chain: counted for reporting, but the
				// running hash is untouched.
				out.lastPos = pos
				continue
			}

			brk, expected, err := v.checkEntry(ctx, e, running)
			if err != nil {
				out.err = err
				return out
			}
			if brk != nil {
				out.brk = brk
				return out
			}

			out.verified++
			running = expected
			out.lastPos = pos
			out.lastHash = running
		}
		if len(batch) < batchSize {
			return out
		}
	}
}

// checkEntry verifies a single non-grandfathered entry against the
// running hash. Returns a Break for tamper-class findings and an error
// only for internal failures (e.g. the secret store is unreachable).
func (v *Verifier) checkEntry(ctx context.Context, e *audit.AuditEntry, running string) (*Break, string, error) {
	if e.SecretVersion <= 0 || e.PrevHash == nil {
		return &Break{ChainID: e.ChainID, EntryID: e.ID, Reason: ReasonMalformedEntry}, "", nil
	}

	// The stored link must match the running hash. The recomputed hash
	// below is seeded from the running hash, not the stored prev_hash, so
	// without this check a mutated prev_hash would pass unnoticed.
	if !audit.HashEqual(*e.PrevHash, running) {
		return &Break{
			ChainID:  e.ChainID,
			EntryID:  e.ID,
			Reason:   ReasonHashMismatch,
			Expected: running,
			Actual:   *e.PrevHash,
		}, "", nil
	}

	secret, err := v.secrets.GetSecret(ctx, e.SecretVersion)
	if errors.Is(err, secrets.ErrMissingSecret) {
		return &Break{ChainID: e.ChainID, EntryID: e.ID, Reason: ReasonMissingSecret}, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve secret for entry %s: %w", e.ID, err)
	}

	expected, err := audit.ComputeHash(secret, running, e)
	if errors.Is(err, audit.ErrMalformedEntry) {
		return &Break{ChainID: e.ChainID, EntryID: e.ID, Reason: ReasonMalformedEntry}, "", nil
	}
	if err != nil {
		return nil, "", err
	}

	if !audit.HashEqual(expected, *e.Hash) {
		return &Break{
			ChainID:  e.ChainID,
			EntryID:  e.ID,
			Reason:   ReasonHashMismatch,
			Expected: expected,
			Actual:   *e.Hash,
		}, "", nil
	}
	return nil, expected, nil
}

// VerifyChain recomputes a single chain from scratch.
func (v *Verifier) VerifyChain(ctx context.Context, chainID string) (*Result, error) {
	out := v.scanChain(ctx, chainID, audit.Position{}, audit.SeedHash)
	if out.err != nil {
		return nil, out.err
	}
	return resultFromOutcomes([]chainOutcome{out}), nil
}

// VerifyAll recomputes every chain from scratch, fanning out across a
// bounded worker pool. Chains are processed in sorted order, and the
// reported break is the first one in that order regardless of which
// worker finished first. One chain's break or internal error never
// prevents the others from being checked.
func (v *Verifier) VerifyAll(ctx context.Context) (*Result, error) {
	chainIDs, err := v.entries.ChainIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list chains: %w", err)
	}
	sort.Strings(chainIDs)

	outcomes := v.forEachChain(ctx, chainIDs, func(ctx context.Context, chainID string) chainOutcome {
		return v.scanChain(ctx, chainID, audit.Position{}, audit.SeedHash)
	})
	return v.aggregate(chainIDs, outcomes), nil
}

// VerifyIncremental checks only entries appended to a chain since its
// cursor. The cursor advances only when the whole range verifies; on a
// break or error the next run retries from the same position.
func (v *Verifier) VerifyIncremental(ctx context.Context, chainID string) (*Result, error) {
	out := v.incrementalChain(ctx, chainID)
	if out.err != nil {
		return nil, out.err
	}
	return resultFromOutcomes([]chainOutcome{out}), nil
}

// VerifyIncrementalAll runs incremental verification for every chain,
// fanning out like VerifyAll. Cursors advance independently per chain,
// so one broken chain does not stall the others' progress.
func (v *Verifier) VerifyIncrementalAll(ctx context.Context) (*Result, error) {
	chainIDs, err := v.entries.ChainIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list chains: %w", err)
	}
	sort.Strings(chainIDs)

	outcomes := v.forEachChain(ctx, chainIDs, v.incrementalChain)
	return v.aggregate(chainIDs, outcomes), nil
}

func (v *Verifier) incrementalChain(ctx context.Context, chainID string) chainOutcome {
	if v.cursors == nil {
		return chainOutcome{err: errors.New("incremental verification requires a cursor repository")}
	}

	start := audit.Position{}
	seed := audit.SeedHash
	cursor, err := v.cursors.Get(ctx, chainID)
	switch {
	case err == nil:
		start = audit.Position{CreatedAt: cursor.LastVerifiedAt, ID: cursor.LastVerifiedID}
		seed = cursor.LastGoodHash
	case errors.Is(err, ErrCursorNotFound):
		// First incremental run for this chain: start from the beginning.
	default:
		return chainOutcome{err: err}
	}

	out := v.scanChain(ctx, chainID, start, seed)
	if out.err != nil || out.brk != nil {
		return out
	}
	if out.total == 0 {
		// Nothing new since the cursor; leave it untouched.
		return out
	}

	if err := v.cursors.Upsert(ctx, &Cursor{
		ChainID:        chainID,
		LastVerifiedID: out.lastPos.ID,
		LastVerifiedAt: out.lastPos.CreatedAt,
		LastGoodHash:   out.lastHash,
	}); err != nil {
		out.err = err
	}
	return out
}

// forEachChain runs fn for every chain through a bounded worker pool and
// returns outcomes indexed to match chainIDs.
func (v *Verifier) forEachChain(ctx context.Context, chainIDs []string, fn func(context.Context, string) chainOutcome) []chainOutcome {
	outcomes := make([]chainOutcome, len(chainIDs))

	concurrency := v.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	var g errgroup.Group
	g.SetLimit(concurrency)
	var mu sync.Mutex
	for i, chainID := range chainIDs {
		g.Go(func() error {
			out := fn(ctx, chainID)
			mu.Lock()
			outcomes[i] = out
			mu.Unlock()
			return nil
		})
	}
	// Workers never return errors; failures are isolated per chain.
	_ = g.Wait()
	return outcomes
}

// aggregate folds per-chain outcomes into a single Result, preserving
// deterministic first-break semantics.
func (v *Verifier) aggregate(chainIDs []string, outcomes []chainOutcome) *Result {
	result := resultFromOutcomes(outcomes)
	for i, out := range outcomes {
		if out.err != nil {
			v.logger.Warn("chain verification error",
				slog.String("chain_id", chainIDs[i]),
				slog.String("error", out.err.Error()))
			result.ChainErrors = append(result.ChainErrors, ChainError{ChainID: chainIDs[i], Err: out.err})
		}
	}
	return result
}

func resultFromOutcomes(outcomes []chainOutcome) *Result {
	result := &Result{Intact: true, ChainsChecked: len(outcomes)}
	for _, out := range outcomes {
		result.TotalEntries += out.total
		result.VerifiedEntries += out.verified
		if out.brk != nil && result.Break == nil {
			result.Break = out.brk
			result.Intact = false
		}
	}
	return result
}
