package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ComputeFunc derives the hash and secret version for a draft entry,
// given the chain's current last good hash. It runs inside the append's
// critical section so two concurrent appends can never observe the same
// previous hash.
type ComputeFunc func(prevHash string) (hash string, secretVersion int, err error)

// EntryRepository provides storage for audit entries. Entries are
// append-only: no implementation exposes an update or delete path.
type EntryRepository interface {
	// AppendEntry atomically appends an entry to its chain: serialize on
	// the chain, resolve the previous non-grandfathered hash (SeedHash if
	// none exists yet), invoke compute, and persist the completed entry.
	AppendEntry(ctx context.Context, draft *AuditEntry, compute ComputeFunc) (*AuditEntry, error)

	// ListAfter returns up to limit entries of a chain strictly after the
	// given position, ordered by (created_at, id) ascending. A zero
	// position starts from the beginning of the chain.
	ListAfter(ctx context.Context, chainID string, after Position, limit int) ([]*AuditEntry, error)

	// ChainIDs returns every distinct chain ID in ascending order, so
	// whole-dataset verification walks chains deterministically.
	ChainIDs(ctx context.Context) ([]string, error)
}

// InMemoryEntryRepository is an in-memory EntryRepository used in tests
// and development. Appends to the same chain serialize on a per-chain
// lock; unrelated chains do not contend.
type InMemoryEntryRepository struct {
	mu     sync.RWMutex
	chains map[string][]*AuditEntry
	locks  map[string]chan struct{}
}

// NewInMemoryEntryRepository creates an empty in-memory repository.
func NewInMemoryEntryRepository() *InMemoryEntryRepository {
	return &InMemoryEntryRepository{
		chains: make(map[string][]*AuditEntry),
		locks:  make(map[string]chan struct{}),
	}
}

// chainLock returns the chain's lock channel. Holding the lock means
// holding the single token in the channel.
func (r *InMemoryEntryRepository) chainLock(chainID string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[chainID]
	if !ok {
		l = make(chan struct{}, 1)
		r.locks[chainID] = l
	}
	return l
}

// AppendEntry atomically appends an entry to its chain. If the chain's
// lock cannot be acquired before the context is done, it returns
// ErrChainLocked.
func (r *InMemoryEntryRepository) AppendEntry(ctx context.Context, draft *AuditEntry, compute ComputeFunc) (*AuditEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l := r.chainLock(draft.ChainID)
	select {
	case l <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrChainLocked, ctx.Err())
	}
	defer func() { <-l }()

	prev := SeedHash
	r.mu.RLock()
	entries := r.chains[draft.ChainID]
	for i := len(entries) - 1; i >= 0; i-- {
		if !entries[i].Grandfathered() {
			prev = *entries[i].Hash
			break
		}
	}
	r.mu.RUnlock()

	hash, version, err := compute(prev)
	if err != nil {
		return nil, err
	}

	stored := *draft
	stored.PrevHash = &prev
	stored.Hash = &hash
	stored.SecretVersion = version

	r.mu.Lock()
	r.chains[stored.ChainID] = insertOrdered(r.chains[stored.ChainID], &stored)
	r.mu.Unlock()

	out := stored
	return &out, nil
}

// Insert stores a pre-built entry without hashing. It exists so tests
// and backfills can create grandfathered or deliberately corrupt rows.
func (r *InMemoryEntryRepository) Insert(ctx context.Context, e *AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := *e
	r.mu.Lock()
	r.chains[stored.ChainID] = insertOrdered(r.chains[stored.ChainID], &stored)
	r.mu.Unlock()
	return nil
}

// Tamper mutates a stored entry in place, bypassing immutability. Test
// helper for simulating out-of-band corruption.
func (r *InMemoryEntryRepository) Tamper(chainID, id string, mutate func(*AuditEntry)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.chains[chainID] {
		if e.ID == id {
			mutate(e)
			return true
		}
	}
	return false
}

// ListAfter returns up to limit entries strictly after the position.
func (r *InMemoryEntryRepository) ListAfter(ctx context.Context, chainID string, after Position, limit int) ([]*AuditEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*AuditEntry
	for _, e := range r.chains[chainID] {
		if !after.IsZero() && !after.Before(EntryPosition(e)) {
			continue
		}
		copied := *e
		results = append(results, &copied)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}

// ChainIDs returns all chain IDs in ascending order.
func (r *InMemoryEntryRepository) ChainIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.chains))
	for id := range r.chains {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// insertOrdered keeps a chain's slice sorted by (created_at, id) even if
// a test seeds entries out of order.
func insertOrdered(entries []*AuditEntry, e *AuditEntry) []*AuditEntry {
	pos := EntryPosition(e)
	i := sort.Search(len(entries), func(i int) bool {
		return pos.Before(EntryPosition(entries[i]))
	})
	entries = append(entries, nil)
	copy(entries[i+1:], entries[i:])
	entries[i] = e
	return entries
}
