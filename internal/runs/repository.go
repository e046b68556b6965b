package runs

import (
	"context"
	"sync"
)

// Repository provides append-only storage for verification runs.
type Repository interface {
	// Record persists a completed run. Runs are never updated.
	Record(ctx context.Context, run *Run) error

	// ListRecent returns the most recent runs, newest first.
	ListRecent(ctx context.Context, limit int) ([]*Run, error)
}

// InMemoryRepository is an in-memory Repository used in tests and
// development. Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu   sync.RWMutex
	runs []*Run
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{}
}

// Record persists a completed run.
func (r *InMemoryRepository) Record(ctx context.Context, run *Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := *run
	r.mu.Lock()
	r.runs = append(r.runs, &stored)
	r.mu.Unlock()
	return nil
}

// ListRecent returns the most recent runs, newest first.
func (r *InMemoryRepository) ListRecent(ctx context.Context, limit int) ([]*Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*Run
	for i := len(r.runs) - 1; i >= 0; i-- {
		copied := *r.runs[i]
		results = append(results, &copied)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, nil
}
