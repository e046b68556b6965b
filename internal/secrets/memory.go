package secrets

import (
	"context"
	"fmt"
	"sync"
)

// InMemoryStore is an in-memory Store used in tests and development.
// Thread-safe via RWMutex.
type InMemoryStore struct {
	mu             sync.RWMutex
	versions       map[int][]byte
	defaultVersion int
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{versions: make(map[int][]byte)}
}

// GetSecret returns the key material for a version.
func (s *InMemoryStore) GetSecret(ctx context.Context, version int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	secret, ok := s.versions[version]
	if !ok {
		return nil, fmt.Errorf("%w: version %d", ErrMissingSecret, version)
	}
	out := make([]byte, len(secret))
	copy(out, secret)
	return out, nil
}

// AddSecret issues a new version; existing versions are never overwritten.
func (s *InMemoryStore) AddSecret(ctx context.Context, version int, secret []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if version <= 0 {
		return ErrInvalidVersion
	}
	if len(secret) == 0 {
		return ErrEmptySecret
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.versions[version]; ok {
		return fmt.Errorf("%w: version %d", ErrVersionExists, version)
	}
	stored := make([]byte, len(secret))
	copy(stored, secret)
	s.versions[version] = stored
	return nil
}

// SetDefaultVersion changes which version new appends use.
func (s *InMemoryStore) SetDefaultVersion(ctx context.Context, version int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.versions[version]; !ok {
		return fmt.Errorf("%w: version %d", ErrMissingSecret, version)
	}
	s.defaultVersion = version
	return nil
}

// DefaultVersion returns the version new appends should use.
func (s *InMemoryStore) DefaultVersion(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.defaultVersion == 0 {
		return 0, ErrNoDefaultVersion
	}
	return s.defaultVersion, nil
}
