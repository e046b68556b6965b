package secrets

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// InvalidationChannel is the Redis pub/sub channel used to propagate
// secret-store mutations to every process without a restart.
const InvalidationChannel = "audit:secrets:invalidate"

// DefaultVersionTTL bounds how stale a cached default version may get in
// the absence of an invalidation message (e.g. Redis not configured).
const DefaultVersionTTL = 30 * time.Second

// CachingStore is a read-through cache around a Store. Key material is
// immutable once issued and cached indefinitely; the default version is
// cached with a short TTL and invalidated across processes via Redis
// pub/sub when a mutation happens.
type CachingStore struct {
	inner  Store
	rdb    *redis.Client
	logger *slog.Logger

	// TTL for the cached default version.
	TTL time.Duration

	mu             sync.RWMutex
	secrets        map[int][]byte
	defaultVersion int
	defaultLoaded  time.Time
}

// NewCachingStore wraps inner with caching. rdb may be nil, in which
// case invalidation falls back to TTL expiry only.
func NewCachingStore(inner Store, rdb *redis.Client, logger *slog.Logger) *CachingStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachingStore{
		inner:   inner,
		rdb:     rdb,
		logger:  logger,
		TTL:     DefaultVersionTTL,
		secrets: make(map[int][]byte),
	}
}

// Start subscribes to the invalidation channel until ctx is cancelled.
// No-op when Redis is not configured.
func (s *CachingStore) Start(ctx context.Context) {
	if s.rdb == nil {
		return
	}
	pubsub := s.rdb.Subscribe(ctx, InvalidationChannel)
	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				s.Invalidate()
				s.logger.Debug("secret cache invalidated")
			}
		}
	}()
}

// Invalidate drops the cached default version. Cached key material is
// kept: issued versions are immutable.
func (s *CachingStore) Invalidate() {
	s.mu.Lock()
	s.defaultLoaded = time.Time{}
	s.mu.Unlock()
}

// GetSecret returns the key material for a version, caching hits forever.
func (s *CachingStore) GetSecret(ctx context.Context, version int) ([]byte, error) {
	s.mu.RLock()
	secret, ok := s.secrets[version]
	s.mu.RUnlock()
	if ok {
		return secret, nil
	}

	secret, err := s.inner.GetSecret(ctx, version)
	if err != nil {
		// Misses are not cached: the version may be issued later.
		return nil, err
	}
	s.mu.Lock()
	s.secrets[version] = secret
	s.mu.Unlock()
	return secret, nil
}

// AddSecret issues a new version and notifies other processes.
func (s *CachingStore) AddSecret(ctx context.Context, version int, secret []byte) error {
	if err := s.inner.AddSecret(ctx, version, secret); err != nil {
		return err
	}
	s.publishInvalidation(ctx)
	return nil
}

// SetDefaultVersion changes the default and notifies other processes.
func (s *CachingStore) SetDefaultVersion(ctx context.Context, version int) error {
	if err := s.inner.SetDefaultVersion(ctx, version); err != nil {
		return err
	}
	s.Invalidate()
	s.publishInvalidation(ctx)
	return nil
}

// DefaultVersion returns the version new appends should use, from cache
// when fresh.
func (s *CachingStore) DefaultVersion(ctx context.Context) (int, error) {
	s.mu.RLock()
	version, loaded := s.defaultVersion, s.defaultLoaded
	s.mu.RUnlock()
	if !loaded.IsZero() && time.Since(loaded) < s.TTL {
		return version, nil
	}

	version, err := s.inner.DefaultVersion(ctx)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.defaultVersion = version
	s.defaultLoaded = time.Now()
	s.mu.Unlock()
	return version, nil
}

func (s *CachingStore) publishInvalidation(ctx context.Context) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Publish(ctx, InvalidationChannel, "invalidate").Err(); err != nil {
		// The mutation itself committed; peers fall back to TTL expiry.
		s.logger.Warn("failed to publish secret cache invalidation",
			slog.String("error", err.Error()))
	}
}
