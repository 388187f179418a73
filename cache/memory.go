package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// entry is a stored value with its expiry. A zero expiresAt means no expiry.
type entry struct {
	value     any
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore is an in-process Store backed by a map with lazy expiry.
// Single-flight semantics for GetOrCompute are provided by
// golang.org/x/sync/singleflight.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*entry
	flight  singleflight.Group
	logger  *slog.Logger
}

var _ Store = (*MemoryStore)(nil)

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *MemoryStore) {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
	}
}

// NewMemoryStore creates an empty in-memory cache store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*entry),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the cached value for key. Expired entries are treated as misses
// and removed.
func (s *MemoryStore) Get(key string) (any, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if e.expired(time.Now()) {
		s.Delete(key)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key with the given TTL.
func (s *MemoryStore) Set(key string, value any, ttl time.Duration) {
	e := &entry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
}

// Delete removes the entry for key, if present.
func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// GetOrCompute returns the cached value for key, computing it on miss with
// at most one in-flight computation per key. Waiting on an in-flight
// computation is cancellable through ctx; cancelling a waiter does not cancel
// the shared computation, which other callers may still be waiting on.
func (s *MemoryStore) GetOrCompute(ctx context.Context, key string, fn ComputeFunc, ttl time.Duration) (any, error) {
	if v, ok := s.Get(key); ok {
		return v, nil
	}

	ch := s.flight.DoChan(key, func() (any, error) {
		// Re-check under the flight: a concurrent caller may have completed
		// the computation between our miss and joining the flight.
		if v, ok := s.Get(key); ok {
			return v, nil
		}
		// Detach from the initiating caller so one waiter's cancellation
		// cannot fail the computation for the others.
		v, err := fn(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		s.Set(key, v, ttl)
		return v, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			s.logger.Debug("shared in-flight cache computation", "key", key)
		}
		return res.Val, nil
	}
}

// Len returns the number of entries currently stored, including entries that
// have expired but not yet been evicted.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Purge removes all expired entries and returns how many were removed.
func (s *MemoryStore) Purge() int {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}
