package cache

import (
	"context"
	"sync"
	"time"

	"github.com/bizledger/backend/internal/domain/shared"
)

const cleanupInterval = 5 * time.Minute

type record struct {
	expiresAt time.Time
}

// InMemoryIdempotencyStore keeps processed payment keys in a map with TTL
// expiry. Suitable for single-instance deployments and tests; distributed
// deployments should use the Redis store so replicas share state.
type InMemoryIdempotencyStore struct {
	mu        sync.RWMutex
	records   map[string]record
	clock     shared.Clock
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewInMemoryIdempotencyStore creates the store and starts a background
// sweeper that evicts expired keys.
func NewInMemoryIdempotencyStore(clock shared.Clock) *InMemoryIdempotencyStore {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	store := &InMemoryIdempotencyStore{
		records:  make(map[string]record),
		clock:    clock,
		stopChan: make(chan struct{}),
	}

	store.wg.Add(1)
	go store.sweepLoop()

	return store
}

// MarkProcessed records a key for the given TTL. It returns true when the key
// was fresh and false when a live record already existed.
func (s *InMemoryIdempotencyStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if r, exists := s.records[key]; exists && now.Before(r.expiresAt) {
		return false, nil
	}

	s.records[key] = record{expiresAt: now.Add(ttl)}
	return true, nil
}

// IsProcessed reports whether a live record exists for the key.
func (s *InMemoryIdempotencyStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.records[key]
	if !exists {
		return false, nil
	}
	return s.clock.Now().Before(r.expiresAt), nil
}

// Release drops a claimed key so the submission it guarded can be retried.
// Unknown keys are ignored.
func (s *InMemoryIdempotencyStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, key)
	return nil
}

// Close stops the sweeper. Safe to call more than once.
func (s *InMemoryIdempotencyStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
	})
	return nil
}

func (s *InMemoryIdempotencyStore) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *InMemoryIdempotencyStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for key, r := range s.records {
		if now.After(r.expiresAt) {
			delete(s.records, key)
		}
	}
}

// Size returns the number of records currently held, expired or not
func (s *InMemoryIdempotencyStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

var _ shared.IdempotencyStore = (*InMemoryIdempotencyStore)(nil)
