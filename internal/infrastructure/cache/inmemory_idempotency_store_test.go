package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// steppingClock lets tests advance time without sleeping
type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func newSteppingClock() *steppingClock {
	return &steppingClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *steppingClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestInMemoryIdempotencyStore_MarkProcessed(t *testing.T) {
	clock := newSteppingClock()
	store := NewInMemoryIdempotencyStore(clock)
	defer store.Close()

	ctx := context.Background()

	t.Run("marks a fresh key", func(t *testing.T) {
		fresh, err := store.MarkProcessed(ctx, "payment:key-1", time.Hour)
		require.NoError(t, err)
		assert.True(t, fresh)
	})

	t.Run("rejects a replayed key", func(t *testing.T) {
		fresh, err := store.MarkProcessed(ctx, "payment:key-2", time.Hour)
		require.NoError(t, err)
		assert.True(t, fresh)

		fresh, err = store.MarkProcessed(ctx, "payment:key-2", time.Hour)
		require.NoError(t, err)
		assert.False(t, fresh, "replayed key should not be fresh")
	})

	t.Run("accepts the key again after the TTL passes", func(t *testing.T) {
		fresh, err := store.MarkProcessed(ctx, "payment:key-3", time.Minute)
		require.NoError(t, err)
		assert.True(t, fresh)

		clock.Advance(2 * time.Minute)

		fresh, err = store.MarkProcessed(ctx, "payment:key-3", time.Minute)
		require.NoError(t, err)
		assert.True(t, fresh, "expired key should be claimable again")
	})
}

func TestInMemoryIdempotencyStore_IsProcessed(t *testing.T) {
	clock := newSteppingClock()
	store := NewInMemoryIdempotencyStore(clock)
	defer store.Close()

	ctx := context.Background()

	processed, err := store.IsProcessed(ctx, "payment:unknown")
	require.NoError(t, err)
	assert.False(t, processed)

	_, err = store.MarkProcessed(ctx, "payment:known", time.Minute)
	require.NoError(t, err)

	processed, err = store.IsProcessed(ctx, "payment:known")
	require.NoError(t, err)
	assert.True(t, processed)

	clock.Advance(2 * time.Minute)

	processed, err = store.IsProcessed(ctx, "payment:known")
	require.NoError(t, err)
	assert.False(t, processed, "expired key should read as not processed")
}

func TestInMemoryIdempotencyStore_Release(t *testing.T) {
	store := NewInMemoryIdempotencyStore(newSteppingClock())
	defer store.Close()

	ctx := context.Background()

	fresh, err := store.MarkProcessed(ctx, "payment:retryable", time.Hour)
	require.NoError(t, err)
	require.True(t, fresh)

	require.NoError(t, store.Release(ctx, "payment:retryable"))

	// The key is claimable again well before its TTL
	fresh, err = store.MarkProcessed(ctx, "payment:retryable", time.Hour)
	require.NoError(t, err)
	assert.True(t, fresh, "released key should be claimable again")

	// Releasing a key that was never claimed is a no-op
	require.NoError(t, store.Release(ctx, "payment:unknown"))
}

func TestInMemoryIdempotencyStore_SweepEvictsExpired(t *testing.T) {
	clock := newSteppingClock()
	store := NewInMemoryIdempotencyStore(clock)
	defer store.Close()

	ctx := context.Background()
	_, err := store.MarkProcessed(ctx, "payment:short", time.Minute)
	require.NoError(t, err)
	_, err = store.MarkProcessed(ctx, "payment:long", time.Hour)
	require.NoError(t, err)
	require.Equal(t, 2, store.Size())

	clock.Advance(10 * time.Minute)
	store.sweep()

	assert.Equal(t, 1, store.Size())
}

func TestInMemoryIdempotencyStore_CloseIsIdempotent(t *testing.T) {
	store := NewInMemoryIdempotencyStore(nil)

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
}

func TestInMemoryIdempotencyStore_ConcurrentClaims(t *testing.T) {
	store := NewInMemoryIdempotencyStore(newSteppingClock())
	defer store.Close()

	ctx := context.Background()
	const writers = 20

	var wg sync.WaitGroup
	var mu sync.Mutex
	freshCount := 0

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fresh, err := store.MarkProcessed(ctx, "payment:contended", time.Hour)
			assert.NoError(t, err)
			if fresh {
				mu.Lock()
				freshCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, freshCount, "exactly one writer should claim the key")
}
