// ABOUTME: Tests for the admission dedupe cache.
// ABOUTME: Validates TTL expiry on a mock clock, size limits, sweeping, and concurrency safety.

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func newCache(ttl time.Duration, maxSize int) (*Cache, *clock.Mock) {
	mock := clock.NewMock()
	return New(ttl, maxSize, mock), mock
}

func TestCache_Check_NotSeen(t *testing.T) {
	cache, _ := newCache(DefaultTTL, 100)

	assert.False(t, cache.Check("never-seen-key"))
}

func TestCache_Check_Seen(t *testing.T) {
	cache, mock := newCache(DefaultTTL, 100)

	cache.Mark("my-key", mock.Now())

	assert.True(t, cache.Check("my-key"))
}

func TestCache_Check_Expired(t *testing.T) {
	cache, mock := newCache(DefaultTTL, 100)

	cache.Mark("expiring-key", mock.Now())
	assert.True(t, cache.Check("expiring-key"))

	mock.Add(DefaultTTL)
	assert.True(t, cache.Check("expiring-key"), "entry lives for the full window")

	mock.Add(time.Millisecond)
	assert.False(t, cache.Check("expiring-key"))
}

func TestCache_OriginTimeCounts(t *testing.T) {
	cache, mock := newCache(DefaultTTL, 100)

	// an event that originated 15s ago only has 5s left
	cache.Mark("late-key", mock.Now().Add(-15*time.Second))
	mock.Add(4 * time.Second)
	assert.True(t, cache.Check("late-key"))
	mock.Add(2 * time.Second)
	assert.False(t, cache.Check("late-key"))
}

func TestCache_Mark_UpdatesTimestamp(t *testing.T) {
	cache, mock := newCache(50*time.Millisecond, 100)

	cache.Mark("refresh-key", mock.Now())
	mock.Add(30 * time.Millisecond)

	cache.Mark("refresh-key", mock.Now())
	mock.Add(30 * time.Millisecond)

	// Should still be present because we refreshed
	assert.True(t, cache.Check("refresh-key"))
}

func TestCache_EvictionOrder(t *testing.T) {
	cache, mock := newCache(5*time.Minute, 3)

	cache.Mark("first", mock.Now())
	cache.Mark("second", mock.Now())
	cache.Mark("third", mock.Now())

	assert.True(t, cache.Check("first"))
	assert.True(t, cache.Check("second"))
	assert.True(t, cache.Check("third"))

	// Add fourth - should evict "first" (oldest)
	cache.Mark("fourth", mock.Now())

	assert.False(t, cache.Check("first"), "first should be evicted")
	assert.True(t, cache.Check("second"))
	assert.True(t, cache.Check("third"))
	assert.True(t, cache.Check("fourth"))

	// Add fifth - should evict "second"
	cache.Mark("fifth", mock.Now())

	assert.False(t, cache.Check("second"), "second should be evicted")
	assert.Equal(t, 3, cache.Len())
}

func TestCache_Sweep(t *testing.T) {
	cache, mock := newCache(DefaultTTL, 100)

	cache.Mark("sweep-1", mock.Now())
	cache.Mark("sweep-2", mock.Now())
	mock.Add(10 * time.Second)
	cache.Mark("sweep-3", mock.Now())

	mock.Add(15 * time.Second)
	assert.Equal(t, 2, cache.Sweep())
	assert.Equal(t, 1, cache.Len())
	assert.True(t, cache.Check("sweep-3"))

	// sweeping again is a no-op
	assert.Equal(t, 0, cache.Sweep())
}

func TestCache_Concurrent(t *testing.T) {
	cache, mock := newCache(5*time.Minute, 1000)

	const numGoroutines = 100
	const opsPerGoroutine = 100

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				key := fmt.Sprintf("key-%d-%d", id%26, j%10)
				cache.Mark(key, mock.Now())
				cache.Check(key)
				if j%25 == 0 {
					cache.Sweep()
				}
			}
		}(i)
	}

	wg.Wait()

	cache.Mark("final-key", mock.Now())
	assert.True(t, cache.Check("final-key"))
}

func TestCache_CheckAndMark_NewKey(t *testing.T) {
	cache, mock := newCache(DefaultTTL, 100)

	assert.False(t, cache.CheckAndMark("new-key", mock.Now()), "first CheckAndMark should return false for new key")
	assert.True(t, cache.Check("new-key"), "key should be marked after CheckAndMark")
}

func TestCache_CheckAndMark_SeenKey(t *testing.T) {
	cache, mock := newCache(DefaultTTL, 100)

	cache.Mark("existing-key", mock.Now())

	assert.True(t, cache.CheckAndMark("existing-key", mock.Now()), "CheckAndMark should return true for already-seen key")
}

func TestCache_CheckAndMark_Expired(t *testing.T) {
	cache, mock := newCache(DefaultTTL, 100)

	assert.False(t, cache.CheckAndMark("expiring-key", mock.Now()))
	assert.True(t, cache.CheckAndMark("expiring-key", mock.Now()), "should be seen before expiry")

	mock.Add(DefaultTTL + time.Second)

	assert.False(t, cache.CheckAndMark("expiring-key", mock.Now()), "should not be seen after expiry")
}

func TestCache_CheckAndMark_Atomic(t *testing.T) {
	cache, mock := newCache(DefaultTTL, 100)

	const numGoroutines = 100

	var winners atomic.Int32
	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			if !cache.CheckAndMark("contested-key", mock.Now()) {
				winners.Add(1)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), winners.Load(),
		"exactly one goroutine should win the race for CheckAndMark")
}

func TestNew_Defaults(t *testing.T) {
	cache := New(DefaultTTL, 0, nil)

	cache.Mark("prod-key", time.Now())
	assert.True(t, cache.Check("prod-key"))
	assert.Equal(t, DefaultMaxSize, cache.maxSize)
}
