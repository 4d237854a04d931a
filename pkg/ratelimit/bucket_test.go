package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adobe-rnd/aem-commerce-prerender/pkg/errkind"
)

// TestTryAcquireDrainsBucket tests that a full bucket empties after capacity
// acquisitions
func TestTryAcquireDrainsBucket(t *testing.T) {
	b := NewBucket(3, 1)
	now := time.Now()
	b.now = func() time.Time { return now }
	b.lastRefill = now

	for i := 0; i < 3; i++ {
		acq := b.TryAcquire()
		assert.True(t, acq.Allowed, "acquire %d should succeed", i)
		assert.Equal(t, 2-i, acq.TokensRemaining)
	}

	acq := b.TryAcquire()
	assert.False(t, acq.Allowed)
	assert.Equal(t, 0, acq.TokensRemaining)
	assert.Greater(t, acq.RetryAfter, time.Duration(0))
}

// TestLazyRefill tests integer-interval refill semantics
func TestLazyRefill(t *testing.T) {
	tests := []struct {
		name       string
		rate       float64
		elapsed    time.Duration
		wantTokens int
	}{
		{name: "one token per second", rate: 1, elapsed: time.Second, wantTokens: 1},
		{name: "sub-interval elapses nothing", rate: 1, elapsed: 500 * time.Millisecond, wantTokens: 0},
		{name: "fractional floor", rate: 2, elapsed: 1750 * time.Millisecond, wantTokens: 3},
		{name: "capped at max", rate: 10, elapsed: time.Minute, wantTokens: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBucket(5, tt.rate)
			now := time.Now()
			b.now = func() time.Time { return now }
			b.lastRefill = now
			b.tokens = 0

			now = now.Add(tt.elapsed)
			assert.Equal(t, tt.wantTokens, b.Tokens())
		})
	}
}

// TestRefillAdvancesByConsumedIntervals tests that partial intervals are not
// lost between refills
func TestRefillAdvancesByConsumedIntervals(t *testing.T) {
	b := NewBucket(10, 1)
	start := time.Now()
	now := start
	b.now = func() time.Time { return now }
	b.lastRefill = start
	b.tokens = 0

	// 1.5s yields one token and leaves 0.5s of credit
	now = start.Add(1500 * time.Millisecond)
	assert.Equal(t, 1, b.Tokens())

	// Another 0.5s completes the second interval
	now = start.Add(2 * time.Second)
	assert.Equal(t, 2, b.Tokens())
}

// TestRequestsInLastSecond tests the sliding observation window
func TestRequestsInLastSecond(t *testing.T) {
	b := NewBucket(10, 1)
	start := time.Now()
	now := start
	b.now = func() time.Time { return now }
	b.lastRefill = start

	b.TryAcquire()
	b.TryAcquire()
	acq := b.TryAcquire()
	assert.Equal(t, 3, acq.RequestsInLastSecond)

	// Old requests fall out of the window
	now = start.Add(2 * time.Second)
	acq = b.TryAcquire()
	assert.Equal(t, 1, acq.RequestsInLastSecond)
}

// TestAcquireBlocksUntilRefill tests the blocking path
func TestAcquireBlocksUntilRefill(t *testing.T) {
	b := NewBucket(1, 100)

	acq := b.TryAcquire()
	require.True(t, acq.Allowed)

	start := time.Now()
	err := b.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	// One token at 100/s refills within ~10ms
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

// TestAcquireTimeout tests that a starved acquire returns RateLimited
func TestAcquireTimeout(t *testing.T) {
	b := NewBucket(1, 0.001)

	acq := b.TryAcquire()
	require.True(t, acq.Allowed)

	err := b.Acquire(context.Background(), 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errkind.IsRateLimited(err))
}

// TestAcquireContextCancel tests cancellation of a blocked acquire
func TestAcquireContextCancel(t *testing.T) {
	b := NewBucket(1, 0.001)
	b.TryAcquire()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := b.Acquire(ctx, 10*time.Second)
	assert.True(t, errors.Is(err, context.Canceled))
}

// TestAcquireFIFO tests that waiters are served in arrival order
func TestAcquireFIFO(t *testing.T) {
	b := NewBucket(1, 10)
	b.TryAcquire()

	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := b.Acquire(context.Background(), 5*time.Second); err == nil {
				mu.Lock()
				order = append(order, n)
				mu.Unlock()
			}
		}(i)
		// Stagger arrivals so queue order is deterministic
		time.Sleep(20 * time.Millisecond)
	}
	wg.Wait()

	require.Len(t, order, 3)
	assert.Equal(t, []int{0, 1, 2}, order)
}

// failKV always errors; used to verify fail-open behavior
type failKV struct{}

func (failKV) Get(string) ([]byte, bool, error) { return nil, false, errors.New("kv down") }
func (failKV) Put(string, []byte, time.Duration) error {
	return errors.New("kv down")
}
func (failKV) Delete(string) error { return nil }
func (failKV) Close() error        { return nil }

// kvMap is a minimal in-memory KV for persistent bucket tests
type kvMap map[string][]byte

func (m kvMap) Get(key string) ([]byte, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}
func (m kvMap) Put(key string, value []byte, _ time.Duration) error {
	m[key] = value
	return nil
}
func (m kvMap) Delete(key string) error { delete(m, key); return nil }
func (m kvMap) Close() error            { return nil }

// TestPersistentBucketDrain tests that state persists across instances
func TestPersistentBucketDrain(t *testing.T) {
	kv := kvMap{}
	now := time.Now()

	p1 := NewPersistentBucket(kv, 2, 0.001)
	p1.now = func() time.Time { return now }
	assert.True(t, p1.TryAcquire().Allowed)
	assert.True(t, p1.TryAcquire().Allowed)

	// A fresh instance over the same KV sees the drained bucket
	p2 := NewPersistentBucket(kv, 2, 0.001)
	p2.now = func() time.Time { return now }
	acq := p2.TryAcquire()
	assert.False(t, acq.Allowed)
}

// TestPersistentBucketFailsOpen tests that KV failures never block
func TestPersistentBucketFailsOpen(t *testing.T) {
	p := NewPersistentBucket(failKV{}, 1, 1)
	for i := 0; i < 5; i++ {
		assert.True(t, p.TryAcquire().Allowed)
	}
}

// TestPersistentBucketRefill tests lazy refill through the KV round trip
func TestPersistentBucketRefill(t *testing.T) {
	kv := kvMap{}
	now := time.Now()

	p := NewPersistentBucket(kv, 1, 1)
	p.now = func() time.Time { return now }
	require.True(t, p.TryAcquire().Allowed)
	require.False(t, p.TryAcquire().Allowed)

	p.now = func() time.Time { return now.Add(time.Second + 10*time.Millisecond) }
	assert.True(t, p.TryAcquire().Allowed)
}
