package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/adobe-rnd/aem-commerce-prerender/pkg/errkind"
)

const (
	// DefaultMaxTokens is the bucket capacity
	DefaultMaxTokens = 20

	// DefaultRefillRate is tokens added per second
	DefaultRefillRate = 20.0

	// DefaultAcquireTimeout bounds blocking acquires
	DefaultAcquireTimeout = 30 * time.Second

	minPollInterval = 5 * time.Millisecond
)

// Acquisition is the outcome of a non-blocking acquire attempt
type Acquisition struct {
	Allowed              bool
	TokensRemaining      int
	RequestsInLastSecond int
	RetryAfter           time.Duration
}

// Bucket is a token bucket. Refill is computed lazily on each call; no
// background goroutine runs.
type Bucket struct {
	mu         sync.Mutex
	maxTokens  int
	refillRate float64
	tokens     int
	lastRefill time.Time
	recent     []time.Time
	waiters    []chan struct{}
	now        func() time.Time
}

// NewBucket creates a full bucket with the given capacity and refill rate
func NewBucket(maxTokens int, refillRate float64) *Bucket {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if refillRate <= 0 {
		refillRate = DefaultRefillRate
	}
	b := &Bucket{
		maxTokens:  maxTokens,
		refillRate: refillRate,
		tokens:     maxTokens,
		now:        time.Now,
	}
	b.lastRefill = b.now()
	return b
}

// TryAcquire consumes one token if available, without blocking
func (b *Bucket) TryAcquire() Acquisition {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tryAcquireLocked()
}

func (b *Bucket) tryAcquireLocked() Acquisition {
	now := b.now()
	b.refillLocked(now)
	b.pruneLocked(now)

	if b.tokens > 0 {
		b.tokens--
		b.recent = append(b.recent, now)
		return Acquisition{
			Allowed:              true,
			TokensRemaining:      b.tokens,
			RequestsInLastSecond: len(b.recent),
		}
	}
	return Acquisition{
		TokensRemaining:      0,
		RequestsInLastSecond: len(b.recent),
		RetryAfter:           b.nextTokenDelayLocked(now),
	}
}

// Acquire blocks until a token is available or the timeout elapses. Waiters
// are served in FIFO order.
func (b *Bucket) Acquire(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultAcquireTimeout
	}
	deadline := b.now().Add(timeout)

	ch := make(chan struct{}, 1)
	b.mu.Lock()
	b.waiters = append(b.waiters, ch)
	b.mu.Unlock()
	defer b.removeWaiter(ch)

	for {
		b.mu.Lock()
		now := b.now()
		b.refillLocked(now)
		if len(b.waiters) > 0 && b.waiters[0] == ch && b.tokens > 0 {
			b.tokens--
			b.pruneLocked(now)
			b.recent = append(b.recent, now)
			b.mu.Unlock()
			return nil
		}
		wait := b.nextTokenDelayLocked(now)
		b.mu.Unlock()

		if wait < minPollInterval {
			wait = minPollInterval
		}
		remaining := deadline.Sub(b.now())
		if remaining <= 0 {
			return &errkind.RateLimited{RetryAfterMS: wait.Milliseconds()}
		}
		if wait > remaining {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (b *Bucket) removeWaiter(ch chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, w := range b.waiters {
		if w == ch {
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			return
		}
	}
}

// refillLocked adds floor(elapsed × rate) tokens and advances lastRefill by
// the integer number of intervals consumed
func (b *Bucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	add := int(math.Floor(elapsed * b.refillRate))
	if add <= 0 {
		return
	}
	b.tokens += add
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	consumed := time.Duration(float64(add) / b.refillRate * float64(time.Second))
	b.lastRefill = b.lastRefill.Add(consumed)
}

// pruneLocked drops request timestamps older than one second
func (b *Bucket) pruneLocked(now time.Time) {
	cutoff := now.Add(-time.Second)
	i := 0
	for i < len(b.recent) && !b.recent[i].After(cutoff) {
		i++
	}
	if i > 0 {
		b.recent = b.recent[i:]
	}
}

func (b *Bucket) nextTokenDelayLocked(now time.Time) time.Duration {
	interval := time.Duration(float64(time.Second) / b.refillRate)
	next := b.lastRefill.Add(interval)
	if next.Before(now) {
		return 0
	}
	return next.Sub(now)
}

// Tokens returns the current token count after a lazy refill
func (b *Bucket) Tokens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(b.now())
	return b.tokens
}
