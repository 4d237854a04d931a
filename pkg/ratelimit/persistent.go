package ratelimit

import (
	"encoding/json"
	"math"
	"time"

	"github.com/adobe-rnd/aem-commerce-prerender/pkg/log"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/storage"
)

const (
	// KVKey stores the shared bucket state between invocations
	KVKey = "rate_limiter/publishing_bucket"

	// stateTTL keeps stale bucket state from pinning the limiter forever
	stateTTL = 120 * time.Second
)

// bucketState is the KV representation of the bucket
type bucketState struct {
	Tokens     int         `json:"tokens"`
	LastRefill time.Time   `json:"last_refill"`
	Recent     []time.Time `json:"recent_request_timestamps"`
}

// PersistentBucket is a token bucket whose state survives process restarts
// via KV. On any KV failure it fails open: rate limiting must never block
// correctness.
type PersistentBucket struct {
	kv         storage.KV
	maxTokens  int
	refillRate float64
	now        func() time.Time
}

// NewPersistentBucket creates a KV-backed bucket
func NewPersistentBucket(kv storage.KV, maxTokens int, refillRate float64) *PersistentBucket {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if refillRate <= 0 {
		refillRate = DefaultRefillRate
	}
	return &PersistentBucket{
		kv:         kv,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		now:        time.Now,
	}
}

// TryAcquire reads, refills, decides, and writes back the bucket state
func (p *PersistentBucket) TryAcquire() Acquisition {
	logger := log.WithComponent("ratelimit")
	now := p.now()

	state, err := p.load(now)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to read bucket state, failing open")
		return Acquisition{Allowed: true, TokensRemaining: p.maxTokens}
	}

	// Lazy refill, integer intervals only
	elapsed := now.Sub(state.LastRefill).Seconds()
	if add := int(math.Floor(elapsed * p.refillRate)); add > 0 {
		state.Tokens += add
		if state.Tokens > p.maxTokens {
			state.Tokens = p.maxTokens
		}
		state.LastRefill = state.LastRefill.Add(time.Duration(float64(add) / p.refillRate * float64(time.Second)))
	}

	cutoff := now.Add(-time.Second)
	pruned := state.Recent[:0]
	for _, t := range state.Recent {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}
	state.Recent = pruned

	result := Acquisition{
		RequestsInLastSecond: len(state.Recent),
	}
	if state.Tokens > 0 {
		state.Tokens--
		state.Recent = append(state.Recent, now)
		result.Allowed = true
		result.TokensRemaining = state.Tokens
		result.RequestsInLastSecond = len(state.Recent)
	} else {
		interval := time.Duration(float64(time.Second) / p.refillRate)
		next := state.LastRefill.Add(interval)
		if next.After(now) {
			result.RetryAfter = next.Sub(now)
		}
	}

	if err := p.store(state); err != nil {
		logger.Warn().Err(err).Msg("failed to write bucket state, failing open")
		result.Allowed = true
	}
	return result
}

func (p *PersistentBucket) load(now time.Time) (*bucketState, error) {
	data, ok, err := p.kv.Get(KVKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &bucketState{Tokens: p.maxTokens, LastRefill: now}, nil
	}
	var state bucketState
	if err := json.Unmarshal(data, &state); err != nil {
		return &bucketState{Tokens: p.maxTokens, LastRefill: now}, nil
	}
	return &state, nil
}

func (p *PersistentBucket) store(state *bucketState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return p.kv.Put(KVKey, data, stateTTL)
}
