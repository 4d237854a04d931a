package queue

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adobe-rnd/aem-commerce-prerender/pkg/errkind"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/log"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/storage"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/types"
)

const (
	// KVKey holds the full queue as a single record; every mutation is a
	// read-modify-write on this key
	KVKey = "event_queue/pending_events"

	// DefaultMaxQueueSize bounds the queue; overflow evicts oldest first
	DefaultMaxQueueSize = 1000

	// DefaultDedupWindow rejects identical (sku, kind) entries queued
	// within this window
	DefaultDedupWindow = 300 * time.Second

	// DefaultQueueTTL expires entries on read
	DefaultQueueTTL = 3600 * time.Second

	// DefaultMaxRetries removes an entry after this many failed attempts
	DefaultMaxRetries = 3
)

// Stats are monotonic counters persisted with the queue
type Stats struct {
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Duplicate int64 `json:"duplicate"`
	Expired   int64 `json:"expired"`
	Dropped   int64 `json:"dropped"`
}

// Status is a point-in-time snapshot of the queue
type Status struct {
	QueueSize  int            `json:"queue_size"`
	ByPriority map[string]int `json:"by_priority"`
	ByType     map[string]int `json:"by_type"`
	Statistics Stats          `json:"statistics"`
}

// EnqueueResult reports where a newly accepted event landed
type EnqueueResult struct {
	Position  int
	QueueSize int
}

// MarkResult reports the effect of a mark-processed call
type MarkResult struct {
	Processed int
	Remaining int
}

// Options configures a queue
type Options struct {
	MaxQueueSize int
	DedupWindow  time.Duration
	QueueTTL     time.Duration
	MaxRetries   int
}

// Queue is the durable, KV-backed event queue with priority ordering,
// dedup, TTL expiry, bounded capacity and a per-entry retry counter.
type Queue struct {
	kv   storage.KV
	opts Options
	mu   sync.Mutex
	now  func() time.Time
}

type state struct {
	Events     []types.QueuedEvent `json:"events"`
	Statistics Stats               `json:"statistics"`
}

// New creates a queue over the given KV store
func New(kv storage.KV, opts Options) *Queue {
	if opts.MaxQueueSize <= 0 {
		opts.MaxQueueSize = DefaultMaxQueueSize
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = DefaultDedupWindow
	}
	if opts.QueueTTL <= 0 {
		opts.QueueTTL = DefaultQueueTTL
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	return &Queue{kv: kv, opts: opts, now: time.Now}
}

// Enqueue adds an event. Returns DuplicateRejected if an identical
// (sku, kind) entry exists within the dedup window. When the queue is full
// the oldest entries are evicted to make room (bounded-buffer backpressure).
func (q *Queue) Enqueue(sku string, kind types.EventKind, priority types.Priority, payload []byte) (*EnqueueResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	st, err := q.load()
	if err != nil {
		return nil, err
	}
	now := q.now()
	q.expire(st, now)

	cutoff := now.Add(-q.opts.DedupWindow)
	for _, ev := range st.Events {
		if ev.SKU == sku && ev.Kind == kind && ev.QueuedAt.After(cutoff) {
			st.Statistics.Duplicate++
			if err := q.store(st); err != nil {
				return nil, err
			}
			return nil, &errkind.DuplicateRejected{SKU: sku, Kind: string(kind)}
		}
	}

	event := types.QueuedEvent{
		ID:       uuid.New().String(),
		SKU:      sku,
		Kind:     kind,
		Priority: priority,
		QueuedAt: now,
		Payload:  payload,
	}

	// Evict oldest entries until the newcomer fits
	for len(st.Events) >= q.opts.MaxQueueSize {
		oldest := 0
		for i := 1; i < len(st.Events); i++ {
			if st.Events[i].QueuedAt.Before(st.Events[oldest].QueuedAt) {
				oldest = i
			}
		}
		st.Events = append(st.Events[:oldest], st.Events[oldest+1:]...)
		st.Statistics.Dropped++
	}

	st.Events = append(st.Events, event)
	sortByPriority(st.Events)

	position := 0
	for i, ev := range st.Events {
		if ev.ID == event.ID {
			position = i
			break
		}
	}

	if err := q.store(st); err != nil {
		return nil, err
	}
	return &EnqueueResult{Position: position, QueueSize: len(st.Events)}, nil
}

// Dequeue returns up to batchSize events in priority order without removing
// them; callers acknowledge via MarkProcessed.
func (q *Queue) Dequeue(batchSize int) ([]types.QueuedEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	st, err := q.load()
	if err != nil {
		return nil, err
	}
	if expired := q.expire(st, q.now()); expired > 0 {
		if err := q.store(st); err != nil {
			return nil, err
		}
	}

	if batchSize <= 0 || batchSize > len(st.Events) {
		batchSize = len(st.Events)
	}
	out := make([]types.QueuedEvent, batchSize)
	copy(out, st.Events[:batchSize])
	return out, nil
}

// MarkProcessed acknowledges a dequeued batch. Successful ids are removed
// and counted; failed ids get their attempt counter bumped and are removed
// once attempts reach the retry limit.
func (q *Queue) MarkProcessed(ids []string, success bool) (*MarkResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	st, err := q.load()
	if err != nil {
		return nil, err
	}

	idSet := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		idSet[id] = struct{}{}
	}

	now := q.now()
	processed := 0
	kept := st.Events[:0]
	for _, ev := range st.Events {
		if _, hit := idSet[ev.ID]; !hit {
			kept = append(kept, ev)
			continue
		}
		if success {
			st.Statistics.Processed++
			processed++
			continue
		}
		ev.Attempts++
		ev.LastAttemptAt = now
		if ev.Attempts >= q.opts.MaxRetries {
			st.Statistics.Failed++
			log.WithComponent("queue").Warn().
				Str("sku", ev.SKU).
				Int("attempts", ev.Attempts).
				Msg("event exceeded retry limit, dropping")
			continue
		}
		kept = append(kept, ev)
	}
	st.Events = kept

	if err := q.store(st); err != nil {
		return nil, err
	}
	return &MarkResult{Processed: processed, Remaining: len(st.Events)}, nil
}

// Status returns a snapshot of queue size, composition and counters
func (q *Queue) Status() (*Status, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	st, err := q.load()
	if err != nil {
		return nil, err
	}
	if expired := q.expire(st, q.now()); expired > 0 {
		if err := q.store(st); err != nil {
			return nil, err
		}
	}

	status := &Status{
		QueueSize:  len(st.Events),
		ByPriority: make(map[string]int),
		ByType:     make(map[string]int),
		Statistics: st.Statistics,
	}
	for _, ev := range st.Events {
		status.ByPriority[ev.Priority.String()]++
		status.ByType[string(ev.Kind)]++
	}
	return status, nil
}

// Clear removes all pending events and reports how many were dropped;
// statistics survive
func (q *Queue) Clear() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	st, err := q.load()
	if err != nil {
		return 0, err
	}
	removed := len(st.Events)
	st.Events = nil
	return removed, q.store(st)
}

// expire discards entries older than the queue TTL; returns the count
func (q *Queue) expire(st *state, now time.Time) int {
	cutoff := now.Add(-q.opts.QueueTTL)
	kept := st.Events[:0]
	expired := 0
	for _, ev := range st.Events {
		if ev.QueuedAt.Before(cutoff) {
			expired++
			continue
		}
		kept = append(kept, ev)
	}
	st.Events = kept
	st.Statistics.Expired += int64(expired)
	return expired
}

func (q *Queue) load() (*state, error) {
	data, ok, err := q.kv.Get(KVKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue state: %w", err)
	}
	if !ok {
		return &state{}, nil
	}
	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("corrupt queue state: %w", err)
	}
	return &st, nil
}

func (q *Queue) store(st *state) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := q.kv.Put(KVKey, data, 0); err != nil {
		return fmt.Errorf("failed to write queue state: %w", err)
	}
	return nil
}

// sortByPriority orders high before normal before low, stable FIFO within a
// priority
func sortByPriority(events []types.QueuedEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Priority > events[j].Priority
	})
}
