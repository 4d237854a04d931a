/*
Package queue provides the durable, KV-backed event queue for throttled
catalog mutations.

When the rate limiter denies an event, the orchestrator parks it here
instead of dropping it. The queue survives process restarts through the
shared KV store and feeds its entries back into the head of the next
invocation's first batch.

# Lifecycle

	Enqueue ──▶ dedup check (same sku+kind within DedupWindow?)
	     │            │ yes → DuplicateRejected
	     ▼            ▼
	 capacity check → evict oldest when full (bounded buffer)
	     │
	     ▼
	 stored, sorted high → normal → low, FIFO within a priority

	Dequeue(n) ──▶ expire entries past QueueTTL, return up to n
	               without removing them (non-destructive read)

	MarkProcessed(ids, ok)
	     ok   → remove
	     !ok  → bump Attempts; drop after MaxRetries

Statistics (enqueued, processed, dropped, failed, duplicates) accumulate
across the queue's lifetime and survive Clear.
*/
package queue
