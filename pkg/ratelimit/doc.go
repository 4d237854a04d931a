/*
Package ratelimit implements the token-bucket limiter that paces
publishing.

The in-memory Bucket refills lazily (tokens = elapsed × rate, floored, up
to capacity) and supports both a non-blocking TryAcquire and a blocking
Acquire with FIFO fairness among waiters. The PersistentBucket stores its
token count in the KV store so the budget is shared across invocations of
a short-lived process; it fails open on storage errors because a broken
limiter must never stop publishing.

Denied acquisitions report a RetryAfter hint that callers use when parking
events in the durable queue.
*/
package ratelimit
