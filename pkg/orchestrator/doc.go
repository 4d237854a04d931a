/*
Package orchestrator drives one end-to-end prerender invocation.

The orchestrator is the top of the component graph: it consumes the commerce
event journal, coalesces mutations into a unique SKU set, renders product
pages for every configured locale, hands changed pages to the admin batch
scheduler, and sweeps products deleted from the catalog off the live site.
Every invocation is guarded by a single-writer lock so overlapping timer
ticks and manual runs cannot race on the journal cursor.

# Architecture

One invocation moves through fixed phases:

	┌────────────────────────────────────────────────────────────┐
	│                      Run(ctx)                              │
	└────────────────┬───────────────────────────────────────────┘
	                 │
	                 ▼
	┌────────────────────────────────────────────────────────────┐
	│  1. Validate config, acquire "running" lock (TTL-bound)    │
	│  2. Load per-locale SKU state from blob storage            │
	│  3. Drain previously throttled events from the queue       │
	└────────────────┬───────────────────────────────────────────┘
	                 │
	                 ▼
	┌────────────────────────────────────────────────────────────┐
	│  Per journal batch (up to MaxBatches):                     │
	│    • Fetch events after the cursor                         │
	│    • Coalesce to unique SKUs, filter, rate-limit           │
	│    • Render all locales in parallel (errgroup)             │
	│    • Schedule preview+publish for changed pages            │
	│    • Persist the cursor (advance-on-schedule)              │
	└────────────────┬───────────────────────────────────────────┘
	                 │
	    ┌────────────┴────────────┐
	    │                         │
	    ▼                         ▼
	┌─────────────┐       ┌──────────────────┐
	│  Collect    │       │  Deletion sweep  │
	│  publish    │       │  (catalog diff)  │
	│  results    │       │  unpublish+erase │
	└─────┬───────┘       └──────┬───────────┘
	      │                      │
	      └──────────┬───────────┘
	                 ▼
	┌────────────────────────────────────────────────────────────┐
	│  Wait for the scheduler to drain, persist SKU state,       │
	│  release the lock, report RunResult                        │
	└────────────────────────────────────────────────────────────┘

# State

Per-locale state lives in blob storage as a line-oriented file mapping each
SKU to its last render time, content hash and published path. The content
hash makes renders idempotent: a page whose hash matches the stored one is
skipped without touching the admin API. The hash is only folded into state
after publish succeeds, so failed publishes are retried on the next run.

The journal cursor is persisted after each batch is scheduled rather than
after it completes. Downstream stages are idempotent by SKU and hash, so a
crash between scheduling and completion re-renders at most one batch.

# Failure classification

Journal fetch errors, cursor persistence errors and scheduler-global errors
fail the run. Per-SKU catalog misses and per-batch admin failures are
counted and the run continues. The deletion sweep logs and continues on
failure; it runs again next invocation.
*/
package orchestrator
