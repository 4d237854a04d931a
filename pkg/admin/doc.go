/*
Package admin drives bulk preview, publish and unpublish jobs through the
AEM admin API.

The admin API exposes asynchronous bulk operations: a submission returns a
job handle which is polled to its terminal state, then a details endpoint
reports the per-path outcome. This package wraps that protocol in a Client
and layers a Scheduler on top that sequences the two-stage lifecycles the
prerenderer needs: preview before publish, unpublish-live before
unpublish-preview.

# Architecture

The scheduler maintains four FIFO queues and a bounded in-flight set:

	┌──────────────────── SCHEDULER ───────────────────────────┐
	│                                                           │
	│  PreviewAndPublish ──▶ [preview queue]                    │
	│  UnpublishAndDelete ─▶ [unpublish-live queue]             │
	│                                                           │
	│  Tick (1s): drain one batch per queue, publish first      │
	│                                                           │
	│     [publish] ▶ [preview] ▶ [unpub-live] ▶ [unpub-prev]   │
	│         │           │            │              │         │
	│         ▼           ▼            ▼              ▼         │
	│  ┌──────────────────────────────────────────────────┐     │
	│  │        In-flight set (max 2 concurrent)          │     │
	│  │  overflow parks on a pending list, re-ordered    │     │
	│  │  publish-first whenever a task completes         │     │
	│  └──────────────────┬───────────────────────────────┘     │
	│                     │                                     │
	│                     ▼                                     │
	│  submit bulk job → poll status → fetch details            │
	│                     │                                     │
	│         ┌───────────┴───────────┐                         │
	│         ▼                       ▼                         │
	│   preview done            publish done                    │
	│   → publish queue         → resolve batch                 │
	│   unpub-live done         unpub-preview done              │
	│   → unpub-prev queue      → resolve batch                 │
	└───────────────────────────────────────────────────────────┘

Successful records are stamped with the stage timestamp (PreviewedAt,
PublishedAt, LiveUnpublishedAt, PreviewUnpublishedAt); records whose path
did not succeed are marked failed and excluded from the next stage. A batch
resolves exactly once, over a buffered channel returned at enqueue time.

# Failure classification

Submission failures after retries are batch-scoped: the batch's records are
marked failed and the run continues. Status-poll and details failures are
global: they fail the batch and surface through Err(), failing the whole
run, because a poll failure leaves the admin-side job state unknown.
*/
package admin
