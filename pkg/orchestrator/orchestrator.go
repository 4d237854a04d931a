package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adobe-rnd/aem-commerce-prerender/pkg/admin"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/catalog"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/config"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/errkind"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/journal"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/log"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/metrics"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/queue"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/ratelimit"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/render"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/skufilter"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/storage"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/types"
)

// RunningKey is the single-writer lock; its TTL guarantees unlock even if
// the process dies mid-run
const RunningKey = "running"

// Limiter is the acquire surface the orchestrator needs; both the in-memory
// and the persistent bucket satisfy it
type Limiter interface {
	TryAcquire() ratelimit.Acquisition
}

// Deps is the explicit component container passed to each run
type Deps struct {
	Config    *config.Config
	KV        storage.KV
	Blob      storage.Blob
	Journal   *journal.Consumer
	Catalog   *catalog.Client
	Pipeline  *render.Pipeline
	Scheduler *admin.Scheduler
	Queue     *queue.Queue // nil when the durable queue is disabled
	Limiter   Limiter
	Filter    *skufilter.Filter
}

// Orchestrator drives one end-to-end invocation
type Orchestrator struct {
	d   Deps
	now func() time.Time
}

// New creates an orchestrator over the dependency container
func New(d Deps) *Orchestrator {
	return &Orchestrator{d: d, now: time.Now}
}

// localeRun is the per-locale working set; each is written by exactly one
// goroutine at a time
type localeRun struct {
	locale string
	state  map[string]types.SKUState
	hashes map[string]string
	done   []<-chan admin.BatchResult
	stats  types.Statistics
}

// Run executes one invocation: lock, consume, coalesce, filter, render,
// schedule, diff deletions, drain, persist.
func (o *Orchestrator) Run(ctx context.Context) *types.RunResult {
	started := o.now()
	logger := log.WithComponent("orchestrator")
	timings := make(map[string]time.Duration)

	fail := func(err error) *types.RunResult {
		logger.Error().Err(err).Msg("run failed")
		metrics.RunsTotal.WithLabelValues(string(types.RunStatusError)).Inc()
		return &types.RunResult{
			Status:    types.RunStatusError,
			ElapsedMS: o.now().Sub(started).Milliseconds(),
			Error:     err.Error(),
			Timings:   timings,
		}
	}

	if err := o.d.Config.Validate(); err != nil {
		return fail(err)
	}

	// Single-writer lock; the TTL releases it if we die mid-run
	if _, held, err := o.d.KV.Get(RunningKey); err != nil {
		return fail(fmt.Errorf("failed to read running lock: %w", err))
	} else if held {
		logger.Info().Msg("another invocation is running, skipping")
		metrics.RunsTotal.WithLabelValues(string(types.RunStatusSkipped)).Inc()
		return &types.RunResult{
			Status:    types.RunStatusSkipped,
			ElapsedMS: o.now().Sub(started).Milliseconds(),
		}
	}
	if err := o.d.KV.Put(RunningKey, []byte("true"), o.d.Config.InvocationDeadline.Std()); err != nil {
		return fail(fmt.Errorf("failed to acquire running lock: %w", err))
	}
	defer func() {
		if err := o.d.KV.Delete(RunningKey); err != nil {
			logger.Warn().Err(err).Msg("failed to release running lock")
		}
	}()

	o.d.Scheduler.StartProcessing(ctx)

	locales := o.d.Config.EffectiveLocales()
	runs := make([]*localeRun, len(locales))
	for i, locale := range locales {
		runs[i] = &localeRun{
			locale: locale,
			state:  o.loadState(locale),
			hashes: make(map[string]string),
		}
	}

	var stats types.Statistics
	consumeStart := o.now()

	queuedBySKU, err := o.drainQueue()
	if err != nil {
		logger.Warn().Err(err).Msg("failed to drain durable queue")
	}

	cursor, err := o.d.Journal.LoadCursor()
	if err != nil {
		return fail(fmt.Errorf("failed to load cursor: %w", err))
	}

	batchNo := 0
	for i := 0; i < o.d.Config.MaxBatches; i++ {
		batch, err := o.d.Journal.Fetch(ctx, cursor, o.d.Config.JournalBatchLimit)
		if err != nil {
			return fail(&errkind.JobFailed{Step: "journal-fetch", Err: err})
		}
		stats.EventsFetched += len(batch.Events)
		metrics.EventsFetchedTotal.Add(float64(len(batch.Events)))

		skus := o.coalesce(batch.Events)
		if i == 0 {
			// Previously throttled events lead the first batch
			lead := make([]string, 0, len(queuedBySKU))
			for sku := range queuedBySKU {
				lead = append(lead, sku)
			}
			skus = union(lead, skus)
		}

		stats.UniqueSKUs += len(skus)

		if len(skus) > 0 {
			batchNo++
			renderStart := o.now()
			if err := o.renderAndDispatch(ctx, runs, skus, batchNo, queuedBySKU); err != nil {
				return fail(err)
			}
			timings["render"] += o.now().Sub(renderStart)
		}

		// Advance-on-schedule: the batch's work is handed off, downstream
		// stages are idempotent by sku and hash
		cursor = batch.NextCursor
		if err := o.d.Journal.SaveCursor(cursor); err != nil {
			return fail(fmt.Errorf("failed to persist cursor: %w", err))
		}
		if !batch.HasMore {
			break
		}
	}
	timings["consume"] = o.now().Sub(consumeStart)

	publishStart := o.now()
	for _, run := range runs {
		o.collectPublishes(ctx, run)
	}
	timings["publish"] = o.now().Sub(publishStart)

	unpublishStart := o.now()
	if err := o.unpublishDeleted(ctx, runs, batchNo); err != nil {
		logger.Warn().Err(err).Msg("deletion sweep failed")
	}
	timings["unpublish"] = o.now().Sub(unpublishStart)

	<-o.d.Scheduler.StopProcessing()
	if err := o.d.Scheduler.Err(); err != nil {
		return fail(err)
	}

	for _, run := range runs {
		o.saveState(run)
		stats.Add(run.stats)
	}

	elapsed := o.now().Sub(started)
	metrics.RunsTotal.WithLabelValues(string(types.RunStatusCompleted)).Inc()
	metrics.RunDuration.Observe(elapsed.Seconds())
	logger.Info().
		Int("events", stats.EventsFetched).
		Int("published", stats.Published).
		Int("failed", stats.Failed).
		Int("ignored", stats.Ignored).
		Int("unpublished", stats.Unpublished).
		Dur("elapsed", elapsed).
		Msg("run completed")

	return &types.RunResult{
		Status:     types.RunStatusCompleted,
		ElapsedMS:  elapsed.Milliseconds(),
		Statistics: stats,
		Timings:    timings,
	}
}

// coalesce turns a stream of events into a deduplicated SKU list preserving
// journal order, applying the SKU filter and the rate limiter. Throttled
// events are parked in the durable queue when it is enabled.
func (o *Orchestrator) coalesce(events []types.JournalEvent) []string {
	logger := log.WithComponent("orchestrator")
	seen := make(map[string]struct{})
	var skus []string

	for _, ev := range events {
		if _, dup := seen[ev.SKU]; dup {
			continue
		}
		if d := o.d.Filter.ShouldProcess(ev.SKU); !d.Allowed {
			logger.Debug().Str("sku", ev.SKU).Str("stage", string(d.Stage)).Str("reason", d.Reason).Msg("sku filtered")
			continue
		}

		acq := o.d.Limiter.TryAcquire()
		if !acq.Allowed {
			metrics.RateLimitedTotal.Inc()
			if o.d.Queue != nil {
				_, err := o.d.Queue.Enqueue(ev.SKU, journal.Kind(ev.Type), types.PriorityNormal, ev.Data)
				if err != nil && !errkind.IsDuplicate(err) {
					logger.Warn().Err(err).Str("sku", ev.SKU).Msg("failed to queue throttled event")
				}
				logger.Info().
					Str("sku", ev.SKU).
					Int64("retry_after_ms", acq.RetryAfter.Milliseconds()).
					Msg("rate limited, event queued")
				continue
			}
			// Without a queue the limiter fails open
		}

		seen[ev.SKU] = struct{}{}
		skus = append(skus, ev.SKU)
	}
	return skus
}

// renderAndDispatch renders the SKU set for every locale in parallel and
// hands changed pages to the admin scheduler
func (o *Orchestrator) renderAndDispatch(ctx context.Context, runs []*localeRun, skus []string, batchNo int, queuedBySKU map[string][]string) error {
	urlKeys, err := o.d.Catalog.URLKeys(ctx, skus)
	if err != nil {
		log.WithComponent("orchestrator").Warn().Err(err).Msg("url key lookup failed, falling back to sku queries")
		urlKeys = nil
	}

	var queueMu sync.Mutex
	var succeededIDs, failedIDs []string

	g, gctx := errgroup.WithContext(ctx)
	for _, run := range runs {
		run := run
		g.Go(func() error {
			results := o.d.Pipeline.RenderAll(gctx, skus, urlKeys, run.locale, run.state)

			var records []*types.BatchRecord
			for _, r := range results {
				switch r.Outcome {
				case render.OutcomeUnchanged:
					run.stats.Ignored++
					metrics.RendersTotal.WithLabelValues("unchanged").Inc()
					st := run.state[r.SKU]
					st.SKU = r.SKU
					st.LastRenderedAt = o.now()
					run.state[r.SKU] = st
				case render.OutcomeFailed:
					run.stats.Failed++
					metrics.RendersTotal.WithLabelValues("failed").Inc()
					if ids := queuedBySKU[r.SKU]; len(ids) > 0 {
						queueMu.Lock()
						failedIDs = append(failedIDs, ids...)
						queueMu.Unlock()
					}
				case render.OutcomeRendered:
					run.stats.Processed++
					metrics.RendersTotal.WithLabelValues("rendered").Inc()
					rec := r.Record
					records = append(records, &rec)
					run.hashes[r.SKU] = r.Hash
				}
				if r.Outcome != render.OutcomeFailed {
					if ids := queuedBySKU[r.SKU]; len(ids) > 0 {
						queueMu.Lock()
						succeededIDs = append(succeededIDs, ids...)
						queueMu.Unlock()
					}
				}
			}

			// Persist skip-only updates before the publish round-trip
			o.saveState(run)

			if len(records) > 0 {
				run.done = append(run.done, o.d.Scheduler.PreviewAndPublish(records, run.locale, batchNo))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if o.d.Queue != nil && (len(succeededIDs) > 0 || len(failedIDs) > 0) {
		if len(succeededIDs) > 0 {
			if _, err := o.d.Queue.MarkProcessed(dedupe(succeededIDs), true); err != nil {
				return fmt.Errorf("failed to acknowledge queued events: %w", err)
			}
		}
		if len(failedIDs) > 0 {
			if _, err := o.d.Queue.MarkProcessed(dedupe(failedIDs), false); err != nil {
				return fmt.Errorf("failed to retry queued events: %w", err)
			}
		}
	}
	return nil
}

// collectPublishes waits for a locale's preview+publish batches and folds
// their outcomes into state
func (o *Orchestrator) collectPublishes(ctx context.Context, run *localeRun) {
	for _, ch := range run.done {
		var res admin.BatchResult
		select {
		case res = <-ch:
		case <-ctx.Done():
			return
		}
		for _, rec := range res.Records {
			if rec.Failed || rec.PublishedAt.IsZero() {
				run.stats.Failed++
				metrics.AdminBatchesTotal.WithLabelValues("publish", "failed").Inc()
				continue
			}
			run.stats.Published++
			metrics.PagesPublishedTotal.Inc()
			run.state[rec.SKU] = types.SKUState{
				SKU:               rec.SKU,
				LastRenderedAt:    rec.RenderedAt,
				ContentHash:       run.hashes[rec.SKU],
				LastPublishedPath: rec.Path,
			}
		}
		metrics.AdminBatchesTotal.WithLabelValues("publish", "completed").Inc()
	}
	run.done = nil
}

// unpublishDeleted diffs the published-products index against the catalog
// and drives the unpublish-live, unpublish-preview, blob-delete lifecycle
func (o *Orchestrator) unpublishDeleted(ctx context.Context, runs []*localeRun, batchNo int) error {
	catalogSKUs, err := o.d.Catalog.AllSKUs(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to list catalog skus: %w", err)
	}
	if len(catalogSKUs) == 0 {
		// An empty index would diff every published product as deleted;
		// more likely the listing is misconfigured than the catalog empty
		log.WithComponent("orchestrator").Warn().Msg("catalog listed no products, skipping deletion sweep")
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, run := range runs {
		run := run
		g.Go(func() error {
			index := o.loadProductsIndex(run.locale)
			for sku := range run.state {
				if _, ok := index[sku]; !ok {
					index[sku] = ""
				}
			}

			var records []*types.BatchRecord
			for sku, urlKey := range index {
				if _, live := catalogSKUs[sku]; live {
					continue
				}
				path := ""
				if st, ok := run.state[sku]; ok && st.LastPublishedPath != "" {
					path = st.LastPublishedPath
				} else {
					path = render.BuildPath(o.d.Config.ProductPageURLFormat, run.locale, urlKey, sku)
				}
				records = append(records, &types.BatchRecord{SKU: sku, Path: path})
			}

			if len(records) > 0 {
				ch := o.d.Scheduler.UnpublishAndDelete(records, run.locale, batchNo+1)
				var res admin.BatchResult
				select {
				case res = <-ch:
				case <-gctx.Done():
					return gctx.Err()
				}
				for _, rec := range res.Records {
					if rec.Failed || rec.PreviewUnpublishedAt.IsZero() {
						run.stats.Failed++
						metrics.AdminBatchesTotal.WithLabelValues("unpublish", "failed").Inc()
						continue
					}
					// Blob delete only after unpublish-preview success
					if err := o.d.Blob.Delete(render.BlobPath(rec.Path)); err != nil {
						log.WithLocale(run.locale).Warn().Err(err).Str("path", rec.Path).Msg("blob delete failed")
					}
					delete(run.state, rec.SKU)
					run.stats.Unpublished++
					metrics.PagesUnpublishedTotal.Inc()
				}
				metrics.AdminBatchesTotal.WithLabelValues("unpublish", "completed").Inc()
			}

			o.saveProductsIndex(run.locale, catalogSKUs)
			return nil
		})
	}
	return g.Wait()
}

// drainQueue pulls previously throttled events and maps their SKUs to queue
// entry ids for later acknowledgement
func (o *Orchestrator) drainQueue() (map[string][]string, error) {
	out := make(map[string][]string)
	if o.d.Queue == nil {
		return out, nil
	}
	events, err := o.d.Queue.Dequeue(o.d.Config.BatchSize)
	if err != nil {
		return out, err
	}
	for _, ev := range events {
		if d := o.d.Filter.ShouldProcess(ev.SKU); !d.Allowed {
			continue
		}
		out[ev.SKU] = append(out[ev.SKU], ev.ID)
	}
	if status, err := o.d.Queue.Status(); err == nil {
		metrics.QueueDepth.Set(float64(status.QueueSize))
	}
	return out, nil
}

func (o *Orchestrator) loadState(locale string) map[string]types.SKUState {
	data, err := o.d.Blob.Read(statePath(locale))
	if err != nil {
		return make(map[string]types.SKUState)
	}
	return parseState(data)
}

func (o *Orchestrator) saveState(run *localeRun) {
	if err := o.d.Blob.Write(statePath(run.locale), serializeState(run.state)); err != nil {
		log.WithLocale(run.locale).Error().Err(err).Msg("failed to persist sku state")
	}
}

func (o *Orchestrator) loadProductsIndex(locale string) map[string]string {
	out := make(map[string]string)
	data, err := o.d.Blob.Read(productsIndexPath(locale))
	if err != nil {
		return out
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return make(map[string]string)
	}
	return out
}

func (o *Orchestrator) saveProductsIndex(locale string, index map[string]string) {
	data, err := json.Marshal(index)
	if err != nil {
		return
	}
	if err := o.d.Blob.Write(productsIndexPath(locale), data); err != nil {
		log.WithLocale(locale).Warn().Err(err).Msg("failed to persist products index")
	}
}

// union concatenates lead and tail preserving order, dropping duplicates
func union(lead, tail []string) []string {
	seen := make(map[string]struct{}, len(lead)+len(tail))
	out := make([]string, 0, len(lead)+len(tail))
	for _, s := range append(lead, tail...) {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
