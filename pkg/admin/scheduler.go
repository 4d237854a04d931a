package admin

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/adobe-rnd/aem-commerce-prerender/pkg/errkind"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/log"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/retry"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/types"
)

const (
	// maxInFlight bounds concurrent admin batches
	maxInFlight = 2

	// defaultTickInterval paces the scheduler loop
	defaultTickInterval = time.Second

	// defaultPollInterval paces bulk-job status polling
	defaultPollInterval = 2 * time.Second
)

// Stage is one of the four batch queues
type Stage int

const (
	StagePreview Stage = iota
	StagePublish
	StageUnpublishLive
	StageUnpublishPreview
	stageCount
)

func (s Stage) String() string {
	switch s {
	case StagePreview:
		return "preview"
	case StagePublish:
		return "publish"
	case StageUnpublishLive:
		return "unpublish-live"
	case StageUnpublishPreview:
		return "unpublish-preview"
	}
	return "unknown"
}

func (s Stage) route() Route {
	switch s {
	case StagePreview, StageUnpublishPreview:
		return RoutePreview
	default:
		return RouteLive
	}
}

func (s Stage) delete() bool {
	return s == StageUnpublishLive || s == StageUnpublishPreview
}

// BatchResult resolves a submitted batch back to its caller
type BatchResult struct {
	Records []*types.BatchRecord
	Locale  string
	BatchNo int
	Failed  bool
}

type batch struct {
	records []*types.BatchRecord
	locale  string
	batchNo int
	done    chan BatchResult
	once    sync.Once
}

func (b *batch) resolve(failed bool) {
	b.once.Do(func() {
		b.done <- BatchResult{Records: b.records, Locale: b.locale, BatchNo: b.batchNo, Failed: failed}
		close(b.done)
	})
}

type pendingTask struct {
	name string
	fn   func()
}

// Scheduler drives the four-queue admin batch lifecycle: preview feeds
// publish, unpublish-live feeds unpublish-preview, with a bounded in-flight
// set and publish-first ordering of pending work.
type Scheduler struct {
	client       *Client
	attempts     uint
	retryDelay   time.Duration
	tickInterval time.Duration
	pollInterval time.Duration
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error

	mu           sync.Mutex
	queues       [stageCount][]*batch
	inFlight     map[string]struct{}
	pending      []pendingTask
	running      bool
	stopCh       chan struct{}
	drainedCh    chan struct{}
	fatal        error
	seq          int
	lastSizesLog time.Time
}

// NewScheduler creates a scheduler over the given admin client
func NewScheduler(client *Client) *Scheduler {
	return &Scheduler{
		client:       client,
		attempts:     retry.DefaultAttempts,
		retryDelay:   retry.DefaultDelay,
		tickInterval: defaultTickInterval,
		pollInterval: defaultPollInterval,
		now:          time.Now,
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		inFlight: make(map[string]struct{}),
	}
}

// StartProcessing begins the scheduler loop; calling it on a running
// scheduler is a no-op
func (s *Scheduler) StartProcessing(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	go s.loop(ctx)
}

// StopProcessing returns a channel that closes once all four queues, the
// pending list and the in-flight set are empty. Concurrent callers share
// one channel; fulfillment happens exactly once.
func (s *Scheduler) StopProcessing() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drainedCh == nil {
		s.drainedCh = make(chan struct{})
	}
	s.checkDrainedLocked()
	return s.drainedCh
}

// Err returns the first global (run-fatal) error observed, if any
func (s *Scheduler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

// PreviewAndPublish enqueues records into the preview queue. The returned
// channel resolves once the batch completes publish (or fails).
func (s *Scheduler) PreviewAndPublish(records []*types.BatchRecord, locale string, batchNo int) <-chan BatchResult {
	return s.submit(StagePreview, records, locale, batchNo)
}

// UnpublishAndDelete enqueues records into the unpublish-live queue. The
// returned channel resolves once unpublish-preview completes (or fails);
// blob deletion is the caller's follow-up.
func (s *Scheduler) UnpublishAndDelete(records []*types.BatchRecord, locale string, batchNo int) <-chan BatchResult {
	return s.submit(StageUnpublishLive, records, locale, batchNo)
}

func (s *Scheduler) submit(stage Stage, records []*types.BatchRecord, locale string, batchNo int) <-chan BatchResult {
	b := &batch{
		records: records,
		locale:  locale,
		batchNo: batchNo,
		done:    make(chan BatchResult, 1),
	}
	s.mu.Lock()
	s.queues[stage] = append(s.queues[stage], b)
	s.mu.Unlock()
	return b.done
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// tick drains at most one batch per queue, publish first to clear the
// mid-pipeline stage
func (s *Scheduler) tick(ctx context.Context) {
	s.logSizes()
	s.drainOne(ctx, StagePublish)
	s.drainOne(ctx, StagePreview)
	s.drainOne(ctx, StageUnpublishLive)
	s.drainOne(ctx, StageUnpublishPreview)

	s.mu.Lock()
	s.checkDrainedLocked()
	s.mu.Unlock()
}

func (s *Scheduler) logSizes() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if now.Sub(s.lastSizesLog) < time.Second {
		return
	}
	s.lastSizesLog = now
	log.WithComponent("admin").Debug().
		Int("preview", len(s.queues[StagePreview])).
		Int("publish", len(s.queues[StagePublish])).
		Int("unpublish_live", len(s.queues[StageUnpublishLive])).
		Int("unpublish_preview", len(s.queues[StageUnpublishPreview])).
		Int("in_flight", len(s.inFlight)).
		Int("pending", len(s.pending)).
		Msg("queue sizes")
}

func (s *Scheduler) drainOne(ctx context.Context, stage Stage) {
	s.mu.Lock()
	if len(s.queues[stage]) == 0 {
		s.mu.Unlock()
		return
	}
	b := s.queues[stage][0]
	s.queues[stage] = s.queues[stage][1:]
	s.seq++
	name := fmt.Sprintf("%s-%d", stage, s.seq)
	s.mu.Unlock()

	s.trackInFlight(name, func() {
		s.runBatch(ctx, stage, b)
	})
}

// trackInFlight starts fn when capacity allows, otherwise parks it on the
// pending list
func (s *Scheduler) trackInFlight(name string, fn func()) {
	s.mu.Lock()
	if len(s.inFlight) < maxInFlight {
		s.inFlight[name] = struct{}{}
		s.mu.Unlock()
		go func() {
			fn()
			s.completeTask(name)
		}()
		return
	}
	s.pending = append(s.pending, pendingTask{name: name, fn: fn})
	s.mu.Unlock()
}

// completeTask retires a finished task, re-orders pending so publish tasks
// lead, and starts the next one
func (s *Scheduler) completeTask(name string) {
	s.mu.Lock()
	delete(s.inFlight, name)

	if len(s.pending) > 0 {
		// Stable partition: publish tasks ahead of everything else
		ordered := make([]pendingTask, 0, len(s.pending))
		var rest []pendingTask
		for _, t := range s.pending {
			if strings.HasPrefix(t.name, StagePublish.String()+"-") {
				ordered = append(ordered, t)
			} else {
				rest = append(rest, t)
			}
		}
		s.pending = append(ordered, rest...)

		next := s.pending[0]
		s.pending = s.pending[1:]
		s.inFlight[next.name] = struct{}{}
		s.mu.Unlock()
		go func() {
			next.fn()
			s.completeTask(next.name)
		}()
		return
	}

	s.checkDrainedLocked()
	s.mu.Unlock()
}

// checkDrainedLocked resolves a pending stop once everything is empty
func (s *Scheduler) checkDrainedLocked() {
	if s.drainedCh == nil {
		return
	}
	for st := Stage(0); st < stageCount; st++ {
		if len(s.queues[st]) > 0 {
			return
		}
	}
	if len(s.inFlight) > 0 || len(s.pending) > 0 {
		return
	}
	select {
	case <-s.drainedCh:
		// already resolved
	default:
		close(s.drainedCh)
	}
	if s.running {
		s.running = false
		close(s.stopCh)
	}
}

// stagePaths applies the per-stage filtering rules and returns the eligible
// records and their paths
func stagePaths(stage Stage, records []*types.BatchRecord) ([]*types.BatchRecord, []string) {
	var eligible []*types.BatchRecord
	var paths []string
	for _, r := range records {
		switch stage {
		case StagePublish:
			if r.PreviewedAt.IsZero() {
				continue
			}
		case StageUnpublishPreview:
			if r.LiveUnpublishedAt.IsZero() {
				continue
			}
		}
		eligible = append(eligible, r)
		paths = append(paths, r.Path)
	}
	return eligible, paths
}

func (s *Scheduler) runBatch(ctx context.Context, stage Stage, b *batch) {
	logger := log.WithComponent("admin").With().
		Str("stage", stage.String()).
		Str("locale", b.locale).
		Int("batch", b.batchNo).
		Logger()

	eligible, paths := stagePaths(stage, b.records)
	if len(paths) == 0 {
		// Nothing eligible for this stage or any later one; resolve now
		// instead of hopping through the remaining queues
		b.resolve(false)
		return
	}

	opName := fmt.Sprintf("%s-batch", stage)
	var handle *types.JobHandle
	err := retry.Do(ctx, opName, s.attempts, s.retryDelay, func() error {
		h, err := s.client.SubmitBulk(ctx, opName, stage.route(), paths, stage.delete())
		if err != nil {
			return err
		}
		handle = h
		return nil
	})
	if err != nil {
		s.failBatch(stage, b, &errkind.BatchError{Operation: opName, Err: err})
		return
	}

	// Poll the bulk job to its terminal state
	for handle.State != types.JobStateStopped {
		if err := s.sleep(ctx, s.pollInterval); err != nil {
			s.failBatch(stage, b, &errkind.BatchError{Operation: opName, Err: err})
			return
		}
		err := retry.Do(ctx, "job-status", s.attempts, s.retryDelay, func() error {
			h, err := s.client.JobStatus(ctx, handle)
			if err != nil {
				return err
			}
			handle = h
			return nil
		})
		if err != nil {
			// Status polling failures are global, not batch-scoped
			s.recordFatal(&errkind.GlobalError{Operation: "job-status", Err: err})
			s.failBatch(stage, b, err)
			return
		}
	}

	var successful map[string]bool
	err = retry.Do(ctx, "job-details", s.attempts, s.retryDelay, func() error {
		m, err := s.client.JobDetails(ctx, handle, paths)
		if err != nil {
			return err
		}
		successful = m
		return nil
	})
	if err != nil {
		s.recordFatal(&errkind.GlobalError{Operation: "job-details", Err: err})
		s.failBatch(stage, b, err)
		return
	}

	logger.Info().
		Int("submitted", len(paths)).
		Int("successful", len(successful)).
		Msg("bulk job completed")
	s.advance(stage, b, eligible, successful)
}

// advance stamps successful records for the completed stage and moves the
// batch to its next queue, or resolves it
func (s *Scheduler) advance(stage Stage, b *batch, eligible []*types.BatchRecord, successful map[string]bool) {
	now := s.now()
	for _, r := range eligible {
		if successful[r.Path] {
			switch stage {
			case StagePreview:
				r.PreviewedAt = now
			case StagePublish:
				r.PublishedAt = now
			case StageUnpublishLive:
				r.LiveUnpublishedAt = now
			case StageUnpublishPreview:
				r.PreviewUnpublishedAt = now
			}
		} else {
			r.Failed = true
			r.Error = fmt.Sprintf("%s did not succeed for %s", stage, r.Path)
		}
	}

	switch stage {
	case StagePreview:
		s.mu.Lock()
		s.queues[StagePublish] = append(s.queues[StagePublish], b)
		s.mu.Unlock()
	case StageUnpublishLive:
		s.mu.Lock()
		s.queues[StageUnpublishPreview] = append(s.queues[StageUnpublishPreview], b)
		s.mu.Unlock()
	case StagePublish, StageUnpublishPreview:
		b.resolve(false)
	}
}

// failBatch marks every record failed and resolves the batch without
// aborting the scheduler
func (s *Scheduler) failBatch(stage Stage, b *batch, err error) {
	log.WithComponent("admin").Warn().
		Err(err).
		Str("stage", stage.String()).
		Int("batch", b.batchNo).
		Msg("batch failed")
	for _, r := range b.records {
		r.Failed = true
		r.Error = err.Error()
	}
	b.resolve(true)
}

func (s *Scheduler) recordFatal(err error) {
	s.mu.Lock()
	if s.fatal == nil {
		s.fatal = err
	}
	s.mu.Unlock()
}
