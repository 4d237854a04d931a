package types

import (
	"time"
)

// EventKind classifies a catalog mutation event
type EventKind string

const (
	EventKindProductUpdate EventKind = "product_update"
	EventKindPriceUpdate   EventKind = "price_update"
)

// Priority orders queued events; high drains before normal, normal before low
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// JournalEvent is a raw event pulled from the remote journal
type JournalEvent struct {
	Type     string `json:"type"`
	Position string `json:"position"`
	SKU      string `json:"-"`
	Data     []byte `json:"-"`
}

// QueuedEvent is a deferred catalog mutation held in the durable queue
type QueuedEvent struct {
	ID            string    `json:"id"`
	SKU           string    `json:"sku"`
	Kind          EventKind `json:"kind"`
	Priority      Priority  `json:"priority"`
	QueuedAt      time.Time `json:"queued_at"`
	Attempts      int       `json:"attempts"`
	LastAttemptAt time.Time `json:"last_attempt_at,omitempty"`
	Payload       []byte    `json:"payload,omitempty"`
}

// SKUState tracks the rendered artifact for one SKU in one locale
type SKUState struct {
	SKU               string    `json:"sku"`
	LastRenderedAt    time.Time `json:"last_rendered_at"`
	ContentHash       string    `json:"content_hash,omitempty"` // 32-byte hex
	LastPublishedPath string    `json:"last_published_path,omitempty"`
}

// BatchRecord tracks one SKU's path through the preview/publish (or
// unpublish/delete) lifecycle
type BatchRecord struct {
	SKU                  string    `json:"sku"`
	Path                 string    `json:"path"`
	RenderedAt           time.Time `json:"rendered_at,omitempty"`
	PreviewedAt          time.Time `json:"previewed_at,omitempty"`
	PublishedAt          time.Time `json:"published_at,omitempty"`
	LiveUnpublishedAt    time.Time `json:"live_unpublished_at,omitempty"`
	PreviewUnpublishedAt time.Time `json:"preview_unpublished_at,omitempty"`
	Failed               bool      `json:"failed,omitempty"`
	Error                string    `json:"error,omitempty"`
}

// JobState is the lifecycle state of a bulk admin job; terminal is stopped
type JobState string

const (
	JobStateRunning JobState = "running"
	JobStateStopped JobState = "stopped"
)

// JobProgress reports per-path counts for a bulk admin job
type JobProgress struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
	Failed    int `json:"failed"`
}

// JobHandle identifies an asynchronous bulk admin job
type JobHandle struct {
	Topic       string      `json:"topic"`
	Name        string      `json:"name"`
	State       JobState    `json:"state"`
	Progress    JobProgress `json:"progress"`
	DetailsLink string      `json:"-"`
}

// AccessToken is a client-credentials grant result with expiry bookkeeping
type AccessToken struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int64     `json:"expires_in"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Valid reports whether the token remains usable past the refresh buffer
func (t *AccessToken) Valid(now time.Time, refreshBuffer time.Duration) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	return t.ExpiresAt.Sub(now) > refreshBuffer
}

// RunStatus is the terminal state of one orchestrator invocation
type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusError     RunStatus = "error"
	RunStatusSkipped   RunStatus = "skipped"
)

// Statistics counts per-run outcomes
type Statistics struct {
	EventsFetched int `json:"events_fetched"`
	UniqueSKUs    int `json:"unique_skus"`
	Processed     int `json:"processed"`
	Failed        int `json:"failed"`
	Published     int `json:"published"`
	Unpublished   int `json:"unpublished"`
	Ignored       int `json:"ignored"`
}

// Add accumulates another set of counters
func (s *Statistics) Add(o Statistics) {
	s.EventsFetched += o.EventsFetched
	s.UniqueSKUs += o.UniqueSKUs
	s.Processed += o.Processed
	s.Failed += o.Failed
	s.Published += o.Published
	s.Unpublished += o.Unpublished
	s.Ignored += o.Ignored
}

// RunResult is the document returned by one orchestrator invocation
type RunResult struct {
	Status     RunStatus                `json:"status"`
	ElapsedMS  int64                    `json:"elapsed_ms"`
	Statistics Statistics               `json:"statistics"`
	Timings    map[string]time.Duration `json:"timings,omitempty"`
	Error      string                   `json:"error,omitempty"`
}
