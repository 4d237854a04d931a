package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adobe-rnd/aem-commerce-prerender/pkg/admin"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/catalog"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/config"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/httpx"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/journal"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/queue"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/ratelimit"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/render"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/skufilter"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/storage"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/types"
)

type staticTokens struct{ token string }

func (s staticTokens) GetAccessToken(ctx context.Context) (string, error) {
	return s.token, nil
}

type denyLimiter struct{}

func (denyLimiter) TryAcquire() ratelimit.Acquisition {
	return ratelimit.Acquisition{Allowed: false, RetryAfter: time.Second}
}

type journalEntry struct {
	Type     string            `json:"type"`
	Position string            `json:"position"`
	Data     map[string]string `json:"data"`
}

// backend emulates the journal endpoint and the catalog GraphQL service for
// one test. The journal serves its entries once and an empty page after.
type backend struct {
	mu          sync.Mutex
	srv         *httptest.Server
	products    map[string]*catalog.Product
	journal     []journalEntry
	served      bool
	failJournal bool
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{products: make(map[string]*catalog.Product)}
	b.srv = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(b.srv.Close)
	return b
}

// reset re-arms the journal for a follow-up run
func (b *backend) reset() {
	b.mu.Lock()
	b.served = false
	b.mu.Unlock()
}

func (b *backend) handle(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if strings.HasPrefix(r.URL.Path, "/journal") {
		if b.failJournal {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if b.served || len(b.journal) == 0 {
			w.Write([]byte("[]"))
			return
		}
		b.served = true
		json.NewEncoder(w).Encode(b.journal)
		return
	}

	// Catalog GraphQL, dispatched on the operation name
	var req struct {
		Query     string                 `json:"query"`
		Variables map[string]interface{} `json:"variables"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	switch {
	case strings.Contains(req.Query, "GetUrlKeyQuery"):
		var out []map[string]string
		if skus, ok := req.Variables["skus"].([]interface{}); ok {
			for _, s := range skus {
				if p, ok := b.products[s.(string)]; ok {
					out = append(out, map[string]string{"sku": p.SKU, "urlKey": p.URLKey})
				}
			}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"products": out},
		})

	case strings.Contains(req.Query, "ProductByUrlKey"):
		urlKey, _ := req.Variables["urlKey"].(string)
		var items []map[string]interface{}
		for _, p := range b.products {
			if p.URLKey == urlKey {
				items = append(items, map[string]interface{}{"product": p})
			}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"productSearch": map[string]interface{}{"items": items},
			},
		})

	case strings.Contains(req.Query, "ProductsQuery"):
		var items []map[string]interface{}
		for _, p := range b.products {
			items = append(items, map[string]interface{}{
				"product": map[string]string{"sku": p.SKU, "urlKey": p.URLKey},
			})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"productSearch": map[string]interface{}{
					"items":     items,
					"page_info": map[string]int{"current_page": 1, "total_pages": 1},
				},
			},
		})

	case strings.Contains(req.Query, "ProductQuery"):
		sku, _ := req.Variables["sku"].(string)
		var out []*catalog.Product
		if p, ok := b.products[sku]; ok {
			out = append(out, p)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"products": out},
		})

	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func testConfig(b *backend) *config.Config {
	cfg := config.Defaults()
	cfg.Org = "mock"
	cfg.Site = "mock"
	cfg.ContentURL = "https://main--mock--mock.aem.live"
	cfg.AdminURL = "https://admin.hlx.page"
	cfg.ClientID = "cid"
	cfg.ClientSecret = "secret"
	cfg.IMSOrgID = "imsorg"
	cfg.JournallingURL = b.srv.URL + "/journal"
	cfg.CatalogURL = b.srv.URL + "/graphql"
	return cfg
}

// newTestDeps wires real stores and clients against the backend; the admin
// client runs in mock identity so publishes succeed without a server
func newTestDeps(t *testing.T, b *backend) Deps {
	t.Helper()

	cfg := testConfig(b)

	kv, err := storage.NewBoltKV(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	blob, err := storage.NewFileBlob(t.TempDir())
	require.NoError(t, err)

	filter, err := skufilter.ProductsOnly()
	require.NoError(t, err)

	httpClient := httpx.NewClient()
	cat := catalog.NewClient(cfg.CatalogURL, catalog.Headers{}, httpClient)

	return Deps{
		Config:    cfg,
		KV:        kv,
		Blob:      blob,
		Journal:   journal.NewConsumer(cfg.JournallingURL, cfg.ClientID, cfg.IMSOrgID, httpClient, staticTokens{"tok"}, kv),
		Catalog:   cat,
		Pipeline:  render.NewPipeline(cat, blob, httpClient, "", cfg.ProductPageURLFormat),
		Scheduler: admin.NewScheduler(admin.NewClient(cfg.AdminURL, cfg.Org, cfg.Site, "", httpClient)),
		Limiter:   ratelimit.NewBucket(100, 100),
		Filter:    filter,
	}
}

func liveProducts() map[string]*catalog.Product {
	return map[string]*catalog.Product{
		"W1": {SKU: "W1", URLKey: "widget-one", Name: "Widget One"},
		"W2": {SKU: "W2", URLKey: "widget-two", Name: "Widget Two"},
	}
}

// TestRunValidationFailure tests that an invalid config fails the run before
// any work starts
func TestRunValidationFailure(t *testing.T) {
	b := newBackend(t)
	deps := newTestDeps(t, b)
	deps.Config.ClientSecret = ""

	res := New(deps).Run(context.Background())
	assert.Equal(t, types.RunStatusError, res.Status)
	assert.Contains(t, res.Error, "credentials missing")
}

// TestRunSkippedWhenLockHeld tests the single-writer running lock
func TestRunSkippedWhenLockHeld(t *testing.T) {
	b := newBackend(t)
	deps := newTestDeps(t, b)

	require.NoError(t, deps.KV.Put(RunningKey, []byte("true"), 0))
	res := New(deps).Run(context.Background())
	assert.Equal(t, types.RunStatusSkipped, res.Status)

	require.NoError(t, deps.KV.Delete(RunningKey))
	res = New(deps).Run(context.Background())
	assert.Equal(t, types.RunStatusCompleted, res.Status)
}

// TestRunRendersAndPublishes tests the end-to-end happy path, then a second
// run over the same products that skips every page by content hash
func TestRunRendersAndPublishes(t *testing.T) {
	b := newBackend(t)
	b.products = liveProducts()
	b.journal = []journalEntry{
		{Type: "com.adobe.commerce.product.update", Position: "p1", Data: map[string]string{"sku": "W1"}},
		{Type: "com.adobe.commerce.price.update", Position: "p2", Data: map[string]string{"sku": "W2"}},
	}
	deps := newTestDeps(t, b)

	res := New(deps).Run(context.Background())
	require.Equal(t, types.RunStatusCompleted, res.Status, "error: %s", res.Error)

	assert.Equal(t, 2, res.Statistics.EventsFetched)
	assert.Equal(t, 2, res.Statistics.UniqueSKUs)
	assert.Equal(t, 2, res.Statistics.Processed)
	assert.Equal(t, 2, res.Statistics.Published)
	assert.Zero(t, res.Statistics.Failed)

	page, err := deps.Blob.Read("/public/pdps/products/widget-one/w1.html")
	require.NoError(t, err)
	assert.Contains(t, string(page), "Widget One")

	raw, err := deps.Blob.Read(statePath(""))
	require.NoError(t, err)
	state := parseState(raw)
	require.Len(t, state, 2)
	assert.Len(t, state["W1"].ContentHash, 64)
	assert.Equal(t, "/products/widget-one/w1", state["W1"].LastPublishedPath)
	assert.Equal(t, "/products/widget-two/w2", state["W2"].LastPublishedPath)

	cur, ok, err := deps.KV.Get(journal.CursorKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "p2", string(cur))

	idxRaw, err := deps.Blob.Read(productsIndexPath(""))
	require.NoError(t, err)
	var idx map[string]string
	require.NoError(t, json.Unmarshal(idxRaw, &idx))
	assert.Equal(t, "widget-one", idx["W1"])
	assert.Equal(t, "widget-two", idx["W2"])

	// The lock must be released
	_, held, err := deps.KV.Get(RunningKey)
	require.NoError(t, err)
	assert.False(t, held)

	// Same events again: every page hashes identical, nothing republishes
	b.reset()
	res = New(deps).Run(context.Background())
	require.Equal(t, types.RunStatusCompleted, res.Status, "error: %s", res.Error)
	assert.Equal(t, 2, res.Statistics.Ignored)
	assert.Zero(t, res.Statistics.Processed)
	assert.Zero(t, res.Statistics.Published)
}

// TestRunUnpublishesDeleted tests the deletion sweep: a published product
// absent from the catalog is unpublished and its page removed
func TestRunUnpublishesDeleted(t *testing.T) {
	b := newBackend(t)
	b.products = map[string]*catalog.Product{
		"W1": {SKU: "W1", URLKey: "widget-one", Name: "Widget One"},
	}
	deps := newTestDeps(t, b)

	rendered := time.Now().Add(-time.Hour)
	require.NoError(t, deps.Blob.Write(statePath(""), serializeState(map[string]types.SKUState{
		"W1": {SKU: "W1", LastRenderedAt: rendered, ContentHash: "h1", LastPublishedPath: "/products/widget-one/w1"},
		"W2": {SKU: "W2", LastRenderedAt: rendered, ContentHash: "h2", LastPublishedPath: "/products/widget-two/w2"},
	})))
	require.NoError(t, deps.Blob.Write("/public/pdps/products/widget-two/w2.html", []byte("<html>old</html>")))

	res := New(deps).Run(context.Background())
	require.Equal(t, types.RunStatusCompleted, res.Status, "error: %s", res.Error)
	assert.Equal(t, 1, res.Statistics.Unpublished)

	raw, err := deps.Blob.Read(statePath(""))
	require.NoError(t, err)
	state := parseState(raw)
	require.Len(t, state, 1)
	assert.Contains(t, state, "W1")

	_, err = deps.Blob.Read("/public/pdps/products/widget-two/w2.html")
	assert.Error(t, err, "deleted page must be gone from blob storage")

	idxRaw, err := deps.Blob.Read(productsIndexPath(""))
	require.NoError(t, err)
	var idx map[string]string
	require.NoError(t, json.Unmarshal(idxRaw, &idx))
	assert.NotContains(t, idx, "W2")
}

// TestRunAdvancesCursorPastFilteredEvents tests cursor progress over a
// journal page whose events are all dropped by the type filter
func TestRunAdvancesCursorPastFilteredEvents(t *testing.T) {
	b := newBackend(t)
	b.products = liveProducts()
	b.journal = []journalEntry{
		{Type: "com.adobe.commerce.category.update", Position: "p8", Data: map[string]string{"id": "c1"}},
		{Type: "com.adobe.commerce.category.update", Position: "p9", Data: map[string]string{"id": "c2"}},
	}
	deps := newTestDeps(t, b)

	res := New(deps).Run(context.Background())
	require.Equal(t, types.RunStatusCompleted, res.Status, "error: %s", res.Error)
	assert.Zero(t, res.Statistics.Published)

	cur, ok, err := deps.KV.Get(journal.CursorKey)
	require.NoError(t, err)
	require.True(t, ok, "cursor must persist even when nothing renders")
	assert.Equal(t, "p9", string(cur))
}

// TestRunSkipsSweepOnEmptyCatalog tests that an empty catalog listing does
// not mass-unpublish the published state
func TestRunSkipsSweepOnEmptyCatalog(t *testing.T) {
	b := newBackend(t)
	deps := newTestDeps(t, b)

	rendered := time.Now().Add(-time.Hour)
	require.NoError(t, deps.Blob.Write(statePath(""), serializeState(map[string]types.SKUState{
		"W1": {SKU: "W1", LastRenderedAt: rendered, ContentHash: "h1", LastPublishedPath: "/products/widget-one/w1"},
	})))
	require.NoError(t, deps.Blob.Write("/public/pdps/products/widget-one/w1.html", []byte("<html>live</html>")))

	res := New(deps).Run(context.Background())
	require.Equal(t, types.RunStatusCompleted, res.Status, "error: %s", res.Error)
	assert.Zero(t, res.Statistics.Unpublished)

	raw, err := deps.Blob.Read(statePath(""))
	require.NoError(t, err)
	assert.Contains(t, parseState(raw), "W1")

	_, err = deps.Blob.Read("/public/pdps/products/widget-one/w1.html")
	assert.NoError(t, err, "published page must survive an empty catalog listing")
}

// TestRunJournalFetchError tests that an unexpected journal status fails the
// run and still releases the lock
func TestRunJournalFetchError(t *testing.T) {
	b := newBackend(t)
	b.failJournal = true
	deps := newTestDeps(t, b)

	res := New(deps).Run(context.Background())
	assert.Equal(t, types.RunStatusError, res.Status)
	assert.Contains(t, res.Error, "journal-fetch")

	_, held, err := deps.KV.Get(RunningKey)
	require.NoError(t, err)
	assert.False(t, held)
}

// TestRunThrottledEventsFlowThroughQueue tests that rate-limited events park
// in the durable queue and drain on the next invocation
func TestRunThrottledEventsFlowThroughQueue(t *testing.T) {
	b := newBackend(t)
	b.products = map[string]*catalog.Product{
		"W1": {SKU: "W1", URLKey: "widget-one", Name: "Widget One"},
	}
	b.journal = []journalEntry{
		{Type: "com.adobe.commerce.product.update", Position: "p1", Data: map[string]string{"sku": "W1"}},
	}

	deps := newTestDeps(t, b)
	deps.Queue = queue.New(deps.KV, queue.Options{})
	deps.Limiter = denyLimiter{}

	res := New(deps).Run(context.Background())
	require.Equal(t, types.RunStatusCompleted, res.Status, "error: %s", res.Error)
	assert.Zero(t, res.Statistics.Published)

	status, err := deps.Queue.Status()
	require.NoError(t, err)
	assert.Equal(t, 1, status.QueueSize)

	// Next invocation: the limiter recovered, the queued event leads the run
	b.reset()
	deps.Limiter = ratelimit.NewBucket(100, 100)
	res = New(deps).Run(context.Background())
	require.Equal(t, types.RunStatusCompleted, res.Status, "error: %s", res.Error)
	assert.Equal(t, 1, res.Statistics.Published)

	status, err = deps.Queue.Status()
	require.NoError(t, err)
	assert.Zero(t, status.QueueSize, "acknowledged event must leave the queue")
}
