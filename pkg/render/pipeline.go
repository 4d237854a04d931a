package render

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/adobe-rnd/aem-commerce-prerender/pkg/catalog"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/errkind"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/httpx"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/log"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/storage"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/types"
)

// maxConcurrentRenders bounds in-flight renders per process
const maxConcurrentRenders = 50

// Outcome classifies one SKU's trip through the pipeline
type Outcome int

const (
	// OutcomeRendered means new content was written and a preview is due
	OutcomeRendered Outcome = iota
	// OutcomeUnchanged means the content hash matched the prior state
	OutcomeUnchanged
	// OutcomeFailed means the SKU errored; the batch continues
	OutcomeFailed
)

// Result is the per-SKU pipeline product
type Result struct {
	SKU     string
	Outcome Outcome
	Record  types.BatchRecord
	Hash    string
	Err     error
}

// Pipeline fetches, renders, hashes and persists product pages
type Pipeline struct {
	catalog     *catalog.Client
	blob        storage.Blob
	httpClient  *httpx.Client
	templateURL string
	pathFormat  string
	sem         *semaphore.Weighted
	now         func() time.Time

	// Per-run template cache, keyed by locale
	mu        sync.Mutex
	templates map[string]string
}

// NewPipeline creates a render pipeline
func NewPipeline(cat *catalog.Client, blob storage.Blob, httpClient *httpx.Client, templateURL, pathFormat string) *Pipeline {
	return &Pipeline{
		catalog:     cat,
		blob:        blob,
		httpClient:  httpClient,
		templateURL: templateURL,
		pathFormat:  pathFormat,
		sem:         semaphore.NewWeighted(maxConcurrentRenders),
		now:         time.Now,
		templates:   make(map[string]string),
	}
}

// RenderAll renders every sku concurrently under the semaphore. prior maps
// sku to its last known state for skip-if-unchanged. urlKeys may be partial;
// missing keys fall back to the catalog payload's urlKey.
func (p *Pipeline) RenderAll(ctx context.Context, skus []string, urlKeys map[string]string, locale string, prior map[string]types.SKUState) []Result {
	results := make([]Result, len(skus))
	var wg sync.WaitGroup

	for i, sku := range skus {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			results[i] = Result{SKU: sku, Outcome: OutcomeFailed, Err: err}
			continue
		}
		wg.Add(1)
		go func(i int, sku string) {
			defer wg.Done()
			defer p.sem.Release(1)
			results[i] = p.renderOne(ctx, sku, urlKeys[sku], locale, prior)
		}(i, sku)
	}
	wg.Wait()
	return results
}

func (p *Pipeline) renderOne(ctx context.Context, sku, urlKey, locale string, prior map[string]types.SKUState) Result {
	logger := log.WithSKU(sku)

	var product *catalog.Product
	var err error
	if urlKey != "" {
		product, err = p.catalog.ProductByURLKey(ctx, urlKey)
	} else {
		product, err = p.catalog.ProductBySKU(ctx, sku)
	}
	if err != nil {
		if errkind.IsNotFound(err) {
			logger.Warn().Msg("product not in catalog")
		} else {
			logger.Error().Err(err).Msg("catalog fetch failed")
		}
		return Result{SKU: sku, Outcome: OutcomeFailed, Err: err}
	}

	frame, err := p.frame(ctx, locale)
	if err != nil {
		logger.Warn().Err(err).Msg("template fetch failed, rendering without frame")
		frame = ""
	}

	page := Render(product, frame)
	sum := sha256.Sum256(page)
	hash := hex.EncodeToString(sum[:])

	if st, ok := prior[sku]; ok && st.ContentHash == hash {
		return Result{SKU: sku, Outcome: OutcomeUnchanged, Hash: hash}
	}

	pagePath := BuildPath(p.pathFormat, locale, product.URLKey, product.SKU)
	if err := p.blob.Write(BlobPath(pagePath), page); err != nil {
		logger.Error().Err(err).Msg("blob write failed")
		return Result{SKU: sku, Outcome: OutcomeFailed, Err: err}
	}

	return Result{
		SKU:     sku,
		Outcome: OutcomeRendered,
		Hash:    hash,
		Record: types.BatchRecord{
			SKU:        sku,
			Path:       pagePath,
			RenderedAt: p.now(),
		},
	}
}

// frame fetches and caches the layout template for a locale
func (p *Pipeline) frame(ctx context.Context, locale string) (string, error) {
	if p.templateURL == "" {
		return "", nil
	}

	p.mu.Lock()
	if cached, ok := p.templates[locale]; ok {
		p.mu.Unlock()
		return cached, nil
	}
	p.mu.Unlock()

	u := strings.ReplaceAll(p.templateURL, "{locale}", locale)
	raw, err := p.httpClient.Request(ctx, "products-template", u, httpx.Options{})
	if err != nil {
		return "", err
	}

	frame := string(raw)
	p.mu.Lock()
	p.templates[locale] = frame
	p.mu.Unlock()
	return frame, nil
}
