package main

import (
	"context"
	"fmt"

	"github.com/adobe-rnd/aem-commerce-prerender/pkg/admin"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/catalog"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/config"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/httpx"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/journal"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/log"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/orchestrator"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/queue"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/ratelimit"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/render"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/skufilter"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/storage"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/token"
)

// buildDeps assembles the component graph for one deployment. The returned
// cleanup closes the local stores.
func buildDeps(ctx context.Context, cfg *config.Config) (orchestrator.Deps, func(), error) {
	kv, err := storage.NewBoltKV(cfg.DataDir)
	if err != nil {
		return orchestrator.Deps{}, nil, fmt.Errorf("failed to open kv store: %w", err)
	}
	cleanup := func() {
		if err := kv.Close(); err != nil {
			log.Errorf("failed to close kv store", err)
		}
	}

	blob, err := storage.NewFileBlob(cfg.BlobDir)
	if err != nil {
		cleanup()
		return orchestrator.Deps{}, nil, fmt.Errorf("failed to open blob store: %w", err)
	}

	httpClient := httpx.NewClient()

	tokens := token.NewManager(token.Credentials{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		IMSOrgID:     cfg.IMSOrgID,
	}, cfg.IMSEndpoint, httpClient, kv)

	// Per-store request headers come from the site's config sheet when one
	// is named; the client id doubles as the api key otherwise
	headers := catalog.Headers{APIKey: cfg.ClientID}
	if cfg.ConfigName != "" {
		fetched, err := catalog.FetchHeaders(ctx, httpClient, cfg.ContentURL, cfg.ConfigName, cfg.ConfigSheet, "/")
		if err != nil {
			log.WithComponent("main").Warn().Err(err).Msg("config sheet fetch failed, using defaults")
		} else {
			headers = fetched
		}
	}

	cat := catalog.NewClient(cfg.CatalogURL, headers, httpClient)
	consumer := journal.NewConsumer(cfg.JournallingURL, cfg.ClientID, cfg.IMSOrgID, httpClient, tokens, kv)
	pipeline := render.NewPipeline(cat, blob, httpClient, cfg.ProductsTemplate, cfg.ProductPageURLFormat)
	scheduler := admin.NewScheduler(admin.NewClient(cfg.AdminURL, cfg.Org, cfg.Site, cfg.AdminAPIAuthToken, httpClient))

	filter, err := skufilter.ProductsOnly()
	if err != nil {
		cleanup()
		return orchestrator.Deps{}, nil, fmt.Errorf("failed to build sku filter: %w", err)
	}

	var q *queue.Queue
	var limiter orchestrator.Limiter
	if cfg.QueueEnabled {
		q = queue.New(kv, queue.Options{
			MaxQueueSize: cfg.MaxQueueSize,
			DedupWindow:  cfg.DedupWindow.Std(),
			QueueTTL:     cfg.QueueTTL.Std(),
			MaxRetries:   cfg.MaxRetries,
		})
		// Bucket state shared across invocations, same lifetime as the queue
		limiter = ratelimit.NewPersistentBucket(kv, cfg.MaxTokens, cfg.RefillRate)
	} else {
		limiter = ratelimit.NewBucket(cfg.MaxTokens, cfg.RefillRate)
	}

	return orchestrator.Deps{
		Config:    cfg,
		KV:        kv,
		Blob:      blob,
		Journal:   consumer,
		Catalog:   cat,
		Pipeline:  pipeline,
		Scheduler: scheduler,
		Queue:     q,
		Limiter:   limiter,
		Filter:    filter,
	}, cleanup, nil
}
