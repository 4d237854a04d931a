/*
Package render turns catalog products into publishable HTML pages.

The pipeline fetches each product from the catalog service, renders it
into a product detail page, hashes the result and persists it to blob
storage. Rendering is deterministic: the same product yields byte-identical
HTML, which makes the content hash a reliable change detector.

# Pipeline

	RenderAll(skus) ──▶ per SKU, under a concurrency semaphore:
	     │
	     ▼
	 fetch product (by urlKey when known, else by sku)
	     │
	     ▼
	 render into the locale's layout frame (fetched once per
	 locale per run; pages render standalone when no frame is
	 configured or the fetch fails)
	     │
	     ▼
	 sha256 hash ── matches prior state? → OutcomeUnchanged
	     │
	     ▼
	 write to blob storage under /public/pdps<path>.html
	     │
	     ▼
	 OutcomeRendered with a BatchRecord ready for preview

Page paths come from the configured format string with {locale}, {urlKey}
and {sku} tokens; segments are lowercased and slugified so catalog data
can never produce an unpublishable path.
*/
package render
