/*
Package catalog queries the commerce catalog service over GraphQL.

The client covers the product surface the prerenderer needs: single
products by SKU or URL key, url-key and last-modified lookups for SKU
sets (chunked and fetched concurrently), variants, categories, and the
paged product listing that AllSKUs walks to build the full sku → urlKey
index used by the deletion sweep.

Requests carry the Magento scope headers (store, store view, website,
customer group, environment) resolved from the site's config sheet, plus
the x-api-key header. GraphQL errors in a 200 response are surfaced as
ordinary errors; a product absent from a well-formed response is a
NotFound, which callers treat as per-SKU ignorable.
*/
package catalog
