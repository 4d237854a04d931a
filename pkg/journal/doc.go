/*
Package journal consumes the remote commerce event journal.

The journal is an append-only stream of catalog mutation events addressed
by an opaque cursor. The consumer fetches pages after the cursor, keeps
only product.update and price.update events, resolves each event's SKU
(data.sku, falling back to data.product.sku), and persists the cursor in
the KV store between invocations.

Three wire shapes are accepted: a bare JSON array of events, an
{events: [...]} envelope, and newline-delimited JSON. The journal signals
end-of-stream with 500 by convention; 400 and 404 are treated the same way
and map to an empty batch with the cursor unchanged, so a drained or
freshly provisioned journal never fails a run.

Requests carry a bearer token from the IMS token manager plus the
x-api-key and x-ims-org-id identity headers.
*/
package journal
