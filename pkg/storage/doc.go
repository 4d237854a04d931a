/*
Package storage provides the two persistence surfaces: a KV store and a
blob store.

KV is the small-state store (locks, cursors, tokens, queue state) backed
by bbolt with optional per-key TTLs; expired keys are evicted lazily on
read. Blob is the page store (rendered HTML, per-locale state files)
backed by the local filesystem with slash-separated paths.

Both are interfaces so tests substitute in-memory doubles and a deployment
can swap the blob backend without touching callers.
*/
package storage
