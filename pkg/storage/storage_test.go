package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKV(t *testing.T) *BoltKV {
	t.Helper()
	kv, err := NewBoltKV(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	return kv
}

// TestBoltKVRoundTrip tests put, get and delete
func TestBoltKVRoundTrip(t *testing.T) {
	kv := newTestKV(t)

	_, found, err := kv.Get("missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, kv.Put("key", []byte("value"), 0))

	got, found, err := kv.Get("key")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("value"), got)

	require.NoError(t, kv.Delete("key"))
	_, found, err = kv.Get("key")
	require.NoError(t, err)
	assert.False(t, found)

	// Deleting a missing key is not an error
	assert.NoError(t, kv.Delete("key"))
}

// TestBoltKVOverwrite tests last-write-wins
func TestBoltKVOverwrite(t *testing.T) {
	kv := newTestKV(t)

	require.NoError(t, kv.Put("key", []byte("one"), 0))
	require.NoError(t, kv.Put("key", []byte("two"), 0))

	got, found, err := kv.Get("key")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("two"), got)
}

// TestBoltKVTTL tests lazy eviction of expired keys
func TestBoltKVTTL(t *testing.T) {
	kv := newTestKV(t)

	require.NoError(t, kv.Put("short", []byte("v"), 30*time.Millisecond))
	require.NoError(t, kv.Put("forever", []byte("v"), 0))

	_, found, err := kv.Get("short")
	require.NoError(t, err)
	assert.True(t, found)

	time.Sleep(60 * time.Millisecond)

	_, found, err = kv.Get("short")
	require.NoError(t, err)
	assert.False(t, found, "expired key must not be returned")

	_, found, err = kv.Get("forever")
	require.NoError(t, err)
	assert.True(t, found, "zero ttl means no expiry")
}

// TestBoltKVSweep tests the bulk eviction pass
func TestBoltKVSweep(t *testing.T) {
	kv := newTestKV(t)

	require.NoError(t, kv.Put("a", []byte("v"), 10*time.Millisecond))
	require.NoError(t, kv.Put("b", []byte("v"), 10*time.Millisecond))
	require.NoError(t, kv.Put("c", []byte("v"), 0))

	time.Sleep(30 * time.Millisecond)

	evicted, err := kv.sweep()
	require.NoError(t, err)
	assert.Equal(t, 2, evicted)

	_, found, err := kv.Get("c")
	require.NoError(t, err)
	assert.True(t, found)
}

// TestBoltKVPersistence tests reopening the database
func TestBoltKVPersistence(t *testing.T) {
	dir := t.TempDir()

	kv1, err := NewBoltKV(dir)
	require.NoError(t, err)
	require.NoError(t, kv1.Put("key", []byte("survives"), 0))
	require.NoError(t, kv1.Close())

	kv2, err := NewBoltKV(dir)
	require.NoError(t, err)
	defer kv2.Close()

	got, found, err := kv2.Get("key")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("survives"), got)
}

func newTestBlob(t *testing.T) *FileBlob {
	t.Helper()
	blob, err := NewFileBlob(t.TempDir())
	require.NoError(t, err)
	return blob
}

// TestFileBlobRoundTrip tests write, read and delete with nested paths
func TestFileBlobRoundTrip(t *testing.T) {
	blob := newTestBlob(t)

	require.NoError(t, blob.Write("/public/pdps/products/w1.html", []byte("<html/>")))

	got, err := blob.Read("/public/pdps/products/w1.html")
	require.NoError(t, err)
	assert.Equal(t, []byte("<html/>"), got)

	require.NoError(t, blob.Delete("/public/pdps/products/w1.html"))
	_, err = blob.Read("/public/pdps/products/w1.html")
	assert.Error(t, err)

	// Deleting a missing blob is not an error
	assert.NoError(t, blob.Delete("/public/pdps/products/w1.html"))
}

// TestFileBlobList tests prefix listing with slash paths
func TestFileBlobList(t *testing.T) {
	blob := newTestBlob(t)

	require.NoError(t, blob.Write("/public/pdps/a.html", []byte("a")))
	require.NoError(t, blob.Write("/public/pdps/nested/b.html", []byte("b")))
	require.NoError(t, blob.Write("/check-product-changes/default.state", []byte("s")))

	paths, err := blob.List("/public/pdps")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/public/pdps/a.html", "/public/pdps/nested/b.html"}, paths)

	paths, err = blob.List("/does-not-exist")
	require.NoError(t, err)
	assert.Empty(t, paths)
}

// TestFileBlobLeadingSlashOptional tests path normalization
func TestFileBlobLeadingSlashOptional(t *testing.T) {
	blob := newTestBlob(t)

	require.NoError(t, blob.Write("no-slash.txt", []byte("x")))
	got, err := blob.Read("/no-slash.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got)
}
