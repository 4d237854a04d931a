package storage

import (
	"time"
)

// KV is durable key/value storage with per-key TTL. Writes are
// read-your-writes within the process but need not be globally linearizable.
type KV interface {
	// Get returns the value and whether the key exists and is unexpired
	Get(key string) ([]byte, bool, error)

	// Put stores the value; ttl of zero means no expiry
	Put(key string, value []byte, ttl time.Duration) error

	// Delete removes the key; deleting a missing key is not an error
	Delete(key string) error

	// Close releases the underlying store
	Close() error
}

// Blob is durable content storage addressed by path
type Blob interface {
	Read(path string) ([]byte, error)
	Write(path string, data []byte) error
	Delete(path string) error
	List(prefix string) ([]string, error)
}
