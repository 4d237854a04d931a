package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/adobe-rnd/aem-commerce-prerender/pkg/log"
)

var bucketKV = []byte("kv")

// sweepInterval paces the background eviction of expired keys
const sweepInterval = 60 * time.Second

// record wraps a stored value with its expiry stamp
type record struct {
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func (r *record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// BoltKV implements KV using BoltDB with lazy eviction on read plus a
// background sweep
type BoltKV struct {
	db     *bolt.DB
	stopCh chan struct{}
}

// NewBoltKV opens (or creates) the database under dataDir
func NewBoltKV(dataDir string) (*BoltKV, error) {
	dbPath := filepath.Join(dataDir, "prerender.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketKV); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketKV, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	kv := &BoltKV{db: db, stopCh: make(chan struct{})}
	go kv.sweepLoop()
	return kv, nil
}

// Close stops the sweeper and closes the database
func (s *BoltKV) Close() error {
	close(s.stopCh)
	return s.db.Close()
}

// Get returns the value for key; expired entries are evicted on the spot
func (s *BoltKV) Get(key string) ([]byte, bool, error) {
	var value []byte
	var found bool
	var expired bool

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketKV).Get([]byte(key))
		if data == nil {
			return nil
		}
		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("corrupt record for %s: %w", key, err)
		}
		if rec.expired(time.Now()) {
			expired = true
			return nil
		}
		value = make([]byte, len(rec.Value))
		copy(value, rec.Value)
		found = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if expired {
		if err := s.Delete(key); err != nil {
			log.WithComponent("storage").Warn().Err(err).Str("key", key).Msg("failed to evict expired key")
		}
	}
	return value, found, nil
}

// Put stores value under key; ttl of zero means no expiry
func (s *BoltKV) Put(key string, value []byte, ttl time.Duration) error {
	rec := record{Value: value}
	if ttl > 0 {
		rec.ExpiresAt = time.Now().Add(ttl)
	}
	data, err := json.Marshal(&rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKV).Put([]byte(key), data)
	})
}

// Delete removes key
func (s *BoltKV) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKV).Delete([]byte(key))
	})
}

func (s *BoltKV) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n, err := s.sweep(); err != nil {
				log.WithComponent("storage").Warn().Err(err).Msg("sweep failed")
			} else if n > 0 {
				log.WithComponent("storage").Debug().Int("evicted", n).Msg("swept expired keys")
			}
		case <-s.stopCh:
			return
		}
	}
}

// sweep removes all expired entries in one pass
func (s *BoltKV) sweep() (int, error) {
	now := time.Now()
	evicted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKV)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec record
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			if rec.expired(now) {
				if err := c.Delete(); err != nil {
					return err
				}
				evicted++
			}
		}
		return nil
	})
	return evicted, err
}
