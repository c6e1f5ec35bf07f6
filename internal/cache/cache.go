// Package cache provides the durable local copy of a client's snapshot,
// stored in a single bbolt file and considered stale after a freshness window.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/kilupskalvis/qsync/internal/models"
)

// Cache persists the last settled snapshot between sessions.
type Cache interface {
	Save(snap models.Snapshot) error
	// Load returns nil when nothing is stored or the stored copy is stale.
	Load() (*models.Snapshot, error)
	Clear() error
}

var (
	bucketSnapshot = []byte("snapshot")

	keyRecords = []byte("records")
	keySavedAt = []byte("saved_at")
)

// DefaultTTL is the freshness window used when none is configured.
const DefaultTTL = 10 * time.Minute

// BoltCache is a Cache backed by a bbolt database.
type BoltCache struct {
	db  *bolt.DB
	ttl time.Duration
	now func() time.Time
}

// Open opens or creates the cache file at path. A ttl of zero selects DefaultTTL.
func Open(path string, ttl time.Duration) (*BoltCache, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSnapshot)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket %s: %w", bucketSnapshot, err)
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &BoltCache{db: db, ttl: ttl, now: time.Now}, nil
}

// Close closes the database.
func (c *BoltCache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Save replaces the stored snapshot.
func (c *BoltCache) Save(snap models.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	savedAt := c.now().UTC().Format(time.RFC3339Nano)

	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshot)
		if err := b.Put(keyRecords, data); err != nil {
			return err
		}
		return b.Put(keySavedAt, []byte(savedAt))
	})
}

// Load returns the stored snapshot if it was saved within the freshness window.
func (c *BoltCache) Load() (*models.Snapshot, error) {
	var data []byte
	var savedAt time.Time

	err := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshot)
		raw := b.Get(keySavedAt)
		if raw == nil {
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, string(raw))
		if err != nil {
			return fmt.Errorf("parse saved_at: %w", err)
		}
		savedAt = t
		// bbolt values are only valid inside the transaction
		data = append([]byte(nil), b.Get(keyRecords)...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if data == nil || c.now().Sub(savedAt) > c.ttl {
		return nil, nil
	}

	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Clear drops the stored snapshot.
func (c *BoltCache) Clear() error {
	return c.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketSnapshot); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketSnapshot)
		return err
	})
}
