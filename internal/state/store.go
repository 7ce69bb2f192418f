// Package state holds the scanner's bookkeeping: call-site deduplication
// and the optional extraction cache.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/PentesterFlow/apimap/internal/endpoint"
)

var (
	bucketFiles = []byte("files")
	bucketMeta  = []byte("meta")
	keyVersion  = []byte("version")
)

// storeVersion is bumped when the entry encoding changes.
const storeVersion = "2"

// Entry is the cached extraction result of one source file.
type Entry struct {
	ContentHash string                `json:"content_hash"`
	Fingerprint string                `json:"fingerprint"`
	Definitions []endpoint.Definition `json:"definitions"`
	Dropped     int                   `json:"dropped"`
}

// Store caches per-file extraction results between runs.
type Store interface {
	// Get returns the entry for a repo-relative path if it was written for
	// the same content hash and fingerprint.
	Get(path, contentHash, fingerprint string) (*Entry, bool, error)
	// PutBatch writes entries keyed by repo-relative path.
	PutBatch(entries map[string]*Entry) error
	Close() error
}

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db   *bolt.DB
	path string
}

// NewBoltStore opens or creates a cache database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		if v := meta.Get(keyVersion); v != nil && string(v) != storeVersion {
			// stale layout: start over
			if err := tx.DeleteBucket(bucketFiles); err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
		}
		if err := meta.Put(keyVersion, []byte(storeVersion)); err != nil {
			return err
		}
		_, err = tx.CreateBucketIfNotExists(bucketFiles)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BoltStore{db: db, path: path}, nil
}

// Get implements Store.
func (s *BoltStore) Get(path, contentHash, fingerprint string) (*Entry, bool, error) {
	var entry Entry
	var found bool

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFiles)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		data := b.Get([]byte(path))
		if data == nil {
			return nil
		}

		if err := json.Unmarshal(data, &entry); err != nil {
			// unreadable entries are treated as misses
			return nil
		}
		found = entry.ContentHash == contentHash && entry.Fingerprint == fingerprint
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	return &entry, true, nil
}

// PutBatch implements Store in a single transaction.
func (s *BoltStore) PutBatch(entries map[string]*Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFiles)
		if b == nil {
			return fmt.Errorf("bucket not found")
		}
		for path, entry := range entries {
			data, err := json.Marshal(entry)
			if err != nil {
				return fmt.Errorf("failed to marshal entry for %s: %w", path, err)
			}
			if err := b.Put([]byte(path), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Path returns the database file path.
func (s *BoltStore) Path() string {
	return s.path
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
