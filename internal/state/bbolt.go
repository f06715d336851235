// Package state provides bbolt-based persistence for repodeploy runtime state:
// detected mode, service tokens, and job progress snapshots.
//
// The database is opened for the duration of a single transaction so that a
// long-running service and one-shot CLI invocations can share the file.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/kilupskalvis/repodeploy/internal/models"
)

// Bucket names used by the state store.
var (
	bucketSettings = []byte("settings")
	bucketProgress = []byte("progress")
)

// ErrNotFound is returned for absent or expired records.
var ErrNotFound = errors.New("not found")

// DefaultLockTimeout bounds how long a transaction waits for another process.
const DefaultLockTimeout = 5 * time.Second

// Store represents the bbolt state store.
type Store struct {
	path    string
	timeout time.Duration
	mu      sync.RWMutex
}

type progressEntry struct {
	Progress  models.Progress `json:"progress"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// New creates the database at dbPath if needed and ensures all buckets exist.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	s := &Store{path: dbPath, timeout: DefaultLockTimeout}
	if err := s.Initialize(); err != nil {
		return nil, err
	}
	return s, nil
}

// Initialize creates all required buckets.
func (s *Store) Initialize() error {
	return s.update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketSettings, bucketProgress} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

func (s *Store) open(readOnly bool) (*bolt.DB, error) {
	db, err := bolt.Open(s.path, 0600, &bolt.Options{Timeout: s.timeout, ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	return db, nil
}

func (s *Store) view(fn func(tx *bolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	db, err := s.open(true)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.View(fn)
}

func (s *Store) update(fn func(tx *bolt.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.open(false)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Update(fn)
}

// GetValue gets a value from the settings bucket. Missing keys return "".
func (s *Store) GetValue(key string) (string, error) {
	var val string
	err := s.view(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSettings)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			val = string(v)
		}
		return nil
	})
	return val, err
}

// SetValue sets a value in the settings bucket.
func (s *Store) SetValue(key, value string) error {
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSettings).Put([]byte(key), []byte(value))
	})
}

// SetValues writes several settings in one transaction.
func (s *Store) SetValues(values map[string]string) error {
	return s.update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSettings)
		for k, v := range values {
			if err := b.Put([]byte(k), []byte(v)); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteValues removes settings. Missing keys are ignored.
func (s *Store) DeleteValues(keys ...string) error {
	return s.update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSettings)
		for _, k := range keys {
			if err := b.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
}

// PutProgress replaces the snapshot for p.JobID. The record expires after ttl.
func (s *Store) PutProgress(p models.Progress, ttl time.Duration) error {
	data, err := json.Marshal(&progressEntry{Progress: p, ExpiresAt: p.Timestamp.Add(ttl)})
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProgress).Put([]byte(p.JobID), data)
	})
}

// GetProgress returns the latest snapshot for jobID, or ErrNotFound if it was
// never written or has expired at now.
func (s *Store) GetProgress(jobID string, now time.Time) (*models.Progress, error) {
	var entry *progressEntry
	err := s.view(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketProgress).Get([]byte(jobID))
		if data == nil {
			return nil
		}
		entry = &progressEntry{}
		return json.Unmarshal(data, entry)
	})
	if err != nil {
		return nil, err
	}
	if entry == nil || !now.Before(entry.ExpiresAt) {
		return nil, ErrNotFound
	}
	return &entry.Progress, nil
}

// DeleteProgress removes a snapshot.
func (s *Store) DeleteProgress(jobID string) error {
	return s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProgress).Delete([]byte(jobID))
	})
}

// PurgeExpiredProgress removes snapshots expired at now and returns how many
// were deleted.
func (s *Store) PurgeExpiredProgress(now time.Time) (int, error) {
	removed := 0
	err := s.update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProgress)
		var expired [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var entry progressEntry
			if err := json.Unmarshal(v, &entry); err != nil || !now.Before(entry.ExpiresAt) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(expired)
		return nil
	})
	return removed, err
}
