// Package kvstore wraps the bbolt database that backs the kv variants of the
// recon state store and the user baseline tracker. One detector run holds the
// file lock for the duration of its sweep; bolt's single-writer transactions
// give per-key mutual exclusion across concurrent runners sweeping the same
// tenant.
package kvstore

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// Bucket names for the bbolt database.
const (
	StateBucket = "detector_state"
	MetaBucket  = "meta"
)

// Persisted key prefixes. Key layout follows the detector state contract:
// recon_score:<actor> and baseline:<actor>, JSON values.
const (
	ReconScorePrefix = "recon_score:"
	BaselinePrefix   = "baseline:"
)

const schemaVersionKey = "schema"

// CurrentSchemaVersion tracks the persisted layout.
const CurrentSchemaVersion = 1

// DB wraps bolt database operations for detector state.
type DB struct {
	db     *bbolt.DB
	ttl    time.Duration
	logger *zap.SugaredLogger
}

// expirable is the common shape of persisted entries; LastUpdate drives TTL
// expiry of stale actors.
type expirable struct {
	LastUpdate time.Time `json:"last_update_ts"`
}

// Open opens (or creates) the state database at path and sweeps entries whose
// last update is older than ttl.
func Open(path string, ttl time.Duration, logger *zap.SugaredLogger) (*DB, error) {
	db, err := bbolt.Open(path, 0o644, &bbolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open state database %s: %w", path, err)
	}

	s := &DB{db: db, ttl: ttl, logger: logger}
	if err := s.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}
	if err := s.sweepExpired(time.Now()); err != nil {
		logger.Warnw("State TTL sweep failed", "error", err)
	}
	return s, nil
}

// Close closes the database.
func (s *DB) Close() error {
	return s.db.Close()
}

func (s *DB) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range []string{StateBucket, MetaBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		meta := tx.Bucket([]byte(MetaBucket))
		version, err := json.Marshal(CurrentSchemaVersion)
		if err != nil {
			return err
		}
		return meta.Put([]byte(schemaVersionKey), version)
	})
}

// Get unmarshals the value at key into out. Returns false when absent.
func (s *DB) Get(key string, out interface{}) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(StateBucket)).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, out)
	})
	return found, err
}

// Update runs fn inside a single write transaction. fn receives get/put/del
// closures scoped to the state bucket; bolt serializes writers, so the whole
// read-modify-write is atomic.
func (s *DB) Update(fn func(get func(key string, out interface{}) (bool, error),
	put func(key string, value interface{}) error,
	del func(key string) error) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(StateBucket))
		get := func(key string, out interface{}) (bool, error) {
			data := bucket.Get([]byte(key))
			if data == nil {
				return false, nil
			}
			return true, json.Unmarshal(data, out)
		}
		put := func(key string, value interface{}) error {
			data, err := json.Marshal(value)
			if err != nil {
				return fmt.Errorf("marshal %s: %w", key, err)
			}
			return bucket.Put([]byte(key), data)
		}
		del := func(key string) error {
			return bucket.Delete([]byte(key))
		}
		return fn(get, put, del)
	})
}

// sweepExpired deletes entries whose last_update_ts is older than the TTL.
func (s *DB) sweepExpired(now time.Time) error {
	if s.ttl <= 0 {
		return nil
	}
	cutoff := now.Add(-s.ttl)
	swept := 0

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(StateBucket))
		cursor := bucket.Cursor()

		var stale [][]byte
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var e expirable
			if err := json.Unmarshal(v, &e); err != nil {
				// Unreadable entries are dropped rather than kept forever.
				stale = append(stale, append([]byte(nil), k...))
				continue
			}
			if e.LastUpdate.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return fmt.Errorf("delete expired key %s: %w", k, err)
			}
			swept++
		}
		return nil
	})
	if err != nil {
		return err
	}

	if swept > 0 {
		s.logger.Infow("Swept expired state entries", "count", swept)
	}
	return nil
}
