package flush

import (
	"bytes"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/txnvm/core/pkg/txnerr"
)

var bucketVersions = []byte("mvcc_versions")

// BoltSink is a concrete ExternalStore backed by an embedded bbolt
// database, one bucket holding every "{key}@{commit_ts}" entry. It is
// one swappable implementation of the collaborator contract, not a
// durability guarantee — the core never assumes crash-atomic semantics
// from it.
type BoltSink struct {
	db *bolt.DB
}

// NewBoltSink opens (creating if absent) a bbolt database at path.
func NewBoltSink(path string) (*BoltSink, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: opening bolt sink: %v", txnerr.ErrConfiguration, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketVersions)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket %s: %w", bucketVersions, err)
	}

	return &BoltSink{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltSink) Close() error {
	return s.db.Close()
}

func (s *BoltSink) Set(key, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVersions).Put(key, value)
	})
}

func (s *BoltSink) Get(key []byte) ([]byte, bool, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketVersions).Get(key)
		if v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return value, value != nil, nil
}

func (s *BoltSink) Delete(key []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVersions).Delete(key)
	})
}

// WriteBatch writes every entry inside one bolt transaction, best-effort:
// a failure partway through aborts the whole transaction (bbolt's own
// atomicity), but no retry is attempted — callers only log IoFailure.
func (s *BoltSink) WriteBatch(entries []KV) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVersions)
		for _, e := range entries {
			if err := b.Put(e.Key, e.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Scan iterates every key with the given prefix in byte order, invoking
// fn until it returns false.
func (s *BoltSink) Scan(prefix []byte, fn func(key, value []byte) bool) error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketVersions).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if !fn(k, v) {
				break
			}
		}
		return nil
	})
}
