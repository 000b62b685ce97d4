package store

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var boltBucket = []byte("mastro")

// BoltKV stores every key in a single bbolt bucket. The database file stays
// open (and locked) until Close.
type BoltKV struct {
	db *bolt.DB
}

func NewBoltKV(path string) (*BoltKV, error) {
	if path == "" {
		return nil, errors.New("bolt kv: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "bolt kv: create directory for %s", path)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "bolt kv: open %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "bolt kv: create bucket")
	}
	return &BoltKV{db: db}, nil
}

func (s *BoltKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	var ret []byte
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(boltBucket)
		if b == nil {
			return nil
		}
		v := b.Get([]byte(key))
		if v == nil {
			return nil
		}
		// v is only valid for the lifetime of the transaction
		ret = append([]byte(nil), v...)
		found = true
		return nil
	})
	if err != nil {
		return nil, false, errors.Wrapf(err, "bolt kv: get %s", key)
	}
	return ret, found, nil
}

func (s *BoltKV) Set(_ context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(boltBucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), value)
	})
	return errors.Wrapf(err, "bolt kv: set %s", key)
}

func (s *BoltKV) List(_ context.Context) ([]string, error) {
	keys := []string{}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(boltBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "bolt kv: list")
	}
	return keys, nil
}

func (s *BoltKV) Close() error {
	return s.db.Close()
}

var _ KV = (*BoltKV)(nil)
