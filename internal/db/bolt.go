package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var boltBucket = []byte("chat_state")

// BoltStore persists values in a single bucket of an embedded bbolt file.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("bolt: path is required")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("bolt: create dir: %w", err)
		}
	}

	handle, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", path, err)
	}

	err = handle.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("bolt: create bucket: %w", err)
	}

	return &BoltStore{db: handle}, nil
}

func (b *BoltStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var value []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(boltBucket).Get([]byte(key))
		if raw != nil {
			// bbolt values are only valid for the life of the transaction.
			value = append([]byte(nil), raw...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("bolt: load %s: %w", key, err)
	}
	return value, value != nil, nil
}

func (b *BoltStore) Save(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("bolt: save %s: %w", key, err)
	}
	return nil
}

func (b *BoltStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
