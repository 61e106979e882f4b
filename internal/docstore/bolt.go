package docstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var documentsBucket = []byte("Documents")

// Bolt stores documents in a single bbolt file.
type Bolt struct {
	db *bbolt.DB
}

// OpenBolt opens (or creates) the document file at path.
func OpenBolt(path string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create document directory: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open document store: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(documentsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create documents bucket: %w", err)
	}
	return &Bolt{db: db}, nil
}

func (b *Bolt) Put(_ context.Context, path string, data []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(documentsBucket).Put([]byte(path), data); err != nil {
			return fmt.Errorf("failed to store %s: %w", path, err)
		}
		return nil
	})
}

func (b *Bolt) Get(_ context.Context, path string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(documentsBucket).Get([]byte(path))
		if v == nil {
			return ErrNotFound
		}
		// v is only valid inside the transaction.
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Bolt) Delete(_ context.Context, path string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(documentsBucket).Delete([]byte(path))
	})
}

func (b *Bolt) Close() error {
	return b.db.Close()
}
