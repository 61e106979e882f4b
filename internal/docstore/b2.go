package docstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/kurin/blazer/b2"
)

// B2 stores documents as objects in a Backblaze B2 bucket.
type B2 struct {
	client *b2.Client
	bucket *b2.Bucket
}

// OpenB2 connects to bucketName with an application key.
func OpenB2(ctx context.Context, accountID, appKey, bucketName string) (*B2, error) {
	client, err := b2.NewClient(ctx, accountID, appKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create b2 client: %w", err)
	}
	bucket, err := client.Bucket(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}
	return &B2{client: client, bucket: bucket}, nil
}

func (s *B2) Put(ctx context.Context, path string, data []byte) error {
	w := s.bucket.Object(path).NewWriter(ctx)
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		w.Close()
		return fmt.Errorf("failed to write object %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close writer for %s: %w", path, err)
	}
	return nil
}

func (s *B2) Get(ctx context.Context, path string) ([]byte, error) {
	r := s.bucket.Object(path).NewReader(ctx)
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		if b2.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read object %s: %w", path, err)
	}
	return data, nil
}

func (s *B2) Delete(ctx context.Context, path string) error {
	if err := s.bucket.Object(path).Delete(ctx); err != nil && !b2.IsNotExist(err) {
		return fmt.Errorf("failed to delete object %s: %w", path, err)
	}
	return nil
}

func (s *B2) Close() error { return nil }
