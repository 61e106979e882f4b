// Package docstore keeps uploaded syllabus documents by path.
package docstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when nothing is stored under the path.
var ErrNotFound = errors.New("document not found")

// Store writes whole documents under slash-separated paths. Put overwrites.
type Store interface {
	Put(ctx context.Context, path string, data []byte) error
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
	Close() error
}
