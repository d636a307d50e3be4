// Package artifacts stores and serves rendered outputs. Workers write
// finished renders here by the job's output path; the API streams them back
// from the same store.
package artifacts

import (
	"context"
	"io"
)

type PutInput struct {
	Key         string
	ContentType string
	Reader      io.Reader
	Size        int64
}

type PutOutput struct {
	// Key is what Open/Delete take afterwards. For the local store it is the
	// input key; for Drive it is the real file ID.
	Key  string
	Size int64
}

// Store is implemented by the artifact backends (localfs, gdrive).
type Store interface {
	Provider() string

	Put(ctx context.Context, in PutInput) (PutOutput, error)
	Open(ctx context.Context, key string) (rc io.ReadCloser, contentType string, size int64, err error)
	Delete(ctx context.Context, key string) error
}
