// Package blob stores raw attachment bytes under opaque keys.
package blob

import (
	"context"
	"io"
)

// Backend is the byte storage used by the attachment store. Open and Delete
// report apperr.ErrNotFound for keys that do not exist.
type Backend interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}
