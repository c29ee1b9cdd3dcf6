package repository

import (
	"context"
	"io"
	"time"
)

// IVideoStore exposes the external blob store holding finished videos.
type IVideoStore interface {
	// GetStream returns a readable stream and the content length for a key.
	GetStream(ctx context.Context, key string) (io.ReadCloser, int64, error)
	// GetPublicURL returns a time-boxed publicly fetchable URL for a key.
	GetPublicURL(ctx context.Context, key string, expires time.Duration) (string, error)
}
