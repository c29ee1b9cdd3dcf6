package repository

import (
	"context"
	"time"
)

// IFastStore is the shared key-value store used for distributed mutexes,
// quota counters, rate windows, PKCE verifiers and the delayed publish
// queues. Backed by Redis in production; tests use an in-memory fake.
type IFastStore interface {
	// SetNX atomically sets key=value with a TTL only when the key is absent.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// CompareAndDelete removes the key only when its current value matches,
	// so a lock holder never releases a lock re-acquired by someone else.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	IncrBy(ctx context.Context, key string, n int64) (int64, error)
	ExpireAt(ctx context.Context, key string, at time.Time) error

	// Sorted-set primitives backing the delayed queues.
	ZAddNX(ctx context.Context, key, member string, score float64) (bool, error)
	ZRem(ctx context.Context, key, member string) (bool, error)
	ZRangeByScore(ctx context.Context, key string, max float64, limit int) ([]string, error)
}

// ErrNotFound is returned by Get when the key does not exist.
type notFound struct{}

func (notFound) Error() string { return "fast store: key not found" }

var ErrNotFound error = notFound{}
