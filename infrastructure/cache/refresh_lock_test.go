package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefreshLock_AcquireAndRelease(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	lock := NewRefreshLock(store, 30*time.Second)

	release, ok, err := lock.Acquire(ctx, 42)
	require.NoError(t, err)
	require.True(t, ok)

	// Second acquire for the same account is refused while held.
	_, ok, err = lock.Acquire(ctx, 42)
	require.NoError(t, err)
	assert.False(t, ok)

	// A different account is unaffected.
	_, ok, err = lock.Acquire(ctx, 43)
	require.NoError(t, err)
	assert.True(t, ok)

	release(ctx)
	_, ok, err = lock.Acquire(ctx, 42)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRefreshLock_StaleHolderCannotReleaseNewOwner(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Now()
	store.Now = func() time.Time { return base }
	lock := NewRefreshLock(store, 30*time.Second)

	staleRelease, ok, err := lock.Acquire(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)

	// TTL passes, a second worker takes over.
	store.Now = func() time.Time { return base.Add(31 * time.Second) }
	_, ok, err = lock.Acquire(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)

	// The stale holder's release must not free the new owner's lock.
	staleRelease(ctx)
	_, ok, err = lock.Acquire(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok)
}
