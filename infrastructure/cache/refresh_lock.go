package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"social-publisher/domain/repository"
	"social-publisher/infrastructure/logger"
)

// RefreshLock serialises token refreshes per connected account across worker
// processes. The lock value is a random token so only the holder that set the
// key can release it; the TTL bounds how long a crashed holder blocks others.
type RefreshLock struct {
	store repository.IFastStore
	ttl   time.Duration
}

func NewRefreshLock(store repository.IFastStore, ttl time.Duration) *RefreshLock {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RefreshLock{store: store, ttl: ttl}
}

// Acquire tries to take the per-account lock. When ok is false another holder
// owns it and the caller should back off and re-read the account instead of
// refreshing. The returned release is safe to call after TTL expiry: it only
// deletes the key if it still carries this holder's token.
func (l *RefreshLock) Acquire(ctx context.Context, accountID int64) (release func(context.Context), ok bool, err error) {
	key := fmt.Sprintf("refresh:acct:%d", accountID)
	token := uuid.NewString()

	ok, err = l.store.SetNX(ctx, key, token, l.ttl)
	if err != nil || !ok {
		return nil, false, err
	}
	release = func(ctx context.Context) {
		deleted, delErr := l.store.CompareAndDelete(ctx, key, token)
		if delErr != nil {
			logger.GetLogger().WithField("key", key).WithField("error", delErr).Warn("Failed to release refresh lock")
			return
		}
		if !deleted {
			logger.GetLogger().WithField("key", key).Warn("Refresh lock expired before release")
		}
	}
	return release, true, nil
}
