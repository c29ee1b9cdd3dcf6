package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/cache"
	"social-publisher/infrastructure/crypto"
	"social-publisher/infrastructure/logger"
)

// Refresh thresholds. Instagram long-lived tokens last 60 days and renew in
// bulk; the short-lived YouTube/TikTok tokens turn over hourly.
const (
	shortLivedRefreshWindow = time.Hour
	longLivedRefreshWindow  = 10 * 24 * time.Hour

	refreshContentionWait = 200 * time.Millisecond
)

type ITokenRefresher interface {
	// IsExpiringSoon reports whether the account's access token is inside
	// its platform's refresh window.
	IsExpiringSoon(acct *model.ConnectedAccount) bool
	// RefreshAccount refreshes the account's credentials under the
	// per-account mutex. On lock contention it waits briefly and returns nil,
	// trusting the holder; the caller re-reads the account either way.
	// Returns repository.ErrReauthRequired when the platform rejected the
	// grant and the account was flagged.
	RefreshAccount(ctx context.Context, acct *model.ConnectedAccount) error
}

type tokenRefresher struct {
	accounts   repository.IConnectedAccount
	sealer     *crypto.TokenSealer
	lock       *cache.RefreshLock
	publishers map[model.Platform]repository.IPlatformPublisher
	now        func() time.Time
	sleep      func(time.Duration)
}

func NewTokenRefresher(
	accounts repository.IConnectedAccount,
	sealer *crypto.TokenSealer,
	lock *cache.RefreshLock,
	publishers map[model.Platform]repository.IPlatformPublisher,
) ITokenRefresher {
	return &tokenRefresher{
		accounts:   accounts,
		sealer:     sealer,
		lock:       lock,
		publishers: publishers,
		now:        time.Now,
		sleep:      time.Sleep,
	}
}

func (t *tokenRefresher) IsExpiringSoon(acct *model.ConnectedAccount) bool {
	window := shortLivedRefreshWindow
	if acct.Platform == model.PlatformInstagram {
		window = longLivedRefreshWindow
	}
	return t.now().Add(window).After(acct.TokenExpiresAt)
}

func (t *tokenRefresher) RefreshAccount(ctx context.Context, acct *model.ConnectedAccount) error {
	if acct.NeedsReauth {
		return repository.ErrReauthRequired
	}

	release, ok, err := t.lock.Acquire(ctx, acct.ID)
	if err != nil {
		return err
	}
	if !ok {
		// Another worker is refreshing this account right now. Give it a
		// moment, then let the caller re-read the row.
		t.sleep(refreshContentionWait)
		return nil
	}
	defer release(ctx)

	// Re-read under the lock: the contender that beat us to an earlier lock
	// may have refreshed already.
	current, err := t.accounts.GetByID(ctx, acct.ID)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("account %d no longer exists", acct.ID)
	}
	if current.NeedsReauth {
		return repository.ErrReauthRequired
	}
	if !t.IsExpiringSoon(current) {
		return nil
	}

	accessToken, err := t.sealer.Open(current.AccessTokenEnc)
	if err != nil {
		return fmt.Errorf("unsealing access token for account %d: %w", current.ID, err)
	}
	var refreshToken string
	if current.RefreshTokenEnc != nil {
		if refreshToken, err = t.sealer.Open(*current.RefreshTokenEnc); err != nil {
			return fmt.Errorf("unsealing refresh token for account %d: %w", current.ID, err)
		}
	}

	publisher, ok := t.publishers[current.Platform]
	if !ok {
		return fmt.Errorf("no publisher registered for platform %s", current.Platform)
	}
	pair, err := publisher.Refresh(ctx, accessToken, refreshToken)
	if err != nil {
		if errors.Is(err, repository.ErrReauthRequired) {
			logger.GetLogger().
				WithField("accountId", current.ID).
				WithField("platform", current.Platform).
				Warn("Token refresh rejected, account needs re-authentication")
			if flagErr := t.accounts.SetNeedsReauth(ctx, current.ID); flagErr != nil {
				return flagErr
			}
			return repository.ErrReauthRequired
		}
		return fmt.Errorf("refreshing account %d: %w", current.ID, err)
	}

	accessEnc, err := t.sealer.Seal(pair.AccessToken)
	if err != nil {
		return err
	}
	var refreshEnc *string
	if pair.RefreshToken != "" {
		enc, err := t.sealer.Seal(pair.RefreshToken)
		if err != nil {
			return err
		}
		refreshEnc = &enc
	} else {
		// Platforms without a refresh grant keep whatever was stored.
		refreshEnc = current.RefreshTokenEnc
	}

	if err := t.accounts.UpdateTokens(ctx, current.ID, accessEnc, refreshEnc, pair.ExpiresAt); err != nil {
		return err
	}
	logger.GetLogger().
		WithField("accountId", current.ID).
		WithField("platform", current.Platform).
		Info("Access token refreshed")
	return nil
}
