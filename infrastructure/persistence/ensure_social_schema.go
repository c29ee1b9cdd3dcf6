package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// EnsureSocialSchema creates the publish subsystem tables when missing. Safe
// to call on every startup; all statements are idempotent.
func EnsureSocialSchema(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS connected_accounts (
			id                  BIGSERIAL PRIMARY KEY,
			user_id             TEXT NOT NULL,
			platform            TEXT NOT NULL CHECK (platform IN ('youtube','tiktok','instagram')),
			external_account_id TEXT NOT NULL,
			display_name        TEXT NOT NULL DEFAULT '',
			avatar_url          TEXT NOT NULL DEFAULT '',
			access_token_enc    TEXT NOT NULL,
			refresh_token_enc   TEXT,
			token_expires_at    TIMESTAMPTZ NOT NULL,
			token_kind          TEXT NOT NULL DEFAULT 'short_lived',
			is_active           BOOLEAN NOT NULL DEFAULT TRUE,
			needs_reauth        BOOLEAN NOT NULL DEFAULT FALSE,
			created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (user_id, platform, external_account_id)
		)`,
		`CREATE TABLE IF NOT EXISTS scheduled_posts (
			id               BIGSERIAL PRIMARY KEY,
			user_id          TEXT NOT NULL,
			account_id       BIGINT NOT NULL REFERENCES connected_accounts(id),
			platform         TEXT NOT NULL CHECK (platform IN ('youtube','tiktok','instagram')),
			video_key        TEXT NOT NULL,
			title            TEXT NOT NULL DEFAULT '',
			caption          TEXT NOT NULL DEFAULT '',
			publish_options  JSONB NOT NULL DEFAULT '{}'::jsonb,
			scheduled_at     TIMESTAMPTZ NOT NULL,
			status           TEXT NOT NULL DEFAULT 'PENDING'
				CHECK (status IN ('PENDING','UPLOADING','SUCCESS','FAILED','CANCELLED')),
			external_post_id TEXT,
			error_message    TEXT,
			progress         INT NOT NULL DEFAULT 0,
			attempt_count    INT NOT NULL DEFAULT 0,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scheduled_posts_user ON scheduled_posts (user_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_scheduled_posts_due ON scheduled_posts (platform, status, scheduled_at)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id         BIGSERIAL PRIMARY KEY,
			user_id    TEXT NOT NULL,
			title      TEXT NOT NULL,
			message    TEXT NOT NULL,
			link       TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications (user_id, created_at DESC)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring social schema: %w", err)
		}
	}
	return nil
}
