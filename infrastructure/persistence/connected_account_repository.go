package persistence

import (
	"context"
	"database/sql"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
)

// ConnectedAccountRepository implements account persistence on PostgreSQL.
type ConnectedAccountRepository struct {
	db *sql.DB
}

func NewConnectedAccountRepository(db *sql.DB) *ConnectedAccountRepository {
	return &ConnectedAccountRepository{db: db}
}

const accountColumns = `id, user_id, platform, external_account_id, display_name, avatar_url,
	access_token_enc, refresh_token_enc, token_expires_at, token_kind, is_active, needs_reauth,
	created_at, updated_at`

func (r *ConnectedAccountRepository) Upsert(ctx context.Context, acct *model.ConnectedAccount) (int64, error) {
	now := time.Now().UTC()
	// Re-linking an existing identity replaces the credentials and clears any
	// reauth flag; it never duplicates the account row.
	q := `INSERT INTO connected_accounts
			(user_id, platform, external_account_id, display_name, avatar_url,
			 access_token_enc, refresh_token_enc, token_expires_at, token_kind,
			 is_active, needs_reauth, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,TRUE,FALSE,$10,$10)
		ON CONFLICT (user_id, platform, external_account_id) DO UPDATE SET
			display_name      = EXCLUDED.display_name,
			avatar_url        = EXCLUDED.avatar_url,
			access_token_enc  = EXCLUDED.access_token_enc,
			refresh_token_enc = EXCLUDED.refresh_token_enc,
			token_expires_at  = EXCLUDED.token_expires_at,
			token_kind        = EXCLUDED.token_kind,
			is_active         = TRUE,
			needs_reauth      = FALSE,
			updated_at        = EXCLUDED.updated_at
		RETURNING id`
	var id int64
	err := r.db.QueryRowContext(ctx, q,
		acct.UserID, acct.Platform, acct.ExternalAccountID, acct.DisplayName, acct.AvatarURL,
		acct.AccessTokenEnc, acct.RefreshTokenEnc, acct.TokenExpiresAt.UTC(), acct.TokenKind, now,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *ConnectedAccountRepository) GetByID(ctx context.Context, id int64) (*model.ConnectedAccount, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM connected_accounts WHERE id=$1`, id)
	return scanAccount(row)
}

func (r *ConnectedAccountRepository) GetByUser(ctx context.Context, userID string) ([]*model.ConnectedAccount, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM connected_accounts WHERE user_id=$1 AND is_active ORDER BY platform, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*model.ConnectedAccount
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, acct)
	}
	return list, rows.Err()
}

func (r *ConnectedAccountRepository) UpdateTokens(ctx context.Context, id int64, accessEnc string, refreshEnc *string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE connected_accounts
		 SET access_token_enc=$1, refresh_token_enc=$2, token_expires_at=$3, needs_reauth=FALSE, updated_at=$4
		 WHERE id=$5`,
		accessEnc, refreshEnc, expiresAt.UTC(), time.Now().UTC(), id)
	return err
}

func (r *ConnectedAccountRepository) SetNeedsReauth(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE connected_accounts SET needs_reauth=TRUE, updated_at=$1 WHERE id=$2`,
		time.Now().UTC(), id)
	return err
}

func (r *ConnectedAccountRepository) Deactivate(ctx context.Context, id int64, userID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE connected_accounts SET is_active=FALSE, updated_at=$1 WHERE id=$2 AND user_id=$3 AND is_active`,
		time.Now().UTC(), id, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*model.ConnectedAccount, error) {
	acct := &model.ConnectedAccount{}
	var refreshEnc sql.NullString
	err := row.Scan(
		&acct.ID, &acct.UserID, &acct.Platform, &acct.ExternalAccountID, &acct.DisplayName, &acct.AvatarURL,
		&acct.AccessTokenEnc, &refreshEnc, &acct.TokenExpiresAt, &acct.TokenKind, &acct.IsActive, &acct.NeedsReauth,
		&acct.CreatedAt, &acct.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if refreshEnc.Valid {
		acct.RefreshTokenEnc = &refreshEnc.String
	}
	return acct, nil
}

var _ repository.IConnectedAccount = (*ConnectedAccountRepository)(nil)
