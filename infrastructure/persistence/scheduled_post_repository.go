package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
)

// ScheduledPostRepository implements scheduled post persistence on PostgreSQL.
type ScheduledPostRepository struct {
	db *sql.DB
}

func NewScheduledPostRepository(db *sql.DB) *ScheduledPostRepository {
	return &ScheduledPostRepository{db: db}
}

const postColumns = `id, user_id, account_id, platform, video_key, title, caption, publish_options,
	scheduled_at, status, external_post_id, error_message, progress, attempt_count, created_at, updated_at`

func (r *ScheduledPostRepository) Create(ctx context.Context, post *model.ScheduledPost) (int64, error) {
	options, err := marshalOptions(post.PublishOptions)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	var id int64
	err = r.db.QueryRowContext(ctx,
		`INSERT INTO scheduled_posts
			(user_id, account_id, platform, video_key, title, caption, publish_options,
			 scheduled_at, status, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'PENDING',$9,$9)
		 RETURNING id`,
		post.UserID, post.AccountID, post.Platform, post.VideoKey, post.Title, post.Caption,
		options, post.ScheduledAt.UTC(), now,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *ScheduledPostRepository) GetByID(ctx context.Context, id int64) (*model.ScheduledPost, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM scheduled_posts WHERE id=$1`, id)
	return scanPost(row)
}

func (r *ScheduledPostRepository) GetByIDForUser(ctx context.Context, id int64, userID string) (*model.ScheduledPost, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM scheduled_posts WHERE id=$1 AND user_id=$2`, id, userID)
	return scanPost(row)
}

func (r *ScheduledPostRepository) List(ctx context.Context, userID, status string, limit int) ([]*model.ScheduledPost, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var (
		rows *sql.Rows
		err  error
	)
	if status != "" {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+postColumns+` FROM scheduled_posts WHERE user_id=$1 AND status=$2 ORDER BY created_at DESC LIMIT $3`,
			userID, status, limit)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+postColumns+` FROM scheduled_posts WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`,
			userID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*model.ScheduledPost
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, post)
	}
	return list, rows.Err()
}

// ClaimForUpload takes the exclusive upload claim inside one transaction. The
// row lock with SKIP LOCKED makes concurrent claimers fall through instead of
// queueing; the status and external_post_id predicates make the claim a no-op
// for cancelled, finished or already published posts.
func (r *ScheduledPostRepository) ClaimForUpload(ctx context.Context, id int64) (*model.ScheduledPost, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM scheduled_posts
		 WHERE id=$1 AND status IN ('PENDING','UPLOADING') AND external_post_id IS NULL
		 FOR UPDATE SKIP LOCKED`, id)
	post, err := scanPost(row)
	if err != nil {
		return nil, false, err
	}
	if post == nil {
		err = tx.Commit()
		return nil, false, err
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE scheduled_posts
		 SET status='UPLOADING', attempt_count=attempt_count+1, error_message=NULL, updated_at=$1
		 WHERE id=$2`,
		time.Now().UTC(), id); err != nil {
		return nil, false, err
	}
	if err = tx.Commit(); err != nil {
		return nil, false, err
	}

	post.Status = model.PostStatusUploading
	post.AttemptCount++
	post.ErrorMessage = nil
	return post, true, nil
}

func (r *ScheduledPostRepository) MarkSuccess(ctx context.Context, id int64, externalPostID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE scheduled_posts
		 SET status='SUCCESS', external_post_id=$1, progress=100, error_message=NULL, updated_at=$2
		 WHERE id=$3 AND status='UPLOADING'`,
		externalPostID, time.Now().UTC(), id)
	return err
}

func (r *ScheduledPostRepository) MarkFailed(ctx context.Context, id int64, reason string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE scheduled_posts SET status='FAILED', error_message=$1, updated_at=$2 WHERE id=$3`,
		reason, time.Now().UTC(), id)
	return err
}

func (r *ScheduledPostRepository) RevertToPending(ctx context.Context, id int64, scheduledAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE scheduled_posts
		 SET status='PENDING', scheduled_at=$1, progress=0, updated_at=$2
		 WHERE id=$3 AND status='UPLOADING'`,
		scheduledAt.UTC(), time.Now().UTC(), id)
	return err
}

func (r *ScheduledPostRepository) DeferForQuota(ctx context.Context, id int64, scheduledAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE scheduled_posts
		 SET status='PENDING', scheduled_at=$1, progress=0,
		     attempt_count=GREATEST(attempt_count-1, 0), updated_at=$2
		 WHERE id=$3 AND status='UPLOADING'`,
		scheduledAt.UTC(), time.Now().UTC(), id)
	return err
}

// ListStalled finds posts whose queue delivery was lost: UPLOADING rows that
// stopped moving before the cutoff (crashed worker holding a consumed claim)
// and PENDING rows overdue past the cutoff (revert landed but the re-enqueue
// did not). Both still carry a NULL idempotency marker, so re-delivering them
// is safe.
func (r *ScheduledPostRepository) ListStalled(ctx context.Context, platform model.Platform, cutoff time.Time, limit int) ([]*model.ScheduledPost, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+postColumns+` FROM scheduled_posts
		 WHERE platform=$1 AND external_post_id IS NULL
		   AND ((status='UPLOADING' AND updated_at < $2)
		     OR (status='PENDING' AND scheduled_at < $2))
		 ORDER BY scheduled_at ASC LIMIT $3`,
		platform, cutoff.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*model.ScheduledPost
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, post)
	}
	return list, rows.Err()
}

func (r *ScheduledPostRepository) Cancel(ctx context.Context, id int64, userID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE scheduled_posts SET status='CANCELLED', updated_at=$1
		 WHERE id=$2 AND user_id=$3 AND status='PENDING'`,
		time.Now().UTC(), id, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *ScheduledPostRepository) UpdateProgress(ctx context.Context, id int64, progress int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE scheduled_posts SET progress=$1, updated_at=$2 WHERE id=$3 AND status='UPLOADING'`,
		progress, time.Now().UTC(), id)
	return err
}

func scanPost(row rowScanner) (*model.ScheduledPost, error) {
	post := &model.ScheduledPost{}
	var (
		options    []byte
		externalID sql.NullString
		errMsg     sql.NullString
	)
	err := row.Scan(
		&post.ID, &post.UserID, &post.AccountID, &post.Platform, &post.VideoKey, &post.Title, &post.Caption,
		&options, &post.ScheduledAt, &post.Status, &externalID, &errMsg, &post.Progress, &post.AttemptCount,
		&post.CreatedAt, &post.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if externalID.Valid {
		post.ExternalPostID = &externalID.String
	}
	if errMsg.Valid {
		post.ErrorMessage = &errMsg.String
	}
	if len(options) > 0 {
		if err := json.Unmarshal(options, &post.PublishOptions); err != nil {
			return nil, err
		}
	}
	return post, nil
}

func marshalOptions(options map[string]string) ([]byte, error) {
	if options == nil {
		options = map[string]string{}
	}
	return json.Marshal(options)
}

var _ repository.IScheduledPost = (*ScheduledPostRepository)(nil)
