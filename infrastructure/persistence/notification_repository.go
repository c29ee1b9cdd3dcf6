package persistence

import (
	"context"
	"database/sql"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
)

// NotificationRepository persists user-facing publish notifications.
type NotificationRepository struct {
	db *sql.DB
}

func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(ctx context.Context, n *model.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	return r.db.QueryRowContext(ctx,
		`INSERT INTO notifications (user_id, title, message, link, created_at)
		 VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		n.UserID, n.Title, n.Message, n.Link, n.CreatedAt,
	).Scan(&n.ID)
}

var _ repository.INotification = (*NotificationRepository)(nil)
