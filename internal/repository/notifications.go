package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/dreamsaver/internal/model"
)

const notificationColumns = `id, user_id, goal_id, type, title, message, created_at, published_at`

// PendingNotifications возвращает неопубликованные уведомления в порядке создания.
func (r *PostgresRepository) PendingNotifications(ctx context.Context, limit int) ([]model.Notification, error) {
	return r.queryNotifications(ctx,
		`SELECT `+notificationColumns+` FROM notifications
		 WHERE published_at IS NULL
		 ORDER BY created_at
		 LIMIT $1`,
		limit,
	)
}

// ListNotifications возвращает последние уведомления пользователя.
func (r *PostgresRepository) ListNotifications(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	return r.queryNotifications(ctx,
		`SELECT `+notificationColumns+` FROM notifications
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
}

// MarkNotificationPublished отмечает уведомление опубликованным.
func (r *PostgresRepository) MarkNotificationPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE notifications SET published_at = $2 WHERE id = $1 AND published_at IS NULL`,
		id, at,
	)
	if err != nil {
		return classify(fmt.Errorf("mark notification published: %w", err))
	}
	return nil
}

func (r *PostgresRepository) queryNotifications(ctx context.Context, sql string, args ...any) ([]model.Notification, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("select notifications: %w", err))
	}
	defer rows.Close()

	var res []model.Notification
	for rows.Next() {
		var (
			n   model.Notification
			typ string
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.GoalID, &typ, &n.Title, &n.Message, &n.CreatedAt, &n.PublishedAt); err != nil {
			return nil, classify(fmt.Errorf("scan notification: %w", err))
		}
		n.Type = model.NotificationType(typ)
		res = append(res, n)
	}

	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("rows error: %w", err))
	}
	return res, nil
}
