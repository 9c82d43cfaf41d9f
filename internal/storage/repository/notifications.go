package repository

import (
	"context"
	"fmt"

	"github.com/magabrotheeeer/devmanager/internal/models"
)

// CreateNotification сохраняет уведомление пользователю.
func (s *Storage) CreateNotification(ctx context.Context, n models.Notification) (*models.Notification, error) {
	const op = "storage.CreateNotification"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO notifications (user_id, title, message) VALUES ($1, $2, $3)
		 RETURNING id, is_read, created_at`,
		n.UserID, n.Title, n.Message).Scan(&n.ID, &n.IsRead, &n.CreatedAt)
	if err != nil {
		return nil, wrap(op, err)
	}
	return &n, nil
}

// ListNotifications возвращает уведомления пользователя, новые первыми.
func (s *Storage) ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]models.Notification, error) {
	const op = "storage.ListNotifications"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, user_id, title, message, is_read, created_at
		 FROM notifications
		 WHERE user_id = $1 AND ($2 = FALSE OR NOT is_read)
		 ORDER BY created_at DESC`, userID, unreadOnly)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []models.Notification
	for rows.Next() {
		var n models.Notification
		if err = rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, wrap(op, err)
		}
		result = append(result, n)
	}
	if err = rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return result, nil
}

// MarkNotificationRead помечает уведомление прочитанным.
func (s *Storage) MarkNotificationRead(ctx context.Context, userID, notificationID string) error {
	const op = "storage.MarkNotificationRead"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	res, err := s.DB.ExecContext(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2`, notificationID, userID)
	if err != nil {
		return wrap(op, err)
	}
	return affected(op, res)
}

// CountWorkspace считает клиентов, проекты, контракты и непрочитанные уведомления пользователя.
func (s *Storage) CountWorkspace(ctx context.Context, userID string) (*models.Overview, error) {
	const op = "storage.CountWorkspace"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	o := &models.Overview{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT
		    (SELECT COUNT(*) FROM clients WHERE user_id = $1),
		    (SELECT COUNT(*) FROM projects WHERE user_id = $1),
		    (SELECT COUNT(*) FROM contracts WHERE user_id = $1),
		    (SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT is_read)`,
		userID).Scan(&o.Clients, &o.Projects, &o.Contracts, &o.UnreadNotifications)
	if err != nil {
		return nil, wrap(op, err)
	}
	return o, nil
}
