package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/magabrotheeeer/devmanager/internal/models"
)

// GetActiveSubscription возвращает активную подписку пользователя вместе с тарифом.
// Если активной нет, возвращается storage.ErrNotFound.
func (s *Storage) GetActiveSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	const op = "storage.GetActiveSubscription"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	sub := &models.Subscription{Plan: &models.Plan{}}
	err := s.DB.QueryRowContext(ctx,
		`SELECT s.id, s.user_id, s.plan_id, s.status, s.starts_at, s.ends_at, s.created_at,
		        p.id, p.name, p.type, p.price, p.duration_months, p.is_active
		 FROM subscriptions s
		 JOIN plans p ON p.id = s.plan_id
		 WHERE s.user_id = $1 AND s.status = 'active'
		 LIMIT 1`, userID).
		Scan(&sub.ID, &sub.UserID, &sub.PlanID, &sub.Status, &sub.StartsAt, &sub.EndsAt, &sub.CreatedAt,
			&sub.Plan.ID, &sub.Plan.Name, &sub.Plan.Type, &sub.Plan.Price, &sub.Plan.DurationMonths, &sub.Plan.IsActive)
	if err != nil {
		return nil, wrap(op, err)
	}
	return sub, nil
}

// CreatePaidSubscription отменяет прежнюю активную подписку, создаёт новую на срок тарифа
// и оплаченный платёж к ней. Всё в одной транзакции.
func (s *Storage) CreatePaidSubscription(ctx context.Context, userID string, plan models.Plan, method string) (*models.Subscription, *models.Payment, error) {
	const op = "storage.CreatePaidSubscription"
	select {
	case <-ctx.Done():
		return nil, nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	now := s.clock().UTC()
	sub := &models.Subscription{
		UserID:   userID,
		PlanID:   plan.ID,
		Status:   models.SubscriptionActive,
		StartsAt: now,
		EndsAt:   now.AddDate(0, plan.DurationMonths, 0),
		Plan:     &plan,
	}
	payment := &models.Payment{
		UserID:        userID,
		Amount:        plan.Price,
		Status:        models.PaymentPaid,
		PaymentMethod: method,
		PaidAt:        &now,
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE subscriptions SET status = 'cancelled'
			 WHERE user_id = $1 AND status = 'active'`, userID); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx,
			`INSERT INTO subscriptions (user_id, plan_id, status, starts_at, ends_at)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id, created_at`,
			userID, plan.ID, sub.Status, sub.StartsAt, sub.EndsAt).Scan(&sub.ID, &sub.CreatedAt); err != nil {
			return err
		}
		payment.SubscriptionID = sub.ID
		return tx.QueryRowContext(ctx,
			`INSERT INTO payments (user_id, subscription_id, amount, status, payment_method, paid_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING id, created_at`,
			userID, sub.ID, payment.Amount, payment.Status, payment.PaymentMethod, payment.PaidAt).
			Scan(&payment.ID, &payment.CreatedAt)
	})
	if err != nil {
		return nil, nil, wrap(op, err)
	}
	return sub, payment, nil
}

// ExpireSubscriptions переводит в expired активные подписки с ends_at не позже now
// и возвращает затронутые подписки.
func (s *Storage) ExpireSubscriptions(ctx context.Context, now time.Time) ([]models.ExpiredSubscription, error) {
	const op = "storage.ExpireSubscriptions"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	rows, err := s.DB.QueryContext(ctx,
		`UPDATE subscriptions s SET status = 'expired'
		 FROM identities i
		 WHERE i.id = s.user_id AND s.status = 'active' AND s.ends_at <= $1
		 RETURNING s.id, s.user_id, i.email`, now)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []models.ExpiredSubscription
	for rows.Next() {
		var e models.ExpiredSubscription
		if err = rows.Scan(&e.ID, &e.UserID, &e.Email); err != nil {
			return nil, wrap(op, err)
		}
		result = append(result, e)
	}
	if err = rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return result, nil
}

// ListPaymentsByUser возвращает историю платежей пользователя, новые первыми.
func (s *Storage) ListPaymentsByUser(ctx context.Context, userID string) ([]models.Payment, error) {
	const op = "storage.ListPaymentsByUser"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, user_id, subscription_id, amount, status, payment_method, paid_at, created_at
		 FROM payments WHERE user_id = $1
		 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []models.Payment
	for rows.Next() {
		var p models.Payment
		var paidAt sql.NullTime
		if err = rows.Scan(&p.ID, &p.UserID, &p.SubscriptionID, &p.Amount, &p.Status,
			&p.PaymentMethod, &paidAt, &p.CreatedAt); err != nil {
			return nil, wrap(op, err)
		}
		p.PaidAt = nullTime(paidAt)
		result = append(result, p)
	}
	if err = rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return result, nil
}
