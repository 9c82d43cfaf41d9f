package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/magabrotheeeer/devmanager/internal/models"
)

// AdminOverview считает пользователей, активные подписки и разбивку по тарифам.
func (s *Storage) AdminOverview(ctx context.Context) (*models.AdminOverview, error) {
	const op = "storage.AdminOverview"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	o := &models.AdminOverview{}
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&o.TotalUsers); err != nil {
		return nil, wrap(op, err)
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT p.id, p.name, p.price, COUNT(s.id)
		 FROM plans p
		 LEFT JOIN subscriptions s ON s.plan_id = p.id AND s.status = 'active'
		 GROUP BY p.id, p.name, p.price, p.duration_months
		 ORDER BY p.duration_months ASC`)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var st models.PlanStats
		var price float64
		if err = rows.Scan(&st.PlanID, &st.Name, &price, &st.Subscriptions); err != nil {
			return nil, wrap(op, err)
		}
		st.Revenue = price * float64(st.Subscriptions)
		o.ActiveSubscriptions += st.Subscriptions
		o.TotalRevenue += st.Revenue
		o.Plans = append(o.Plans, st)
	}
	if err = rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	o.InactiveUsers = o.TotalUsers - o.ActiveSubscriptions
	return o, nil
}

// ListUsers возвращает профили с активной подпиской по фильтрам админки.
// Status: all, active или inactive. Plan фильтрует по названию тарифа.
func (s *Storage) ListUsers(ctx context.Context, f models.UserFilter) ([]models.UserRecord, error) {
	const op = "storage.ListUsers"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT pr.id, pr.user_id, pr.full_name, pr.email, pr.avatar_url, pr.role, pr.created_at,
		        s.id, s.plan_id, s.status, s.starts_at, s.ends_at, s.created_at,
		        p.name, p.type, p.price, p.duration_months, p.is_active
		 FROM profiles pr
		 LEFT JOIN subscriptions s ON s.user_id = pr.user_id AND s.status = 'active'
		 LEFT JOIN plans p ON p.id = s.plan_id
		 WHERE ($1 = '' OR pr.full_name ILIKE $1 OR pr.email ILIKE $1)
		   AND ($2 = 'all' OR ($2 = 'active' AND s.id IS NOT NULL) OR ($2 = 'inactive' AND s.id IS NULL))
		   AND ($3 = '' OR p.name = $3)
		 ORDER BY pr.created_at DESC`,
		likePattern(f.Search), statusOrAll(f.Status), planOrEmpty(f.Plan))
	if err != nil {
		return nil, wrap(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []models.UserRecord
	for rows.Next() {
		var (
			r                            models.UserRecord
			avatar                       sql.NullString
			subID, planID, status        sql.NullString
			startsAt, endsAt, subCreated sql.NullTime
			planName, planType           sql.NullString
			price                        sql.NullFloat64
			duration                     sql.NullInt64
			planActive                   sql.NullBool
		)
		if err = rows.Scan(&r.Profile.ID, &r.Profile.UserID, &r.Profile.FullName, &r.Profile.Email,
			&avatar, &r.Profile.Role, &r.Profile.CreatedAt,
			&subID, &planID, &status, &startsAt, &endsAt, &subCreated,
			&planName, &planType, &price, &duration, &planActive); err != nil {
			return nil, wrap(op, err)
		}
		r.Profile.AvatarURL = nullString(avatar)
		if subID.Valid {
			r.Subscription = &models.Subscription{
				ID:        subID.String,
				UserID:    r.Profile.UserID,
				PlanID:    planID.String,
				Status:    models.SubscriptionStatus(status.String),
				StartsAt:  startsAt.Time,
				EndsAt:    endsAt.Time,
				CreatedAt: subCreated.Time,
				Plan: &models.Plan{
					ID:             planID.String,
					Name:           planName.String,
					Type:           models.PlanType(planType.String),
					Price:          price.Float64,
					DurationMonths: int(duration.Int64),
					IsActive:       planActive.Bool,
				},
			}
		}
		result = append(result, r)
	}
	if err = rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return result, nil
}

// ListPayments возвращает платежи с плательщиком и тарифом, новые первыми.
func (s *Storage) ListPayments(ctx context.Context, q models.PaymentQuery) ([]models.PaymentRecord, error) {
	const op = "storage.ListPayments"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var from, to sql.NullTime
	if q.From != nil {
		from = sql.NullTime{Time: *q.From, Valid: true}
	}
	if q.To != nil {
		to = sql.NullTime{Time: *q.To, Valid: true}
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT pay.id, pay.user_id, pay.subscription_id, pay.amount, pay.status, pay.payment_method,
		        pay.paid_at, pay.created_at, pr.full_name, pr.email, p.name
		 FROM payments pay
		 JOIN profiles pr ON pr.user_id = pay.user_id
		 JOIN subscriptions s ON s.id = pay.subscription_id
		 JOIN plans p ON p.id = s.plan_id
		 WHERE ($1 = '' OR pr.full_name ILIKE $1 OR pr.email ILIKE $1)
		   AND ($2 = 'all' OR pay.status = $2)
		   AND ($3::timestamptz IS NULL OR pay.created_at >= $3)
		   AND ($4::timestamptz IS NULL OR pay.created_at <= $4)
		 ORDER BY pay.created_at DESC`,
		likePattern(q.Search), statusOrAll(q.Status), from, to)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []models.PaymentRecord
	for rows.Next() {
		var r models.PaymentRecord
		var paidAt sql.NullTime
		if err = rows.Scan(&r.ID, &r.UserID, &r.SubscriptionID, &r.Amount, &r.Status, &r.PaymentMethod,
			&paidAt, &r.CreatedAt, &r.FullName, &r.Email, &r.PlanName); err != nil {
			return nil, wrap(op, err)
		}
		r.PaidAt = nullTime(paidAt)
		result = append(result, r)
	}
	if err = rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return result, nil
}

func statusOrAll(status string) string {
	if status == "" {
		return "all"
	}
	return status
}

func planOrEmpty(plan string) string {
	if plan == "all" {
		return ""
	}
	return plan
}
