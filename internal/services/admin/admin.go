// Package admin операции панели администратора: сводка, пользователи, тарифы и платежи.
package admin

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/devmanager/internal/lib/month"
	"github.com/magabrotheeeer/devmanager/internal/lib/sl"
	"github.com/magabrotheeeer/devmanager/internal/models"
)

// ErrSelfAction администратор не может удалить себя или снять с себя роль
var ErrSelfAction = errors.New("action not allowed on own account")

// Repository хранилище для админки
type Repository interface {
	AdminOverview(ctx context.Context) (*models.AdminOverview, error)
	ListUsers(ctx context.Context, f models.UserFilter) ([]models.UserRecord, error)
	DeleteAccount(ctx context.Context, userID string) error
	SetRole(ctx context.Context, userID string, role models.Role) error
	ListPlans(ctx context.Context, activeOnly bool) ([]models.Plan, error)
	UpdatePlan(ctx context.Context, planID string, upd models.PlanUpdate) (*models.Plan, error)
	SetPlanActive(ctx context.Context, planID string, active bool) (*models.Plan, error)
	ListPayments(ctx context.Context, q models.PaymentQuery) ([]models.PaymentRecord, error)
}

// Notifier рассылает события живым сессиям пользователя.
type Notifier interface {
	NotifyUserUpdated(userID string)
	NotifyUserDeleted(userID string)
}

// Catalog сбрасывает кеш каталога тарифов
type Catalog interface {
	InvalidatePlans(ctx context.Context)
}

// PaymentReport платежи за период и выручка по оплаченным
type PaymentReport struct {
	Payments []models.PaymentRecord `json:"payments"`
	Revenue  float64                `json:"revenue"`
	Paid     int                    `json:"paid"`
}

// Service сервис админки.
type Service struct {
	repo     Repository
	notifier Notifier
	catalog  Catalog
	log      *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

// New создаёт Service.
func New(repo Repository, notifier Notifier, catalog Catalog, log *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		catalog:  catalog,
		log:      log,
		validate: validator.New(),
		now:      time.Now,
	}
}

// Overview сводка по пользователям, подпискам и выручке.
func (s *Service) Overview(ctx context.Context) (*models.AdminOverview, error) {
	const op = "admin.Overview"
	o, err := s.repo.AdminOverview(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return o, nil
}

// Users пользователи с активной подпиской по фильтрам.
func (s *Service) Users(ctx context.Context, f models.UserFilter) ([]models.UserRecord, error) {
	const op = "admin.Users"
	if err := s.validate.Var(f.Status, "omitempty,oneof=all active inactive"); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	users, err := s.repo.ListUsers(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return users, nil
}

// DeleteUser удаляет учётную запись. Открытые сессии пользователя завершаются.
func (s *Service) DeleteUser(ctx context.Context, adminID, userID string) error {
	const op = "admin.DeleteUser"
	if adminID == userID {
		return fmt.Errorf("%s: %w", op, ErrSelfAction)
	}
	if err := s.repo.DeleteAccount(ctx, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("user deleted", sl.Op(op), slog.String("admin_id", adminID), slog.String("user_id", userID))
	s.notifier.NotifyUserDeleted(userID)
	return nil
}

// SetRole назначает роль. Сессии пользователя перечитывают профиль и права.
func (s *Service) SetRole(ctx context.Context, adminID, userID string, role models.Role) error {
	const op = "admin.SetRole"
	if err := s.validate.Var(string(role), "required,oneof=member admin"); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if adminID == userID && role != models.RoleAdmin {
		return fmt.Errorf("%s: %w", op, ErrSelfAction)
	}
	if err := s.repo.SetRole(ctx, userID, role); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("role changed", sl.Op(op), slog.String("user_id", userID), slog.String("role", string(role)))
	s.notifier.NotifyUserUpdated(userID)
	return nil
}

// Plans все тарифы, включая отключённые.
func (s *Service) Plans(ctx context.Context) ([]models.Plan, error) {
	const op = "admin.Plans"
	plans, err := s.repo.ListPlans(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return plans, nil
}

// UpdatePlan меняет название и цену тарифа.
func (s *Service) UpdatePlan(ctx context.Context, planID string, upd models.PlanUpdate) (*models.Plan, error) {
	const op = "admin.UpdatePlan"
	if err := s.validate.Struct(upd); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	plan, err := s.repo.UpdatePlan(ctx, planID, upd)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.catalog.InvalidatePlans(ctx)
	return plan, nil
}

// SetPlanActive включает или скрывает тариф на странице выбора.
func (s *Service) SetPlanActive(ctx context.Context, planID string, active bool) (*models.Plan, error) {
	const op = "admin.SetPlanActive"
	plan, err := s.repo.SetPlanActive(ctx, planID, active)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.catalog.InvalidatePlans(ctx)
	return plan, nil
}

// Payments платежи по фильтру. Выручка считается только по оплаченным.
func (s *Service) Payments(ctx context.Context, f models.PaymentFilter) (*PaymentReport, error) {
	const op = "admin.Payments"
	q, err := s.query(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	payments, err := s.repo.ListPayments(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	report := &PaymentReport{Payments: payments}
	for _, p := range payments {
		if p.Status.Counts() {
			report.Revenue += p.Amount
			report.Paid++
		}
	}
	return report, nil
}

// ExportPayments пишет платежи по фильтру в CSV.
func (s *Service) ExportPayments(ctx context.Context, f models.PaymentFilter, w io.Writer) error {
	const op = "admin.ExportPayments"
	report, err := s.Payments(ctx, f)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	cw := csv.NewWriter(w)
	if err = cw.Write([]string{"id", "created_at", "full_name", "email", "plan", "amount", "status", "payment_method", "paid_at"}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	for _, p := range report.Payments {
		paidAt := ""
		if p.PaidAt != nil {
			paidAt = p.PaidAt.UTC().Format(time.RFC3339)
		}
		row := []string{
			p.ID,
			p.CreatedAt.UTC().Format(time.RFC3339),
			p.FullName,
			p.Email,
			p.PlanName,
			strconv.FormatFloat(p.Amount, 'f', 2, 64),
			string(p.Status),
			p.PaymentMethod,
			paidAt,
		}
		if err = cw.Write(row); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	cw.Flush()
	if err = cw.Error(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Service) query(f models.PaymentFilter) (models.PaymentQuery, error) {
	if err := s.validate.Var(f.Status, "omitempty,oneof=all paid completed pending failed refunded"); err != nil {
		return models.PaymentQuery{}, err
	}
	from, to, err := PeriodRange(f.Period, s.now())
	if err != nil {
		return models.PaymentQuery{}, err
	}
	return models.PaymentQuery{Search: f.Search, Status: f.Status, From: from, To: to}, nil
}

// ErrUnknownPeriod неизвестный период отчёта
var ErrUnknownPeriod = errors.New("unknown period")

// PeriodRange границы периода по UTC. Для all границ нет.
// last_3_months скользящее окно: три месяца назад от now, а не с начала месяца.
func PeriodRange(period models.PaymentPeriod, now time.Time) (from, to *time.Time, err error) {
	now = now.UTC()

	var start, end time.Time
	switch period {
	case "", models.PeriodAll:
		return nil, nil, nil
	case models.PeriodCurrentMonth:
		start, end = month.Start(now), now
	case models.PeriodLastMonth:
		prev := month.Back(now, 1)
		start, end = prev, month.End(prev)
	case models.PeriodLast3Months:
		start, end = now.AddDate(0, -3, 0), now
	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownPeriod, period)
	}
	return &start, &end, nil
}
