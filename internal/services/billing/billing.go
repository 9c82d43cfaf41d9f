// Package billing каталог тарифов, имитация оплаты и страница подписки участника.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/devmanager/internal/cache"
	"github.com/magabrotheeeer/devmanager/internal/lib/sl"
	"github.com/magabrotheeeer/devmanager/internal/models"
	"github.com/magabrotheeeer/devmanager/internal/storage"
)

const (
	plansTTL      = time.Hour
	paymentMethod = "credit_card"
)

var (
	// ErrPlanNotFound тариф не найден или отключён
	ErrPlanNotFound = errors.New("plan not found")
	// ErrInvalidCard данные карты не прошли проверку
	ErrInvalidCard = errors.New("invalid card")
)

// Repository хранилище тарифов, подписок и платежей
type Repository interface {
	ListPlans(ctx context.Context, activeOnly bool) ([]models.Plan, error)
	GetPlan(ctx context.Context, planID string) (*models.Plan, error)
	CreatePaidSubscription(ctx context.Context, userID string, plan models.Plan, method string) (*models.Subscription, *models.Payment, error)
	GetActiveSubscription(ctx context.Context, userID string) (*models.Subscription, error)
	ListPaymentsByUser(ctx context.Context, userID string) ([]models.Payment, error)
}

// Cache кеш каталога тарифов
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// Notifier сообщает живым сессиям пользователя об изменении подписки.
type Notifier interface {
	NotifyUserUpdated(userID string)
}

// Overview страница подписки: активная подписка и история платежей
type Overview struct {
	Subscription *models.Subscription `json:"subscription"`
	Payments     []models.Payment     `json:"payments"`
}

// Service сервис оплаты.
type Service struct {
	repo     Repository
	cache    Cache
	notifier Notifier
	log      *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

// New создаёт Service.
func New(repo Repository, cache Cache, notifier Notifier, log *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		cache:    cache,
		notifier: notifier,
		log:      log,
		validate: validator.New(),
		now:      time.Now,
	}
}

// ActivePlans активные тарифы по возрастанию длительности. Каталог кешируется в Redis,
// ошибка кеша не мешает чтению из базы.
func (s *Service) ActivePlans(ctx context.Context) ([]models.Plan, error) {
	const op = "billing.ActivePlans"
	log := s.log.With(sl.Op(op))

	var plans []models.Plan
	found, err := s.cache.Get(ctx, cache.PlansKey, &plans)
	if err != nil {
		log.Warn("failed to read plans from cache", sl.Err(err))
	}
	if found {
		return plans, nil
	}

	plans, err = s.repo.ListPlans(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = s.cache.Set(ctx, cache.PlansKey, plans, plansTTL); err != nil {
		log.Warn("failed to cache plans", sl.Err(err))
	}
	return plans, nil
}

// InvalidatePlans сбрасывает кеш каталога после правки тарифов.
func (s *Service) InvalidatePlans(ctx context.Context) {
	const op = "billing.InvalidatePlans"
	if err := s.cache.Invalidate(ctx, cache.PlansKey); err != nil {
		s.log.Warn("failed to invalidate plans cache", sl.Op(op), sl.Err(err))
	}
}

// Plan активный тариф по id.
func (s *Service) Plan(ctx context.Context, planID string) (*models.Plan, error) {
	const op = "billing.Plan"
	plan, err := s.repo.GetPlan(ctx, planID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, ErrPlanNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !plan.IsActive {
		return nil, fmt.Errorf("%s: %w", op, ErrPlanNotFound)
	}
	return plan, nil
}

// Checkout проверяет форму карты и оформляет подписку: прежняя активная подписка
// отменяется, новая действует duration_months месяцев, платёж записывается как оплаченный.
func (s *Service) Checkout(ctx context.Context, userID string, form models.CardForm) (*models.Subscription, error) {
	const op = "billing.Checkout"
	log := s.log.With(sl.Op(op), slog.String("user_id", userID))

	if err := s.validate.Struct(form); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := ValidateCard(form, s.now()); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	plan, err := s.Plan(ctx, form.PlanID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sub, payment, err := s.repo.CreatePaidSubscription(ctx, userID, *plan, paymentMethod)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	sub.Plan = plan
	log.Info("subscription purchased",
		slog.String("plan", plan.Name),
		slog.String("subscription_id", sub.ID),
		slog.String("payment_id", payment.ID),
	)

	s.notifier.NotifyUserUpdated(userID)
	return sub, nil
}

// Overview активная подписка пользователя и его платежи.
func (s *Service) Overview(ctx context.Context, userID string) (*Overview, error) {
	const op = "billing.Overview"
	sub, err := s.repo.GetActiveSubscription(ctx, userID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	payments, err := s.repo.ListPaymentsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Overview{Subscription: sub, Payments: payments}, nil
}

// CardError отказ в приёме карты: какое поле и почему.
type CardError struct {
	Field  string
	Reason string
}

func (e *CardError) Error() string {
	return fmt.Sprintf("invalid card: %s %s", e.Field, e.Reason)
}

// Is сопоставляет CardError с ErrInvalidCard.
func (e *CardError) Is(target error) bool {
	return target == ErrInvalidCard
}

// ValidateCard проверяет номер карты (13-19 цифр), срок MM/YY не в прошлом и CVC.
func ValidateCard(form models.CardForm, now time.Time) error {
	number := strings.ReplaceAll(form.CardNumber, " ", "")
	if len(number) < 13 || len(number) > 19 || !digitsOnly(number) {
		return &CardError{Field: "card_number", Reason: "must contain 13 to 19 digits"}
	}
	if !digitsOnly(form.CVC) || len(form.CVC) < 3 || len(form.CVC) > 4 {
		return &CardError{Field: "cvc", Reason: "must contain 3 or 4 digits"}
	}
	exp, err := time.Parse("01/06", form.Expiry)
	if err != nil {
		return &CardError{Field: "expiry", Reason: "must be MM/YY"}
	}
	// карта действует до конца указанного месяца
	if !exp.AddDate(0, 1, 0).After(now) {
		return &CardError{Field: "expiry", Reason: "is in the past"}
	}
	return nil
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}
