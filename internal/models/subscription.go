package models

import "time"

// PlanType тип тарифа по длительности
type PlanType string

// Типы тарифов
const (
	PlanMonthly    PlanType = "monthly"
	PlanSemiannual PlanType = "semiannual"
	PlanAnnual     PlanType = "annual"
)

// Plan тариф из каталога.
type Plan struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Type           PlanType `json:"type"`
	Price          float64  `json:"price"`
	DurationMonths int      `json:"duration_months"`
	IsActive       bool     `json:"is_active"`
}

// PlanUpdate правка тарифа администратором
type PlanUpdate struct {
	Name  string  `json:"name" validate:"required,min=2,max=100"`
	Price float64 `json:"price" validate:"gt=0"`
}

// SubscriptionStatus статус подписки
type SubscriptionStatus string

// Статусы подписки
const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// Subscription подписка пользователя на тариф.
// Активной считается только строка со статусом active, даты окончания для этого не смотрим.
type Subscription struct {
	ID        string             `json:"id"`
	UserID    string             `json:"user_id"`
	PlanID    string             `json:"plan_id"`
	Status    SubscriptionStatus `json:"status"`
	StartsAt  time.Time          `json:"starts_at"`
	EndsAt    time.Time          `json:"ends_at"`
	CreatedAt time.Time          `json:"created_at"`
	Plan      *Plan              `json:"plan,omitempty"`
}

// IsActive признак активной подписки
func (s *Subscription) IsActive() bool {
	return s != nil && s.Status == SubscriptionActive
}

// ExpiredSubscription подписка, у которой прошёл ends_at, вместе с владельцем
type ExpiredSubscription struct {
	ID     string
	UserID string
	Email  string
}
