package models

import "time"

// PaymentStatus статус платежа
type PaymentStatus string

// Статусы платежа. paid пишет симулированный checkout, остальные приходят из выгрузок.
const (
	PaymentPaid      PaymentStatus = "paid"
	PaymentCompleted PaymentStatus = "completed"
	PaymentPending   PaymentStatus = "pending"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Counts учитывается ли платёж в выручке
func (s PaymentStatus) Counts() bool {
	return s == PaymentPaid || s == PaymentCompleted
}

// Payment платёж за подписку.
type Payment struct {
	ID             string        `json:"id"`
	UserID         string        `json:"user_id"`
	SubscriptionID string        `json:"subscription_id"`
	Amount         float64       `json:"amount"`
	Status         PaymentStatus `json:"status"`
	PaymentMethod  string        `json:"payment_method"`
	PaidAt         *time.Time    `json:"paid_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// PaymentRecord платёж вместе с плательщиком и тарифом для админки
type PaymentRecord struct {
	Payment
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	PlanName string `json:"plan_name"`
}

// PaymentPeriod период выборки платежей
type PaymentPeriod string

// Периоды выборки платежей
const (
	PeriodAll          PaymentPeriod = "all"
	PeriodCurrentMonth PaymentPeriod = "current_month"
	PeriodLastMonth    PaymentPeriod = "last_month"
	PeriodLast3Months  PaymentPeriod = "last_3_months"
)

// PaymentFilter фильтры страницы платежей
type PaymentFilter struct {
	Search string
	Status string
	Period PaymentPeriod
}

// PaymentQuery фильтры платежей после перевода периода в границы дат
type PaymentQuery struct {
	Search string
	Status string
	From   *time.Time
	To     *time.Time
}

// UserFilter фильтры страницы пользователей
type UserFilter struct {
	Search string
	Status string
	Plan   string
}

// UserRecord профиль вместе с активной подпиской для админки
type UserRecord struct {
	Profile      Profile       `json:"profile"`
	Subscription *Subscription `json:"subscription,omitempty"`
}

// CardForm форма оплаты картой на странице checkout. Платёж имитируется.
type CardForm struct {
	PlanID     string `json:"plan_id" validate:"required"`
	CardNumber string `json:"card_number" validate:"required"`
	CardHolder string `json:"card_holder" validate:"required,min=3,max=100"`
	Expiry     string `json:"expiry" validate:"required,len=5"`
	CVC        string `json:"cvc" validate:"required,numeric,min=3,max=4"`
}
