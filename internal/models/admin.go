package models

// PlanStats подписки и выручка по тарифу
type PlanStats struct {
	PlanID        string  `json:"plan_id"`
	Name          string  `json:"name"`
	Subscriptions int     `json:"subscriptions"`
	Revenue       float64 `json:"revenue"`
}

// AdminOverview сводка админки. Выручка по тарифу считается как цена тарифа на число активных подписок.
type AdminOverview struct {
	TotalUsers          int         `json:"total_users"`
	ActiveSubscriptions int         `json:"active_subscriptions"`
	InactiveUsers       int         `json:"inactive_users"`
	TotalRevenue        float64     `json:"total_revenue"`
	Plans               []PlanStats `json:"plans"`
}
