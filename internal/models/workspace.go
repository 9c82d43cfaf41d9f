package models

import "time"

// Client клиент фрилансера вместе с данными хостинга и домена.
type Client struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	Name             string     `json:"name" validate:"required,min=1,max=200"`
	Email            *string    `json:"email,omitempty" validate:"omitempty,email"`
	Site             *string    `json:"site,omitempty"`
	Hosting          *string    `json:"hosting,omitempty"`
	HostingExpiresAt *time.Time `json:"hosting_expires_at,omitempty"`
	DomainRegistrar  *string    `json:"domain_registrar,omitempty"`
	DomainExpiresAt  *time.Time `json:"domain_expires_at,omitempty"`
	DriveFolder      *string    `json:"drive_folder,omitempty"`
	Notes            *string    `json:"notes,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// ProjectStatus статус проекта
type ProjectStatus string

// Статусы проекта
const (
	ProjectActive    ProjectStatus = "active"
	ProjectCompleted ProjectStatus = "completed"
	ProjectCancelled ProjectStatus = "cancelled"
)

// Project проект для клиента.
type Project struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	ClientID    string        `json:"client_id" validate:"required"`
	ClientName  string        `json:"client_name,omitempty"`
	Name        string        `json:"name" validate:"required,min=1,max=200"`
	Description *string       `json:"description,omitempty"`
	Status      ProjectStatus `json:"status" validate:"omitempty,oneof=active completed cancelled"`
	TasksCount  int           `json:"tasks_count"`
	CreatedAt   time.Time     `json:"created_at"`
}

// TaskStatus статус задачи
type TaskStatus string

// Статусы задачи
const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
)

// Task задача внутри проекта.
type Task struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	ProjectID   string     `json:"project_id"`
	Title       string     `json:"title" validate:"required,min=1,max=200"`
	Description *string    `json:"description,omitempty"`
	Status      TaskStatus `json:"status" validate:"omitempty,oneof=todo in_progress done"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ContractStatus статус контракта
type ContractStatus string

// Статусы контракта
const (
	ContractDraft     ContractStatus = "draft"
	ContractActive    ContractStatus = "active"
	ContractCompleted ContractStatus = "completed"
	ContractCancelled ContractStatus = "cancelled"
)

// Contract контракт с клиентом.
type Contract struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	ClientID   string         `json:"client_id" validate:"required"`
	ClientName string         `json:"client_name,omitempty"`
	Title      string         `json:"title" validate:"required,min=1,max=200"`
	Value      float64        `json:"value" validate:"gte=0"`
	Status     ContractStatus `json:"status" validate:"omitempty,oneof=draft active completed cancelled"`
	StartsAt   *time.Time     `json:"starts_at,omitempty"`
	EndsAt     *time.Time     `json:"ends_at,omitempty"`
	Notes      *string        `json:"notes,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Notification уведомление участника.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// ExpiryKind что именно истекает у клиента
type ExpiryKind string

// Виды истекающих услуг
const (
	ExpiryHosting ExpiryKind = "hosting"
	ExpiryDomain  ExpiryKind = "domain"
)

// Expiry ближайшее истечение хостинга или домена клиента
type Expiry struct {
	ClientID   string     `json:"client_id"`
	ClientName string     `json:"client_name"`
	Kind       ExpiryKind `json:"kind"`
	ExpiresAt  time.Time  `json:"expires_at"`
	DaysLeft   int        `json:"days_left"`
}

// Overview сводка главной страницы участника
type Overview struct {
	Clients             int      `json:"clients"`
	Projects            int      `json:"projects"`
	Contracts           int      `json:"contracts"`
	UnreadNotifications int      `json:"unread_notifications"`
	Expiries            []Expiry `json:"expiries"`
}

// ExpiryAlert сообщение очереди notifications.expiry
type ExpiryAlert struct {
	UserID     string     `json:"user_id"`
	Email      string     `json:"email"`
	ClientName string     `json:"client_name"`
	Kind       ExpiryKind `json:"kind"`
	ExpiresAt  time.Time  `json:"expires_at"`
	DaysLeft   int        `json:"days_left"`
}

// ExpiryCandidate клиент с датами истечения и владельцем, выбирается планировщиком
type ExpiryCandidate struct {
	UserID           string
	Email            string
	ClientID         string
	ClientName       string
	HostingExpiresAt *time.Time
	DomainExpiresAt  *time.Time
}

// Expiries даты истечения клиента, попадающие в ближайшие window дней от now.
// Дни считаются целыми сутками от начала текущего дня по UTC.
func (c ExpiryCandidate) Expiries(now time.Time, window int) []Expiry {
	today := now.UTC().Truncate(24 * time.Hour)
	var out []Expiry
	add := func(kind ExpiryKind, at *time.Time) {
		if at == nil {
			return
		}
		days := int(at.UTC().Sub(today).Hours() / 24)
		if days < 0 || days > window {
			return
		}
		out = append(out, Expiry{
			ClientID:   c.ClientID,
			ClientName: c.ClientName,
			Kind:       kind,
			ExpiresAt:  *at,
			DaysLeft:   days,
		})
	}
	add(ExpiryHosting, c.HostingExpiresAt)
	add(ExpiryDomain, c.DomainExpiresAt)
	return out
}
