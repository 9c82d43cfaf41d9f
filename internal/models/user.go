// Package models содержит доменные структуры DevManager: учётные записи и профили,
// тарифы и подписки, платежи и рабочее пространство фрилансера.
package models

import "time"

// Role роль пользователя в системе
type Role string

const (
	// RoleMember обычный участник
	RoleMember Role = "member"
	// RoleAdmin администратор платформы
	RoleAdmin Role = "admin"
)

// Identity учётная запись для входа по email и паролю.
type Identity struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Profile данные профиля, ключ user_id совпадает с Identity.ID.
type Profile struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	AvatarURL *string   `json:"avatar_url,omitempty"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// IsAdmin единственное место, где роль превращается в признак администратора
func (p *Profile) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// Session сессия, выданная бэкендом. Для резолвера это непрозрачное значение.
type Session struct {
	AccessToken string    `json:"-"`
	TokenID     string    `json:"token_id"`
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// User идентичность пользователя внутри сессии
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// User возвращает пользователя сессии
func (s *Session) User() *User {
	if s == nil {
		return nil
	}
	return &User{ID: s.UserID, Email: s.Email}
}

// ProfileUpdate изменяемые поля профиля
type ProfileUpdate struct {
	FullName string `json:"full_name" validate:"required,min=2,max=100"`
	Email    string `json:"email" validate:"required,email"`
}

// PasswordChange форма смены пароля в профиле
type PasswordChange struct {
	Current string `json:"current_password" validate:"required"`
	New     string `json:"new_password" validate:"required,min=6"`
	Confirm string `json:"confirm_password" validate:"required,eqfield=New"`
}
