package session

import "github.com/magabrotheeeer/devmanager/internal/models"

// Phase фаза резолвера
type Phase string

// Фазы резолвера
const (
	PhaseInitializing    Phase = "initializing"
	PhaseUnauthenticated Phase = "unauthenticated"
	PhaseProfilePending  Phase = "profile_pending"
	PhaseResolved        Phase = "resolved"
)

// State неизменяемый снимок состояния сессии. Публикуется целиком, поэтому
// профиль и производные признаки всегда согласованы между собой.
type State struct {
	Phase   Phase `json:"phase"`
	Loading bool  `json:"loading"`

	User         *models.User         `json:"user,omitempty"`
	Session      *models.Session      `json:"-"`
	Profile      *models.Profile      `json:"profile,omitempty"`
	Subscription *models.Subscription `json:"subscription,omitempty"`

	IsAdmin               bool `json:"is_admin"`
	HasActiveSubscription bool `json:"has_active_subscription"`

	// FetchErr последняя ошибка загрузки профиля. При ней признаки сброшены в false.
	FetchErr   error  `json:"-"`
	Generation uint64 `json:"generation"`
}

// Authenticated есть ли пользователь
func (s State) Authenticated() bool {
	return s.User != nil
}

// AccessToken токен текущей сессии или пустая строка.
func (s State) AccessToken() string {
	if s.Session == nil {
		return ""
	}
	return s.Session.AccessToken
}
