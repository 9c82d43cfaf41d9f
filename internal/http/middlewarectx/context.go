// Package middlewarectx содержит HTTP middleware DevManager: привязку браузерной
// сессии к запросу, guard защищённых разделов и ограничение частоты запросов.
//
// Session находит резолвер по cookie и кладёт его в контекст запроса. Анонимный
// посетитель получает сессию только при входе или регистрации.
// Guard проверяет требования раздела по снимку состояния резолвера и кладёт
// в контекст тот снимок, по которому запрос был допущен.
package middlewarectx

import (
	"context"

	"github.com/magabrotheeeer/devmanager/internal/session"
)

// Key тип для ключей контекста HTTP-запроса.
type Key string

const (
	// ResolverKey ключ резолвера браузерной сессии
	ResolverKey Key = "resolver"
	// StateKey ключ снимка состояния, допущенного guard
	StateKey Key = "session_state"
)

// Resolver операции резолвера, доступные обработчикам.
type Resolver interface {
	State() session.State
	Changed() <-chan struct{}
	Wait(ctx context.Context) error
	SignIn(ctx context.Context, email, password string) error
	SignUp(ctx context.Context, email, password, fullName string) error
	SignOut(ctx context.Context) error
	RefreshProfile(ctx context.Context) error
}

// WithResolver кладёт резолвер в контекст.
func WithResolver(ctx context.Context, r Resolver) context.Context {
	return context.WithValue(ctx, ResolverKey, r)
}

// ResolverFrom достаёт резолвер из контекста.
func ResolverFrom(ctx context.Context) (Resolver, bool) {
	r, ok := ctx.Value(ResolverKey).(Resolver)
	return r, ok && r != nil
}

// WithState кладёт допущенный снимок в контекст.
func WithState(ctx context.Context, st session.State) context.Context {
	return context.WithValue(ctx, StateKey, st)
}

// StateFrom снимок, по которому guard допустил запрос. Без guard берётся текущее состояние резолвера.
func StateFrom(ctx context.Context) (session.State, bool) {
	if st, ok := ctx.Value(StateKey).(session.State); ok {
		return st, true
	}
	if r, ok := ResolverFrom(ctx); ok {
		return r.State(), true
	}
	return session.State{}, false
}

// SessionID id браузерной сессии запроса. Пусто, пока анонимный посетитель не вошёл.
func SessionID(ctx context.Context) string {
	if b, ok := ctx.Value(bindingKey).(*binding); ok {
		return b.sessionID()
	}
	return ""
}

// UserID id пользователя из снимка состояния запроса.
func UserID(ctx context.Context) (string, bool) {
	st, ok := StateFrom(ctx)
	if !ok || st.User == nil {
		return "", false
	}
	return st.User.ID, true
}
