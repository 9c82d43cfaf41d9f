package middlewarectx

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/devmanager/internal/config"
	"github.com/magabrotheeeer/devmanager/internal/http/response"
	"github.com/magabrotheeeer/devmanager/internal/lib/sl"
	"github.com/magabrotheeeer/devmanager/internal/session"
)

// Sessions хранилище браузерных сессий.
type Sessions interface {
	// Get возвращает резолвер живой сессии.
	Get(sid string) (Resolver, bool)
	// Create запускает резолвер новой сессии, восстанавливая её по токену, если он не пуст.
	Create(accessToken string) (id string, r Resolver, err error)
	// Remove закрывает резолвер сессии.
	Remove(sid string)
}

type managerSessions struct {
	m *session.Manager
}

// ManagerSessions адаптирует session.Manager к Sessions.
func ManagerSessions(m *session.Manager) Sessions {
	return managerSessions{m: m}
}

func (s managerSessions) Get(sid string) (Resolver, bool) {
	r, ok := s.m.Get(sid)
	if !ok {
		return nil, false
	}
	return r, true
}

func (s managerSessions) Create(accessToken string) (string, Resolver, error) {
	id, r, err := s.m.Create(accessToken)
	if err != nil {
		return "", nil, err
	}
	return id, r, nil
}

func (s managerSessions) Remove(sid string) {
	s.m.Remove(sid)
}

// TokenCookieName имя cookie с токеном сессии бэкенда.
func TokenCookieName(cfg config.Session) string {
	return cfg.CookieName + "_token"
}

// Session привязывает запрос к браузерной сессии по cookie. Перед отправкой ответа
// cookie с токеном синхронизируется с состоянием резолвера: выставляется после входа
// и продления токена, удаляется после выхода.
//
// Запрос без сессии и без токена обслуживается неавторизованным состоянием,
// резолвер для него создаётся только при входе или регистрации.
func Session(log *slog.Logger, sessions Sessions, cfg config.Session) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.Session"
			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			var sid, token string
			if c, err := r.Cookie(cfg.CookieName); err == nil {
				sid = c.Value
			}
			if c, err := r.Cookie(TokenCookieName(cfg)); err == nil {
				token = c.Value
			}

			b := &binding{sessions: sessions}
			var (
				resolver Resolver
				live     bool
			)
			if sid != "" {
				resolver, live = sessions.Get(sid)
			}
			switch {
			case live:
				b.id = sid
			case token != "":
				id, restored, err := sessions.Create(token)
				if err != nil {
					log.Error("failed to start browser session", sl.Err(err))
					render.Status(r, http.StatusInternalServerError)
					render.JSON(w, r, response.Error("internal error"))
					return
				}
				if restored.State().Phase == session.PhaseUnauthenticated {
					// токен истёк или отозван, сессию не держим
					sessions.Remove(id)
					resolver = &anonymous{binding: b}
					break
				}
				log.Debug("browser session restored", slog.Bool("had_sid", sid != ""))
				b.id, b.created = id, true
				resolver = restored
			default:
				resolver = &anonymous{binding: b}
			}

			cw := &cookieWriter{ResponseWriter: w}
			cw.apply = func() {
				b.syncCookie(w, cfg)
				syncTokenCookie(w, cfg, token, resolver.State())
			}

			ctx := WithResolver(r.Context(), resolver)
			ctx = context.WithValue(ctx, bindingKey, b)
			next.ServeHTTP(cw, r.WithContext(ctx))
			cw.once.Do(cw.apply)

			if id, ended := b.end(); ended && id != "" {
				sessions.Remove(id)
				log.Debug("browser session removed", slog.String("sid", id))
			}
		})
	}
}

// EndSession помечает браузерную сессию запроса завершённой: cookie сессии удаляется,
// резолвер закрывается после ответа.
func EndSession(ctx context.Context) {
	if b, ok := ctx.Value(bindingKey).(*binding); ok {
		b.mu.Lock()
		b.ended = true
		b.mu.Unlock()
	}
}

const bindingKey Key = "session_binding"

// binding связь запроса с браузерной сессией
type binding struct {
	sessions Sessions

	mu      sync.Mutex
	id      string
	created bool
	ended   bool
}

func (b *binding) sessionID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.id
}

func (b *binding) end() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.id, b.ended
}

func (b *binding) syncCookie(w http.ResponseWriter, cfg config.Session) {
	b.mu.Lock()
	id, created, ended := b.id, b.created, b.ended
	b.mu.Unlock()

	c := &http.Cookie{
		Name:     cfg.CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	switch {
	case ended:
		c.Value = ""
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
	case !created:
		return
	}
	http.SetCookie(w, c)
}

// anonymous резолвер запроса без браузерной сессии. До входа отдаёт неизменное
// неавторизованное состояние, вход и регистрация создают настоящую сессию.
type anonymous struct {
	binding *binding

	mu       sync.Mutex
	resolver Resolver
	never    chan struct{}
}

var anonymousState = session.State{Phase: session.PhaseUnauthenticated}

func (a *anonymous) current() Resolver {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resolver
}

// promote создаёт сессию при первом входе или регистрации.
func (a *anonymous) promote() (Resolver, error) {
	const op = "middlewarectx.anonymous.promote"
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.resolver != nil {
		return a.resolver, nil
	}
	id, r, err := a.binding.sessions.Create("")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	a.binding.mu.Lock()
	a.binding.id, a.binding.created = id, true
	a.binding.mu.Unlock()
	a.resolver = r
	return r, nil
}

func (a *anonymous) State() session.State {
	if r := a.current(); r != nil {
		return r.State()
	}
	return anonymousState
}

func (a *anonymous) Changed() <-chan struct{} {
	if r := a.current(); r != nil {
		return r.Changed()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.never == nil {
		a.never = make(chan struct{})
	}
	return a.never
}

func (a *anonymous) Wait(ctx context.Context) error {
	if r := a.current(); r != nil {
		return r.Wait(ctx)
	}
	return nil
}

func (a *anonymous) SignIn(ctx context.Context, email, password string) error {
	r, err := a.promote()
	if err != nil {
		return &session.AuthError{Kind: session.KindOther, Err: err}
	}
	return r.SignIn(ctx, email, password)
}

func (a *anonymous) SignUp(ctx context.Context, email, password, fullName string) error {
	r, err := a.promote()
	if err != nil {
		return &session.AuthError{Kind: session.KindOther, Err: err}
	}
	return r.SignUp(ctx, email, password, fullName)
}

func (a *anonymous) SignOut(ctx context.Context) error {
	if r := a.current(); r != nil {
		return r.SignOut(ctx)
	}
	return nil
}

func (a *anonymous) RefreshProfile(ctx context.Context) error {
	if r := a.current(); r != nil {
		return r.RefreshProfile(ctx)
	}
	return nil
}

func syncTokenCookie(w http.ResponseWriter, cfg config.Session, sent string, st session.State) {
	current := st.AccessToken()
	if current == sent {
		return
	}
	c := &http.Cookie{
		Name:     TokenCookieName(cfg),
		Value:    current,
		Path:     "/",
		HttpOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if current == "" {
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
	} else if st.Session != nil {
		c.Expires = st.Session.ExpiresAt
	}
	http.SetCookie(w, c)
}

// cookieWriter выставляет cookie непосредственно перед заголовками ответа.
type cookieWriter struct {
	http.ResponseWriter
	once  sync.Once
	apply func()
}

func (w *cookieWriter) WriteHeader(code int) {
	w.once.Do(w.apply)
	w.ResponseWriter.WriteHeader(code)
}

func (w *cookieWriter) Write(b []byte) (int, error) {
	w.once.Do(w.apply)
	return w.ResponseWriter.Write(b)
}

func (w *cookieWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
