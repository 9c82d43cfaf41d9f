package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/magabrotheeeer/devmanager/internal/lib/sl"
	"github.com/magabrotheeeer/devmanager/internal/models"
)

// Client клиент бэкенда одной браузерной сессии. Хранит текущую сессию в памяти
// и сообщает подписчикам о каждом её изменении.
type Client struct {
	svc *Service
	log *slog.Logger

	mu        sync.Mutex
	token     string
	session   *models.Session
	listeners map[uint64]AuthListener
	nextID    uint64
	closed    bool

	unsubscribe func()
}

// NewClient создаёт клиента. Непустой accessToken восстанавливает сессию из cookie,
// она проверяется при первом GetSession.
func NewClient(svc *Service, log *slog.Logger, accessToken string) *Client {
	c := &Client{
		svc:       svc,
		log:       log,
		token:     accessToken,
		listeners: make(map[uint64]AuthListener),
	}
	c.unsubscribe = svc.hub.Subscribe(c.onEvent)
	return c
}

// OnAuthStateChange регистрирует подписчика и возвращает функцию отписки.
// Подписчик вызывается синхронно, без удержания внутренних блокировок.
func (c *Client) OnAuthStateChange(fn AuthListener) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// AccessToken текущий токен или пустая строка.
func (c *Client) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// RefreshWindow за сколько до истечения GetSession продлевает токен.
func (c *Client) RefreshWindow() time.Duration {
	return c.svc.refreshWindow
}

// GetSession проверяет текущий токен. Отозванный или истёкший токен сбрасывает
// сессию, это не ошибка: возвращается nil. Токен, близкий к истечению, продлевается.
func (c *Client) GetSession(ctx context.Context) (*models.Session, error) {
	const op = "backend.Client.GetSession"

	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token == "" {
		return nil, nil
	}

	session, refreshed, err := c.svc.Verify(ctx, token)
	switch {
	case errors.Is(err, ErrNoSession), errors.Is(err, ErrSessionRevoked):
		c.log.Debug("stored session rejected", sl.Op(op), sl.Err(err))
		c.clear(token, SignedOut)
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	c.mu.Lock()
	if c.token != token {
		// пока шла проверка, сессия сменилась
		current := c.session
		c.mu.Unlock()
		return current, nil
	}
	c.token = session.AccessToken
	c.session = session
	c.mu.Unlock()

	if refreshed {
		c.emit(TokenRefreshed, session)
	}
	return session, nil
}

// SignInWithPassword входит по паролю и сообщает SIGNED_IN.
func (c *Client) SignInWithPassword(ctx context.Context, email, pass string) (*models.Session, error) {
	const op = "backend.Client.SignInWithPassword"
	session, err := c.svc.SignInWithPassword(ctx, email, pass)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.adopt(session)
	return session, nil
}

// SignUp регистрирует пользователя и сразу открывает сессию.
func (c *Client) SignUp(ctx context.Context, email, pass, fullName string) (*models.Session, error) {
	const op = "backend.Client.SignUp"
	session, err := c.svc.SignUp(ctx, email, pass, fullName)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.adopt(session)
	return session, nil
}

// SignOut сбрасывает локальную сессию до обращения к бэкенду, затем отзывает токен.
func (c *Client) SignOut(ctx context.Context) error {
	const op = "backend.Client.SignOut"

	c.mu.Lock()
	session := c.session
	token := c.token
	c.mu.Unlock()
	if token == "" {
		return nil
	}
	c.clear(token, SignedOut)

	if session == nil {
		return nil
	}
	if err := c.svc.SignOut(ctx, session); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// UpdatePassword меняет пароль текущего пользователя.
func (c *Client) UpdatePassword(ctx context.Context, current, next string) error {
	const op = "backend.Client.UpdatePassword"
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return fmt.Errorf("%s: %w", op, ErrNoSession)
	}
	if err := c.svc.UpdatePassword(ctx, session.UserID, current, next); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SelectProfile выбирает профиль по id пользователя.
func (c *Client) SelectProfile(ctx context.Context, userID string) (*models.Profile, error) {
	return c.svc.SelectProfile(ctx, userID)
}

// SelectActiveSubscription выбирает активную подписку по id пользователя.
func (c *Client) SelectActiveSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	return c.svc.SelectActiveSubscription(ctx, userID)
}

// Close отписывает клиента от шины событий.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.listeners = make(map[uint64]AuthListener)
	c.mu.Unlock()

	c.unsubscribe()
	return nil
}

func (c *Client) adopt(session *models.Session) {
	c.mu.Lock()
	c.token = session.AccessToken
	c.session = session
	c.mu.Unlock()
	c.emit(SignedIn, session)
}

// clear сбрасывает сессию, если токен не сменился с момента чтения.
func (c *Client) clear(token string, event EventType) {
	c.mu.Lock()
	if c.token != token {
		c.mu.Unlock()
		return
	}
	c.token = ""
	c.session = nil
	c.mu.Unlock()
	c.emit(event, nil)
}

func (c *Client) onEvent(ev Event) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil || session.UserID != ev.UserID {
		return
	}
	if ev.TokenID != "" && ev.TokenID != session.TokenID {
		return
	}

	switch ev.Type {
	case UserUpdated:
		c.emit(UserUpdated, session)
	case SignedOut, UserDeleted:
		c.clear(session.AccessToken, ev.Type)
	}
}

func (c *Client) emit(event EventType, session *models.Session) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	fns := make([]AuthListener, 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(event, session)
	}
}
