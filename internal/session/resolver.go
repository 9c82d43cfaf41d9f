// Package session определяет текущего пользователя браузерной сессии:
// сессию бэкенда, профиль, роль администратора и наличие активной подписки.
//
// Resolver единственный писатель состояния. Читатели (guard, страницы) получают
// неизменяемый снимок через State и узнают об изменениях через Changed.
// Каждая загрузка профиля помечается поколением, результат устаревшего поколения отбрасывается.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/magabrotheeeer/devmanager/internal/backend"
	"github.com/magabrotheeeer/devmanager/internal/lib/sl"
	"github.com/magabrotheeeer/devmanager/internal/models"
)

// ErrAlreadyStarted повторный вызов Start
var ErrAlreadyStarted = errors.New("resolver already started")

// recheckRetry пауза перед повторной проверкой сессии, если бэкенд не ответил
// или не продлил токен.
const recheckRetry = 5 * time.Second

// Backend внешний бэкенд авторизации и данных одной браузерной сессии.
type Backend interface {
	GetSession(ctx context.Context) (*models.Session, error)
	OnAuthStateChange(fn backend.AuthListener) (unsubscribe func())
	SignInWithPassword(ctx context.Context, email, password string) (*models.Session, error)
	SignUp(ctx context.Context, email, password, fullName string) (*models.Session, error)
	SignOut(ctx context.Context) error
	SelectProfile(ctx context.Context, userID string) (*models.Profile, error)
	SelectActiveSubscription(ctx context.Context, userID string) (*models.Subscription, error)
}

// Observer получает метрики резолверов.
type Observer interface {
	FetchObserved(elapsed time.Duration, err error)
	StaleDiscarded()
	SessionsChanged(live int)
}

// refreshWindower бэкенд, продлевающий токен заранее. Резолвер проверяет сессию
// не позже, чем за RefreshWindow до истечения.
type refreshWindower interface {
	RefreshWindow() time.Duration
}

type nopObserver struct{}

func (nopObserver) FetchObserved(time.Duration, error) {}
func (nopObserver) StaleDiscarded()                    {}
func (nopObserver) SessionsChanged(int)                {}

// Resolver состояние авторизации одной браузерной сессии.
type Resolver struct {
	log          *slog.Logger
	backend      Backend
	fetchTimeout time.Duration
	observer     Observer

	state atomic.Pointer[State]

	mu          sync.Mutex
	issued      uint64
	changed     chan struct{}
	lastFetch   chan struct{}
	started     bool
	closed      bool
	unsubscribe func()
	recheck     *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New создаёт резолвер в фазе инициализации. fetchTimeout ограничивает загрузку
// профиля, 0 отключает ограничение. observer может быть nil.
func New(log *slog.Logger, b Backend, fetchTimeout time.Duration, observer Observer) *Resolver {
	if observer == nil {
		observer = nopObserver{}
	}
	r := &Resolver{
		log:          log,
		backend:      b,
		fetchTimeout: fetchTimeout,
		observer:     observer,
		changed:      make(chan struct{}),
	}
	r.state.Store(&State{Phase: PhaseInitializing, Loading: true})
	return r
}

// State текущий снимок.
func (r *Resolver) State() State {
	return *r.state.Load()
}

// Changed закрывается при следующей публикации состояния.
func (r *Resolver) Changed() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.changed
}

// Wait ждёт, пока состояние перестанет быть загрузочным.
func (r *Resolver) Wait(ctx context.Context) error {
	for {
		ch := r.Changed()
		if !r.State().Loading {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Start подписывается на события авторизации и запрашивает текущую сессию.
// ctx задаёт время жизни резолвера. Ошибка получения сессии означает отсутствие пользователя.
func (r *Resolver) Start(ctx context.Context) error {
	const op = "session.Resolver.Start"

	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", op, ErrAlreadyStarted)
	}
	r.started = true
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.issued++
	gen := r.issued
	r.mu.Unlock()

	unsubscribe := r.backend.OnAuthStateChange(r.onAuthStateChange)
	r.mu.Lock()
	r.unsubscribe = unsubscribe
	r.mu.Unlock()

	callCtx, cancel := r.callContext()
	sess, err := r.backend.GetSession(callCtx)
	cancel()
	if err != nil {
		r.log.Warn("failed to get session", sl.Op(op), sl.Err(err))
		sess = nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.issued || r.closed {
		// событие авторизации пришло раньше ответа
		return nil
	}
	r.applyLocked(gen, sess, false)
	return nil
}

// SignIn входит по паролю. Ожидаемые отказы возвращаются как *AuthError,
// состояние при этом не меняется.
func (r *Resolver) SignIn(ctx context.Context, email, password string) error {
	const op = "session.Resolver.SignIn"
	sess, err := r.backend.SignInWithPassword(ctx, email, password)
	if err != nil {
		ae := classify(err)
		r.log.Info("sign in rejected", sl.Op(op), slog.String("kind", string(ae.Kind)))
		return ae
	}
	r.adopt(sess)
	return nil
}

// SignUp регистрирует пользователя. Профиль создаёт бэкенд.
func (r *Resolver) SignUp(ctx context.Context, email, password, fullName string) error {
	const op = "session.Resolver.SignUp"
	sess, err := r.backend.SignUp(ctx, email, password, fullName)
	if err != nil {
		ae := classify(err)
		r.log.Info("sign up rejected", sl.Op(op), slog.String("kind", string(ae.Kind)))
		return ae
	}
	if sess != nil {
		r.adopt(sess)
	}
	return nil
}

// SignOut очищает состояние до обращения к бэкенду: после возврата guard уже
// видит неавторизованного пользователя, даже если бэкенд ответил ошибкой.
func (r *Resolver) SignOut(ctx context.Context) error {
	const op = "session.Resolver.SignOut"

	r.mu.Lock()
	r.issued++
	r.applyLocked(r.issued, nil, false)
	r.mu.Unlock()

	if err := r.backend.SignOut(ctx); err != nil {
		r.log.Warn("backend sign out failed", sl.Op(op), sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RefreshProfile заново загружает профиль и подписку текущего пользователя
// и ждёт, пока последняя запущенная загрузка завершится. Возвращает ошибку загрузки,
// если она осталась в итоговом состоянии.
func (r *Resolver) RefreshProfile(ctx context.Context) error {
	r.mu.Lock()
	cur := r.state.Load()
	if cur.Session == nil || r.closed || !r.started {
		r.mu.Unlock()
		return nil
	}
	r.issued++
	r.applyLocked(r.issued, cur.Session, true)
	done := r.lastFetch
	r.mu.Unlock()

	for {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		r.mu.Lock()
		latest := r.lastFetch
		r.mu.Unlock()
		if latest == done {
			break
		}
		done = latest
	}
	return r.State().FetchErr
}

// Close отписывается от событий, отменяет загрузки и закрывает бэкенд, если он это умеет.
func (r *Resolver) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.stopRecheckLocked()
	unsubscribe := r.unsubscribe
	cancel := r.cancel
	r.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()

	if c, ok := r.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (r *Resolver) onAuthStateChange(event backend.EventType, sess *models.Session) {
	const op = "session.Resolver.onAuthStateChange"
	r.log.Debug("auth state changed", sl.Op(op), slog.String("event", string(event)))

	switch event {
	case backend.SignedIn:
		r.adopt(sess)
	case backend.TokenRefreshed, backend.UserUpdated:
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed || sess == nil {
			return
		}
		r.issued++
		r.applyLocked(r.issued, sess, true)
	case backend.SignedOut, backend.UserDeleted:
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed || r.state.Load().Phase == PhaseUnauthenticated {
			return
		}
		r.issued++
		r.applyLocked(r.issued, nil, false)
	}
}

// adopt переходит к новой сессии. Повторное SIGNED_IN с тем же токеном игнорируется.
func (r *Resolver) adopt(sess *models.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || !r.started || sess == nil {
		return
	}
	if cur := r.state.Load().Session; cur != nil && cur.TokenID == sess.TokenID {
		return
	}
	r.issued++
	r.applyLocked(r.issued, sess, false)
}

// applyLocked публикует состояние поколения gen и при наличии сессии запускает загрузку
// и ставит проверку токена перед его истечением.
// keepProfile оставляет на время загрузки уже загруженный профиль того же пользователя.
func (r *Resolver) applyLocked(gen uint64, sess *models.Session, keepProfile bool) {
	r.stopRecheckLocked()
	if sess == nil {
		r.commitLocked(&State{Phase: PhaseUnauthenticated, Generation: gen})
		return
	}
	if !sess.ExpiresAt.IsZero() {
		r.armRecheckLocked(gen, r.untilRecheck(sess))
	}

	cur := r.state.Load()
	user := sess.User()
	next := &State{
		Phase:      PhaseProfilePending,
		Loading:    true,
		User:       user,
		Session:    sess,
		Generation: gen,
	}
	if keepProfile && cur.Phase == PhaseResolved && cur.User != nil && cur.User.ID == user.ID {
		next = &State{
			Phase:                 PhaseResolved,
			User:                  user,
			Session:               sess,
			Profile:               cur.Profile,
			Subscription:          cur.Subscription,
			IsAdmin:               cur.IsAdmin,
			HasActiveSubscription: cur.HasActiveSubscription,
			FetchErr:              cur.FetchErr,
			Generation:            gen,
		}
	}
	r.commitLocked(next)

	done := make(chan struct{})
	r.lastFetch = done
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(done)
		r.fetch(gen, sess)
	}()
}

func (r *Resolver) untilRecheck(sess *models.Session) time.Duration {
	var window time.Duration
	if w, ok := r.backend.(refreshWindower); ok {
		window = w.RefreshWindow()
	}
	d := time.Until(sess.ExpiresAt) - window
	if d < 0 {
		return 0
	}
	return d
}

func (r *Resolver) armRecheckLocked(gen uint64, delay time.Duration) {
	r.stopRecheckLocked()
	r.recheck = time.AfterFunc(delay, func() { r.recheckSession(gen) })
}

func (r *Resolver) stopRecheckLocked() {
	if r.recheck != nil {
		r.recheck.Stop()
		r.recheck = nil
	}
}

// recheckSession заново запрашивает сессию у бэкенда перед истечением токена.
// Бэкенд либо продлевает токен (TOKEN_REFRESHED), либо сбрасывает сессию (SIGNED_OUT).
// Если бэкенд вернул результат без события, он применяется здесь.
func (r *Resolver) recheckSession(gen uint64) {
	const op = "session.Resolver.recheckSession"

	r.mu.Lock()
	if r.closed || gen != r.issued {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()
	defer r.wg.Done()

	ctx, cancel := r.callContext()
	sess, err := r.backend.GetSession(ctx)
	cancel()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || gen != r.issued {
		return
	}
	cur := r.state.Load().Session
	if cur == nil {
		return
	}
	expired := !time.Now().Before(cur.ExpiresAt)
	unchanged := err != nil || (sess != nil && sess.TokenID == cur.TokenID)
	if err != nil {
		r.log.Warn("session recheck failed", sl.Op(op), sl.Err(err))
	}
	switch {
	case unchanged && expired:
		// истёкший токен без продления равен отсутствию сессии
		sess = nil
	case unchanged:
		r.armRecheckLocked(gen, max(r.untilRecheck(cur), recheckRetry))
		return
	}
	r.log.Debug("session changed on recheck", sl.Op(op), slog.Bool("signed_out", sess == nil))
	r.issued++
	r.applyLocked(r.issued, sess, true)
}

func (r *Resolver) commitLocked(next *State) {
	r.state.Store(next)
	close(r.changed)
	r.changed = make(chan struct{})
}

func (r *Resolver) fetch(gen uint64, sess *models.Session) {
	const op = "session.Resolver.fetch"
	log := r.log.With(sl.Op(op), slog.String("user_id", sess.UserID), slog.Uint64("generation", gen))
	start := time.Now()

	ctx, cancel := r.callContext()
	defer cancel()

	var (
		profile *models.Profile
		sub     *models.Subscription
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := r.backend.SelectProfile(gctx, sess.UserID)
		if err != nil {
			return fmt.Errorf("select profile: %w", err)
		}
		profile = p
		return nil
	})
	g.Go(func() error {
		s, err := r.backend.SelectActiveSubscription(gctx, sess.UserID)
		if err != nil {
			return fmt.Errorf("select subscription: %w", err)
		}
		sub = s
		return nil
	})

	// бэкенд может не уважать ctx, поэтому ждём не дольше таймаута
	waitErr := make(chan error, 1)
	go func() { waitErr <- g.Wait() }()
	var err error
	select {
	case err = <-waitErr:
	case <-ctx.Done():
		err = ctx.Err()
	}
	r.observer.FetchObserved(time.Since(start), err)

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.issued || r.closed {
		r.observer.StaleDiscarded()
		log.Debug("stale profile result discarded", slog.Uint64("latest", r.issued))
		return
	}

	next := &State{
		Phase:      PhaseResolved,
		User:       sess.User(),
		Session:    sess,
		Generation: gen,
	}
	if err != nil {
		log.Warn("profile fetch failed, access restricted", sl.Err(err), sl.Since(start))
		next.FetchErr = fmt.Errorf("%s: %w", op, err)
	} else {
		next.Profile = profile
		next.Subscription = sub
		next.IsAdmin = profile.IsAdmin()
		next.HasActiveSubscription = sub.IsActive()
		log.Debug("profile resolved", slog.Bool("is_admin", next.IsAdmin),
			slog.Bool("has_active_subscription", next.HasActiveSubscription), sl.Since(start))
	}
	r.commitLocked(next)
}

func (r *Resolver) callContext() (context.Context, context.CancelFunc) {
	if r.fetchTimeout <= 0 {
		return context.WithCancel(r.ctx)
	}
	return context.WithTimeout(r.ctx, r.fetchTimeout)
}
