package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/devmanager/internal/backend"
	"github.com/magabrotheeeer/devmanager/internal/models"
)

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

type fetchReply struct {
	profile *models.Profile
	err     error
}

type profileCall struct {
	userID string
	reply  chan fetchReply
}

// fakeBackend бэкенд в памяти. При заданном profileCall загрузка профиля
// ждёт ответа теста.
type fakeBackend struct {
	mu          sync.Mutex
	listeners   map[int]backend.AuthListener
	nextID      int
	session     *models.Session
	sessionErr  error
	accounts    map[string]string
	profiles    map[string]*models.Profile
	subs        map[string]*models.Subscription
	profileErr  error
	signInErr   error
	signUpErr   error
	signOutErr  error
	onSignOut   func()
	closed      bool
	tokenSeq    int
	profileCall chan profileCall
	window      time.Duration
	refreshes   int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		listeners: make(map[int]backend.AuthListener),
		accounts:  make(map[string]string),
		profiles:  make(map[string]*models.Profile),
		subs:      make(map[string]*models.Subscription),
	}
}

func (f *fakeBackend) newSession(userID, email string) *models.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.newSessionLocked(userID, email)
}

func (f *fakeBackend) newSessionLocked(userID, email string) *models.Session {
	f.tokenSeq++
	id := userID + "-token-" + strconv.Itoa(f.tokenSeq)
	return &models.Session{AccessToken: "jwt-" + id, TokenID: id, UserID: userID, Email: email, ExpiresAt: time.Now().Add(time.Hour)}
}

func (f *fakeBackend) emit(event backend.EventType, sess *models.Session) {
	f.mu.Lock()
	fns := make([]backend.AuthListener, 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(event, sess)
	}
}

// GetSession при заданном window продлевает сессию, близкую к истечению, как это делает backend.Client.
func (f *fakeBackend) GetSession(ctx context.Context) (*models.Session, error) {
	f.mu.Lock()
	sess, err := f.session, f.sessionErr
	if err != nil || sess == nil || f.window <= 0 || time.Until(sess.ExpiresAt) > f.window {
		f.mu.Unlock()
		return sess, err
	}
	sess = f.newSessionLocked(sess.UserID, sess.Email)
	f.session = sess
	f.refreshes++
	f.mu.Unlock()
	f.emit(backend.TokenRefreshed, sess)
	return sess, nil
}

func (f *fakeBackend) RefreshWindow() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.window
}

func (f *fakeBackend) OnAuthStateChange(fn backend.AuthListener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

func (f *fakeBackend) SignInWithPassword(ctx context.Context, email, password string) (*models.Session, error) {
	f.mu.Lock()
	err := f.signInErr
	userID, ok := f.accounts[email]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, backend.ErrInvalidCredentials
	}
	sess := f.newSession(userID, email)
	f.mu.Lock()
	f.session = sess
	f.mu.Unlock()
	f.emit(backend.SignedIn, sess)
	return sess, nil
}

func (f *fakeBackend) SignUp(ctx context.Context, email, password, fullName string) (*models.Session, error) {
	f.mu.Lock()
	if f.signUpErr != nil {
		err := f.signUpErr
		f.mu.Unlock()
		return nil, err
	}
	if _, taken := f.accounts[email]; taken {
		f.mu.Unlock()
		return nil, backend.ErrEmailTaken
	}
	userID := "user-" + email
	f.accounts[email] = userID
	f.profiles[userID] = &models.Profile{UserID: userID, Email: email, FullName: fullName, Role: models.RoleMember}
	f.mu.Unlock()

	sess := f.newSession(userID, email)
	f.mu.Lock()
	f.session = sess
	f.mu.Unlock()
	f.emit(backend.SignedIn, sess)
	return sess, nil
}

func (f *fakeBackend) SignOut(ctx context.Context) error {
	f.mu.Lock()
	hook := f.onSignOut
	err := f.signOutErr
	f.session = nil
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	f.emit(backend.SignedOut, nil)
	return err
}

func (f *fakeBackend) SelectProfile(ctx context.Context, userID string) (*models.Profile, error) {
	f.mu.Lock()
	calls := f.profileCall
	f.mu.Unlock()
	if calls != nil {
		c := profileCall{userID: userID, reply: make(chan fetchReply, 1)}
		select {
		case calls <- c:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		select {
		case r := <-c.reply:
			return r.profile, r.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	return f.profiles[userID], nil
}

func (f *fakeBackend) SelectActiveSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[userID], nil
}

func (f *fakeBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeBackend) set(fn func(f *fakeBackend)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

type countingObserver struct {
	fetches atomic.Int64
	stale   atomic.Int64
}

func (o *countingObserver) FetchObserved(time.Duration, error) { o.fetches.Add(1) }
func (o *countingObserver) StaleDiscarded()                    { o.stale.Add(1) }
func (o *countingObserver) SessionsChanged(int)                {}

func startResolver(t *testing.T, b *fakeBackend, obs Observer) *Resolver {
	t.Helper()
	r := New(newNoopLogger(), b, time.Second, obs)
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func waitResolved(t *testing.T, r *Resolver) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Wait(ctx))
	return r.State()
}

func seedMember(b *fakeBackend, email string, sub *models.Subscription) string {
	userID := "user-" + email
	b.set(func(f *fakeBackend) {
		f.accounts[email] = userID
		f.profiles[userID] = &models.Profile{UserID: userID, Email: email, Role: models.RoleMember}
		if sub != nil {
			f.subs[userID] = sub
		}
	})
	return userID
}

func activeSubscription(userID string) *models.Subscription {
	return &models.Subscription{ID: "sub-" + userID, UserID: userID, Status: models.SubscriptionActive}
}

func TestResolver_InitialState(t *testing.T) {
	r := New(newNoopLogger(), newFakeBackend(), time.Second, nil)

	st := r.State()
	assert.Equal(t, PhaseInitializing, st.Phase)
	assert.True(t, st.Loading)
	assert.Nil(t, st.User)
}

func TestResolver_StartWithoutSession(t *testing.T) {
	r := startResolver(t, newFakeBackend(), nil)

	st := waitResolved(t, r)
	assert.Equal(t, PhaseUnauthenticated, st.Phase)
	assert.False(t, st.Loading)
	assert.Nil(t, st.User)
	assert.Nil(t, st.Profile)
	assert.False(t, st.IsAdmin)
	assert.False(t, st.HasActiveSubscription)

	assert.ErrorIs(t, r.Start(context.Background()), ErrAlreadyStarted)
}

func TestResolver_StartSessionErrorIsUnauthenticated(t *testing.T) {
	b := newFakeBackend()
	b.set(func(f *fakeBackend) { f.sessionErr = backend.ErrUnavailable })

	st := waitResolved(t, startResolver(t, b, nil))
	assert.Equal(t, PhaseUnauthenticated, st.Phase)
	assert.False(t, st.Authenticated())
}

func TestResolver_StartWithExistingSession(t *testing.T) {
	b := newFakeBackend()
	userID := seedMember(b, "ana@devmanager.io", activeSubscription("user-ana@devmanager.io"))
	b.set(func(f *fakeBackend) { f.session = f.newSessionLocked(userID, "ana@devmanager.io") })

	st := waitResolved(t, startResolver(t, b, nil))
	assert.Equal(t, PhaseResolved, st.Phase)
	require.NotNil(t, st.User)
	assert.Equal(t, userID, st.User.ID)
	require.NotNil(t, st.Profile)
	assert.True(t, st.HasActiveSubscription)
	assert.False(t, st.IsAdmin)
}

func TestResolver_SignInResolvesProfile(t *testing.T) {
	b := newFakeBackend()
	userID := seedMember(b, "ana@devmanager.io", nil)
	b.set(func(f *fakeBackend) { f.profiles[userID].Role = models.RoleAdmin })
	r := startResolver(t, b, nil)
	waitResolved(t, r)

	require.NoError(t, r.SignIn(context.Background(), "ana@devmanager.io", "secret123"))

	st := waitResolved(t, r)
	assert.Equal(t, PhaseResolved, st.Phase)
	assert.True(t, st.IsAdmin)
	assert.False(t, st.HasActiveSubscription)
	assert.NotEmpty(t, st.AccessToken())
}

func TestResolver_SignInErrorsAreClassified(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(f *fakeBackend)
		wantKind ErrorKind
	}{
		{
			name:     "unknown account",
			setup:    func(f *fakeBackend) {},
			wantKind: KindInvalidCredentials,
		},
		{
			name:     "backend unavailable",
			setup:    func(f *fakeBackend) { f.signInErr = backend.ErrUnavailable },
			wantKind: KindNetwork,
		},
		{
			name:     "deadline exceeded",
			setup:    func(f *fakeBackend) { f.signInErr = context.DeadlineExceeded },
			wantKind: KindNetwork,
		},
		{
			name:     "unexpected",
			setup:    func(f *fakeBackend) { f.signInErr = errors.New("boom") },
			wantKind: KindOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newFakeBackend()
			b.set(tt.setup)
			r := startResolver(t, b, nil)
			before := waitResolved(t, r)

			err := r.SignIn(context.Background(), "nobody@devmanager.io", "secret123")
			require.Error(t, err)

			var ae *AuthError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, tt.wantKind, ae.Kind)
			assert.Equal(t, tt.wantKind, KindOf(err))
			assert.Equal(t, before, r.State(), "rejected sign in leaves state unchanged")
		})
	}
}

func TestResolver_SignUpErrorsAreClassified(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind ErrorKind
	}{
		{name: "duplicate email", err: backend.ErrEmailTaken, wantKind: KindDuplicateEmail},
		{name: "weak password", err: backend.ErrWeakPassword, wantKind: KindWeakPassword},
		{name: "validation", err: backend.ErrInvalidInput, wantKind: KindValidation},
		{name: "network", err: backend.ErrUnavailable, wantKind: KindNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newFakeBackend()
			b.set(func(f *fakeBackend) { f.signUpErr = tt.err })
			r := startResolver(t, b, nil)
			waitResolved(t, r)

			err := r.SignUp(context.Background(), "ana@devmanager.io", "secret123", "Ana Souza")
			assert.Equal(t, tt.wantKind, KindOf(err))
			assert.Equal(t, PhaseUnauthenticated, r.State().Phase)
		})
	}
}

func TestResolver_SignOutIsSynchronous(t *testing.T) {
	b := newFakeBackend()
	seedMember(b, "ana@devmanager.io", activeSubscription("user-ana@devmanager.io"))
	r := startResolver(t, b, nil)
	require.NoError(t, r.SignIn(context.Background(), "ana@devmanager.io", "secret123"))
	waitResolved(t, r)

	var seenByBackend State
	b.set(func(f *fakeBackend) {
		f.onSignOut = func() { seenByBackend = r.State() }
		f.signOutErr = errors.New("network down")
	})

	err := r.SignOut(context.Background())
	assert.Error(t, err)

	assert.Equal(t, PhaseUnauthenticated, seenByBackend.Phase, "state is cleared before the backend call")
	st := r.State()
	assert.Equal(t, PhaseUnauthenticated, st.Phase)
	assert.False(t, st.Loading)
	assert.Nil(t, st.User)
	assert.Nil(t, st.Profile)
	assert.False(t, st.HasActiveSubscription)
}

func TestResolver_FailClosedOnFetchError(t *testing.T) {
	b := newFakeBackend()
	userID := seedMember(b, "root@devmanager.io", nil)
	b.set(func(f *fakeBackend) { f.profiles[userID].Role = models.RoleAdmin })
	r := startResolver(t, b, nil)
	require.NoError(t, r.SignIn(context.Background(), "root@devmanager.io", "secret123"))
	require.True(t, waitResolved(t, r).IsAdmin)

	b.set(func(f *fakeBackend) { f.profileErr = backend.ErrUnavailable })
	err := r.RefreshProfile(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrUnavailable)

	st := r.State()
	assert.Equal(t, PhaseResolved, st.Phase)
	assert.False(t, st.Loading)
	assert.NotNil(t, st.User)
	assert.Nil(t, st.Profile)
	assert.False(t, st.IsAdmin)
	assert.False(t, st.HasActiveSubscription)

	b.set(func(f *fakeBackend) { f.profileErr = nil })
	require.NoError(t, r.RefreshProfile(context.Background()))
	assert.True(t, r.State().IsAdmin)
}

func TestResolver_FetchTimeoutFailsClosed(t *testing.T) {
	b := newFakeBackend()
	seedMember(b, "ana@devmanager.io", nil)
	b.set(func(f *fakeBackend) { f.profileCall = make(chan profileCall, 1) })

	r := New(newNoopLogger(), b, 50*time.Millisecond, nil)
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() { _ = r.Close() })

	require.NoError(t, r.SignIn(context.Background(), "ana@devmanager.io", "secret123"))
	st := waitResolved(t, r)

	assert.Equal(t, PhaseResolved, st.Phase)
	assert.ErrorIs(t, st.FetchErr, context.DeadlineExceeded)
	assert.Nil(t, st.Profile)
	assert.False(t, st.IsAdmin)
}

func TestResolver_LatestRefreshWins(t *testing.T) {
	for _, order := range []string{"newest first", "oldest first"} {
		t.Run(order, func(t *testing.T) {
			b := newFakeBackend()
			userID := seedMember(b, "ana@devmanager.io", nil)
			obs := &countingObserver{}
			r := startResolver(t, b, obs)
			require.NoError(t, r.SignIn(context.Background(), "ana@devmanager.io", "secret123"))
			waitResolved(t, r)

			calls := make(chan profileCall)
			b.set(func(f *fakeBackend) { f.profileCall = calls })

			ctx := context.Background()
			errs := make(chan error, 2)
			go func() { errs <- r.RefreshProfile(ctx) }()
			first := <-calls
			go func() { errs <- r.RefreshProfile(ctx) }()
			second := <-calls

			stale := &models.Profile{UserID: userID, FullName: "stale", Role: models.RoleMember}
			fresh := &models.Profile{UserID: userID, FullName: "fresh", Role: models.RoleAdmin}
			if order == "newest first" {
				second.reply <- fetchReply{profile: fresh}
				first.reply <- fetchReply{profile: stale}
			} else {
				first.reply <- fetchReply{profile: stale}
				second.reply <- fetchReply{profile: fresh}
			}
			require.NoError(t, <-errs)
			require.NoError(t, <-errs)

			st := r.State()
			require.NotNil(t, st.Profile)
			assert.Equal(t, "fresh", st.Profile.FullName)
			assert.True(t, st.IsAdmin)
			assert.False(t, st.Loading)
			assert.Equal(t, int64(1), obs.stale.Load())
		})
	}
}

func TestResolver_RefreshKeepsResolvedProfileVisible(t *testing.T) {
	b := newFakeBackend()
	seedMember(b, "ana@devmanager.io", nil)
	r := startResolver(t, b, nil)
	require.NoError(t, r.SignIn(context.Background(), "ana@devmanager.io", "secret123"))
	waitResolved(t, r)

	calls := make(chan profileCall)
	b.set(func(f *fakeBackend) { f.profileCall = calls })
	done := make(chan error, 1)
	go func() { done <- r.RefreshProfile(context.Background()) }()
	call := <-calls

	st := r.State()
	assert.False(t, st.Loading)
	assert.NotNil(t, st.Profile)

	call.reply <- fetchReply{profile: &models.Profile{UserID: call.userID, Role: models.RoleMember}}
	require.NoError(t, <-done)
}

func TestResolver_RefreshWithoutUserIsNoop(t *testing.T) {
	r := startResolver(t, newFakeBackend(), nil)
	before := waitResolved(t, r)

	require.NoError(t, r.RefreshProfile(context.Background()))
	assert.Equal(t, before, r.State())
}

func TestResolver_UserUpdatedPicksUpSubscription(t *testing.T) {
	b := newFakeBackend()
	userID := seedMember(b, "ana@devmanager.io", nil)
	r := startResolver(t, b, nil)
	require.NoError(t, r.SignIn(context.Background(), "ana@devmanager.io", "secret123"))
	require.False(t, waitResolved(t, r).HasActiveSubscription)

	changed := r.Changed()
	b.set(func(f *fakeBackend) { f.subs[userID] = activeSubscription(userID) })
	b.emit(backend.UserUpdated, r.State().Session)
	<-changed

	require.Eventually(t, func() bool { return r.State().HasActiveSubscription }, 2*time.Second, 10*time.Millisecond)
}

func TestResolver_UserDeletedClearsState(t *testing.T) {
	b := newFakeBackend()
	seedMember(b, "ana@devmanager.io", nil)
	r := startResolver(t, b, nil)
	require.NoError(t, r.SignIn(context.Background(), "ana@devmanager.io", "secret123"))
	waitResolved(t, r)

	b.emit(backend.UserDeleted, nil)

	st := r.State()
	assert.Equal(t, PhaseUnauthenticated, st.Phase)
	assert.Nil(t, st.User)
}

func TestResolver_DuplicateSignedInIsIgnored(t *testing.T) {
	b := newFakeBackend()
	seedMember(b, "ana@devmanager.io", nil)
	r := startResolver(t, b, nil)
	require.NoError(t, r.SignIn(context.Background(), "ana@devmanager.io", "secret123"))
	st := waitResolved(t, r)

	b.emit(backend.SignedIn, st.Session)
	assert.Equal(t, st.Generation, r.State().Generation)
}

func TestResolver_CloseClosesBackend(t *testing.T) {
	b := newFakeBackend()
	r := New(newNoopLogger(), b, time.Second, nil)
	require.NoError(t, r.Start(context.Background()))

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.True(t, b.closed)
	assert.Empty(t, b.listeners)
}

func TestResolver_ExpiredSessionSignsOut(t *testing.T) {
	b := newFakeBackend()
	userID := seedMember(b, "ana@devmanager.io", activeSubscription("user-ana@devmanager.io"))
	sess := b.newSession(userID, "ana@devmanager.io")
	sess.ExpiresAt = time.Now().Add(150 * time.Millisecond)
	b.set(func(f *fakeBackend) { f.session = sess })

	r := startResolver(t, b, nil)
	st := waitResolved(t, r)
	require.True(t, st.Authenticated())
	require.True(t, st.HasActiveSubscription)

	require.Eventually(t, func() bool {
		return r.State().Phase == PhaseUnauthenticated
	}, 2*time.Second, 10*time.Millisecond)
	assert.Nil(t, r.State().Session)
}

func TestResolver_SessionRefreshedBeforeExpiry(t *testing.T) {
	b := newFakeBackend()
	userID := seedMember(b, "ana@devmanager.io", activeSubscription("user-ana@devmanager.io"))
	sess := b.newSession(userID, "ana@devmanager.io")
	b.set(func(f *fakeBackend) {
		f.session = sess
		f.window = time.Hour - 200*time.Millisecond
	})

	r := startResolver(t, b, nil)
	require.True(t, waitResolved(t, r).Authenticated())

	require.Eventually(t, func() bool {
		st := r.State()
		return st.Session != nil && st.Session.TokenID != sess.TokenID
	}, 2*time.Second, 10*time.Millisecond)

	st := waitResolved(t, r)
	assert.Equal(t, PhaseResolved, st.Phase)
	assert.Equal(t, userID, st.User.ID)
	assert.True(t, st.HasActiveSubscription)
	b.set(func(f *fakeBackend) {
		assert.GreaterOrEqual(t, f.refreshes, 1)
	})
}

func TestResolver_RecheckKeepsValidUnrefreshedSession(t *testing.T) {
	b := newFakeBackend()
	userID := seedMember(b, "ana@devmanager.io", nil)
	sess := b.newSession(userID, "ana@devmanager.io")
	b.set(func(f *fakeBackend) { f.session = sess })

	r := startResolver(t, b, nil)
	require.True(t, waitResolved(t, r).Authenticated())

	// проверка без смены токена и до истечения не трогает состояние
	r.recheckSession(r.State().Generation)
	st := r.State()
	assert.Equal(t, PhaseResolved, st.Phase)
	assert.Equal(t, sess.TokenID, st.Session.TokenID)
}

func TestResolver_CloseStopsRecheck(t *testing.T) {
	b := newFakeBackend()
	userID := seedMember(b, "ana@devmanager.io", nil)
	sess := b.newSession(userID, "ana@devmanager.io")
	sess.ExpiresAt = time.Now().Add(50 * time.Millisecond)
	b.set(func(f *fakeBackend) { f.session = sess })

	r := New(newNoopLogger(), b, time.Second, nil)
	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Close())

	time.Sleep(150 * time.Millisecond)
	assert.NotEqual(t, PhaseUnauthenticated, r.State().Phase)
}
