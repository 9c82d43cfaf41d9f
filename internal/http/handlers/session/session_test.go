package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/devmanager/internal/backend"
	"github.com/magabrotheeeer/devmanager/internal/config"
	"github.com/magabrotheeeer/devmanager/internal/guard"
	"github.com/magabrotheeeer/devmanager/internal/http/middlewarectx"
	"github.com/magabrotheeeer/devmanager/internal/http/response"
	"github.com/magabrotheeeer/devmanager/internal/models"
	sess "github.com/magabrotheeeer/devmanager/internal/session"
)

type ResolverMock struct {
	mock.Mock
	state sess.State
}

func (m *ResolverMock) State() sess.State { return m.state }
func (m *ResolverMock) Changed() <-chan struct{} { return make(chan struct{}) }
func (m *ResolverMock) Wait(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *ResolverMock) RefreshProfile(context.Context) error { return nil }

func (m *ResolverMock) SignIn(ctx context.Context, email, password string) error {
	return m.Called(ctx, email, password).Error(0)
}

func (m *ResolverMock) SignUp(ctx context.Context, email, password, fullName string) error {
	return m.Called(ctx, email, password, fullName).Error(0)
}

func (m *ResolverMock) SignOut(ctx context.Context) error {
	m.state = sess.State{Phase: sess.PhaseUnauthenticated}
	return m.Called(ctx).Error(0)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func memberState(active bool) sess.State {
	st := sess.State{
		Phase:   sess.PhaseResolved,
		User:    &models.User{ID: "u1", Email: "ana@example.com"},
		Profile: &models.Profile{UserID: "u1", Role: models.RoleMember},
	}
	if active {
		st.Subscription = &models.Subscription{Status: models.SubscriptionActive}
		st.HasActiveSubscription = true
	}
	return st
}

func serve(handler http.HandlerFunc, resolver middlewarectx.Resolver, method string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		_ = json.NewEncoder(&buf).Encode(b)
	}
	req := httptest.NewRequest(method, "/", &buf)
	if resolver != nil {
		req = req.WithContext(middlewarectx.WithResolver(req.Context(), resolver))
	}
	rr := httptest.NewRecorder()
	handler(rr, req)
	return rr
}

type body struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Kind   string `json:"kind"`
	Data   struct {
		Location string `json:"location"`
	} `json:"data"`
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) body {
	t.Helper()
	var b body
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &b))
	return b
}

func TestSignIn(t *testing.T) {
	h := New(newNoopLogger(), guard.DefaultRoutes(), 0)

	tests := []struct {
		name       string
		request    any
		signInErr  error
		state      sess.State
		wantCode   int
		wantKind   string
		wantStatus string
		wantLoc    string
	}{
		{
			name:       "member without subscription goes to plan selection",
			request:    SignInRequest{Email: "ana@example.com", Password: "secret1"},
			state:      memberState(false),
			wantCode:   http.StatusOK,
			wantStatus: response.StatusOK,
			wantLoc:    "/select-plan",
		},
		{
			name:       "member with subscription goes to dashboard",
			request:    SignInRequest{Email: "ana@example.com", Password: "secret1"},
			state:      memberState(true),
			wantCode:   http.StatusOK,
			wantStatus: response.StatusOK,
			wantLoc:    "/dashboard",
		},
		{
			name:       "invalid credentials",
			request:    SignInRequest{Email: "ana@example.com", Password: "wrong"},
			signInErr:  &sess.AuthError{Kind: sess.KindInvalidCredentials, Err: backend.ErrInvalidCredentials},
			wantCode:   http.StatusUnauthorized,
			wantStatus: response.StatusError,
			wantKind:   "invalid_credentials",
		},
		{
			name:       "backend unavailable",
			request:    SignInRequest{Email: "ana@example.com", Password: "secret1"},
			signInErr:  &sess.AuthError{Kind: sess.KindNetwork, Err: backend.ErrUnavailable},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: response.StatusError,
			wantKind:   "network_error",
		},
		{
			name:       "invalid json",
			request:    "not a json",
			wantCode:   http.StatusBadRequest,
			wantStatus: response.StatusError,
		},
		{
			name:       "invalid email",
			request:    SignInRequest{Email: "ana", Password: "secret1"},
			wantCode:   http.StatusUnprocessableEntity,
			wantStatus: response.StatusError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := &ResolverMock{state: tt.state}
			resolver.On("SignIn", mock.Anything, mock.Anything, mock.Anything).Return(tt.signInErr)

			rr := serve(h.SignIn, resolver, http.MethodPost, tt.request)
			assert.Equal(t, tt.wantCode, rr.Code)
			b := decodeBody(t, rr)
			assert.Equal(t, tt.wantStatus, b.Status)
			assert.Equal(t, tt.wantKind, b.Kind)
			assert.Equal(t, tt.wantLoc, b.Data.Location)
		})
	}
}

func TestSignIn_WaitsForProfile(t *testing.T) {
	resolver := &ResolverMock{state: sess.State{Phase: sess.PhaseProfilePending, Loading: true, User: &models.User{ID: "u1"}}}
	resolver.On("SignIn", mock.Anything, "ana@example.com", "secret1").Return(nil)
	resolver.On("Wait", mock.Anything).Return(nil).Run(func(mock.Arguments) {
		resolver.state = memberState(true)
	})

	h := New(newNoopLogger(), guard.DefaultRoutes(), time.Second)
	rr := serve(h.SignIn, resolver, http.MethodPost, SignInRequest{Email: "ana@example.com", Password: "secret1"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "/dashboard", decodeBody(t, rr).Data.Location)
}

func TestSignIn_StillLoadingIsPending(t *testing.T) {
	resolver := &ResolverMock{state: sess.State{Phase: sess.PhaseProfilePending, Loading: true, User: &models.User{ID: "u1"}}}
	resolver.On("SignIn", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	resolver.On("Wait", mock.Anything).Return(context.DeadlineExceeded)

	h := New(newNoopLogger(), guard.DefaultRoutes(), 10*time.Millisecond)
	rr := serve(h.SignIn, resolver, http.MethodPost, SignInRequest{Email: "ana@example.com", Password: "secret1"})
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
	assert.Equal(t, response.StatusPending, decodeBody(t, rr).Status)
}

func TestSignUp(t *testing.T) {
	h := New(newNoopLogger(), guard.DefaultRoutes(), 0)
	req := SignUpRequest{FullName: "Ana Souza", Email: "ana@example.com", Password: "secret1"}

	t.Run("duplicate email", func(t *testing.T) {
		resolver := &ResolverMock{}
		resolver.On("SignUp", mock.Anything, req.Email, req.Password, req.FullName).
			Return(&sess.AuthError{Kind: sess.KindDuplicateEmail, Err: backend.ErrEmailTaken})

		rr := serve(h.SignUp, resolver, http.MethodPost, req)
		assert.Equal(t, http.StatusConflict, rr.Code)
		assert.Equal(t, "duplicate_email", decodeBody(t, rr).Kind)
	})

	t.Run("new member picks a plan", func(t *testing.T) {
		resolver := &ResolverMock{state: memberState(false)}
		resolver.On("SignUp", mock.Anything, req.Email, req.Password, req.FullName).Return(nil)

		rr := serve(h.SignUp, resolver, http.MethodPost, req)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "/select-plan", decodeBody(t, rr).Data.Location)
	})

	t.Run("short password rejected before backend", func(t *testing.T) {
		resolver := &ResolverMock{}
		short := req
		short.Password = "123"

		rr := serve(h.SignUp, resolver, http.MethodPost, short)
		assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		resolver.AssertNotCalled(t, "SignUp", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestSignOut(t *testing.T) {
	h := New(newNoopLogger(), guard.DefaultRoutes(), 0)
	resolver := &ResolverMock{state: memberState(true)}
	resolver.On("SignOut", mock.Anything).Return(errors.New("revocation list down"))

	rr := serve(h.SignOut, resolver, http.MethodPost, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "/auth", decodeBody(t, rr).Data.Location)
}

type sessionsStub struct {
	resolver middlewarectx.Resolver
	removed  []string
}

func (s *sessionsStub) Get(sid string) (middlewarectx.Resolver, bool) {
	return s.resolver, sid == "sid-1"
}

func (s *sessionsStub) Create(string) (string, middlewarectx.Resolver, error) {
	return "sid-2", s.resolver, nil
}

func (s *sessionsStub) Remove(sid string) {
	s.removed = append(s.removed, sid)
}

func TestSignOut_EndsBrowserSession(t *testing.T) {
	h := New(newNoopLogger(), guard.DefaultRoutes(), 0)
	resolver := &ResolverMock{state: memberState(true)}
	resolver.On("SignOut", mock.Anything).Return(nil)
	sessions := &sessionsStub{resolver: resolver}

	handler := middlewarectx.Session(newNoopLogger(), sessions, config.Session{CookieName: "dm_sid"})(http.HandlerFunc(h.SignOut))
	req := httptest.NewRequest(http.MethodPost, "/auth/sign-out", nil)
	req.AddCookie(&http.Cookie{Name: "dm_sid", Value: "sid-1"})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"sid-1"}, sessions.removed)
	var sid *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == "dm_sid" {
			sid = c
		}
	}
	require.NotNil(t, sid)
	assert.Equal(t, -1, sid.MaxAge)
}

func TestCurrent(t *testing.T) {
	h := New(newNoopLogger(), guard.DefaultRoutes(), 0)

	admin := memberState(false)
	admin.Profile.Role = models.RoleAdmin
	admin.IsAdmin = true
	rr := serve(h.Current, &ResolverMock{state: admin}, http.MethodGet, nil)
	assert.Equal(t, "/admin", decodeBody(t, rr).Data.Location)

	rr = serve(h.Current, &ResolverMock{state: sess.State{Phase: sess.PhaseUnauthenticated}}, http.MethodGet, nil)
	assert.Equal(t, "/auth", decodeBody(t, rr).Data.Location)

	rr = serve(h.Current, nil, http.MethodGet, nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
