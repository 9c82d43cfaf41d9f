package backend

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/devmanager/internal/lib/jwt"
	"github.com/magabrotheeeer/devmanager/internal/models"
	"github.com/magabrotheeeer/devmanager/internal/storage"
)

type recordedEvent struct {
	event   EventType
	session *models.Session
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) listen(event EventType, session *models.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{event: event, session: session})
}

func (r *eventRecorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.event)
	}
	return out
}

func signedInClient(t *testing.T, env *testEnv) (*Client, *eventRecorder) {
	t.Helper()
	env.repo.On("GetIdentityByEmail", mock.Anything, "ana@devmanager.io").
		Return(identityWithPassword(t, "u1", "ana@devmanager.io", "secret123"), nil)
	env.knownUser("u1")

	client := NewClient(env.svc, newNoopLogger(), "")
	t.Cleanup(func() { _ = client.Close() })
	rec := &eventRecorder{}
	client.OnAuthStateChange(rec.listen)

	_, err := client.SignInWithPassword(context.Background(), "ana@devmanager.io", "secret123")
	require.NoError(t, err)
	return client, rec
}

func TestClient_NoTokenHasNoSession(t *testing.T) {
	env := newTestEnv(t)
	client := NewClient(env.svc, newNoopLogger(), "")

	session, err := client.GetSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestClient_SignInEmitsAndStoresSession(t *testing.T) {
	env := newTestEnv(t)
	client, rec := signedInClient(t, env)

	assert.Equal(t, []EventType{SignedIn}, rec.types())
	session, err := client.GetSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "u1", session.UserID)
	assert.Equal(t, session.AccessToken, client.AccessToken())
}

func TestClient_RestoreFromToken(t *testing.T) {
	env := newTestEnv(t)
	env.knownUser("u1")
	token, _, err := env.tokens.GenerateToken("u1", "ana@devmanager.io")
	require.NoError(t, err)

	client := NewClient(env.svc, newNoopLogger(), token)
	rec := &eventRecorder{}
	client.OnAuthStateChange(rec.listen)

	session, err := client.GetSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "u1", session.UserID)
	assert.Empty(t, rec.types())
}

func TestClient_ExpiredTokenSignsOut(t *testing.T) {
	env := newTestEnv(t)
	expired := jwt.NewJWTMaker("test_secret", -time.Minute)
	token, _, err := expired.GenerateToken("u1", "ana@devmanager.io")
	require.NoError(t, err)

	client := NewClient(env.svc, newNoopLogger(), token)
	rec := &eventRecorder{}
	client.OnAuthStateChange(rec.listen)

	session, err := client.GetSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, session)
	assert.Equal(t, []EventType{SignedOut}, rec.types())
	assert.Empty(t, client.AccessToken())
}

func TestClient_DeletedUserTokenSignsOut(t *testing.T) {
	env := newTestEnv(t)
	token, _, err := env.tokens.GenerateToken("u1", "ana@devmanager.io")
	require.NoError(t, err)
	env.repo.On("GetIdentity", mock.Anything, "u1").Return(nil, storage.ErrNotFound)

	client := NewClient(env.svc, newNoopLogger(), token)
	rec := &eventRecorder{}
	client.OnAuthStateChange(rec.listen)

	session, err := client.GetSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, session)
	assert.Equal(t, []EventType{SignedOut}, rec.types())
	assert.Empty(t, client.AccessToken())
}

func TestClient_SignOutClearsBeforeRevoke(t *testing.T) {
	env := newTestEnv(t)
	client, rec := signedInClient(t, env)
	token := client.AccessToken()

	other := NewClient(env.svc, newNoopLogger(), token)
	t.Cleanup(func() { _ = other.Close() })
	_, err := other.GetSession(context.Background())
	require.NoError(t, err)
	otherRec := &eventRecorder{}
	other.OnAuthStateChange(otherRec.listen)

	require.NoError(t, client.SignOut(context.Background()))

	assert.Equal(t, []EventType{SignedIn, SignedOut}, rec.types())
	assert.Equal(t, []EventType{SignedOut}, otherRec.types(), "client sharing the token is signed out too")

	revoked := NewClient(env.svc, newNoopLogger(), token)
	session, err := revoked.GetSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestClient_HubEventsAreFilteredByUser(t *testing.T) {
	env := newTestEnv(t)
	client, rec := signedInClient(t, env)

	env.svc.NotifyUserUpdated("someone-else")
	env.svc.NotifyUserUpdated("u1")
	assert.Equal(t, []EventType{SignedIn, UserUpdated}, rec.types())

	env.svc.NotifyUserDeleted("u1")
	assert.Equal(t, []EventType{SignedIn, UserUpdated, UserDeleted}, rec.types())
	assert.Empty(t, client.AccessToken())

	env.svc.NotifyUserUpdated("u1")
	assert.Len(t, rec.types(), 3)
}

func TestClient_CloseStopsDelivery(t *testing.T) {
	env := newTestEnv(t)
	client, rec := signedInClient(t, env)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	env.svc.NotifyUserUpdated("u1")

	assert.Equal(t, []EventType{SignedIn}, rec.types())
	assert.Equal(t, 0, env.hub.Len())
}

func TestClient_UpdatePasswordRequiresSession(t *testing.T) {
	env := newTestEnv(t)
	client := NewClient(env.svc, newNoopLogger(), "")

	err := client.UpdatePassword(context.Background(), "secret123", "newsecret")
	assert.ErrorIs(t, err, ErrNoSession)
}
