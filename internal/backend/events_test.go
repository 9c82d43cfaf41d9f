package backend

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publisherStub struct {
	mu       sync.Mutex
	messages []any
	err      error
}

func (p *publisherStub) Publish(routingKey string, message any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message)
	return p.err
}

func TestHub_PublishDeliversLocallyAndRemotely(t *testing.T) {
	pub := &publisherStub{}
	hub := NewHub(newNoopLogger(), "node-a", pub)

	var got []Event
	unsubscribe := hub.Subscribe(func(ev Event) { got = append(got, ev) })

	hub.Publish(Event{Type: UserUpdated, UserID: "u1"})

	require.Len(t, got, 1)
	assert.Equal(t, "node-a", got[0].Origin)
	assert.False(t, got[0].At.IsZero())
	require.Len(t, pub.messages, 1)

	unsubscribe()
	unsubscribe()
	hub.Publish(Event{Type: UserUpdated, UserID: "u1"})
	assert.Len(t, got, 1)
	assert.Equal(t, 0, hub.Len())
}

func TestHub_BrokerErrorDoesNotBlockLocalDelivery(t *testing.T) {
	hub := NewHub(newNoopLogger(), "node-a", &publisherStub{err: errors.New("channel closed")})

	delivered := 0
	hub.Subscribe(func(Event) { delivered++ })
	hub.Publish(Event{Type: SignedOut, UserID: "u1", TokenID: "t1"})

	assert.Equal(t, 1, delivered)
}

func TestHub_HandleRemote(t *testing.T) {
	hub := NewHub(newNoopLogger(), "node-a", nil)

	var got []Event
	hub.Subscribe(func(ev Event) { got = append(got, ev) })

	foreign, err := json.Marshal(Event{Type: UserDeleted, UserID: "u1", Origin: "node-b"})
	require.NoError(t, err)
	own, err := json.Marshal(Event{Type: UserDeleted, UserID: "u1", Origin: "node-a"})
	require.NoError(t, err)

	require.NoError(t, hub.HandleRemote(foreign))
	require.NoError(t, hub.HandleRemote(own))
	assert.Error(t, hub.HandleRemote([]byte("{broken")))

	require.Len(t, got, 1)
	assert.Equal(t, UserDeleted, got[0].Type)
	assert.Equal(t, "node-b", got[0].Origin)
}
