package backend

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/magabrotheeeer/devmanager/internal/lib/sl"
	"github.com/magabrotheeeer/devmanager/internal/models"
)

// EventType вид изменения состояния авторизации
type EventType string

// События авторизации
const (
	SignedIn       EventType = "SIGNED_IN"
	TokenRefreshed EventType = "TOKEN_REFRESHED"
	UserUpdated    EventType = "USER_UPDATED"
	SignedOut      EventType = "SIGNED_OUT"
	UserDeleted    EventType = "USER_DELETED"
)

// AuthListener получает событие и сессию после изменения. Для SignedOut и UserDeleted сессия nil.
type AuthListener func(event EventType, session *models.Session)

// Event событие уровня пользователя, общее для всех экземпляров сервиса.
// Пустой TokenID относится ко всем сессиям пользователя.
type Event struct {
	Type    EventType `json:"type"`
	UserID  string    `json:"user_id"`
	TokenID string    `json:"token_id,omitempty"`
	Origin  string    `json:"origin"`
	At      time.Time `json:"at"`
}

// Publisher отправляет события в брокер
type Publisher interface {
	Publish(routingKey string, message any) error
}

// Hub раздаёт события подписчикам процесса и рассылает их остальным экземплярам.
type Hub struct {
	log        *slog.Logger
	instanceID string
	publisher  Publisher

	mu        sync.RWMutex
	listeners map[uint64]func(Event)
	nextID    uint64
}

// NewHub создаёт Hub. publisher может быть nil, тогда события остаются внутри процесса.
func NewHub(log *slog.Logger, instanceID string, publisher Publisher) *Hub {
	return &Hub{
		log:        log,
		instanceID: instanceID,
		publisher:  publisher,
		listeners:  make(map[uint64]func(Event)),
	}
}

// Subscribe регистрирует обработчик и возвращает функцию отписки.
func (h *Hub) Subscribe(fn func(Event)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, id)
			h.mu.Unlock()
		})
	}
}

// Publish доставляет событие локально и отправляет его в брокер.
// Ошибка брокера логируется: локальные подписчики уже получили событие.
func (h *Hub) Publish(ev Event) {
	const op = "backend.Hub.Publish"
	ev.Origin = h.instanceID
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	h.dispatch(ev)

	if h.publisher == nil {
		return
	}
	if err := h.publisher.Publish("", ev); err != nil {
		h.log.Error("failed to publish auth event", sl.Op(op), slog.String("type", string(ev.Type)), sl.Err(err))
	}
}

// NotifyUserUpdated рассылает USER_UPDATED всем сессиям пользователя.
func (h *Hub) NotifyUserUpdated(userID string) {
	h.Publish(Event{Type: UserUpdated, UserID: userID})
}

// NotifyUserDeleted рассылает USER_DELETED всем сессиям пользователя.
func (h *Hub) NotifyUserDeleted(userID string) {
	h.Publish(Event{Type: UserDeleted, UserID: userID})
}

// HandleRemote разбирает событие из брокера и доставляет его локально.
// Собственные события экземпляра пропускаются, они уже доставлены в Publish.
func (h *Hub) HandleRemote(body []byte) error {
	const op = "backend.Hub.HandleRemote"
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if ev.Origin == h.instanceID {
		return nil
	}
	h.dispatch(ev)
	return nil
}

func (h *Hub) dispatch(ev Event) {
	h.mu.RLock()
	fns := make([]func(Event), 0, len(h.listeners))
	for _, fn := range h.listeners {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Len число подписчиков
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}
