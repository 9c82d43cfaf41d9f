package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/devmanager/internal/lib/sl"
)

// Factory создаёт бэкенд для новой браузерной сессии. accessToken берётся из cookie и может быть пустым.
type Factory func(accessToken string) Backend

type entry struct {
	resolver *Resolver
	lastSeen time.Time
}

// Manager владеет резолверами браузерных сессий: создаёт их при входе, регистрации
// или восстановлении по токену и закрывает по выходу или по истечении простоя.
type Manager struct {
	log          *slog.Logger
	factory      Factory
	fetchTimeout time.Duration
	idleTTL      time.Duration
	observer     Observer
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewManager создаёт менеджер. ctx ограничивает время жизни всех резолверов.
func NewManager(ctx context.Context, log *slog.Logger, factory Factory, fetchTimeout, idleTTL time.Duration, observer Observer) *Manager {
	if observer == nil {
		observer = nopObserver{}
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Manager{
		log:          log,
		factory:      factory,
		fetchTimeout: fetchTimeout,
		idleTTL:      idleTTL,
		observer:     observer,
		now:          time.Now,
		ctx:          ctx,
		cancel:       cancel,
		sessions:     make(map[string]*entry),
	}
}

// Get возвращает резолвер по id сессии и отмечает её активность.
func (m *Manager) Get(id string) (*Resolver, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = m.now()
	return e.resolver, true
}

// Create запускает резолвер новой браузерной сессии.
func (m *Manager) Create(accessToken string) (string, *Resolver, error) {
	const op = "session.Manager.Create"

	r := New(m.log, m.factory(accessToken), m.fetchTimeout, m.observer)
	if err := r.Start(m.ctx); err != nil {
		_ = r.Close()
		return "", nil, err
	}

	id := uuid.NewString()
	m.mu.Lock()
	m.sessions[id] = &entry{resolver: r, lastSeen: m.now()}
	n := len(m.sessions)
	m.mu.Unlock()

	m.observer.SessionsChanged(n)
	m.log.Debug("browser session created", sl.Op(op), slog.String("sid", id), slog.Bool("restored", accessToken != ""))
	return id, r, nil
}

// Remove закрывает резолвер сессии при выходе.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return
	}
	m.observer.SessionsChanged(n)
	m.closeResolver(id, e.resolver)
}

// Sweep закрывает сессии, простаивающие дольше idleTTL. Возвращает число закрытых.
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.idleTTL)

	m.mu.Lock()
	idle := make(map[string]*Resolver)
	for id, e := range m.sessions {
		if e.lastSeen.Before(cutoff) {
			idle[id] = e.resolver
			delete(m.sessions, id)
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()

	if len(idle) == 0 {
		return 0
	}
	m.observer.SessionsChanged(n)
	for id, r := range idle {
		m.closeResolver(id, r)
	}
	return len(idle)
}

// Run периодически вызывает Sweep, пока не отменён ctx.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	const op = "session.Manager.Run"
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.log.Info("idle browser sessions closed", sl.Op(op), slog.Int("count", n))
			}
		}
	}
}

// Len число живых сессий
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close закрывает все резолверы.
func (m *Manager) Close() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*entry)
	m.mu.Unlock()

	m.cancel()
	for id, e := range all {
		m.closeResolver(id, e.resolver)
	}
	m.observer.SessionsChanged(0)
}

func (m *Manager) closeResolver(id string, r *Resolver) {
	const op = "session.Manager.closeResolver"
	if err := r.Close(); err != nil {
		m.log.Warn("failed to close resolver", sl.Op(op), slog.String("sid", id), sl.Err(err))
	}
}
