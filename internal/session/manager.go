package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/star/orbitviz/internal/metrics"
	"github.com/star/orbitviz/internal/propagation"
	"github.com/star/orbitviz/internal/scene"
	"github.com/star/orbitviz/internal/tle"
)

// Config holds session manager settings.
type Config struct {
	IdleTimeout   time.Duration    // sessions unused this long are closed (default: 30m)
	FrameInterval time.Duration    // animation tick (default: 1/60 s)
	Clock         func() time.Time // propagation start times (default: time.Now)
}

// DefaultConfig returns the default manager settings.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:   30 * time.Minute,
		FrameInterval: scene.DefaultFrameInterval,
	}
}

type entry struct {
	session  *Session
	lastSeen time.Time
}

// Manager creates sessions keyed by a random UUID and reaps idle ones.
type Manager struct {
	store  *tle.Store
	prop   *propagation.Propagator
	config Config
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewManager creates a Manager. Sessions read the dataset held by store at
// the time they are created.
func NewManager(store *tle.Store, prop *propagation.Propagator, config Config, logger *slog.Logger) *Manager {
	def := DefaultConfig()
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = def.IdleTimeout
	}
	if config.FrameInterval <= 0 {
		config.FrameInterval = def.FrameInterval
	}
	return &Manager{
		store:    store,
		prop:     prop,
		config:   config,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
}

// Get returns the session with id and marks it used.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = m.now()
	return e.session, true
}

// Create starts a new session over the current dataset.
func (m *Manager) Create() (*Session, error) {
	ds := m.store.Get()
	if ds == nil {
		return nil, ErrNoDataset
	}

	id := uuid.NewString()
	s := New(id, ds, m.prop, scene.NewAnimator(m.config.FrameInterval, m.logger.With("session_id", id)), m.logger)
	if m.config.Clock != nil {
		s.now = m.config.Clock
	}

	m.mu.Lock()
	m.sessions[id] = &entry{session: s, lastSeen: m.now()}
	n := len(m.sessions)
	m.mu.Unlock()

	metrics.SetSessionsActive(n)
	m.logger.Info("session created", "session_id", id, "sessions", n)
	return s, nil
}

// GetOrCreate returns the session for id, creating a new one when id is
// empty, malformed or unknown. created reports whether a new id was issued.
func (m *Manager) GetOrCreate(id string) (s *Session, created bool, err error) {
	if _, perr := uuid.Parse(id); perr == nil {
		if s, ok := m.Get(id); ok {
			return s, false, nil
		}
	}
	s, err = m.Create()
	return s, err == nil, err
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Reap closes sessions idle longer than the configured timeout and returns
// how many were removed.
func (m *Manager) Reap() int {
	cutoff := m.now().Add(-m.config.IdleTimeout)

	m.mu.Lock()
	var idle []*Session
	for id, e := range m.sessions {
		if e.lastSeen.Before(cutoff) {
			idle = append(idle, e.session)
			delete(m.sessions, id)
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()

	// Stop animators outside the lock; Stop waits for the loop to exit.
	for _, s := range idle {
		s.Close()
	}
	if len(idle) > 0 {
		metrics.SetSessionsActive(n)
		m.logger.Info("reaped idle sessions", "reaped", len(idle), "sessions", n)
	}
	return len(idle)
}

// Run reaps idle sessions periodically until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	interval := m.config.IdleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Reap()
		}
	}
}

// Close stops every session's animator and forgets all sessions.
func (m *Manager) Close() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*entry)
	m.mu.Unlock()

	for _, e := range all {
		e.session.Close()
	}
	metrics.SetSessionsActive(0)
	m.logger.Info("sessions closed", "count", len(all))
}
