package widget

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jkindrix/estimatebot/internal/clock"
	"github.com/jkindrix/estimatebot/internal/domain"
)

var (
	// ErrSessionNotFound is returned for unknown or expired sessions.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTooManySessions is returned when the store is full.
	ErrTooManySessions = errors.New("too many active sessions")
)

// StoreConfig holds configuration for the session store.
type StoreConfig struct {
	// TTL is how long an untouched session lives.
	TTL time.Duration
	// SweepInterval is how often the janitor evicts idle sessions.
	SweepInterval time.Duration
	// MaxSessions caps live sessions; zero means no limit.
	MaxSessions int
}

// DefaultStoreConfig returns sensible defaults.
func DefaultStoreConfig() *StoreConfig {
	return &StoreConfig{
		TTL:           30 * time.Minute,
		SweepInterval: time.Minute,
		MaxSessions:   10000,
	}
}

// Store keeps live sessions in memory.
type Store struct {
	deps   SessionDeps
	config StoreConfig

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	logger  *zap.Logger
}

// NewStore creates a session store. deps are handed to every new session.
func NewStore(deps SessionDeps, cfg *StoreConfig) *Store {
	if cfg == nil {
		cfg = DefaultStoreConfig()
	}
	c := *cfg
	def := DefaultStoreConfig()
	if c.TTL <= 0 {
		c.TTL = def.TTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Store{
		deps:     deps,
		config:   c,
		sessions: make(map[uuid.UUID]*Session),
		stopCh:   make(chan struct{}),
		logger:   deps.Logger.Named("sessions"),
	}
}

// Open creates a session for the widget and moves it to IDLE.
func (st *Store) Open(widgetID uuid.UUID, cfg domain.BusinessConfig) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.config.MaxSessions > 0 && len(st.sessions) >= st.config.MaxSessions {
		return nil, ErrTooManySessions
	}

	s := NewSession(widgetID, cfg, st.deps)
	if _, err := s.Fire(EventOpen); err != nil {
		return nil, err
	}
	st.sessions[s.ID()] = s
	st.deps.Metrics.SetActiveSessions(len(st.sessions))
	return s, nil
}

// Get returns a live session. A session idle past the TTL is treated as
// gone even before the janitor removes it.
func (st *Store) Get(id uuid.UUID) (*Session, error) {
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok || st.expired(s, st.deps.Clock.Now()) {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Remove closes and forgets a session.
func (st *Store) Remove(id uuid.UUID) bool {
	st.mu.Lock()
	s, ok := st.sessions[id]
	if ok {
		delete(st.sessions, id)
		st.deps.Metrics.SetActiveSessions(len(st.sessions))
	}
	st.mu.Unlock()
	if ok {
		s.close()
	}
	return ok
}

// Len returns the number of sessions held, including expired ones not yet swept.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Sweep removes sessions idle past the TTL and returns how many it removed.
func (st *Store) Sweep() int {
	now := st.deps.Clock.Now()

	st.mu.Lock()
	var stale []*Session
	for id, s := range st.sessions {
		if st.expired(s, now) {
			stale = append(stale, s)
			delete(st.sessions, id)
		}
	}
	st.deps.Metrics.SetActiveSessions(len(st.sessions))
	st.mu.Unlock()

	for _, s := range stale {
		s.close()
	}
	if len(stale) > 0 {
		st.logger.Debug("evicted idle sessions", zap.Int("count", len(stale)))
	}
	return len(stale)
}

func (st *Store) expired(s *Session, now time.Time) bool {
	return now.Sub(s.LastActive()) > st.config.TTL
}

// Start runs the janitor until Stop is called.
func (st *Store) Start() error {
	st.mu.Lock()
	if st.running {
		st.mu.Unlock()
		return errors.New("session store already running")
	}
	st.running = true
	st.mu.Unlock()

	st.logger.Info("starting session janitor",
		zap.Duration("ttl", st.config.TTL),
		zap.Duration("sweep_interval", st.config.SweepInterval),
	)

	st.wg.Add(1)
	go st.janitor()
	return nil
}

func (st *Store) janitor() {
	defer st.wg.Done()
	ticker := time.NewTicker(st.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-st.stopCh:
			return
		case <-ticker.C:
			st.Sweep()
		}
	}
}

// Stop halts the janitor and closes every session.
func (st *Store) Stop(ctx context.Context) error {
	st.mu.Lock()
	if !st.running {
		st.mu.Unlock()
		return nil
	}
	st.running = false
	st.mu.Unlock()

	close(st.stopCh)
	done := make(chan struct{})
	go func() {
		st.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		st.logger.Warn("session janitor stop timed out")
		return ctx.Err()
	}

	st.mu.Lock()
	sessions := st.sessions
	st.sessions = make(map[uuid.UUID]*Session)
	st.deps.Metrics.SetActiveSessions(0)
	st.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
	st.logger.Info("session store stopped", zap.Int("closed", len(sessions)))
	return nil
}
