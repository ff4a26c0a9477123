package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"intent-engine/internal/common/logger"
	"intent-engine/internal/common/metrics"
	"intent-engine/internal/models"
)

const (
	DefaultDepth       = 3
	DefaultTimeout     = 60 * time.Second
	DefaultDialogLimit = 100
)

// ErrStoreFailed wraps every failure of the backing Store.
var ErrStoreFailed = errors.New("SESSION_STORE_FAILED")

type Config struct {
	// Depth is how many turns an entity is remembered for.
	Depth int
	// Timeout resets a session idle for longer than this. Zero disables it.
	Timeout     time.Duration
	DialogLimit int
}

func (c Config) withDefaults() Config {
	if c.Depth <= 0 {
		c.Depth = DefaultDepth
	}
	if c.DialogLimit <= 0 {
		c.DialogLimit = DefaultDialogLimit
	}
	return c
}

// Manager serializes access to each session: one writer per session, any
// number of sessions in parallel.
type Manager struct {
	store  Store
	config Config
	logger logger.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	sem  chan struct{}
	refs int
}

func NewManager(store Store, config Config, log logger.Logger) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Manager{
		store:  store,
		config: config.withDefaults(),
		logger: log.WithFields(map[string]interface{}{"component": "conversation"}),
		now:    time.Now,
		locks:  make(map[string]*sessionLock),
	}
}

// Depth is the configured turn depth.
func (m *Manager) Depth() int { return m.config.Depth }

// DialogLimit is the configured dialog flow length.
func (m *Manager) DialogLimit() int { return m.config.DialogLimit }

// Now is the manager clock.
func (m *Manager) Now() time.Time { return m.now() }

// SetClock replaces the clock; tests only.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

func (m *Manager) acquire(ctx context.Context, sessionID string) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sessionLock{sem: make(chan struct{}, 1)}
		m.locks[sessionID] = l
	}
	l.refs++
	m.mu.Unlock()

	release := func() {
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, sessionID)
		}
		m.mu.Unlock()
	}

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		release()
		return nil, ctx.Err()
	}

	locker, ok := m.store.(Locker)
	if !ok {
		return func() {
			<-l.sem
			release()
		}, nil
	}

	unlockStore, err := locker.Lock(ctx, sessionID)
	if err != nil {
		<-l.sem
		release()
		return nil, fmt.Errorf("%w: lock session %s: %w", ErrStoreFailed, sessionID, err)
	}
	return func() {
		if err := unlockStore(context.Background()); err != nil {
			m.logger.Warn("Failed to release session lock", map[string]interface{}{
				"sessionId": sessionID,
				"error":     err.Error(),
			})
		}
		<-l.sem
		release()
	}, nil
}

// syncGauge reports the session count of stores that can count them.
// Shared stores leave the gauge alone since no single process sees them all.
func (m *Manager) syncGauge() {
	if c, ok := m.store.(interface{ Len() int }); ok {
		metrics.ConversationSessionsActive.Set(float64(c.Len()))
	}
}

// WithSession runs fn with exclusive access to the session state and saves
// the state when fn succeeds. Unknown sessions start EMPTY; idle sessions are
// reset before fn sees them. A session that stays EMPTY is not written.
func (m *Manager) WithSession(ctx context.Context, sessionID string, fn func(*State) error) error {
	unlock, err := m.acquire(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()

	state, err := m.load(ctx, sessionID)
	if err != nil {
		return err
	}
	before := state.Status()

	if err := fn(state); err != nil {
		return err
	}
	if before == StatusEmpty && state.Status() == StatusEmpty {
		return nil
	}

	if err := m.store.Save(ctx, state); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}
	m.syncGauge()
	return nil
}

func (m *Manager) load(ctx context.Context, sessionID string) (*State, error) {
	state, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}
	if state == nil {
		return newState(sessionID), nil
	}

	if m.config.Timeout > 0 && state.Status() == StatusActive && m.now().Sub(state.UpdatedAt) > m.config.Timeout {
		m.logger.Debug("Conversation idle timeout, resetting", map[string]interface{}{
			"sessionId": sessionID,
			"idleFor":   m.now().Sub(state.UpdatedAt).String(),
		})
		if err := m.store.Delete(ctx, sessionID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreFailed, err)
		}
		state.reset()
		m.syncGauge()
	}
	return state, nil
}

// Clear resets the session to EMPTY. It is idempotent.
func (m *Manager) Clear(ctx context.Context, sessionID string) error {
	unlock, err := m.acquire(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := m.store.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}
	m.syncGauge()

	m.logger.Info("Conversation cleared", map[string]interface{}{"sessionId": sessionID})
	return nil
}

// ClearEntities forgets remembered entities matching filter.
func (m *Manager) ClearEntities(ctx context.Context, sessionID string, filter func(models.Entity) bool) (int, error) {
	removed := 0
	err := m.WithSession(ctx, sessionID, func(s *State) error {
		removed = s.RemoveEntities(filter)
		return nil
	})
	return removed, err
}

// ClearDialog forgets dialog flow items matching filter.
func (m *Manager) ClearDialog(ctx context.Context, sessionID string, filter func(DialogItem) bool) (int, error) {
	removed := 0
	err := m.WithSession(ctx, sessionID, func(s *State) error {
		removed = s.RemoveDialog(filter)
		return nil
	})
	return removed, err
}

// DialogFlow returns the resolved intents of the session, oldest first.
func (m *Manager) DialogFlow(ctx context.Context, sessionID string) ([]DialogItem, error) {
	var out []DialogItem
	err := m.view(ctx, sessionID, func(s *State) {
		out = append([]DialogItem(nil), s.Dialog...)
	})
	return out, err
}

// Entities returns the remembered entities, most recent first.
func (m *Manager) Entities(ctx context.Context, sessionID string) ([]models.Entity, error) {
	var out []models.Entity
	err := m.view(ctx, sessionID, func(s *State) {
		out = s.Entities()
	})
	return out, err
}

// Status reports whether the session holds state.
func (m *Manager) Status(ctx context.Context, sessionID string) (Status, error) {
	status := StatusEmpty
	err := m.view(ctx, sessionID, func(s *State) {
		status = s.Status()
	})
	return status, err
}

func (m *Manager) view(ctx context.Context, sessionID string, fn func(*State)) error {
	unlock, err := m.acquire(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()

	state, err := m.load(ctx, sessionID)
	if err != nil {
		return err
	}
	fn(state)
	return nil
}
