package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var ErrClosed = errors.New("session manager is closed")

// Manager hands out one Engine per shopper id, building it on first use and closing
// it once it has been idle for longer than the idle timeout.
type Manager struct {
	cfg         Config
	deps        Deps
	idleTimeout time.Duration
	log         zerolog.Logger

	sfg     singleflight.Group
	mu      sync.Mutex
	engines map[string]*Engine
	closed  bool
}

func NewManager(cfg Config, deps Deps, idleTimeout time.Duration) *Manager {
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Minute
	}
	return &Manager{
		cfg:         cfg,
		deps:        deps,
		idleTimeout: idleTimeout,
		log:         deps.Log.With().Str("component", "sessions").Logger(),
		engines:     make(map[string]*Engine),
	}
}

// Get returns the engine for shopperID, restoring it from its slot when it is not
// live. Concurrent first calls for one shopper build a single engine.
func (m *Manager) Get(ctx context.Context, shopperID string) (*Engine, error) {
	if e, ok, err := m.lookup(shopperID); ok || err != nil {
		return e, err
	}

	v, err, _ := m.sfg.Do(shopperID, func() (interface{}, error) {
		if e, ok, err := m.lookup(shopperID); ok || err != nil {
			return e, err
		}

		e, err := NewEngine(ctx, shopperID, m.cfg, m.deps)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			e.Close()
			return nil, ErrClosed
		}
		m.engines[shopperID] = e
		m.deps.Metrics.ActiveSessions.Inc()
		m.mu.Unlock()

		m.log.Debug().Str("shopper_id", shopperID).Int("lines", e.Store.Len()).Msg("session started")
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Engine), nil
}

func (m *Manager) lookup(shopperID string) (*Engine, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	e, ok := m.engines[shopperID]
	if ok {
		e.Touch()
	}
	return e, ok, nil
}

// Len returns the number of live engines.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.engines)
}

// Sweep closes engines idle for longer than the idle timeout. Engines in the middle
// of a checkout are left alone.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	var idle []*Engine
	for id, e := range m.engines {
		if e.IdleFor(now) < m.idleTimeout || e.Busy() {
			continue
		}
		delete(m.engines, id)
		idle = append(idle, e)
	}
	m.mu.Unlock()

	for _, e := range idle {
		e.Close()
		m.deps.Metrics.ActiveSessions.Dec()
	}
	if len(idle) > 0 {
		m.log.Info().Int("closed", len(idle)).Msg("swept idle sessions")
	}
	return len(idle)
}

// Run sweeps on every tick of interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(m.now())
		}
	}
}

// ClearShopper empties the shopper's cart after a checkout recorded elsewhere. A
// checkout this instance confirmed itself was already cleared and is skipped.
func (m *Manager) ClearShopper(ctx context.Context, shopperID, sessionID string) error {
	m.mu.Lock()
	e, live := m.engines[shopperID]
	m.mu.Unlock()

	if live {
		if !e.Checkout.Confirmed(sessionID) {
			e.Store.Clear()
		}
		return nil
	}

	if err := m.deps.Repo.Delete(ctx, repository.SlotKey(shopperID)); err != nil {
		return fmt.Errorf("clear slot for %s: %w", shopperID, err)
	}
	return nil
}

// Close closes every engine and refuses further Get calls.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	engines := m.engines
	m.engines = make(map[string]*Engine)
	m.mu.Unlock()

	for _, e := range engines {
		e.Close()
		m.deps.Metrics.ActiveSessions.Dec()
	}
}

func (m *Manager) now() time.Time {
	if m.deps.Clock != nil {
		return m.deps.Clock.Now()
	}
	return time.Now()
}
