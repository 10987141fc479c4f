// Package session maintains per-conversation state: append-only message
// history and the set of open task handles, across turns and concurrent
// remote calls.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ensembleai/ensemble/internal/dispatch"
	"github.com/ensembleai/ensemble/internal/metrics"
	"github.com/ensembleai/ensemble/internal/router"
)

// Dispatcher is the slice of the dispatch gateway the manager needs to
// open and cancel tasks.
type Dispatcher interface {
	Dispatch(ctx context.Context, decision router.Decision, sessionID string) (*dispatch.TaskHandle, error)
	Cancel(handle *dispatch.TaskHandle)
}

// Manager owns every live ConversationSession. Sessions are created on
// first use and destroyed on explicit end or idle timeout; ending a
// session cancels all of its open tasks.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	dispatcher  Dispatcher
	idleTimeout time.Duration
	metrics     *metrics.Collector
	logger      *logrus.Logger

	stopChan chan struct{}
	stopOnce sync.Once
}

// Option tweaks manager construction.
type Option func(*Manager)

// WithIdleTimeout sets the idle window after which a session is reaped.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.idleTimeout = d
		}
	}
}

// WithMetrics wires the Prometheus collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

func NewManager(dispatcher Dispatcher, logger *logrus.Logger, opts ...Option) *Manager {
	m := &Manager{
		sessions:    make(map[string]*Session),
		dispatcher:  dispatcher,
		idleTimeout: 30 * time.Minute,
		logger:      logger,
		stopChan:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartReaper launches the idle-session reaper. Stop terminates it.
func (m *Manager) StartReaper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.reapIdle()
			case <-m.stopChan:
				return
			}
		}
	}()
}

// Stop terminates the reaper.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
}

// Open returns the session with the given id, creating it on first use.
func (m *Manager) Open(sessionID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[sessionID]; ok {
		return s
	}
	s := newSession(sessionID)
	m.sessions[sessionID] = s
	m.metrics.SessionOpened()
	m.logger.Infof("[Session: %s] Created", sessionID)
	return s
}

// Append adds a message to a session's history. Messages are ordered by
// arrival and never reordered or mutated.
func (m *Manager) Append(sessionID string, msg Message) error {
	s, ok := m.lookup(sessionID)
	if !ok {
		return ErrExpired
	}
	return s.append(msg)
}

// History returns the session's messages in exact append order.
func (m *Manager) History(sessionID string) ([]Message, error) {
	s, ok := m.lookup(sessionID)
	if !ok {
		return nil, ErrExpired
	}
	return s.history(), nil
}

// OpenTask dispatches a routing decision and tracks the resulting handle
// in the session's open set. A session may hold several open handles at
// once; completions may interleave in any order.
func (m *Manager) OpenTask(ctx context.Context, sessionID string, decision router.Decision) (*dispatch.TaskHandle, error) {
	s, ok := m.lookup(sessionID)
	if !ok {
		return nil, ErrExpired
	}

	handle, err := m.dispatcher.Dispatch(ctx, decision, sessionID)
	if err != nil {
		return nil, err
	}

	if err := s.addTask(handle); err != nil {
		m.dispatcher.Cancel(handle)
		return nil, err
	}
	return handle, nil
}

// CloseTask removes a terminal handle from the session's open set.
// Closing a non-terminal handle is a contract violation.
func (m *Manager) CloseTask(sessionID, taskID string) error {
	s, ok := m.lookup(sessionID)
	if !ok {
		return ErrExpired
	}
	return s.removeTask(taskID)
}

// End terminates a session, cancelling every open task. Idempotent.
func (m *Manager) End(sessionID, reason string) {
	s, ok := m.lookup(sessionID)
	if !ok {
		return
	}
	if !s.markEnded() {
		return
	}

	for _, handle := range s.openTasks() {
		m.dispatcher.Cancel(handle)
	}

	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()

	m.metrics.SessionClosed()
	m.logger.Infof("[Session: %s] Ended (%s)", sessionID, reason)
}

func (m *Manager) lookup(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

func (m *Manager) reapIdle() {
	cutoff := time.Now().Add(-m.idleTimeout)

	m.mu.RLock()
	var idle []string
	for id, s := range m.sessions {
		if s.idleSince().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range idle {
		m.End(id, "idle timeout")
	}
}
