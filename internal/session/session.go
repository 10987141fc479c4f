package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ensembleai/ensemble/internal/dispatch"
)

// Session state violations are programming-contract errors, reported to
// the caller and never silently ignored.
var (
	// ErrInvalidState is returned when closing a task that is not terminal.
	ErrInvalidState = errors.New("task handle is not terminal")
	// ErrExpired is returned for operations on an ended or unknown session.
	ErrExpired = errors.New("session has ended")
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// Message is one entry in a session's append-only history.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	// Agent names the originating remote agent for agent messages.
	Agent string `json:"agent,omitempty"`
}

// NewMessage stamps a message with an id and the current time.
func NewMessage(role Role, content, agent string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
		Agent:     agent,
	}
}

// Session is one end-user conversation's accumulated state. All access
// serializes through the session mutex so interleaved task completions
// preserve message-append order.
type Session struct {
	ID string

	mu           sync.Mutex
	messages     []Message
	open         map[string]*dispatch.TaskHandle
	createdAt    time.Time
	lastActivity time.Time
	ended        bool
}

func newSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		open:         make(map[string]*dispatch.TaskHandle),
		createdAt:    now,
		lastActivity: now,
	}
}

func (s *Session) append(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return ErrExpired
	}
	s.messages = append(s.messages, msg)
	s.lastActivity = time.Now()
	return nil
}

func (s *Session) history() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Session) addTask(handle *dispatch.TaskHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return ErrExpired
	}
	s.open[handle.ID] = handle
	s.lastActivity = time.Now()
	return nil
}

func (s *Session) removeTask(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	handle, ok := s.open[taskID]
	if !ok {
		return nil
	}
	if !handle.Status().Terminal() {
		return ErrInvalidState
	}
	delete(s.open, taskID)
	return nil
}

// openTasks snapshots the open handles, e.g. for cancellation on end.
func (s *Session) openTasks() []*dispatch.TaskHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*dispatch.TaskHandle, 0, len(s.open))
	for _, h := range s.open {
		out = append(out, h)
	}
	return out
}

func (s *Session) markEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.ended = true
	return true
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}
