// Package host wires the registry, router, session manager and dispatch
// gateway into the orchestration loop: user input in, routed remote
// calls out, response fragments streamed back.
package host

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ensembleai/ensemble/internal/bus"
	"github.com/ensembleai/ensemble/internal/dispatch"
	"github.com/ensembleai/ensemble/internal/registry"
	"github.com/ensembleai/ensemble/internal/router"
	"github.com/ensembleai/ensemble/internal/session"
)

// Fragment is one piece of the host's streamed response to an utterance.
type Fragment struct {
	SessionID string `json:"sessionId"`
	TaskID    string `json:"taskId,omitempty"`
	Agent     string `json:"agent,omitempty"`
	Content   string `json:"content,omitempty"`
	Terminal  bool   `json:"final"`
	// Status is the terminal task status accompanying the last fragment
	// of each task.
	Status dispatch.Status `json:"status,omitempty"`
	// Error carries the typed failure for failed tasks, detailed enough
	// to tell "agent unreachable" from "agent timed out".
	Error string `json:"error,omitempty"`
}

// Host is the orchestrating process core.
type Host struct {
	registry *registry.Registry
	router   *router.Router
	sessions *session.Manager
	events   *bus.EventBus
	logger   *logrus.Logger

	// historyWindow bounds how many prior turns inform intent extraction.
	historyWindow int
}

func New(reg *registry.Registry, rt *router.Router, sessions *session.Manager, events *bus.EventBus, logger *logrus.Logger) *Host {
	return &Host{
		registry:      reg,
		router:        rt,
		sessions:      sessions,
		events:        events,
		logger:        logger,
		historyWindow: 10,
	}
}

// HandleUtterance appends the utterance to the session, routes it and
// dispatches the resulting decisions sequentially, streaming fragments
// back on the returned channel. Routing failures are returned directly
// so the caller can surface a typed "no capable agent" response.
func (h *Host) HandleUtterance(ctx context.Context, sessionID, text string) (<-chan Fragment, error) {
	sess := h.sessions.Open(sessionID)

	if err := h.sessions.Append(sessionID, session.NewMessage(session.RoleUser, text, "")); err != nil {
		return nil, err
	}

	candidates := h.registry.ListReachable()
	decisions, err := h.router.Route(ctx, text, h.recentTurns(sessionID), candidates)
	if err != nil {
		h.logger.Infof("[Session: %s] Routing failed: %v", sess.ID, err)
		h.events.PublishHostLog("info", fmt.Sprintf("routing failed for session %s: %v", sessionID, err))
		return nil, err
	}

	out := make(chan Fragment, 16)
	go h.execute(ctx, sessionID, decisions, out)
	return out, nil
}

// CancelSession ends a session, cancelling every open task in it.
func (h *Host) CancelSession(sessionID string) {
	h.sessions.End(sessionID, "cancelled by caller")
	h.events.PublishSessionEnded(sessionID, "cancelled")
}

// execute runs routing decisions in order, feeding each step's result
// into the next step's payload.
func (h *Host) execute(ctx context.Context, sessionID string, decisions []router.Decision, out chan<- Fragment) {
	defer close(out)

	var previousResult string
	for i, decision := range decisions {
		if i > 0 && previousResult != "" {
			decision.Payload = fmt.Sprintf("%s\n\nResult of the previous step:\n%s", decision.Payload, previousResult)
		}

		result, ok := h.runDecision(ctx, sessionID, decision, out)
		if !ok {
			return
		}
		previousResult = result
	}
}

// runDecision dispatches one decision and forwards its chunks. It
// returns the task's concatenated result and whether to continue with
// the remaining decisions.
func (h *Host) runDecision(ctx context.Context, sessionID string, decision router.Decision, out chan<- Fragment) (string, bool) {
	handle, err := h.sessions.OpenTask(ctx, sessionID, decision)
	if err != nil {
		h.logger.Warnf("[Session: %s] Dispatch to %s failed: %v", sessionID, decision.AgentName, err)
		h.events.PublishHostLog("warn", fmt.Sprintf("dispatch to %s failed: %v", decision.AgentName, err))
		h.emit(out, Fragment{
			SessionID: sessionID,
			Agent:     decision.AgentName,
			Terminal:  true,
			Status:    dispatch.StatusFailed,
			Error:     err.Error(),
		})
		return "", false
	}

	for chunk := range handle.Chunks() {
		fragment := Fragment{
			SessionID: sessionID,
			TaskID:    handle.ID,
			Agent:     decision.AgentName,
			Content:   chunk.Content,
		}
		h.emit(out, fragment)
		h.events.PublishFragment(sessionID, handle.ID, decision.AgentName, chunk.Content, false)
	}

	status := handle.Status()
	result := handle.Result()

	if status == dispatch.StatusCompleted && result != "" {
		if err := h.sessions.Append(sessionID, session.NewMessage(session.RoleAgent, result, decision.AgentName)); err != nil {
			h.logger.Warnf("[Session: %s] History append failed: %v", sessionID, err)
		}
	}

	terminal := Fragment{
		SessionID: sessionID,
		TaskID:    handle.ID,
		Agent:     decision.AgentName,
		Terminal:  true,
		Status:    status,
	}
	if failure := handle.Failure(); failure != nil {
		terminal.Error = failure.Error()
	}
	h.emit(out, terminal)
	h.events.PublishTaskStatus(sessionID, handle.ID, decision.AgentName, string(status))

	if err := h.sessions.CloseTask(sessionID, handle.ID); err != nil {
		h.logger.Warnf("[Session: %s] Close task %s: %v", sessionID, handle.ID, err)
	}

	return result, status == dispatch.StatusCompleted
}

func (h *Host) emit(out chan<- Fragment, f Fragment) {
	out <- f
}

// recentTurns returns the content of the last few messages for intent
// context.
func (h *Host) recentTurns(sessionID string) []string {
	history, err := h.sessions.History(sessionID)
	if err != nil {
		return nil
	}
	start := 0
	if len(history) > h.historyWindow {
		start = len(history) - h.historyWindow
	}
	var out []string
	for _, msg := range history[start:] {
		out = append(out, fmt.Sprintf("%s: %s", msg.Role, msg.Content))
	}
	return out
}
