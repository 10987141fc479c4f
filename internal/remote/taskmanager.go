package remote

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ensembleai/ensemble/internal/a2a"
)

// TaskManager tracks the lifecycle of tasks accepted by a remote agent
// server and lets tasks/cancel abort an in-flight execution.
type TaskManager struct {
	mu      sync.RWMutex
	tasks   map[string]*a2a.Task
	cancels map[string]context.CancelFunc
	logger  *logrus.Logger
}

func NewTaskManager(logger *logrus.Logger) *TaskManager {
	if logger == nil {
		logger = logrus.New()
	}
	return &TaskManager{
		tasks:   make(map[string]*a2a.Task),
		cancels: make(map[string]context.CancelFunc),
		logger:  logger,
	}
}

// Create registers a new task in submitted state from the incoming
// message and remembers the cancel func of its execution context.
func (tm *TaskManager) Create(msg a2a.Message, cancel context.CancelFunc) *a2a.Task {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	taskID := uuid.New().String()
	contextID := msg.ContextID
	if contextID == "" {
		contextID = uuid.New().String()
	}
	msg.TaskID = taskID
	msg.ContextID = contextID

	task := &a2a.Task{
		ID:        taskID,
		ContextID: contextID,
		Status: a2a.TaskStatus{
			State:     a2a.StateSubmitted,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
		History: []a2a.Message{msg},
		Kind:    "task",
	}

	tm.tasks[taskID] = task
	tm.cancels[taskID] = cancel
	tm.logger.Infof("[TaskID: %s] Task created in 'submitted' state", taskID)

	return task
}

// Get retrieves a task by ID.
func (tm *TaskManager) Get(id string) (*a2a.Task, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	task, exists := tm.tasks[id]
	return task, exists
}

// UpdateStatus moves a task to a new state, recording the agent message
// when one accompanies the transition.
func (tm *TaskManager) UpdateStatus(id, state string, agentMessage *a2a.Message) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	task, exists := tm.tasks[id]
	if !exists {
		tm.logger.Warnf("[TaskID: %s] Attempted to update non-existent task", id)
		return
	}

	oldState := task.Status.State
	if terminalState(oldState) {
		// Terminal states are sticky; a late completion must not undo a cancel.
		return
	}

	task.Status.State = state
	task.Status.Timestamp = time.Now().UTC().Format(time.RFC3339)
	if agentMessage != nil {
		task.Status.Message = agentMessage
		task.History = append(task.History, *agentMessage)
	}
	if terminalState(state) {
		delete(tm.cancels, id)
	}

	tm.logger.Infof("[TaskID: %s] Status updated from '%s' to '%s'", id, oldState, state)
}

// AddArtifact appends a named output to a task.
func (tm *TaskManager) AddArtifact(id string, artifact a2a.Artifact) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	task, exists := tm.tasks[id]
	if !exists {
		tm.logger.Warnf("[TaskID: %s] Attempted to add artifact to non-existent task", id)
		return
	}
	task.Artifacts = append(task.Artifacts, artifact)
	tm.logger.Debugf("[TaskID: %s] Artifact '%s' added", id, artifact.Name)
}

// Cancel moves a task to canceled and aborts its execution context. It
// returns CodeTaskNotFound for unknown ids and CodeNotCancelable for
// tasks already terminal.
func (tm *TaskManager) Cancel(id string) (*a2a.Task, *a2a.RPCError) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	task, exists := tm.tasks[id]
	if !exists {
		return nil, &a2a.RPCError{Code: a2a.CodeTaskNotFound, Message: "Task not found"}
	}
	if terminalState(task.Status.State) {
		tm.logger.Warnf("[TaskID: %s] Attempted to cancel task in state '%s'", id, task.Status.State)
		return nil, &a2a.RPCError{Code: a2a.CodeNotCancelable, Message: "Task cannot be canceled"}
	}

	oldState := task.Status.State
	task.Status.State = a2a.StateCanceled
	task.Status.Timestamp = time.Now().UTC().Format(time.RFC3339)

	if cancel, ok := tm.cancels[id]; ok {
		cancel()
		delete(tm.cancels, id)
	}

	tm.logger.Infof("[TaskID: %s] Status updated from '%s' to 'canceled'", id, oldState)
	return task, nil
}

// Cleanup removes terminal tasks older than the given duration.
func (tm *TaskManager) Cleanup(olderThan time.Duration) int {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	cleaned := 0
	for id, task := range tm.tasks {
		if !terminalState(task.Status.State) {
			continue
		}
		if ts, err := time.Parse(time.RFC3339, task.Status.Timestamp); err == nil && ts.Before(cutoff) {
			delete(tm.tasks, id)
			cleaned++
		}
	}

	if cleaned > 0 {
		tm.logger.Infof("Cleaned up %d finished tasks older than %v", cleaned, olderThan)
	}
	return cleaned
}

func terminalState(state string) bool {
	switch state {
	case a2a.StateCompleted, a2a.StateFailed, a2a.StateCanceled:
		return true
	}
	return false
}
