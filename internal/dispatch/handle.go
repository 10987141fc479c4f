package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a dispatched task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusStreaming Status = "streaming"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final. Terminal states are
// sticky: no transition ever leaves them.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// FailureKind classifies why a task failed.
type FailureKind string

const (
	FailUnreachable   FailureKind = "unreachable"
	FailTimeout       FailureKind = "timeout"
	FailProtocolError FailureKind = "protocol_error"
	FailCancelled     FailureKind = "cancelled"
)

// DispatchError is the typed failure surfaced to callers.
type DispatchError struct {
	Kind  FailureKind
	Agent string
	Err   error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to %s failed (%s): %v", e.Agent, e.Kind, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// ResultChunk is one fragment of a task's result, delivered in arrival order.
type ResultChunk struct {
	Seq      int
	Content  string
	Terminal bool
}

// TaskHandle tracks one dispatched task. It is created in pending state,
// mutated as chunks arrive and terminal once completed, failed or
// cancelled. The chunk channel is finite and not restartable.
type TaskHandle struct {
	ID        string
	AgentName string
	Address   string

	mu           sync.Mutex
	status       Status
	failure      *DispatchError
	buffer       []ResultChunk
	remoteTaskID string

	chunks    chan ResultChunk
	done      chan struct{}
	cancelRun context.CancelFunc
}

func newTaskHandle(agentName, address string) *TaskHandle {
	return &TaskHandle{
		ID:        uuid.New().String(),
		AgentName: agentName,
		Address:   address,
		status:    StatusPending,
		chunks:    make(chan ResultChunk, 16),
		done:      make(chan struct{}),
	}
}

// Status returns the current lifecycle state.
func (h *TaskHandle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Failure returns the typed error for a failed or cancelled handle.
func (h *TaskHandle) Failure() *DispatchError {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failure
}

// Chunks yields the task's result fragments in arrival order. The channel
// is closed once the handle reaches a terminal state.
func (h *TaskHandle) Chunks() <-chan ResultChunk {
	return h.chunks
}

// Done is closed when the handle reaches a terminal state.
func (h *TaskHandle) Done() <-chan struct{} {
	return h.done
}

// Partial returns a copy of the buffered chunks received so far.
func (h *TaskHandle) Partial() []ResultChunk {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ResultChunk, len(h.buffer))
	copy(out, h.buffer)
	return out
}

// Result concatenates the buffered chunk contents.
func (h *TaskHandle) Result() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out string
	for _, c := range h.buffer {
		out += c.Content
	}
	return out
}

func (h *TaskHandle) remoteID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.remoteTaskID
}

// markStreaming records the first acknowledgement from the remote agent.
func (h *TaskHandle) markStreaming(remoteTaskID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status.Terminal() {
		return
	}
	h.remoteTaskID = remoteTaskID
	h.status = StatusStreaming
}

// deliver buffers a chunk and forwards it to the channel. Delivery gives
// up once the handle is terminal so a concurrent cancel never blocks it.
func (h *TaskHandle) deliver(chunk ResultChunk) {
	h.mu.Lock()
	if h.status.Terminal() {
		h.mu.Unlock()
		return
	}
	h.buffer = append(h.buffer, chunk)
	h.mu.Unlock()

	select {
	case h.chunks <- chunk:
	case <-h.done:
	}
}

// complete transitions to completed; a no-op once terminal.
func (h *TaskHandle) complete() {
	h.finish(StatusCompleted, nil)
}

// fail transitions to failed with a typed error; a no-op once terminal.
func (h *TaskHandle) fail(err *DispatchError) {
	h.finish(StatusFailed, err)
}

// cancelLocal transitions to cancelled and reports whether this call won.
func (h *TaskHandle) cancelLocal() bool {
	return h.finish(StatusCancelled, &DispatchError{
		Kind:  FailCancelled,
		Agent: h.AgentName,
		Err:   context.Canceled,
	})
}

func (h *TaskHandle) finish(status Status, err *DispatchError) bool {
	h.mu.Lock()
	if h.status.Terminal() {
		h.mu.Unlock()
		return false
	}
	h.status = status
	h.failure = err
	cancel := h.cancelRun
	h.mu.Unlock()

	close(h.done)
	if cancel != nil {
		cancel()
	}
	return true
}

// closeChunks is called exactly once by the goroutine that owns delivery,
// after the handle is terminal.
func (h *TaskHandle) closeChunks() {
	close(h.chunks)
}

func (h *TaskHandle) setCancelRun(cancel context.CancelFunc) {
	h.mu.Lock()
	h.cancelRun = cancel
	h.mu.Unlock()
}
