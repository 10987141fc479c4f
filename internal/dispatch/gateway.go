// Package dispatch performs the network call to a chosen remote agent and
// streams partial results back to the caller under a per-task deadline,
// retry policy and explicit cancellation.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sirupsen/logrus"

	"github.com/ensembleai/ensemble/internal/a2a"
	"github.com/ensembleai/ensemble/internal/metrics"
	"github.com/ensembleai/ensemble/internal/registry"
	"github.com/ensembleai/ensemble/internal/router"
)

// AgentClient is the slice of the protocol client the gateway needs.
type AgentClient interface {
	Send(ctx context.Context, base string, params a2a.SendParams) (*a2a.Task, error)
	Stream(ctx context.Context, base string, params a2a.SendParams) (<-chan a2a.StreamChunk, <-chan error)
	Cancel(ctx context.Context, base, taskID string) error
}

// Resolver checks the registry's view of a target at dispatch time.
type Resolver interface {
	Lookup(name string) (registry.Entry, bool)
}

// Gateway dispatches routing decisions to remote agents.
type Gateway struct {
	client       AgentClient
	resolver     Resolver
	taskTimeout  time.Duration
	retryBackoff time.Duration
	metrics      *metrics.Collector
	logger       *logrus.Logger
}

// Option tweaks gateway construction.
type Option func(*Gateway)

// WithTaskTimeout sets the per-task deadline.
func WithTaskTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.taskTimeout = d
		}
	}
}

// WithRetryBackoff sets the delay before the single transient retry.
func WithRetryBackoff(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.retryBackoff = d
		}
	}
}

// WithMetrics wires the Prometheus collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(g *Gateway) { g.metrics = m }
}

func New(client AgentClient, resolver Resolver, logger *logrus.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		client:       client,
		resolver:     resolver,
		taskTimeout:  5 * time.Minute,
		retryBackoff: 500 * time.Millisecond,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Dispatch creates a TaskHandle in pending state and issues the call in
// the background. It fails fast when the registry does not consider the
// target reachable at dispatch time.
func (g *Gateway) Dispatch(ctx context.Context, decision router.Decision, sessionID string) (*TaskHandle, error) {
	entry, ok := g.resolver.Lookup(decision.AgentName)
	if !ok {
		return nil, &DispatchError{Kind: FailUnreachable, Agent: decision.AgentName, Err: registry.ErrUnknownAgent}
	}
	if entry.Health != registry.HealthReachable {
		return nil, &DispatchError{
			Kind:  FailUnreachable,
			Agent: decision.AgentName,
			Err:   errors.New("registry entry is not reachable"),
		}
	}

	handle := newTaskHandle(decision.AgentName, entry.Address)

	runCtx, cancel := context.WithDeadline(context.WithoutCancel(ctx), time.Now().Add(g.taskTimeout))
	handle.setCancelRun(cancel)

	params := a2a.SendParams{
		ID:                  handle.ID,
		SessionID:           sessionID,
		AcceptedOutputModes: []string{"text"},
		Message:             a2a.NewTextMessage("user", decision.Payload),
	}

	g.logger.Infof("[TaskID: %s] Dispatching to %s (streaming=%t)", handle.ID, decision.AgentName, decision.Streaming)
	g.metrics.TaskDispatched(decision.AgentName)

	go g.run(runCtx, handle, decision, params)

	return handle, nil
}

// Cancel transitions any non-terminal handle to cancelled and notifies
// the remote agent best-effort. Idempotent once terminal.
func (g *Gateway) Cancel(handle *TaskHandle) {
	if !handle.cancelLocal() {
		return
	}
	g.logger.Infof("[TaskID: %s] Cancelled", handle.ID)
	g.metrics.TaskFinished(handle.AgentName, string(StatusCancelled))

	// The remote task id only exists once the agent acknowledged the call.
	remoteID := handle.remoteID()
	if remoteID == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := g.client.Cancel(ctx, handle.Address, remoteID); err != nil {
			g.logger.Debugf("[TaskID: %s] Remote cancel failed: %v", handle.ID, err)
		}
	}()
}

func (g *Gateway) run(ctx context.Context, handle *TaskHandle, decision router.Decision, params a2a.SendParams) {
	defer handle.closeChunks()
	start := time.Now()

	var err error
	if decision.Streaming {
		err = g.runStreaming(ctx, handle, params)
	} else {
		err = g.runSingle(ctx, handle, params)
	}

	if err == nil {
		handle.complete()
		g.metrics.TaskFinished(handle.AgentName, string(StatusCompleted))
		g.metrics.TaskDuration(handle.AgentName, time.Since(start))
		g.logger.Infof("[TaskID: %s] Completed in %s", handle.ID, time.Since(start))
		return
	}

	if handle.Status().Terminal() {
		// Cancelled from outside while the call was in flight.
		return
	}

	dispatchErr := g.classify(handle.AgentName, err)
	handle.fail(dispatchErr)
	g.metrics.TaskFinished(handle.AgentName, string(StatusFailed))
	g.logger.Warnf("[TaskID: %s] Failed (%s): %v", handle.ID, dispatchErr.Kind, err)
}

// runSingle performs message/send: one terminal chunk on completion.
func (g *Gateway) runSingle(ctx context.Context, handle *TaskHandle, params a2a.SendParams) error {
	var task *a2a.Task
	err := g.withRetry(ctx, func() error {
		var sendErr error
		task, sendErr = g.client.Send(ctx, handle.Address, params)
		if sendErr != nil && !isTransient(sendErr) {
			return retry.Unrecoverable(sendErr)
		}
		return sendErr
	})
	if err != nil {
		return err
	}

	handle.markStreaming(task.ID)

	if task.Status.State == a2a.StateFailed {
		return &a2a.RPCError{Code: a2a.CodeInternalError, Message: remoteFailureText(task)}
	}

	handle.deliver(ResultChunk{Seq: 1, Content: taskText(task), Terminal: true})
	return nil
}

// runStreaming performs message/stream and forwards chunks in arrival
// order. The single transient retry applies only until the first chunk
// has been delivered; chunk boundaries are at-least-once.
func (g *Gateway) runStreaming(ctx context.Context, handle *TaskHandle, params a2a.SendParams) error {
	delivered := false

	err := g.withRetry(ctx, func() error {
		chunks, errc := g.client.Stream(ctx, handle.Address, params)
		for chunk := range chunks {
			if !delivered {
				handle.markStreaming(chunk.TaskID)
				delivered = true
			}
			if chunk.State == a2a.StateFailed {
				return retry.Unrecoverable(&a2a.RPCError{Code: a2a.CodeInternalError, Message: chunk.Content})
			}
			handle.deliver(ResultChunk{Seq: chunk.Seq, Content: chunk.Content, Terminal: chunk.Terminal})
		}
		err := <-errc
		// Once a chunk has been forwarded the stream is not restartable.
		if err != nil && (delivered || !isTransient(err)) {
			return retry.Unrecoverable(err)
		}
		return err
	})

	return err
}

// withRetry applies the transport retry policy: one retry after a fixed
// backoff, abandoned when the task context ends.
func (g *Gateway) withRetry(ctx context.Context, fn func() error) error {
	return retry.New(
		retry.Context(ctx),
		retry.Attempts(2),
		retry.DelayType(func(uint, error, retry.DelayContext) time.Duration {
			return g.retryBackoff
		}),
	).Do(fn)
}

// classify maps transport errors onto the dispatch failure taxonomy.
func (g *Gateway) classify(agent string, err error) *DispatchError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &DispatchError{Kind: FailTimeout, Agent: agent, Err: err}
	case errors.Is(err, context.Canceled):
		return &DispatchError{Kind: FailCancelled, Agent: agent, Err: err}
	case isTransient(err):
		return &DispatchError{Kind: FailUnreachable, Agent: agent, Err: err}
	default:
		return &DispatchError{Kind: FailProtocolError, Agent: agent, Err: err}
	}
}

// isTransient reports whether an error is worth the single retry:
// connection-level failures and 5xx-equivalent responses. Malformed
// responses and remote protocol errors are not retried.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	var statusErr *a2a.HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Transient()
	}

	var rpcErr *a2a.RPCError
	if errors.As(err, &rpcErr) {
		return false
	}

	var malformed *a2a.MalformedCardError
	if errors.As(err, &malformed) {
		return false
	}

	// Remaining transport-level failures (connection reset, refused, DNS).
	return true
}

func taskText(task *a2a.Task) string {
	var out string
	for _, artifact := range task.Artifacts {
		for _, part := range artifact.Parts {
			if part.Kind == "text" {
				out += part.Text
			}
		}
	}
	if out == "" && task.Status.Message != nil {
		out = task.Status.Message.Text()
	}
	return out
}

func remoteFailureText(task *a2a.Task) string {
	if task.Status.Message != nil {
		return task.Status.Message.Text()
	}
	return "remote agent reported failure"
}
