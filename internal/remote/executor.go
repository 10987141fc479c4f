// Package remote implements the agent side of the wire protocol: a gin
// server that publishes an agent card and executes tasks against one
// specialized executor, either synchronously or as an SSE stream.
package remote

import (
	"context"

	"github.com/ensembleai/ensemble/pkg/card"
)

// EmitFunc forwards one partial result fragment to the caller. Executors
// call it zero or more times before returning the final text.
type EmitFunc func(content string)

// Executor is the specialized tool a remote agent wraps. Execute must
// honor ctx cancellation and return the complete result text; partial
// output goes through emit in production order.
type Executor interface {
	Name() string
	Skills() []card.Skill
	Execute(ctx context.Context, input string, emit EmitFunc) (string, error)
}
