package host

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ensembleai/ensemble/internal/a2a"
	"github.com/ensembleai/ensemble/internal/bus"
	"github.com/ensembleai/ensemble/internal/dispatch"
	"github.com/ensembleai/ensemble/internal/intent"
	"github.com/ensembleai/ensemble/internal/registry"
	"github.com/ensembleai/ensemble/internal/router"
	"github.com/ensembleai/ensemble/internal/session"
	"github.com/ensembleai/ensemble/pkg/card"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// fakeAgentClient serves both card discovery and the protocol calls, so
// one fixture backs the registry and the dispatch gateway.
type fakeAgentClient struct {
	mu      sync.Mutex
	cards   map[string]*card.AgentCard
	replies map[string]string
	sendErr error
	sent    []a2a.SendParams
}

func (f *fakeAgentClient) FetchCard(_ context.Context, base string) (*card.AgentCard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cards[base]
	if !ok {
		return nil, fmt.Errorf("no card published at %s", base)
	}
	return c, nil
}

func (f *fakeAgentClient) Send(_ context.Context, base string, params a2a.SendParams) (*a2a.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, params)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &a2a.Task{
		ID:     "remote-" + base,
		Status: a2a.TaskStatus{State: a2a.StateCompleted},
		Artifacts: []a2a.Artifact{
			{Parts: []a2a.Part{{Kind: "text", Text: f.replies[base]}}},
		},
	}, nil
}

func (f *fakeAgentClient) Stream(_ context.Context, _ string, _ a2a.SendParams) (<-chan a2a.StreamChunk, <-chan error) {
	chunks := make(chan a2a.StreamChunk)
	errc := make(chan error, 1)
	close(chunks)
	close(errc)
	return chunks, errc
}

func (f *fakeAgentClient) Cancel(_ context.Context, _, _ string) error { return nil }

func agentCard(name string, tags ...string) *card.AgentCard {
	return &card.AgentCard{
		Name:    name,
		URL:     "http://" + name + ":1",
		Version: "1.0.0",
		Skills:  []card.Skill{{ID: name + "-skill", Name: name, Tags: tags}},
	}
}

// newTestHost wires a full orchestration loop around the fake client:
// real registry, router, session manager and dispatch gateway.
func newTestHost(t *testing.T, client *fakeAgentClient, classifier intent.Classifier) (*Host, *session.Manager) {
	t.Helper()
	logger := newTestLogger()

	reg := registry.New(client, logger)
	for base := range client.cards {
		reg.Register(base)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reg.DiscoverAll(ctx)

	rt := router.New(classifier, 0.2, logger)
	gateway := dispatch.New(client, reg, logger)
	sessions := session.NewManager(gateway, logger)
	events := bus.NewEventBus(logger)
	t.Cleanup(events.Stop)

	return New(reg, rt, sessions, events, logger), sessions
}

func twoAgentClient() *fakeAgentClient {
	return &fakeAgentClient{
		cards: map[string]*card.AgentCard{
			"http://clock:1": agentCard("clock", "time", "clock", "timezone"),
			"http://calc:1":  agentCard("calc", "math", "calculate", "+", "-"),
		},
		replies: map[string]string{
			"http://clock:1": "The current time in UTC is noon.",
			"http://calc:1":  "2 + 2 = 4",
		},
	}
}

func collect(t *testing.T, fragments <-chan Fragment) []Fragment {
	t.Helper()
	var out []Fragment
	timeout := time.After(5 * time.Second)
	for {
		select {
		case fragment, ok := <-fragments:
			if !ok {
				return out
			}
			out = append(out, fragment)
		case <-timeout:
			t.Fatal("fragment stream never closed")
		}
	}
}

func TestHandleUtterance(t *testing.T) {
	t.Run("routes and streams a completed task", func(t *testing.T) {
		client := twoAgentClient()
		h, sessions := newTestHost(t, client, nil)

		fragments, err := h.HandleUtterance(context.Background(), "sess-1", "what time is it")
		require.NoError(t, err)

		received := collect(t, fragments)
		require.Len(t, received, 2)

		assert.Equal(t, "clock", received[0].Agent)
		assert.Equal(t, "The current time in UTC is noon.", received[0].Content)
		assert.False(t, received[0].Terminal)

		terminal := received[1]
		assert.True(t, terminal.Terminal)
		assert.Equal(t, dispatch.StatusCompleted, terminal.Status)
		assert.Empty(t, terminal.Error)

		history, err := sessions.History("sess-1")
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, session.RoleUser, history[0].Role)
		assert.Equal(t, session.RoleAgent, history[1].Role)
		assert.Equal(t, "clock", history[1].Agent)
	})

	t.Run("no capable agent is returned, not streamed", func(t *testing.T) {
		client := twoAgentClient()
		h, _ := newTestHost(t, client, nil)

		_, err := h.HandleUtterance(context.Background(), "sess-1", "paint my house")
		assert.ErrorIs(t, err, router.ErrNoMatch)
	})

	t.Run("no reachable agents", func(t *testing.T) {
		client := &fakeAgentClient{cards: map[string]*card.AgentCard{}}
		h, _ := newTestHost(t, client, nil)

		_, err := h.HandleUtterance(context.Background(), "sess-1", "what time is it")
		assert.ErrorIs(t, err, router.ErrNoMatch)
	})

	t.Run("dispatch failure ends the stream with a typed error", func(t *testing.T) {
		client := twoAgentClient()
		client.sendErr = &a2a.HTTPStatusError{Base: "http://clock:1", Status: 502}
		h, _ := newTestHost(t, client, nil)

		fragments, err := h.HandleUtterance(context.Background(), "sess-1", "what time is it")
		require.NoError(t, err)

		received := collect(t, fragments)
		require.NotEmpty(t, received)

		terminal := received[len(received)-1]
		assert.True(t, terminal.Terminal)
		assert.Equal(t, dispatch.StatusFailed, terminal.Status)
		assert.Contains(t, terminal.Error, "unreachable")
	})
}

// twoStepClassifier always splits the utterance into a clock step and a
// calc step.
type twoStepClassifier struct{}

func (twoStepClassifier) Classify(_ context.Context, _ string, _ []string) (*intent.Result, error) {
	return &intent.Result{Steps: []intent.Step{
		{Utterance: "what time is it", Keywords: []string{"time"}},
		{Utterance: "calculate 2 + 2", Keywords: []string{"calculate"}},
	}}, nil
}

func TestHandleUtteranceMultiStep(t *testing.T) {
	client := twoAgentClient()
	h, _ := newTestHost(t, client, twoStepClassifier{})

	fragments, err := h.HandleUtterance(context.Background(), "sess-1", "time, then math")
	require.NoError(t, err)

	received := collect(t, fragments)

	var agents []string
	for _, fragment := range received {
		if fragment.Terminal {
			agents = append(agents, fragment.Agent)
			assert.Equal(t, dispatch.StatusCompleted, fragment.Status)
		}
	}
	assert.Equal(t, []string{"clock", "calc"}, agents)

	// The second step's payload carries the first step's result.
	client.mu.Lock()
	defer client.mu.Unlock()
	require.Len(t, client.sent, 2)
	secondPayload := client.sent[1].Message.Text()
	assert.Contains(t, secondPayload, "calculate 2 + 2")
	assert.Contains(t, secondPayload, "Result of the previous step:")
	assert.Contains(t, secondPayload, "The current time in UTC is noon.")
}

func TestCancelSession(t *testing.T) {
	client := twoAgentClient()
	h, sessions := newTestHost(t, client, nil)

	sessions.Open("sess-1")
	h.CancelSession("sess-1")

	_, err := sessions.History("sess-1")
	assert.ErrorIs(t, err, session.ErrExpired)
}
