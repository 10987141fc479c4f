package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ensembleai/ensemble/internal/dispatch"
	"github.com/ensembleai/ensemble/internal/host"
	"github.com/ensembleai/ensemble/internal/router"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// fakeOrchestrator scripts fragment streams per utterance.
type fakeOrchestrator struct {
	mu        sync.Mutex
	fragments []host.Fragment
	err       error
	cancelled []string
	gotText   string
}

func (f *fakeOrchestrator) HandleUtterance(_ context.Context, sessionID, text string) (<-chan host.Fragment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotText = text
	if f.err != nil {
		return nil, f.err
	}
	out := make(chan host.Fragment, len(f.fragments))
	for _, fragment := range f.fragments {
		fragment.SessionID = sessionID
		out <- fragment
	}
	close(out)
	return out, nil
}

func (f *fakeOrchestrator) CancelSession(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, sessionID)
}

func newTestAPI(t *testing.T, orch Orchestrator) string {
	t.Helper()
	s := NewServer(0, orch, nil, nil, newTestLogger())
	ts := httptest.NewServer(s.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts.URL
}

func postMessage(t *testing.T, base, sessionID, message string) *http.Response {
	t.Helper()
	body, err := json.Marshal(map[string]string{"message": message})
	require.NoError(t, err)
	resp, err := http.Post(
		fmt.Sprintf("%s/sessions/%s/messages", base, sessionID),
		"application/json",
		strings.NewReader(string(body)),
	)
	require.NoError(t, err)
	return resp
}

func readFragments(t *testing.T, resp *http.Response) []host.Fragment {
	t.Helper()
	defer resp.Body.Close()

	var out []host.Fragment
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var fragment host.Fragment
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &fragment))
		out = append(out, fragment)
	}
	require.NoError(t, scanner.Err())
	return out
}

func TestSendMessage(t *testing.T) {
	t.Run("streams fragments as SSE", func(t *testing.T) {
		orch := &fakeOrchestrator{fragments: []host.Fragment{
			{TaskID: "t1", Agent: "clock", Content: "The current time"},
			{TaskID: "t1", Agent: "clock", Content: " is noon.", Terminal: true, Status: dispatch.StatusCompleted},
		}}
		base := newTestAPI(t, orch)

		resp := postMessage(t, base, "sess-1", "what time is it")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

		fragments := readFragments(t, resp)
		require.Len(t, fragments, 2)
		assert.Equal(t, "sess-1", fragments[0].SessionID)
		assert.Equal(t, "The current time", fragments[0].Content)
		assert.True(t, fragments[1].Terminal)
		assert.Equal(t, dispatch.StatusCompleted, fragments[1].Status)
		assert.Equal(t, "what time is it", orch.gotText)
	})

	t.Run("no capable agent", func(t *testing.T) {
		orch := &fakeOrchestrator{err: router.ErrNoMatch}
		base := newTestAPI(t, orch)

		resp := postMessage(t, base, "sess-1", "paint my house")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "no_capable_agent", body["error"])
		assert.Equal(t, "sess-1", body["sessionId"])
	})

	t.Run("missing message body", func(t *testing.T) {
		base := newTestAPI(t, &fakeOrchestrator{})

		resp, err := http.Post(base+"/sessions/sess-1/messages", "application/json", strings.NewReader(`{}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("orchestrator failure", func(t *testing.T) {
		orch := &fakeOrchestrator{err: errors.New("session has ended")}
		base := newTestAPI(t, orch)

		resp := postMessage(t, base, "sess-1", "hello")
		defer resp.Body.Close()
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})
}

func TestCancelSession(t *testing.T) {
	orch := &fakeOrchestrator{}
	base := newTestAPI(t, orch)

	req, err := http.NewRequest(http.MethodDelete, base+"/sessions/sess-9", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	orch.mu.Lock()
	defer orch.mu.Unlock()
	assert.Equal(t, []string{"sess-9"}, orch.cancelled)
}

func TestHealth(t *testing.T) {
	base := newTestAPI(t, &fakeOrchestrator{})

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
