package a2a

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ensembleai/ensemble/pkg/card"
)

// Client speaks the remote agent boundary: card retrieval, message/send,
// message/stream and tasks/cancel against a single base URL.
type Client struct {
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient creates a protocol client. The http.Client timeout is left at
// zero; callers bound every call through the context instead, since
// streaming tasks legitimately outlive any fixed client timeout.
func NewClient(logger *logrus.Logger) *Client {
	return &Client{
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// FetchCard retrieves and parses the agent card published at base.
func (c *Client) FetchCard(ctx context.Context, base string) (*card.AgentCard, error) {
	url := strings.TrimRight(base, "/") + card.WellKnownPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("card request to %s: %w", base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("card request to %s: status %d", base, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("card request to %s: %w", base, err)
	}

	var ac card.AgentCard
	if err := json.Unmarshal(body, &ac); err != nil {
		return nil, &MalformedCardError{Base: base, Err: err}
	}
	if ac.Name == "" {
		return nil, &MalformedCardError{Base: base, Err: fmt.Errorf("card has no name")}
	}
	return &ac, nil
}

// MalformedCardError reports a structurally invalid capability descriptor.
type MalformedCardError struct {
	Base string
	Err  error
}

func (e *MalformedCardError) Error() string {
	return fmt.Sprintf("malformed agent card from %s: %v", e.Base, e.Err)
}

func (e *MalformedCardError) Unwrap() error { return e.Err }

// Send performs message/send and returns the completed remote task.
func (c *Client) Send(ctx context.Context, base string, params SendParams) (*Task, error) {
	resp, err := c.call(ctx, base, MethodMessageSend, params)
	if err != nil {
		return nil, err
	}

	var task Task
	if err := json.Unmarshal(resp.Result, &task); err != nil {
		return nil, fmt.Errorf("decoding message/send result: %w", err)
	}
	return &task, nil
}

// Cancel performs a best-effort tasks/cancel for a previously sent task.
func (c *Client) Cancel(ctx context.Context, base, taskID string) error {
	_, err := c.call(ctx, base, MethodTasksCancel, CancelParams{ID: taskID})
	return err
}

// Stream performs message/stream and delivers chunks in arrival order on
// the returned channel. The channel is closed after the terminal chunk,
// on error, or when ctx is cancelled; errc yields at most one error.
func (c *Client) Stream(ctx context.Context, base string, params SendParams) (<-chan StreamChunk, <-chan error) {
	chunks := make(chan StreamChunk)
	errc := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errc)

		req, err := c.newRPCRequest(ctx, base, MethodMessageStream, params)
		if err != nil {
			errc <- err
			return
		}
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			errc <- fmt.Errorf("message/stream to %s: %w", base, err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			errc <- &HTTPStatusError{Base: base, Status: resp.StatusCode}
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				continue
			}

			var chunk StreamChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				errc <- fmt.Errorf("decoding stream chunk: %w", err)
				return
			}

			select {
			case chunks <- chunk:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
			if chunk.Terminal {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errc <- fmt.Errorf("reading stream from %s: %w", base, err)
			return
		}
		// Stream ended without a terminal chunk.
		errc <- fmt.Errorf("stream from %s closed before terminal chunk", base)
	}()

	return chunks, errc
}

// HTTPStatusError reports a non-200 response from a remote agent.
type HTTPStatusError struct {
	Base   string
	Status int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("agent %s returned status %d", e.Base, e.Status)
}

// Transient reports whether the status is worth one retry.
func (e *HTTPStatusError) Transient() bool {
	return e.Status >= 500
}

func (c *Client) newRPCRequest(ctx context.Context, base, method string, params interface{}) (*http.Request, error) {
	rpcReq, err := NewRequest(uuid.New().String(), method, params)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(rpcReq)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(base, "/")+"/", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) call(ctx context.Context, base, method string, params interface{}) (*JSONRPCResponse, error) {
	req, err := c.newRPCRequest(ctx, base, method, params)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s to %s: %w", method, base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPStatusError{Base: base, Status: resp.StatusCode}
	}

	var rpcResp JSONRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}

	c.logger.Debugf("%s to %s completed in %s", method, base, time.Since(start))
	return &rpcResp, nil
}
