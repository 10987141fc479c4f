// Package a2a contains the wire structures spoken between the host and
// remote agent servers: JSON-RPC 2.0 envelopes, messages, tasks and the
// SSE chunk frames used by message/stream.
package a2a

import "encoding/json"

// JSON-RPC method names understood by a remote agent server.
const (
	MethodMessageSend   = "message/send"
	MethodMessageStream = "message/stream"
	MethodTasksCancel   = "tasks/cancel"
)

// Task states reported by a remote agent.
const (
	StateSubmitted = "submitted"
	StateWorking   = "working"
	StateCompleted = "completed"
	StateFailed    = "failed"
	StateCanceled  = "canceled"
)

// Part is one fragment of a message. Only text parts are used by the
// built-in executors, but the kind tag keeps the format open.
type Part struct {
	Kind string `json:"kind"`
	Text string `json:"text,omitempty"`
}

// Message is a single utterance exchanged over the wire.
type Message struct {
	Role      string `json:"role"`
	Parts     []Part `json:"parts"`
	Kind      string `json:"kind,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	TaskID    string `json:"taskId,omitempty"`
	ContextID string `json:"contextId,omitempty"`
}

// Text concatenates the text parts of a message.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Kind == "text" {
			out += p.Text
		}
	}
	return out
}

// NewTextMessage builds a single-part text message.
func NewTextMessage(role, text string) Message {
	return Message{
		Role:  role,
		Kind:  "message",
		Parts: []Part{{Kind: "text", Text: text}},
	}
}

// TaskStatus carries the remote task state and the moment it was entered.
type TaskStatus struct {
	State     string   `json:"state"`
	Timestamp string   `json:"timestamp,omitempty"`
	Message   *Message `json:"message,omitempty"`
}

// Artifact is a named output produced by a task.
type Artifact struct {
	ArtifactID string `json:"artifactId"`
	Name       string `json:"name,omitempty"`
	Parts      []Part `json:"parts"`
}

// Task is the remote agent's record of one unit of work.
type Task struct {
	ID        string     `json:"id"`
	ContextID string     `json:"contextId"`
	Status    TaskStatus `json:"status"`
	History   []Message  `json:"history,omitempty"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
	Kind      string     `json:"kind,omitempty"`
}

// SendParams are the params of message/send and message/stream.
type SendParams struct {
	ID                  string   `json:"id,omitempty"`
	SessionID           string   `json:"sessionId,omitempty"`
	AcceptedOutputModes []string `json:"acceptedOutputModes,omitempty"`
	Message             Message  `json:"message"`
}

// CancelParams are the params of tasks/cancel.
type CancelParams struct {
	ID string `json:"id"`
}

// StreamChunk is one SSE frame of a message/stream response. Sequence
// numbers are assigned by the remote agent and never reordered.
type StreamChunk struct {
	TaskID   string `json:"taskId"`
	Seq      int    `json:"seq"`
	Content  string `json:"content"`
	Terminal bool   `json:"final"`
	State    string `json:"state,omitempty"`
}

// JSONRPCRequest is a JSON-RPC 2.0 request envelope.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse is a JSON-RPC 2.0 response envelope.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return e.Message
}

// Standard JSON-RPC error codes used by the remote agent server.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeTaskNotFound   = -32001
	CodeNotCancelable  = -32002
)

// NewRequest builds a request envelope with marshalled params.
func NewRequest(id interface{}, method string, params interface{}) (JSONRPCRequest, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return JSONRPCRequest{}, err
	}
	return JSONRPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: raw}, nil
}

// NewResponse builds a success response envelope.
func NewResponse(id interface{}, result interface{}) JSONRPCResponse {
	raw, _ := json.Marshal(result)
	return JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: raw}
}

// NewErrorResponse builds an error response envelope.
func NewErrorResponse(id interface{}, code int, message string) JSONRPCResponse {
	return JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}}
}
