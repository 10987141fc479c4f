package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ensembleai/ensemble/internal/a2a"
	"github.com/ensembleai/ensemble/internal/config"
	"github.com/ensembleai/ensemble/pkg/card"
)

// Server publishes one executor as a remote agent: the card under the
// well-known path and a JSON-RPC endpoint for message/send,
// message/stream and tasks/cancel.
type Server struct {
	cfg        config.AgentConfig
	executor   Executor
	tasks      *TaskManager
	agentCard  card.AgentCard
	httpServer *http.Server
	logger     *logrus.Logger
}

func NewServer(cfg config.AgentConfig, executor Executor, logger *logrus.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		executor: executor,
		tasks:    NewTaskManager(logger),
		logger:   logger,
	}
	s.agentCard = s.buildCard()

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.Default())

	engine.GET(card.WellKnownPath, s.handleCard)
	engine.POST("/", s.handleRPC)
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "agent": cfg.Name})
	})

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: engine,
	}
	return s
}

// Card returns the published agent card.
func (s *Server) Card() card.AgentCard {
	return s.agentCard
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.logger.Infof("Agent %s listening on %s", s.cfg.Name, s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Infof("Agent %s shutting down", s.cfg.Name)
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) buildCard() card.AgentCard {
	url := s.cfg.URL
	if url == "" {
		url = fmt.Sprintf("http://localhost:%d", s.cfg.Port)
	}
	return card.AgentCard{
		Name:            s.cfg.Name,
		Description:     s.cfg.Description,
		URL:             url,
		Version:         s.cfg.Version,
		ProtocolVersion: "0.2.9",
		Capabilities: card.Capabilities{
			Streaming: s.cfg.Streaming,
		},
		DefaultInputModes:  []string{"text"},
		DefaultOutputModes: []string{"text"},
		Skills:             s.executor.Skills(),
	}
}

func (s *Server) handleCard(c *gin.Context) {
	c.JSON(http.StatusOK, s.agentCard)
}

func (s *Server) handleRPC(c *gin.Context) {
	var req a2a.JSONRPCRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusOK, a2a.NewErrorResponse(nil, a2a.CodeParseError, "Parse error"))
		return
	}

	s.logger.Infof("RPC request received. Method: %s, RequestID: %v", req.Method, req.ID)

	switch req.Method {
	case a2a.MethodMessageSend:
		s.handleMessageSend(c, req)
	case a2a.MethodMessageStream:
		s.handleMessageStream(c, req)
	case a2a.MethodTasksCancel:
		s.handleTasksCancel(c, req)
	default:
		c.JSON(http.StatusOK, a2a.NewErrorResponse(req.ID, a2a.CodeMethodNotFound, "Method not found"))
	}
}

// handleMessageSend executes the task synchronously and responds with
// the terminal task record.
func (s *Server) handleMessageSend(c *gin.Context, req a2a.JSONRPCRequest) {
	params, rpcErr := parseSendParams(req)
	if rpcErr != nil {
		c.JSON(http.StatusOK, a2a.NewErrorResponse(req.ID, rpcErr.Code, rpcErr.Message))
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	task := s.tasks.Create(params.Message, cancel)
	s.tasks.UpdateStatus(task.ID, a2a.StateWorking, nil)

	result, err := s.executor.Execute(ctx, params.Message.Text(), func(string) {})
	task = s.finishTask(task.ID, result, err)

	c.JSON(http.StatusOK, a2a.NewResponse(req.ID, task))
}

// handleMessageStream executes the task while writing SSE chunk frames;
// the last frame is terminal and carries the final state.
func (s *Server) handleMessageStream(c *gin.Context, req a2a.JSONRPCRequest) {
	params, rpcErr := parseSendParams(req)
	if rpcErr != nil {
		c.JSON(http.StatusOK, a2a.NewErrorResponse(req.ID, rpcErr.Code, rpcErr.Message))
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	task := s.tasks.Create(params.Message, cancel)
	s.tasks.UpdateStatus(task.ID, a2a.StateWorking, nil)

	seq := 0
	var emitted strings.Builder
	emit := func(content string) {
		if content == "" {
			return
		}
		seq++
		emitted.WriteString(content)
		writeChunk(c, flusher, a2a.StreamChunk{
			TaskID:  task.ID,
			Seq:     seq,
			Content: content,
		})
	}

	result, err := s.executor.Execute(ctx, params.Message.Text(), emit)
	task = s.finishTask(task.ID, result, err)

	terminal := a2a.StreamChunk{
		TaskID:   task.ID,
		Seq:      seq + 1,
		Terminal: true,
		State:    task.Status.State,
	}
	switch task.Status.State {
	case a2a.StateCompleted:
		// Executors return the complete result; only the part not already
		// streamed goes into the terminal frame.
		terminal.Content = strings.TrimPrefix(result, emitted.String())
	case a2a.StateFailed:
		terminal.Content = err.Error()
	}
	writeChunk(c, flusher, terminal)
}

func (s *Server) handleTasksCancel(c *gin.Context, req a2a.JSONRPCRequest) {
	var params a2a.CancelParams
	if req.Params == nil || json.Unmarshal(req.Params, &params) != nil || params.ID == "" {
		c.JSON(http.StatusOK, a2a.NewErrorResponse(req.ID, a2a.CodeInvalidParams, "Missing or invalid task id"))
		return
	}

	task, rpcErr := s.tasks.Cancel(params.ID)
	if rpcErr != nil {
		c.JSON(http.StatusOK, a2a.NewErrorResponse(req.ID, rpcErr.Code, rpcErr.Message))
		return
	}
	c.JSON(http.StatusOK, a2a.NewResponse(req.ID, task))
}

// finishTask records the execution outcome and returns the updated task.
func (s *Server) finishTask(taskID, result string, err error) *a2a.Task {
	switch {
	case err == nil:
		s.tasks.AddArtifact(taskID, a2a.Artifact{
			ArtifactID: uuid.New().String(),
			Name:       s.executor.Name() + "-result",
			Parts:      []a2a.Part{{Kind: "text", Text: result}},
		})
		reply := a2a.NewTextMessage("agent", result)
		s.tasks.UpdateStatus(taskID, a2a.StateCompleted, &reply)
	case errors.Is(err, context.Canceled):
		s.tasks.UpdateStatus(taskID, a2a.StateCanceled, nil)
	default:
		reply := a2a.NewTextMessage("agent", err.Error())
		s.tasks.UpdateStatus(taskID, a2a.StateFailed, &reply)
		s.logger.Warnf("[TaskID: %s] Execution failed: %v", taskID, err)
	}

	task, _ := s.tasks.Get(taskID)
	return task
}

func parseSendParams(req a2a.JSONRPCRequest) (a2a.SendParams, *a2a.RPCError) {
	var params a2a.SendParams
	if req.Params == nil {
		return params, &a2a.RPCError{Code: a2a.CodeInvalidParams, Message: "Missing params"}
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return params, &a2a.RPCError{Code: a2a.CodeInvalidParams, Message: "Invalid params format"}
	}
	if len(params.Message.Parts) == 0 {
		return params, &a2a.RPCError{Code: a2a.CodeInvalidParams, Message: "Missing message parameter"}
	}
	return params, nil
}

func writeChunk(c *gin.Context, flusher http.Flusher, chunk a2a.StreamChunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "data: %s\n\n", data)
	flusher.Flush()
}
