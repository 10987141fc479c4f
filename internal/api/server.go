package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ensembleai/ensemble/internal/metrics"
	"github.com/ensembleai/ensemble/internal/router"
)

// Server is the host's HTTP front-end: SSE streaming of responses,
// session control, health and metrics, plus the websocket endpoint.
type Server struct {
	orch       Orchestrator
	gateway    *Gateway
	metrics    *metrics.Collector
	httpServer *http.Server
	logger     *logrus.Logger
}

// messageRequest is the body of POST /sessions/:id/messages.
type messageRequest struct {
	Message string `json:"message" binding:"required"`
}

func NewServer(port int, orch Orchestrator, gateway *Gateway, collector *metrics.Collector, logger *logrus.Logger) *Server {
	s := &Server{
		orch:    orch,
		gateway: gateway,
		metrics: collector,
		logger:  logger,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.Default())

	engine.POST("/sessions/:id/messages", s.handleSendMessage)
	engine.DELETE("/sessions/:id", s.handleCancelSession)
	engine.GET("/health", s.handleHealth)
	if collector != nil {
		engine.GET("/metrics", gin.WrapH(collector.Handler()))
	}
	if gateway != nil {
		engine.GET("/ws", func(c *gin.Context) {
			gateway.HandleWebSocket(c.Writer, c.Request)
		})
	}

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: engine,
	}
	return s
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.logger.Infof("Host API listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleSendMessage routes one utterance and streams the response
// fragments back as SSE events.
func (s *Server) handleSendMessage(c *gin.Context) {
	sessionID := c.Param("id")

	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	fragments, err := s.orch.HandleUtterance(c.Request.Context(), sessionID, req.Message)
	if err != nil {
		if errors.Is(err, router.ErrNoMatch) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":     "no_capable_agent",
				"message":   "no registered agent can handle this request",
				"sessionId": sessionID,
			})
			return
		}
		s.logger.Errorf("Handling message for session %s: %v", sessionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
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

	for fragment := range fragments {
		data, err := json.Marshal(fragment)
		if err != nil {
			continue
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", data)
		flusher.Flush()
	}
}

func (s *Server) handleCancelSession(c *gin.Context) {
	sessionID := c.Param("id")
	s.orch.CancelSession(sessionID)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
