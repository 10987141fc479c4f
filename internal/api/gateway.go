// Package api exposes the host to front-ends: an HTTP server that
// streams responses over SSE and a websocket gateway fed by the event
// bus.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ensembleai/ensemble/internal/bus"
	"github.com/ensembleai/ensemble/internal/host"
	"github.com/ensembleai/ensemble/internal/router"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// MessageType tags a websocket message from the client.
type MessageType string

const (
	MessageChat          MessageType = "CHAT_MESSAGE"
	MessageSessionCancel MessageType = "SESSION_CANCEL"
)

// ClientMessage is a message from a websocket client.
type ClientMessage struct {
	Type    MessageType            `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}

// Orchestrator is the slice of the host the gateway drives.
type Orchestrator interface {
	HandleUtterance(ctx context.Context, sessionID, text string) (<-chan host.Fragment, error)
	CancelSession(sessionID string)
}

// wsClient is one websocket connection.
type wsClient struct {
	hub      *hub
	conn     *websocket.Conn
	send     chan []byte
	clientID string
}

// hub maintains the set of active clients and broadcasts to them.
type hub struct {
	mu         sync.RWMutex
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
}

// Gateway bridges websocket clients and the host: chat messages in,
// event bus traffic out.
type Gateway struct {
	hub    *hub
	events *bus.EventBus
	orch   Orchestrator
	logger *logrus.Logger
}

func NewGateway(orch Orchestrator, events *bus.EventBus, logger *logrus.Logger) *Gateway {
	gw := &Gateway{
		hub: &hub{
			clients:    make(map[*wsClient]bool),
			broadcast:  make(chan []byte, 256),
			register:   make(chan *wsClient),
			unregister: make(chan *wsClient),
		},
		events: events,
		orch:   orch,
		logger: logger,
	}

	events.SubscribeAll(gw.handleEvent)
	go gw.hub.run()

	return gw
}

// HandleWebSocket upgrades the connection and starts the client pumps.
func (gw *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		gw.logger.Errorf("WebSocket upgrade failed: %v", err)
		return
	}

	client := &wsClient{
		hub:      gw.hub,
		conn:     conn,
		send:     make(chan []byte, 256),
		clientID: fmt.Sprintf("client-%d", time.Now().UnixNano()),
	}

	gw.hub.register <- client
	gw.logger.Infof("New WebSocket client connected: %s", client.clientID)

	go client.writePump()
	go gw.readPump(client)
}

// readPump pumps messages from the websocket connection to the host.
func (gw *Gateway) readPump(client *wsClient) {
	defer func() {
		client.hub.unregister <- client
		_ = client.conn.Close()
		gw.logger.Infof("WebSocket client disconnected: %s", client.clientID)
	}()

	client.conn.SetReadLimit(maxMessageSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				gw.logger.Errorf("WebSocket error: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			gw.logger.Errorf("Failed to parse WebSocket message: %v", err)
			continue
		}

		gw.handleClientMessage(client, msg)
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// Flush any queued messages as separate frames.
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *hub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (gw *Gateway) handleClientMessage(client *wsClient, msg ClientMessage) {
	gw.logger.Debugf("Received message type %s from client %s", msg.Type, client.clientID)

	switch msg.Type {
	case MessageChat:
		gw.handleChat(client, msg.Payload)
	case MessageSessionCancel:
		gw.handleSessionCancel(client, msg.Payload)
	default:
		gw.logger.Warnf("Unknown message type: %s", msg.Type)
	}
}

// handleChat forwards an utterance to the host. Fragments reach the
// client through the event bus broadcast, so the response channel only
// needs draining here.
func (gw *Gateway) handleChat(client *wsClient, payload map[string]interface{}) {
	content, _ := payload["content"].(string)
	sessionID, _ := payload["sessionId"].(string)
	if content == "" || sessionID == "" {
		gw.sendError(client, "chat message requires sessionId and content")
		return
	}

	go func() {
		fragments, err := gw.orch.HandleUtterance(context.Background(), sessionID, content)
		if err != nil {
			if errors.Is(err, router.ErrNoMatch) {
				gw.events.Publish(bus.Event{
					Type: bus.EventRoutingResult,
					Payload: map[string]interface{}{
						"sessionId": sessionID,
						"matched":   false,
						"message":   "no agent can handle this request",
					},
				})
				return
			}
			gw.logger.Errorf("Chat handling failed: %v", err)
			gw.sendError(client, err.Error())
			return
		}
		for range fragments {
			// Already published on the event bus by the host.
		}
	}()
}

func (gw *Gateway) handleSessionCancel(client *wsClient, payload map[string]interface{}) {
	sessionID, _ := payload["sessionId"].(string)
	if sessionID == "" {
		gw.sendError(client, "session cancel requires sessionId")
		return
	}
	gw.orch.CancelSession(sessionID)
}

// handleEvent broadcasts bus events to every connected client.
func (gw *Gateway) handleEvent(event bus.Event) {
	message, err := json.Marshal(map[string]interface{}{
		"type":    string(event.Type),
		"payload": event.Payload,
	})
	if err != nil {
		gw.logger.Errorf("Failed to marshal event: %v", err)
		return
	}

	select {
	case gw.hub.broadcast <- message:
	default:
		gw.logger.Warn("Broadcast channel full, dropping event")
	}
}

func (gw *Gateway) sendError(client *wsClient, message string) {
	payload, _ := json.Marshal(map[string]interface{}{
		"type": "error",
		"payload": map[string]interface{}{
			"message": message,
		},
	})
	select {
	case client.send <- payload:
	default:
	}
}
