package bus

import (
	"sync"

	"github.com/sirupsen/logrus"
)

type EventType string

const (
	EventFragment      EventType = "fragment"
	EventTaskStatus    EventType = "taskStatus"
	EventRoutingResult EventType = "routingResult"
	EventSessionEnded  EventType = "sessionEnded"
	EventHostLog       EventType = "hostLog"
)

var allEventTypes = []EventType{
	EventFragment,
	EventTaskStatus,
	EventRoutingResult,
	EventSessionEnded,
	EventHostLog,
}

type Event struct {
	Type    EventType              `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}

type EventHandler func(event Event)

// EventBus fans events out from host internals to subscribers such as the
// websocket gateway. Publishing never blocks: the buffer absorbs bursts
// and overflow events are dropped with a warning.
type EventBus struct {
	mu        sync.RWMutex
	handlers  map[EventType][]EventHandler
	logger    *logrus.Logger
	eventChan chan Event
	stopChan  chan struct{}
}

func NewEventBus(logger *logrus.Logger) *EventBus {
	eb := &EventBus{
		handlers:  make(map[EventType][]EventHandler),
		logger:    logger,
		eventChan: make(chan Event, 256),
		stopChan:  make(chan struct{}),
	}

	go eb.processEvents()

	return eb
}

func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
	eb.logger.Debugf("Handler subscribed to event type: %s", eventType)
}

func (eb *EventBus) SubscribeAll(handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, eventType := range allEventTypes {
		eb.handlers[eventType] = append(eb.handlers[eventType], handler)
	}

	eb.logger.Debug("Handler subscribed to all event types")
}

func (eb *EventBus) Publish(event Event) {
	select {
	case eb.eventChan <- event:
	default:
		eb.logger.Warnf("Event channel full, dropping event: %s", event.Type)
	}
}

func (eb *EventBus) processEvents() {
	for {
		select {
		case event := <-eb.eventChan:
			eb.handleEvent(event)
		case <-eb.stopChan:
			eb.logger.Info("EventBus stopped")
			return
		}
	}
}

func (eb *EventBus) handleEvent(event Event) {
	eb.mu.RLock()
	handlers := eb.handlers[event.Type]
	eb.mu.RUnlock()

	for _, handler := range handlers {
		// Run each handler in a goroutine to prevent blocking
		go func(h EventHandler) {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Errorf("Panic in event handler for %s: %v", event.Type, r)
				}
			}()
			h(event)
		}(handler)
	}
}

func (eb *EventBus) Stop() {
	close(eb.stopChan)
}

// PublishFragment publishes one response fragment for a session.
func (eb *EventBus) PublishFragment(sessionID, taskID, agent, content string, terminal bool) {
	eb.Publish(Event{
		Type: EventFragment,
		Payload: map[string]interface{}{
			"sessionId": sessionID,
			"taskId":    taskID,
			"agent":     agent,
			"content":   content,
			"final":     terminal,
		},
	})
}

// PublishTaskStatus publishes a task state transition.
func (eb *EventBus) PublishTaskStatus(sessionID, taskID, agent, status string) {
	eb.Publish(Event{
		Type: EventTaskStatus,
		Payload: map[string]interface{}{
			"sessionId": sessionID,
			"taskId":    taskID,
			"agent":     agent,
			"status":    status,
		},
	})
}

// PublishHostLog publishes a host-side log line for UI consumption.
func (eb *EventBus) PublishHostLog(level, message string) {
	eb.Publish(Event{
		Type: EventHostLog,
		Payload: map[string]interface{}{
			"level":   level,
			"message": message,
		},
	})
}

// PublishSessionEnded publishes session termination.
func (eb *EventBus) PublishSessionEnded(sessionID, reason string) {
	eb.Publish(Event{
		Type: EventSessionEnded,
		Payload: map[string]interface{}{
			"sessionId": sessionID,
			"reason":    reason,
		},
	})
}
