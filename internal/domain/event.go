package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventRunStarted   EventType = "run.started"
	EventRunCompleted EventType = "run.completed"
	EventRunFailed    EventType = "run.failed"
	EventRunDegraded  EventType = "run.degraded"

	EventChatRequest  EventType = "chat.request"
	EventChatResponse EventType = "chat.response"

	EventSourceDeactivated EventType = "source.deactivated"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	RunID     string          `json:"run_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an event with a JSON-encoded payload. A payload that fails
// to encode is dropped rather than failing the publisher.
func NewEvent(typ EventType, runID string, payload any) Event {
	ev := Event{Type: typ, Timestamp: time.Now(), RunID: runID}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			ev.Payload = data
		}
	}
	return ev
}

// RunPayload is the payload of run lifecycle events.
type RunPayload struct {
	Agents []string `json:"agents"`
	Stage  int      `json:"stage,omitempty"`
	Agent  string   `json:"agent,omitempty"`
	Error  string   `json:"error,omitempty"`
	Chars  int      `json:"chars,omitempty"`
}

// SourceDeactivatedPayload is published when a stored source fails validation.
type SourceDeactivatedPayload struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
