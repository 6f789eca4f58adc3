package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	// Process lifecycle events.
	EventProcessStarted   EventType = "process.started"
	EventProcessExited    EventType = "process.exited"
	EventProcessCancelled EventType = "process.cancelled"

	// Raw output channels. Stderr chunks are published on both.
	EventProcessOutput EventType = "process.output"
	EventProcessError  EventType = "process.error"

	// Migration projection events.
	EventMigrationStarted  EventType = "migration.started"
	EventMigrationProgress EventType = "migration.progress"
	EventMigrationWarning  EventType = "migration.warning"
	EventMigrationState    EventType = "migration.state"
	EventMigrationFinished EventType = "migration.finished"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	ProcessID string          `json:"process_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
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

// NewEvent marshals payload into an Event envelope stamped with the current time.
func NewEvent(eventType EventType, processID string, payload any) Event {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		ProcessID: processID,
		Payload:   raw,
	}
}
