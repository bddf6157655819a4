// Package pubsub provides a small generic publish/subscribe broker used for
// log streaming and editor server lifecycle notifications.
package pubsub

import (
	"context"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	// LogEvent carries a formatted log entry.
	LogEvent EventType = "log"
	// StartedEvent is published when an editor server becomes reachable.
	StartedEvent EventType = "started"
	// StoppedEvent is published after an editor server process has exited.
	StoppedEvent EventType = "stopped"
)

// Event represents a published event with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher allows publishing events with a typed payload.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}
