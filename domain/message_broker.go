package domain

import (
	"context"
	"time"
)

const (
	// SessionEventsTopic carries JSON-encoded SessionEvent payloads routed by
	// session id.
	SessionEventsTopic = "session.events"

	// AnyRoutingKey subscribes to every routing key of a topic.
	AnyRoutingKey = "*"
)

// MessageBroker defines the interface for message broker operations
type MessageBroker interface {
	// Publish sends a message to a specific topic/channel with a routing key
	Publish(ctx context.Context, topic string, routingKey string, message []byte) error

	// Subscribe listens for messages on a specific topic/channel and routing key.
	// AnyRoutingKey receives messages for every routing key of the topic.
	Subscribe(ctx context.Context, topic string, routingKey string) (<-chan Message, error)

	// Close closes the message broker connection
	Close() error
}

// Message represents a message received from the broker
type Message struct {
	Topic      string
	RoutingKey string
	Payload    []byte
	Timestamp  time.Time
}
