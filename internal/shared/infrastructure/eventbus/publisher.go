// Package eventbus carries domain events between contexts. Deployments with
// RabbitMQ publish to a topic exchange; local single-binary deployments use
// the synchronous in-process bus.
package eventbus

import (
	"context"
)

// Publisher sends serialized domain events to a message broker.
type Publisher interface {
	// Publish sends a message under the given routing key.
	Publish(ctx context.Context, routingKey string, payload []byte) error

	// Close closes the publisher connection.
	Close() error
}

// NoopPublisher discards events. Used in tests and when no broker is
// configured.
type NoopPublisher struct{}

// NewNoopPublisher creates a publisher that does nothing.
func NewNoopPublisher() *NoopPublisher {
	return &NoopPublisher{}
}

func (p *NoopPublisher) Publish(_ context.Context, _ string, _ []byte) error { return nil }

func (p *NoopPublisher) Close() error { return nil }
