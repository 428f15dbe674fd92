// Package queue defines the message queue provider used to announce
// completed chart weeks to downstream consumers.
package queue

import (
	"context"
)

// Provider is the common interface for a message queue.
type Provider interface {
	// Publish sends a message payload to the configured topic.
	// Implementations may deliver asynchronously.
	Publish(ctx context.Context, payload []byte) error

	// Close cleans up client connections and resources.
	Close() error
}

// NoOpProvider discards messages. It is the default when no queue is configured.
type NoOpProvider struct{}

// Publish for NoOpProvider does nothing and returns nil.
func (n *NoOpProvider) Publish(_ context.Context, _ []byte) error { return nil }

// Close for NoOpProvider does nothing and returns nil.
func (n *NoOpProvider) Close() error { return nil }
