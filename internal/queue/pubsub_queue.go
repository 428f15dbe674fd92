package queue

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/hotcharts/chartcrawler/internal/logging"
)

// PubSubProvider implements Provider for Google Cloud Pub/Sub.
type PubSubProvider struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSubProvider creates a Pub/Sub client and verifies the topic exists.
// It authenticates via Google Cloud's Application Default Credentials.
func NewPubSubProvider(ctx context.Context, projectID, topicID string) (*PubSubProvider, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logging.L.Warn("Failed to close pubsub client after topic check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("check pubsub topic %q: %w", topicID, err)
	}
	if !exists {
		if closeErr := client.Close(); closeErr != nil {
			logging.L.Warn("Failed to close pubsub client after topic check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", topicID, projectID)
	}

	return &PubSubProvider{
		client: client,
		topic:  topic,
	}, nil
}

// Publish sends the payload to the topic. The client batches and retries in
// the background, so this does not block on acknowledgement.
func (p *PubSubProvider) Publish(ctx context.Context, payload []byte) error {
	result := p.topic.Publish(ctx, &pubsub.Message{Data: payload})
	_ = result // fire and forget
	return nil
}

// Close stops the topic's publisher goroutines and closes the client.
func (p *PubSubProvider) Close() error {
	p.topic.Stop()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
