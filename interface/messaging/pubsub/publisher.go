package pubsub

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// Publisher implements messaging.Publisher on a Google Pub/Sub topic
// If PUBSUB_EMULATOR_HOST is defined, the emulator is used.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPublisher creates a Publisher on an existing topic
func NewPublisher(ctx context.Context, project, topic string, opts ...option.ClientOption) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient: %w", err)
	}
	t := client.Topic(topic)
	exists, err := t.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("pubsub.Exists: %w", err)
	}
	if !exists {
		client.Close()
		return nil, fmt.Errorf("pubsub: topic %s not found in project %s", topic, project)
	}
	return &Publisher{client: client, topic: t}, nil
}

// Publish implements messaging.Publisher
func (p *Publisher) Publish(ctx context.Context, data ...[]byte) error {
	results := make([]*pubsub.PublishResult, len(data))
	for i, d := range data {
		results[i] = p.topic.Publish(ctx, &pubsub.Message{Data: d})
	}
	for _, res := range results {
		if _, err := res.Get(ctx); err != nil {
			return fmt.Errorf("pubsub.Publish: %w", err)
		}
	}
	return nil
}

// Close flushes the pending messages and releases the client
func (p *Publisher) Close() error {
	p.topic.Stop()
	return p.client.Close()
}
