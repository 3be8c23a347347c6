package messaging

import "context"

// Publisher publishes messages on a topic
type Publisher interface {
	// Publish sends the messages and waits for their acknowledgement
	Publish(ctx context.Context, data ...[]byte) error
}
