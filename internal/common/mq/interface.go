package mq

import (
	"context"
	"time"
)

// Publisher is the subset of message-queue operations the evaluation
// service actually exercises: events.Publisher fires one Message per
// completed submission and never consumes, batches, or manages the
// connection lifecycle itself. This is deliberately narrower than a
// general-purpose MQ client: no consumer groups, no subscribe/pause/resume,
// no batch publish, because nothing in this service uses them.
type Publisher interface {
	// Publish publishes a message to the specified topic.
	Publish(ctx context.Context, topic string, message *Message) error
}

// Message represents a message in the queue.
type Message struct {
	// ID is the unique identifier for the message.
	ID string `json:"id"`

	// Body is the message payload.
	Body []byte `json:"body"`

	// Headers contains metadata about the message.
	Headers map[string]string `json:"headers"`

	// Timestamp is when the message was created.
	Timestamp time.Time `json:"timestamp"`
}
