// Package messaging defines the hand-off queue between the crank scanner,
// which discovers due tasks, and the crank workers, which execute them.
package messaging

import (
	"context"
)

// Queue is a message queue for any payload type.
type Queue[T any] interface {
	// Publish adds a new message with payload to the queue
	Publish(ctx context.Context, t *T) error

	// Consume blocks until a message is available or ctx is done
	Consume(ctx context.Context) (Message[T], error)
}

// Message is a message retrieved from a queue.
type Message[T any] interface {
	// T returns the payload of this message
	T() *T

	// Ack acknowledges successful processing of this message
	Ack() error

	// Nack reports a failure; the queue may redeliver the message
	Nack(err error) error
}
