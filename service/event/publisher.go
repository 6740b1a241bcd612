package event

import (
	"context"
	"sync"

	"github.com/viant/deferq/service/messaging"
)

// Publisher publishes typed events. Events go to the typed queue and are
// mirrored onto the service-wide queue; a publisher without queues drops
// events, so nothing accumulates while no listener is set.
type Publisher[T any] struct {
	mu       sync.RWMutex
	queue    messaging.Queue[Event[T]]
	anyQueue messaging.Queue[Event[any]]
}

// NewPublisher creates a publisher over queue.
func NewPublisher[T any](queue messaging.Queue[Event[T]]) *Publisher[T] {
	return &Publisher[T]{queue: queue}
}

func (p *Publisher[T]) attach(queue messaging.Queue[Event[T]], anyQueue messaging.Queue[Event[any]]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if queue != nil {
		p.queue = queue
	}
	if anyQueue != nil {
		p.anyQueue = anyQueue
	}
}

func (p *Publisher[T]) typedQueue() messaging.Queue[Event[T]] {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.queue
}

// Publish sends event.
func (p *Publisher[T]) Publish(ctx context.Context, event *Event[T]) error {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	queue, anyQueue := p.queue, p.anyQueue
	p.mu.RUnlock()
	if anyQueue != nil {
		if err := anyQueue.Publish(ctx, &Event[any]{
			ID:        event.ID,
			Context:   event.Context,
			CreatedAt: event.CreatedAt,
			Metadata:  event.Metadata,
			Data:      event.Data,
		}); err != nil {
			return err
		}
	}
	if queue == nil {
		return nil
	}
	return queue.Publish(ctx, event)
}

// Consume waits for the next typed event.
func (p *Publisher[T]) Consume(ctx context.Context) (*Event[T], error) {
	queue := p.typedQueue()
	if queue == nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	msg, err := queue.Consume(ctx)
	if err != nil || msg == nil {
		return nil, err
	}
	if err = msg.Ack(); err != nil {
		return nil, err
	}
	return msg.T(), nil
}
