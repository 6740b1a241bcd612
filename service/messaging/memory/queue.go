// Package memory provides a buffered in-process messaging.Queue with delayed
// redelivery of nacked messages and an optional dead letter list.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/viant/deferq/internal/idgen"
	"github.com/viant/deferq/service/messaging"
)

// ErrProcessed is returned when a message is acked or nacked twice.
var ErrProcessed = errors.New("message already processed")

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("queue closed")

// ErrFull is returned by Publish on a non-blocking queue whose buffer is full.
var ErrFull = errors.New("queue full")

// Config for the memory queue.
type Config struct {
	MaxRetries  int
	RetryDelay  time.Duration
	DeadLetter  bool
	QueueBuffer int
	// NonBlocking makes Publish fail with ErrFull instead of waiting for room.
	NonBlocking bool
}

// DefaultConfig returns a standard configuration for the memory queue.
func DefaultConfig() Config {
	return Config{
		MaxRetries:  3,
		RetryDelay:  100 * time.Millisecond,
		DeadLetter:  true,
		QueueBuffer: 100,
	}
}

// Message is a delivered payload.
type Message[T any] struct {
	id         string
	payload    T
	queue      *Queue[T]
	retryCount int
	lastErr    error

	mu        sync.Mutex
	processed bool
}

// ID returns the message id; redeliveries keep the id.
func (m *Message[T]) ID() string { return m.id }

// T returns the message payload.
func (m *Message[T]) T() *T { return &m.payload }

// Ack acknowledges the message as processed successfully.
func (m *Message[T]) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed {
		return ErrProcessed
	}
	m.processed = true
	return nil
}

// Nack schedules redelivery after RetryDelay until MaxRetries is exhausted,
// then moves the message to the dead letter list when enabled.
func (m *Message[T]) Nack(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed {
		return ErrProcessed
	}
	m.processed = true
	m.lastErr = err

	q := m.queue
	if m.retryCount < q.config.MaxRetries {
		redelivery := &Message[T]{id: m.id, payload: m.payload, queue: q, retryCount: m.retryCount + 1, lastErr: err}
		q.pending.Add(1)
		time.AfterFunc(q.config.RetryDelay, func() {
			defer q.pending.Done()
			q.deliver(redelivery)
		})
		return nil
	}
	if q.config.DeadLetter {
		q.dlqMu.Lock()
		q.dlq = append(q.dlq, m)
		q.dlqMu.Unlock()
	}
	return nil
}

// Queue implements messaging.Queue in memory.
type Queue[T any] struct {
	messages chan *Message[T]
	config   Config
	dlq      []*Message[T]
	dlqMu    sync.Mutex
	pending  sync.WaitGroup

	closeMu sync.RWMutex
	closed  bool
}

// NewQueue creates a new in-memory queue.
func NewQueue[T any](config Config) *Queue[T] {
	if config.QueueBuffer <= 0 {
		config.QueueBuffer = DefaultConfig().QueueBuffer
	}
	return &Queue[T]{
		messages: make(chan *Message[T], config.QueueBuffer),
		config:   config,
	}
}

// Publish adds a new item to the queue. Unless the queue is non-blocking it
// waits while the buffer is full.
func (q *Queue[T]) Publish(ctx context.Context, t *T) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	msg := &Message[T]{id: idgen.New(), payload: *t, queue: q}
	if q.config.NonBlocking {
		select {
		case q.messages <- msg:
			return nil
		default:
			return ErrFull
		}
	}
	select {
	case q.messages <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue[T]) deliver(msg *Message[T]) {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return
	}
	select {
	case q.messages <- msg:
	default:
		// buffer full: park the redelivery in the dead letter list
		q.dlqMu.Lock()
		q.dlq = append(q.dlq, msg)
		q.dlqMu.Unlock()
	}
}

// Consume retrieves a single item from the queue.
func (q *Queue[T]) Consume(ctx context.Context) (messaging.Message[T], error) {
	select {
	case msg := <-q.messages:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Size returns the number of buffered messages.
func (q *Queue[T]) Size() int {
	return len(q.messages)
}

// DeadLetters returns the payloads in the dead letter list.
func (q *Queue[T]) DeadLetters() []T {
	q.dlqMu.Lock()
	defer q.dlqMu.Unlock()
	ret := make([]T, 0, len(q.dlq))
	for _, m := range q.dlq {
		ret = append(ret, m.payload)
	}
	return ret
}

// Close stops accepting messages and waits for scheduled redeliveries.
func (q *Queue[T]) Close() {
	q.closeMu.Lock()
	q.closed = true
	q.closeMu.Unlock()
	q.pending.Wait()
}

var _ messaging.Queue[any] = (*Queue[any])(nil)
