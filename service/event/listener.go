package event

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// Listener dispatches consumed events to a handler on its own goroutine.
type Listener[T any] struct {
	consume func(ctx context.Context) (*Event[T], error)
	handler func(*Event[T])
	logger  zerolog.Logger
	cancel  context.CancelFunc
	done    sync.WaitGroup
}

// NewListener creates a listener reading from publisher.
func NewListener[T any](publisher *Publisher[T], handler func(*Event[T]), logger zerolog.Logger) *Listener[T] {
	return &Listener[T]{consume: publisher.Consume, handler: handler, logger: logger}
}

// Start begins dispatching.
func (l *Listener[T]) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done.Add(1)
	go func() {
		defer l.done.Done()
		for {
			event, err := l.consume(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				l.logger.Error().Err(err).Msg("consume event")
				continue
			}
			if event != nil {
				l.handler(event)
			}
		}
	}()
}

// Stop terminates dispatching and waits for the goroutine to exit.
func (l *Listener[T]) Stop() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	l.done.Wait()
}
