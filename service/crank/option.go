package crank

import (
	"github.com/rs/zerolog"
	"github.com/viant/deferq/model/address"
	"github.com/viant/deferq/progress"
	"github.com/viant/deferq/service/event"
	"github.com/viant/deferq/service/messaging"
)

// Option configures the crank.
type Option func(s *Service)

// WithConfig sets the configuration.
func WithConfig(config Config) Option {
	return func(s *Service) {
		s.config = config
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithEvents publishes execution outcomes to events.
func WithEvents(events *event.Service) Option {
	return func(s *Service) {
		s.events = events
	}
}

// WithMessageQueue replaces the scanner to worker hand-off queue.
func WithMessageQueue(queue messaging.Queue[Job]) Option {
	return func(s *Service) {
		s.queue = queue
	}
}

// WithQueues restricts the crank to the given queues; by default every
// queue is watched.
func WithQueues(queues ...address.Address) Option {
	return func(s *Service) {
		s.watched = append(s.watched, queues...)
	}
}

// WithProgress sets the counter tracker.
func WithProgress(tracker *progress.Progress) Option {
	return func(s *Service) {
		s.progress = tracker
	}
}
