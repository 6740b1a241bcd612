package taskqueue

import (
	"github.com/rs/zerolog"
	"github.com/viant/deferq/service/event"
)

// Option configures the service.
type Option func(s *Service)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithEvents publishes queue events to events.
func WithEvents(events *event.Service) Option {
	return func(s *Service) {
		s.events = events
	}
}
