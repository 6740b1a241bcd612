package delegation

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/viant/deferq/service/event"
)

// Option configures the service.
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

// WithEvents publishes account transitions to events.
func WithEvents(events *event.Service) Option {
	return func(s *Service) {
		s.events = events
	}
}

// WithJitter replaces the random settlement jitter source.
func WithJitter(fn func(max time.Duration) time.Duration) Option {
	return func(s *Service) {
		s.jitter = fn
	}
}
