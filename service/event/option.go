package event

import (
	"github.com/rs/zerolog"
	"github.com/viant/deferq/service/messaging/memory"
)

// Option configures the event service.
type Option func(s *Service)

// WithNewMemoryQueueConfig sets the memory queue configuration per event type.
func WithNewMemoryQueueConfig(newConfig func(name string) memory.Config) Option {
	return func(s *Service) {
		s.newQueueConfig = newConfig
	}
}

// WithLogger sets the logger used by listeners.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}
