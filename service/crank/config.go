package crank

import (
	"time"

	"github.com/viant/deferq/service/poll"
)

// Config represents crank configuration.
type Config struct {
	// WorkerCount is the number of workers executing tasks
	WorkerCount int
	// PollInterval is how often the scanner looks for due tasks
	PollInterval time.Duration
	// ConfirmTimeout bounds a single submit and confirmation round trip
	ConfirmTimeout time.Duration
	// Retry spaces out attempts of transiently failing tasks
	Retry poll.Backoff
	// QueueBuffer is the capacity of the scanner to worker hand-off queue
	QueueBuffer int
}

// DefaultConfig returns the default crank configuration.
func DefaultConfig() Config {
	return Config{
		WorkerCount:    4,
		PollInterval:   time.Second,
		ConfirmTimeout: 30 * time.Second,
		Retry:          poll.Exponential(time.Second, time.Minute, 0),
		QueueBuffer:    256,
	}
}
