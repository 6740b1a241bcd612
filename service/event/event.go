// Package event publishes task queue and delegation notifications (task
// enqueued, slot released, account transitioned) to in-process listeners.
package event

import (
	"time"

	"github.com/viant/deferq/internal/clock"
	"github.com/viant/deferq/internal/idgen"
)

// Event types.
const (
	TypeQueueCreated      = "queue.created"
	TypeTaskEnqueued      = "task.enqueued"
	TypeSlotReleased      = "slot.released"
	TypeAccountTransition = "account.transition"
	TypeTaskExecuted      = "task.executed"
	TypeTaskAbandoned     = "task.abandoned"
)

// Context describes where an event originated.
type Context struct {
	Type     string `json:"type"`
	Service  string `json:"service"`
	Op       string `json:"op"`
	Resource string `json:"resource"`
}

// Event wraps a typed payload.
type Event[T any] struct {
	ID        string                 `json:"id"`
	Context   *Context               `json:"context"`
	CreatedAt time.Time              `json:"createdAt"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Data      T                      `json:"data"`
}

// NewEvent creates an event stamped with the current time.
func NewEvent[T any](context *Context, data T) *Event[T] {
	return &Event[T]{
		ID:        idgen.New(),
		Context:   context,
		CreatedAt: clock.Now(),
		Metadata:  make(map[string]interface{}),
		Data:      data,
	}
}
