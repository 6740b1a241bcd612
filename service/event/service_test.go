package event

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type released struct {
	Slot int
}

func TestService(t *testing.T) {
	srv := New()
	defer srv.Shutdown()

	typed := make(chan *Event[released], 1)
	all := make(chan *Event[any], 1)
	SetListenerOf[released](srv, func(e *Event[released]) { typed <- e })
	srv.SetListener(func(e *Event[any]) { all <- e })

	publisher := PublisherOf[released](srv)
	assert.Same(t, publisher, PublisherOf[released](srv))
	evt := NewEvent(&Context{Type: TypeSlotReleased, Resource: "q"}, released{Slot: 3})
	require.NoError(t, publisher.Publish(context.Background(), evt))

	select {
	case got := <-typed:
		assert.Equal(t, 3, got.Data.Slot)
		assert.Equal(t, evt.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("typed listener not called")
	}
	select {
	case got := <-all:
		assert.Equal(t, TypeSlotReleased, got.Context.Type)
		assert.Equal(t, released{Slot: 3}, got.Data)
	case <-time.After(time.Second):
		t.Fatal("listener not called")
	}
}

func TestNilPublisher(t *testing.T) {
	var publisher *Publisher[released]
	assert.NoError(t, publisher.Publish(context.Background(), NewEvent(&Context{}, released{})))
}
