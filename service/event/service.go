package event

import (
	"reflect"
	"sync"

	"github.com/rs/zerolog"
	"github.com/viant/deferq/service/messaging"
	"github.com/viant/deferq/service/messaging/memory"
)

// Service owns one publisher per event payload type. Queues are created when
// a listener is registered: a typed queue by SetListenerOf, and the
// service-wide queue receiving every event by SetListener.
type Service struct {
	anyQueue        messaging.Queue[Event[any]]
	listener        *Listener[any]
	typedPublishers map[reflect.Type]attacher
	typedListeners  map[reflect.Type]stopper
	mux             sync.RWMutex
	newQueueConfig  func(name string) memory.Config
	logger          zerolog.Logger
}

type attacher interface {
	attachAny(queue messaging.Queue[Event[any]])
}

type stopper interface {
	Stop()
}

func (p *Publisher[T]) attachAny(queue messaging.Queue[Event[any]]) { p.attach(nil, queue) }

// New creates an event service backed by memory queues.
func New(opts ...Option) *Service {
	ret := &Service{
		typedPublishers: make(map[reflect.Type]attacher),
		typedListeners:  make(map[reflect.Type]stopper),
		newQueueConfig:  DefaultQueueConfig,
		logger:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// DefaultQueueConfig returns a non-blocking queue config: publishing an event
// never stalls the operation that emitted it.
func DefaultQueueConfig(string) memory.Config {
	cfg := memory.DefaultConfig()
	cfg.NonBlocking = true
	cfg.MaxRetries = 0
	return cfg
}

// QueueOf creates a named queue.
func QueueOf[T any](s *Service, name string) messaging.Queue[T] {
	return memory.NewQueue[T](s.newQueueConfig(name))
}

// SetListener registers handler for every event regardless of payload type.
func (s *Service) SetListener(handler func(*Event[any])) {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.listener != nil {
		s.listener.Stop()
	}
	if s.anyQueue == nil {
		s.anyQueue = QueueOf[Event[any]](s, "any")
		for _, publisher := range s.typedPublishers {
			publisher.attachAny(s.anyQueue)
		}
	}
	s.listener = NewListener[any](NewPublisher[any](s.anyQueue), handler, s.logger)
	s.listener.Start()
}

// Shutdown stops all listeners.
func (s *Service) Shutdown() {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.listener != nil {
		s.listener.Stop()
		s.listener = nil
	}
	for key, l := range s.typedListeners {
		l.Stop()
		delete(s.typedListeners, key)
	}
}

func keyOf[T any]() reflect.Type {
	rType := reflect.TypeOf((*T)(nil)).Elem()
	if rType.Kind() == reflect.Ptr {
		rType = rType.Elem()
	}
	return rType
}

// SetListenerOf registers handler for events carrying T.
func SetListenerOf[T any](s *Service, handler func(*Event[T])) {
	publisher := PublisherOf[T](s)
	key := keyOf[T]()
	s.mux.Lock()
	defer s.mux.Unlock()
	if prev, ok := s.typedListeners[key]; ok {
		prev.Stop()
	}
	if publisher.typedQueue() == nil {
		publisher.attach(QueueOf[Event[T]](s, key.String()), nil)
	}
	listener := NewListener[T](publisher, handler, s.logger)
	s.typedListeners[key] = listener
	listener.Start()
}

// PublisherOf returns the publisher for events carrying T.
func PublisherOf[T any](s *Service) *Publisher[T] {
	key := keyOf[T]()
	s.mux.RLock()
	ret, ok := s.typedPublishers[key]
	s.mux.RUnlock()
	if ok {
		return ret.(*Publisher[T])
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	if ret, ok = s.typedPublishers[key]; ok {
		return ret.(*Publisher[T])
	}
	publisher := NewPublisher[T](nil)
	publisher.attach(nil, s.anyQueue)
	s.typedPublishers[key] = publisher
	return publisher
}
