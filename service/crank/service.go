package crank

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/viant/deferq/internal/clock"
	"github.com/viant/deferq/model/address"
	"github.com/viant/deferq/model/task"
	"github.com/viant/deferq/progress"
	"github.com/viant/deferq/service/event"
	"github.com/viant/deferq/service/ledger"
	"github.com/viant/deferq/service/messaging"
	"github.com/viant/deferq/service/messaging/memory"
	"github.com/viant/deferq/service/taskqueue"
)

// Job is a due task handed from the scanner to a worker.
type Job struct {
	Queue    address.Address
	Slot     uint16
	QueuedAt int64
}

// Key identifies the task instance; a reused slot gets a new key.
func (j Job) Key() string {
	return fmt.Sprintf("%s/%d/%d", j.Queue, j.Slot, j.QueuedAt)
}

// Outcome is the result of one execution attempt.
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeFailed    Outcome = "failed"
	OutcomeRetry     Outcome = "retry"
	OutcomeAbandoned Outcome = "abandoned"
	OutcomeSkipped   Outcome = "skipped"
)

// Execution is the payload of task.executed and task.abandoned events.
type Execution struct {
	Ref       task.Ref
	Outcome   Outcome
	Signature string
	Err       string
	Attempts  int
	Reclaimed bool
}

// attempt tracks a task across executions.
type attempt struct {
	inFlight  bool
	count     int
	next      time.Time
	abandoned bool
}

// Service executes due tasks.
type Service struct {
	config   Config
	manager  *taskqueue.Service
	client   ledger.Client
	payer    address.Address
	queue    messaging.Queue[Job]
	logger   zerolog.Logger
	events   *event.Service
	progress *progress.Progress
	watched  []address.Address

	mu       sync.Mutex
	attempts map[string]*attempt

	workers    []*worker
	workerWg   sync.WaitGroup
	shutdownCh chan struct{}
	once       sync.Once
}

// New creates a crank submitting task instructions to client with payer as
// fee payer.
func New(manager *taskqueue.Service, client ledger.Client, payer address.Address, opts ...Option) (*Service, error) {
	ret := &Service{
		config:     DefaultConfig(),
		manager:    manager,
		client:     client,
		payer:      payer,
		logger:     zerolog.Nop(),
		attempts:   map[string]*attempt{},
		shutdownCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ret)
	}
	if manager == nil {
		return nil, fmt.Errorf("task queue manager is required")
	}
	if client == nil {
		return nil, fmt.Errorf("ledger client is required")
	}
	if payer.IsZero() {
		return nil, fmt.Errorf("fee payer is required")
	}
	if err := ret.config.Retry.Validate(); err != nil {
		return nil, err
	}
	if ret.queue == nil {
		cfg := memory.DefaultConfig()
		cfg.QueueBuffer = ret.config.QueueBuffer
		ret.queue = memory.NewQueue[Job](cfg)
	}
	if ret.progress == nil {
		ret.progress = progress.New(payer.Short(), nil)
	}
	return ret, nil
}

// Progress returns the crank counters.
func (s *Service) Progress() progress.Progress {
	return s.progress.Snapshot()
}

// Start launches the workers and runs the scanner until ctx is done or
// Shutdown is called.
func (s *Service) Start(ctx context.Context) error {
	ctx = progress.WithTracker(ctx, s.progress)
	for i := 0; i < s.config.WorkerCount; i++ {
		workerCtx, cancel := context.WithCancel(ctx)
		w := &worker{id: i, service: s, ctx: workerCtx, cancelFn: cancel}
		s.workers = append(s.workers, w)
		s.workerWg.Add(1)
		go w.run()
	}
	err := s.scan(ctx)
	for _, w := range s.workers {
		w.cancelFn()
	}
	s.workerWg.Wait()
	return err
}

// Shutdown stops the scanner; Start returns once the workers exit.
func (s *Service) Shutdown() {
	s.once.Do(func() { close(s.shutdownCh) })
}

// RunOnce executes every currently due task synchronously and returns the
// outcomes.
func (s *Service) RunOnce(ctx context.Context) ([]*Execution, error) {
	ctx = progress.WithTracker(ctx, s.progress)
	jobs, err := s.due(ctx)
	if err != nil {
		return nil, err
	}
	var ret []*Execution
	for _, job := range jobs {
		ret = append(ret, s.execute(ctx, job))
	}
	return ret, nil
}

// Abandoned returns the keys of tasks given up on but still holding a slot.
func (s *Service) Abandoned() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ret []string
	for key, a := range s.attempts {
		if a.abandoned {
			ret = append(ret, key)
		}
	}
	return ret
}

// claim marks job in flight unless it already is, waits for a retry or was
// abandoned.
func (s *Service) claim(job Job, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[job.Key()]
	if !ok {
		a = &attempt{}
		s.attempts[job.Key()] = a
	}
	if a.inFlight || a.abandoned || now.Before(a.next) {
		return false
	}
	a.inFlight = true
	return true
}

// settle records the outcome of an attempt and returns the attempt count.
// A retried job becomes claimable again after the retry backoff.
func (s *Service) settle(job Job, outcome Outcome) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[job.Key()]
	if !ok {
		a = &attempt{}
	}
	a.inFlight = false
	a.count++
	count := a.count
	switch outcome {
	case OutcomeRetry:
		a.next = clock.Now().Add(s.retryDelay(count))
		s.attempts[job.Key()] = a
	case OutcomeAbandoned:
		a.abandoned = true
		s.attempts[job.Key()] = a
	default:
		delete(s.attempts, job.Key())
	}
	return count
}

// unclaim returns a claimed job that was never attempted.
func (s *Service) unclaim(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.attempts[job.Key()]; ok {
		a.inFlight = false
	}
}

// forget drops tracking of tasks whose slot no longer holds them.
func (s *Service) forget(live map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, a := range s.attempts {
		if !a.inFlight && !live[key] {
			delete(s.attempts, key)
		}
	}
}

func (s *Service) queues(ctx context.Context) ([]address.Address, error) {
	if len(s.watched) > 0 {
		return s.watched, nil
	}
	all, err := s.manager.Queues(ctx)
	if err != nil {
		return nil, err
	}
	ret := make([]address.Address, 0, len(all))
	for _, q := range all {
		ret = append(ret, q.Address)
	}
	return ret, nil
}

// due claims every due task of the watched queues.
func (s *Service) due(ctx context.Context) ([]Job, error) {
	queues, err := s.queues(ctx)
	if err != nil {
		return nil, err
	}
	now := clock.Now()
	live := map[string]bool{}
	var ret []Job
	var errs []error
	for _, queueAddr := range queues {
		tasks, err := s.manager.Tasks(ctx, queueAddr)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, aTask := range tasks {
			job := Job{Queue: aTask.Queue, Slot: aTask.Slot, QueuedAt: aTask.QueuedAt}
			live[job.Key()] = true
			if !aTask.IsDue(now) || !s.claim(job, now) {
				continue
			}
			ret = append(ret, job)
		}
	}
	if len(errs) == 0 {
		s.forget(live)
	}
	return ret, errors.Join(errs...)
}

func (s *Service) publish(ctx context.Context, eventType string, execution *Execution) {
	if s.events == nil {
		return
	}
	evt := event.NewEvent(&event.Context{Type: eventType, Service: "crank", Op: string(execution.Outcome), Resource: execution.Ref.Address.String()}, *execution)
	if err := event.PublisherOf[Execution](s.events).Publish(ctx, evt); err != nil {
		s.logger.Warn().Err(err).Msg("event not published")
	}
}
