package deferq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/viant/deferq/internal/logging"
	"github.com/viant/deferq/model/account"
	"github.com/viant/deferq/model/address"
	"github.com/viant/deferq/model/queue"
	"github.com/viant/deferq/policy"
	"github.com/viant/deferq/service/crank"
	"github.com/viant/deferq/service/delegation"
	"github.com/viant/deferq/service/event"
	"github.com/viant/deferq/service/ledger"
	ledgermem "github.com/viant/deferq/service/ledger/memory"
	"github.com/viant/deferq/service/program/memo"
	"github.com/viant/deferq/service/program/state"
	"github.com/viant/deferq/service/store"
	"github.com/viant/deferq/service/store/fs"
	"github.com/viant/deferq/service/store/memory"
	"github.com/viant/deferq/service/taskqueue"
	"github.com/viant/deferq/tracing"
)

// Service wires the task queue, delegation and crank services over one store.
type Service struct {
	config        *Config
	logger        *zerolog.Logger
	store         store.Store
	events        *event.Service
	programs      []ledger.Program
	ledgerOptions []ledgermem.Option
	crankOptions  []crank.Option

	policy     *policy.Queue
	taskQueue  *taskqueue.Service
	delegation *delegation.Service
	settler    *delegation.Settler
	ledgers    map[account.Side]*ledgermem.Ledger
	crank      *crank.Service
	payer      address.Address

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New creates a service from options.
func New(options ...Option) (*Service, error) {
	ret := &Service{config: DefaultConfig()}
	for _, option := range options {
		option(ret)
	}
	if err := ret.init(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *Service) init() error {
	cfg := s.config
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if s.logger == nil {
		logger := logging.New("deferq", cfg.Logging)
		s.logger = &logger
	}
	logger := *s.logger
	if cfg.Tracing.Enabled {
		if err := tracing.Init(cfg.Tracing.Service, cfg.Tracing.Version, cfg.Tracing.OutputFile); err != nil {
			return fmt.Errorf("failed to init tracing: %w", err)
		}
	}
	if err := s.ensureStore(); err != nil {
		return err
	}
	if s.events == nil {
		s.events = event.New(event.WithLogger(logger))
	}

	var err error
	if s.policy, err = cfg.QueuePolicy(); err != nil {
		return err
	}
	s.taskQueue = taskqueue.New(s.store, taskqueue.WithLogger(logger), taskqueue.WithEvents(s.events))

	settlement, err := cfg.SettlementConfig()
	if err != nil {
		return err
	}
	s.delegation = delegation.New(s.store, delegation.WithConfig(settlement), delegation.WithLogger(logger), delegation.WithEvents(s.events))
	s.settler = delegation.NewSettler(s.delegation)

	programs := append([]ledger.Program{memo.New(), state.New(s.delegation)}, s.programs...)
	s.ledgers = map[account.Side]*ledgermem.Ledger{}
	for _, side := range []account.Side{account.SideBase, account.SideEphemeral} {
		opts := append([]ledgermem.Option{ledgermem.WithPrograms(programs...), ledgermem.WithLogger(logger)}, s.ledgerOptions...)
		s.ledgers[side] = ledgermem.New(side, s.store, opts...)
	}

	crankConfig, err := cfg.CrankConfig()
	if err != nil {
		return err
	}
	side, err := cfg.CrankSide()
	if err != nil {
		return err
	}
	s.payer = address.Principal(cfg.Crank.Payer)
	crankOptions := append([]crank.Option{crank.WithConfig(crankConfig), crank.WithLogger(logger), crank.WithEvents(s.events)}, s.crankOptions...)
	if s.crank, err = crank.New(s.taskQueue, s.ledgers[side], s.payer, crankOptions...); err != nil {
		return err
	}
	return nil
}

func (s *Service) ensureStore() error {
	if s.store != nil {
		return nil
	}
	switch strings.ToLower(s.config.Store.Kind) {
	case StoreFS:
		st, err := fs.New(s.config.Store.URL)
		if err != nil {
			return fmt.Errorf("failed to open store %s: %w", s.config.Store.URL, err)
		}
		s.store = st
	default:
		s.store = memory.New()
	}
	return nil
}

// Config returns the effective configuration.
func (s *Service) Config() *Config { return s.config }

// Logger returns the shared logger.
func (s *Service) Logger() zerolog.Logger { return *s.logger }

// Store returns the account store.
func (s *Service) Store() store.Store { return s.store }

// Events returns the event service.
func (s *Service) Events() *event.Service { return s.events }

// TaskQueue returns the task queue manager.
func (s *Service) TaskQueue() *taskqueue.Service { return s.taskQueue }

// Delegation returns the delegation service.
func (s *Service) Delegation() *delegation.Service { return s.delegation }

// Settler returns the delegation settler.
func (s *Service) Settler() *delegation.Settler { return s.settler }

// Crank returns the executor.
func (s *Service) Crank() *crank.Service { return s.crank }

// Payer returns the crank fee payer.
func (s *Service) Payer() address.Address { return s.payer }

// Ledger returns the in-memory ledger of side.
func (s *Service) Ledger(side account.Side) *ledgermem.Ledger { return s.ledgers[side] }

// CreateQueue creates a queue; a nil policy applies the configured default.
func (s *Service) CreateQueue(ctx context.Context, owner address.Address, namespace, name string, capacity uint32, pol *policy.Queue) (*queue.TaskQueue, error) {
	if pol == nil {
		pol = s.policy
	}
	return s.taskQueue.CreateQueue(ctx, owner, namespace, name, capacity, pol)
}

// Start runs the enabled background services, the settler and the crank,
// until ctx is done or Shutdown is called.
func (s *Service) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	var wg sync.WaitGroup
	var errMu sync.Mutex
	var errs []error
	run := func(name string, fn func(ctx context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				errMu.Unlock()
			}
		}()
	}
	if s.config.Settlement.Enabled {
		run("settler", s.settler.Start)
	}
	if s.config.Crank.Enabled {
		run("crank", s.crank.Start)
	}
	s.logger.Info().Bool("settler", s.config.Settlement.Enabled).Bool("crank", s.config.Crank.Enabled).Msg("service started")
	<-ctx.Done()
	s.settler.Shutdown()
	s.crank.Shutdown()
	wg.Wait()
	s.logger.Info().Msg("service stopped")
	return errors.Join(errs...)
}

// Shutdown stops the background services and event listeners.
func (s *Service) Shutdown() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.settler.Shutdown()
	s.crank.Shutdown()
	s.events.Shutdown()
}
