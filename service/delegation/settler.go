package delegation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/viant/deferq/internal/clock"
	"github.com/viant/deferq/model/fault"
)

// Settler periodically settles accounts whose settlement delay elapsed.
type Settler struct {
	service    *Service
	shutdownCh chan struct{}
	once       sync.Once
}

// NewSettler creates a settler for service.
func NewSettler(service *Service) *Settler {
	return &Settler{service: service, shutdownCh: make(chan struct{})}
}

// Start runs the settlement loop until ctx is done or Shutdown is called.
func (s *Settler) Start(ctx context.Context) error {
	interval := s.service.config.PollInterval
	if interval <= 0 {
		interval = DefaultConfig().PollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.shutdownCh:
			return nil
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.service.logger.Error().Err(err).Msg("settlement pass failed")
			}
		}
	}
}

// Shutdown stops the loop.
func (s *Settler) Shutdown() {
	s.once.Do(func() { close(s.shutdownCh) })
}

// RunOnce settles every due account and returns how many were settled.
func (s *Settler) RunOnce(ctx context.Context) (int, error) {
	pending, err := s.service.Pending(ctx)
	if err != nil {
		return 0, err
	}
	now := clock.Now()
	settled := 0
	var errs []error
	for _, acct := range pending {
		if now.Before(acct.SettleAt) {
			continue
		}
		if _, err := s.service.Settle(ctx, acct.Address); err != nil {
			// another settler or a newer commit got there first
			if errors.Is(err, fault.ErrSettlementNotFinalized) || errors.Is(err, fault.ErrIllegalStateTransition) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		settled++
	}
	return settled, errors.Join(errs...)
}
