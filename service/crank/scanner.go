package crank

import (
	"context"
	"time"

	"github.com/viant/deferq/progress"
)

// scan polls for due tasks and hands them to the workers.
func (s *Service) scan(ctx context.Context) error {
	interval := s.config.PollInterval
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
			if err := s.dispatch(ctx); err != nil {
				s.logger.Error().Err(err).Msg("scan failed")
			}
		}
	}
}

// dispatch publishes every claimed job; a job that cannot be published is
// unclaimed so that the next scan picks it up again.
func (s *Service) dispatch(ctx context.Context) error {
	jobs, err := s.due(ctx)
	for i, job := range jobs {
		if pErr := s.queue.Publish(ctx, &job); pErr != nil {
			for _, pending := range jobs[i:] {
				s.unclaim(pending)
			}
			return pErr
		}
		progress.UpdateCtx(ctx, progress.Delta{Dispatched: 1, InFlight: 1})
	}
	return err
}
