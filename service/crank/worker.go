package crank

import (
	"context"
	"errors"
	"time"

	"github.com/viant/deferq/internal/clock"
	"github.com/viant/deferq/model/compiled"
	"github.com/viant/deferq/model/fault"
	"github.com/viant/deferq/model/task"
	"github.com/viant/deferq/policy"
	"github.com/viant/deferq/progress"
	"github.com/viant/deferq/service/event"
	"github.com/viant/deferq/service/ledger"
	"github.com/viant/deferq/service/store"
	"github.com/viant/deferq/service/taskqueue"
	"github.com/viant/deferq/tracing"
)

type worker struct {
	id       int
	service  *Service
	ctx      context.Context
	cancelFn context.CancelFunc
}

// run executes jobs until the worker context is cancelled.
func (w *worker) run() {
	defer w.service.workerWg.Done()
	for {
		msg, err := w.service.queue.Consume(w.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || w.ctx.Err() != nil {
				return
			}
			w.service.logger.Error().Err(err).Int("worker", w.id).Msg("consume failed")
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		job := *msg.T()
		w.service.execute(w.ctx, job)
		progress.UpdateCtx(w.ctx, progress.Delta{InFlight: -1})
		if err = msg.Ack(); err != nil {
			w.service.logger.Warn().Err(err).Int("worker", w.id).Msg("ack failed")
		}
	}
}

// execute runs one attempt of job. The slot is released once the task
// either confirmed or failed for good; transient failures are retried until
// the task goes stale.
func (s *Service) execute(ctx context.Context, job Job) (execution *Execution) {
	ctx, span := tracing.StartSpan(ctx, "crank.Execute", "CONSUMER")
	var spanErr error
	defer func() { tracing.EndSpan(span, spanErr) }()
	span.WithAttributes(map[string]string{"queue": job.Queue.String(), "job": job.Key()})

	execution = &Execution{Ref: task.Ref{Queue: job.Queue, Slot: job.Slot}}
	aTask, err := s.manager.Task(ctx, job.Queue, job.Slot)
	if err == nil && aTask.QueuedAt != job.QueuedAt {
		err = store.ErrNotFound
	}
	if err != nil {
		// released or replaced since the scan
		execution.Outcome = OutcomeSkipped
		if !errors.Is(err, store.ErrNotFound) {
			execution.Outcome = OutcomeRetry
			execution.Err = err.Error()
			spanErr = err
		}
		execution.Attempts = s.settle(job, execution.Outcome)
		return execution
	}
	execution.Ref = aTask.Ref()

	signature, err := s.submit(ctx, aTask)
	execution.Signature = signature
	switch {
	case err == nil:
		execution.Outcome = OutcomeConfirmed
	case ledger.IsTransient(err) || errors.Is(err, ledger.ErrUnknownTransaction):
		execution.Outcome = OutcomeRetry
	default:
		execution.Outcome = OutcomeFailed
	}
	if err != nil {
		execution.Err = err.Error()
		spanErr = err
	}
	if execution.Outcome == OutcomeRetry {
		return s.retryOrAbandon(ctx, job, aTask, execution)
	}

	s.release(ctx, aTask, false)
	execution.Attempts = s.settle(job, execution.Outcome)
	logEvent := s.logger.Info()
	delta := progress.Delta{Confirmed: 1}
	if execution.Outcome == OutcomeFailed {
		logEvent = s.logger.Warn().Str("error", execution.Err)
		delta = progress.Delta{Failed: 1}
	}
	progress.UpdateCtx(ctx, delta)
	logEvent.Str("task", aTask.Address().String()).
		Uint16("slot", aTask.Slot).
		Str("signature", signature).
		Str("outcome", string(execution.Outcome)).
		Int("attempts", execution.Attempts).
		Msg("task executed")
	s.publish(ctx, event.TypeTaskExecuted, execution)
	return execution
}

func (s *Service) retryOrAbandon(ctx context.Context, job Job, aTask *task.Task, execution *Execution) *Execution {
	pol := s.policyOf(ctx, aTask)
	now := clock.Now()
	if !pol.IsStale(aTask.QueuedTime(), now) {
		execution.Attempts = s.settle(job, OutcomeRetry)
		progress.UpdateCtx(ctx, progress.Delta{Retried: 1})
		s.logger.Debug().Str("task", aTask.Address().String()).
			Int("attempts", execution.Attempts).
			Str("error", execution.Err).
			Msg("task will be retried")
		return execution
	}

	execution.Outcome = OutcomeAbandoned
	delta := progress.Delta{Abandoned: 1}
	if pol.Reclaims() {
		execution.Reclaimed = s.release(ctx, aTask, true)
	}
	if execution.Reclaimed {
		delta.Reclaimed = 1
		execution.Attempts = s.settle(job, OutcomeFailed)
	} else {
		execution.Attempts = s.settle(job, OutcomeAbandoned)
	}
	progress.UpdateCtx(ctx, delta)
	s.logger.Warn().Str("task", aTask.Address().String()).
		Int("attempts", execution.Attempts).
		Bool("reclaimed", execution.Reclaimed).
		Str("error", execution.Err).
		Msg("task abandoned")
	s.publish(ctx, event.TypeTaskAbandoned, execution)
	return execution
}

// policyOf returns the policy carried by ctx, falling back to the one stored
// with the task's queue.
func (s *Service) policyOf(ctx context.Context, aTask *task.Task) *policy.Queue {
	if pol := policy.FromContext(ctx); pol != nil {
		return pol
	}
	q, err := s.manager.Queue(ctx, aTask.Queue)
	if err != nil {
		s.logger.Warn().Err(err).Str("queue", aTask.Queue.String()).Msg("using default policy")
		return policy.Default()
	}
	return q.Policy()
}

func (s *Service) retryDelay(attempt int) time.Duration {
	if delay, ok := s.config.Retry.Next(attempt); ok {
		return delay
	}
	return s.config.Retry.Delay
}

// submit sends the task instructions and waits for the outcome. A failed
// transaction is reported as a non-transient error.
func (s *Service) submit(ctx context.Context, aTask *task.Task) (string, error) {
	tx, err := compiled.Unmarshal(aTask.Instructions)
	if err != nil {
		return "", fault.New(fault.KindMalformedRecord, "execute", aTask.Address().String(), err)
	}
	if s.config.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ConfirmTimeout)
		defer cancel()
	}
	signature, err := s.client.Submit(ctx, tx, s.payer)
	if err != nil {
		return "", err
	}
	summary, err := s.client.AwaitConfirmation(ctx, signature)
	if err != nil {
		return signature, err
	}
	if summary.Status != ledger.StatusConfirmed {
		return signature, errors.New(summary.Err)
	}
	return signature, nil
}

// release frees the task slot, as the queue owner when reclaiming. A slot
// freed in the meantime is not an error.
func (s *Service) release(ctx context.Context, aTask *task.Task, reclaim bool) bool {
	var err error
	if reclaim {
		err = s.manager.ReclaimAbandoned(ctx, aTask.Queue, aTask.Slot)
		if errors.Is(err, taskqueue.ErrReclaimDisabled) {
			s.logger.Warn().Str("task", aTask.Address().String()).Msg("reclaim requested but disabled on queue")
			return false
		}
	} else {
		err = s.manager.Release(ctx, aTask.Queue, aTask.Slot)
	}
	if err == nil {
		return true
	}
	if !errors.Is(err, fault.ErrSlotNotOccupied) {
		s.logger.Error().Err(err).Str("task", aTask.Address().String()).Msg("release failed")
	}
	return false
}
