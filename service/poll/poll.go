package poll

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/viant/deferq/model/account"
	"github.com/viant/deferq/model/address"
	"github.com/viant/deferq/model/fault"
	"github.com/viant/deferq/model/task"
	"github.com/viant/deferq/service/ledger"
	"github.com/viant/deferq/service/taskqueue"
)

// ErrExhausted is returned when the backoff allows no further attempt.
var ErrExhausted = errors.New("poll: attempts exhausted")

// Until calls fn until it reports done, fails, the backoff is exhausted or
// ctx ends.
func Until(ctx context.Context, backoff Backoff, fn func(ctx context.Context) (bool, error)) error {
	for attempt := 1; ; attempt++ {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		delay, ok := backoff.Next(attempt)
		if !ok {
			return fmt.Errorf("%w after %d attempts", ErrExhausted, attempt)
		}
		if err = sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SnapshotReader observes delegatable accounts.
type SnapshotReader interface {
	Snapshot(ctx context.Context, side account.Side, addr address.Address) (*account.Snapshot, error)
}

// WaitSettled polls the base layer view of addr until the account is
// present and BaseOwned again.
func WaitSettled(ctx context.Context, reader SnapshotReader, addr address.Address, backoff Backoff) (*account.Snapshot, error) {
	var ret *account.Snapshot
	err := Until(ctx, backoff, func(ctx context.Context) (bool, error) {
		snapshot, err := reader.Snapshot(ctx, account.SideBase, addr)
		if err != nil {
			return false, err
		}
		ret = snapshot
		return account.IsSettled(snapshot), nil
	})
	if err != nil {
		return nil, fmt.Errorf("account %s not settled: %w", addr, err)
	}
	return ret, nil
}

// Enqueuer enqueues tasks.
type Enqueuer interface {
	Enqueue(ctx context.Context, req *taskqueue.EnqueueRequest) (*task.Ref, error)
}

// EnqueueWithRetry retries retryable enqueue failures (a full queue or a
// lost slot race) with backoff. Other errors are returned at once.
func EnqueueWithRetry(ctx context.Context, enqueuer Enqueuer, req *taskqueue.EnqueueRequest, backoff Backoff) (*task.Ref, error) {
	var ref *task.Ref
	var last error
	err := Until(ctx, backoff, func(ctx context.Context) (bool, error) {
		var err error
		ref, err = enqueuer.Enqueue(ctx, req)
		if err == nil {
			return true, nil
		}
		if fault.Retryable(err) {
			last = err
			return false, nil
		}
		return false, err
	})
	if errors.Is(err, ErrExhausted) && last != nil {
		return nil, fmt.Errorf("%w: %w", err, last)
	}
	if err != nil {
		return nil, err
	}
	return ref, nil
}

// FindLog scans the logs of the limit most recent transactions touching
// addr, newest first, and returns the first line containing substr.
func FindLog(ctx context.Context, client ledger.Client, addr address.Address, limit int, substr string) (string, bool, error) {
	summaries, err := client.ListRecent(ctx, addr, limit)
	if err != nil {
		return "", false, err
	}
	for _, summary := range summaries {
		for _, line := range summary.Logs {
			if strings.Contains(line, substr) {
				return line, true, nil
			}
		}
	}
	return "", false, nil
}

// WaitLog polls FindLog until a matching line appears.
func WaitLog(ctx context.Context, client ledger.Client, addr address.Address, limit int, substr string, backoff Backoff) (string, error) {
	var ret string
	err := Until(ctx, backoff, func(ctx context.Context) (bool, error) {
		line, ok, err := FindLog(ctx, client, addr, limit, substr)
		ret = line
		return ok, err
	})
	return ret, err
}
