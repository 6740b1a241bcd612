// Package ledger defines the client the crank and callers use to reach the
// ledger that executes compiled instructions: account reads, transaction
// submission, confirmation and recent transaction history.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/viant/deferq/model/address"
	"github.com/viant/deferq/model/compiled"
)

var (
	// ErrSubmissionRejected is returned when the ledger refuses a transaction before execution.
	ErrSubmissionRejected = errors.New("ledger: submission rejected")
	// ErrTimeout is returned when a submission or confirmation did not complete in time.
	ErrTimeout = errors.New("ledger: timeout")
	// ErrUnknownTransaction is returned for a signature the ledger never saw.
	ErrUnknownTransaction = errors.New("ledger: unknown transaction")
)

// Status is the outcome of a submitted transaction.
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// AccountInfo is an account as read from the ledger.
type AccountInfo struct {
	Address address.Address
	Owner   address.Address
	Data    []byte
}

// Summary describes an executed transaction.
type Summary struct {
	Signature string
	Slot      uint64
	Status    Status
	Err       string
	Logs      []string
	BlockTime time.Time
}

// Client reaches a ledger.
type Client interface {
	// ReadAccount returns the account at addr, or nil when it is absent.
	ReadAccount(ctx context.Context, addr address.Address) (*AccountInfo, error)

	// Submit sends tx signed by signer and returns its signature.
	Submit(ctx context.Context, tx *compiled.Transaction, signer address.Address) (string, error)

	// AwaitConfirmation blocks until the transaction is confirmed or failed.
	AwaitConfirmation(ctx context.Context, signature string) (*Summary, error)

	// ListRecent returns up to limit transactions touching addr, newest first.
	ListRecent(ctx context.Context, addr address.Address, limit int) ([]*Summary, error)
}

// IsTransient reports whether err is a submission failure worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrSubmissionRejected)
}
