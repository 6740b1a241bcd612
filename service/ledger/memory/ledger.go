// Package memory provides an in-process ledger.Client. Transactions execute
// synchronously through registered programs against the ledger's side of a
// shared store.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/viant/deferq/internal/clock"
	"github.com/viant/deferq/internal/idgen"
	"github.com/viant/deferq/model/account"
	"github.com/viant/deferq/model/address"
	"github.com/viant/deferq/model/compiled"
	"github.com/viant/deferq/service/ledger"
	"github.com/viant/deferq/service/store"
)

// Option configures the ledger.
type Option func(l *Ledger)

// WithPrograms registers programs.
func WithPrograms(programs ...ledger.Program) Option {
	return func(l *Ledger) {
		for _, program := range programs {
			l.programs[program.ID()] = program
		}
	}
}

// WithSubmitHook runs fn before each submission; a returned error rejects
// the transaction. Tests use it to inject transient failures.
func WithSubmitHook(fn func(tx *compiled.Transaction) error) Option {
	return func(l *Ledger) {
		l.hook = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// Ledger is an in-memory ledger.Client.
type Ledger struct {
	side     account.Side
	store    store.Store
	programs map[address.Address]ledger.Program
	hook     func(tx *compiled.Transaction) error
	logger   zerolog.Logger

	mu     sync.RWMutex
	slot   uint64
	txs    map[string]*ledger.Summary
	recent map[address.Address][]string
}

var _ ledger.Client = (*Ledger)(nil)

// New creates a ledger on side reading accounts from st.
func New(side account.Side, st store.Store, opts ...Option) *Ledger {
	ret := &Ledger{
		side:     side,
		store:    st,
		programs: map[address.Address]ledger.Program{},
		logger:   zerolog.Nop(),
		txs:      map[string]*ledger.Summary{},
		recent:   map[address.Address][]string{},
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Register adds a program after construction.
func (l *Ledger) Register(program ledger.Program) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.programs[program.ID()] = program
}

// Side returns the environment the ledger represents.
func (l *Ledger) Side() account.Side { return l.side }

// ReadAccount returns the stored account or nil.
func (l *Ledger) ReadAccount(ctx context.Context, addr address.Address) (*ledger.AccountInfo, error) {
	record, err := l.store.Get(ctx, addr)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ledger.AccountInfo{Address: record.Address, Owner: record.Owner, Data: record.Data}, nil
}

// Submit validates and executes tx. Instruction failures do not fail Submit;
// they are reported by AwaitConfirmation with StatusFailed.
func (l *Ledger) Submit(ctx context.Context, tx *compiled.Transaction, signer address.Address) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ledger.ErrTimeout, err)
	}
	if l.hook != nil {
		if err := l.hook(tx); err != nil {
			if ledger.IsTransient(err) {
				return "", err
			}
			return "", fmt.Errorf("%w: %v", ledger.ErrSubmissionRejected, err)
		}
	}
	if tx == nil || len(tx.Instructions) == 0 {
		return "", fmt.Errorf("%w: empty transaction", ledger.ErrSubmissionRejected)
	}
	signers := tx.Signers()
	if signer.IsZero() {
		return "", fmt.Errorf("%w: missing fee payer", ledger.ErrSubmissionRejected)
	}
	signers = append(signers, signer)
	instructions, err := tx.Decompile()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ledger.ErrSubmissionRejected, err)
	}

	signature := idgen.NewSignature()
	var logs []string
	var execErr error
	for i, instruction := range instructions {
		l.mu.RLock()
		program, ok := l.programs[instruction.ProgramID]
		l.mu.RUnlock()
		logs = append(logs, fmt.Sprintf("Program %s invoke [%d]", instruction.ProgramID.Short(), i+1))
		if !ok {
			execErr = fmt.Errorf("instruction %d: program %s not found", i, instruction.ProgramID)
			logs = append(logs, fmt.Sprintf("Program %s failed: not found", instruction.ProgramID.Short()))
			break
		}
		call := ledger.NewCall(l.side, signature, signers, instruction, &logs)
		if execErr = program.Execute(ctx, call); execErr != nil {
			execErr = fmt.Errorf("instruction %d: %w", i, execErr)
			logs = append(logs, fmt.Sprintf("Program %s failed: %v", instruction.ProgramID.Short(), execErr))
			break
		}
		logs = append(logs, fmt.Sprintf("Program %s success", instruction.ProgramID.Short()))
	}

	l.mu.Lock()
	l.slot++
	summary := &ledger.Summary{Signature: signature, Slot: l.slot, Status: ledger.StatusConfirmed, Logs: logs, BlockTime: clock.Now().UTC()}
	if execErr != nil {
		summary.Status = ledger.StatusFailed
		summary.Err = execErr.Error()
	}
	l.txs[signature] = summary
	seen := map[address.Address]bool{}
	touched := append(append([]address.Address(nil), tx.Accounts...), signer)
	for _, addr := range touched {
		if seen[addr] {
			continue
		}
		seen[addr] = true
		l.recent[addr] = append(l.recent[addr], signature)
	}
	l.mu.Unlock()

	l.logger.Debug().Str("side", string(l.side)).Str("signature", signature).Str("status", string(summary.Status)).Msg("transaction executed")
	return signature, nil
}

// AwaitConfirmation returns the outcome of signature.
func (l *Ledger) AwaitConfirmation(ctx context.Context, signature string) (*ledger.Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrTimeout, err)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	summary, ok := l.txs[signature]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrUnknownTransaction, signature)
	}
	return cloneSummary(summary), nil
}

// ListRecent returns up to limit transactions touching addr, newest first.
func (l *Ledger) ListRecent(ctx context.Context, addr address.Address, limit int) ([]*ledger.Summary, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	signatures := l.recent[addr]
	var ret []*ledger.Summary
	for i := len(signatures) - 1; i >= 0; i-- {
		if limit > 0 && len(ret) == limit {
			break
		}
		ret = append(ret, cloneSummary(l.txs[signatures[i]]))
	}
	return ret, nil
}

func cloneSummary(s *ledger.Summary) *ledger.Summary {
	ret := *s
	ret.Logs = append([]string(nil), s.Logs...)
	return &ret
}
