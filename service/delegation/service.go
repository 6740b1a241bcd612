package delegation

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
	"github.com/viant/deferq/internal/clock"
	"github.com/viant/deferq/model/account"
	"github.com/viant/deferq/model/address"
	"github.com/viant/deferq/model/fault"
	"github.com/viant/deferq/service/event"
	"github.com/viant/deferq/service/store"
	"github.com/viant/deferq/tracing"
)

// ProgramID owns every delegatable account record.
var ProgramID = address.Program("delegation")

// Transition is the payload of account.transition events.
type Transition struct {
	Account address.Address
	Event   account.Event
	Side    account.Side
	From    account.State
	To      account.State
}

// Service runs delegation transitions.
type Service struct {
	store  store.Store
	config Config
	logger zerolog.Logger
	events *event.Service
	jitter func(max time.Duration) time.Duration
}

// New creates a delegation service over st.
func New(st store.Store, opts ...Option) *Service {
	ret := &Service{
		store:  st,
		config: DefaultConfig(),
		logger: zerolog.Nop(),
		jitter: randomJitter,
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}

// Initialize creates the delegatable account of owner in BaseOwned state.
func (s *Service) Initialize(ctx context.Context, owner, contextRef address.Address, payload []byte) (*account.Delegatable, error) {
	addr := address.User(owner)
	ret := &account.Delegatable{
		Kind:       account.Kind,
		Address:    addr,
		Owner:      owner,
		State:      account.StateBaseOwned,
		Payload:    payload,
		ContextRef: contextRef,
		UpdatedAt:  clock.Now().UTC(),
	}
	data, err := account.Encode(ret)
	if err != nil {
		return nil, err
	}
	if err = s.store.Create(ctx, &store.Account{Address: addr, Owner: ProgramID, Data: data}); err != nil {
		return nil, fmt.Errorf("failed to initialize account %s: %w", addr, err)
	}
	s.logger.Info().Str("account", addr.String()).Str("owner", owner.String()).Msg("account initialized")
	return ret, nil
}

// Delegate hands write authority over the payload to validator.
func (s *Service) Delegate(ctx context.Context, caller, addr, validator address.Address) (*account.Delegatable, error) {
	return s.transition(ctx, addr, account.EventDelegate, account.SideBase, func(acct *account.Delegatable) error {
		if caller != acct.Owner {
			return notAllowed("delegate", acct, caller, "only the owner can delegate")
		}
		if validator.IsZero() {
			return fmt.Errorf("delegate %s: validator is required", acct.Address)
		}
		acct.Validator = validator
		acct.Checkpoint = clone(acct.Payload)
		return nil
	})
}

// Mutate replaces the payload from side. The base layer writes only while
// BaseOwned and the ephemeral side only while it holds the delegation.
func (s *Service) Mutate(ctx context.Context, side account.Side, caller, addr address.Address, payload []byte) (*account.Delegatable, error) {
	return s.transition(ctx, addr, account.EventMutate, side, func(acct *account.Delegatable) error {
		if err := checkWriter(acct, side, caller, "mutate"); err != nil {
			return err
		}
		acct.Payload = clone(payload)
		return nil
	})
}

// Commit pushes a durable checkpoint of the ephemeral payload toward the
// base layer. The account stays delegated; the settler applies the
// checkpoint once the settlement delay elapsed.
func (s *Service) Commit(ctx context.Context, caller, addr address.Address) (*account.Delegatable, error) {
	return s.transition(ctx, addr, account.EventCommit, account.SideEphemeral, func(acct *account.Delegatable) error {
		if err := checkWriter(acct, account.SideEphemeral, caller, "commit"); err != nil {
			return err
		}
		acct.Pending = clone(acct.Payload)
		acct.SettleAt = clock.Now().Add(s.config.SettlementDelay).UTC()
		return nil
	})
}

// Undelegate relinquishes the ephemeral write authority. The base layer
// keeps observing Delegated until the account is settled.
func (s *Service) Undelegate(ctx context.Context, caller, addr address.Address) (*account.Delegatable, error) {
	return s.transition(ctx, addr, account.EventUndelegate, account.SideEphemeral, func(acct *account.Delegatable) error {
		if err := checkWriter(acct, account.SideEphemeral, caller, "undelegate"); err != nil {
			return err
		}
		acct.Pending = clone(acct.Payload)
		delay := s.config.SettlementDelay + s.jitter(s.config.SettlementJitter)
		acct.SettleAt = clock.Now().Add(delay).UTC()
		return nil
	})
}

// Settle completes a pending commit or undelegation. It fails with
// fault.ErrSettlementNotFinalized while the settlement delay has not
// elapsed.
func (s *Service) Settle(ctx context.Context, addr address.Address) (*account.Delegatable, error) {
	return s.transition(ctx, addr, account.EventSettle, account.SideBase, func(acct *account.Delegatable) error {
		if now := clock.Now(); now.Before(acct.SettleAt) {
			return fault.Newf(fault.KindSettlementNotFinalized, "settle", acct.Address.String(), "settles in %s", acct.SettleAt.Sub(now))
		}
		acct.Checkpoint = acct.Pending
		acct.Pending = nil
		acct.Commits++
		acct.SettleAt = time.Time{}
		if acct.State == account.StateUndelegating {
			acct.Validator = address.Address{}
		}
		return nil
	})
}

// Close destroys the account. Only the owner can close and only while the
// account is BaseOwned.
func (s *Service) Close(ctx context.Context, caller, addr address.Address) (err error) {
	ctx, span := tracing.StartSpan(ctx, "delegation.Close", "INTERNAL")
	defer func() { tracing.EndSpan(span, err) }()
	span.WithAttributes(map[string]string{"account": addr.String()})

	var closed *account.Delegatable
	err = s.store.DeleteIf(ctx, addr, func(record *store.Account) error {
		acct, err := account.Decode(record.Data)
		if err != nil {
			return err
		}
		if _, err = account.Next(acct.State, account.EventClose, account.SideBase); err != nil {
			return transitionError("close", acct, account.EventClose, account.SideBase, err)
		}
		if caller != acct.Owner {
			return notAllowed("close", acct, caller, "only the owner can close")
		}
		closed = acct
		return nil
	})
	if err != nil {
		return wrapStore(addr, err)
	}
	s.logger.Info().Str("account", addr.String()).Msg("account closed")
	s.publish(ctx, Transition{Account: addr, Event: account.EventClose, Side: account.SideBase, From: closed.State, To: account.StateClosed})
	return nil
}

// Load returns the stored account.
func (s *Service) Load(ctx context.Context, addr address.Address) (*account.Delegatable, error) {
	record, err := s.store.Get(ctx, addr)
	if err != nil {
		return nil, wrapStore(addr, err)
	}
	return account.Decode(record.Data)
}

// Snapshot returns the account as observed from side. A missing account
// yields a snapshot with Present false.
func (s *Service) Snapshot(ctx context.Context, side account.Side, addr address.Address) (*account.Snapshot, error) {
	acct, err := s.Load(ctx, addr)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &account.Snapshot{Address: addr}, nil
		}
		return nil, err
	}
	return acct.View(side), nil
}

// Pending lists accounts awaiting settlement, due or not.
func (s *Service) Pending(ctx context.Context) ([]*account.Delegatable, error) {
	records, err := s.store.List(ctx, ProgramID)
	if err != nil {
		return nil, err
	}
	var ret []*account.Delegatable
	for _, record := range records {
		acct, err := account.Decode(record.Data)
		if err != nil {
			s.logger.Warn().Err(err).Str("account", record.Address.String()).Msg("skipping undecodable account")
			continue
		}
		if acct.State == account.StateCommitting || acct.State == account.StateUndelegating {
			ret = append(ret, acct)
		}
	}
	return ret, nil
}

// transition applies event from side atomically: the state table is checked
// against the stored state, then apply edits the account.
func (s *Service) transition(ctx context.Context, addr address.Address, evt account.Event, side account.Side, apply func(acct *account.Delegatable) error) (ret *account.Delegatable, err error) {
	ctx, span := tracing.StartSpan(ctx, "delegation."+string(evt), "INTERNAL")
	defer func() { tracing.EndSpan(span, err) }()
	span.WithAttributes(map[string]string{"account": addr.String(), "side": string(side)})

	var from account.State
	_, err = s.store.Update(ctx, addr, func(record *store.Account) error {
		acct, err := account.Decode(record.Data)
		if err != nil {
			return err
		}
		to, err := account.Next(acct.State, evt, side)
		if err != nil {
			return transitionError(string(evt), acct, evt, side, err)
		}
		if err = apply(acct); err != nil {
			return err
		}
		from = acct.State
		acct.State = to
		acct.UpdatedAt = clock.Now().UTC()
		if record.Data, err = account.Encode(acct); err != nil {
			return err
		}
		ret = acct
		return nil
	})
	if err != nil {
		return nil, wrapStore(addr, err)
	}
	if from != ret.State {
		s.logger.Info().Str("account", addr.String()).Str("event", string(evt)).Str("from", string(from)).Str("to", string(ret.State)).Msg("account transition")
	}
	s.publish(ctx, Transition{Account: addr, Event: evt, Side: side, From: from, To: ret.State})
	return ret, nil
}

// transitionError classifies a rejected transition. Attempts by the base
// layer to write or close while an undelegation is settling are reported
// as SettlementNotFinalized, which a caller may retry after settlement.
func transitionError(op string, acct *account.Delegatable, evt account.Event, side account.Side, cause error) error {
	if acct.State == account.StateUndelegating && side == account.SideBase && (evt == account.EventMutate || evt == account.EventClose) {
		return fault.New(fault.KindSettlementNotFinalized, op, acct.Address.String(), cause)
	}
	return fault.New(fault.KindIllegalStateTransition, op, acct.Address.String(), cause)
}

func checkWriter(acct *account.Delegatable, side account.Side, caller address.Address, op string) error {
	switch side {
	case account.SideBase:
		if caller != acct.Owner {
			return notAllowed(op, acct, caller, "only the owner writes on the base layer")
		}
	case account.SideEphemeral:
		if caller != acct.Validator {
			return notAllowed(op, acct, caller, "only the delegated validator writes on the ephemeral side")
		}
	}
	return nil
}

func notAllowed(op string, acct *account.Delegatable, caller address.Address, reason string) error {
	return fault.Newf(fault.KindUnauthorizedAuthority, op, acct.Address.String(), "%s: %s", caller, reason)
}

func wrapStore(addr address.Address, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("account %s: %w", addr, err)
	}
	return err
}

func (s *Service) publish(ctx context.Context, transition Transition) {
	if s.events == nil {
		return
	}
	evt := event.NewEvent(&event.Context{Type: event.TypeAccountTransition, Service: "delegation", Op: string(transition.Event), Resource: transition.Account.String()}, transition)
	if err := event.PublisherOf[Transition](s.events).Publish(ctx, evt); err != nil {
		s.logger.Warn().Err(err).Msg("event not published")
	}
}

func clone(data []byte) []byte {
	if data == nil {
		return nil
	}
	return append([]byte(nil), data...)
}
