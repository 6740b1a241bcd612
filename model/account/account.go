package account

import (
	"fmt"
	"time"

	"github.com/viant/deferq/internal/codec"
	"github.com/viant/deferq/model/address"
)

// Kind is the discriminator stored with every delegatable account record.
const Kind = "delegatable_account/v1"

// Delegatable is an account whose payload can be temporarily handed to an
// ephemeral environment.
type Delegatable struct {
	Kind       string          `cbor:"0,keyasint"`
	Address    address.Address `cbor:"1,keyasint"`
	Owner      address.Address `cbor:"2,keyasint"`
	State      State           `cbor:"3,keyasint"`
	Validator  address.Address `cbor:"4,keyasint"`
	Payload    []byte          `cbor:"5,keyasint"`
	Checkpoint []byte          `cbor:"6,keyasint"` // last payload made durable on the base layer
	Pending    []byte          `cbor:"7,keyasint"` // checkpoint in flight while Committing or Undelegating
	ContextRef address.Address `cbor:"8,keyasint"` // lookup only, not owned
	Commits    uint64          `cbor:"9,keyasint"`
	SettleAt   time.Time       `cbor:"10,keyasint"`
	UpdatedAt  time.Time       `cbor:"11,keyasint"`
}

// Snapshot is what a reader observes on one side.
type Snapshot struct {
	Address    address.Address
	Present    bool
	State      State
	Validator  address.Address
	Payload    []byte
	ContextRef address.Address
	Commits    uint64
}

// View returns the account as observed from side. The base layer keeps
// reporting Delegated until the bridge settles the account, and only sees
// checkpointed payloads while delegated.
func (a *Delegatable) View(side Side) *Snapshot {
	ret := &Snapshot{
		Address:    a.Address,
		Present:    true,
		State:      a.State,
		Validator:  a.Validator,
		ContextRef: a.ContextRef,
		Commits:    a.Commits,
	}
	switch side {
	case SideBase:
		switch a.State {
		case StateBaseOwned:
			ret.Payload = clone(a.Payload)
		default:
			ret.State = StateDelegated
			ret.Payload = clone(a.Checkpoint)
		}
	default:
		if a.State == StateBaseOwned {
			// ephemeral side does not hold the account
			return &Snapshot{Address: a.Address}
		}
		ret.Payload = clone(a.Payload)
	}
	return ret
}

// IsSettled reports whether a base-layer snapshot shows the account present
// and owned by the base layer again, so that close and direct mutation are
// legal.
func IsSettled(snapshot *Snapshot) bool {
	return snapshot != nil && snapshot.Present && snapshot.State == StateBaseOwned
}

// Encode serialises the account.
func Encode(a *Delegatable) ([]byte, error) {
	return codec.Marshal(a)
}

// Decode parses an account record and rejects unknown kinds.
func Decode(data []byte) (*Delegatable, error) {
	ret := &Delegatable{}
	if err := codec.Unmarshal(data, ret); err != nil {
		return nil, fmt.Errorf("account: decode: %w", err)
	}
	if ret.Kind != Kind {
		return nil, fmt.Errorf("account: expected record kind %q, got %q", Kind, ret.Kind)
	}
	return ret, nil
}

func clone(data []byte) []byte {
	if data == nil {
		return nil
	}
	return append([]byte(nil), data...)
}
