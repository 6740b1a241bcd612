// Package state is a ledger program that updates delegatable accounts
// through the delegation state machine. The same program runs on both
// sides; the ledger's side decides which writer the update is checked
// against.
package state

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/viant/deferq/model/account"
	"github.com/viant/deferq/model/address"
	"github.com/viant/deferq/model/compiled"
	"github.com/viant/deferq/service/delegation"
	"github.com/viant/deferq/service/ledger"
)

// ProgramID identifies the state program.
var ProgramID = address.Program("state")

// Op is the first data byte of a state instruction.
type Op byte

const (
	// OpUpdate stores a new u64 value.
	OpUpdate Op = iota
	// OpUpdateCommit stores a new value and commits it toward the base layer.
	OpUpdateCommit
	// OpDelegate delegates the account to the validator in account 2.
	OpDelegate
	// OpUndelegate returns the account to the base layer.
	OpUndelegate
)

// ErrMalformedInstruction is returned for instructions the program can not parse.
var ErrMalformedInstruction = errors.New("state: malformed instruction")

// Program implements ledger.Program.
type Program struct {
	delegation *delegation.Service
}

// New returns the state program writing through service.
func New(service *delegation.Service) *Program {
	return &Program{delegation: service}
}

// ID returns ProgramID.
func (p *Program) ID() address.Address { return ProgramID }

// Execute applies the instruction. Account 0 is the signing caller and
// account 1 the delegatable account.
func (p *Program) Execute(ctx context.Context, call *ledger.Call) error {
	ix := call.Instruction
	if len(ix.Data) == 0 || len(ix.Accounts) < 2 {
		return ErrMalformedInstruction
	}
	caller, target := ix.Accounts[0].Address, ix.Accounts[1].Address
	if !call.IsSigner(caller) {
		return fmt.Errorf("state: missing signature of %s", caller)
	}
	switch op := Op(ix.Data[0]); op {
	case OpUpdate, OpUpdateCommit:
		if len(ix.Data) != 9 {
			return fmt.Errorf("%w: update expects 8 byte value", ErrMalformedInstruction)
		}
		if _, err := p.delegation.Mutate(ctx, call.Side, caller, target, ix.Data[1:]); err != nil {
			return err
		}
		value := binary.LittleEndian.Uint64(ix.Data[1:])
		call.Log(fmt.Sprintf("updated %s to %d", target.Short(), value))
		if op == OpUpdateCommit {
			if _, err := p.delegation.Commit(ctx, caller, target); err != nil {
				return err
			}
			call.Log("commit scheduled")
		}
	case OpDelegate:
		if call.Side != account.SideBase {
			return fmt.Errorf("state: delegate must run on the base layer")
		}
		if len(ix.Accounts) < 3 {
			return fmt.Errorf("%w: delegate expects a validator account", ErrMalformedInstruction)
		}
		if _, err := p.delegation.Delegate(ctx, caller, target, ix.Accounts[2].Address); err != nil {
			return err
		}
		call.Log("delegated to " + ix.Accounts[2].Address.Short())
	case OpUndelegate:
		if _, err := p.delegation.Undelegate(ctx, caller, target); err != nil {
			return err
		}
		call.Log("undelegation scheduled")
	default:
		return fmt.Errorf("%w: unknown op %d", ErrMalformedInstruction, op)
	}
	return nil
}

func instruction(op Op, caller, target address.Address, data []byte, extra ...address.Address) compiled.Instruction {
	ret := compiled.Instruction{
		ProgramID: ProgramID,
		Accounts: []compiled.AccountMeta{
			{Address: caller, Signer: true, Writable: true},
			{Address: target, Writable: true},
		},
		Data: append([]byte{byte(op)}, data...),
	}
	for _, addr := range extra {
		ret.Accounts = append(ret.Accounts, compiled.AccountMeta{Address: addr})
	}
	return ret
}

// Update builds an instruction storing value in target.
func Update(caller, target address.Address, value uint64) compiled.Instruction {
	return instruction(OpUpdate, caller, target, Payload(value))
}

// UpdateCommit builds an instruction storing value and committing it.
func UpdateCommit(caller, target address.Address, value uint64) compiled.Instruction {
	return instruction(OpUpdateCommit, caller, target, Payload(value))
}

// Delegate builds an instruction delegating target to validator.
func Delegate(caller, target, validator address.Address) compiled.Instruction {
	return instruction(OpDelegate, caller, target, nil, validator)
}

// Undelegate builds an instruction undelegating target.
func Undelegate(caller, target address.Address) compiled.Instruction {
	return instruction(OpUndelegate, caller, target, nil)
}

// Payload encodes value the way Update stores it.
func Payload(value uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, value)
}

// Value decodes the u64 stored by Update from a payload.
func Value(payload []byte) (uint64, bool) {
	if len(payload) != 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(payload), true
}
