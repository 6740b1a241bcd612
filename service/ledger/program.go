package ledger

import (
	"context"

	"github.com/viant/deferq/model/account"
	"github.com/viant/deferq/model/address"
	"github.com/viant/deferq/model/compiled"
)

// Call is a single instruction handed to a program.
type Call struct {
	Side        account.Side
	Signature   string
	Signers     []address.Address
	Instruction compiled.Instruction
	logs        *[]string
}

// NewCall creates a call collecting program logs into logs.
func NewCall(side account.Side, signature string, signers []address.Address, instruction compiled.Instruction, logs *[]string) *Call {
	return &Call{Side: side, Signature: signature, Signers: signers, Instruction: instruction, logs: logs}
}

// Log appends a program log line.
func (c *Call) Log(line string) {
	if c.logs != nil {
		*c.logs = append(*c.logs, "Program log: "+line)
	}
}

// IsSigner reports whether addr signed the transaction.
func (c *Call) IsSigner(addr address.Address) bool {
	for _, signer := range c.Signers {
		if signer == addr {
			return true
		}
	}
	return false
}

// Program executes instructions addressed to its id.
type Program interface {
	ID() address.Address
	Execute(ctx context.Context, call *Call) error
}
