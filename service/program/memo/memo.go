// Package memo is a ledger program that records a UTF-8 text line in the
// transaction logs. Crank tasks use it to leave a response callers can find
// with poll.FindLog.
package memo

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/viant/deferq/model/address"
	"github.com/viant/deferq/model/compiled"
	"github.com/viant/deferq/service/ledger"
)

// ProgramID identifies the memo program.
var ProgramID = address.Program("memo")

// LogPrefix starts every memo log line.
const LogPrefix = "Memo: "

// ErrInvalidMemo is returned for memos that are not valid UTF-8.
var ErrInvalidMemo = errors.New("memo: invalid utf-8")

// Program implements ledger.Program.
type Program struct{}

// New returns the memo program.
func New() *Program { return &Program{} }

// ID returns ProgramID.
func (p *Program) ID() address.Address { return ProgramID }

// Execute logs the memo text after checking that every listed signer signed.
func (p *Program) Execute(_ context.Context, call *ledger.Call) error {
	if !utf8.Valid(call.Instruction.Data) {
		return ErrInvalidMemo
	}
	for _, meta := range call.Instruction.Accounts {
		if meta.Signer && !call.IsSigner(meta.Address) {
			return fmt.Errorf("memo: missing signature of %s", meta.Address)
		}
	}
	call.Log(fmt.Sprintf("%s%q", LogPrefix, string(call.Instruction.Data)))
	return nil
}

// Instruction builds a memo instruction signed by signers.
func Instruction(text string, signers ...address.Address) compiled.Instruction {
	ret := compiled.Instruction{ProgramID: ProgramID, Data: []byte(text)}
	for _, signer := range signers {
		ret.Accounts = append(ret.Accounts, compiled.AccountMeta{Address: signer, Signer: true})
	}
	return ret
}
