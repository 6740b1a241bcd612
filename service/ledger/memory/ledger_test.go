package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/deferq/model/account"
	"github.com/viant/deferq/model/address"
	"github.com/viant/deferq/model/compiled"
	"github.com/viant/deferq/service/ledger"
	"github.com/viant/deferq/service/program/memo"
	"github.com/viant/deferq/service/store"
	storemem "github.com/viant/deferq/service/store/memory"
)

var payer = address.Principal("payer")

func compile(t *testing.T, instructions ...compiled.Instruction) *compiled.Transaction {
	t.Helper()
	tx, err := compiled.Compile(instructions, nil)
	require.NoError(t, err)
	return tx
}

func TestLedger_Submit(t *testing.T) {
	ctx := context.Background()
	l := New(account.SideBase, storemem.New(), WithPrograms(memo.New()))

	signature, err := l.Submit(ctx, compile(t, memo.Instruction("hello", payer)), payer)
	require.NoError(t, err)
	summary, err := l.AwaitConfirmation(ctx, signature)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusConfirmed, summary.Status)
	assert.Contains(t, summary.Logs, `Program log: Memo: "hello"`)

	unknown := compiled.Instruction{ProgramID: address.Program("missing"), Data: []byte{1}}
	signature, err = l.Submit(ctx, compile(t, unknown), payer)
	require.NoError(t, err)
	summary, err = l.AwaitConfirmation(ctx, signature)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, summary.Status)
	assert.Contains(t, summary.Err, "not found")

	signature, err = l.Submit(ctx, compile(t, memo.Instruction(string([]byte{0xff}), payer)), payer)
	require.NoError(t, err)
	summary, err = l.AwaitConfirmation(ctx, signature)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, summary.Status)

	_, err = l.AwaitConfirmation(ctx, "nope")
	assert.ErrorIs(t, err, ledger.ErrUnknownTransaction)
}

func TestLedger_Rejections(t *testing.T) {
	ctx := context.Background()
	fail := errors.New("blockhash not found")
	l := New(account.SideEphemeral, storemem.New(), WithPrograms(memo.New()), WithSubmitHook(func(tx *compiled.Transaction) error {
		if len(tx.Instructions) > 1 {
			return fail
		}
		return nil
	}))

	_, err := l.Submit(ctx, compile(t, memo.Instruction("a"), memo.Instruction("b")), payer)
	assert.ErrorIs(t, err, ledger.ErrSubmissionRejected)
	assert.True(t, ledger.IsTransient(err))

	_, err = l.Submit(ctx, &compiled.Transaction{}, payer)
	assert.ErrorIs(t, err, ledger.ErrSubmissionRejected)

	_, err = l.Submit(ctx, compile(t, memo.Instruction("a")), address.Address{})
	assert.ErrorIs(t, err, ledger.ErrSubmissionRejected)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = l.Submit(canceled, compile(t, memo.Instruction("a")), payer)
	assert.ErrorIs(t, err, ledger.ErrTimeout)
	_, err = l.AwaitConfirmation(canceled, "any")
	assert.ErrorIs(t, err, ledger.ErrTimeout)
}

func TestLedger_ListRecent(t *testing.T) {
	ctx := context.Background()
	l := New(account.SideBase, storemem.New(), WithPrograms(memo.New()))
	var signatures []string
	for _, text := range []string{"one", "two", "three"} {
		signature, err := l.Submit(ctx, compile(t, memo.Instruction(text, payer)), payer)
		require.NoError(t, err)
		signatures = append(signatures, signature)
	}

	recent, err := l.ListRecent(ctx, payer, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, signatures[2], recent[0].Signature)
	assert.Equal(t, signatures[1], recent[1].Signature)
	assert.Greater(t, recent[0].Slot, recent[1].Slot)

	all, err := l.ListRecent(ctx, memo.ProgramID, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := l.ListRecent(ctx, address.Principal("nobody"), 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLedger_ReadAccount(t *testing.T) {
	ctx := context.Background()
	st := storemem.New()
	l := New(account.SideBase, st)
	addr := address.Principal("acct")

	info, err := l.ReadAccount(ctx, addr)
	require.NoError(t, err)
	assert.Nil(t, info)

	require.NoError(t, st.Create(ctx, &store.Account{Address: addr, Owner: payer, Data: []byte{7}}))
	info, err = l.ReadAccount(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, info.Data)
	assert.Equal(t, payer, info.Owner)
}
