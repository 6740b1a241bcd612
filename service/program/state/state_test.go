package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/deferq/internal/clock"
	"github.com/viant/deferq/model/account"
	"github.com/viant/deferq/model/address"
	"github.com/viant/deferq/model/compiled"
	"github.com/viant/deferq/service/delegation"
	"github.com/viant/deferq/service/ledger"
	ledgermem "github.com/viant/deferq/service/ledger/memory"
	"github.com/viant/deferq/service/store/memory"
)

func submit(t *testing.T, l ledger.Client, signer address.Address, ix compiled.Instruction) *ledger.Summary {
	t.Helper()
	ctx := context.Background()
	tx, err := compiled.Compile([]compiled.Instruction{ix}, nil)
	require.NoError(t, err)
	signature, err := l.Submit(ctx, tx, signer)
	require.NoError(t, err)
	summary, err := l.AwaitConfirmation(ctx, signature)
	require.NoError(t, err)
	return summary
}

func TestProgram(t *testing.T) {
	advance, restore := clock.Freeze(time.Unix(1_700_000_000, 0))
	defer restore()
	ctx := context.Background()
	st := memory.New()
	deleg := delegation.New(st, delegation.WithConfig(delegation.Config{SettlementDelay: time.Second}))
	base := ledgermem.New(account.SideBase, st, ledgermem.WithPrograms(New(deleg)))
	ephemeral := ledgermem.New(account.SideEphemeral, st, ledgermem.WithPrograms(New(deleg)))

	user := address.Principal("user")
	validator := address.Principal("validator")
	acct, err := deleg.Initialize(ctx, user, address.Address{}, nil)
	require.NoError(t, err)

	summary := submit(t, base, user, Update(user, acct.Address, 1))
	assert.Equal(t, ledger.StatusConfirmed, summary.Status, summary.Err)

	summary = submit(t, ephemeral, validator, Update(validator, acct.Address, 2))
	assert.Equal(t, ledger.StatusFailed, summary.Status)

	summary = submit(t, base, user, Delegate(user, acct.Address, validator))
	assert.Equal(t, ledger.StatusConfirmed, summary.Status, summary.Err)

	summary = submit(t, base, user, Update(user, acct.Address, 3))
	assert.Equal(t, ledger.StatusFailed, summary.Status)

	summary = submit(t, ephemeral, validator, UpdateCommit(validator, acct.Address, 4))
	assert.Equal(t, ledger.StatusConfirmed, summary.Status, summary.Err)
	assert.Contains(t, summary.Logs, "Program log: commit scheduled")

	summary = submit(t, ephemeral, validator, Undelegate(validator, acct.Address))
	assert.Equal(t, ledger.StatusConfirmed, summary.Status, summary.Err)

	advance(time.Second)
	_, err = deleg.Settle(ctx, acct.Address)
	require.NoError(t, err)
	snapshot, err := deleg.Snapshot(ctx, account.SideBase, acct.Address)
	require.NoError(t, err)
	require.True(t, account.IsSettled(snapshot))
	value, ok := Value(snapshot.Payload)
	require.True(t, ok)
	assert.Equal(t, uint64(4), value)

	summary = submit(t, base, user, compiled.Instruction{ProgramID: ProgramID, Accounts: Update(user, acct.Address, 0).Accounts, Data: []byte{9}})
	assert.Equal(t, ledger.StatusFailed, summary.Status)
	assert.Contains(t, summary.Err, "unknown op")
}
