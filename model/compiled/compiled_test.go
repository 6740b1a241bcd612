package compiled

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/deferq/internal/codec"
	"github.com/viant/deferq/model/address"
)

func TestCompile(t *testing.T) {
	payer := address.Principal("payer")
	user := address.User(payer)
	oracle := address.Principal("oracle-queue")
	program := address.Program("state")
	memo := address.Program("memo")

	instructions := []Instruction{
		{
			ProgramID: program,
			Accounts: []AccountMeta{
				{Address: user, Writable: true},
				{Address: payer, Signer: true, Writable: true},
				{Address: oracle},
			},
			Data: []byte("randomness"),
		},
		{
			ProgramID: memo,
			Accounts:  []AccountMeta{{Address: payer, Signer: true}, {Address: user}},
			Data:      []byte("hello"),
		},
	}
	tx, err := Compile(instructions, [][][]byte{{[]byte("queue_authority")}})
	require.NoError(t, err)

	assert.EqualValues(t, 1, tx.NumRwSigners)
	assert.EqualValues(t, 0, tx.NumRoSigners)
	assert.EqualValues(t, 1, tx.NumRw)
	assert.Equal(t, payer, tx.Accounts[0])
	assert.Equal(t, user, tx.Accounts[1])
	assert.Len(t, tx.Accounts, 5)
	assert.Equal(t, []address.Address{payer}, tx.Signers())

	data, err := Marshal(tx)
	require.NoError(t, err)
	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, tx, decoded)

	expanded, err := decoded.Decompile()
	require.NoError(t, err)
	require.Len(t, expanded, 2)
	assert.Equal(t, program, expanded[0].ProgramID)
	assert.Equal(t, []byte("randomness"), expanded[0].Data)
	assert.Equal(t, AccountMeta{Address: user, Writable: true}, expanded[0].Accounts[0])
	assert.Equal(t, AccountMeta{Address: payer, Signer: true, Writable: true}, expanded[0].Accounts[1])
	assert.Equal(t, AccountMeta{Address: oracle}, expanded[0].Accounts[2])
	assert.Equal(t, memo, expanded[1].ProgramID)
}

func TestCompileDeterministic(t *testing.T) {
	instructions := []Instruction{{ProgramID: address.Program("memo"), Data: []byte("x")}}
	a, err := CompileBytes(instructions, nil)
	require.NoError(t, err)
	b, err := CompileBytes(instructions, nil)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCompileErrors(t *testing.T) {
	_, err := Compile(nil, nil)
	assert.Error(t, err)

	data, err := codec.Marshal(&Transaction{Version: 3})
	require.NoError(t, err)
	_, err = Unmarshal(data)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	_, err = Unmarshal([]byte{0xff, 0x00})
	assert.Error(t, err)

	broken := &Transaction{Accounts: []address.Address{address.Program("memo")}, Instructions: []CompiledInstruction{{ProgramIDIndex: 4}}}
	_, err = broken.Decompile()
	assert.Error(t, err)
}
