// Package compiled turns staged instructions into the compact, versioned
// container stored in a task's payload, and back again on the executor
// side. Accounts are deduplicated and referenced by index.
package compiled

import (
	"errors"
	"fmt"
	"sort"

	"github.com/viant/deferq/internal/codec"
	"github.com/viant/deferq/model/address"
)

// Version is the container version written by Marshal.
const Version = 0

// ErrUnsupportedVersion is returned for containers written by an unknown
// version.
var ErrUnsupportedVersion = errors.New("compiled: unsupported version")

// AccountMeta describes one account an instruction touches.
type AccountMeta struct {
	Address  address.Address
	Signer   bool
	Writable bool
}

// Instruction is a staged call to a program.
type Instruction struct {
	ProgramID address.Address
	Accounts  []AccountMeta
	Data      []byte
}

// CompiledInstruction references accounts by index into Transaction.Accounts.
type CompiledInstruction struct {
	ProgramIDIndex uint8   `cbor:"1,keyasint"`
	Accounts       []uint8 `cbor:"2,keyasint"`
	Data           []byte  `cbor:"3,keyasint"`
}

// Transaction is the compiled container. Accounts are ordered writable
// signers, read-only signers, writable non-signers, read-only non-signers.
type Transaction struct {
	Version      uint8                 `cbor:"0,keyasint"`
	NumRwSigners uint8                 `cbor:"1,keyasint"`
	NumRoSigners uint8                 `cbor:"2,keyasint"`
	NumRw        uint8                 `cbor:"3,keyasint"`
	Accounts     []address.Address     `cbor:"4,keyasint"`
	Instructions []CompiledInstruction `cbor:"5,keyasint"`
	SignerSeeds  [][][]byte            `cbor:"6,keyasint,omitempty"`
}

type accountEntry struct {
	meta  AccountMeta
	order int
}

func (e accountEntry) class() int {
	switch {
	case e.meta.Signer && e.meta.Writable:
		return 0
	case e.meta.Signer:
		return 1
	case e.meta.Writable:
		return 2
	}
	return 3
}

// Compile builds a transaction container from instructions. signerSeeds are
// carried verbatim for the executor to sign derived accounts.
func Compile(instructions []Instruction, signerSeeds [][][]byte) (*Transaction, error) {
	if len(instructions) == 0 {
		return nil, fmt.Errorf("compiled: no instructions")
	}
	entries := map[address.Address]*accountEntry{}
	var ordered []*accountEntry
	add := func(meta AccountMeta) {
		if existing, ok := entries[meta.Address]; ok {
			existing.meta.Signer = existing.meta.Signer || meta.Signer
			existing.meta.Writable = existing.meta.Writable || meta.Writable
			return
		}
		entry := &accountEntry{meta: meta, order: len(ordered)}
		entries[meta.Address] = entry
		ordered = append(ordered, entry)
	}
	for _, instruction := range instructions {
		for _, meta := range instruction.Accounts {
			add(meta)
		}
		add(AccountMeta{Address: instruction.ProgramID})
	}
	if len(ordered) > 256 {
		return nil, fmt.Errorf("compiled: %d accounts exceed 256", len(ordered))
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		ci, cj := ordered[i].class(), ordered[j].class()
		if ci != cj {
			return ci < cj
		}
		return ordered[i].order < ordered[j].order
	})

	ret := &Transaction{Version: Version, SignerSeeds: signerSeeds}
	index := map[address.Address]uint8{}
	for i, entry := range ordered {
		index[entry.meta.Address] = uint8(i)
		ret.Accounts = append(ret.Accounts, entry.meta.Address)
		switch entry.class() {
		case 0:
			ret.NumRwSigners++
		case 1:
			ret.NumRoSigners++
		case 2:
			ret.NumRw++
		}
	}
	for _, instruction := range instructions {
		compiled := CompiledInstruction{
			ProgramIDIndex: index[instruction.ProgramID],
			Data:           append([]byte(nil), instruction.Data...),
		}
		for _, meta := range instruction.Accounts {
			compiled.Accounts = append(compiled.Accounts, index[meta.Address])
		}
		ret.Instructions = append(ret.Instructions, compiled)
	}
	return ret, nil
}

// meta reconstructs the flags of the account at index from the header counts.
func (t *Transaction) meta(index int) AccountMeta {
	signers := int(t.NumRwSigners) + int(t.NumRoSigners)
	ret := AccountMeta{Address: t.Accounts[index]}
	switch {
	case index < int(t.NumRwSigners):
		ret.Signer, ret.Writable = true, true
	case index < signers:
		ret.Signer = true
	case index < signers+int(t.NumRw):
		ret.Writable = true
	}
	return ret
}

// Signers returns the signer accounts.
func (t *Transaction) Signers() []address.Address {
	n := int(t.NumRwSigners) + int(t.NumRoSigners)
	if n > len(t.Accounts) {
		n = len(t.Accounts)
	}
	return append([]address.Address(nil), t.Accounts[:n]...)
}

// Decompile expands the container back into instructions.
func (t *Transaction) Decompile() ([]Instruction, error) {
	var ret []Instruction
	for i, compiled := range t.Instructions {
		if int(compiled.ProgramIDIndex) >= len(t.Accounts) {
			return nil, fmt.Errorf("compiled: instruction %d program index %d out of range", i, compiled.ProgramIDIndex)
		}
		instruction := Instruction{ProgramID: t.Accounts[compiled.ProgramIDIndex], Data: compiled.Data}
		for _, idx := range compiled.Accounts {
			if int(idx) >= len(t.Accounts) {
				return nil, fmt.Errorf("compiled: instruction %d account index %d out of range", i, idx)
			}
			instruction.Accounts = append(instruction.Accounts, t.meta(int(idx)))
		}
		ret = append(ret, instruction)
	}
	return ret, nil
}

// Marshal encodes the container.
func Marshal(t *Transaction) ([]byte, error) {
	return codec.Marshal(t)
}

// Unmarshal decodes a container and rejects unknown versions.
func Unmarshal(data []byte) (*Transaction, error) {
	ret := &Transaction{}
	if err := codec.Unmarshal(data, ret); err != nil {
		return nil, fmt.Errorf("compiled: decode: %w", err)
	}
	if ret.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, ret.Version)
	}
	return ret, nil
}

// CompileBytes compiles and marshals in one step.
func CompileBytes(instructions []Instruction, signerSeeds [][][]byte) ([]byte, error) {
	tx, err := Compile(instructions, signerSeeds)
	if err != nil {
		return nil, err
	}
	return Marshal(tx)
}
