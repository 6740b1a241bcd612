// Package address derives the deterministic identifiers under which queues,
// authorities, tasks and delegatable accounts live. Every party that knows
// the seed tag and components recomputes the same address bit-for-bit, so
// slot identity is address identity.
package address

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Size is the length of an address in bytes.
const Size = 32

// Address is a 32-byte derived identifier.
type Address [Size]byte

// Seed tags used by deferq. Changing any of them moves every derived
// address in that namespace.
const (
	SeedQueueName      = "task_queue_name"
	SeedQueue          = "task_queue"
	SeedQueueAuthority = "task_queue_authority"
	SeedTask           = "task"
	SeedUser           = "user"
	SeedProgram        = "program"
	SeedPrincipal      = "principal"
)

// domainKey keys the BLAKE3 hash so derived addresses never collide with
// other BLAKE3 digests over the same bytes.
var domainKey = [32]byte{
	'd', 'e', 'f', 'e', 'r', 'q', '.', 'a', 'd', 'd', 'r', 'e', 's', 's',
}

// Derive computes the address for seedTag and components. The tag and each
// component are length-prefixed, so ("ab", "c") and ("a", "bc") differ.
func Derive(seedTag string, components ...[]byte) Address {
	hasher, err := blake3.NewKeyed(domainKey[:])
	if err != nil {
		panic("address: blake3 keyed hasher: " + err.Error())
	}
	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(seedTag)))
	_, _ = hasher.Write(prefix[:])
	_, _ = hasher.Write([]byte(seedTag))
	for _, component := range components {
		binary.LittleEndian.PutUint32(prefix[:], uint32(len(component)))
		_, _ = hasher.Write(prefix[:])
		_, _ = hasher.Write(component)
	}
	var ret Address
	copy(ret[:], hasher.Sum(nil))
	return ret
}

// Parse decodes a hex encoded address.
func Parse(text string) (Address, error) {
	var ret Address
	raw, err := hex.DecodeString(text)
	if err != nil {
		return ret, fmt.Errorf("address: invalid hex %q: %w", text, err)
	}
	if len(raw) != Size {
		return ret, fmt.Errorf("address: expected %d bytes, got %d", Size, len(raw))
	}
	copy(ret[:], raw)
	return ret, nil
}

// MustParse is Parse that panics, for constants and tests.
func MustParse(text string) Address {
	ret, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return ret
}

// String returns the hex form of the address.
func (a Address) String() string { return hex.EncodeToString(a[:]) }

// Short returns the first eight hex characters, for log lines.
func (a Address) Short() string { return a.String()[:8] }

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool { return a == Address{} }

// Bytes returns a copy of the address bytes.
func (a Address) Bytes() []byte { return append([]byte(nil), a[:]...) }

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
