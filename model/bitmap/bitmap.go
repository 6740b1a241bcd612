// Package bitmap tracks which of a queue's fixed slots are occupied. Slot i
// is bit i%8 of byte i/8, least significant bit first.
package bitmap

import (
	"errors"
	"fmt"
	"math/bits"
)

var (
	// ErrOutOfRange is returned for slot indexes outside [0, capacity).
	ErrOutOfRange = errors.New("bitmap: slot out of range")
	// ErrOccupied is returned when marking a slot that is already set.
	ErrOccupied = errors.New("bitmap: slot already occupied")
	// ErrFree is returned when clearing a slot that is already clear.
	ErrFree = errors.New("bitmap: slot not occupied")
)

// SizeOf returns the number of bytes needed for capacity bits.
func SizeOf(capacity uint32) int {
	return int((capacity + 7) / 8)
}

// FindFree returns the lowest index below capacity whose bit is clear.
// Full bytes are skipped with a single comparison. The result depends only
// on the snapshot passed in, so every party scanning the same bytes picks
// the same slot.
func FindFree(data []byte, capacity uint32) (int, bool) {
	limit := SizeOf(capacity)
	if limit > len(data) {
		limit = len(data)
	}
	for i := 0; i < limit; i++ {
		b := data[i]
		if b == 0xFF {
			continue
		}
		index := i*8 + bits.TrailingZeros8(^b)
		if uint32(index) >= capacity {
			return 0, false
		}
		return index, true
	}
	return 0, false
}

// Bitmap is a fixed capacity bit set.
type Bitmap struct {
	data     []byte
	capacity uint32
}

// New returns an empty bitmap for capacity slots.
func New(capacity uint32) *Bitmap {
	return &Bitmap{data: make([]byte, SizeOf(capacity)), capacity: capacity}
}

// FromBytes wraps a copy of data. Bits at or beyond capacity must be clear.
func FromBytes(data []byte, capacity uint32) (*Bitmap, error) {
	if len(data) != SizeOf(capacity) {
		return nil, fmt.Errorf("bitmap: expected %d bytes for capacity %d, got %d", SizeOf(capacity), capacity, len(data))
	}
	ret := &Bitmap{data: append([]byte(nil), data...), capacity: capacity}
	if rem := capacity % 8; rem != 0 {
		if ret.data[len(ret.data)-1]>>rem != 0 {
			return nil, fmt.Errorf("bitmap: padding bits set beyond capacity %d", capacity)
		}
	}
	return ret, nil
}

// Capacity returns the number of slots.
func (b *Bitmap) Capacity() uint32 { return b.capacity }

// Bytes returns a copy of the underlying bytes.
func (b *Bitmap) Bytes() []byte { return append([]byte(nil), b.data...) }

// FindFree returns the lowest free slot.
func (b *Bitmap) FindFree() (int, bool) { return FindFree(b.data, b.capacity) }

// IsOccupied reports whether slot is set. Out of range slots are never set.
func (b *Bitmap) IsOccupied(slot int) bool {
	if slot < 0 || uint32(slot) >= b.capacity {
		return false
	}
	return b.data[slot/8]&(1<<uint(slot%8)) != 0
}

// MarkOccupied sets slot.
func (b *Bitmap) MarkOccupied(slot int) error {
	if err := b.check(slot); err != nil {
		return err
	}
	if b.IsOccupied(slot) {
		return fmt.Errorf("%w: %d", ErrOccupied, slot)
	}
	b.data[slot/8] |= 1 << uint(slot%8)
	return nil
}

// MarkFree clears slot.
func (b *Bitmap) MarkFree(slot int) error {
	if err := b.check(slot); err != nil {
		return err
	}
	if !b.IsOccupied(slot) {
		return fmt.Errorf("%w: %d", ErrFree, slot)
	}
	b.data[slot/8] &^= 1 << uint(slot%8)
	return nil
}

// Count returns the number of occupied slots.
func (b *Bitmap) Count() int {
	ret := 0
	for _, v := range b.data {
		ret += bits.OnesCount8(v)
	}
	return ret
}

// Full reports whether every slot is occupied.
func (b *Bitmap) Full() bool { return uint32(b.Count()) == b.capacity }

// Occupied lists occupied slots in ascending order.
func (b *Bitmap) Occupied() []int {
	var ret []int
	for i, v := range b.data {
		for v != 0 {
			bit := bits.TrailingZeros8(v)
			ret = append(ret, i*8+bit)
			v &^= 1 << uint(bit)
		}
	}
	return ret
}

func (b *Bitmap) check(slot int) error {
	if slot < 0 || uint32(slot) >= b.capacity {
		return fmt.Errorf("%w: %d (capacity %d)", ErrOutOfRange, slot, b.capacity)
	}
	return nil
}
