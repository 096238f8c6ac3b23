// Package memory implements the Region protocol used to exchange byte
// buffers with contract code.
//
// A Region is the only pointer-like value that crosses the host/guest
// boundary. Pointers passed between the two sides always address a Region
// struct inside guest memory, never a data buffer directly, and every
// dereference is bounds-checked against the guest's current memory size.
package memory

import (
	"encoding/binary"

	"github.com/contractvm/contractvm/errors"
)

// RegionSize is the byte size of a Region struct in guest memory.
const RegionSize = 12

// Region describes a buffer inside guest linear memory. The layout in guest
// memory is three little-endian u32 fields in declaration order.
type Region struct {
	// Offset is the buffer's start address. Zero is reserved as null.
	Offset uint32
	// Capacity is the number of bytes allocated for the buffer.
	Capacity uint32
	// Length is the number of bytes in use, at most Capacity.
	Length uint32
}

// Validate checks the descriptor's internal plausibility. It does not look
// at guest memory; callers still bounds-check against the live memory size.
func (r Region) Validate() error {
	if r.Offset == 0 {
		return errors.RegionZeroOffset()
	}
	if r.Length > r.Capacity {
		return errors.RegionLengthExceedsCapacity(r.Length, r.Capacity)
	}
	if uint64(r.Offset)+uint64(r.Capacity) > uint64(^uint32(0)) {
		return errors.RegionOutOfRange(r.Offset, r.Capacity)
	}
	return nil
}

// RegionFromBytes decodes a Region from its 12-byte guest representation
// and validates it.
func RegionFromBytes(buf []byte) (Region, error) {
	if len(buf) != RegionSize {
		return Region{}, errors.NewCommunication(errors.KindDeref, "region struct has %d bytes, want %d", len(buf), RegionSize)
	}
	r := Region{
		Offset:   binary.LittleEndian.Uint32(buf[0:4]),
		Capacity: binary.LittleEndian.Uint32(buf[4:8]),
		Length:   binary.LittleEndian.Uint32(buf[8:12]),
	}
	if err := r.Validate(); err != nil {
		return Region{}, errors.InvalidRegion(err.(*errors.RegionValidationError))
	}
	return r, nil
}

// Bytes encodes the Region into its guest representation.
func (r Region) Bytes() []byte {
	buf := make([]byte, RegionSize)
	binary.LittleEndian.PutUint32(buf[0:4], r.Offset)
	binary.LittleEndian.PutUint32(buf[4:8], r.Capacity)
	binary.LittleEndian.PutUint32(buf[8:12], r.Length)
	return buf
}
