package memory

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	"github.com/contractvm/contractvm/errors"
)

// DerefRegion reads and validates the Region struct at ptr.
func DerefRegion(mem api.Memory, ptr uint32) (Region, error) {
	if ptr == 0 {
		return Region{}, errors.DerefErr(ptr, "null region pointer")
	}
	buf, ok := mem.Read(ptr, RegionSize)
	if !ok {
		return Region{}, errors.DerefErr(ptr, "region struct outside guest memory")
	}
	return RegionFromBytes(buf)
}

// ReadRegion dereferences the Region at ptr and copies its Length bytes of
// data into host memory. maxLength bounds how much the host is willing to
// read; guests cannot make the host allocate unbounded buffers.
func ReadRegion(mem api.Memory, ptr uint32, maxLength int) ([]byte, error) {
	region, err := DerefRegion(mem, ptr)
	if err != nil {
		return nil, err
	}
	if int(region.Length) > maxLength {
		return nil, errors.RegionLengthTooBig(region.Length, maxLength)
	}
	if region.Length == 0 {
		return nil, nil
	}
	data, ok := mem.Read(region.Offset, region.Length)
	if !ok {
		return nil, errors.RegionAccessErr(region.Offset, region.Length, uint64(mem.Size()))
	}
	// Copy out: the wazero view aliases guest memory, which the guest can
	// mutate after we return.
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// WriteMemory copies data into the buffer described by the Region at ptr
// and updates the Region's length field. When the buffer's capacity is too
// small it writes nothing and returns the negated data length, so guests
// can reallocate and retry. Empty writes return 0 without touching memory.
func WriteMemory(mem api.Memory, ptr uint32, data []byte) (int32, error) {
	if len(data) == 0 {
		return 0, nil
	}
	region, err := DerefRegion(mem, ptr)
	if err != nil {
		return 0, err
	}
	if int(region.Capacity) < len(data) {
		return int32(-len(data)), nil
	}
	if !mem.Write(region.Offset, data) {
		return 0, errors.RegionAccessErr(region.Offset, region.Capacity, uint64(mem.Size()))
	}
	region.Length = uint32(len(data))
	if !mem.Write(ptr, region.Bytes()) {
		return 0, errors.DerefErr(ptr, "region struct outside guest memory")
	}
	return int32(len(data)), nil
}

// WriteToRegion is WriteMemory for host-initiated writes, where a too-small
// target is a protocol violation rather than a retryable condition.
func WriteToRegion(mem api.Memory, ptr uint32, data []byte) error {
	written, err := WriteMemory(mem, ptr, data)
	if err != nil {
		return err
	}
	if written < 0 {
		region, derefErr := DerefRegion(mem, ptr)
		if derefErr != nil {
			return derefErr
		}
		return errors.RegionTooSmall(int(region.Capacity), len(data))
	}
	return nil
}

// GuestAllocator calls into the contract's own exported allocator. The host
// never manages guest heap memory directly, only Region metadata.
type GuestAllocator struct {
	allocate   api.Function
	deallocate api.Function
}

// NewGuestAllocator resolves the allocate/deallocate exports of a live
// module. Validation guarantees they exist for accepted contracts.
func NewGuestAllocator(mod api.Module) (*GuestAllocator, error) {
	alloc := mod.ExportedFunction("allocate")
	if alloc == nil {
		return nil, errors.NewCommunication(errors.KindExportMissing, "contract does not export allocate")
	}
	dealloc := mod.ExportedFunction("deallocate")
	if dealloc == nil {
		return nil, errors.NewCommunication(errors.KindExportMissing, "contract does not export deallocate")
	}
	return &GuestAllocator{allocate: alloc, deallocate: dealloc}, nil
}

// Allocate asks the guest for a buffer of the given size and returns the
// pointer to its Region struct.
func (a *GuestAllocator) Allocate(ctx context.Context, size uint32) (uint32, error) {
	results, err := a.allocate.Call(ctx, uint64(size))
	if err != nil {
		return 0, err
	}
	if len(results) != 1 {
		return 0, errors.NewCommunication(errors.KindUnexpectedReturn, "allocate returned %d values, want 1", len(results))
	}
	ptr := uint32(results[0])
	if ptr == 0 {
		return 0, errors.NewCommunication(errors.KindDeref, "guest allocator returned null")
	}
	return ptr, nil
}

// Deallocate returns a guest buffer to the guest allocator.
func (a *GuestAllocator) Deallocate(ctx context.Context, ptr uint32) error {
	_, err := a.deallocate.Call(ctx, uint64(ptr))
	return err
}

// AllocateAndWrite allocates a guest buffer for data and fills it,
// returning the Region pointer. On a failed write the buffer is returned to
// the guest before the error propagates.
func (a *GuestAllocator) AllocateAndWrite(ctx context.Context, mem api.Memory, data []byte) (uint32, error) {
	ptr, err := a.Allocate(ctx, uint32(len(data)))
	if err != nil {
		return 0, err
	}
	if err := WriteToRegion(mem, ptr, data); err != nil {
		_ = a.Deallocate(ctx, ptr)
		return 0, err
	}
	return ptr, nil
}
