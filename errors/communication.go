package errors

import "fmt"

// RegionValidationError reports a Region descriptor that is implausible on
// its face, before guest memory is even touched. Regions are always created
// by the contract, so these indicate a broken or malicious guest allocator.
type RegionValidationError struct {
	Offset   uint32
	Capacity uint32
	Length   uint32
	reason   string
}

func (e *RegionValidationError) Error() string {
	return fmt.Sprintf("region validation failed: %s (offset=%d capacity=%d length=%d)",
		e.reason, e.Offset, e.Capacity, e.Length)
}

func (e *RegionValidationError) Is(target error) bool {
	t, ok := target.(*RegionValidationError)
	if !ok {
		return false
	}
	return t.reason == "" || t.reason == e.reason
}

func RegionZeroOffset() *RegionValidationError {
	return &RegionValidationError{reason: "zero offset"}
}

func RegionLengthExceedsCapacity(length, capacity uint32) *RegionValidationError {
	return &RegionValidationError{reason: "length exceeds capacity", Length: length, Capacity: capacity}
}

func RegionOutOfRange(offset, capacity uint32) *RegionValidationError {
	return &RegionValidationError{reason: "exceeds address space", Offset: offset, Capacity: capacity}
}

// CommunicationKind categorizes host/guest data exchange failures.
type CommunicationKind string

const (
	KindDeref            CommunicationKind = "deref"
	KindInvalidRegion    CommunicationKind = "invalid_region"
	KindRegionAccess     CommunicationKind = "region_access"
	KindRegionLength     CommunicationKind = "region_length_too_big"
	KindRegionTooSmall   CommunicationKind = "region_too_small"
	KindInvalidUTF8      CommunicationKind = "invalid_utf8"
	KindInvalidOrder     CommunicationKind = "invalid_order"
	KindExportMissing    CommunicationKind = "export_missing"
	KindUnexpectedReturn CommunicationKind = "unexpected_return"
)

// CommunicationError reports a violation of the memory exchange protocol
// between host and guest. Recoverable; the call fails, the host survives.
type CommunicationError struct {
	Cause  error
	Kind   CommunicationKind
	Detail string
}

func (e *CommunicationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("communication error [%s]: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	return fmt.Sprintf("communication error [%s]: %s", e.Kind, e.Detail)
}

func (e *CommunicationError) Unwrap() error { return e.Cause }

func (e *CommunicationError) Is(target error) bool {
	t, ok := target.(*CommunicationError)
	if !ok {
		return false
	}
	return t.Kind == "" || t.Kind == e.Kind
}

func NewCommunication(kind CommunicationKind, format string, args ...any) *CommunicationError {
	return &CommunicationError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// DerefErr reports a Region pointer that could not be dereferenced.
func DerefErr(ptr uint32, detail string) *CommunicationError {
	return NewCommunication(KindDeref, "cannot dereference pointer %d: %s", ptr, detail)
}

// InvalidRegion wraps a RegionValidationError.
func InvalidRegion(cause *RegionValidationError) *CommunicationError {
	return &CommunicationError{Kind: KindInvalidRegion, Detail: "guest sent invalid region", Cause: cause}
}

// RegionAccessErr reports a region pointing outside the guest's current
// memory size.
func RegionAccessErr(offset, length uint32, memorySize uint64) *CommunicationError {
	return NewCommunication(KindRegionAccess,
		"region [%d, %d) is outside guest memory of size %d", offset, uint64(offset)+uint64(length), memorySize)
}

// RegionLengthTooBig reports a region longer than the host is willing to read.
func RegionLengthTooBig(length uint32, max int) *CommunicationError {
	return NewCommunication(KindRegionLength, "region length %d exceeds limit %d", length, max)
}

// RegionTooSmall reports a write target with insufficient capacity.
func RegionTooSmall(size, required int) *CommunicationError {
	return NewCommunication(KindRegionTooSmall, "region capacity %d too small for %d bytes", size, required)
}

// InvalidUTF8 reports non-UTF-8 string data received from the guest.
func InvalidUTF8(what string) *CommunicationError {
	return NewCommunication(KindInvalidUTF8, "guest sent invalid UTF-8 for %s", what)
}

// InvalidOrder reports an unknown iteration order value.
func InvalidOrder(order int32) *CommunicationError {
	return NewCommunication(KindInvalidOrder, "invalid iteration order %d", order)
}
