package errors

import "fmt"

// ValidationKind categorizes static validation failures.
type ValidationKind string

const (
	// KindBadOpcode marks a non-deterministic or otherwise forbidden
	// instruction (floats, SIMD, threads, GC, exceptions, memory64).
	KindBadOpcode ValidationKind = "bad_opcode"

	// KindMissingExport marks a required entry point that is absent.
	// This usually means the contract was built for an older VM.
	KindMissingExport ValidationKind = "missing_export"

	// KindUnknownImport marks an import the host does not provide.
	// This usually means the contract was built for a newer VM.
	KindUnknownImport ValidationKind = "unknown_import"

	// KindLimitExceeded marks a structural limit violation (too many
	// imports, functions, parameters, memory pages or table elements).
	KindLimitExceeded ValidationKind = "limit_exceeded"

	// KindMissingCapability marks a capability the contract requires but
	// the host does not offer.
	KindMissingCapability ValidationKind = "missing_capability"

	// KindMalformed marks bytecode that could not be parsed at all.
	KindMalformed ValidationKind = "malformed"

	// KindMemory marks an invalid memory section (zero or multiple
	// memories, declared maximum, oversized initial size).
	KindMemory ValidationKind = "memory"

	// KindInterfaceVersion marks a missing, duplicated or incompatible
	// interface version marker export.
	KindInterfaceVersion ValidationKind = "interface_version"
)

// ValidationError reports why uploaded bytecode was rejected. It is raised
// before any compilation and is always recoverable.
type ValidationError struct {
	Kind   ValidationKind
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("static validation failed [%s]: %s", e.Kind, e.Detail)
}

// Is matches any ValidationError of the same kind. A target with an empty
// kind matches every ValidationError.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	if !ok {
		return false
	}
	return t.Kind == "" || t.Kind == e.Kind
}

// NewValidation builds a ValidationError with a formatted detail message.
func NewValidation(kind ValidationKind, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func BadOpcode(format string, args ...any) *ValidationError {
	return NewValidation(KindBadOpcode, format, args...)
}

func MissingExport(name string) *ValidationError {
	return NewValidation(KindMissingExport, "contract is missing required export %q; contract too old for this VM?", name)
}

func UnknownImport(name string) *ValidationError {
	return NewValidation(KindUnknownImport, "contract requires unsupported import %q; contract too new for this VM?", name)
}

func LimitExceeded(format string, args ...any) *ValidationError {
	return NewValidation(KindLimitExceeded, format, args...)
}

func MissingCapability(name string) *ValidationError {
	return NewValidation(KindMissingCapability, "contract requires unavailable capability %q", name)
}
