package errors

import "fmt"

// FfiKind categorizes runtime failures at the host/guest boundary.
type FfiKind string

const (
	KindOutOfGas        FfiKind = "out_of_gas"
	KindUnknownIterator FfiKind = "unknown_iterator"
	KindGuestPanic      FfiKind = "guest_panic"
	KindUserError       FfiKind = "user_error"
	KindForeign         FfiKind = "foreign"
)

// FfiError reports a failure crossing the host/guest boundary during
// execution. All variants abort the current call; only KindUserError carries
// its message into the contract's own result envelope.
type FfiError struct {
	Cause  error
	Kind   FfiKind
	Detail string
}

func (e *FfiError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ffi error [%s]: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	return fmt.Sprintf("ffi error [%s]: %s", e.Kind, e.Detail)
}

func (e *FfiError) Unwrap() error { return e.Cause }

func (e *FfiError) Is(target error) bool {
	t, ok := target.(*FfiError)
	if !ok {
		return false
	}
	return t.Kind == "" || t.Kind == e.Kind
}

// OutOfGas reports gas exhaustion. Execution of the instance cannot resume.
func OutOfGas() *FfiError {
	return &FfiError{Kind: KindOutOfGas, Detail: "out of gas"}
}

// InsufficientGasLeft is the condition raised when a gas charge exceeds the
// remaining gas; the remaining gas is clamped to zero before it is returned.
var InsufficientGasLeft = OutOfGas()

// UnknownIterator reports a db_next call with an iterator id the host never
// handed out (or one that was already closed).
func UnknownIterator(id uint64) *FfiError {
	return &FfiError{Kind: KindUnknownIterator, Detail: fmt.Sprintf("unknown iterator id %d", id)}
}

// GuestPanic wraps an abort or trap raised inside the guest. The panic never
// unwinds into host code; it is captured here.
func GuestPanic(detail string) *FfiError {
	return &FfiError{Kind: KindGuestPanic, Detail: detail}
}

// UserErr marks an error a host callback raised deliberately on behalf of the
// user. Its message is the only FfiError content that reaches the contract.
func UserErr(format string, args ...any) *FfiError {
	return &FfiError{Kind: KindUserError, Detail: fmt.Sprintf(format, args...)}
}

// Foreign wraps an unclassified error from a host callback.
func Foreign(cause error) *FfiError {
	return &FfiError{Kind: KindForeign, Detail: "host callback failed", Cause: cause}
}

// IsOutOfGas reports whether any error in err's chain is gas exhaustion.
func IsOutOfGas(err error) bool {
	return Is(err, &FfiError{Kind: KindOutOfGas})
}
