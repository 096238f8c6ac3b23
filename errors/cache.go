package errors

import (
	stderrors "errors"
	"fmt"
)

// CacheKind categorizes module cache failures.
type CacheKind string

const (
	KindIO                 CacheKind = "io"
	KindCorruptedArtifact  CacheKind = "corrupted_artifact"
	KindUnsupportedVersion CacheKind = "unsupported_version"
	KindUnknownChecksum    CacheKind = "unknown_checksum"
)

// CacheError reports a failure in the compiled-module or raw-code stores.
// Recoverable at the call site; never swallowed.
type CacheError struct {
	Cause  error
	Kind   CacheKind
	Detail string
}

func (e *CacheError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("cache error [%s]: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	return fmt.Sprintf("cache error [%s]: %s", e.Kind, e.Detail)
}

func (e *CacheError) Unwrap() error { return e.Cause }

func (e *CacheError) Is(target error) bool {
	t, ok := target.(*CacheError)
	if !ok {
		return false
	}
	return t.Kind == "" || t.Kind == e.Kind
}

func CacheIO(detail string, cause error) *CacheError {
	return &CacheError{Kind: KindIO, Detail: detail, Cause: cause}
}

func CorruptedArtifact(detail string) *CacheError {
	return &CacheError{Kind: KindCorruptedArtifact, Detail: detail}
}

func UnsupportedVersion(got, want string) *CacheError {
	return &CacheError{Kind: KindUnsupportedVersion,
		Detail: fmt.Sprintf("artifact format %q, this runtime requires %q", got, want)}
}

func UnknownChecksum(checksum string) *CacheError {
	return &CacheError{Kind: KindUnknownChecksum, Detail: fmt.Sprintf("no code stored for checksum %s", checksum)}
}

// Is re-exports the standard library matcher so callers need only one errors
// import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As re-exports the standard library matcher.
func As(err error, target any) bool { return stderrors.As(err, target) }
