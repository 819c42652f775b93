// Package coreerr defines the closed error taxonomy the capsule core exposes
// to callers, instead of a (domain, code) pair.
package coreerr

import (
	"github.com/cockroachdb/errors"
)

// Code is a closed sum of the failure categories a caller needs to branch on.
type Code int

const (
	// NotSupported means the platform lacks EFI, the variable store is not
	// mounted, or the requested operation is unavailable on this firmware.
	NotSupported Code = iota
	// NotFound means a requested variable or target GUID does not exist.
	NotFound
	// InvalidFile means the capsule payload is malformed.
	InvalidFile
	// InvalidData means an EFI variable's contents are corrupt.
	InvalidData
	// BrokenSystem means Secure Boot is enabled but shim is not installed
	// where expected.
	BrokenSystem
	// NeedsUserAction means a dbx update would revoke a currently-bootable
	// ESP binary.
	NeedsUserAction
	// Internal means a programming-error invariant was violated.
	Internal
	// Write means an ESP or variable write failed.
	Write
	// PermissionDenied means efivarfs refused the write.
	PermissionDenied
)

func (c Code) String() string {
	switch c {
	case NotSupported:
		return "not-supported"
	case NotFound:
		return "not-found"
	case InvalidFile:
		return "invalid-file"
	case InvalidData:
		return "invalid-data"
	case BrokenSystem:
		return "broken-system"
	case NeedsUserAction:
		return "needs-user-action"
	case Internal:
		return "internal"
	case Write:
		return "write"
	case PermissionDenied:
		return "permission-denied"
	default:
		return "unknown"
	}
}

// Error is the typed error every exported core operation returns.
type Error struct {
	Code Code
	err  error
}

func (e *Error) Error() string {
	return e.err.Error()
}

func (e *Error) Unwrap() error {
	return e.err
}

// New builds an Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, err: errors.Newf(format, args...)}
}

// Wrap attaches code to cause, preserving the cockroachdb error chain so
// logs still show the original failure.
func Wrap(code Code, cause error, msg string) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Code: code, err: errors.Wrap(cause, msg)}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(code Code, cause error, format string, args ...any) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Code: code, err: errors.Wrapf(cause, format, args...)}
}

// Is reports whether err is a *Error carrying code.
func Is(err error, code Code) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}
