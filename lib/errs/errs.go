// Package errs defines the typed error kinds used throughout the backup
// and restore pipelines.
package errs

import "fmt"

// Kind classifies an Error so that callers can branch on failure category
// without string-matching messages.
type Kind string

const (
	// InvalidArgument covers malformed size syntax, part/block alignment
	// mismatches, and unknown sources.
	InvalidArgument Kind = "invalid-argument"
	// CopyFailed covers a non-zero exit or I/O failure from the block copier.
	CopyFailed Kind = "copy-failed"
	// BackupCorrupt covers restore-time invariant violations.
	BackupCorrupt Kind = "backup-corrupt"
	// NoSuchUUID means the platform resolver found no device for the UUID.
	NoSuchUUID Kind = "no-such-uuid"
	// NoSuchSource means a plain path source does not exist.
	NoSuchSource Kind = "no-such-source"
	// UnsupportedPlatform means no UUID resolver adapter is registered.
	UnsupportedPlatform Kind = "unsupported-platform"
	// IO covers a stat/rename/unlink/mkdir failure outside the above.
	IO Kind = "io"
)

// Error is a classified, wrapped error.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{
		Kind:  kind,
		Msg:   fmt.Sprintf(format, args...),
		Cause: cause,
	}
}

// Is reports whether err (or something it wraps) is an *Error of kind k.
func Is(err error, k Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Kind == k {
				return true
			}
			err = e.Cause
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
