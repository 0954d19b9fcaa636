// Package apperr defines the closed set of error kinds surfaced by the
// persistence and integrity packages, so callers can branch on kind instead
// of parsing messages.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// KindIO covers directory and file create, read and write failures,
	// and storage engine failures.
	KindIO Kind = iota + 1
	KindNotFound
	// KindMalformedInput covers undecodable documents, missing required
	// fields and unsafe identifiers.
	KindMalformedInput
	// KindRemote covers release checks and downloads.
	KindRemote
	// KindBackupPrecondition means a backup could not be completed and the
	// operation guarded by it was not started.
	KindBackupPrecondition
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindNotFound:
		return "not_found"
	case KindMalformedInput:
		return "malformed_input"
	case KindRemote:
		return "remote"
	case KindBackupPrecondition:
		return "backup_precondition"
	default:
		return "unknown"
	}
}

// Error is an error of a known Kind raised by a named operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err as an Error of the given kind.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an Error of the given kind from a format string. The %w verb
// is honoured.
func Errorf(kind Kind, op string, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost Error in err's chain, or zero if
// there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func IsNotFound(err error) bool {
	return Is(err, KindNotFound)
}
