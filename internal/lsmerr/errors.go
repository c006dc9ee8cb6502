// Package lsmerr defines the public error taxonomy shared by every layer
// of the engine. Low-level packages return plain wrapped errors; only the
// boundary between a package and its caller pins one down to a Code.
package lsmerr

import "fmt"

// Code classifies an error by kind, not by type, per the engine's error
// handling design: callers switch on Code, never on the concrete error.
type Code int

const (
	OK Code = iota
	ErrGeneric
	Busy
	NoMem
	IOErr
	Corrupt
	Full
	CantOpen
	Misuse
	NotFound
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case ErrGeneric:
		return "ERROR"
	case Busy:
		return "BUSY"
	case NoMem:
		return "NOMEM"
	case IOErr:
		return "IOERR"
	case Corrupt:
		return "CORRUPT"
	case Full:
		return "FULL"
	case CantOpen:
		return "CANTOPEN"
	case Misuse:
		return "MISUSE"
	case NotFound:
		return "NOTFOUND"
	default:
		return "UNKNOWN"
	}
}

// Error is the typed error returned across package boundaries.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Code, so callers
// can write errors.Is(err, lsmerr.New(lsmerr.NotFound, "", nil)) or, more
// commonly, lsmerr.Is(err, lsmerr.NotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New constructs an *Error.
func New(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// Is reports whether err carries the given Code anywhere in its chain.
func Is(err error, code Code) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
