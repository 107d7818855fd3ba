// Package strataerr defines the error taxonomy shared across every Strata
// component. Components return *Error so callers can branch on Kind()
// instead of matching on package-local sentinel values.
package strataerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error into one of the categories the engine exposes
// at its boundary.
type Kind int

const (
	// KindInternal marks a programming invariant violation. Never expected
	// in production.
	KindInternal Kind = iota
	// KindNotFound marks a missing key, run, or collection.
	KindNotFound
	// KindConflict marks an OCC validation failure or CAS version mismatch.
	KindConflict
	// KindWrongType marks a value-tag mismatch in a typed accessor.
	KindWrongType
	// KindInvalidKey marks an empty, reserved-prefix, or oversized key.
	KindInvalidKey
	// KindInvalidPath marks an invalid on-disk path argument.
	KindInvalidPath
	// KindConstraintViolation marks a breached limit (size, depth, array).
	KindConstraintViolation
	// KindCorruption marks a CRC mismatch, magic mismatch, or unsupported
	// on-disk format version.
	KindCorruption
	// KindIO marks an underlying filesystem failure.
	KindIO
	// KindClosed marks an operation attempted on a closed handle.
	KindClosed
	// KindRunClosed marks an operation on a terminated run.
	KindRunClosed
	// KindHistoryTrimmed marks a replay request below the earliest
	// retained version.
	KindHistoryTrimmed
	// KindOverflow marks counter or offset arithmetic overflow.
	KindOverflow
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindConflict:
		return "Conflict"
	case KindWrongType:
		return "WrongType"
	case KindInvalidKey:
		return "InvalidKey"
	case KindInvalidPath:
		return "InvalidPath"
	case KindConstraintViolation:
		return "ConstraintViolation"
	case KindCorruption:
		return "Corruption"
	case KindIO:
		return "Io"
	case KindClosed:
		return "Closed"
	case KindRunClosed:
		return "RunClosed"
	case KindHistoryTrimmed:
		return "HistoryTrimmed"
	case KindOverflow:
		return "Overflow"
	default:
		return "Internal"
	}
}

// Error is the concrete error type returned at Strata's API boundary.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "mvcc.Get"
	Key  string // optional, the key/run/collection involved
	Err  error  // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Key != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s (%s): %v", e.Op, e.Kind, e.Key, e.Err)
		}
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Kind, e.Key)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, strataerr.New(kind, "", nil)) style matching on
// Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error with the given kind, operation, and cause.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithKey attaches the identifier involved (a key, run id, or collection
// name) for better error messages.
func (e *Error) WithKey(key string) *Error {
	return &Error{Kind: e.Kind, Op: e.Op, Key: key, Err: e.Err}
}

// KindOf extracts the Kind from err, defaulting to KindInternal if err is
// not (or does not wrap) a *Error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// Is reports whether err's kind equals kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func NotFound(op, key string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Key: key}
}

func Conflict(op, key string) *Error {
	return &Error{Kind: KindConflict, Op: op, Key: key}
}

func WrongType(op, key string) *Error {
	return &Error{Kind: KindWrongType, Op: op, Key: key}
}

func InvalidKey(op, key string, cause error) *Error {
	return &Error{Kind: KindInvalidKey, Op: op, Key: key, Err: cause}
}

func InvalidPath(op string, cause error) *Error {
	return &Error{Kind: KindInvalidPath, Op: op, Err: cause}
}

func ConstraintViolation(op, key string, cause error) *Error {
	return &Error{Kind: KindConstraintViolation, Op: op, Key: key, Err: cause}
}

func Corruption(op string, cause error) *Error {
	return &Error{Kind: KindCorruption, Op: op, Err: cause}
}

func IO(op string, cause error) *Error {
	return &Error{Kind: KindIO, Op: op, Err: cause}
}

func Closed(op string) *Error {
	return &Error{Kind: KindClosed, Op: op}
}

func RunClosed(op, key string) *Error {
	return &Error{Kind: KindRunClosed, Op: op, Key: key}
}

func HistoryTrimmed(op string) *Error {
	return &Error{Kind: KindHistoryTrimmed, Op: op}
}

func Overflow(op string) *Error {
	return &Error{Kind: KindOverflow, Op: op}
}

func Internal(op string, cause error) *Error {
	return &Error{Kind: KindInternal, Op: op, Err: cause}
}
