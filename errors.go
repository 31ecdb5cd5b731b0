package ewf

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an Error per spec.md §7's error taxonomy.
type Kind int

const (
	KindUnknown Kind = iota
	KindArgumentInvalid
	KindArgumentOutOfRange
	KindStateImmutable
	KindValueMissing
	KindValueExceedsMaximum
	KindIoRead
	KindIoWrite
	KindIoSeek
	KindFormatInvalid
	KindIntegrityMismatch
	KindCompressionError
	KindUnsupported
	KindResourceExhausted
)

func (k Kind) String() string {
	switch k {
	case KindArgumentInvalid:
		return "ArgumentInvalid"
	case KindArgumentOutOfRange:
		return "ArgumentOutOfRange"
	case KindStateImmutable:
		return "StateImmutable"
	case KindValueMissing:
		return "ValueMissing"
	case KindValueExceedsMaximum:
		return "ValueExceedsMaximum"
	case KindIoRead:
		return "IoRead"
	case KindIoWrite:
		return "IoWrite"
	case KindIoSeek:
		return "IoSeek"
	case KindFormatInvalid:
		return "FormatInvalid"
	case KindIntegrityMismatch:
		return "IntegrityMismatch"
	case KindCompressionError:
		return "CompressionError"
	case KindUnsupported:
		return "Unsupported"
	case KindResourceExhausted:
		return "ResourceExhausted"
	default:
		return "Unknown"
	}
}

// Error is the typed error value every exported operation returns on
// failure: a kind, the failing operation, a message, and an optional
// wrapped cause (spec.md §9 "Global/static error stack" resolution).
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ewf: %s: %s: %v", e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("ewf: %s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// newErr builds an *Error, wrapping cause (if non-nil) with
// github.com/pkg/errors to retain a stack trace on the cause chain.
func newErr(kind Kind, op, message string, cause error) *Error {
	if cause != nil {
		cause = errors.WithStack(cause)
	}
	return &Error{Kind: kind, Op: op, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err, or KindUnknown if err isn't (or
// doesn't wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
