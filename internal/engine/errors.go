package engine

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// SplitError represents a failure of the splitting engine or its controller.
//
// Failure kinds:
//   - OutOfRange: target outside configured bounds, rejected before any
//     allocation attempt
//   - NotFound: no candidate within tolerance after the retry/compensation
//     budget was exhausted
//   - Conflict: reservation contention; absorbed by retry during the
//     search, surfaced when a record flips out from under a held
//     reservation at commit time
//   - Internal: cache/index/ledger failure
type SplitError struct {
	// Code identifies the failure kind.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Target is the requested target value, when known.
	Target decimal.Decimal

	// RecordID identifies the contended record (Conflict only).
	RecordID string

	// Attempts is how many controller attempts ran before giving up
	// (NotFound only).
	Attempts int

	cause error
}

// ErrorCode categorizes split failures.
type ErrorCode string

const (
	// CodeOutOfRange indicates the target is outside [MinValue, MaxValue].
	CodeOutOfRange ErrorCode = "OUT_OF_RANGE"

	// CodeNotFound indicates no acceptable combination exists.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeConflict indicates transient reservation contention.
	CodeConflict ErrorCode = "CONFLICT"

	// CodeInternal indicates a cache, index or ledger failure.
	CodeInternal ErrorCode = "INTERNAL"
)

// Error implements the error interface.
func (e *SplitError) Error() string {
	switch {
	case e.RecordID != "":
		return fmt.Sprintf("%s: %s (record=%s)", e.Code, e.Message, e.RecordID)
	case e.Attempts > 0:
		return fmt.Sprintf("%s: %s (target=%s, attempts=%d)", e.Code, e.Message, e.Target, e.Attempts)
	case !e.Target.IsZero():
		return fmt.Sprintf("%s: %s (target=%s)", e.Code, e.Message, e.Target)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Unwrap exposes the underlying cause, if any.
func (e *SplitError) Unwrap() error {
	return e.cause
}

// IsOutOfRange reports whether err is an out-of-range rejection.
func IsOutOfRange(err error) bool { return hasCode(err, CodeOutOfRange) }

// IsNotFound reports whether err is a not-found outcome.
func IsNotFound(err error) bool { return hasCode(err, CodeNotFound) }

// IsConflict reports whether err is transient reservation contention.
func IsConflict(err error) bool { return hasCode(err, CodeConflict) }

// IsInternal reports whether err is an internal failure.
func IsInternal(err error) bool { return hasCode(err, CodeInternal) }

func hasCode(err error, code ErrorCode) bool {
	var se *SplitError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// NewOutOfRangeError creates a SplitError for a target outside the bounds.
func NewOutOfRangeError(target, min, max decimal.Decimal) *SplitError {
	return &SplitError{
		Code:    CodeOutOfRange,
		Message: fmt.Sprintf("target must be within [%s, %s]", min, max),
		Target:  target,
	}
}

// NewNotFoundError creates a SplitError for an exhausted search.
func NewNotFoundError(target decimal.Decimal, attempts int) *SplitError {
	return &SplitError{
		Code:     CodeNotFound,
		Message:  "no combination within tolerance",
		Target:   target,
		Attempts: attempts,
	}
}

// NewConflictError creates a SplitError for reservation contention.
func NewConflictError(recordID string) *SplitError {
	return &SplitError{
		Code:     CodeConflict,
		Message:  "record reserved by another request",
		RecordID: recordID,
	}
}

// NewInternalError creates a SplitError wrapping an infrastructure failure.
func NewInternalError(msg string, cause error) *SplitError {
	return &SplitError{
		Code:    CodeInternal,
		Message: msg,
		cause:   cause,
	}
}
