package domain

import (
	"errors"
	"fmt"
)

// Kind classifies every error the engine returns to a caller.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindInsufficientFunds
	KindConcurrencyConflict
	KindDuplicateEvent
	KindIntegrityViolation
	KindAlreadyJoined
	KindContestFull
	KindAlreadySettled
	KindAlreadyTerminal
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindNotFound:
		return "not_found"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindConcurrencyConflict:
		return "concurrency_conflict"
	case KindDuplicateEvent:
		return "duplicate_event"
	case KindIntegrityViolation:
		return "integrity_violation"
	case KindAlreadyJoined:
		return "already_joined"
	case KindContestFull:
		return "contest_full"
	case KindAlreadySettled:
		return "already_settled"
	case KindAlreadyTerminal:
		return "already_terminal"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Error is a sentinel carrying a Kind. Callers wrap it with %w and match with
// errors.Is against the exported Err* values.
type Error struct {
	kind Kind
	msg  string
}

func (e *Error) Error() string { return e.msg }

// Kind returns the classification of the sentinel.
func (e *Error) Kind() Kind { return e.kind }

var (
	ErrValidation          = &Error{kind: KindValidation, msg: "validation error"}
	ErrNotFound            = &Error{kind: KindNotFound, msg: "not found"}
	ErrInsufficientFunds   = &Error{kind: KindInsufficientFunds, msg: "insufficient funds"}
	ErrConcurrencyConflict = &Error{kind: KindConcurrencyConflict, msg: "concurrency conflict"}
	ErrDuplicateEvent      = &Error{kind: KindDuplicateEvent, msg: "duplicate event"}
	ErrIntegrityViolation  = &Error{kind: KindIntegrityViolation, msg: "integrity violation"}
	ErrAlreadyJoined       = &Error{kind: KindAlreadyJoined, msg: "already joined"}
	ErrContestFull         = &Error{kind: KindContestFull, msg: "contest full"}
	ErrAlreadySettled      = &Error{kind: KindAlreadySettled, msg: "already settled"}
	ErrAlreadyTerminal     = &Error{kind: KindAlreadyTerminal, msg: "already terminal"}
	ErrTransient           = &Error{kind: KindTransient, msg: "transient failure"}
)

// Errorf wraps sentinel with a formatted detail message.
func Errorf(sentinel *Error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// KindOf returns the Kind of the first sentinel in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindUnknown
}

// Disposition tells a caller what to do with an outcome.
type Disposition uint8

const (
	DispositionOK Disposition = iota
	DispositionRetry
	DispositionTerminal
)

func (d Disposition) String() string {
	switch d {
	case DispositionOK:
		return "ok"
	case DispositionRetry:
		return "retry"
	default:
		return "terminal"
	}
}

// Classify maps an error to a Disposition. Errors without a sentinel are
// treated as transient I/O and retried; a duplicate event is a success.
func Classify(err error) Disposition {
	if err == nil {
		return DispositionOK
	}
	switch KindOf(err) {
	case KindDuplicateEvent:
		return DispositionOK
	case KindConcurrencyConflict, KindTransient, KindUnknown:
		return DispositionRetry
	default:
		return DispositionTerminal
	}
}

// IsRetryable reports whether err is a ConcurrencyConflict or Transient
// failure. Untyped errors are not considered retryable here; see Classify.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindConcurrencyConflict, KindTransient:
		return true
	}
	return false
}
