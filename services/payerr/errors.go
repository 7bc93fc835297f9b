// Package payerr holds the typed errors shared by the reservation lifecycle and
// payment services. Callers branch on Code, never on message text.
package payerr

import (
	"errors"
	"fmt"
)

type Code string

const (
	InvalidAmount            Code = "INVALID_AMOUNT"
	IllegalTransition        Code = "ILLEGAL_TRANSITION"
	InvalidProof             Code = "INVALID_PROOF"
	CaptureFailed            Code = "CAPTURE_FAILED"
	PayoutDestinationMissing Code = "PAYOUT_DESTINATION_MISSING"
	PayoutFailed             Code = "PAYOUT_FAILED"
	InvalidSignature         Code = "INVALID_SIGNATURE"
	CircuitOpen              Code = "CIRCUIT_OPEN"
	Conflict                 Code = "CONFLICT"
	NotFound                 Code = "NOT_FOUND"
	Forbidden                Code = "FORBIDDEN"
)

// Error is a coded failure. Two Errors match under errors.Is when their codes match.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is checks.
var (
	ErrInvalidAmount            = &Error{Code: InvalidAmount}
	ErrIllegalTransition        = &Error{Code: IllegalTransition}
	ErrInvalidProof             = &Error{Code: InvalidProof}
	ErrCaptureFailed            = &Error{Code: CaptureFailed}
	ErrPayoutDestinationMissing = &Error{Code: PayoutDestinationMissing}
	ErrPayoutFailed             = &Error{Code: PayoutFailed}
	ErrInvalidSignature         = &Error{Code: InvalidSignature}
	ErrCircuitOpen              = &Error{Code: CircuitOpen}
	ErrConflict                 = &Error{Code: Conflict}
	ErrNotFound                 = &Error{Code: NotFound}
	ErrForbidden                = &Error{Code: Forbidden}
)

func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// ClientVisible reports whether the code may be shown to clients and providers.
// Payout and breaker failures are operator-only.
func ClientVisible(code Code) bool {
	switch code {
	case PayoutDestinationMissing, PayoutFailed, CircuitOpen:
		return false
	}
	return code != ""
}
