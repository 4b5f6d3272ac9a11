// Package apperr defines the error kinds returned by the ledger engine.
//
// Every error returned by an engine operation either is, or wraps, an *Error.
// Callers match a specific condition with errors.Is(err, apperr.ErrAmountMismatch)
// or a whole class with apperr.KindOf(err).
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation to callers.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindPrecondition
	KindConflict
	KindBusinessRule
	KindNotFound
	KindPermission
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPrecondition:
		return "precondition"
	case KindConflict:
		return "conflict"
	case KindBusinessRule:
		return "business_rule"
	case KindNotFound:
		return "not_found"
	case KindPermission:
		return "permission"
	default:
		return "internal"
	}
}

// Error is a named, classified error. Values are used as sentinels.
type Error struct {
	kind Kind
	code string
	msg  string
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{kind: kind, code: code, msg: msg}
}

func (e *Error) Error() string { return e.msg }

// Kind returns the error's class.
func (e *Error) Kind() Kind { return e.kind }

// Code returns a stable machine-readable identifier.
func (e *Error) Code() string { return e.code }

// Generic kinds.
var (
	ErrValidation   = newError(KindValidation, "validation", "invalid input")
	ErrPrecondition = newError(KindPrecondition, "precondition", "operation not allowed in current state")
	ErrConflict     = newError(KindConflict, "conflict", "concurrent modification")
	ErrBusinessRule = newError(KindBusinessRule, "business_rule", "business rule violated")
	ErrNotFound     = newError(KindNotFound, "not_found", "not found")
	ErrPermission   = newError(KindPermission, "permission", "permission denied")
)

// Named conditions.
var (
	ErrNoApplicableRate       = newError(KindBusinessRule, "no_applicable_rate", "no applicable interest rate")
	ErrUnknownTier            = newError(KindBusinessRule, "unknown_tier", "tier does not belong to the cycle's scheme")
	ErrAmountMismatch         = newError(KindBusinessRule, "amount_mismatch", "amount does not match declaration total")
	ErrBorrowingLimitExceeded = newError(KindBusinessRule, "borrowing_limit_exceeded", "borrowing limit exceeded")
	ErrOverpayment            = newError(KindBusinessRule, "overpayment", "repayment exceeds outstanding balance")
	ErrCycleTerminal          = newError(KindBusinessRule, "cycle_terminal", "cycle from a prior year cannot be reactivated")
	ErrDuplicateDeclaration   = newError(KindConflict, "duplicate_declaration", "declaration already exists for this month")
	ErrAlreadyApproved        = newError(KindConflict, "already_approved", "already approved")
	ErrLoanAlreadyPaid        = newError(KindPrecondition, "loan_already_paid", "loan is already paid")
	ErrPhaseClosed            = newError(KindPrecondition, "phase_closed", "phase window is closed")
)

// Wrap attaches context to a sentinel while keeping it matchable with errors.Is.
func Wrap(sentinel *Error, format string, args ...any) error {
	return &wrapped{sentinel: sentinel, detail: fmt.Sprintf(format, args...)}
}

type wrapped struct {
	sentinel *Error
	detail   string
}

func (w *wrapped) Error() string { return w.sentinel.msg + ": " + w.detail }
func (w *wrapped) Unwrap() error { return w.sentinel }

// Validationf, Preconditionf, Conflictf and NotFoundf are shorthands for Wrap on the generic kinds.
func Validationf(format string, args ...any) error   { return Wrap(ErrValidation, format, args...) }
func Preconditionf(format string, args ...any) error { return Wrap(ErrPrecondition, format, args...) }
func Conflictf(format string, args ...any) error     { return Wrap(ErrConflict, format, args...) }
func NotFoundf(format string, args ...any) error     { return Wrap(ErrNotFound, format, args...) }
func Permissionf(format string, args ...any) error   { return Wrap(ErrPermission, format, args...) }

// KindOf reports the class of err, or KindInternal when err carries no *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindInternal
}
