package circulation

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures so callers can branch without
// matching on message text.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindResourceUnavailable
	KindPolicyViolation
	KindNotFound
	KindInvalidStateTransition
	KindEntitlementMissing
	KindForbidden
	KindTransient
)

func (k ErrorKind) String() string {
	switch k {
	case KindResourceUnavailable:
		return "resource_unavailable"
	case KindPolicyViolation:
		return "policy_violation"
	case KindNotFound:
		return "not_found"
	case KindInvalidStateTransition:
		return "invalid_state_transition"
	case KindEntitlementMissing:
		return "entitlement_missing"
	case KindForbidden:
		return "forbidden"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Reason codes refine a kind.  They are stable and safe to expose to
// API clients.
const (
	ReasonNoCopyAvailable        = "no_copy_available"
	ReasonBookInactive           = "book_inactive"
	ReasonDuplicateLoan          = "duplicate_loan"
	ReasonLoanLimitReached       = "loan_limit_reached"
	ReasonOverdueLoans           = "overdue_loans_outstanding"
	ReasonRenewalLimitReached    = "renewal_limit_reached"
	ReasonLoanOverdue            = "loan_overdue"
	ReasonCopyAvailable          = "copy_available"
	ReasonDuplicateReservation   = "duplicate_reservation"
	ReasonReservationLimit       = "reservation_limit_reached"
	ReasonAlreadyOnLoan          = "already_on_loan"
	ReasonOverpayment            = "overpayment"
	ReasonInvalidAmount          = "invalid_amount"
	ReasonInvalidDuration        = "invalid_duration"
	ReasonInvalidCondition       = "invalid_condition"
	ReasonInvalidFineType        = "invalid_fine_type"
	ReasonDuplicateFine          = "duplicate_fine"
	ReasonInvalidCopies          = "invalid_copies"
	ReasonLockUnavailable        = "lock_unavailable"
	ReasonConflictRetryExhausted = "conflict_retry_exhausted"
)

// Error is the engine's tagged error.  Op names the engine operation,
// Detail is a human readable explanation of which precondition failed.
type Error struct {
	Kind   ErrorKind
	Reason string
	Op     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := "circulation"
	if e.Op != "" {
		msg += ": " + e.Op
	}
	msg += ": " + e.Kind.String()
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, and by reason when the target
// carries one.  This lets the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// Sentinels for errors.Is.
var (
	ErrResourceUnavailable    = &Error{Kind: KindResourceUnavailable}
	ErrPolicyViolation        = &Error{Kind: KindPolicyViolation}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrInvalidStateTransition = &Error{Kind: KindInvalidStateTransition}
	ErrEntitlementMissing     = &Error{Kind: KindEntitlementMissing}
	ErrForbidden              = &Error{Kind: KindForbidden}
	ErrTransient              = &Error{Kind: KindTransient}

	ErrRenewalLimitReached = &Error{Kind: KindPolicyViolation, Reason: ReasonRenewalLimitReached}
	ErrLoanOverdue         = &Error{Kind: KindPolicyViolation, Reason: ReasonLoanOverdue}
)

// ErrNoEntitlement is returned by an EntitlementProvider when the member
// has no active subscription.
var ErrNoEntitlement = errors.New("no active entitlement")

// KindOf extracts the kind of err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ReasonOf extracts the reason code of err, or "".
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

func newErr(op string, kind ErrorKind, reason, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: reason, Op: op, Detail: fmt.Sprintf(format, args...)}
}

func policyErr(op, reason, format string, args ...any) *Error {
	return newErr(op, KindPolicyViolation, reason, format, args...)
}

func notFoundErr(op, what string, id uint64) *Error {
	return newErr(op, KindNotFound, "", "%s %d not found", what, id)
}

func stateErr(op, format string, args ...any) *Error {
	return newErr(op, KindInvalidStateTransition, "", format, args...)
}
