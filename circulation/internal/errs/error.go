package errs

import (
	"errors"
	"fmt"
)

type Kind uint8

const (
	KindNotFound Kind = iota + 1
	KindConflict
	KindForbidden
	KindUnprocessable
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	case KindUnprocessable:
		return "unprocessable"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

type Reason string

const (
	ReasonItemInactive         Reason = "item is not active"
	ReasonCopyUnavailable      Reason = "copy is not available"
	ReasonHeldForAnotherMember Reason = "copy is held for another member"
	ReasonMemberNotActive      Reason = "member is not active"
	ReasonLoanLimitReached     Reason = "loan limit reached"
	ReasonDuplicateLoan        Reason = "member already borrows a copy of this item"
	ReasonNoOpenLoan           Reason = "no open loan for this copy"
	ReasonCopyNotCheckedOut    Reason = "copy is not checked out"
	ReasonMismatch             Reason = "loan does not match copy and member"
	ReasonDuplicateHold        Reason = "member already holds this item"
	ReasonCopiesAvailable      Reason = "item has available copies"
	ReasonHoldLimitReached     Reason = "hold limit reached"
	ReasonNotOwner             Reason = "requester is not the owner"
	ReasonNotCancellable       Reason = "hold is not cancellable"
	ReasonLoanNotRenewable     Reason = "loan is not renewable"
	ReasonRenewalLimitReached  Reason = "renewal limit reached"
	ReasonItemHasWaitlist      Reason = "item has waiting holds"
	ReasonCopyNotReleasable    Reason = "copy cannot be released"
	ReasonConcurrentUpdate     Reason = "concurrent update"
)

// Error is a business error. errors.Is matches on Kind, and on Reason when the
// target carries one, so both errs.ErrConflict and errs.ErrDuplicateHold match
// a duplicate hold.
type Error struct {
	Kind   Kind
	Reason Reason
	Entity string
	ID     string
}

func (e *Error) Error() string {
	switch {
	case e.Entity != "":
		return fmt.Sprintf("%s: %s %s", e.Kind, e.Entity, e.ID)
	case e.Reason != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	default:
		return e.Kind.String()
	}
}

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

var (
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrConflict      = &Error{Kind: KindConflict}
	ErrForbidden     = &Error{Kind: KindForbidden}
	ErrUnprocessable = &Error{Kind: KindUnprocessable}
	ErrUnauthorized  = &Error{Kind: KindUnauthorized}

	ErrItemInactive         = Unprocessable(ReasonItemInactive)
	ErrCopyUnavailable      = Unprocessable(ReasonCopyUnavailable)
	ErrHeldForAnotherMember = Forbidden(ReasonHeldForAnotherMember)
	ErrMemberNotActive      = Forbidden(ReasonMemberNotActive)
	ErrLoanLimitReached     = Unprocessable(ReasonLoanLimitReached)
	ErrDuplicateLoan        = Unprocessable(ReasonDuplicateLoan)
	ErrNoOpenLoan           = &Error{Kind: KindNotFound, Reason: ReasonNoOpenLoan}
	ErrCopyNotCheckedOut    = Unprocessable(ReasonCopyNotCheckedOut)
	ErrMismatch             = Unprocessable(ReasonMismatch)
	ErrDuplicateHold        = Conflict(ReasonDuplicateHold)
	ErrCopiesAvailable      = Unprocessable(ReasonCopiesAvailable)
	ErrHoldLimitReached     = Unprocessable(ReasonHoldLimitReached)
	ErrNotOwner             = Forbidden(ReasonNotOwner)
	ErrNotCancellable       = Unprocessable(ReasonNotCancellable)
	ErrLoanNotRenewable     = Unprocessable(ReasonLoanNotRenewable)
	ErrRenewalLimitReached  = Unprocessable(ReasonRenewalLimitReached)
	ErrItemHasWaitlist      = Unprocessable(ReasonItemHasWaitlist)
	ErrCopyNotReleasable    = Unprocessable(ReasonCopyNotReleasable)
	ErrConcurrentUpdate     = Conflict(ReasonConcurrentUpdate)
)

func NotFound(entity, id string) error {
	return &Error{Kind: KindNotFound, Entity: entity, ID: id}
}

func Conflict(reason Reason) *Error {
	return &Error{Kind: KindConflict, Reason: reason}
}

func Forbidden(reason Reason) *Error {
	return &Error{Kind: KindForbidden, Reason: reason}
}

func Unprocessable(reason Reason) *Error {
	return &Error{Kind: KindUnprocessable, Reason: reason}
}

// ReasonOf returns the business reason carried by err, if any.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// KindOf returns the kind of err, or 0 for infrastructure errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
