package chain

import (
	"github.com/Astemirdum/library-circulation/circulation/internal/errs"
	"github.com/Astemirdum/library-circulation/circulation/internal/model"
	"github.com/Astemirdum/library-circulation/circulation/internal/rules"
	"github.com/google/uuid"
)

type BorrowRequest struct {
	Item   model.Item
	Copy   model.Copy
	Member model.Member
	// BoundHold is the READY_FOR_PICKUP hold bound to Copy, if any.
	BoundHold      *model.Hold
	OpenLoans      int
	HasLoanForItem bool
}

type ReturnRequest struct {
	Copy model.Copy
	// Loan is the open loan of Copy, nil when there is none.
	Loan     *model.Loan
	MemberID uuid.UUID
}

type PlaceHoldRequest struct {
	Item            model.Item
	Member          model.Member
	HasActiveHold   bool
	AvailableCopies int
	ActiveHolds     int
}

type CancelHoldRequest struct {
	Hold      model.Hold
	Requester model.Member
}

type RenewRequest struct {
	Loan           model.Loan
	MemberID       uuid.UUID
	HasWaitingHold bool
}

type Chains struct {
	Borrow     Chain[BorrowRequest]
	Return     Chain[ReturnRequest]
	PlaceHold  Chain[PlaceHoldRequest]
	CancelHold Chain[CancelHoldRequest]
	Renew      Chain[RenewRequest]
}

func NewChains(r rules.Rules) Chains {
	return Chains{
		Borrow: New("borrow",
			func(req BorrowRequest) error { return itemActive(req.Item) },
			borrowableCopy,
			func(req BorrowRequest) error { return memberActive(req.Member) },
			loanLimit(r.MaxLoansPerMember()),
			noDuplicateLoan,
		),
		Return: New("return",
			openLoanExists,
			copyCheckedOut,
			loanMatches,
		),
		PlaceHold: New("place-hold",
			func(req PlaceHoldRequest) error { return memberActive(req.Member) },
			func(req PlaceHoldRequest) error { return itemActive(req.Item) },
			noDuplicateHold,
			noAvailableCopies,
			holdLimit(r.MaxHoldsPerMember()),
		),
		CancelHold: New("cancel-hold",
			ownerOrStaff,
			cancellable,
		),
		Renew: New("renew",
			loanOwner,
			loanBorrowed,
			renewalAllowed(r),
			noWaitlist,
		),
	}
}

func itemActive(item model.Item) error {
	if item.Status != model.ItemActive {
		return errs.ErrItemInactive
	}
	return nil
}

func memberActive(m model.Member) error {
	if m.Standing != model.StandingActive {
		return errs.ErrMemberNotActive
	}
	return nil
}

func borrowableCopy(req BorrowRequest) error {
	switch req.Copy.Status {
	case model.CopyAvailable:
		return nil
	case model.CopyOnHold:
		h := req.BoundHold
		if h == nil || h.Status != model.HoldReadyForPickup {
			return errs.ErrCopyUnavailable
		}
		if h.MemberID != req.Member.ID {
			return errs.ErrHeldForAnotherMember
		}
		return nil
	default:
		return errs.ErrCopyUnavailable
	}
}

func loanLimit(max int) Check[BorrowRequest] {
	return func(req BorrowRequest) error {
		if req.OpenLoans >= max {
			return errs.ErrLoanLimitReached
		}
		return nil
	}
}

func noDuplicateLoan(req BorrowRequest) error {
	if req.HasLoanForItem {
		return errs.ErrDuplicateLoan
	}
	return nil
}

func openLoanExists(req ReturnRequest) error {
	if req.Loan == nil || !req.Loan.IsOpen() {
		return errs.ErrNoOpenLoan
	}
	return nil
}

func copyCheckedOut(req ReturnRequest) error {
	if req.Copy.Status != model.CopyCheckedOut {
		return errs.ErrCopyNotCheckedOut
	}
	return nil
}

func loanMatches(req ReturnRequest) error {
	if req.Loan.CopyID != req.Copy.ID || req.Loan.MemberID != req.MemberID {
		return errs.ErrMismatch
	}
	return nil
}

func noDuplicateHold(req PlaceHoldRequest) error {
	if req.HasActiveHold {
		return errs.ErrDuplicateHold
	}
	return nil
}

func noAvailableCopies(req PlaceHoldRequest) error {
	if req.AvailableCopies > 0 {
		return errs.ErrCopiesAvailable
	}
	return nil
}

func holdLimit(max int) Check[PlaceHoldRequest] {
	return func(req PlaceHoldRequest) error {
		if req.ActiveHolds >= max {
			return errs.ErrHoldLimitReached
		}
		return nil
	}
}

func ownerOrStaff(req CancelHoldRequest) error {
	if req.Hold.MemberID != req.Requester.ID && req.Requester.Role != model.RoleStaff {
		return errs.ErrNotOwner
	}
	return nil
}

func cancellable(req CancelHoldRequest) error {
	if !req.Hold.IsActive() {
		return errs.ErrNotCancellable
	}
	return nil
}

func loanOwner(req RenewRequest) error {
	if req.Loan.MemberID != req.MemberID {
		return errs.ErrNotOwner
	}
	return nil
}

func loanBorrowed(req RenewRequest) error {
	if req.Loan.Status != model.LoanBorrowed {
		return errs.ErrLoanNotRenewable
	}
	return nil
}

func renewalAllowed(r rules.Rules) Check[RenewRequest] {
	return func(req RenewRequest) error {
		if !r.RenewalEligible(req.Loan) {
			return errs.ErrRenewalLimitReached
		}
		return nil
	}
}

func noWaitlist(req RenewRequest) error {
	if req.HasWaitingHold {
		return errs.ErrItemHasWaitlist
	}
	return nil
}
