package service

import (
	"context"
	"time"

	"github.com/Astemirdum/library-circulation/circulation/internal/allocator"
	"github.com/Astemirdum/library-circulation/circulation/internal/chain"
	"github.com/Astemirdum/library-circulation/circulation/internal/errs"
	"github.com/Astemirdum/library-circulation/circulation/internal/model"
	"github.com/Astemirdum/library-circulation/circulation/internal/repository"
	"github.com/Astemirdum/library-circulation/circulation/internal/rules"
	"github.com/Astemirdum/library-circulation/pkg/kafka"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Notifier interface {
	Publish(itemID uuid.UUID)
	Subscribe(ctx context.Context, itemID uuid.UUID) (<-chan model.Availability, error)
}

type EventLog interface {
	Emit(ctx context.Context, ev kafka.EventCirculation)
}

type Service struct {
	log      *zap.Logger
	repo     repository.Repository
	rules    rules.Rules
	chains   chain.Chains
	alloc    *allocator.Allocator
	notifier Notifier
	events   EventLog
	now      func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func WithEventLog(ev EventLog) Option {
	return func(s *Service) {
		s.events = ev
	}
}

func NewService(
	repo repository.Repository,
	r rules.Rules,
	alloc *allocator.Allocator,
	notifier Notifier,
	log *zap.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		log:      log.Named("service"),
		repo:     repo,
		rules:    r,
		chains:   chain.NewChains(r),
		alloc:    alloc,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// effects are applied only once the transaction has committed.
type effects struct {
	items  []uuid.UUID
	events []kafka.EventCirculation
}

func (e *effects) touch(itemID uuid.UUID) {
	e.items = append(e.items, itemID)
}

func (e *effects) emit(ev kafka.EventCirculation) {
	e.events = append(e.events, ev)
}

func (s *Service) apply(ctx context.Context, e effects) {
	for _, itemID := range e.items {
		s.notifier.Publish(itemID)
	}
	if s.events == nil {
		return
	}
	for _, ev := range e.events {
		s.events.Emit(ctx, ev)
	}
}

// Borrow lends the copy with barcode to memberID. A copy on hold can only be
// borrowed by the member whose ready hold it is bound to; that hold completes.
func (s *Service) Borrow(ctx context.Context, barcode string, memberID, staffID uuid.UUID) (model.LoanView, error) {
	var (
		view model.LoanView
		eff  effects
	)
	err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
		eff = effects{}
		cp, err := tx.GetCopyByBarcode(ctx, barcode)
		if err != nil {
			return err
		}
		item, err := tx.GetItem(ctx, cp.ItemID)
		if err != nil {
			return err
		}
		member, err := tx.GetMember(ctx, memberID)
		if err != nil {
			return err
		}
		var bound *model.Hold
		if cp.Status == model.CopyOnHold {
			h, err := tx.ReadyHoldByCopy(ctx, cp.ID)
			switch {
			case err == nil:
				bound = &h
			case !errors.Is(err, errs.ErrNotFound):
				return err
			}
		}
		openLoans, err := tx.CountOpenLoans(ctx, memberID)
		if err != nil {
			return err
		}
		hasLoan, err := tx.HasOpenLoanForItem(ctx, memberID, item.ID)
		if err != nil {
			return err
		}

		if err = s.chains.Borrow.Run(chain.BorrowRequest{
			Item:           item,
			Copy:           cp,
			Member:         member,
			BoundHold:      bound,
			OpenLoans:      openLoans,
			HasLoanForItem: hasLoan,
		}); err != nil {
			return err
		}

		now := s.now()
		loan, err := tx.CreateLoan(ctx, model.Loan{
			ID:         uuid.New(),
			CopyID:     cp.ID,
			ItemID:     item.ID,
			MemberID:   memberID,
			IssuedBy:   staffID,
			BorrowedAt: now,
			DueAt:      s.rules.DueTime(now),
			Status:     model.LoanBorrowed,
		})
		if err != nil {
			return err
		}
		if err = tx.UpdateCopyStatus(ctx, cp.ID, model.CopyCheckedOut); err != nil {
			return err
		}
		if bound != nil {
			ended := now
			bound.Status = model.HoldCompleted
			bound.EndedAt = &ended
			if err = tx.UpdateHold(ctx, *bound); err != nil {
				return err
			}
			eff.emit(holdEvent(kafka.EventHoldCompleted, *bound, now))
		}

		view = model.LoanView{Loan: loan, Barcode: cp.Barcode}
		eff.touch(item.ID)
		eff.emit(loanEvent(kafka.EventLoanCreated, loan, now))
		return nil
	})
	if err != nil {
		return model.LoanView{}, err
	}
	s.apply(ctx, eff)
	return view, nil
}

// ReturnCopy closes the open loan of the copy with barcode. Fines for late
// return and the penalty of kind are booked on the member, who is blocked once
// the balance reaches the threshold. A copy back on the shelf goes to the next
// waiting hold.
func (s *Service) ReturnCopy(ctx context.Context, barcode string, memberID uuid.UUID, kind model.ReturnKind, staffID uuid.UUID) (model.LoanView, error) {
	if kind == "" {
		kind = model.ReturnNormal
	}
	var (
		view model.LoanView
		eff  effects
	)
	err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
		eff = effects{}
		cp, err := tx.GetCopyByBarcode(ctx, barcode)
		if err != nil {
			return err
		}
		var open *model.Loan
		l, err := tx.OpenLoanByCopy(ctx, cp.ID)
		switch {
		case err == nil:
			open = &l
		case !errors.Is(err, errs.ErrNotFound):
			return err
		}

		if err = s.chains.Return.Run(chain.ReturnRequest{
			Copy:     cp,
			Loan:     open,
			MemberID: memberID,
		}); err != nil {
			return err
		}

		now := s.now()
		loan := *open
		returnedBy := staffID
		loan.ReturnedAt = &now
		loan.ReturnedBy = &returnedBy
		loan.Fine = s.rules.OverdueFine(loan.DueAt, now) + s.rules.Penalty(kind)

		var copyStatus model.CopyStatus
		switch kind {
		case model.ReturnDamaged:
			loan.Status, copyStatus = model.LoanReturnedDamaged, model.CopyInRepair
		case model.ReturnLost:
			loan.Status, copyStatus = model.LoanLost, model.CopyLost
		default:
			loan.Status, copyStatus = model.LoanReturned, model.CopyAvailable
		}
		if err = tx.UpdateLoan(ctx, loan); err != nil {
			return err
		}
		if err = tx.UpdateCopyStatus(ctx, cp.ID, copyStatus); err != nil {
			return err
		}
		if loan.Fine > 0 {
			if err = s.bookFine(ctx, tx, loan.MemberID, loan.Fine); err != nil {
				return err
			}
		}
		if copyStatus == model.CopyAvailable {
			promoted, err := s.alloc.Allocate(ctx, tx, cp.ItemID, now)
			if err != nil {
				return err
			}
			if promoted != nil {
				eff.emit(holdEvent(kafka.EventHoldReady, *promoted, now))
			}
		}

		view = model.LoanView{Loan: loan, Barcode: cp.Barcode}
		eff.touch(cp.ItemID)
		ev := loanEvent(kafka.EventLoanReturned, loan, now)
		ev.Fine = loan.Fine
		eff.emit(ev)
		return nil
	})
	if err != nil {
		return model.LoanView{}, err
	}
	s.apply(ctx, eff)
	return view, nil
}

func (s *Service) bookFine(ctx context.Context, tx repository.Tx, memberID uuid.UUID, amount float64) error {
	balance, err := tx.AddFine(ctx, memberID, amount)
	if err != nil {
		return err
	}
	if !s.rules.ShouldBlock(balance) {
		return nil
	}
	member, err := tx.GetMember(ctx, memberID)
	if err != nil {
		return err
	}
	if member.Standing != model.StandingActive {
		return nil
	}
	s.log.Info("member blocked", zap.Stringer("member", memberID), zap.Float64("fines", balance))
	return tx.SetStanding(ctx, memberID, model.StandingBlocked)
}

// PlaceHold queues memberID for itemID. Holds are only accepted while no copy
// of the item is on the shelf.
func (s *Service) PlaceHold(ctx context.Context, itemID, memberID uuid.UUID) (model.HoldView, error) {
	var (
		view model.HoldView
		eff  effects
	)
	err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
		eff = effects{}
		if err := tx.LockMemberItem(ctx, memberID, itemID); err != nil {
			return err
		}
		item, err := tx.LockItem(ctx, itemID)
		if err != nil {
			return err
		}
		member, err := tx.GetMember(ctx, memberID)
		if err != nil {
			return err
		}
		hasActive, err := tx.HasActiveHold(ctx, memberID, itemID)
		if err != nil {
			return err
		}
		available, err := tx.CountAvailableCopies(ctx, itemID)
		if err != nil {
			return err
		}
		active, err := tx.CountActiveHolds(ctx, memberID)
		if err != nil {
			return err
		}

		if err = s.chains.PlaceHold.Run(chain.PlaceHoldRequest{
			Item:            item,
			Member:          member,
			HasActiveHold:   hasActive,
			AvailableCopies: available,
			ActiveHolds:     active,
		}); err != nil {
			return err
		}

		now := s.now()
		hold, err := tx.CreateHold(ctx, model.Hold{
			ID:        uuid.New(),
			ItemID:    itemID,
			MemberID:  memberID,
			CreatedAt: now,
			Status:    model.HoldWaiting,
		})
		if err != nil {
			return err
		}
		view = model.HoldView{Hold: hold}
		eff.emit(holdEvent(kafka.EventHoldPlaced, hold, now))
		return nil
	})
	if err != nil {
		return model.HoldView{}, err
	}
	s.apply(ctx, eff)
	return view, nil
}

// CancelHold cancels a hold on behalf of its owner or a staff member. A ready
// hold gives its copy to the next hold in line.
func (s *Service) CancelHold(ctx context.Context, holdID, requesterID uuid.UUID) error {
	var eff effects
	err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
		eff = effects{}
		hold, err := tx.GetHold(ctx, holdID)
		if err != nil {
			return err
		}
		requester, err := tx.GetMember(ctx, requesterID)
		if err != nil {
			return err
		}
		if err = s.chains.CancelHold.Run(chain.CancelHoldRequest{
			Hold:      hold,
			Requester: requester,
		}); err != nil {
			return err
		}

		now := s.now()
		wasReady := hold.Status == model.HoldReadyForPickup
		hold.Status = model.HoldCancelled
		hold.EndedAt = &now
		if err = tx.UpdateHold(ctx, hold); err != nil {
			return err
		}
		eff.emit(holdEvent(kafka.EventHoldCancelled, hold, now))

		if !wasReady || hold.CopyID == nil {
			return nil
		}
		cp, err := tx.GetCopy(ctx, *hold.CopyID)
		if err != nil {
			return err
		}
		if cp.Status == model.CopyOnHold {
			if err = tx.UpdateCopyStatus(ctx, cp.ID, model.CopyAvailable); err != nil {
				return err
			}
		}
		promoted, err := s.alloc.Allocate(ctx, tx, hold.ItemID, now)
		if err != nil {
			return err
		}
		if promoted != nil {
			eff.emit(holdEvent(kafka.EventHoldReady, *promoted, now))
		}
		eff.touch(hold.ItemID)
		return nil
	})
	if err != nil {
		return err
	}
	s.apply(ctx, eff)
	return nil
}

// Renew extends the due date of a BORROWED loan unless someone is waiting for the item.
func (s *Service) Renew(ctx context.Context, loanID, memberID uuid.UUID) (model.LoanView, error) {
	var (
		view model.LoanView
		eff  effects
	)
	err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
		eff = effects{}
		loan, err := tx.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		waiting, err := tx.HasWaitingHold(ctx, loan.ItemID)
		if err != nil {
			return err
		}
		if err = s.chains.Renew.Run(chain.RenewRequest{
			Loan:           loan,
			MemberID:       memberID,
			HasWaitingHold: waiting,
		}); err != nil {
			return err
		}

		loan.DueAt = s.rules.RenewedDueTime(loan.DueAt)
		loan.RenewalCount++
		if err = tx.UpdateLoan(ctx, loan); err != nil {
			return err
		}
		cp, err := tx.GetCopy(ctx, loan.CopyID)
		if err != nil {
			return err
		}
		view = model.LoanView{Loan: loan, Barcode: cp.Barcode}
		eff.emit(loanEvent(kafka.EventLoanRenewed, loan, s.now()))
		return nil
	})
	if err != nil {
		return model.LoanView{}, err
	}
	s.apply(ctx, eff)
	return view, nil
}

// ReleaseCopy puts a repaired or recovered copy back into circulation.
func (s *Service) ReleaseCopy(ctx context.Context, barcode string) error {
	var eff effects
	err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
		eff = effects{}
		cp, err := tx.GetCopyByBarcode(ctx, barcode)
		if err != nil {
			return err
		}
		switch cp.Status {
		case model.CopyInRepair, model.CopyMissing, model.CopyLost:
		default:
			return errs.ErrCopyNotReleasable
		}
		if err = tx.UpdateCopyStatus(ctx, cp.ID, model.CopyAvailable); err != nil {
			return err
		}
		now := s.now()
		promoted, err := s.alloc.Allocate(ctx, tx, cp.ItemID, now)
		if err != nil {
			return err
		}
		eff.emit(kafka.EventCirculation{
			Timestamp: now,
			EventType: kafka.EventCopyReleased,
			ItemID:    cp.ItemID.String(),
			CopyID:    cp.ID.String(),
		})
		if promoted != nil {
			eff.emit(holdEvent(kafka.EventHoldReady, *promoted, now))
		}
		eff.touch(cp.ItemID)
		return nil
	})
	if err != nil {
		return err
	}
	s.apply(ctx, eff)
	return nil
}

func (s *Service) AvailableCount(ctx context.Context, itemID uuid.UUID) (int, error) {
	return s.repo.AvailableCount(ctx, itemID)
}

func (s *Service) Subscribe(ctx context.Context, itemID uuid.UUID) (<-chan model.Availability, error) {
	return s.notifier.Subscribe(ctx, itemID)
}

func loanEvent(t kafka.EventType, l model.Loan, at time.Time) kafka.EventCirculation {
	return kafka.EventCirculation{
		Timestamp: at,
		EventType: t,
		MemberID:  l.MemberID.String(),
		ItemID:    l.ItemID.String(),
		CopyID:    l.CopyID.String(),
		LoanID:    l.ID.String(),
	}
}

func holdEvent(t kafka.EventType, h model.Hold, at time.Time) kafka.EventCirculation {
	ev := kafka.EventCirculation{
		Timestamp: at,
		EventType: t,
		MemberID:  h.MemberID.String(),
		ItemID:    h.ItemID.String(),
		HoldID:    h.ID.String(),
	}
	if h.CopyID != nil {
		ev.CopyID = h.CopyID.String()
	}
	return ev
}
