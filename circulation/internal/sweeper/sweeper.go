// Package sweeper runs the time-driven circulation transitions: loans past due
// become OVERDUE and ready holds past their pickup window expire, freeing the
// copy for the next hold in line. Passes are plain functions over Deps; the
// Scheduler only decides when they run.
package sweeper

import (
	"context"
	"time"

	"github.com/Astemirdum/library-circulation/circulation/internal/allocator"
	"github.com/Astemirdum/library-circulation/circulation/internal/model"
	"github.com/Astemirdum/library-circulation/circulation/internal/repository"
	"github.com/Astemirdum/library-circulation/circulation/internal/rules"
	"github.com/Astemirdum/library-circulation/pkg/kafka"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Publisher interface {
	Publish(itemID uuid.UUID)
}

type EventLog interface {
	Emit(ctx context.Context, ev kafka.EventCirculation)
}

type Deps struct {
	Repo      repository.Repository
	Rules     rules.Rules
	Allocator *allocator.Allocator
	Notifier  Publisher
	Events    EventLog
	Log       *zap.Logger
}

func (d Deps) emit(ctx context.Context, evs ...kafka.EventCirculation) {
	if d.Events == nil {
		return
	}
	for _, ev := range evs {
		d.Events.Emit(ctx, ev)
	}
}

// OverduePass marks every BORROWED loan due before now as OVERDUE. Each loan
// is committed on its own; a failing record is logged and skipped.
func OverduePass(ctx context.Context, d Deps, now time.Time) (model.PassReport, error) {
	log := d.Log.Named("overdue")
	ids, err := d.Repo.OverdueLoans(ctx, now)
	if err != nil {
		return model.PassReport{}, errors.Wrap(err, "list overdue loans")
	}

	rep := model.PassReport{Candidates: len(ids)}
	for _, id := range ids {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		var marked *model.Loan
		err := d.Repo.WithTx(ctx, func(tx repository.Tx) error {
			loan, err := tx.GetLoan(ctx, id)
			if err != nil {
				return err
			}
			if loan.Status != model.LoanBorrowed || !loan.DueAt.Before(now) {
				return nil
			}
			loan.Status = model.LoanOverdue
			if err := tx.UpdateLoan(ctx, loan); err != nil {
				return err
			}
			marked = &loan
			return nil
		})
		if err != nil {
			rep.Failed++
			log.Error("mark overdue", zap.Stringer("loan", id), zap.Error(err))
			continue
		}
		if marked != nil {
			rep.Processed++
			d.emit(ctx, kafka.EventCirculation{
				Timestamp: now,
				EventType: kafka.EventLoanOverdue,
				MemberID:  marked.MemberID.String(),
				ItemID:    marked.ItemID.String(),
				CopyID:    marked.CopyID.String(),
				LoanID:    marked.ID.String(),
			})
		}
	}
	log.Info("pass done",
		zap.Int("candidates", rep.Candidates),
		zap.Int("processed", rep.Processed),
		zap.Int("failed", rep.Failed))
	return rep, nil
}

// ExpiryPass expires READY_FOR_PICKUP holds whose pickup window has passed,
// returns the bound copy to the shelf and offers it to the next waiting hold
// in the same transaction.
func ExpiryPass(ctx context.Context, d Deps, now time.Time) (model.PassReport, error) {
	log := d.Log.Named("expiry")
	ids, err := d.Repo.ExpiredHolds(ctx, now)
	if err != nil {
		return model.PassReport{}, errors.Wrap(err, "list expired holds")
	}

	rep := model.PassReport{Candidates: len(ids)}
	touched := make(map[uuid.UUID]struct{})
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		var (
			expired  *model.Hold
			promoted *model.Hold
		)
		err := d.Repo.WithTx(ctx, func(tx repository.Tx) error {
			hold, err := tx.GetHold(ctx, id)
			if err != nil {
				return err
			}
			if hold.Status != model.HoldReadyForPickup || hold.ReadyAt == nil ||
				!d.Rules.HoldExpired(*hold.ReadyAt, now) {
				return nil
			}
			ended := now
			hold.Status = model.HoldExpired
			hold.EndedAt = &ended
			if err = tx.UpdateHold(ctx, hold); err != nil {
				return err
			}
			if hold.CopyID != nil {
				cp, err := tx.GetCopy(ctx, *hold.CopyID)
				if err != nil {
					return err
				}
				if cp.Status == model.CopyOnHold {
					if err = tx.UpdateCopyStatus(ctx, cp.ID, model.CopyAvailable); err != nil {
						return err
					}
				}
			}
			promoted, err = d.Allocator.Allocate(ctx, tx, hold.ItemID, now)
			if err != nil {
				return err
			}
			expired = &hold
			return nil
		})
		if err != nil {
			rep.Failed++
			log.Error("expire hold", zap.Stringer("hold", id), zap.Error(err))
			continue
		}
		if expired == nil {
			continue
		}
		rep.Processed++
		touched[expired.ItemID] = struct{}{}
		d.emit(ctx, holdEvent(kafka.EventHoldExpired, *expired, now))
		if promoted != nil {
			d.emit(ctx, holdEvent(kafka.EventHoldReady, *promoted, now))
		}
	}

	if d.Notifier != nil {
		for itemID := range touched {
			d.Notifier.Publish(itemID)
		}
	}
	log.Info("pass done",
		zap.Int("candidates", rep.Candidates),
		zap.Int("processed", rep.Processed),
		zap.Int("failed", rep.Failed))
	return rep, ctx.Err()
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
