// Package allocator promotes the head of an item's waitlist when a copy of the
// item becomes available.
package allocator

import (
	"context"
	"time"

	"github.com/Astemirdum/library-circulation/circulation/internal/errs"
	"github.com/Astemirdum/library-circulation/circulation/internal/model"
	"github.com/Astemirdum/library-circulation/circulation/internal/repository"
	"github.com/Astemirdum/library-circulation/circulation/internal/rules"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Allocator struct {
	rules rules.Rules
	log   *zap.Logger
	now   func() time.Time
}

func New(r rules.Rules, log *zap.Logger) *Allocator {
	return &Allocator{
		rules: r,
		log:   log.Named("allocator"),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Allocate binds the first available copy of itemID to its oldest waiting
// hold. It runs inside tx and returns nil when either side is missing.
func (a *Allocator) Allocate(ctx context.Context, tx repository.Tx, itemID uuid.UUID, now time.Time) (*model.Hold, error) {
	if _, err := tx.LockItem(ctx, itemID); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "lock item")
	}
	hold, err := tx.OldestWaitingHold(ctx, itemID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "oldest waiting hold")
	}
	cp, err := tx.FirstAvailableCopy(ctx, itemID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "first available copy")
	}

	if err = tx.UpdateCopyStatus(ctx, cp.ID, model.CopyOnHold); err != nil {
		return nil, err
	}
	readyAt := now
	expiresAt := a.rules.HoldExpiry(now)
	copyID := cp.ID
	hold.CopyID = &copyID
	hold.ReadyAt = &readyAt
	hold.ExpiresAt = &expiresAt
	hold.Status = model.HoldReadyForPickup
	if err = tx.UpdateHold(ctx, hold); err != nil {
		return nil, err
	}

	a.log.Debug("hold promoted",
		zap.Stringer("hold", hold.ID),
		zap.Stringer("copy", cp.ID),
		zap.Time("expiresAt", expiresAt))
	return &hold, nil
}

// AllocateItem runs Allocate in a transaction of its own.
func (a *Allocator) AllocateItem(ctx context.Context, repo repository.Repository, itemID uuid.UUID) (*model.Hold, error) {
	var promoted *model.Hold
	err := repo.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		promoted, err = a.Allocate(ctx, tx, itemID, a.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return promoted, nil
}
