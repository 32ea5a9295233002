package repository

import (
	"context"
	"time"

	"github.com/Astemirdum/library-circulation/circulation/internal/model"
	"github.com/google/uuid"
)

// Repository is the transactional store behind the circulation engine.
type Repository interface {
	// WithTx runs fn as one atomic unit; an error from fn rolls everything back.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	AvailableCount(ctx context.Context, itemID uuid.UUID) (int, error)
	// OverdueLoans lists BORROWED loans due before now.
	OverdueLoans(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	// ExpiredHolds lists READY_FOR_PICKUP holds whose expiry is before now.
	ExpiredHolds(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

// Tx reads and writes inside one transaction. Lookups of copies, loans and
// holds lock the returned row until the transaction ends. Lookups that find
// nothing return an error matching errs.ErrNotFound.
type Tx interface {
	GetItem(ctx context.Context, id uuid.UUID) (model.Item, error)
	GetMember(ctx context.Context, id uuid.UUID) (model.Member, error)
	GetCopy(ctx context.Context, id uuid.UUID) (model.Copy, error)
	GetCopyByBarcode(ctx context.Context, barcode string) (model.Copy, error)
	GetLoan(ctx context.Context, id uuid.UUID) (model.Loan, error)
	GetHold(ctx context.Context, id uuid.UUID) (model.Hold, error)

	OpenLoanByCopy(ctx context.Context, copyID uuid.UUID) (model.Loan, error)
	ReadyHoldByCopy(ctx context.Context, copyID uuid.UUID) (model.Hold, error)
	OldestWaitingHold(ctx context.Context, itemID uuid.UUID) (model.Hold, error)
	FirstAvailableCopy(ctx context.Context, itemID uuid.UUID) (model.Copy, error)

	CountOpenLoans(ctx context.Context, memberID uuid.UUID) (int, error)
	HasOpenLoanForItem(ctx context.Context, memberID, itemID uuid.UUID) (bool, error)
	CountActiveHolds(ctx context.Context, memberID uuid.UUID) (int, error)
	HasActiveHold(ctx context.Context, memberID, itemID uuid.UUID) (bool, error)
	HasWaitingHold(ctx context.Context, itemID uuid.UUID) (bool, error)
	CountAvailableCopies(ctx context.Context, itemID uuid.UUID) (int, error)

	// LockItem reads an item and holds it until the transaction ends. Hold
	// placement and copy allocation of one item take it first.
	LockItem(ctx context.Context, id uuid.UUID) (model.Item, error)
	// LockMemberItem serialises hold placement for one (member, item) pair.
	LockMemberItem(ctx context.Context, memberID, itemID uuid.UUID) error

	CreateLoan(ctx context.Context, loan model.Loan) (model.Loan, error)
	UpdateLoan(ctx context.Context, loan model.Loan) error
	CreateHold(ctx context.Context, hold model.Hold) (model.Hold, error)
	UpdateHold(ctx context.Context, hold model.Hold) error
	UpdateCopyStatus(ctx context.Context, copyID uuid.UUID, status model.CopyStatus) error
	// AddFine books amount on the member and returns the new balance.
	AddFine(ctx context.Context, memberID uuid.UUID, amount float64) (float64, error)
	SetStanding(ctx context.Context, memberID uuid.UUID, standing model.Standing) error
}
