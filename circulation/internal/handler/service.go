package handler

import (
	"context"

	"github.com/Astemirdum/library-circulation/circulation/internal/model"
	"github.com/Astemirdum/library-circulation/circulation/internal/service"
	"github.com/Astemirdum/library-circulation/circulation/internal/sweeper"
	"github.com/google/uuid"
)

//go:generate go run github.com/golang/mock/mockgen -source=service.go -destination=mocks/mock.go

var (
	_ CirculationService = (*service.Service)(nil)
	_ Sweeper            = (*sweeper.Scheduler)(nil)
)

type CirculationService interface {
	Borrow(ctx context.Context, barcode string, memberID, staffID uuid.UUID) (model.LoanView, error)
	ReturnCopy(ctx context.Context, barcode string, memberID uuid.UUID, kind model.ReturnKind, staffID uuid.UUID) (model.LoanView, error)
	PlaceHold(ctx context.Context, itemID, memberID uuid.UUID) (model.HoldView, error)
	CancelHold(ctx context.Context, holdID, requesterID uuid.UUID) error
	Renew(ctx context.Context, loanID, memberID uuid.UUID) (model.LoanView, error)
	ReleaseCopy(ctx context.Context, barcode string) error
	AvailableCount(ctx context.Context, itemID uuid.UUID) (int, error)
	Subscribe(ctx context.Context, itemID uuid.UUID) (<-chan model.Availability, error)
}

type Sweeper interface {
	Sweep(ctx context.Context) (model.SweepReport, error)
}
