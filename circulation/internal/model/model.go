package model

import (
	"time"

	"github.com/google/uuid"
)

type ItemStatus string

const (
	ItemActive    ItemStatus = "ACTIVE"
	ItemArchived  ItemStatus = "ARCHIVED"
	ItemWithdrawn ItemStatus = "WITHDRAWN"
	ItemOnOrder   ItemStatus = "ON_ORDER"
)

type CopyStatus string

const (
	CopyAvailable  CopyStatus = "AVAILABLE"
	CopyCheckedOut CopyStatus = "CHECKED_OUT"
	CopyOnHold     CopyStatus = "ON_HOLD"
	CopyInRepair   CopyStatus = "IN_REPAIR"
	CopyLost       CopyStatus = "LOST"
	CopyWithdrawn  CopyStatus = "WITHDRAWN"
	CopyMissing    CopyStatus = "MISSING"
)

type LoanStatus string

const (
	LoanBorrowed        LoanStatus = "BORROWED"
	LoanReturned        LoanStatus = "RETURNED"
	LoanReturnedDamaged LoanStatus = "RETURNED_DAMAGED"
	LoanOverdue         LoanStatus = "OVERDUE"
	LoanLost            LoanStatus = "LOST"
)

type HoldStatus string

const (
	HoldWaiting        HoldStatus = "WAITING"
	HoldReadyForPickup HoldStatus = "READY_FOR_PICKUP"
	HoldCompleted      HoldStatus = "COMPLETED"
	HoldExpired        HoldStatus = "EXPIRED"
	HoldCancelled      HoldStatus = "CANCELLED"
)

type Standing string

const (
	StandingActive    Standing = "ACTIVE"
	StandingSuspended Standing = "SUSPENDED"
	StandingInactive  Standing = "INACTIVE"
	StandingBlocked   Standing = "BLOCKED"
)

type Role string

const (
	RolePatron Role = "PATRON"
	RoleStaff  Role = "STAFF"
)

type ReturnKind string

const (
	ReturnNormal  ReturnKind = "NORMAL"
	ReturnDamaged ReturnKind = "DAMAGED"
	ReturnLost    ReturnKind = "LOST"
)

type Item struct {
	ID     uuid.UUID  `json:"id" db:"id"`
	Title  string     `json:"title" db:"title"`
	Status ItemStatus `json:"status" db:"status"`
}

type Copy struct {
	ID      uuid.UUID  `json:"id" db:"id"`
	Barcode string     `json:"barcode" db:"barcode"`
	ItemID  uuid.UUID  `json:"itemId" db:"item_id"`
	Status  CopyStatus `json:"status" db:"status"`
}

type Loan struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	CopyID       uuid.UUID  `json:"copyId" db:"copy_id"`
	ItemID       uuid.UUID  `json:"itemId" db:"item_id"`
	MemberID     uuid.UUID  `json:"memberId" db:"member_id"`
	IssuedBy     uuid.UUID  `json:"issuedBy" db:"issued_by"`
	ReturnedBy   *uuid.UUID `json:"returnedBy,omitempty" db:"returned_by"`
	BorrowedAt   time.Time  `json:"borrowedAt" db:"borrowed_at"`
	DueAt        time.Time  `json:"dueAt" db:"due_at"`
	ReturnedAt   *time.Time `json:"returnedAt,omitempty" db:"returned_at"`
	RenewalCount int        `json:"renewalCount" db:"renewal_count"`
	Fine         float64    `json:"fine" db:"fine"`
	Status       LoanStatus `json:"status" db:"status"`
}

// IsOpen reports whether the copy is still out with the member.
func (l Loan) IsOpen() bool {
	return l.Status == LoanBorrowed || l.Status == LoanOverdue
}

type Hold struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	ItemID    uuid.UUID  `json:"itemId" db:"item_id"`
	MemberID  uuid.UUID  `json:"memberId" db:"member_id"`
	CopyID    *uuid.UUID `json:"copyId,omitempty" db:"copy_id"`
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
	ReadyAt   *time.Time `json:"readyAt,omitempty" db:"ready_at"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty" db:"expires_at"`
	EndedAt   *time.Time `json:"endedAt,omitempty" db:"ended_at"`
	Status    HoldStatus `json:"status" db:"status"`
}

// IsActive reports whether the hold still occupies a place in the waitlist.
func (h Hold) IsActive() bool {
	return h.Status == HoldWaiting || h.Status == HoldReadyForPickup
}

type Member struct {
	ID       uuid.UUID `json:"id" db:"id"`
	Name     string    `json:"name" db:"name"`
	Email    string    `json:"email" db:"email"`
	Standing Standing  `json:"standing" db:"standing"`
	Role     Role      `json:"role" db:"role"`
	Fines    float64   `json:"fines" db:"fines"`
}

type LoanView struct {
	Loan    `json:",inline"`
	Barcode string `json:"barcode"`
}

type HoldView struct {
	Hold `json:",inline"`
}

type Availability struct {
	ItemID         uuid.UUID `json:"itemId"`
	AvailableCount int       `json:"availableCount"`
}

type PassReport struct {
	Candidates int `json:"candidates"`
	Processed  int `json:"processed"`
	Failed     int `json:"failed"`
}

type SweepReport struct {
	StartedAt time.Time  `json:"startedAt"`
	Overdue   PassReport `json:"overdue"`
	Expiry    PassReport `json:"expiry"`
}

type BorrowRequest struct {
	Barcode  string    `json:"barcode" validate:"required"`
	MemberID uuid.UUID `json:"memberId" validate:"required"`
}

type ReturnRequest struct {
	Barcode  string     `json:"barcode" validate:"required"`
	MemberID uuid.UUID  `json:"memberId" validate:"required"`
	Kind     ReturnKind `json:"kind" validate:"omitempty,oneof=NORMAL DAMAGED LOST"`
}

type PlaceHoldRequest struct {
	ItemID uuid.UUID `json:"itemId" validate:"required"`
}
