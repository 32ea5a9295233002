package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Astemirdum/library-circulation/circulation/internal/errs"
	"github.com/Astemirdum/library-circulation/circulation/internal/model"
	"github.com/google/uuid"
)

type state struct {
	items   map[uuid.UUID]model.Item
	copies  map[uuid.UUID]model.Copy
	members map[uuid.UUID]model.Member
	loans   map[uuid.UUID]model.Loan
	holds   map[uuid.UUID]model.Hold
}

func newState() *state {
	return &state{
		items:   make(map[uuid.UUID]model.Item),
		copies:  make(map[uuid.UUID]model.Copy),
		members: make(map[uuid.UUID]model.Member),
		loans:   make(map[uuid.UUID]model.Loan),
		holds:   make(map[uuid.UUID]model.Hold),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.copies {
		c.copies[k] = v
	}
	for k, v := range s.members {
		c.members[k] = v
	}
	for k, v := range s.loans {
		c.loans[k] = v
	}
	for k, v := range s.holds {
		c.holds[k] = v
	}
	return c
}

// MemoryRepository keeps the catalogue in process. Transactions are
// serialised on one mutex and applied copy-on-write, so a failed transaction
// leaves no trace.
type MemoryRepository struct {
	mu sync.Mutex
	st *state
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{st: newState()}
}

func (r *MemoryRepository) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	work := r.st.clone()
	if err := fn(&memTx{st: work}); err != nil {
		return err
	}
	r.st = work
	return nil
}

func (r *MemoryRepository) AvailableCount(_ context.Context, itemID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return (&memTx{st: r.st}).countAvailable(itemID), nil
}

func (r *MemoryRepository) OverdueLoans(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	loans := make([]model.Loan, 0)
	for _, l := range r.st.loans {
		if l.Status == model.LoanBorrowed && l.DueAt.Before(now) {
			loans = append(loans, l)
		}
	}
	sort.Slice(loans, func(i, j int) bool { return loans[i].DueAt.Before(loans[j].DueAt) })
	ids := make([]uuid.UUID, 0, len(loans))
	for _, l := range loans {
		ids = append(ids, l.ID)
	}
	return ids, nil
}

func (r *MemoryRepository) ExpiredHolds(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	holds := make([]model.Hold, 0)
	for _, h := range r.st.holds {
		if h.Status == model.HoldReadyForPickup && h.ExpiresAt != nil && h.ExpiresAt.Before(now) {
			holds = append(holds, h)
		}
	}
	sort.Slice(holds, func(i, j int) bool { return holds[i].ExpiresAt.Before(*holds[j].ExpiresAt) })
	ids := make([]uuid.UUID, 0, len(holds))
	for _, h := range holds {
		ids = append(ids, h.ID)
	}
	return ids, nil
}

func (r *MemoryRepository) PutItem(item model.Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.st.items[item.ID] = item
}

func (r *MemoryRepository) PutCopy(c model.Copy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.st.copies[c.ID] = c
}

func (r *MemoryRepository) PutMember(m model.Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.st.members[m.ID] = m
}

func (r *MemoryRepository) PutLoan(l model.Loan) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.st.loans[l.ID] = l
}

func (r *MemoryRepository) PutHold(h model.Hold) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.st.holds[h.ID] = h
}

// Snapshot returns committed loans and holds.
func (r *MemoryRepository) Snapshot() ([]model.Loan, []model.Hold) {
	r.mu.Lock()
	defer r.mu.Unlock()
	loans := make([]model.Loan, 0, len(r.st.loans))
	for _, l := range r.st.loans {
		loans = append(loans, l)
	}
	holds := make([]model.Hold, 0, len(r.st.holds))
	for _, h := range r.st.holds {
		holds = append(holds, h)
	}
	return loans, holds
}

func (r *MemoryRepository) Copy(id uuid.UUID) (model.Copy, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.st.copies[id]
	return c, ok
}

func (r *MemoryRepository) Member(id uuid.UUID) (model.Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.st.members[id]
	return m, ok
}

type memTx struct {
	st *state
}

func (t *memTx) GetItem(_ context.Context, id uuid.UUID) (model.Item, error) {
	if v, ok := t.st.items[id]; ok {
		return v, nil
	}
	return model.Item{}, errs.NotFound("item", id.String())
}

func (t *memTx) LockItem(ctx context.Context, id uuid.UUID) (model.Item, error) {
	return t.GetItem(ctx, id)
}

func (t *memTx) GetMember(_ context.Context, id uuid.UUID) (model.Member, error) {
	if v, ok := t.st.members[id]; ok {
		return v, nil
	}
	return model.Member{}, errs.NotFound("member", id.String())
}

func (t *memTx) GetCopy(_ context.Context, id uuid.UUID) (model.Copy, error) {
	if v, ok := t.st.copies[id]; ok {
		return v, nil
	}
	return model.Copy{}, errs.NotFound("copy", id.String())
}

func (t *memTx) GetCopyByBarcode(_ context.Context, barcode string) (model.Copy, error) {
	for _, c := range t.st.copies {
		if c.Barcode == barcode {
			return c, nil
		}
	}
	return model.Copy{}, errs.NotFound("copy", barcode)
}

func (t *memTx) GetLoan(_ context.Context, id uuid.UUID) (model.Loan, error) {
	if v, ok := t.st.loans[id]; ok {
		return v, nil
	}
	return model.Loan{}, errs.NotFound("loan", id.String())
}

func (t *memTx) GetHold(_ context.Context, id uuid.UUID) (model.Hold, error) {
	if v, ok := t.st.holds[id]; ok {
		return v, nil
	}
	return model.Hold{}, errs.NotFound("hold", id.String())
}

func (t *memTx) OpenLoanByCopy(_ context.Context, copyID uuid.UUID) (model.Loan, error) {
	for _, l := range t.st.loans {
		if l.CopyID == copyID && l.IsOpen() {
			return l, nil
		}
	}
	return model.Loan{}, errs.NotFound("loan", copyID.String())
}

func (t *memTx) ReadyHoldByCopy(_ context.Context, copyID uuid.UUID) (model.Hold, error) {
	for _, h := range t.st.holds {
		if h.Status == model.HoldReadyForPickup && h.CopyID != nil && *h.CopyID == copyID {
			return h, nil
		}
	}
	return model.Hold{}, errs.NotFound("hold", copyID.String())
}

func (t *memTx) OldestWaitingHold(_ context.Context, itemID uuid.UUID) (model.Hold, error) {
	var (
		oldest model.Hold
		found  bool
	)
	for _, h := range t.st.holds {
		if h.ItemID != itemID || h.Status != model.HoldWaiting {
			continue
		}
		if !found || holdBefore(h, oldest) {
			oldest, found = h, true
		}
	}
	if !found {
		return model.Hold{}, errs.NotFound("hold", itemID.String())
	}
	return oldest, nil
}

func holdBefore(a, b model.Hold) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

func (t *memTx) FirstAvailableCopy(_ context.Context, itemID uuid.UUID) (model.Copy, error) {
	var (
		first model.Copy
		found bool
	)
	for _, c := range t.st.copies {
		if c.ItemID != itemID || c.Status != model.CopyAvailable {
			continue
		}
		if !found || c.Barcode < first.Barcode {
			first, found = c, true
		}
	}
	if !found {
		return model.Copy{}, errs.NotFound("copy", itemID.String())
	}
	return first, nil
}

func (t *memTx) CountOpenLoans(_ context.Context, memberID uuid.UUID) (int, error) {
	n := 0
	for _, l := range t.st.loans {
		if l.MemberID == memberID && l.IsOpen() {
			n++
		}
	}
	return n, nil
}

func (t *memTx) HasOpenLoanForItem(_ context.Context, memberID, itemID uuid.UUID) (bool, error) {
	for _, l := range t.st.loans {
		if l.MemberID == memberID && l.ItemID == itemID && l.IsOpen() {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) CountActiveHolds(_ context.Context, memberID uuid.UUID) (int, error) {
	n := 0
	for _, h := range t.st.holds {
		if h.MemberID == memberID && h.IsActive() {
			n++
		}
	}
	return n, nil
}

func (t *memTx) HasActiveHold(_ context.Context, memberID, itemID uuid.UUID) (bool, error) {
	return t.hasActiveHold(memberID, itemID), nil
}

func (t *memTx) hasActiveHold(memberID, itemID uuid.UUID) bool {
	for _, h := range t.st.holds {
		if h.MemberID == memberID && h.ItemID == itemID && h.IsActive() {
			return true
		}
	}
	return false
}

func (t *memTx) HasWaitingHold(_ context.Context, itemID uuid.UUID) (bool, error) {
	for _, h := range t.st.holds {
		if h.ItemID == itemID && h.Status == model.HoldWaiting {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) CountAvailableCopies(_ context.Context, itemID uuid.UUID) (int, error) {
	return t.countAvailable(itemID), nil
}

func (t *memTx) countAvailable(itemID uuid.UUID) int {
	n := 0
	for _, c := range t.st.copies {
		if c.ItemID == itemID && c.Status == model.CopyAvailable {
			n++
		}
	}
	return n
}

// LockMemberItem is a no-op: memory transactions are already serial.
func (t *memTx) LockMemberItem(context.Context, uuid.UUID, uuid.UUID) error {
	return nil
}

func (t *memTx) CreateLoan(_ context.Context, loan model.Loan) (model.Loan, error) {
	if loan.IsOpen() {
		for _, l := range t.st.loans {
			if l.CopyID == loan.CopyID && l.IsOpen() {
				return model.Loan{}, errs.ErrConcurrentUpdate
			}
		}
	}
	t.st.loans[loan.ID] = loan
	return loan, nil
}

func (t *memTx) UpdateLoan(_ context.Context, loan model.Loan) error {
	if _, ok := t.st.loans[loan.ID]; !ok {
		return errs.NotFound("loan", loan.ID.String())
	}
	t.st.loans[loan.ID] = loan
	return nil
}

func (t *memTx) CreateHold(_ context.Context, hold model.Hold) (model.Hold, error) {
	if hold.IsActive() && t.hasActiveHold(hold.MemberID, hold.ItemID) {
		return model.Hold{}, errs.ErrDuplicateHold
	}
	t.st.holds[hold.ID] = hold
	return hold, nil
}

func (t *memTx) UpdateHold(_ context.Context, hold model.Hold) error {
	if _, ok := t.st.holds[hold.ID]; !ok {
		return errs.NotFound("hold", hold.ID.String())
	}
	t.st.holds[hold.ID] = hold
	return nil
}

func (t *memTx) UpdateCopyStatus(_ context.Context, copyID uuid.UUID, status model.CopyStatus) error {
	c, ok := t.st.copies[copyID]
	if !ok {
		return errs.NotFound("copy", copyID.String())
	}
	c.Status = status
	t.st.copies[copyID] = c
	return nil
}

func (t *memTx) AddFine(_ context.Context, memberID uuid.UUID, amount float64) (float64, error) {
	m, ok := t.st.members[memberID]
	if !ok {
		return 0, errs.NotFound("member", memberID.String())
	}
	m.Fines += amount
	t.st.members[memberID] = m
	return m.Fines, nil
}

func (t *memTx) SetStanding(_ context.Context, memberID uuid.UUID, standing model.Standing) error {
	m, ok := t.st.members[memberID]
	if !ok {
		return errs.NotFound("member", memberID.String())
	}
	m.Standing = standing
	t.st.members[memberID] = m
	return nil
}
