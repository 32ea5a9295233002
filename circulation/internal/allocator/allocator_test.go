package allocator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Astemirdum/library-circulation/circulation/internal/allocator"
	"github.com/Astemirdum/library-circulation/circulation/internal/model"
	"github.com/Astemirdum/library-circulation/circulation/internal/repository"
	"github.com/Astemirdum/library-circulation/circulation/internal/rules"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	repo *repository.MemoryRepository
	item model.Item
}

func newFixture(copies ...model.CopyStatus) fixture {
	repo := repository.NewMemoryRepository()
	item := model.Item{ID: uuid.New(), Title: "Dune", Status: model.ItemActive}
	repo.PutItem(item)
	for i, st := range copies {
		repo.PutCopy(model.Copy{ID: uuid.New(), Barcode: string(rune('A' + i)), ItemID: item.ID, Status: st})
	}
	return fixture{repo: repo, item: item}
}

func (f fixture) waiting(at time.Time) model.Hold {
	h := model.Hold{
		ID:        uuid.New(),
		ItemID:    f.item.ID,
		MemberID:  uuid.New(),
		CreatedAt: at,
		Status:    model.HoldWaiting,
	}
	f.repo.PutHold(h)
	return h
}

// lockOrderTx records the order in which an allocation touches the item lock
// and the waitlist.
type lockOrderTx struct {
	repository.Tx
	mu    *sync.Mutex
	calls *[]string
}

func (t lockOrderTx) record(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	*t.calls = append(*t.calls, name)
}

func (t lockOrderTx) LockItem(ctx context.Context, id uuid.UUID) (model.Item, error) {
	t.record("LockItem")
	return t.Tx.LockItem(ctx, id)
}

func (t lockOrderTx) OldestWaitingHold(ctx context.Context, itemID uuid.UUID) (model.Hold, error) {
	t.record("OldestWaitingHold")
	return t.Tx.OldestWaitingHold(ctx, itemID)
}

func (t lockOrderTx) FirstAvailableCopy(ctx context.Context, itemID uuid.UUID) (model.Copy, error) {
	t.record("FirstAvailableCopy")
	return t.Tx.FirstAvailableCopy(ctx, itemID)
}

func TestAllocate_LocksItemFirst(t *testing.T) {
	t.Parallel()
	r := rules.New(rules.DefaultConfig())
	f := newFixture(model.CopyAvailable)
	f.waiting(t0)

	var (
		mu    sync.Mutex
		calls []string
	)
	err := f.repo.WithTx(context.Background(), func(tx repository.Tx) error {
		_, err := allocator.New(r, zap.NewNop()).
			Allocate(context.Background(), lockOrderTx{Tx: tx, mu: &mu, calls: &calls}, f.item.ID, t0)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, []string{"LockItem", "OldestWaitingHold", "FirstAvailableCopy"}, calls)
}

func TestAllocate(t *testing.T) {
	t.Parallel()
	r := rules.New(rules.DefaultConfig())

	t.Run("promotes oldest waiting hold", func(t *testing.T) {
		t.Parallel()
		f := newFixture(model.CopyCheckedOut, model.CopyAvailable)
		newer := f.waiting(t0.Add(time.Hour))
		older := f.waiting(t0)

		a := allocator.New(r, zap.NewNop())
		var promoted *model.Hold
		err := f.repo.WithTx(context.Background(), func(tx repository.Tx) error {
			var err error
			promoted, err = a.Allocate(context.Background(), tx, f.item.ID, t0.Add(2*time.Hour))
			return err
		})
		require.NoError(t, err)
		require.NotNil(t, promoted)
		require.Equal(t, older.ID, promoted.ID)
		require.Equal(t, model.HoldReadyForPickup, promoted.Status)
		require.NotNil(t, promoted.CopyID)
		require.Equal(t, t0.Add(2*time.Hour), *promoted.ReadyAt)
		require.Equal(t, t0.Add(2*time.Hour+72*time.Hour), *promoted.ExpiresAt)

		cp, ok := f.repo.Copy(*promoted.CopyID)
		require.True(t, ok)
		require.Equal(t, model.CopyOnHold, cp.Status)

		_, holds := f.repo.Snapshot()
		for _, h := range holds {
			if h.ID == newer.ID {
				require.Equal(t, model.HoldWaiting, h.Status)
			}
		}
	})

	t.Run("no waiting hold", func(t *testing.T) {
		t.Parallel()
		f := newFixture(model.CopyAvailable)
		promoted, err := allocator.New(r, zap.NewNop()).AllocateItem(context.Background(), f.repo, f.item.ID)
		require.NoError(t, err)
		require.Nil(t, promoted)
	})

	t.Run("no available copy", func(t *testing.T) {
		t.Parallel()
		f := newFixture(model.CopyCheckedOut, model.CopyInRepair)
		h := f.waiting(t0)
		promoted, err := allocator.New(r, zap.NewNop()).AllocateItem(context.Background(), f.repo, f.item.ID)
		require.NoError(t, err)
		require.Nil(t, promoted)

		_, holds := f.repo.Snapshot()
		require.Len(t, holds, 1)
		require.Equal(t, h.ID, holds[0].ID)
		require.Equal(t, model.HoldWaiting, holds[0].Status)
	})

	t.Run("equal creation time breaks tie by id", func(t *testing.T) {
		t.Parallel()
		f := newFixture(model.CopyAvailable)
		a, b := f.waiting(t0), f.waiting(t0)
		want := a.ID
		if b.ID.String() < a.ID.String() {
			want = b.ID
		}
		promoted, err := allocator.New(r, zap.NewNop()).AllocateItem(context.Background(), f.repo, f.item.ID)
		require.NoError(t, err)
		require.Equal(t, want, promoted.ID)
	})
}
