package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/Astemirdum/library-circulation/circulation/internal/errs"
	"github.com/Astemirdum/library-circulation/circulation/internal/model"
	"github.com/Astemirdum/library-circulation/pkg/retry"
	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	itemsTableName   = `items`
	copiesTableName  = `copies`
	membersTableName = `members`
	loansTableName   = `loans`
	holdsTableName   = `holds`

	activeHoldIndex = `holds_active_member_item_uidx`
)

var (
	qb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

	itemColumns   = []string{"id", "title", "status"}
	copyColumns   = []string{"id", "barcode", "item_id", "status"}
	memberColumns = []string{"id", "name", "email", "standing", "role", "fines"}
	loanColumns   = []string{"id", "copy_id", "item_id", "member_id", "issued_by", "returned_by",
		"borrowed_at", "due_at", "returned_at", "renewal_count", "fine", "status"}
	holdColumns = []string{"id", "item_id", "member_id", "copy_id", "created_at",
		"ready_at", "expires_at", "ended_at", "status"}

	openLoanStatuses   = []string{string(model.LoanBorrowed), string(model.LoanOverdue)}
	activeHoldStatuses = []string{string(model.HoldWaiting), string(model.HoldReadyForPickup)}
)

type repository struct {
	db       *sqlx.DB
	log      *zap.Logger
	retryOps []retry.Option
}

func NewRepository(db *sqlx.DB, log *zap.Logger) (*repository, error) {
	return &repository{
		db:  db,
		log: log.Named("repo"),
		retryOps: []retry.Option{
			retry.WithMaxAttempts(5),
			retry.WithRetryable(isRetryable),
		},
	}, nil
}

// WithTx runs fn in a READ COMMITTED transaction. Correctness relies on the row
// locks taken by Tx lookups; serialization failures and deadlocks are retried.
func (r *repository) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return retry.Do(ctx, func(ctx context.Context) error {
		tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
		if err != nil {
			return errors.Wrap(err, "begin tx")
		}
		if err = fn(&pgTx{tx: tx, log: r.log}); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.log.Warn("rollback", zap.Error(rbErr))
			}
			return mapPgError(err)
		}
		if err = tx.Commit(); err != nil {
			return mapPgError(errors.Wrap(err, "commit"))
		}
		return nil
	}, r.retryOps...)
}

func (r *repository) AvailableCount(ctx context.Context, itemID uuid.UUID) (int, error) {
	q, args, err := qb.Select("count(*)").
		From(copiesTableName).
		Where(sq.Eq{"item_id": itemID, "status": model.CopyAvailable}).
		ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	if err := r.db.GetContext(ctx, &n, q, args...); err != nil {
		return 0, errors.Wrap(err, "AvailableCount")
	}
	return n, nil
}

func (r *repository) OverdueLoans(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	q, args, err := qb.Select("id").
		From(loansTableName).
		Where(sq.Eq{"status": model.LoanBorrowed}).
		Where(sq.Lt{"due_at": now}).
		OrderBy("due_at").
		ToSql()
	if err != nil {
		return nil, err
	}
	var ids []uuid.UUID
	if err := r.db.SelectContext(ctx, &ids, q, args...); err != nil {
		return nil, errors.Wrap(err, "OverdueLoans")
	}
	return ids, nil
}

func (r *repository) ExpiredHolds(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	q, args, err := qb.Select("id").
		From(holdsTableName).
		Where(sq.Eq{"status": model.HoldReadyForPickup}).
		Where(sq.Lt{"expires_at": now}).
		OrderBy("expires_at").
		ToSql()
	if err != nil {
		return nil, err
	}
	var ids []uuid.UUID
	if err := r.db.SelectContext(ctx, &ids, q, args...); err != nil {
		return nil, errors.Wrap(err, "ExpiredHolds")
	}
	return ids, nil
}

type pgTx struct {
	tx  *sqlx.Tx
	log *zap.Logger
}

func (t *pgTx) get(ctx context.Context, dest any, b sq.SelectBuilder, entity, key string) error {
	q, args, err := b.ToSql()
	if err != nil {
		return err
	}
	if err := t.tx.GetContext(ctx, dest, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errs.NotFound(entity, key)
		}
		t.log.Error("get", zap.String("entity", entity), zap.String("q", q), zap.Error(err))
		return errors.Wrapf(err, "get %s", entity)
	}
	return nil
}

func (t *pgTx) count(ctx context.Context, b sq.SelectBuilder) (int, error) {
	q, args, err := b.ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	if err := t.tx.GetContext(ctx, &n, q, args...); err != nil {
		return 0, errors.Wrap(err, "count")
	}
	return n, nil
}

func (t *pgTx) exec(ctx context.Context, b sq.Sqlizer, entity, key string) error {
	q, args, err := b.ToSql()
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, q, args...)
	if err != nil {
		return mapPgError(errors.Wrapf(err, "write %s", entity))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errs.NotFound(entity, key)
	}
	return nil
}

func (t *pgTx) GetItem(ctx context.Context, id uuid.UUID) (model.Item, error) {
	var item model.Item
	err := t.get(ctx, &item, qb.Select(itemColumns...).From(itemsTableName).Where(sq.Eq{"id": id}), "item", id.String())
	return item, err
}

func (t *pgTx) LockItem(ctx context.Context, id uuid.UUID) (model.Item, error) {
	var item model.Item
	err := t.get(ctx, &item, qb.Select(itemColumns...).From(itemsTableName).
		Where(sq.Eq{"id": id}).Suffix("FOR UPDATE"), "item", id.String())
	return item, err
}

func (t *pgTx) GetMember(ctx context.Context, id uuid.UUID) (model.Member, error) {
	var m model.Member
	err := t.get(ctx, &m, qb.Select(memberColumns...).From(membersTableName).Where(sq.Eq{"id": id}), "member", id.String())
	return m, err
}

func (t *pgTx) GetCopy(ctx context.Context, id uuid.UUID) (model.Copy, error) {
	var c model.Copy
	err := t.get(ctx, &c, qb.Select(copyColumns...).From(copiesTableName).
		Where(sq.Eq{"id": id}).Suffix("FOR UPDATE"), "copy", id.String())
	return c, err
}

func (t *pgTx) GetCopyByBarcode(ctx context.Context, barcode string) (model.Copy, error) {
	var c model.Copy
	err := t.get(ctx, &c, qb.Select(copyColumns...).From(copiesTableName).
		Where(sq.Eq{"barcode": barcode}).Suffix("FOR UPDATE"), "copy", barcode)
	return c, err
}

func (t *pgTx) GetLoan(ctx context.Context, id uuid.UUID) (model.Loan, error) {
	var l model.Loan
	err := t.get(ctx, &l, qb.Select(loanColumns...).From(loansTableName).
		Where(sq.Eq{"id": id}).Suffix("FOR UPDATE"), "loan", id.String())
	return l, err
}

func (t *pgTx) GetHold(ctx context.Context, id uuid.UUID) (model.Hold, error) {
	var h model.Hold
	err := t.get(ctx, &h, qb.Select(holdColumns...).From(holdsTableName).
		Where(sq.Eq{"id": id}).Suffix("FOR UPDATE"), "hold", id.String())
	return h, err
}

func (t *pgTx) OpenLoanByCopy(ctx context.Context, copyID uuid.UUID) (model.Loan, error) {
	var l model.Loan
	err := t.get(ctx, &l, qb.Select(loanColumns...).From(loansTableName).
		Where(sq.Eq{"copy_id": copyID, "status": openLoanStatuses}).
		Limit(1).Suffix("FOR UPDATE"), "loan", copyID.String())
	return l, err
}

func (t *pgTx) ReadyHoldByCopy(ctx context.Context, copyID uuid.UUID) (model.Hold, error) {
	var h model.Hold
	err := t.get(ctx, &h, qb.Select(holdColumns...).From(holdsTableName).
		Where(sq.Eq{"copy_id": copyID, "status": model.HoldReadyForPickup}).
		Limit(1).Suffix("FOR UPDATE"), "hold", copyID.String())
	return h, err
}

// OldestWaitingHold skips holds locked by a concurrent allocation of another copy.
func (t *pgTx) OldestWaitingHold(ctx context.Context, itemID uuid.UUID) (model.Hold, error) {
	var h model.Hold
	err := t.get(ctx, &h, qb.Select(holdColumns...).From(holdsTableName).
		Where(sq.Eq{"item_id": itemID, "status": model.HoldWaiting}).
		OrderBy("created_at", "id").
		Limit(1).Suffix("FOR UPDATE SKIP LOCKED"), "hold", itemID.String())
	return h, err
}

func (t *pgTx) FirstAvailableCopy(ctx context.Context, itemID uuid.UUID) (model.Copy, error) {
	var c model.Copy
	err := t.get(ctx, &c, qb.Select(copyColumns...).From(copiesTableName).
		Where(sq.Eq{"item_id": itemID, "status": model.CopyAvailable}).
		OrderBy("barcode").
		Limit(1).Suffix("FOR UPDATE SKIP LOCKED"), "copy", itemID.String())
	return c, err
}

func (t *pgTx) CountOpenLoans(ctx context.Context, memberID uuid.UUID) (int, error) {
	return t.count(ctx, qb.Select("count(*)").From(loansTableName).
		Where(sq.Eq{"member_id": memberID, "status": openLoanStatuses}))
}

func (t *pgTx) HasOpenLoanForItem(ctx context.Context, memberID, itemID uuid.UUID) (bool, error) {
	n, err := t.count(ctx, qb.Select("count(*)").From(loansTableName).
		Where(sq.Eq{"member_id": memberID, "item_id": itemID, "status": openLoanStatuses}))
	return n > 0, err
}

func (t *pgTx) CountActiveHolds(ctx context.Context, memberID uuid.UUID) (int, error) {
	return t.count(ctx, qb.Select("count(*)").From(holdsTableName).
		Where(sq.Eq{"member_id": memberID, "status": activeHoldStatuses}))
}

func (t *pgTx) HasActiveHold(ctx context.Context, memberID, itemID uuid.UUID) (bool, error) {
	n, err := t.count(ctx, qb.Select("count(*)").From(holdsTableName).
		Where(sq.Eq{"member_id": memberID, "item_id": itemID, "status": activeHoldStatuses}))
	return n > 0, err
}

func (t *pgTx) HasWaitingHold(ctx context.Context, itemID uuid.UUID) (bool, error) {
	n, err := t.count(ctx, qb.Select("count(*)").From(holdsTableName).
		Where(sq.Eq{"item_id": itemID, "status": model.HoldWaiting}))
	return n > 0, err
}

func (t *pgTx) CountAvailableCopies(ctx context.Context, itemID uuid.UUID) (int, error) {
	return t.count(ctx, qb.Select("count(*)").From(copiesTableName).
		Where(sq.Eq{"item_id": itemID, "status": model.CopyAvailable}))
}

func (t *pgTx) LockMemberItem(ctx context.Context, memberID, itemID uuid.UUID) error {
	const q = `select pg_advisory_xact_lock(hashtextextended($1, 0))`
	if _, err := t.tx.ExecContext(ctx, q, memberID.String()+":"+itemID.String()); err != nil {
		return errors.Wrap(err, "LockMemberItem")
	}
	return nil
}

func (t *pgTx) CreateLoan(ctx context.Context, loan model.Loan) (model.Loan, error) {
	b := qb.Insert(loansTableName).
		Columns(loanColumns...).
		Values(loan.ID, loan.CopyID, loan.ItemID, loan.MemberID, loan.IssuedBy, loan.ReturnedBy,
			loan.BorrowedAt, loan.DueAt, loan.ReturnedAt, loan.RenewalCount, loan.Fine, loan.Status)
	if err := t.exec(ctx, b, "loan", loan.ID.String()); err != nil {
		return model.Loan{}, err
	}
	return loan, nil
}

func (t *pgTx) UpdateLoan(ctx context.Context, loan model.Loan) error {
	b := qb.Update(loansTableName).
		SetMap(map[string]any{
			"returned_by":   loan.ReturnedBy,
			"due_at":        loan.DueAt,
			"returned_at":   loan.ReturnedAt,
			"renewal_count": loan.RenewalCount,
			"fine":          loan.Fine,
			"status":        loan.Status,
		}).
		Where(sq.Eq{"id": loan.ID})
	return t.exec(ctx, b, "loan", loan.ID.String())
}

func (t *pgTx) CreateHold(ctx context.Context, hold model.Hold) (model.Hold, error) {
	b := qb.Insert(holdsTableName).
		Columns(holdColumns...).
		Values(hold.ID, hold.ItemID, hold.MemberID, hold.CopyID, hold.CreatedAt,
			hold.ReadyAt, hold.ExpiresAt, hold.EndedAt, hold.Status)
	if err := t.exec(ctx, b, "hold", hold.ID.String()); err != nil {
		return model.Hold{}, err
	}
	return hold, nil
}

func (t *pgTx) UpdateHold(ctx context.Context, hold model.Hold) error {
	b := qb.Update(holdsTableName).
		SetMap(map[string]any{
			"copy_id":    hold.CopyID,
			"ready_at":   hold.ReadyAt,
			"expires_at": hold.ExpiresAt,
			"ended_at":   hold.EndedAt,
			"status":     hold.Status,
		}).
		Where(sq.Eq{"id": hold.ID})
	return t.exec(ctx, b, "hold", hold.ID.String())
}

func (t *pgTx) UpdateCopyStatus(ctx context.Context, copyID uuid.UUID, status model.CopyStatus) error {
	b := qb.Update(copiesTableName).
		Set("status", status).
		Where(sq.Eq{"id": copyID})
	return t.exec(ctx, b, "copy", copyID.String())
}

func (t *pgTx) AddFine(ctx context.Context, memberID uuid.UUID, amount float64) (float64, error) {
	q, args, err := qb.Update(membersTableName).
		Set("fines", sq.Expr("fines + ?", amount)).
		Where(sq.Eq{"id": memberID}).
		Suffix("RETURNING fines").
		ToSql()
	if err != nil {
		return 0, err
	}
	var balance float64
	if err := t.tx.GetContext(ctx, &balance, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, errs.NotFound("member", memberID.String())
		}
		return 0, errors.Wrap(err, "AddFine")
	}
	return balance, nil
}

func (t *pgTx) SetStanding(ctx context.Context, memberID uuid.UUID, standing model.Standing) error {
	b := qb.Update(membersTableName).
		Set("standing", standing).
		Where(sq.Eq{"id": memberID})
	return t.exec(ctx, b, "member", memberID.String())
}

// mapPgError turns unique-index violations into business conflicts: the
// partial unique indexes are the last guard of the one-open-loan-per-copy and
// one-active-hold-per-member-item invariants.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		if pgErr.ConstraintName == activeHoldIndex {
			return errs.ErrDuplicateHold
		}
		return errs.ErrConcurrentUpdate
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
}
