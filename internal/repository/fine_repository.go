package repository

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/iliyamo/library-circulation/internal/model"
)

var fineColumns = []any{
	"id", "loan_id", "user_id", "fine_type", "amount", "amount_paid", "status", "reason", "waived_by",
	"waived_at", "waiver_reason", "transaction_ref", "paid_at", "created_at", "updated_at",
}

func finesQuery() *goqu.SelectDataset {
	return dialect.From("fines").Select(fineColumns...)
}

// CreateFine inserts a fine.  uq_fines_loan_type allows one fine of each
// type per loan.
func (r *txRepo) CreateFine(ctx context.Context, f *model.Fine) error {
	const q = `INSERT INTO fines
		(loan_id, user_id, fine_type, amount, amount_paid, status, reason, waived_by, waived_at,
		 waiver_reason, transaction_ref, paid_at)
		VALUES (:loan_id, :user_id, :fine_type, :amount, :amount_paid, :status, :reason, :waived_by, :waived_at,
		 :waiver_reason, :transaction_ref, :paid_at)`
	id, err := r.insert(ctx, q, f)
	if err != nil {
		return err
	}
	got, err := r.GetFine(ctx, id)
	if err != nil {
		return err
	}
	*f = got
	return nil
}

func (r *txRepo) GetFine(ctx context.Context, id uint64) (model.Fine, error) {
	var f model.Fine
	err := r.get(ctx, &f, finesQuery().Where(goqu.C("id").Eq(id)))
	return f, err
}

func (r *txRepo) GetFineForUpdate(ctx context.Context, id uint64) (model.Fine, error) {
	var f model.Fine
	err := r.get(ctx, &f, finesQuery().Where(goqu.C("id").Eq(id)).ForUpdate(exp.Wait))
	return f, err
}

// UpdateFine writes the mutable fine columns.
func (r *txRepo) UpdateFine(ctx context.Context, f *model.Fine) error {
	const q = `UPDATE fines
		SET amount = :amount, amount_paid = :amount_paid, status = :status, waived_by = :waived_by,
		    waived_at = :waived_at, waiver_reason = :waiver_reason, transaction_ref = :transaction_ref,
		    paid_at = :paid_at
		WHERE id = :id`
	if err := r.update(ctx, q, f); err != nil {
		return err
	}
	f.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *txRepo) FindFineForUpdate(ctx context.Context, loanID uint64, t model.FineType) (model.Fine, error) {
	var f model.Fine
	ds := finesQuery().
		Where(goqu.C("loan_id").Eq(loanID), goqu.C("fine_type").Eq(string(t))).
		ForUpdate(exp.Wait)
	err := r.get(ctx, &f, ds)
	return f, err
}

func (r *txRepo) ListFines(ctx context.Context, userID uint64, statuses []model.FineStatus) ([]model.Fine, error) {
	ds := finesQuery().Order(goqu.C("id").Asc())
	if userID != 0 {
		ds = ds.Where(goqu.C("user_id").Eq(userID))
	}
	if len(statuses) > 0 {
		ds = ds.Where(goqu.C("status").In(statusStrings(statuses)))
	}
	out := []model.Fine{}
	err := r.selectAll(ctx, &out, ds)
	return out, err
}
