package repository

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/iliyamo/library-circulation/internal/model"
)

var loanColumns = []any{
	"id", "user_id", "book_id", "checkout_date", "due_date", "return_date", "renewal_count",
	"max_renewals", "status", "is_overdue", "overdue_days", "created_at", "updated_at",
}

func loansQuery() *goqu.SelectDataset {
	return dialect.From("loans").Select(loanColumns...)
}

func loanFilter(ds *goqu.SelectDataset, f model.LoanFilter) *goqu.SelectDataset {
	if f.UserID != 0 {
		ds = ds.Where(goqu.C("user_id").Eq(f.UserID))
	}
	if f.BookID != 0 {
		ds = ds.Where(goqu.C("book_id").Eq(f.BookID))
	}
	if len(f.Statuses) > 0 {
		ds = ds.Where(goqu.C("status").In(statusStrings(f.Statuses)))
	}
	return ds
}

// CreateLoan inserts a loan.  A second active loan for the same user and
// book trips uq_loans_active and comes back as store.ErrDuplicate.
func (r *txRepo) CreateLoan(ctx context.Context, l *model.Loan) error {
	const q = `INSERT INTO loans
		(user_id, book_id, checkout_date, due_date, return_date, renewal_count, max_renewals, status, is_overdue, overdue_days)
		VALUES (:user_id, :book_id, :checkout_date, :due_date, :return_date, :renewal_count, :max_renewals, :status, :is_overdue, :overdue_days)`
	id, err := r.insert(ctx, q, l)
	if err != nil {
		return err
	}
	got, err := r.GetLoan(ctx, id)
	if err != nil {
		return err
	}
	*l = got
	return nil
}

func (r *txRepo) GetLoan(ctx context.Context, id uint64) (model.Loan, error) {
	var l model.Loan
	err := r.get(ctx, &l, loansQuery().Where(goqu.C("id").Eq(id)))
	return l, err
}

func (r *txRepo) GetLoanForUpdate(ctx context.Context, id uint64) (model.Loan, error) {
	var l model.Loan
	err := r.get(ctx, &l, loansQuery().Where(goqu.C("id").Eq(id)).ForUpdate(exp.Wait))
	return l, err
}

// UpdateLoan writes every mutable loan column.
func (r *txRepo) UpdateLoan(ctx context.Context, l *model.Loan) error {
	const q = `UPDATE loans
		SET due_date = :due_date, return_date = :return_date, renewal_count = :renewal_count,
		    status = :status, is_overdue = :is_overdue, overdue_days = :overdue_days
		WHERE id = :id`
	if err := r.update(ctx, q, l); err != nil {
		return err
	}
	l.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *txRepo) ListLoans(ctx context.Context, f model.LoanFilter) ([]model.Loan, error) {
	ds := loanFilter(loansQuery(), f).Order(goqu.C("id").Asc())
	if f.Limit > 0 {
		ds = ds.Limit(f.Limit)
	}
	out := []model.Loan{}
	err := r.selectAll(ctx, &out, ds)
	return out, err
}

func (r *txRepo) CountLoans(ctx context.Context, f model.LoanFilter) (int, error) {
	return r.count(ctx, loanFilter(dialect.From("loans"), f))
}

// ListLoansDueBefore feeds the overdue sweep.
func (r *txRepo) ListLoansDueBefore(ctx context.Context, day time.Time) ([]model.Loan, error) {
	ds := loansQuery().
		Where(
			goqu.C("status").In(string(model.LoanCheckedOut), string(model.LoanOverdue)),
			goqu.C("due_date").Lt(day),
		).
		Order(goqu.C("id").Asc())
	out := []model.Loan{}
	err := r.selectAll(ctx, &out, ds)
	return out, err
}
