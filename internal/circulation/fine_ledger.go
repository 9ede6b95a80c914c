package circulation

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/library-circulation/internal/model"
	"github.com/iliyamo/library-circulation/internal/store"
)

// upsertOverdueFineTx keeps a single OVERDUE fine per loan at amount.
// The amount is a recomputation from the due date, never an increment.
// Waived fines are left alone.
func (e *Engine) upsertOverdueFineTx(ctx context.Context, tx *txScope, op string, loan model.Loan, amount decimal.Decimal) (model.Fine, error) {
	f, err := tx.FindFineForUpdate(ctx, loan.ID, model.FineOverdue)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return e.recordFineTx(ctx, tx, op, loan, model.FineOverdue, amount, "overdue")
	case err != nil:
		return model.Fine{}, err
	}
	if f.Status == model.FineWaived || f.Amount.Equal(amount) {
		return f, nil
	}
	f.Amount = amount
	f.Status = f.SettleStatus()
	if f.Status == model.FinePaid && f.PaidAt == nil {
		now := e.now()
		f.PaidAt = &now
	}
	if err := tx.UpdateFine(ctx, &f); err != nil {
		return model.Fine{}, err
	}
	return f, nil
}

// penaltyFineTx charges the LOST or DAMAGED fee at check-in.  A fine of
// the same type already recorded by hand is kept and raised to fee when
// it is lower.  Waived fines stay waived.
func (e *Engine) penaltyFineTx(ctx context.Context, tx *txScope, op string, loan model.Loan, t model.FineType,
	fee decimal.Decimal, reason string) (model.Fine, error) {
	f, err := tx.FindFineForUpdate(ctx, loan.ID, t)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return e.recordFineTx(ctx, tx, op, loan, t, fee, reason)
	case err != nil:
		return model.Fine{}, err
	}
	if f.Status == model.FineWaived || !f.Amount.LessThan(fee) {
		return f, nil
	}
	f.Amount = fee
	f.Status = f.SettleStatus()
	if f.Status != model.FinePaid {
		f.PaidAt = nil
	}
	if err := tx.UpdateFine(ctx, &f); err != nil {
		return model.Fine{}, err
	}
	return f, nil
}

// recordFineTx creates a PENDING fine unless amount is zero.
func (e *Engine) recordFineTx(ctx context.Context, tx *txScope, op string, loan model.Loan, t model.FineType,
	amount decimal.Decimal, reason string) (model.Fine, error) {
	if !amount.IsPositive() {
		return model.Fine{}, nil
	}
	f := model.Fine{
		LoanID:     loan.ID,
		UserID:     loan.UserID,
		Type:       t,
		Amount:     amount,
		AmountPaid: decimal.Zero,
		Status:     model.FinePending,
	}
	if reason != "" {
		f.Reason = &reason
	}
	if err := tx.CreateFine(ctx, &f); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return model.Fine{}, policyErr(op, ReasonDuplicateFine, "loan %d already has a %s fine", loan.ID, t)
		}
		return model.Fine{}, err
	}
	tx.onCommit(func() { finesRecorded.WithLabelValues(string(t)).Inc() })
	return f, nil
}

// CreateFine charges a fine against a loan by hand.  Each loan carries
// at most one fine of each type.
func (e *Engine) CreateFine(ctx context.Context, loanID uint64, t model.FineType, amount decimal.Decimal, reason string) (model.Fine, error) {
	const op = "create_fine"
	if !t.Valid() {
		return model.Fine{}, policyErr(op, ReasonInvalidFineType, "unknown fine type %q", t)
	}
	if !amount.IsPositive() {
		return model.Fine{}, policyErr(op, ReasonInvalidAmount, "fine amount must be positive")
	}
	var f model.Fine
	err := e.inTx(ctx, op, func(ctx context.Context, tx *txScope) error {
		loan, err := e.loadLoan(ctx, tx, op, loanID, true)
		if err != nil {
			return err
		}
		f, err = e.recordFineTx(ctx, tx, op, loan, t, amount, strings.TrimSpace(reason))
		return err
	})
	if err != nil {
		return model.Fine{}, err
	}
	e.log.Info("circulation: fine created", "fine_id", f.ID, "loan_id", loanID, "type", t, "amount", f.Amount.StringFixed(2))
	return f, nil
}

// MarkFineAsPaid applies a payment.  Payments above the outstanding
// remainder are rejected.  Replaying the last transactionRef is a no-op,
// so redelivered payment confirmations are harmless.
func (e *Engine) MarkFineAsPaid(ctx context.Context, fineID uint64, amount decimal.Decimal, transactionRef string) (model.Fine, error) {
	const op = "pay_fine"
	if !amount.IsPositive() {
		return model.Fine{}, policyErr(op, ReasonInvalidAmount, "payment must be positive")
	}
	var (
		f      model.Fine
		replay bool
	)
	err := e.inTx(ctx, op, func(ctx context.Context, tx *txScope) error {
		var err error
		f, err = e.loadFine(ctx, tx, op, fineID, true)
		if err != nil {
			return err
		}
		replay = transactionRef != "" && f.TransactionRef != nil && *f.TransactionRef == transactionRef
		if replay {
			return nil
		}
		if f.Status.IsSettled() {
			return stateErr(op, "fine %d is already %s", fineID, f.Status)
		}
		if amount.GreaterThan(f.Outstanding()) {
			return policyErr(op, ReasonOverpayment, "payment %s exceeds outstanding %s",
				amount.StringFixed(2), f.Outstanding().StringFixed(2))
		}
		f.AmountPaid = f.AmountPaid.Add(amount)
		f.Status = f.SettleStatus()
		if transactionRef != "" {
			f.TransactionRef = &transactionRef
		}
		if f.Status == model.FinePaid {
			now := e.now()
			f.PaidAt = &now
		}
		return tx.UpdateFine(ctx, &f)
	})
	if err != nil {
		return model.Fine{}, err
	}
	if replay {
		e.log.Info("circulation: duplicate payment ignored", "fine_id", fineID, "ref", transactionRef)
		return f, nil
	}
	e.log.Info("circulation: fine payment applied", "fine_id", fineID, "amount", amount.StringFixed(2),
		"status", f.Status)
	return f, nil
}

// WaiveFine forgives the unpaid part of a fine.
func (e *Engine) WaiveFine(ctx context.Context, fineID, waivedBy uint64, reason string) (model.Fine, error) {
	const op = "waive_fine"
	var f model.Fine
	err := e.inTx(ctx, op, func(ctx context.Context, tx *txScope) error {
		var err error
		f, err = e.loadFine(ctx, tx, op, fineID, true)
		if err != nil {
			return err
		}
		if f.Status.IsSettled() {
			return stateErr(op, "fine %d is already %s", fineID, f.Status)
		}
		now := e.now()
		f.Status = model.FineWaived
		f.WaivedBy = &waivedBy
		f.WaivedAt = &now
		if reason = strings.TrimSpace(reason); reason != "" {
			f.WaiverReason = &reason
		}
		return tx.UpdateFine(ctx, &f)
	})
	if err != nil {
		return model.Fine{}, err
	}
	e.log.Info("circulation: fine waived", "fine_id", fineID, "by", waivedBy)
	return f, nil
}

// GetFine returns a fine by id.
func (e *Engine) GetFine(ctx context.Context, fineID uint64) (model.Fine, error) {
	const op = "get_fine"
	var f model.Fine
	err := e.inTx(ctx, op, func(ctx context.Context, tx *txScope) error {
		var err error
		f, err = e.loadFine(ctx, tx, op, fineID, false)
		return err
	})
	return f, err
}

// ListUserFines returns a member's fines, optionally narrowed to the
// given statuses.
func (e *Engine) ListUserFines(ctx context.Context, userID uint64, statuses ...model.FineStatus) ([]model.Fine, error) {
	var out []model.Fine
	err := e.inTx(ctx, "list_fines", func(ctx context.Context, tx *txScope) error {
		var err error
		out, err = tx.ListFines(ctx, userID, statuses)
		return err
	})
	return out, err
}

// OutstandingBalance sums what a member still owes.
func (e *Engine) OutstandingBalance(ctx context.Context, userID uint64) (decimal.Decimal, error) {
	fines, err := e.ListUserFines(ctx, userID, model.FinePending, model.FinePartiallyPaid)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, f := range fines {
		total = total.Add(f.Outstanding())
	}
	return total, nil
}

func (e *Engine) loadFine(ctx context.Context, tx store.Tx, op string, id uint64, forUpdate bool) (model.Fine, error) {
	var (
		f   model.Fine
		err error
	)
	if forUpdate {
		f, err = tx.GetFineForUpdate(ctx, id)
	} else {
		f, err = tx.GetFine(ctx, id)
	}
	if errors.Is(err, store.ErrNotFound) {
		return f, notFoundErr(op, "fine", id)
	}
	return f, err
}
