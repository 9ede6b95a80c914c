package circulation

import (
	"context"
	"errors"
	"time"

	"github.com/iliyamo/library-circulation/internal/model"
	"github.com/iliyamo/library-circulation/internal/store"
)

var activeLoanStatuses = []model.LoanStatus{model.LoanCheckedOut, model.LoanOverdue}

// Checkout lends one copy of bookID to userID.  requestedDays of zero
// means the longest period the member's plan allows; larger requests
// are capped to it.  A member collecting their own pickup hold gets the
// copy already earmarked for them.
func (e *Engine) Checkout(ctx context.Context, userID, bookID uint64, requestedDays int) (loan model.Loan, err error) {
	const op = "checkout"
	defer func() { checkoutsTotal.WithLabelValues(result(err)).Inc() }()

	if requestedDays < 0 {
		return model.Loan{}, policyErr(op, ReasonInvalidDuration, "loan period must not be negative")
	}
	ent, err := e.entitlement(ctx, op, userID)
	if err != nil {
		return model.Loan{}, err
	}

	unlock, err := e.lockKeys(ctx, op, userKey(userID), bookKey(bookID))
	if err != nil {
		return model.Loan{}, err
	}
	defer unlock()

	err = e.inTx(ctx, op, func(ctx context.Context, tx *txScope) error {
		book, err := e.loadBook(ctx, tx, op, bookID, true)
		if err != nil {
			return err
		}
		holds, err := tx.ListReservations(ctx, model.ReservationFilter{
			UserID:   userID,
			BookID:   bookID,
			Statuses: []model.ReservationStatus{model.ReservationPending, model.ReservationAvailable},
		})
		if err != nil {
			return err
		}
		var hold *model.Reservation
		if len(holds) > 0 {
			hold = &holds[0]
		}
		loan, err = e.checkoutTx(ctx, tx, op, ent, &book, requestedDays, hold)
		return err
	})
	if err != nil {
		return model.Loan{}, err
	}
	e.log.Info("circulation: checked out", "loan_id", loan.ID, "user_id", userID,
		"book_id", bookID, "due", loan.DueDate.Format(time.DateOnly))
	return loan, nil
}

// checkoutTx creates a loan on a locked book row.  When hold is an
// AVAILABLE reservation its earmarked copy is used; otherwise a copy is
// claimed from the shelf.  A PENDING hold of the same member is closed
// as fulfilled.
func (e *Engine) checkoutTx(ctx context.Context, tx *txScope, op string, ent model.Entitlement,
	book *model.Book, requestedDays int, hold *model.Reservation) (model.Loan, error) {

	active, err := tx.ListLoans(ctx, model.LoanFilter{UserID: ent.UserID, Statuses: activeLoanStatuses})
	if err != nil {
		return model.Loan{}, err
	}
	today := e.today()
	for _, l := range active {
		if l.BookID == book.ID {
			return model.Loan{}, policyErr(op, ReasonDuplicateLoan,
				"user %d already has book %d on loan", ent.UserID, book.ID)
		}
	}
	if uint32(len(active)) >= ent.MaxBooksAllowed {
		return model.Loan{}, policyErr(op, ReasonLoanLimitReached,
			"user %d already has %d of %d allowed loans", ent.UserID, len(active), ent.MaxBooksAllowed)
	}
	for _, l := range active {
		if l.Status == model.LoanOverdue || l.DueDate.Before(today) {
			return model.Loan{}, policyErr(op, ReasonOverdueLoans,
				"user %d has overdue loan %d", ent.UserID, l.ID)
		}
	}

	earmarked := hold != nil && hold.Status == model.ReservationAvailable
	if !earmarked {
		if err := e.claimTx(ctx, tx, op, book); err != nil {
			return model.Loan{}, err
		}
	}

	days := int(ent.MaxDaysPerBook)
	if requestedDays > 0 && requestedDays < days {
		days = requestedDays
	}
	now := e.now()
	loan := model.Loan{
		UserID:       ent.UserID,
		BookID:       book.ID,
		CheckoutDate: now,
		DueDate:      today.AddDate(0, 0, days),
		MaxRenewals:  uint32(e.policy.MaxRenewals),
		Status:       model.LoanCheckedOut,
	}
	if err := tx.CreateLoan(ctx, &loan); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return model.Loan{}, policyErr(op, ReasonDuplicateLoan,
				"user %d already has book %d on loan", ent.UserID, book.ID)
		}
		return model.Loan{}, err
	}

	if hold != nil {
		wasPending := hold.Status == model.ReservationPending
		hold.Status = model.ReservationFulfilled
		hold.FulfilledAt = &now
		hold.QueuePosition = 0
		hold.LoanID = &loan.ID
		if err := tx.UpdateReservation(ctx, hold); err != nil {
			return model.Loan{}, err
		}
		if wasPending {
			if err := e.renumberTx(ctx, tx, book.ID); err != nil {
				return model.Loan{}, err
			}
		}
		tx.onCommit(func() { reservationTransitions.WithLabelValues(string(model.ReservationFulfilled)).Inc() })
	}
	return loan, nil
}

// Checkin closes a loan.  condition is RETURNED, DAMAGED or LOST.  A late
// return settles the overdue fine as of today; LOST and DAMAGED returns
// add their fees.  Unless the copy was lost it goes back to the shelf
// and, in a second transaction under the same book lock, to the head of
// the reservation queue.
func (e *Engine) Checkin(ctx context.Context, loanID uint64, condition model.LoanStatus) (model.Loan, error) {
	const op = "checkin"
	if !condition.IsReturnCondition() {
		return model.Loan{}, policyErr(op, ReasonInvalidCondition, "unknown return condition %q", condition)
	}
	loan, err := e.GetLoan(ctx, loanID)
	if err != nil {
		return model.Loan{}, err
	}

	unlock, err := e.lockKeys(ctx, op, bookKey(loan.BookID))
	if err != nil {
		return model.Loan{}, err
	}
	defer unlock()

	var (
		late    bool
		fine    model.Fine
		title   string
		release = condition != model.LoanLost
	)
	err = e.inTx(ctx, op, func(ctx context.Context, tx *txScope) error {
		loan, err = e.loadLoan(ctx, tx, op, loanID, true)
		if err != nil {
			return err
		}
		if !loan.Status.IsActive() {
			return stateErr(op, "loan %d is already %s", loanID, loan.Status)
		}
		book, err := e.loadBook(ctx, tx, op, loan.BookID, true)
		if err != nil {
			return err
		}
		title = book.Title

		now := e.now()
		today := dayOf(now)
		late = today.After(loan.DueDate)
		loan.ReturnDate = &now
		loan.Status = condition
		loan.IsOverdue = false
		if late {
			loan.OverdueDays = uint32(e.calc.OverdueDays(loan.DueDate, today))
			if amount := e.calc.Fine(loan.DueDate, today); amount.IsPositive() {
				if fine, err = e.upsertOverdueFineTx(ctx, tx, op, loan, amount); err != nil {
					return err
				}
			}
		}
		if err := tx.UpdateLoan(ctx, &loan); err != nil {
			return err
		}

		switch condition {
		case model.LoanLost:
			if _, err := e.penaltyFineTx(ctx, tx, op, loan, model.FineLost, e.policy.LostBookFee, "copy reported lost"); err != nil {
				return err
			}
			// The copy leaves the collection for good.
			if book.TotalCopies > book.AvailableCopies {
				book.TotalCopies--
				if err := tx.UpdateBookCounters(ctx, &book); err != nil {
					return err
				}
			}
		case model.LoanDamaged:
			if _, err := e.penaltyFineTx(ctx, tx, op, loan, model.FineDamaged, e.policy.DamagedBookFee, "copy returned damaged"); err != nil {
				return err
			}
			return e.releaseTx(ctx, tx, &book)
		default:
			return e.releaseTx(ctx, tx, &book)
		}
		return nil
	})
	if err != nil {
		return model.Loan{}, err
	}
	checkinsTotal.WithLabelValues(string(condition)).Inc()
	e.log.Info("circulation: checked in", "loan_id", loanID, "condition", condition,
		"late", late, "overdue_days", loan.OverdueDays)

	if late {
		e.notifyOverdue(loan, title, fine)
	}
	if release {
		if _, err := e.promoteNextLocked(ctx, loan.BookID); err != nil {
			// The return itself is committed; the next sweep or return
			// will retry the promotion.
			e.log.Error("circulation: promotion after check-in failed", "book_id", loan.BookID, "err", err)
		}
	}
	return loan, nil
}

// RenewCheckout pushes a loan's due date out by extensionDays.  Zero
// means the policy's renewal period, and longer extensions are rejected.
// Overdue loans must be returned instead.
func (e *Engine) RenewCheckout(ctx context.Context, loanID uint64, extensionDays int) (loan model.Loan, err error) {
	const op = "renew"
	defer func() { renewalsTotal.WithLabelValues(result(err)).Inc() }()

	if extensionDays < 0 || extensionDays > e.policy.RenewalDays {
		return model.Loan{}, policyErr(op, ReasonInvalidDuration,
			"extension must be between 0 and %d days", e.policy.RenewalDays)
	}
	loan, err = e.GetLoan(ctx, loanID)
	if err != nil {
		return model.Loan{}, err
	}
	unlock, err := e.lockKeys(ctx, op, bookKey(loan.BookID))
	if err != nil {
		return model.Loan{}, err
	}
	defer unlock()

	err = e.inTx(ctx, op, func(ctx context.Context, tx *txScope) error {
		loan, err = e.loadLoan(ctx, tx, op, loanID, true)
		if err != nil {
			return err
		}
		if !loan.Status.IsActive() {
			return stateErr(op, "loan %d is already %s", loanID, loan.Status)
		}
		if loan.Status == model.LoanOverdue || loan.IsOverdue || loan.DueDate.Before(e.today()) {
			return &Error{Kind: KindPolicyViolation, Reason: ReasonLoanOverdue, Op: op,
				Detail: "loan is overdue and must be returned"}
		}
		if loan.RenewalCount >= loan.MaxRenewals {
			return &Error{Kind: KindPolicyViolation, Reason: ReasonRenewalLimitReached, Op: op,
				Detail: "renewal limit reached"}
		}
		days := extensionDays
		if days == 0 {
			days = e.policy.RenewalDays
		}
		loan.DueDate = loan.DueDate.AddDate(0, 0, days)
		loan.RenewalCount++
		return tx.UpdateLoan(ctx, &loan)
	})
	if err != nil {
		return model.Loan{}, err
	}
	e.log.Info("circulation: renewed", "loan_id", loanID, "due", loan.DueDate.Format(time.DateOnly),
		"renewals", loan.RenewalCount)
	return loan, nil
}

// SweepResult summarizes one overdue sweep.
type SweepResult struct {
	Scanned       int `json:"scanned"`
	MarkedOverdue int `json:"marked_overdue"`
	FinesUpdated  int `json:"fines_updated"`
	Failed        int `json:"failed"`
}

// RunOverdueSweep flags active loans whose due date has passed and
// brings their overdue fine up to date.  Amounts are recomputed from
// the due date, so running the sweep twice on the same day changes
// nothing.  Loans are processed independently; a failure on one is
// logged and counted.
func (e *Engine) RunOverdueSweep(ctx context.Context) (SweepResult, error) {
	const op = "overdue_sweep"
	start := time.Now()
	defer func() { sweepDuration.WithLabelValues("overdue").Observe(time.Since(start).Seconds()) }()

	today := e.today()
	var due []model.Loan
	err := e.inTx(ctx, op, func(ctx context.Context, tx *txScope) error {
		var err error
		due, err = tx.ListLoansDueBefore(ctx, today)
		return err
	})
	if err != nil {
		return SweepResult{}, err
	}

	res := SweepResult{Scanned: len(due)}
	var errs []error
	for _, l := range due {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		marked, fineChanged, err := e.sweepLoan(ctx, l.ID, l.BookID, today)
		if err != nil {
			res.Failed++
			errs = append(errs, err)
			e.log.Error("circulation: overdue sweep failed for loan", "loan_id", l.ID, "err", err)
			continue
		}
		if marked {
			res.MarkedOverdue++
		}
		if fineChanged {
			res.FinesUpdated++
		}
	}
	e.log.Info("circulation: overdue sweep done", "scanned", res.Scanned,
		"marked", res.MarkedOverdue, "fines", res.FinesUpdated, "failed", res.Failed)
	return res, errors.Join(errs...)
}

func (e *Engine) sweepLoan(ctx context.Context, loanID, bookID uint64, today time.Time) (marked, fineChanged bool, err error) {
	const op = "overdue_sweep"
	unlock, err := e.lockKeys(ctx, op, bookKey(bookID))
	if err != nil {
		return false, false, err
	}
	defer unlock()

	var (
		loan  model.Loan
		fine  model.Fine
		title string
	)
	err = e.inTx(ctx, op, func(ctx context.Context, tx *txScope) error {
		marked, fineChanged = false, false
		loan, err = e.loadLoan(ctx, tx, op, loanID, true)
		if err != nil {
			return err
		}
		if !loan.Status.IsActive() || !loan.DueDate.Before(today) {
			return nil
		}
		if loan.Status == model.LoanCheckedOut {
			loan.Status = model.LoanOverdue
			marked = true
		}
		loan.IsOverdue = true
		loan.OverdueDays = uint32(e.calc.OverdueDays(loan.DueDate, today))
		if err := tx.UpdateLoan(ctx, &loan); err != nil {
			return err
		}
		if amount := e.calc.Fine(loan.DueDate, today); amount.IsPositive() {
			before, findErr := tx.FindFineForUpdate(ctx, loan.ID, model.FineOverdue)
			if findErr != nil && !errors.Is(findErr, store.ErrNotFound) {
				return findErr
			}
			if fine, err = e.upsertOverdueFineTx(ctx, tx, op, loan, amount); err != nil {
				return err
			}
			fineChanged = findErr != nil || !before.Amount.Equal(fine.Amount)
		}
		if marked {
			b, err := tx.GetBook(ctx, loan.BookID)
			if err != nil {
				return err
			}
			title = b.Title
		}
		return nil
	})
	if err != nil {
		return false, false, err
	}
	if marked {
		e.notifyOverdue(loan, title, fine)
	}
	return marked, fineChanged, nil
}

// GetLoan returns a loan by id.
func (e *Engine) GetLoan(ctx context.Context, loanID uint64) (model.Loan, error) {
	const op = "get_loan"
	var l model.Loan
	err := e.inTx(ctx, op, func(ctx context.Context, tx *txScope) error {
		var err error
		l, err = e.loadLoan(ctx, tx, op, loanID, false)
		return err
	})
	return l, err
}

// ListLoans returns loans matching f in id order.
func (e *Engine) ListLoans(ctx context.Context, f model.LoanFilter) ([]model.Loan, error) {
	var out []model.Loan
	err := e.inTx(ctx, "list_loans", func(ctx context.Context, tx *txScope) error {
		var err error
		out, err = tx.ListLoans(ctx, f)
		return err
	})
	return out, err
}

// ListUserActiveLoans returns the loans a member still has out.
func (e *Engine) ListUserActiveLoans(ctx context.Context, userID uint64) ([]model.Loan, error) {
	return e.ListLoans(ctx, model.LoanFilter{UserID: userID, Statuses: activeLoanStatuses})
}

// DaysUntilDue returns the whole days from today to the loan's due
// date; negative once the loan is late.
func (e *Engine) DaysUntilDue(l model.Loan) int {
	return daysBetween(e.today(), l.DueDate)
}

func (e *Engine) loadLoan(ctx context.Context, tx store.Tx, op string, id uint64, forUpdate bool) (model.Loan, error) {
	var (
		l   model.Loan
		err error
	)
	if forUpdate {
		l, err = tx.GetLoanForUpdate(ctx, id)
	} else {
		l, err = tx.GetLoan(ctx, id)
	}
	if errors.Is(err, store.ErrNotFound) {
		return l, notFoundErr(op, "loan", id)
	}
	return l, err
}

func (e *Engine) entitlement(ctx context.Context, op string, userID uint64) (model.Entitlement, error) {
	ent, err := e.entitlements.ActiveEntitlement(ctx, userID)
	if errors.Is(err, ErrNoEntitlement) {
		return model.Entitlement{}, newErr(op, KindEntitlementMissing, "", "user %d has no active subscription", userID)
	}
	if err != nil {
		return model.Entitlement{}, &Error{Kind: KindTransient, Op: op, Detail: "entitlement lookup failed", Err: err}
	}
	ent.UserID = userID
	return ent, nil
}

func (e *Engine) notifyOverdue(l model.Loan, title string, fine model.Fine) {
	n := OverdueNotice{
		LoanID:      l.ID,
		UserID:      l.UserID,
		BookID:      l.BookID,
		BookTitle:   title,
		DueDate:     l.DueDate,
		OverdueDays: int(l.OverdueDays),
		FineAmount:  fine.Amount,
	}
	e.dispatch("overdue", func(ctx context.Context) error { return e.notifier.NotifyOverdue(ctx, n) })
}
