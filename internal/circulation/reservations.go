package circulation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/library-circulation/internal/model"
	"github.com/iliyamo/library-circulation/internal/store"
)

var activeReservationStatuses = []model.ReservationStatus{model.ReservationPending, model.ReservationAvailable}

// Actor identifies who is asking for a change.
type Actor struct {
	UserID    uint64
	Librarian bool
}

// CreateReservation puts userID in the queue for bookID.  Titles with a
// copy on the shelf must be checked out instead.
func (e *Engine) CreateReservation(ctx context.Context, userID, bookID uint64) (model.Reservation, error) {
	const op = "create_reservation"
	unlock, err := e.lockKeys(ctx, op, userKey(userID), bookKey(bookID))
	if err != nil {
		return model.Reservation{}, err
	}
	defer unlock()

	var r model.Reservation
	err = e.inTx(ctx, op, func(ctx context.Context, tx *txScope) error {
		book, err := e.loadBook(ctx, tx, op, bookID, true)
		if err != nil {
			return err
		}
		if !book.Active {
			return newErr(op, KindResourceUnavailable, ReasonBookInactive, "book %d is not in circulation", bookID)
		}
		if book.AvailableCopies > 0 {
			return policyErr(op, ReasonCopyAvailable, "book %d has a copy available; check it out instead", bookID)
		}
		mine, err := tx.ListReservations(ctx, model.ReservationFilter{UserID: userID, Statuses: activeReservationStatuses})
		if err != nil {
			return err
		}
		for _, o := range mine {
			if o.BookID == bookID {
				return policyErr(op, ReasonDuplicateReservation, "user %d already has reservation %d for book %d", userID, o.ID, bookID)
			}
		}
		if len(mine) >= e.policy.MaxActiveReservations {
			return policyErr(op, ReasonReservationLimit, "user %d already has %d active reservations", userID, len(mine))
		}
		onLoan, err := tx.CountLoans(ctx, model.LoanFilter{UserID: userID, BookID: bookID, Statuses: activeLoanStatuses})
		if err != nil {
			return err
		}
		if onLoan > 0 {
			return policyErr(op, ReasonAlreadyOnLoan, "user %d already has book %d on loan", userID, bookID)
		}

		queue, err := tx.ListPendingQueue(ctx, bookID)
		if err != nil {
			return err
		}
		r = model.Reservation{
			UserID:        userID,
			BookID:        bookID,
			Status:        model.ReservationPending,
			ReservedAt:    e.now(),
			QueuePosition: uint32(len(queue) + 1),
		}
		if err := tx.CreateReservation(ctx, &r); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return policyErr(op, ReasonDuplicateReservation, "user %d already reserved book %d", userID, bookID)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return model.Reservation{}, err
	}
	reservationTransitions.WithLabelValues(string(model.ReservationPending)).Inc()
	e.log.Info("circulation: reserved", "reservation_id", r.ID, "user_id", userID,
		"book_id", bookID, "position", r.QueuePosition)
	return r, nil
}

// CancelReservation withdraws an active reservation.  Only its owner or
// a librarian may cancel.  Cancelling a pickup hold frees the earmarked
// copy for the next member in line.
func (e *Engine) CancelReservation(ctx context.Context, reservationID uint64, actor Actor) (model.Reservation, error) {
	const op = "cancel_reservation"
	r, err := e.GetReservation(ctx, reservationID)
	if err != nil {
		return model.Reservation{}, err
	}
	unlock, err := e.lockKeys(ctx, op, bookKey(r.BookID))
	if err != nil {
		return model.Reservation{}, err
	}
	defer unlock()

	var wasHold bool
	err = e.inTx(ctx, op, func(ctx context.Context, tx *txScope) error {
		r, err = e.loadReservation(ctx, tx, op, reservationID, true)
		if err != nil {
			return err
		}
		if r.UserID != actor.UserID && !actor.Librarian {
			return newErr(op, KindForbidden, "", "reservation %d belongs to another member", reservationID)
		}
		if !r.Status.IsActive() {
			return stateErr(op, "reservation %d is already %s", reservationID, r.Status)
		}
		wasHold = r.Status == model.ReservationAvailable
		now := e.now()
		r.Status = model.ReservationCancelled
		r.CancelledAt = &now
		r.QueuePosition = 0
		if err := tx.UpdateReservation(ctx, &r); err != nil {
			return err
		}
		if wasHold {
			book, err := e.loadBook(ctx, tx, op, r.BookID, true)
			if err != nil {
				return err
			}
			if err := e.releaseTx(ctx, tx, &book); err != nil {
				return err
			}
		}
		return e.renumberTx(ctx, tx, r.BookID)
	})
	if err != nil {
		return model.Reservation{}, err
	}
	reservationTransitions.WithLabelValues(string(model.ReservationCancelled)).Inc()
	e.log.Info("circulation: reservation cancelled", "reservation_id", reservationID,
		"by", actor.UserID, "was_hold", wasHold)
	if wasHold {
		if _, err := e.promoteNextLocked(ctx, r.BookID); err != nil {
			e.log.Error("circulation: promotion after cancel failed", "book_id", r.BookID, "err", err)
		}
	}
	return r, nil
}

// PromoteNext turns the head of a title's queue into a pickup hold when
// a copy is on the shelf.  It returns nil when nothing was promoted.
func (e *Engine) PromoteNext(ctx context.Context, bookID uint64) (*model.Reservation, error) {
	unlock, err := e.lockKeys(ctx, "promote_next", bookKey(bookID))
	if err != nil {
		return nil, err
	}
	defer unlock()
	return e.promoteNextLocked(ctx, bookID)
}

// promoteNextLocked expects the caller to hold the book lock.
func (e *Engine) promoteNextLocked(ctx context.Context, bookID uint64) (*model.Reservation, error) {
	const op = "promote_next"
	var (
		promoted *model.Reservation
		title    string
	)
	err := e.inTx(ctx, op, func(ctx context.Context, tx *txScope) error {
		promoted = nil
		book, err := e.loadBook(ctx, tx, op, bookID, true)
		if err != nil {
			return err
		}
		if !book.Active || book.AvailableCopies == 0 {
			return nil
		}
		queue, err := tx.ListPendingQueue(ctx, bookID)
		if err != nil || len(queue) == 0 {
			return err
		}
		head := queue[0]
		if err := e.claimTx(ctx, tx, op, &book); err != nil {
			return err
		}
		now := e.now()
		until := now.Add(e.policy.HoldPeriod)
		token := uuid.NewString()
		head.Status = model.ReservationAvailable
		head.AvailableAt = &now
		head.AvailableUntil = &until
		head.HoldToken = &token
		head.QueuePosition = 0
		if err := tx.UpdateReservation(ctx, &head); err != nil {
			return err
		}
		promoted, title = &head, book.Title
		return e.renumberTx(ctx, tx, bookID)
	})
	if err != nil || promoted == nil {
		return nil, err
	}
	reservationTransitions.WithLabelValues(string(model.ReservationAvailable)).Inc()
	e.log.Info("circulation: reservation ready for pickup", "reservation_id", promoted.ID,
		"user_id", promoted.UserID, "book_id", bookID, "until", promoted.AvailableUntil.Format(time.RFC3339))

	n := AvailableNotice{
		ReservationID:  promoted.ID,
		UserID:         promoted.UserID,
		BookID:         bookID,
		BookTitle:      title,
		HoldToken:      *promoted.HoldToken,
		AvailableUntil: *promoted.AvailableUntil,
	}
	e.dispatch("available", func(ctx context.Context) error { return e.notifier.NotifyAvailable(ctx, n) })
	return promoted, nil
}

// promoteWhileAvailable promotes until the shelf or the queue is empty.
// The caller holds the book lock.
func (e *Engine) promoteWhileAvailable(ctx context.Context, bookID uint64) error {
	for {
		r, err := e.promoteNextLocked(ctx, bookID)
		if err != nil || r == nil {
			return err
		}
	}
}

// FulfillReservation checks out the copy held for a pickup hold.  If
// any checkout precondition fails the hold stays AVAILABLE and the
// error is returned.
func (e *Engine) FulfillReservation(ctx context.Context, reservationID uint64) (model.Loan, error) {
	const op = "fulfill_reservation"
	r, err := e.GetReservation(ctx, reservationID)
	if err != nil {
		return model.Loan{}, err
	}
	if r.Status != model.ReservationAvailable {
		return model.Loan{}, stateErr(op, "reservation %d is %s, not ready for pickup", reservationID, r.Status)
	}
	ent, err := e.entitlement(ctx, op, r.UserID)
	if err != nil {
		return model.Loan{}, err
	}
	unlock, err := e.lockKeys(ctx, op, userKey(r.UserID), bookKey(r.BookID))
	if err != nil {
		return model.Loan{}, err
	}
	defer unlock()

	var loan model.Loan
	err = e.inTx(ctx, op, func(ctx context.Context, tx *txScope) error {
		r, err = e.loadReservation(ctx, tx, op, reservationID, true)
		if err != nil {
			return err
		}
		if r.Status != model.ReservationAvailable {
			return stateErr(op, "reservation %d is %s, not ready for pickup", reservationID, r.Status)
		}
		book, err := e.loadBook(ctx, tx, op, r.BookID, true)
		if err != nil {
			return err
		}
		loan, err = e.checkoutTx(ctx, tx, op, ent, &book, 0, &r)
		return err
	})
	if err != nil {
		return model.Loan{}, err
	}
	e.log.Info("circulation: reservation fulfilled", "reservation_id", reservationID, "loan_id", loan.ID)
	return loan, nil
}

// ExpireOldReservations expires pickup holds past their deadline and
// hands each freed copy to the next member in line.  It returns the
// number of holds expired.
func (e *Engine) ExpireOldReservations(ctx context.Context) (int, error) {
	const op = "expire_reservations"
	start := time.Now()
	defer func() { sweepDuration.WithLabelValues("reservations").Observe(time.Since(start).Seconds()) }()

	now := e.now()
	var stale []model.Reservation
	err := e.inTx(ctx, op, func(ctx context.Context, tx *txScope) error {
		var err error
		stale, err = tx.ListHoldsExpiredBefore(ctx, now)
		return err
	})
	if err != nil {
		return 0, err
	}

	expired := 0
	var errs []error
	for _, r := range stale {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		ok, err := e.expireHold(ctx, r.ID, r.BookID, now)
		if err != nil {
			errs = append(errs, err)
			e.log.Error("circulation: expiring hold failed", "reservation_id", r.ID, "err", err)
			continue
		}
		if ok {
			expired++
		}
	}
	if expired > 0 || len(errs) > 0 {
		e.log.Info("circulation: reservation sweep done", "expired", expired, "failed", len(errs))
	}
	return expired, errors.Join(errs...)
}

func (e *Engine) expireHold(ctx context.Context, reservationID, bookID uint64, now time.Time) (bool, error) {
	const op = "expire_reservations"
	unlock, err := e.lockKeys(ctx, op, bookKey(bookID))
	if err != nil {
		return false, err
	}
	defer unlock()

	expired := false
	err = e.inTx(ctx, op, func(ctx context.Context, tx *txScope) error {
		expired = false
		r, err := e.loadReservation(ctx, tx, op, reservationID, true)
		if err != nil {
			return err
		}
		if r.Status != model.ReservationAvailable || r.AvailableUntil == nil || !r.AvailableUntil.Before(now) {
			return nil
		}
		r.Status = model.ReservationExpired
		r.CancelledAt = &now
		if err := tx.UpdateReservation(ctx, &r); err != nil {
			return err
		}
		book, err := e.loadBook(ctx, tx, op, bookID, true)
		if err != nil {
			return err
		}
		if err := e.releaseTx(ctx, tx, &book); err != nil {
			return err
		}
		expired = true
		return e.renumberTx(ctx, tx, bookID)
	})
	if err != nil || !expired {
		return false, err
	}
	reservationTransitions.WithLabelValues(string(model.ReservationExpired)).Inc()
	if _, err := e.promoteNextLocked(ctx, bookID); err != nil {
		e.log.Error("circulation: promotion after expiry failed", "book_id", bookID, "err", err)
	}
	return true, nil
}

// UpdateQueuePositions renumbers a title's PENDING reservations 1..n in
// reservation order.
func (e *Engine) UpdateQueuePositions(ctx context.Context, bookID uint64) error {
	const op = "update_queue_positions"
	unlock, err := e.lockKeys(ctx, op, bookKey(bookID))
	if err != nil {
		return err
	}
	defer unlock()
	return e.inTx(ctx, op, func(ctx context.Context, tx *txScope) error {
		if _, err := e.loadBook(ctx, tx, op, bookID, true); err != nil {
			return err
		}
		return e.renumberTx(ctx, tx, bookID)
	})
}

// renumberTx rewrites only the positions that changed.
func (e *Engine) renumberTx(ctx context.Context, tx store.Tx, bookID uint64) error {
	queue, err := tx.ListPendingQueue(ctx, bookID)
	if err != nil {
		return err
	}
	changed := make(map[uint64]uint32)
	for i, r := range queue {
		if want := uint32(i + 1); r.QueuePosition != want {
			changed[r.ID] = want
		}
	}
	if len(changed) == 0 {
		return nil
	}
	return tx.SetQueuePositions(ctx, changed)
}

// BookQueue returns a title's pickup holds followed by its PENDING
// queue in order.
func (e *Engine) BookQueue(ctx context.Context, bookID uint64) ([]model.Reservation, error) {
	const op = "book_queue"
	var out []model.Reservation
	err := e.inTx(ctx, op, func(ctx context.Context, tx *txScope) error {
		if _, err := e.loadBook(ctx, tx, op, bookID, false); err != nil {
			return err
		}
		holds, err := tx.ListReservations(ctx, model.ReservationFilter{
			BookID:   bookID,
			Statuses: []model.ReservationStatus{model.ReservationAvailable},
		})
		if err != nil {
			return err
		}
		queue, err := tx.ListPendingQueue(ctx, bookID)
		if err != nil {
			return err
		}
		out = append(holds, queue...)
		return nil
	})
	return out, err
}

// GetReservation returns a reservation by id.
func (e *Engine) GetReservation(ctx context.Context, reservationID uint64) (model.Reservation, error) {
	const op = "get_reservation"
	var r model.Reservation
	err := e.inTx(ctx, op, func(ctx context.Context, tx *txScope) error {
		var err error
		r, err = e.loadReservation(ctx, tx, op, reservationID, false)
		return err
	})
	return r, err
}

// ListReservations returns reservations matching f.
func (e *Engine) ListReservations(ctx context.Context, f model.ReservationFilter) ([]model.Reservation, error) {
	var out []model.Reservation
	err := e.inTx(ctx, "list_reservations", func(ctx context.Context, tx *txScope) error {
		var err error
		out, err = tx.ListReservations(ctx, f)
		return err
	})
	return out, err
}

// ListUserReservations returns a member's reservations. With activeOnly
// set, only queued requests and pickup holds are returned.
func (e *Engine) ListUserReservations(ctx context.Context, userID uint64, activeOnly bool) ([]model.Reservation, error) {
	f := model.ReservationFilter{UserID: userID}
	if activeOnly {
		f.Statuses = []model.ReservationStatus{model.ReservationPending, model.ReservationAvailable}
	}
	return e.ListReservations(ctx, f)
}

func (e *Engine) loadReservation(ctx context.Context, tx store.Tx, op string, id uint64, forUpdate bool) (model.Reservation, error) {
	var (
		r   model.Reservation
		err error
	)
	if forUpdate {
		r, err = tx.GetReservationForUpdate(ctx, id)
	} else {
		r, err = tx.GetReservation(ctx, id)
	}
	if errors.Is(err, store.ErrNotFound) {
		return r, notFoundErr(op, "reservation", id)
	}
	return r, err
}
