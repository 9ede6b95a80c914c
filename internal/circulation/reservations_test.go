package circulation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/library-circulation/internal/model"
)

// queuedBook returns a single-copy book lent to member 1 with members
// 2..n+1 queued in that order.
func (f *fixture) queuedBook(t *testing.T, n int) (model.Book, model.Loan, []model.Reservation) {
	t.Helper()
	ctx := context.Background()
	b := f.book(t, 1)
	l, err := f.e.Checkout(ctx, 1, b.ID, 0)
	require.NoError(t, err)

	var rs []model.Reservation
	for i := 0; i < n; i++ {
		f.clock.Advance(time.Minute)
		r, err := f.e.CreateReservation(ctx, uint64(i+2), b.ID)
		require.NoError(t, err)
		assert.Equal(t, uint32(i+1), r.QueuePosition)
		rs = append(rs, r)
	}
	return b, l, rs
}

func Test_CreateReservation_Preconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, _, _ := f.queuedBook(t, 1)

	free := f.book(t, 1)
	_, err := f.e.CreateReservation(ctx, 5, free.ID)
	assert.ErrorIs(t, err, ErrPolicyViolation)
	assert.Equal(t, ReasonCopyAvailable, ReasonOf(err))

	_, err = f.e.CreateReservation(ctx, 2, b.ID)
	assert.Equal(t, ReasonDuplicateReservation, ReasonOf(err))

	_, err = f.e.CreateReservation(ctx, 1, b.ID)
	assert.Equal(t, ReasonAlreadyOnLoan, ReasonOf(err))

	_, err = f.e.CreateReservation(ctx, 5, 4242)
	assert.ErrorIs(t, err, ErrNotFound)
}

func Test_CreateReservation_Limit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < f.e.Policy().MaxActiveReservations; i++ {
		b := f.book(t, 1)
		_, err := f.e.Checkout(ctx, 100+uint64(i), b.ID, 0)
		require.NoError(t, err)
		_, err = f.e.CreateReservation(ctx, 9, b.ID)
		require.NoError(t, err)
	}
	b := f.book(t, 1)
	_, err := f.e.Checkout(ctx, 50, b.ID, 0)
	require.NoError(t, err)
	_, err = f.e.CreateReservation(ctx, 9, b.ID)
	assert.Equal(t, ReasonReservationLimit, ReasonOf(err))
}

func Test_CancelReservation_RenumbersQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, _, rs := f.queuedBook(t, 4)

	_, err := f.e.CancelReservation(ctx, rs[1].ID, Actor{UserID: 99})
	assert.ErrorIs(t, err, ErrForbidden)

	cancelled, err := f.e.CancelReservation(ctx, rs[1].ID, Actor{UserID: rs[1].UserID})
	require.NoError(t, err)
	assert.Equal(t, model.ReservationCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)

	_, err = f.e.CancelReservation(ctx, rs[1].ID, Actor{UserID: 1, Librarian: true})
	assert.ErrorIs(t, err, ErrInvalidStateTransition)

	queue, err := f.e.BookQueue(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, queue, 3)
	assert.Equal(t, []uint64{rs[0].ID, rs[2].ID, rs[3].ID}, []uint64{queue[0].ID, queue[1].ID, queue[2].ID})
	f.assertLedger(t, b.ID)

	_, err = f.e.CancelReservation(ctx, rs[0].ID, Actor{UserID: 500, Librarian: true})
	require.NoError(t, err)
	f.assertLedger(t, b.ID)
}

func Test_CancelHold_PromotesNext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, l, rs := f.queuedBook(t, 2)

	_, err := f.e.Checkin(ctx, l.ID, model.LoanReturned)
	require.NoError(t, err)

	_, err = f.e.CancelReservation(ctx, rs[0].ID, Actor{UserID: rs[0].UserID})
	require.NoError(t, err)

	next, err := f.e.GetReservation(ctx, rs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationAvailable, next.Status)
	assert.Equal(t, uint32(0), f.bookState(t, b.ID).AvailableCopies)

	f.e.Wait()
	assert.ElementsMatch(t, []uint64{rs[0].UserID, rs[1].UserID}, f.notes.availableFor())
	f.assertLedger(t, b.ID)
}

func Test_EarmarkedCopy_OnlyForHolder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, l, rs := f.queuedBook(t, 1)

	_, err := f.e.Checkin(ctx, l.ID, model.LoanReturned)
	require.NoError(t, err)

	_, err = f.e.Checkout(ctx, 42, b.ID, 0)
	assert.ErrorIs(t, err, ErrResourceUnavailable, "the returned copy is held for the queue head")

	loan, err := f.e.Checkout(ctx, rs[0].UserID, b.ID, 0)
	require.NoError(t, err)

	r, err := f.e.GetReservation(ctx, rs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationFulfilled, r.Status)
	require.NotNil(t, r.LoanID)
	assert.Equal(t, loan.ID, *r.LoanID)
	f.assertLedger(t, b.ID)
}

func Test_FulfillReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, l, rs := f.queuedBook(t, 2)

	_, err := f.e.FulfillReservation(ctx, rs[0].ID)
	assert.ErrorIs(t, err, ErrInvalidStateTransition, "still pending")

	_, err = f.e.Checkin(ctx, l.ID, model.LoanReturned)
	require.NoError(t, err)

	loan, err := f.e.FulfillReservation(ctx, rs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, rs[0].UserID, loan.UserID)
	assert.Equal(t, model.LoanCheckedOut, loan.Status)

	r, err := f.e.GetReservation(ctx, rs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationFulfilled, r.Status)
	assert.NotNil(t, r.FulfilledAt)

	_, err = f.e.FulfillReservation(ctx, rs[0].ID)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	f.assertLedger(t, b.ID)
}

func Test_FulfillReservation_FailureKeepsHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ents.MaxBooksAllowed = 1
	b, l, rs := f.queuedBook(t, 1)

	other := f.book(t, 1)
	_, err := f.e.Checkout(ctx, rs[0].UserID, other.ID, 0)
	require.NoError(t, err)

	_, err = f.e.Checkin(ctx, l.ID, model.LoanReturned)
	require.NoError(t, err)

	_, err = f.e.FulfillReservation(ctx, rs[0].ID)
	assert.Equal(t, ReasonLoanLimitReached, ReasonOf(err))

	r, err := f.e.GetReservation(ctx, rs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationAvailable, r.Status)
	assert.Equal(t, uint32(0), f.bookState(t, b.ID).AvailableCopies)
	f.assertLedger(t, b.ID)
}

func Test_ExpireOldReservations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, l, rs := f.queuedBook(t, 2)

	_, err := f.e.Checkin(ctx, l.ID, model.LoanReturned)
	require.NoError(t, err)

	f.clock.Advance(47 * time.Hour)
	n, err := f.e.ExpireOldReservations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.clock.Advance(2 * time.Hour)
	n, err = f.e.ExpireOldReservations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	first, err := f.e.GetReservation(ctx, rs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationExpired, first.Status)
	second, err := f.e.GetReservation(ctx, rs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationAvailable, second.Status)
	f.assertLedger(t, b.ID)

	f.clock.Advance(49 * time.Hour)
	n, err = f.e.ExpireOldReservations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, uint32(1), f.bookState(t, b.ID).AvailableCopies, "empty queue returns the copy to the shelf")

	n, err = f.e.ExpireOldReservations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	f.assertLedger(t, b.ID)
}

func Test_PromoteNext_NoopWithoutCopy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, _, rs := f.queuedBook(t, 1)

	r, err := f.e.PromoteNext(ctx, b.ID)
	require.NoError(t, err)
	assert.Nil(t, r)

	got, err := f.e.GetReservation(ctx, rs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationPending, got.Status)
	require.NoError(t, f.e.UpdateQueuePositions(ctx, b.ID))
	f.assertLedger(t, b.ID)
}

func Test_UserQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, l, rs := f.queuedBook(t, 1)

	other := f.book(t, 2)
	_, err := f.e.Checkout(ctx, 1, other.ID, 0)
	require.NoError(t, err)

	active, err := f.e.ListUserActiveLoans(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	_, err = f.e.Checkin(ctx, l.ID, model.LoanReturned)
	require.NoError(t, err)
	active, err = f.e.ListUserActiveLoans(ctx, 1)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, other.ID, active[0].BookID)

	mine, err := f.e.ListUserReservations(ctx, rs[0].UserID, true)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, model.ReservationAvailable, mine[0].Status)

	_, err = f.e.CancelReservation(ctx, rs[0].ID, Actor{UserID: rs[0].UserID})
	require.NoError(t, err)
	mine, err = f.e.ListUserReservations(ctx, rs[0].UserID, true)
	require.NoError(t, err)
	assert.Empty(t, mine)
	all, err := f.e.ListUserReservations(ctx, rs[0].UserID, false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, model.ReservationCancelled, all[0].Status)
	f.assertLedger(t, b.ID)
}
