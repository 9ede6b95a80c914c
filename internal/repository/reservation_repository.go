package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/iliyamo/library-circulation/internal/model"
)

var reservationColumns = []any{
	"id", "user_id", "book_id", "status", "reserved_at", "available_at", "available_until",
	"fulfilled_at", "cancelled_at", "queue_position", "hold_token", "loan_id", "created_at", "updated_at",
}

func reservationsQuery() *goqu.SelectDataset {
	return dialect.From("reservations").Select(reservationColumns...)
}

func reservationFilter(ds *goqu.SelectDataset, f model.ReservationFilter) *goqu.SelectDataset {
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

// CreateReservation inserts a reservation.  uq_reservations_active turns
// a second active reservation for the same user and book into
// store.ErrDuplicate.
func (r *txRepo) CreateReservation(ctx context.Context, res *model.Reservation) error {
	const q = `INSERT INTO reservations
		(user_id, book_id, status, reserved_at, available_at, available_until, fulfilled_at,
		 cancelled_at, queue_position, hold_token, loan_id)
		VALUES (:user_id, :book_id, :status, :reserved_at, :available_at, :available_until, :fulfilled_at,
		 :cancelled_at, :queue_position, :hold_token, :loan_id)`
	id, err := r.insert(ctx, q, res)
	if err != nil {
		return err
	}
	got, err := r.GetReservation(ctx, id)
	if err != nil {
		return err
	}
	*res = got
	return nil
}

func (r *txRepo) GetReservation(ctx context.Context, id uint64) (model.Reservation, error) {
	var res model.Reservation
	err := r.get(ctx, &res, reservationsQuery().Where(goqu.C("id").Eq(id)))
	return res, err
}

func (r *txRepo) GetReservationForUpdate(ctx context.Context, id uint64) (model.Reservation, error) {
	var res model.Reservation
	err := r.get(ctx, &res, reservationsQuery().Where(goqu.C("id").Eq(id)).ForUpdate(exp.Wait))
	return res, err
}

// UpdateReservation writes every mutable reservation column.
func (r *txRepo) UpdateReservation(ctx context.Context, res *model.Reservation) error {
	const q = `UPDATE reservations
		SET status = :status, available_at = :available_at, available_until = :available_until,
		    fulfilled_at = :fulfilled_at, cancelled_at = :cancelled_at, queue_position = :queue_position,
		    hold_token = :hold_token, loan_id = :loan_id
		WHERE id = :id`
	if err := r.update(ctx, q, res); err != nil {
		return err
	}
	res.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *txRepo) ListReservations(ctx context.Context, f model.ReservationFilter) ([]model.Reservation, error) {
	ds := reservationFilter(reservationsQuery(), f).Order(goqu.C("id").Asc())
	if f.Limit > 0 {
		ds = ds.Limit(f.Limit)
	}
	out := []model.Reservation{}
	err := r.selectAll(ctx, &out, ds)
	return out, err
}

func (r *txRepo) CountReservations(ctx context.Context, f model.ReservationFilter) (int, error) {
	return r.count(ctx, reservationFilter(dialect.From("reservations"), f))
}

// ListPendingQueue returns the waiting line for a book, oldest first.
// The rows are locked so concurrent renumbering serializes.
func (r *txRepo) ListPendingQueue(ctx context.Context, bookID uint64) ([]model.Reservation, error) {
	ds := reservationsQuery().
		Where(
			goqu.C("book_id").Eq(bookID),
			goqu.C("status").Eq(string(model.ReservationPending)),
		).
		Order(goqu.C("reserved_at").Asc(), goqu.C("id").Asc()).
		ForUpdate(exp.Wait)
	out := []model.Reservation{}
	err := r.selectAll(ctx, &out, ds)
	return out, err
}

// SetQueuePositions rewrites queue_position for several rows with one
// UPDATE ... CASE statement.
func (r *txRepo) SetQueuePositions(ctx context.Context, positions map[uint64]uint32) error {
	if len(positions) == 0 {
		return nil
	}
	ids := make([]uint64, 0, len(positions))
	for id := range positions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	c := goqu.Case().Value(goqu.C("id"))
	for _, id := range ids {
		c = c.When(id, positions[id])
	}
	q, args, err := dialect.Update("reservations").
		Set(goqu.Record{"queue_position": c}).
		Where(goqu.C("id").In(ids)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	_, err = r.tx.ExecContext(ctx, q, args...)
	return mapError(err)
}

// ListHoldsExpiredBefore feeds the reservation sweep.
func (r *txRepo) ListHoldsExpiredBefore(ctx context.Context, t time.Time) ([]model.Reservation, error) {
	ds := reservationsQuery().
		Where(
			goqu.C("status").Eq(string(model.ReservationAvailable)),
			goqu.C("available_until").Lt(t),
		).
		Order(goqu.C("available_until").Asc(), goqu.C("id").Asc())
	out := []model.Reservation{}
	err := r.selectAll(ctx, &out, ds)
	return out, err
}
