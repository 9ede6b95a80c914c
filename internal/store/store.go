// Package store defines the transactional persistence contract the
// circulation engine runs against.  Implementations live in
// internal/repository (MySQL) and internal/store/memory (in-process).
//
// Every engine operation executes inside Store.WithinTx.  Methods whose
// name ends in ForUpdate must take a row lock (or equivalent) that is
// held until the transaction finishes, so that concurrent transactions
// touching the same book or loan are serialized.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/iliyamo/library-circulation/internal/model"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrConflict signals a transient serialization failure (deadlock, lock
// wait timeout, stale version).  The whole transaction may be retried.
var ErrConflict = errors.New("store: conflict")

// ErrDuplicate is returned when a unique constraint rejects a write.
var ErrDuplicate = errors.New("store: duplicate")

// Store opens transactions.
type Store interface {
	// WithinTx runs fn in a transaction.  The transaction commits when fn
	// returns nil and rolls back otherwise; fn's error is returned as is.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of operations available inside a transaction.
type Tx interface {
	BookTx
	LoanTx
	ReservationTx
	FineTx
}

// BookTx covers the resource ledger rows.
type BookTx interface {
	CreateBook(ctx context.Context, b *model.Book) error
	GetBook(ctx context.Context, id uint64) (model.Book, error)
	GetBookForUpdate(ctx context.Context, id uint64) (model.Book, error)
	// ListBooks pages through books in id order.  A zero limit means all.
	ListBooks(ctx context.Context, limit, offset uint) ([]model.Book, error)
	// UpdateBookCounters writes total/available copies and the active flag,
	// bumping Version.  It fails with ErrConflict when the stored version
	// differs from b.Version.
	UpdateBookCounters(ctx context.Context, b *model.Book) error
}

// LoanTx covers loan rows.
type LoanTx interface {
	CreateLoan(ctx context.Context, l *model.Loan) error
	GetLoan(ctx context.Context, id uint64) (model.Loan, error)
	GetLoanForUpdate(ctx context.Context, id uint64) (model.Loan, error)
	UpdateLoan(ctx context.Context, l *model.Loan) error
	ListLoans(ctx context.Context, f model.LoanFilter) ([]model.Loan, error)
	CountLoans(ctx context.Context, f model.LoanFilter) (int, error)
	// ListLoansDueBefore returns active loans whose due date is strictly
	// before the given day, ordered by id.
	ListLoansDueBefore(ctx context.Context, day time.Time) ([]model.Loan, error)
}

// ReservationTx covers reservation rows.
type ReservationTx interface {
	CreateReservation(ctx context.Context, r *model.Reservation) error
	GetReservation(ctx context.Context, id uint64) (model.Reservation, error)
	GetReservationForUpdate(ctx context.Context, id uint64) (model.Reservation, error)
	UpdateReservation(ctx context.Context, r *model.Reservation) error
	ListReservations(ctx context.Context, f model.ReservationFilter) ([]model.Reservation, error)
	CountReservations(ctx context.Context, f model.ReservationFilter) (int, error)
	// ListPendingQueue returns PENDING reservations for a book ordered by
	// reserved_at, then id.
	ListPendingQueue(ctx context.Context, bookID uint64) ([]model.Reservation, error)
	// SetQueuePositions writes queue_position for the given ids in one go.
	SetQueuePositions(ctx context.Context, positions map[uint64]uint32) error
	// ListHoldsExpiredBefore returns AVAILABLE reservations whose pickup
	// deadline is strictly before t, ordered by available_until.
	ListHoldsExpiredBefore(ctx context.Context, t time.Time) ([]model.Reservation, error)
}

// FineTx covers fine rows.
type FineTx interface {
	CreateFine(ctx context.Context, f *model.Fine) error
	GetFine(ctx context.Context, id uint64) (model.Fine, error)
	GetFineForUpdate(ctx context.Context, id uint64) (model.Fine, error)
	UpdateFine(ctx context.Context, f *model.Fine) error
	// FindFineForUpdate returns the locked fine of the given type for a
	// loan, or ErrNotFound.
	FindFineForUpdate(ctx context.Context, loanID uint64, t model.FineType) (model.Fine, error)
	ListFines(ctx context.Context, userID uint64, statuses []model.FineStatus) ([]model.Fine, error)
}
