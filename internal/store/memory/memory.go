// Package memory is an in-process implementation of store.Store.  A
// single mutex serializes transactions, which trivially satisfies the
// per-row locking the engine expects.  Rollback restores a snapshot
// taken when the transaction began.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/library-circulation/internal/model"
	"github.com/iliyamo/library-circulation/internal/store"
)

type state struct {
	books        map[uint64]model.Book
	loans        map[uint64]model.Loan
	reservations map[uint64]model.Reservation
	fines        map[uint64]model.Fine
	seq          map[string]uint64 // per-table auto increment
}

func (s *state) clone() *state {
	c := &state{
		books:        make(map[uint64]model.Book, len(s.books)),
		loans:        make(map[uint64]model.Loan, len(s.loans)),
		reservations: make(map[uint64]model.Reservation, len(s.reservations)),
		fines:        make(map[uint64]model.Fine, len(s.fines)),
		seq:          make(map[string]uint64, len(s.seq)),
	}
	for k, v := range s.seq {
		c.seq[k] = v
	}
	for k, v := range s.books {
		c.books[k] = v
	}
	for k, v := range s.loans {
		c.loans[k] = v
	}
	for k, v := range s.reservations {
		c.reservations[k] = v
	}
	for k, v := range s.fines {
		c.fines[k] = v
	}
	return c
}

// Store keeps all circulation rows in memory.
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for created_at/updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		st: &state{
			books:        map[uint64]model.Book{},
			loans:        map[uint64]model.Loan{},
			reservations: map[uint64]model.Reservation{},
			fines:        map[uint64]model.Fine{},
			seq:          map[string]uint64{},
		},
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// WithinTx implements store.Store.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.st.clone()
	if err := fn(ctx, &tx{s: s}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

type tx struct{ s *Store }

func (t *tx) id(table string) uint64 {
	t.s.st.seq[table]++
	return t.s.st.seq[table]
}

// ---- books ----

func (t *tx) CreateBook(_ context.Context, b *model.Book) error {
	now := t.s.now()
	b.ID = t.id("books")
	b.Version = 1
	b.CreatedAt, b.UpdatedAt = now, now
	t.s.st.books[b.ID] = *b
	return nil
}

func (t *tx) GetBook(_ context.Context, id uint64) (model.Book, error) {
	b, ok := t.s.st.books[id]
	if !ok {
		return model.Book{}, store.ErrNotFound
	}
	return b, nil
}

func (t *tx) GetBookForUpdate(ctx context.Context, id uint64) (model.Book, error) {
	return t.GetBook(ctx, id)
}

func (t *tx) ListBooks(_ context.Context, limit, offset uint) ([]model.Book, error) {
	out := make([]model.Book, 0, len(t.s.st.books))
	for _, b := range t.s.st.books {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if offset >= uint(len(out)) {
		return []model.Book{}, nil
	}
	out = out[offset:]
	if limit > 0 && uint(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *tx) UpdateBookCounters(_ context.Context, b *model.Book) error {
	cur, ok := t.s.st.books[b.ID]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Version != b.Version {
		return store.ErrConflict
	}
	cur.TotalCopies = b.TotalCopies
	cur.AvailableCopies = b.AvailableCopies
	cur.Active = b.Active
	cur.Version++
	cur.UpdatedAt = t.s.now()
	t.s.st.books[b.ID] = cur
	*b = cur
	return nil
}

// ---- loans ----

func (t *tx) CreateLoan(_ context.Context, l *model.Loan) error {
	if l.Status.IsActive() {
		for _, o := range t.s.st.loans {
			if o.UserID == l.UserID && o.BookID == l.BookID && o.Status.IsActive() {
				return store.ErrDuplicate
			}
		}
	}
	now := t.s.now()
	l.ID = t.id("loans")
	l.CreatedAt, l.UpdatedAt = now, now
	t.s.st.loans[l.ID] = *l
	return nil
}

func (t *tx) GetLoan(_ context.Context, id uint64) (model.Loan, error) {
	l, ok := t.s.st.loans[id]
	if !ok {
		return model.Loan{}, store.ErrNotFound
	}
	return l, nil
}

func (t *tx) GetLoanForUpdate(ctx context.Context, id uint64) (model.Loan, error) {
	return t.GetLoan(ctx, id)
}

func (t *tx) UpdateLoan(_ context.Context, l *model.Loan) error {
	if _, ok := t.s.st.loans[l.ID]; !ok {
		return store.ErrNotFound
	}
	l.UpdatedAt = t.s.now()
	t.s.st.loans[l.ID] = *l
	return nil
}

func loanMatches(l model.Loan, f model.LoanFilter) bool {
	if f.UserID != 0 && l.UserID != f.UserID {
		return false
	}
	if f.BookID != 0 && l.BookID != f.BookID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if l.Status == s {
			return true
		}
	}
	return false
}

func (t *tx) ListLoans(_ context.Context, f model.LoanFilter) ([]model.Loan, error) {
	out := []model.Loan{}
	for _, l := range t.s.st.loans {
		if loanMatches(l, f) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if f.Limit > 0 && uint(len(out)) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (t *tx) CountLoans(ctx context.Context, f model.LoanFilter) (int, error) {
	f.Limit = 0
	ls, err := t.ListLoans(ctx, f)
	return len(ls), err
}

func (t *tx) ListLoansDueBefore(_ context.Context, day time.Time) ([]model.Loan, error) {
	out := []model.Loan{}
	for _, l := range t.s.st.loans {
		if l.Status.IsActive() && l.DueDate.Before(day) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- reservations ----

func (t *tx) CreateReservation(_ context.Context, r *model.Reservation) error {
	if r.Status.IsActive() {
		for _, o := range t.s.st.reservations {
			if o.UserID == r.UserID && o.BookID == r.BookID && o.Status.IsActive() {
				return store.ErrDuplicate
			}
		}
	}
	now := t.s.now()
	r.ID = t.id("reservations")
	r.CreatedAt, r.UpdatedAt = now, now
	t.s.st.reservations[r.ID] = *r
	return nil
}

func (t *tx) GetReservation(_ context.Context, id uint64) (model.Reservation, error) {
	r, ok := t.s.st.reservations[id]
	if !ok {
		return model.Reservation{}, store.ErrNotFound
	}
	return r, nil
}

func (t *tx) GetReservationForUpdate(ctx context.Context, id uint64) (model.Reservation, error) {
	return t.GetReservation(ctx, id)
}

func (t *tx) UpdateReservation(_ context.Context, r *model.Reservation) error {
	if _, ok := t.s.st.reservations[r.ID]; !ok {
		return store.ErrNotFound
	}
	r.UpdatedAt = t.s.now()
	t.s.st.reservations[r.ID] = *r
	return nil
}

func reservationMatches(r model.Reservation, f model.ReservationFilter) bool {
	if f.UserID != 0 && r.UserID != f.UserID {
		return false
	}
	if f.BookID != 0 && r.BookID != f.BookID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if r.Status == s {
			return true
		}
	}
	return false
}

func (t *tx) ListReservations(_ context.Context, f model.ReservationFilter) ([]model.Reservation, error) {
	out := []model.Reservation{}
	for _, r := range t.s.st.reservations {
		if reservationMatches(r, f) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if f.Limit > 0 && uint(len(out)) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (t *tx) CountReservations(ctx context.Context, f model.ReservationFilter) (int, error) {
	f.Limit = 0
	rs, err := t.ListReservations(ctx, f)
	return len(rs), err
}

func (t *tx) ListPendingQueue(_ context.Context, bookID uint64) ([]model.Reservation, error) {
	out := []model.Reservation{}
	for _, r := range t.s.st.reservations {
		if r.BookID == bookID && r.Status == model.ReservationPending {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReservedAt.Equal(out[j].ReservedAt) {
			return out[i].ReservedAt.Before(out[j].ReservedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *tx) SetQueuePositions(_ context.Context, positions map[uint64]uint32) error {
	for id, pos := range positions {
		r, ok := t.s.st.reservations[id]
		if !ok {
			return store.ErrNotFound
		}
		r.QueuePosition = pos
		t.s.st.reservations[id] = r
	}
	return nil
}

func (t *tx) ListHoldsExpiredBefore(_ context.Context, at time.Time) ([]model.Reservation, error) {
	out := []model.Reservation{}
	for _, r := range t.s.st.reservations {
		if r.Status == model.ReservationAvailable && r.AvailableUntil != nil && r.AvailableUntil.Before(at) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AvailableUntil.Equal(*out[j].AvailableUntil) {
			return out[i].AvailableUntil.Before(*out[j].AvailableUntil)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ---- fines ----

func (t *tx) CreateFine(_ context.Context, f *model.Fine) error {
	for _, o := range t.s.st.fines {
		if o.LoanID == f.LoanID && o.Type == f.Type {
			return store.ErrDuplicate
		}
	}
	now := t.s.now()
	f.ID = t.id("fines")
	f.CreatedAt, f.UpdatedAt = now, now
	t.s.st.fines[f.ID] = *f
	return nil
}

func (t *tx) GetFine(_ context.Context, id uint64) (model.Fine, error) {
	f, ok := t.s.st.fines[id]
	if !ok {
		return model.Fine{}, store.ErrNotFound
	}
	return f, nil
}

func (t *tx) GetFineForUpdate(ctx context.Context, id uint64) (model.Fine, error) {
	return t.GetFine(ctx, id)
}

func (t *tx) UpdateFine(_ context.Context, f *model.Fine) error {
	if _, ok := t.s.st.fines[f.ID]; !ok {
		return store.ErrNotFound
	}
	f.UpdatedAt = t.s.now()
	t.s.st.fines[f.ID] = *f
	return nil
}

func (t *tx) FindFineForUpdate(_ context.Context, loanID uint64, ft model.FineType) (model.Fine, error) {
	for _, f := range t.s.st.fines {
		if f.LoanID == loanID && f.Type == ft {
			return f, nil
		}
	}
	return model.Fine{}, store.ErrNotFound
}

func (t *tx) ListFines(_ context.Context, userID uint64, statuses []model.FineStatus) ([]model.Fine, error) {
	out := []model.Fine{}
	for _, f := range t.s.st.fines {
		if userID != 0 && f.UserID != userID {
			continue
		}
		if len(statuses) > 0 {
			match := false
			for _, s := range statuses {
				if f.Status == s {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
