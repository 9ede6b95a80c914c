package circulation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/library-circulation/internal/config"
	"github.com/iliyamo/library-circulation/internal/logging"
	"github.com/iliyamo/library-circulation/internal/model"
	"github.com/iliyamo/library-circulation/internal/store/memory"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingNotifier struct {
	mu        sync.Mutex
	available []AvailableNotice
	overdue   []OverdueNotice
}

func (n *recordingNotifier) NotifyAvailable(_ context.Context, a AvailableNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.available = append(n.available, a)
	return nil
}

func (n *recordingNotifier) NotifyOverdue(_ context.Context, o OverdueNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.overdue = append(n.overdue, o)
	return nil
}

func (n *recordingNotifier) availableFor() []uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]uint64, 0, len(n.available))
	for _, a := range n.available {
		out = append(out, a.UserID)
	}
	return out
}

// failingNotifier rejects every notice and counts the attempts.
type failingNotifier struct {
	calls atomic.Int32
}

func (n *failingNotifier) NotifyAvailable(context.Context, AvailableNotice) error {
	n.calls.Add(1)
	return errors.New("broker down")
}

func (n *failingNotifier) NotifyOverdue(context.Context, OverdueNotice) error {
	n.calls.Add(1)
	return errors.New("broker down")
}

type fixture struct {
	e     *Engine
	clock *testClock
	notes *recordingNotifier
	ents  *StaticEntitlements
}

const day = 24 * time.Hour

func newFixture(t *testing.T) *fixture {
	t.Helper()
	notes := &recordingNotifier{}
	f := newFixtureWith(t, notes)
	f.notes = notes
	return f
}

func newFixtureWith(t *testing.T, notifier Notifier) *fixture {
	t.Helper()
	clk := &testClock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	ents := &StaticEntitlements{PlanName: "standard", MaxBooksAllowed: 3, MaxDaysPerBook: 14, Denied: map[uint64]bool{}}

	p := config.DefaultPolicy()
	p.RetryBaseDelay = time.Millisecond

	e, err := New(Deps{
		Store:        memory.New(memory.WithClock(clk.Now)),
		Entitlements: ents,
		Notifier:     notifier,
		Logger:       logging.Discard(),
	}, p, WithClock(clk.Now))
	require.NoError(t, err)
	t.Cleanup(e.Wait)
	return &fixture{e: e, clock: clk, ents: ents}
}

func (f *fixture) book(t *testing.T, copies uint32) model.Book {
	t.Helper()
	b, err := f.e.RegisterBook(context.Background(), "The Left Hand of Darkness", copies)
	require.NoError(t, err)
	return b
}

func (f *fixture) bookState(t *testing.T, id uint64) model.Book {
	t.Helper()
	b, err := f.e.GetBook(context.Background(), id)
	require.NoError(t, err)
	return b
}

// assertLedger checks that copies out equal active loans plus pickup
// holds, and that PENDING positions are exactly 1..n.
func (f *fixture) assertLedger(t *testing.T, bookID uint64) {
	t.Helper()
	ctx := context.Background()
	b := f.bookState(t, bookID)
	assert.LessOrEqual(t, b.AvailableCopies, b.TotalCopies)

	loans, err := f.e.ListLoans(ctx, model.LoanFilter{BookID: bookID, Statuses: activeLoanStatuses})
	require.NoError(t, err)
	holds, err := f.e.ListReservations(ctx, model.ReservationFilter{BookID: bookID, Statuses: []model.ReservationStatus{model.ReservationAvailable}})
	require.NoError(t, err)
	assert.Equal(t, int(b.CopiesOut()), len(loans)+len(holds), "copies out vs loans+holds")

	queue, err := f.e.BookQueue(ctx, bookID)
	require.NoError(t, err)
	pos := uint32(0)
	for _, r := range queue {
		if r.Status != model.ReservationPending {
			continue
		}
		pos++
		assert.Equal(t, pos, r.QueuePosition, "reservation %d", r.ID)
	}
}

func Test_New_Validates(t *testing.T) {
	_, err := New(Deps{}, config.DefaultPolicy())
	assert.Error(t, err)

	p := config.DefaultPolicy()
	p.RenewalDays = 0
	_, err = New(Deps{Store: memory.New(), Entitlements: StaticEntitlements{}}, p)
	assert.Error(t, err)
}

func Test_Ledger_ClaimAndRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.book(t, 1)

	ok, err := f.e.TryClaim(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.e.TryClaim(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, f.e.Release(ctx, b.ID))
	require.NoError(t, f.e.Release(ctx, b.ID))
	assert.Equal(t, uint32(1), f.bookState(t, b.ID).AvailableCopies)

	_, err = f.e.TryClaim(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func Test_Ledger_AdjustCopies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.book(t, 1)

	_, err := f.e.Checkout(ctx, 1, b.ID, 0)
	require.NoError(t, err)
	_, err = f.e.CreateReservation(ctx, 2, b.ID)
	require.NoError(t, err)

	_, err = f.e.AdjustCopies(ctx, b.ID, -1)
	assert.Equal(t, KindPolicyViolation, KindOf(err))

	got, err := f.e.AdjustCopies(ctx, b.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), got.TotalCopies)
	assert.Equal(t, uint32(1), got.AvailableCopies, "one new copy goes to the waiting member")

	f.e.Wait()
	assert.Equal(t, []uint64{2}, f.notes.availableFor())
	f.assertLedger(t, b.ID)
}

func Test_Ledger_InactiveBook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.book(t, 1)

	_, err := f.e.SetBookActive(ctx, b.ID, false)
	require.NoError(t, err)

	_, err = f.e.Checkout(ctx, 1, b.ID, 0)
	assert.ErrorIs(t, err, ErrResourceUnavailable)
	assert.Equal(t, ReasonBookInactive, ReasonOf(err))

	_, err = f.e.SetBookActive(ctx, b.ID, true)
	require.NoError(t, err)
	_, err = f.e.Checkout(ctx, 1, b.ID, 0)
	assert.NoError(t, err)
}

func Test_FailedNotifications_DoNotUndoTransitions(t *testing.T) {
	notifier := &failingNotifier{}
	f := newFixtureWith(t, notifier)
	ctx := context.Background()
	b := f.book(t, 1)

	l, err := f.e.Checkout(ctx, 1, b.ID, 0)
	require.NoError(t, err)
	r, err := f.e.CreateReservation(ctx, 2, b.ID)
	require.NoError(t, err)

	f.clock.Advance(20 * day)
	res, err := f.e.RunOverdueSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.MarkedOverdue)
	l, err = f.e.GetLoan(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LoanOverdue, l.Status)

	returned, err := f.e.Checkin(ctx, l.ID, model.LoanReturned)
	require.NoError(t, err)
	assert.Equal(t, model.LoanReturned, returned.Status)
	assert.NotZero(t, returned.OverdueDays)

	r, err = f.e.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationAvailable, r.Status)

	fines, err := f.e.ListUserFines(ctx, 1)
	require.NoError(t, err)
	require.Len(t, fines, 1)
	assert.Equal(t, model.FineOverdue, fines[0].Type)

	f.e.Wait()
	assert.GreaterOrEqual(t, notifier.calls.Load(), int32(3), "overdue, late return and promotion notices were attempted")
	f.assertLedger(t, b.ID)
}
