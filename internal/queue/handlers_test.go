package queue

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/logging"
	"github.com/iliyamo/library-circulation/internal/model"
)

type fakePayer struct {
	err   error
	calls []string
}

func (f *fakePayer) MarkFineAsPaid(_ context.Context, fineID uint64, amount decimal.Decimal, ref string) (model.Fine, error) {
	f.calls = append(f.calls, ref+":"+amount.String())
	if f.err != nil {
		return model.Fine{}, f.err
	}
	return model.Fine{ID: fineID, Status: model.FinePaid}, nil
}

func Test_PaymentHandler(t *testing.T) {
	body := []byte(`{"fine_id":4,"amount":"2.50","transaction_ref":"psp-991","paid_at":"2026-04-01T10:00:00Z"}`)

	testCases := []struct {
		name      string
		body      []byte
		payerErr  error
		wantErr   bool
		wantRetry bool
		wantCalls int
	}{
		{"applied", body, nil, false, false, 1},
		{"business rejection dropped", body, &circulation.Error{Kind: circulation.KindPolicyViolation, Reason: circulation.ReasonOverpayment}, false, false, 1},
		{"unknown fine dropped", body, &circulation.Error{Kind: circulation.KindNotFound}, false, false, 1},
		{"store outage retried", body, errors.New("connection refused"), true, true, 1},
		{"garbage", []byte(`{`), nil, true, false, 0},
		{"missing ref", []byte(`{"fine_id":4,"amount":"1"}`), nil, true, false, 0},
	}
	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			payer := &fakePayer{err: tt.payerErr}
			err := PaymentHandler(payer, logging.Discard())(context.Background(), tt.body)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantRetry, IsRetry(err))
			assert.Len(t, payer.calls, tt.wantCalls)
		})
	}
}

func Test_PaymentHandler_DecimalAmount(t *testing.T) {
	payer := &fakePayer{}
	err := PaymentHandler(payer, logging.Discard())(context.Background(),
		[]byte(`{"fine_id":1,"amount":"0.10","transaction_ref":"r"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"r:0.1"}, payer.calls)
}

func Test_NotificationLog(t *testing.T) {
	dir := t.TempDir()
	n := NewNotificationLog(filepath.Join(dir, "logs"))

	avail, err := json.Marshal(ReservationAvailableEvent{ReservationID: 3, UserID: 8, BookID: 2, BookTitle: "Dune", AvailableUntil: "2026-04-03T10:00:00Z"})
	require.NoError(t, err)
	require.NoError(t, n.AvailableHandler()(context.Background(), avail))

	overdue, err := json.Marshal(LoanOverdueEvent{LoanID: 5, UserID: 8, BookID: 2, DueDate: "2026-03-16", OverdueDays: 5, FineAmount: decimal.RequireFromString("2.5")})
	require.NoError(t, err)
	require.NoError(t, n.OverdueHandler()(context.Background(), overdue))

	assert.Error(t, n.OverdueHandler()(context.Background(), []byte("nope")))

	data, err := os.ReadFile(filepath.Join(dir, "logs", "notifications.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `reservation_id=3 | user_id=8 | book_id=2 | title="Dune" | pickup_by=2026-04-03T10:00:00Z`)
	assert.Contains(t, string(data), "loan_id=5")
	assert.Contains(t, string(data), "fine=2.50")
}

func Test_Retry(t *testing.T) {
	base := errors.New("boom")
	assert.Nil(t, Retry(nil))
	assert.True(t, IsRetry(Retry(base)))
	assert.ErrorIs(t, Retry(base), base)
	assert.False(t, IsRetry(base))
}
