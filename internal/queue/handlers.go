package queue

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/model"
)

// FinePayer applies a confirmed payment to a fine.
type FinePayer interface {
	MarkFineAsPaid(ctx context.Context, fineID uint64, amount decimal.Decimal, transactionRef string) (model.Fine, error)
}

// PaymentHandler returns a Handler for payment.confirmed messages.
// Business rejections (unknown fine, overpayment, settled fine) are
// logged and dropped; transient failures are retried once.
func PaymentHandler(payer FinePayer, log *slog.Logger) Handler {
	return func(ctx context.Context, body []byte) error {
		var ev PaymentConfirmedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return fmt.Errorf("unmarshal payment: %w", err)
		}
		if ev.FineID == 0 || ev.TransactionRef == "" {
			return fmt.Errorf("payment event missing fine_id or transaction_ref")
		}
		f, err := payer.MarkFineAsPaid(ctx, ev.FineID, ev.Amount, ev.TransactionRef)
		if err != nil {
			switch circulation.KindOf(err) {
			case circulation.KindNotFound, circulation.KindPolicyViolation, circulation.KindInvalidStateTransition:
				log.Warn("queue: payment rejected", "fine_id", ev.FineID, "ref", ev.TransactionRef, "err", err)
				return nil
			}
			return Retry(err)
		}
		log.Info("queue: payment applied", "fine_id", f.ID, "status", f.Status, "ref", ev.TransactionRef)
		return nil
	}
}

// NotificationLog appends every notification it receives to a file in
// dir, one line per message.  It stands in for the mail/SMS gateway in
// development.
type NotificationLog struct {
	dir string
	mu  sync.Mutex
}

// NewNotificationLog writes into dir, creating it on first use.
func NewNotificationLog(dir string) *NotificationLog { return &NotificationLog{dir: dir} }

// AvailableHandler formats reservation.available messages.
func (n *NotificationLog) AvailableHandler() Handler {
	return func(_ context.Context, body []byte) error {
		var ev ReservationAvailableEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		return n.append(fmt.Sprintf("[%s] Reservation ready | reservation_id=%d | user_id=%d | book_id=%d | title=%q | pickup_by=%s\n",
			ev.PublishedAt, ev.ReservationID, ev.UserID, ev.BookID, ev.BookTitle, ev.AvailableUntil))
	}
}

// OverdueHandler formats loan.overdue messages.
func (n *NotificationLog) OverdueHandler() Handler {
	return func(_ context.Context, body []byte) error {
		var ev LoanOverdueEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		return n.append(fmt.Sprintf("[%s] Loan overdue | loan_id=%d | user_id=%d | book_id=%d | title=%q | due=%s | days=%d | fine=%s\n",
			ev.PublishedAt, ev.LoanID, ev.UserID, ev.BookID, ev.BookTitle, ev.DueDate, ev.OverdueDays, ev.FineAmount.StringFixed(2)))
	}
}

func (n *NotificationLog) append(line string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := os.MkdirAll(n.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(n.dir, "notifications.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}
