package circulation

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/library-circulation/internal/model"
)

// AvailableNotice tells a member their reservation is ready for pickup.
type AvailableNotice struct {
	ReservationID  uint64    `json:"reservation_id"`
	UserID         uint64    `json:"user_id"`
	BookID         uint64    `json:"book_id"`
	BookTitle      string    `json:"book_title"`
	HoldToken      string    `json:"hold_token"`
	AvailableUntil time.Time `json:"available_until"`
}

// OverdueNotice tells a member a loan is past due.
type OverdueNotice struct {
	LoanID      uint64          `json:"loan_id"`
	UserID      uint64          `json:"user_id"`
	BookID      uint64          `json:"book_id"`
	BookTitle   string          `json:"book_title"`
	DueDate     time.Time       `json:"due_date"`
	OverdueDays int             `json:"overdue_days"`
	FineAmount  decimal.Decimal `json:"fine_amount"`
}

// Notifier delivers member notifications.  Delivery happens after the
// state change has committed and failures never undo it.
type Notifier interface {
	NotifyAvailable(ctx context.Context, n AvailableNotice) error
	NotifyOverdue(ctx context.Context, n OverdueNotice) error
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) NotifyAvailable(context.Context, AvailableNotice) error { return nil }
func (NopNotifier) NotifyOverdue(context.Context, OverdueNotice) error     { return nil }

// EntitlementProvider resolves a member's active subscription limits.
// It returns ErrNoEntitlement when the member has none.
type EntitlementProvider interface {
	ActiveEntitlement(ctx context.Context, userID uint64) (model.Entitlement, error)
}

// StaticEntitlements grants the same limits to every member.  Useful in
// development and tests.
type StaticEntitlements struct {
	PlanName        string
	MaxBooksAllowed uint32
	MaxDaysPerBook  uint32
	// Denied members have no active subscription.
	Denied map[uint64]bool
}

func (s StaticEntitlements) ActiveEntitlement(_ context.Context, userID uint64) (model.Entitlement, error) {
	if s.Denied[userID] {
		return model.Entitlement{}, ErrNoEntitlement
	}
	return model.Entitlement{
		UserID:          userID,
		PlanName:        s.PlanName,
		MaxBooksAllowed: s.MaxBooksAllowed,
		MaxDaysPerBook:  s.MaxDaysPerBook,
	}, nil
}
