// Package queue carries circulation events over RabbitMQ: member
// notifications go out, payment confirmations come in.
package queue

import (
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Queue names.  All queues are durable and fed through the default
// exchange.
const (
	ReservationAvailableQueue = "reservation.available"
	LoanOverdueQueue          = "loan.overdue"
	PaymentConfirmedQueue     = "payment.confirmed"
)

// ReservationAvailableEvent is published when a hold is ready for
// pickup.
type ReservationAvailableEvent struct {
	ReservationID  uint64 `json:"reservation_id"`
	UserID         uint64 `json:"user_id"`
	BookID         uint64 `json:"book_id"`
	BookTitle      string `json:"book_title"`
	HoldToken      string `json:"hold_token"`
	AvailableUntil string `json:"available_until"`
	PublishedAt    string `json:"published_at"`
}

// LoanOverdueEvent is published when a loan is first found late and
// when a late copy comes back.
type LoanOverdueEvent struct {
	LoanID      uint64          `json:"loan_id"`
	UserID      uint64          `json:"user_id"`
	BookID      uint64          `json:"book_id"`
	BookTitle   string          `json:"book_title"`
	DueDate     string          `json:"due_date"`
	OverdueDays int             `json:"overdue_days"`
	FineAmount  decimal.Decimal `json:"fine_amount"`
	PublishedAt string          `json:"published_at"`
}

// PaymentConfirmedEvent is consumed from the payment provider's bridge.
// TransactionRef makes redelivery harmless.
type PaymentConfirmedEvent struct {
	FineID         uint64          `json:"fine_id"`
	Amount         decimal.Decimal `json:"amount"`
	TransactionRef string          `json:"transaction_ref"`
	PaidAt         time.Time       `json:"paid_at"`
}
