package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// FineType classifies why a fine was raised.
type FineType string

const (
	FineOverdue FineType = "OVERDUE"
	FineLost    FineType = "LOST"
	FineDamaged FineType = "DAMAGED"
)

// Valid reports whether t is a known fine type.
func (t FineType) Valid() bool {
	return t == FineOverdue || t == FineLost || t == FineDamaged
}

// FineStatus is the settlement state of a fine.
type FineStatus string

const (
	FinePending       FineStatus = "PENDING"
	FinePartiallyPaid FineStatus = "PARTIALLY_PAID"
	FinePaid          FineStatus = "PAID"
	FineWaived        FineStatus = "WAIVED"
)

// IsSettled reports whether no further payment can be applied.
func (s FineStatus) IsSettled() bool {
	return s == FinePaid || s == FineWaived
}

// Fine is one monetary obligation tied to a loan.  A loan may carry
// several fines (an overdue fine plus a damage fine, for example) but at
// most one of each type.
//
// Invariant: AmountPaid <= Amount, and Status is PAID iff
// AmountPaid >= Amount (unless WAIVED).
type Fine struct {
	ID             uint64          `db:"id" json:"id"`
	LoanID         uint64          `db:"loan_id" json:"loan_id"`
	UserID         uint64          `db:"user_id" json:"user_id"`
	Type           FineType        `db:"fine_type" json:"type"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	AmountPaid     decimal.Decimal `db:"amount_paid" json:"amount_paid"`
	Status         FineStatus      `db:"status" json:"status"`
	Reason         *string         `db:"reason" json:"reason,omitempty"`
	WaivedBy       *uint64         `db:"waived_by" json:"waived_by,omitempty"`
	WaivedAt       *time.Time      `db:"waived_at" json:"waived_at,omitempty"`
	WaiverReason   *string         `db:"waiver_reason" json:"waiver_reason,omitempty"`
	TransactionRef *string         `db:"transaction_ref" json:"transaction_ref,omitempty"`
	PaidAt         *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// Outstanding returns the unpaid remainder of the fine.
func (f Fine) Outstanding() decimal.Decimal {
	if f.Status == FineWaived {
		return decimal.Zero
	}
	rem := f.Amount.Sub(f.AmountPaid)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

// SettleStatus derives the payment status from the amounts.  Waived
// fines keep their status.
func (f Fine) SettleStatus() FineStatus {
	switch {
	case f.Status == FineWaived:
		return FineWaived
	case f.AmountPaid.GreaterThanOrEqual(f.Amount):
		return FinePaid
	case f.AmountPaid.IsPositive():
		return FinePartiallyPaid
	default:
		return FinePending
	}
}
