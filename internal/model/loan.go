package model

import "time"

// LoanStatus is the lifecycle state of a loan.
type LoanStatus string

const (
	LoanCheckedOut LoanStatus = "CHECKED_OUT"
	LoanOverdue    LoanStatus = "OVERDUE"
	LoanReturned   LoanStatus = "RETURNED"
	LoanLost       LoanStatus = "LOST"
	LoanDamaged    LoanStatus = "DAMAGED"
)

// IsActive reports whether the copy is still out with the borrower.
func (s LoanStatus) IsActive() bool {
	return s == LoanCheckedOut || s == LoanOverdue
}

// IsReturnCondition reports whether s is a valid check-in condition.
func (s LoanStatus) IsReturnCondition() bool {
	return s == LoanReturned || s == LoanLost || s == LoanDamaged
}

// Loan records one checkout-to-return cycle of a single copy.  Loans
// are never deleted; terminal loans form the circulation audit trail.
//
// Fields:
//  ID           – primary key identifier.
//  UserID       – borrower.
//  BookID       – borrowed title.
//  CheckoutDate – when the copy left the shelf.
//  DueDate      – calendar day (UTC midnight) the copy is due.
//  ReturnDate   – when the copy came back (nil while active).
//  RenewalCount – renewals used so far.
//  MaxRenewals  – renewal cap captured at checkout.
//  Status       – CHECKED_OUT, OVERDUE, RETURNED, LOST or DAMAGED.
//  IsOverdue    – set by the overdue sweep, cleared at check-in.
//  OverdueDays  – chargeable days late as of the last sweep/check-in.
type Loan struct {
	ID           uint64     `db:"id" json:"id"`
	UserID       uint64     `db:"user_id" json:"user_id"`
	BookID       uint64     `db:"book_id" json:"book_id"`
	CheckoutDate time.Time  `db:"checkout_date" json:"checkout_date"`
	DueDate      time.Time  `db:"due_date" json:"due_date"`
	ReturnDate   *time.Time `db:"return_date" json:"return_date,omitempty"`
	RenewalCount uint32     `db:"renewal_count" json:"renewal_count"`
	MaxRenewals  uint32     `db:"max_renewals" json:"max_renewals"`
	Status       LoanStatus `db:"status" json:"status"`
	IsOverdue    bool       `db:"is_overdue" json:"is_overdue"`
	OverdueDays  uint32     `db:"overdue_days" json:"overdue_days"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// LoanFilter narrows loan listings.  Zero values mean "any".
type LoanFilter struct {
	UserID   uint64
	BookID   uint64
	Statuses []LoanStatus
	Limit    uint
}
