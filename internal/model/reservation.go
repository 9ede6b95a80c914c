package model

import "time"

// ReservationStatus is the lifecycle state of a hold request.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "PENDING"
	ReservationAvailable ReservationStatus = "AVAILABLE"
	ReservationFulfilled ReservationStatus = "FULFILLED"
	ReservationCancelled ReservationStatus = "CANCELLED"
	ReservationExpired   ReservationStatus = "EXPIRED"
)

// IsActive reports whether the reservation still occupies the queue
// or a pickup hold.
func (s ReservationStatus) IsActive() bool {
	return s == ReservationPending || s == ReservationAvailable
}

// Reservation is a queued hold request for a title that had no free
// copy at request time.
//
// Fields:
//  ID             – primary key identifier.
//  UserID         – member waiting for the book.
//  BookID         – requested title.
//  Status         – PENDING, AVAILABLE, FULFILLED, CANCELLED or EXPIRED.
//  ReservedAt     – queue order key.
//  AvailableAt    – when the reservation was promoted.
//  AvailableUntil – pickup deadline of the hold.
//  FulfilledAt    – when the hold turned into a loan.
//  CancelledAt    – when it was cancelled or expired.
//  QueuePosition  – 1-based rank among PENDING reservations (0 otherwise).
//  HoldToken      – opaque reference handed to the member on promotion.
//  LoanID         – loan created at fulfillment.
type Reservation struct {
	ID             uint64            `db:"id" json:"id"`
	UserID         uint64            `db:"user_id" json:"user_id"`
	BookID         uint64            `db:"book_id" json:"book_id"`
	Status         ReservationStatus `db:"status" json:"status"`
	ReservedAt     time.Time         `db:"reserved_at" json:"reserved_at"`
	AvailableAt    *time.Time        `db:"available_at" json:"available_at,omitempty"`
	AvailableUntil *time.Time        `db:"available_until" json:"available_until,omitempty"`
	FulfilledAt    *time.Time        `db:"fulfilled_at" json:"fulfilled_at,omitempty"`
	CancelledAt    *time.Time        `db:"cancelled_at" json:"cancelled_at,omitempty"`
	QueuePosition  uint32            `db:"queue_position" json:"queue_position,omitempty"`
	HoldToken      *string           `db:"hold_token" json:"hold_token,omitempty"`
	LoanID         *uint64           `db:"loan_id" json:"loan_id,omitempty"`
	CreatedAt      time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time         `db:"updated_at" json:"updated_at"`
}

// ReservationFilter narrows reservation listings.  Zero values mean "any".
type ReservationFilter struct {
	UserID   uint64
	BookID   uint64
	Statuses []ReservationStatus
	Limit    uint
}
