package model

import "time"

// Book is the circulation view of a catalog title: how many physical
// copies exist and how many are on the shelf right now.  Catalog fields
// (title, author, genre) live elsewhere; only Title is carried so that
// notifications can name the book.
//
// Fields:
//  ID              – primary key identifier.
//  Title           – display title used in notifications.
//  TotalCopies     – copies owned by the library.
//  AvailableCopies – copies that can be handed out (0..TotalCopies).
//  Active          – inactive books cannot be checked out.
//  Version         – bumped on every counter change.
type Book struct {
	ID              uint64    `db:"id" json:"id"`
	Title           string    `db:"title" json:"title"`
	TotalCopies     uint32    `db:"total_copies" json:"total_copies"`
	AvailableCopies uint32    `db:"available_copies" json:"available_copies"`
	Active          bool      `db:"is_active" json:"active"`
	Version         uint32    `db:"version" json:"-"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// CopiesOut returns the number of copies not on the shelf (on loan or
// earmarked for a reservation pickup).
func (b Book) CopiesOut() uint32 {
	if b.AvailableCopies > b.TotalCopies {
		return 0
	}
	return b.TotalCopies - b.AvailableCopies
}
