package circulation

import (
	"context"
	"errors"
	"strings"

	"github.com/iliyamo/library-circulation/internal/model"
	"github.com/iliyamo/library-circulation/internal/store"
)

// RegisterBook adds a title with copies copies, all on the shelf.
func (e *Engine) RegisterBook(ctx context.Context, title string, copies uint32) (model.Book, error) {
	const op = "register_book"
	title = strings.TrimSpace(title)
	if title == "" {
		return model.Book{}, policyErr(op, ReasonInvalidCopies, "title is required")
	}
	if copies == 0 {
		return model.Book{}, policyErr(op, ReasonInvalidCopies, "a book needs at least one copy")
	}
	b := model.Book{Title: title, TotalCopies: copies, AvailableCopies: copies, Active: true}
	err := e.inTx(ctx, op, func(ctx context.Context, tx *txScope) error {
		return tx.CreateBook(ctx, &b)
	})
	if err != nil {
		return model.Book{}, err
	}
	e.log.Info("circulation: book registered", "book_id", b.ID, "copies", copies)
	return b, nil
}

// GetBook returns the ledger row for a title.
func (e *Engine) GetBook(ctx context.Context, bookID uint64) (model.Book, error) {
	const op = "get_book"
	var b model.Book
	err := e.inTx(ctx, op, func(ctx context.Context, tx *txScope) error {
		var err error
		b, err = e.loadBook(ctx, tx, op, bookID, false)
		return err
	})
	return b, err
}

// ListBooks pages through the ledger.
func (e *Engine) ListBooks(ctx context.Context, limit, offset uint) ([]model.Book, error) {
	var out []model.Book
	err := e.inTx(ctx, "list_books", func(ctx context.Context, tx *txScope) error {
		var err error
		out, err = tx.ListBooks(ctx, limit, offset)
		return err
	})
	return out, err
}

// AdjustCopies adds (delta > 0) or withdraws (delta < 0) copies of a
// title.  Copies currently out on loan or held for pickup cannot be
// withdrawn.  New copies go to the head of the reservation queue first.
func (e *Engine) AdjustCopies(ctx context.Context, bookID uint64, delta int) (model.Book, error) {
	const op = "adjust_copies"
	unlock, err := e.lockKeys(ctx, op, bookKey(bookID))
	if err != nil {
		return model.Book{}, err
	}
	defer unlock()

	var b model.Book
	err = e.inTx(ctx, op, func(ctx context.Context, tx *txScope) error {
		b, err = e.loadBook(ctx, tx, op, bookID, true)
		if err != nil {
			return err
		}
		total := int64(b.TotalCopies) + int64(delta)
		avail := int64(b.AvailableCopies) + int64(delta)
		if total < 1 || avail < 0 {
			return policyErr(op, ReasonInvalidCopies,
				"cannot withdraw %d copies of book %d: %d on the shelf", -delta, bookID, b.AvailableCopies)
		}
		b.TotalCopies, b.AvailableCopies = uint32(total), uint32(avail)
		return tx.UpdateBookCounters(ctx, &b)
	})
	if err != nil {
		return model.Book{}, err
	}
	e.log.Info("circulation: copies adjusted", "book_id", bookID, "delta", delta,
		"total", b.TotalCopies, "available", b.AvailableCopies)
	if delta > 0 {
		if err := e.promoteWhileAvailable(ctx, bookID); err != nil {
			return b, err
		}
		return e.GetBook(ctx, bookID)
	}
	return b, nil
}

// SetBookActive takes a title in or out of circulation.  Inactive titles
// cannot be checked out, reserved or promoted to.
func (e *Engine) SetBookActive(ctx context.Context, bookID uint64, active bool) (model.Book, error) {
	const op = "set_book_active"
	unlock, err := e.lockKeys(ctx, op, bookKey(bookID))
	if err != nil {
		return model.Book{}, err
	}
	defer unlock()

	var b model.Book
	err = e.inTx(ctx, op, func(ctx context.Context, tx *txScope) error {
		b, err = e.loadBook(ctx, tx, op, bookID, true)
		if err != nil || b.Active == active {
			return err
		}
		b.Active = active
		return tx.UpdateBookCounters(ctx, &b)
	})
	if err != nil {
		return model.Book{}, err
	}
	if active {
		if err := e.promoteWhileAvailable(ctx, bookID); err != nil {
			return b, err
		}
		return e.GetBook(ctx, bookID)
	}
	return b, nil
}

// TryClaim takes one copy off the shelf.  It reports false when the
// title is inactive or has no copy available.
func (e *Engine) TryClaim(ctx context.Context, bookID uint64) (bool, error) {
	const op = "try_claim"
	unlock, err := e.lockKeys(ctx, op, bookKey(bookID))
	if err != nil {
		return false, err
	}
	defer unlock()

	err = e.inTx(ctx, op, func(ctx context.Context, tx *txScope) error {
		b, err := e.loadBook(ctx, tx, op, bookID, true)
		if err != nil {
			return err
		}
		return e.claimTx(ctx, tx, op, &b)
	})
	if KindOf(err) == KindResourceUnavailable {
		return false, nil
	}
	return err == nil, err
}

// Release puts one copy back on the shelf.  Releasing a title whose
// copies are all on the shelf is a no-op.
func (e *Engine) Release(ctx context.Context, bookID uint64) error {
	const op = "release"
	unlock, err := e.lockKeys(ctx, op, bookKey(bookID))
	if err != nil {
		return err
	}
	defer unlock()

	return e.inTx(ctx, op, func(ctx context.Context, tx *txScope) error {
		b, err := e.loadBook(ctx, tx, op, bookID, true)
		if err != nil {
			return err
		}
		return e.releaseTx(ctx, tx, &b)
	})
}

func (e *Engine) loadBook(ctx context.Context, tx store.Tx, op string, id uint64, forUpdate bool) (model.Book, error) {
	var (
		b   model.Book
		err error
	)
	if forUpdate {
		b, err = tx.GetBookForUpdate(ctx, id)
	} else {
		b, err = tx.GetBook(ctx, id)
	}
	if errors.Is(err, store.ErrNotFound) {
		return b, notFoundErr(op, "book", id)
	}
	return b, err
}

// claimTx decrements availableCopies on a locked book row.
func (e *Engine) claimTx(ctx context.Context, tx store.Tx, op string, b *model.Book) error {
	if !b.Active {
		return newErr(op, KindResourceUnavailable, ReasonBookInactive, "book %d is not in circulation", b.ID)
	}
	if b.AvailableCopies == 0 {
		return newErr(op, KindResourceUnavailable, ReasonNoCopyAvailable, "no copy of book %d is available", b.ID)
	}
	b.AvailableCopies--
	return tx.UpdateBookCounters(ctx, b)
}

// releaseTx increments availableCopies on a locked book row, never past
// totalCopies.
func (e *Engine) releaseTx(ctx context.Context, tx store.Tx, b *model.Book) error {
	if b.AvailableCopies >= b.TotalCopies {
		e.log.Warn("circulation: release with every copy on the shelf", "book_id", b.ID)
		return nil
	}
	b.AvailableCopies++
	return tx.UpdateBookCounters(ctx, b)
}
