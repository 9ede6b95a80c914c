package repository

import (
	"context"
	"errors"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/iliyamo/library-circulation/internal/model"
	"github.com/iliyamo/library-circulation/internal/store"
)

var bookColumns = []any{
	"id", "title", "total_copies", "available_copies", "is_active", "version", "created_at", "updated_at",
}

func booksQuery() *goqu.SelectDataset {
	return dialect.From("books").Select(bookColumns...)
}

// CreateBook inserts a book and reloads it to pick up defaults.
func (r *txRepo) CreateBook(ctx context.Context, b *model.Book) error {
	const q = `INSERT INTO books (title, total_copies, available_copies, is_active)
		VALUES (:title, :total_copies, :available_copies, :is_active)`
	id, err := r.insert(ctx, q, b)
	if err != nil {
		return err
	}
	got, err := r.GetBook(ctx, id)
	if err != nil {
		return err
	}
	*b = got
	return nil
}

// GetBook reads a book without locking it.
func (r *txRepo) GetBook(ctx context.Context, id uint64) (model.Book, error) {
	var b model.Book
	err := r.get(ctx, &b, booksQuery().Where(goqu.C("id").Eq(id)))
	return b, err
}

// GetBookForUpdate reads a book and holds its row lock until the
// transaction ends.
func (r *txRepo) GetBookForUpdate(ctx context.Context, id uint64) (model.Book, error) {
	var b model.Book
	err := r.get(ctx, &b, booksQuery().Where(goqu.C("id").Eq(id)).ForUpdate(exp.Wait))
	return b, err
}

// ListBooks pages through books in id order.
func (r *txRepo) ListBooks(ctx context.Context, limit, offset uint) ([]model.Book, error) {
	ds := booksQuery().Order(goqu.C("id").Asc())
	if limit > 0 {
		ds = ds.Limit(limit)
	}
	if offset > 0 {
		ds = ds.Offset(offset)
	}
	out := []model.Book{}
	err := r.selectAll(ctx, &out, ds)
	return out, err
}

// UpdateBookCounters writes the copy counters guarded by the row
// version.  A version mismatch is reported as store.ErrConflict.
func (r *txRepo) UpdateBookCounters(ctx context.Context, b *model.Book) error {
	const q = `UPDATE books
		SET total_copies = :total_copies, available_copies = :available_copies,
		    is_active = :is_active, version = version + 1
		WHERE id = :id AND version = :version`
	err := r.update(ctx, q, b)
	if errors.Is(err, store.ErrNotFound) {
		if _, getErr := r.GetBook(ctx, b.ID); getErr != nil {
			return getErr
		}
		return store.ErrConflict
	}
	if err != nil {
		return err
	}
	got, err := r.GetBook(ctx, b.ID)
	if err != nil {
		return err
	}
	*b = got
	return nil
}
