package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql" // dialect registration
	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/library-circulation/internal/store"
)

var dialect = goqu.Dialect("mysql")

// Store runs circulation transactions against MySQL.  Row locks are
// taken with SELECT ... FOR UPDATE; the unique active_key columns back
// up the engine's duplicate checks.
type Store struct {
	db *sqlx.DB
}

// NewStore returns a Store bound to db.
func NewStore(db *sqlx.DB) *Store { return &Store{db: db} }

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sqlx.DB { return s.db }

// WithinTx implements store.Store.  READ COMMITTED keeps the FOR UPDATE
// reads from taking gap locks on the queue and due-date indexes.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return mapError(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(ctx, &txRepo{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapError(err)
	}
	committed = true
	return nil
}

// txRepo implements store.Tx on top of one sqlx transaction.  The
// methods live in the per-table *_repository.go files.
type txRepo struct {
	tx *sqlx.Tx
}

var _ store.Tx = (*txRepo)(nil)

// get runs a built SELECT expected to return one row.
func (r *txRepo) get(ctx context.Context, dest any, ds *goqu.SelectDataset) error {
	q, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return mapError(r.tx.GetContext(ctx, dest, q, args...))
}

// selectAll runs a built SELECT into a slice.
func (r *txRepo) selectAll(ctx context.Context, dest any, ds *goqu.SelectDataset) error {
	q, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return mapError(r.tx.SelectContext(ctx, dest, q, args...))
}

// count runs SELECT COUNT(*) over ds.
func (r *txRepo) count(ctx context.Context, ds *goqu.SelectDataset) (int, error) {
	var n int
	q, args, err := ds.Select(goqu.COUNT(goqu.Star())).Prepared(true).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}
	if err := r.tx.GetContext(ctx, &n, q, args...); err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

// insert runs a named INSERT and returns the generated id.
func (r *txRepo) insert(ctx context.Context, query string, arg any) (uint64, error) {
	res, err := r.tx.NamedExecContext(ctx, query, arg)
	if err != nil {
		return 0, mapError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// update runs a named UPDATE and reports store.ErrNotFound when no row
// matched.
func (r *txRepo) update(ctx context.Context, query string, arg any) error {
	res, err := r.tx.NamedExecContext(ctx, query, arg)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func statusStrings[T ~string](in []T) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
