package repository

import (
	"context"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/model"
	"github.com/iliyamo/library-circulation/internal/store"
)

// SubscriptionRepo reads member entitlements from the subscriptions and
// subscription_plans tables.
type SubscriptionRepo struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSubscriptionRepo returns a SubscriptionRepo bound to db.
func NewSubscriptionRepo(db *sqlx.DB) *SubscriptionRepo {
	return &SubscriptionRepo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

var _ circulation.EntitlementProvider = (*SubscriptionRepo)(nil)

// ActiveEntitlement returns the limits of the member's current ACTIVE
// subscription.  When several overlap the one ending last wins.
func (r *SubscriptionRepo) ActiveEntitlement(ctx context.Context, userID uint64) (model.Entitlement, error) {
	now := r.now()
	q, args, err := dialect.From(goqu.T("subscriptions").As("s")).
		Join(goqu.T("subscription_plans").As("p"), goqu.On(goqu.I("p.id").Eq(goqu.I("s.plan_id")))).
		Select(
			goqu.I("s.user_id").As("user_id"),
			goqu.I("p.name").As("plan_name"),
			goqu.I("p.max_books_allowed").As("max_books_allowed"),
			goqu.I("p.max_days_per_book").As("max_days_per_book"),
		).
		Where(
			goqu.I("s.user_id").Eq(userID),
			goqu.I("s.status").Eq("ACTIVE"),
			goqu.I("s.starts_at").Lte(now),
			goqu.I("s.ends_at").Gt(now),
		).
		Order(goqu.I("s.ends_at").Desc()).
		Limit(1).
		Prepared(true).
		ToSQL()
	if err != nil {
		return model.Entitlement{}, err
	}

	var row struct {
		UserID          uint64 `db:"user_id"`
		PlanName        string `db:"plan_name"`
		MaxBooksAllowed uint32 `db:"max_books_allowed"`
		MaxDaysPerBook  uint32 `db:"max_days_per_book"`
	}
	if err := mapError(r.db.GetContext(ctx, &row, q, args...)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Entitlement{}, circulation.ErrNoEntitlement
		}
		return model.Entitlement{}, err
	}
	return model.Entitlement{
		UserID:          row.UserID,
		PlanName:        row.PlanName,
		MaxBooksAllowed: row.MaxBooksAllowed,
		MaxDaysPerBook:  row.MaxDaysPerBook,
	}, nil
}
