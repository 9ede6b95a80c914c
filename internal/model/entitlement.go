package model

// Entitlement holds the borrowing limits a member's active subscription
// grants.  It is read from the subscription service before every
// checkout.
type Entitlement struct {
	UserID          uint64 `json:"user_id"`
	PlanName        string `json:"plan_name"`
	MaxBooksAllowed uint32 `json:"max_books_allowed"`
	MaxDaysPerBook  uint32 `json:"max_days_per_book"`
}
