package circulation

import (
	"time"

	"github.com/shopspring/decimal"
)

// FineCalculator computes overdue days and fine amounts.  It is a pure
// value: the same inputs always give the same outputs.  Dates are
// compared as UTC calendar days.
type FineCalculator struct {
	PerDay    decimal.Decimal
	Max       decimal.Decimal
	GraceDays int
}

// OverdueDays returns the chargeable days between due and asOf: zero
// when asOf is on or before due, otherwise the calendar-day difference
// minus the grace period, floored at zero.
func (c FineCalculator) OverdueDays(due, asOf time.Time) int {
	days := daysBetween(due, asOf)
	if days <= 0 {
		return 0
	}
	days -= c.GraceDays
	if days < 0 {
		return 0
	}
	return days
}

// Fine returns min(OverdueDays × PerDay, Max).
func (c FineCalculator) Fine(due, asOf time.Time) decimal.Decimal {
	days := c.OverdueDays(due, asOf)
	if days == 0 {
		return decimal.Zero
	}
	amount := c.PerDay.Mul(decimal.NewFromInt(int64(days)))
	if amount.GreaterThan(c.Max) {
		return c.Max
	}
	return amount
}

// dayOf truncates t to midnight UTC of its UTC calendar day.
func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// daysBetween returns the signed number of calendar days from a to b.
func daysBetween(a, b time.Time) int {
	return int(dayOf(b).Sub(dayOf(a)).Hours() / 24)
}
