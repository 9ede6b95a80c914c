package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
)

// Policy is the set of circulation rules the engine enforces.  Money
// values are in the library's currency unit.
type Policy struct {
	FinePerDay            decimal.Decimal
	FineMax               decimal.Decimal
	GraceDays             int
	LostBookFee           decimal.Decimal
	DamagedBookFee        decimal.Decimal
	MaxRenewals           int
	RenewalDays           int
	HoldPeriod            time.Duration
	MaxActiveReservations int

	OverdueSweepInterval     time.Duration
	ReservationSweepInterval time.Duration

	LockTTL          time.Duration
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
}

// DefaultPolicy returns the rules used when no overrides are set.
func DefaultPolicy() Policy {
	return Policy{
		FinePerDay:               decimal.RequireFromString("0.50"),
		FineMax:                  decimal.RequireFromString("20.00"),
		GraceDays:                0,
		LostBookFee:              decimal.RequireFromString("25.00"),
		DamagedBookFee:           decimal.RequireFromString("5.00"),
		MaxRenewals:              2,
		RenewalDays:              14,
		HoldPeriod:               48 * time.Hour,
		MaxActiveReservations:    5,
		OverdueSweepInterval:     time.Hour,
		ReservationSweepInterval: 5 * time.Minute,
		LockTTL:                  10 * time.Second,
		RetryMaxAttempts:         5,
		RetryBaseDelay:           10 * time.Millisecond,
	}
}

// LoadPolicy overlays environment overrides on DefaultPolicy.
func LoadPolicy() Policy {
	def := DefaultPolicy()
	return Policy{
		FinePerDay:               envDecimal("FINE_PER_DAY", def.FinePerDay),
		FineMax:                  envDecimal("FINE_MAX", def.FineMax),
		GraceDays:                envInt("FINE_GRACE_DAYS", def.GraceDays),
		LostBookFee:              envDecimal("LOST_BOOK_FEE", def.LostBookFee),
		DamagedBookFee:           envDecimal("DAMAGED_BOOK_FEE", def.DamagedBookFee),
		MaxRenewals:              envInt("LOAN_MAX_RENEWALS", def.MaxRenewals),
		RenewalDays:              envInt("RENEWAL_DAYS", def.RenewalDays),
		HoldPeriod:               envDur("HOLD_PERIOD", def.HoldPeriod),
		MaxActiveReservations:    envInt("MAX_ACTIVE_RESERVATIONS", def.MaxActiveReservations),
		OverdueSweepInterval:     envDur("OVERDUE_SWEEP_INTERVAL", def.OverdueSweepInterval),
		ReservationSweepInterval: envDur("RESERVATION_SWEEP_INTERVAL", def.ReservationSweepInterval),
		LockTTL:                  envDur("LOCK_TTL", def.LockTTL),
		RetryMaxAttempts:         envInt("RETRY_MAX_ATTEMPTS", def.RetryMaxAttempts),
		RetryBaseDelay:           envDur("RETRY_BASE_DELAY", def.RetryBaseDelay),
	}
}

// Validate rejects rule combinations the engine cannot honour.
func (p Policy) Validate() error {
	var errs []error
	if p.FinePerDay.IsNegative() {
		errs = append(errs, errors.New("FINE_PER_DAY must not be negative"))
	}
	if p.FineMax.LessThan(p.FinePerDay) {
		errs = append(errs, errors.New("FINE_MAX must be at least FINE_PER_DAY"))
	}
	if p.GraceDays < 0 {
		errs = append(errs, errors.New("FINE_GRACE_DAYS must not be negative"))
	}
	if p.LostBookFee.IsNegative() || p.DamagedBookFee.IsNegative() {
		errs = append(errs, errors.New("book fees must not be negative"))
	}
	if p.MaxRenewals < 0 {
		errs = append(errs, errors.New("LOAN_MAX_RENEWALS must not be negative"))
	}
	if p.RenewalDays < 1 {
		errs = append(errs, errors.New("RENEWAL_DAYS must be positive"))
	}
	if p.HoldPeriod <= 0 {
		errs = append(errs, errors.New("HOLD_PERIOD must be positive"))
	}
	if p.MaxActiveReservations < 1 {
		errs = append(errs, errors.New("MAX_ACTIVE_RESERVATIONS must be positive"))
	}
	if p.OverdueSweepInterval <= 0 || p.ReservationSweepInterval <= 0 {
		errs = append(errs, errors.New("sweep intervals must be positive"))
	}
	if p.RetryMaxAttempts < 1 {
		errs = append(errs, errors.New("RETRY_MAX_ATTEMPTS must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid circulation policy: %w", errors.Join(errs...))
	}
	return nil
}

func envDecimal(k string, d decimal.Decimal) decimal.Decimal {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := decimal.NewFromString(v); err == nil {
		return n
	}
	return d
}
