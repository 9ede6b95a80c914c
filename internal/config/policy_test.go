package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_LoadPolicy_Defaults(t *testing.T) {
	p := LoadPolicy()

	require.NoError(t, p.Validate())
	assert.Equal(t, 48*time.Hour, p.HoldPeriod)
	assert.Equal(t, 2, p.MaxRenewals)
	assert.True(t, p.FinePerDay.Equal(decimal.RequireFromString("0.5")))
}

func Test_LoadPolicy_Overrides(t *testing.T) {
	t.Setenv("FINE_PER_DAY", "1.25")
	t.Setenv("FINE_GRACE_DAYS", "3")
	t.Setenv("HOLD_PERIOD", "24h")
	t.Setenv("LOAN_MAX_RENEWALS", "not-a-number")

	p := LoadPolicy()

	assert.True(t, p.FinePerDay.Equal(decimal.RequireFromString("1.25")))
	assert.Equal(t, 3, p.GraceDays)
	assert.Equal(t, 24*time.Hour, p.HoldPeriod)
	assert.Equal(t, 2, p.MaxRenewals, "unparsable values fall back to the default")
}

func Test_Policy_Validate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"negative rate", func(p *Policy) { p.FinePerDay = decimal.NewFromInt(-1) }},
		{"cap below rate", func(p *Policy) { p.FineMax = decimal.RequireFromString("0.10") }},
		{"negative grace", func(p *Policy) { p.GraceDays = -1 }},
		{"zero hold", func(p *Policy) { p.HoldPeriod = 0 }},
		{"zero renewal days", func(p *Policy) { p.RenewalDays = 0 }},
		{"no reservations", func(p *Policy) { p.MaxActiveReservations = 0 }},
		{"no attempts", func(p *Policy) { p.RetryMaxAttempts = 0 }},
	}
	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}
