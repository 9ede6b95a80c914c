package database

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Schema_DeclaresTables(t *testing.T) {
	s := Schema()
	for _, table := range []string{"books", "loans", "reservations", "fines", "subscription_plans", "subscriptions"} {
		assert.Contains(t, s, "CREATE TABLE IF NOT EXISTS "+table+" ", table)
	}
	assert.Contains(t, s, "UNIQUE KEY uq_loans_active (active_key)")
	assert.Contains(t, s, "UNIQUE KEY uq_reservations_active (active_key)")
	assert.Contains(t, s, "UNIQUE KEY uq_fines_loan_type (loan_id, fine_type)")
	assert.False(t, strings.Contains(s, "DROP "), "migrations never drop")
}
