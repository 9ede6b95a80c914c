package repository

import (
	"testing"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/library-circulation/internal/model"
)

func Test_loanFilter(t *testing.T) {
	ds := loanFilter(loansQuery(), model.LoanFilter{
		UserID:   7,
		Statuses: []model.LoanStatus{model.LoanCheckedOut, model.LoanOverdue},
	})
	q, args, err := ds.Prepared(true).ToSQL()
	require.NoError(t, err)

	assert.Contains(t, q, "FROM `loans`")
	assert.Contains(t, q, "`user_id` = ?")
	assert.Contains(t, q, "`status` IN (?, ?)")
	assert.NotContains(t, q, "book_id` =")
	require.Len(t, args, 3)
	assert.Equal(t, "CHECKED_OUT", args[1])
	assert.Equal(t, "OVERDUE", args[2])
}

func Test_ForUpdateQueries(t *testing.T) {
	q, _, err := booksQuery().Where(goqu.C("id").Eq(1)).ForUpdate(exp.Wait).ToSQL()
	require.NoError(t, err)
	assert.Contains(t, q, "FOR UPDATE")
}

func Test_ListHoldsExpiredQuery(t *testing.T) {
	at := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	q, args, err := reservationsQuery().
		Where(goqu.C("status").Eq(string(model.ReservationAvailable)), goqu.C("available_until").Lt(at)).
		Prepared(true).
		ToSQL()
	require.NoError(t, err)
	assert.Contains(t, q, "`available_until` < ?")
	assert.Contains(t, args, "AVAILABLE")
}

func Test_statusStrings(t *testing.T) {
	assert.Equal(t, []string{"PAID", "WAIVED"}, statusStrings([]model.FineStatus{model.FinePaid, model.FineWaived}))
	assert.Empty(t, statusStrings([]model.FineStatus{}))
}
