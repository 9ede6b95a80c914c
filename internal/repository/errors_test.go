package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/library-circulation/internal/store"
)

func Test_mapError(t *testing.T) {
	other := errors.New("connection reset")
	testCases := []struct {
		name string
		in   error
		want error
	}{
		{"nil", nil, nil},
		{"no rows", sql.ErrNoRows, store.ErrNotFound},
		{"wrapped no rows", fmt.Errorf("get: %w", sql.ErrNoRows), store.ErrNotFound},
		{"duplicate", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, store.ErrDuplicate},
		{"deadlock", &mysql.MySQLError{Number: 1213, Message: "Deadlock found"}, store.ErrConflict},
		{"lock wait", &mysql.MySQLError{Number: 1205, Message: "Lock wait timeout"}, store.ErrConflict},
		{"other", other, other},
	}
	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.in)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
		})
	}
}
