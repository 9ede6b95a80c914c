// Package repository is the MySQL implementation of store.Store.  Driver
// errors are translated into the store sentinels so the engine can tell
// a missing row, a unique key violation and a retryable lock conflict
// apart without knowing about MySQL.
package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/library-circulation/internal/store"
)

// MySQL server error numbers the repositories care about.
const (
	errDupEntry        = 1062
	errLockWaitTimeout = 1205
	errLockDeadlock    = 1213
)

// mapError translates driver errors into store sentinels, keeping the
// original error in the chain.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case errDupEntry:
			return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
		case errLockWaitTimeout, errLockDeadlock:
			return fmt.Errorf("%w: %v", store.ErrConflict, err)
		}
	}
	return err
}
