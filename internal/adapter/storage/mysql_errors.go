package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/jdrojas/pharma-ledger/internal/core/domain"
)

// Server error numbers this adapter maps onto the domain taxonomy.
const (
	erDupEntry        = 1062
	erNoSuchThread    = 1094
	erLockWaitTimeout = 1205
	erLockDeadlock    = 1213
	erRowIsReferenced = 1451
	erNoReferencedRow = 1452
	erCheckViolated   = 3819
)

// mapError converts driver and store failures into domain error kinds so
// nothing above the adapter has to know MySQL error numbers.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}

	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return err
	}
	switch myErr.Number {
	case erDupEntry:
		return &domain.ConstraintError{Detail: "duplicate key: " + myErr.Message}
	case erRowIsReferenced, erNoReferencedRow:
		return &domain.ConstraintError{Detail: "foreign key violation: " + myErr.Message}
	case erCheckViolated:
		return &domain.ConstraintError{Detail: "check constraint violated: " + myErr.Message}
	case erLockWaitTimeout:
		return fmt.Errorf("%w: %s", domain.ErrLockTimeout, myErr.Message)
	case erLockDeadlock:
		// InnoDB already rolled the transaction back; retryable conflict.
		return &domain.ConflictError{Detail: "deadlock detected: " + myErr.Message}
	case erNoSuchThread:
		return domain.ErrNotFound
	}
	return err
}
