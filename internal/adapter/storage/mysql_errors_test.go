package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdrojas/pharma-ledger/internal/core/domain"
)

func myErr(number uint16, msg string) error {
	return &mysql.MySQLError{Number: number, Message: msg}
}

func TestMapErrorNil(t *testing.T) {
	assert.NoError(t, mapError(nil))
}

func TestMapErrorNoRows(t *testing.T) {
	assert.ErrorIs(t, mapError(sql.ErrNoRows), domain.ErrNotFound)
	assert.ErrorIs(t, mapError(fmt.Errorf("query lot: %w", sql.ErrNoRows)), domain.ErrNotFound)
}

func TestMapErrorConstraints(t *testing.T) {
	var constraint *domain.ConstraintError

	err := mapError(myErr(1062, "Duplicate entry 'L-001' for key 'uq_lotes_codigo'"))
	require.ErrorAs(t, err, &constraint)
	assert.Contains(t, constraint.Detail, "duplicate key")

	err = mapError(myErr(1451, "Cannot delete or update a parent row"))
	require.ErrorAs(t, err, &constraint)
	assert.Contains(t, constraint.Detail, "foreign key")

	err = mapError(myErr(1452, "Cannot add or update a child row"))
	assert.ErrorAs(t, err, &constraint)

	err = mapError(myErr(3819, "Check constraint 'chk_lotes_cantidad' is violated"))
	require.ErrorAs(t, err, &constraint)
	assert.Contains(t, constraint.Detail, "check constraint")
}

func TestMapErrorLockTimeout(t *testing.T) {
	err := mapError(myErr(1205, "Lock wait timeout exceeded"))
	assert.ErrorIs(t, err, domain.ErrLockTimeout)
}

func TestMapErrorDeadlock(t *testing.T) {
	var conflict *domain.ConflictError
	err := mapError(myErr(1213, "Deadlock found when trying to get lock"))
	require.ErrorAs(t, err, &conflict)
	assert.Contains(t, conflict.Detail, "deadlock")
}

func TestMapErrorUnknownThread(t *testing.T) {
	err := mapError(myErr(1094, "Unknown thread id: 42"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMapErrorPassthrough(t *testing.T) {
	plain := errors.New("connection refused")
	assert.Equal(t, plain, mapError(plain))

	unknown := myErr(1146, "Table 'pharma.nope' doesn't exist")
	assert.Equal(t, unknown, mapError(unknown))
}
