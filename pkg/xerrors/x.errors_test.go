package xerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestParsePGErrorCode(t *testing.T) {
	wrapped := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	assert.Equal(t, "23505", ParsePGErrorCode(wrapped))
	assert.Equal(t, "unknown", ParsePGErrorCode(errors.New("boom")))
}

func TestErrorGroups(t *testing.T) {
	assert.True(t, IsDomain(ErrReservationsReadOnly))
	assert.True(t, IsValidation(fmt.Errorf("x: %w", ErrInvalidAmount)))
	assert.True(t, IsNotFound(ErrReservationNotFound))

	m := &MismatchError{AccountID: "acc_1", Expected: decimal.NewFromInt(10), Actual: decimal.NewFromInt(7)}
	assert.ErrorIs(t, m, ErrReconciliationMismatch)
	assert.True(t, m.Discrepancy().Equal(decimal.NewFromInt(3)))
}
