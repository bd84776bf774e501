package xerrors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// ParsePGErrorCode returns the SQLSTATE of a postgres error, e.g. 23505 for unique_violation.
func ParsePGErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return "unknown"
}

// Generic
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrInternalServer = errors.New("internal server error")
	ErrNotFound       = errors.New("not found")
)

// Validation
var (
	ErrInvalidAmount          = errors.New("amount must be greater than zero")
	ErrAmountTooLarge         = errors.New("amount exceeds the configured ceiling")
	ErrInvalidTransactionKind = errors.New("invalid transaction kind")
	ErrInvalidPaymentMethod   = errors.New("invalid payment method")
	ErrInvalidAccountType     = errors.New("invalid account type")
	ErrInvalidCurrency        = errors.New("invalid currency")
)

// Domain rules
var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrSameAccountTransfer   = errors.New("source and destination accounts are the same")
	ErrRefundExceedsOriginal = errors.New("refund exceeds the original payment")
	ErrOriginalCancelled     = errors.New("original payment is cancelled")
	ErrCurrencyMismatch      = errors.New("accounts hold different currencies")
	ErrAlreadyCancelled      = errors.New("entry is already cancelled")
	ErrHasActiveRefunds      = errors.New("payment has active refunds")
	ErrReservationsReadOnly  = errors.New("reservations are owned by the booking system")
)

// Integrity
var (
	ErrReconciliationMismatch = errors.New("reconciliation mismatch")
	ErrAccountNotFound        = errors.New("account not found")
	ErrPaymentNotFound        = errors.New("payment not found")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrReservationNotFound    = errors.New("reservation not found")
)

// MismatchError reports a replayed ledger that does not land on the stored balance.
type MismatchError struct {
	AccountID string
	Expected  decimal.Decimal // stored current balance
	Actual    decimal.Decimal // final running balance of the replay
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("reconciliation mismatch on account %s: stored %s, replayed %s (diff %s)",
		e.AccountID, e.Expected.String(), e.Actual.String(), e.Discrepancy().String())
}

// Discrepancy is stored minus replayed.
func (e *MismatchError) Discrepancy() decimal.Decimal {
	return e.Expected.Sub(e.Actual)
}

func (e *MismatchError) Unwrap() error {
	return ErrReconciliationMismatch
}

// IsValidation reports whether err was rejected by input validation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrAmountTooLarge) ||
		errors.Is(err, ErrInvalidTransactionKind) ||
		errors.Is(err, ErrInvalidPaymentMethod) ||
		errors.Is(err, ErrInvalidAccountType) ||
		errors.Is(err, ErrInvalidCurrency)
}

// IsDomain reports whether err is a business-rule rejection.
func IsDomain(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrSameAccountTransfer) ||
		errors.Is(err, ErrRefundExceedsOriginal) ||
		errors.Is(err, ErrOriginalCancelled) ||
		errors.Is(err, ErrCurrencyMismatch) ||
		errors.Is(err, ErrAlreadyCancelled) ||
		errors.Is(err, ErrHasActiveRefunds) ||
		errors.Is(err, ErrReservationsReadOnly)
}

// IsNotFound reports whether err names a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrReservationNotFound)
}
