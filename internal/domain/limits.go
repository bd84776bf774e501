package domain

import (
	"ledger-service/pkg/xerrors"

	"github.com/shopspring/decimal"
)

// MaxAmountScale is the fractional precision of every stored amount column.
const MaxAmountScale int32 = 4

// AmountLimits bounds every amount accepted by the transaction processor.
type AmountLimits struct {
	Max   decimal.Decimal // ceiling per operation; zero disables the check
	Scale int32           // max fractional digits; negative disables the check
}

// DefaultAmountLimits mirrors the config defaults.
var DefaultAmountLimits = AmountLimits{
	Max:   decimal.NewFromInt(100_000_000),
	Scale: 2,
}

// Validate rejects non-positive, over-precise and over-ceiling amounts.
func (l AmountLimits) Validate(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return xerrors.ErrInvalidAmount
	}
	if l.Scale >= 0 && !amount.Equal(amount.Truncate(l.Scale)) {
		return xerrors.ErrInvalidAmount
	}
	if l.Max.IsPositive() && amount.GreaterThan(l.Max) {
		return xerrors.ErrAmountTooLarge
	}
	return nil
}

// ValidateBalance applies the precision rule to a balance such as an account's opening figure.
// Zero is allowed and the per-operation ceiling does not apply.
func (l AmountLimits) ValidateBalance(balance decimal.Decimal) error {
	if balance.IsNegative() {
		return xerrors.ErrInvalidAmount
	}
	if l.Scale >= 0 && !balance.Equal(balance.Truncate(l.Scale)) {
		return xerrors.ErrInvalidAmount
	}
	return nil
}
