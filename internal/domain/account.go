package domain

import (
	"strings"
	"time"

	"ledger-service/pkg/xerrors"

	"github.com/shopspring/decimal"
)

// AccountType is the kind of cash box an account models
type AccountType string

const (
	AccountTypeCash AccountType = "cash"
	AccountTypePOS  AccountType = "pos"
	AccountTypeBank AccountType = "bank"
	AccountTypeCard AccountType = "card"
)

func (t AccountType) IsValid() bool {
	switch t {
	case AccountTypeCash, AccountTypePOS, AccountTypeBank, AccountTypeCard:
		return true
	}
	return false
}

// Account is a ledger-tracked store of funds (cash drawer, POS terminal, bank or card settlement account).
// CurrentBalance is authoritative; OpeningBalance never changes after creation.
type Account struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Type           AccountType     `json:"type"`
	Currency       string          `json:"currency"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// AccountCreate represents data needed to create a new account
type AccountCreate struct {
	Name           string          `json:"name"`
	Type           AccountType     `json:"type"`
	Currency       string          `json:"currency"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

// Validate checks the request shape; it does not touch the store.
func (c *AccountCreate) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return xerrors.ErrInvalidRequest
	}
	if !c.Type.IsValid() {
		return xerrors.ErrInvalidAccountType
	}
	if strings.TrimSpace(c.Currency) == "" {
		return xerrors.ErrInvalidCurrency
	}
	if c.OpeningBalance.IsNegative() {
		return xerrors.ErrInvalidAmount
	}
	return nil
}

// CanDebit reports whether amount can leave the account without overdrawing it.
func (a *Account) CanDebit(amount decimal.Decimal) bool {
	return amount.LessThanOrEqual(a.CurrentBalance)
}
