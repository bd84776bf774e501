package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind is the direction of a manual account movement
type TransactionKind string

const (
	TransactionKindIncome      TransactionKind = "income"
	TransactionKindExpense     TransactionKind = "expense"
	TransactionKindTransferOut TransactionKind = "transfer_out"
	TransactionKindTransferIn  TransactionKind = "transfer_in"
)

func (k TransactionKind) IsValid() bool {
	switch k {
	case TransactionKindIncome, TransactionKindExpense, TransactionKindTransferOut, TransactionKindTransferIn:
		return true
	}
	return false
}

// IsTransfer is true for either leg of a transfer
func (k TransactionKind) IsTransfer() bool {
	return k == TransactionKindTransferOut || k == TransactionKindTransferIn
}

// IsDebit is true for kinds that take money out of the owning account
func (k TransactionKind) IsDebit() bool {
	return k == TransactionKindExpense || k == TransactionKindTransferOut
}

// Transaction is an append-only manual movement on one account.
// Transfers are two rows linked through LinkedTransactionID.
type Transaction struct {
	ID                  string          `json:"id"`
	AccountID           string          `json:"account_id"`
	Kind                TransactionKind `json:"kind"`
	Amount              decimal.Decimal `json:"amount"` // always positive
	CounterAccountID    *string         `json:"counter_account_id,omitempty"`
	LinkedTransactionID *string         `json:"linked_transaction_id,omitempty"`
	Description         string          `json:"description"`
	OccurredAt          time.Time       `json:"occurred_at"`
	CreatedAt           time.Time       `json:"created_at"`
	IsCancelled         bool            `json:"is_cancelled"`
	CancelledAt         *time.Time      `json:"cancelled_at,omitempty"`
}

// SignedDelta is the effect of the row on its own account.
func (t *Transaction) SignedDelta() decimal.Decimal {
	if t.Kind.IsDebit() {
		return t.Amount.Neg()
	}
	return t.Amount
}

// TransactionRequest is the input for a single-account movement
type TransactionRequest struct {
	AccountID   string          `json:"account_id"`
	Kind        TransactionKind `json:"kind"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// TransferRequest moves Amount from SourceID to DestID
type TransferRequest struct {
	SourceID    string          `json:"source_id"`
	DestID      string          `json:"dest_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// TransferResult holds both legs of a committed transfer
type TransferResult struct {
	Out *Transaction `json:"out"`
	In  *Transaction `json:"in"`
}
