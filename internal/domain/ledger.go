package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReconcileMode selects how the opening balance of a replay is obtained
type ReconcileMode string

const (
	// ReconcileModeExplicit replays forward from the account's stored opening balance.
	ReconcileModeExplicit ReconcileMode = "explicit"
	// ReconcileModeDerived derives the opening balance as current balance minus every known delta.
	ReconcileModeDerived ReconcileMode = "derived"
)

func (m ReconcileMode) IsValid() bool {
	return m == ReconcileModeExplicit || m == ReconcileModeDerived
}

// EntrySource names the ledger an entry was read from
type EntrySource string

const (
	EntrySourceTransaction EntrySource = "transaction"
	EntrySourcePayment     EntrySource = "payment"
)

// EntryKind is the normalized kind of a ledger line
type EntryKind string

const (
	EntryKindIncome      EntryKind = "income"
	EntryKindExpense     EntryKind = "expense"
	EntryKindTransferIn  EntryKind = "transfer_in"
	EntryKindTransferOut EntryKind = "transfer_out"
	EntryKindPayment     EntryKind = "payment"
	EntryKindRefund      EntryKind = "refund"
)

// LedgerEntry is one line of an account timeline.
type LedgerEntry struct {
	SourceID       string          `json:"source_id"`
	Source         EntrySource     `json:"source"`
	Kind           EntryKind       `json:"kind"`
	Timestamp      time.Time       `json:"timestamp"`
	SignedDelta    decimal.Decimal `json:"signed_delta"`
	RunningBalance decimal.Decimal `json:"running_balance"`
	Description    string          `json:"description"`
	ReservationID  *string         `json:"reservation_id,omitempty"`
}

// LedgerQuery narrows a ledger view. From and To are inclusive; nil means unbounded.
type LedgerQuery struct {
	From        *time.Time    `json:"from,omitempty"`
	To          *time.Time    `json:"to,omitempty"`
	NewestFirst bool          `json:"newest_first"`
	Mode        ReconcileMode `json:"mode,omitempty"` // empty uses the configured default
}

// Contains reports whether ts falls inside the query window
func (q LedgerQuery) Contains(ts time.Time) bool {
	if q.From != nil && ts.Before(*q.From) {
		return false
	}
	if q.To != nil && ts.After(*q.To) {
		return false
	}
	return true
}

// AccountLedger is the reconciled timeline of one account.
// OpeningBalance/ClosingBalance describe the requested window; CurrentBalance is the stored balance.
type AccountLedger struct {
	AccountID      string          `json:"account_id"`
	AccountName    string          `json:"account_name"`
	Currency       string          `json:"currency"`
	Mode           ReconcileMode   `json:"mode"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	TotalIn        decimal.Decimal `json:"total_in"`
	TotalOut       decimal.Decimal `json:"total_out"`
	Entries        []LedgerEntry   `json:"entries"`
	Reconciled     bool            `json:"reconciled"`
	Discrepancy    decimal.Decimal `json:"discrepancy"`
	From           *time.Time      `json:"from,omitempty"`
	To             *time.Time      `json:"to,omitempty"`
}

// ReconciliationReport summarizes a reconciliation run over many accounts.
type ReconciliationReport struct {
	CheckedAt  time.Time             `json:"checked_at"`
	Accounts   int                   `json:"accounts"`
	Mismatches []ReconciliationIssue `json:"mismatches"`
}

// ReconciliationIssue is one account that failed its postcondition
type ReconciliationIssue struct {
	AccountID   string          `json:"account_id"`
	Stored      decimal.Decimal `json:"stored"`
	Replayed    decimal.Decimal `json:"replayed"`
	Discrepancy decimal.Decimal `json:"discrepancy"`
}
