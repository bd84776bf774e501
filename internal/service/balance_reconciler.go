package service

import (
	"sort"

	"ledger-service/internal/domain"
	"ledger-service/pkg/xerrors"

	"github.com/shopspring/decimal"
)

// BalanceReconciler merges an account's transactions and payments into one timeline and replays it
// against the stored balance. It holds no state and does no I/O; callers pass rows read from one snapshot.
type BalanceReconciler struct {
	defaultMode domain.ReconcileMode
}

// NewBalanceReconciler falls back to explicit mode when mode is empty or unknown
func NewBalanceReconciler(mode domain.ReconcileMode) *BalanceReconciler {
	if !mode.IsValid() {
		mode = domain.ReconcileModeExplicit
	}
	return &BalanceReconciler{defaultMode: mode}
}

// ReconcileInput is everything the replay needs for one account.
type ReconcileInput struct {
	Account      *domain.Account
	Transactions []*domain.Transaction // rows owned by or countering the account, creation order
	Payments     []*domain.Payment     // rows whose AccountID is the account, creation order
}

// Reconcile returns the account ledger. On a failed postcondition it returns the ledger with
// Reconciled=false together with a *xerrors.MismatchError; nothing is corrected.
func (r *BalanceReconciler) Reconcile(in ReconcileInput, q domain.LedgerQuery) (*domain.AccountLedger, error) {
	acc := in.Account
	mode := q.Mode
	if !mode.IsValid() {
		mode = r.defaultMode
	}

	entries := r.collect(acc.ID, in.Transactions, in.Payments)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})

	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.SignedDelta)
	}

	var opening decimal.Decimal
	switch mode {
	case domain.ReconcileModeDerived:
		opening = acc.CurrentBalance.Sub(total)
	default:
		opening = acc.OpeningBalance
	}

	running := opening
	for i := range entries {
		running = running.Add(entries[i].SignedDelta)
		entries[i].RunningBalance = running
	}

	ledger := &domain.AccountLedger{
		AccountID:      acc.ID,
		AccountName:    acc.Name,
		Currency:       acc.Currency,
		Mode:           mode,
		CurrentBalance: acc.CurrentBalance,
		TotalIn:        decimal.Zero,
		TotalOut:       decimal.Zero,
		Reconciled:     running.Equal(acc.CurrentBalance),
		Discrepancy:    acc.CurrentBalance.Sub(running),
		From:           q.From,
		To:             q.To,
	}

	// window: opening is the running balance just before the first in-window entry
	windowOpening := opening
	window := make([]domain.LedgerEntry, 0, len(entries))
	for _, e := range entries {
		if !q.Contains(e.Timestamp) {
			if q.From != nil && e.Timestamp.Before(*q.From) {
				windowOpening = e.RunningBalance
			}
			continue
		}
		window = append(window, e)
		if e.SignedDelta.IsPositive() {
			ledger.TotalIn = ledger.TotalIn.Add(e.SignedDelta)
		} else {
			ledger.TotalOut = ledger.TotalOut.Add(e.SignedDelta.Abs())
		}
	}
	ledger.OpeningBalance = windowOpening
	ledger.ClosingBalance = windowOpening.Add(ledger.TotalIn).Sub(ledger.TotalOut)

	if q.NewestFirst {
		for i, j := 0, len(window)-1; i < j; i, j = i+1, j-1 {
			window[i], window[j] = window[j], window[i]
		}
	}
	ledger.Entries = window

	if !ledger.Reconciled {
		return ledger, &xerrors.MismatchError{
			AccountID: acc.ID,
			Expected:  acc.CurrentBalance,
			Actual:    running,
		}
	}
	return ledger, nil
}

// collect normalizes rows into entries in fetch order: transactions first, then payments.
func (r *BalanceReconciler) collect(accountID string, txs []*domain.Transaction, pays []*domain.Payment) []domain.LedgerEntry {
	own := make(map[string]struct{}, len(txs))
	for _, t := range txs {
		if !t.IsCancelled && t.AccountID == accountID {
			own[t.ID] = struct{}{}
		}
	}

	entries := make([]domain.LedgerEntry, 0, len(txs)+len(pays))
	for _, t := range txs {
		if t.IsCancelled {
			continue
		}
		switch {
		case t.AccountID == accountID:
			entries = append(entries, domain.LedgerEntry{
				SourceID:    t.ID,
				Source:      domain.EntrySourceTransaction,
				Kind:        domain.EntryKind(t.Kind),
				Timestamp:   t.OccurredAt,
				SignedDelta: t.SignedDelta(),
				Description: t.Description,
			})
		case t.CounterAccountID != nil && *t.CounterAccountID == accountID:
			if t.LinkedTransactionID != nil {
				if _, mirrored := own[*t.LinkedTransactionID]; mirrored {
					continue
				}
			}
			// single-entry transfer recorded only on the other account
			entries = append(entries, domain.LedgerEntry{
				SourceID:    t.ID,
				Source:      domain.EntrySourceTransaction,
				Kind:        mirrorKind(t.Kind),
				Timestamp:   t.OccurredAt,
				SignedDelta: t.SignedDelta().Neg(),
				Description: t.Description,
			})
		}
	}

	for _, p := range pays {
		if p.IsCancelled || !p.HasAccount() || *p.AccountID != accountID {
			continue
		}
		kind := domain.EntryKindPayment
		if p.IsRefund() || p.Amount.IsNegative() {
			kind = domain.EntryKindRefund
		}
		reservationID := p.ReservationID
		entries = append(entries, domain.LedgerEntry{
			SourceID:      p.ID,
			Source:        domain.EntrySourcePayment,
			Kind:          kind,
			Timestamp:     p.OccurredAt,
			SignedDelta:   p.Amount,
			Description:   p.Notes,
			ReservationID: &reservationID,
		})
	}
	return entries
}

func mirrorKind(k domain.TransactionKind) domain.EntryKind {
	if k.IsDebit() {
		return domain.EntryKindTransferIn
	}
	return domain.EntryKindTransferOut
}
