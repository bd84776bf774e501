package service

import (
	"testing"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/pkg/xerrors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func sp(s string) *string { return &s }

func account(id, opening, current string) *domain.Account {
	return &domain.Account{
		ID:             id,
		Name:           id,
		Type:           domain.AccountTypeCash,
		Currency:       "EUR",
		OpeningBalance: dec(opening),
		CurrentBalance: dec(current),
	}
}

func txn(id, acc string, kind domain.TransactionKind, amount string, at time.Time) *domain.Transaction {
	return &domain.Transaction{ID: id, AccountID: acc, Kind: kind, Amount: dec(amount), OccurredAt: at, CreatedAt: at}
}

func deltas(entries []domain.LedgerEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.SignedDelta.String() + "->" + e.RunningBalance.String()
	}
	return out
}

func TestReconcileDepositThenWithdrawal(t *testing.T) {
	r := NewBalanceReconciler(domain.ReconcileModeExplicit)
	in := ReconcileInput{
		Account: account("cash-1", "1000", "1300"),
		Transactions: []*domain.Transaction{
			txn("t1", "cash-1", domain.TransactionKindIncome, "500", base),
			txn("t2", "cash-1", domain.TransactionKindExpense, "200", base.Add(time.Hour)),
		},
	}

	for _, mode := range []domain.ReconcileMode{domain.ReconcileModeExplicit, domain.ReconcileModeDerived} {
		t.Run(string(mode), func(t *testing.T) {
			ledger, err := r.Reconcile(in, domain.LedgerQuery{Mode: mode})
			require.NoError(t, err)
			assert.Equal(t, []string{"500->1500", "-200->1300"}, deltas(ledger.Entries))
			assert.True(t, ledger.Reconciled)
			assert.True(t, ledger.OpeningBalance.Equal(dec("1000")))
			assert.True(t, ledger.ClosingBalance.Equal(dec("1300")))
			assert.True(t, ledger.TotalIn.Equal(dec("500")))
			assert.True(t, ledger.TotalOut.Equal(dec("200")))
			assert.Equal(t, mode, ledger.Mode)
		})
	}
}

func TestReconcileMismatchIsReportedWithLedger(t *testing.T) {
	r := NewBalanceReconciler(domain.ReconcileModeExplicit)
	in := ReconcileInput{
		Account: account("cash-1", "1000", "1400"),
		Transactions: []*domain.Transaction{
			txn("t1", "cash-1", domain.TransactionKindIncome, "500", base),
		},
	}

	ledger, err := r.Reconcile(in, domain.LedgerQuery{})
	require.Error(t, err)
	assert.ErrorIs(t, err, xerrors.ErrReconciliationMismatch)

	var mm *xerrors.MismatchError
	require.ErrorAs(t, err, &mm)
	assert.True(t, mm.Expected.Equal(dec("1400")))
	assert.True(t, mm.Actual.Equal(dec("1500")))
	assert.True(t, mm.Discrepancy().Equal(dec("-100")))

	require.NotNil(t, ledger)
	assert.False(t, ledger.Reconciled)
	assert.True(t, ledger.Discrepancy.Equal(dec("-100")))
	assert.Len(t, ledger.Entries, 1)
}

func TestReconcileDerivedModeAlwaysLandsOnCurrent(t *testing.T) {
	r := NewBalanceReconciler(domain.ReconcileModeDerived)
	in := ReconcileInput{
		// opening was never recorded; derived mode infers it
		Account: account("cash-1", "0", "750"),
		Transactions: []*domain.Transaction{
			txn("t1", "cash-1", domain.TransactionKindIncome, "100", base),
			txn("t2", "cash-1", domain.TransactionKindExpense, "50", base.Add(time.Minute)),
		},
	}
	ledger, err := r.Reconcile(in, domain.LedgerQuery{})
	require.NoError(t, err)
	assert.True(t, ledger.OpeningBalance.Equal(dec("700")))
	assert.Equal(t, []string{"100->800", "-50->750"}, deltas(ledger.Entries))
}

func TestReconcileSkipsCancelledRows(t *testing.T) {
	r := NewBalanceReconciler(domain.ReconcileModeExplicit)
	cancelled := txn("t2", "cash-1", domain.TransactionKindIncome, "999", base.Add(time.Minute))
	cancelled.IsCancelled = true
	pay := &domain.Payment{ID: "p1", ReservationID: "R1", AccountID: sp("cash-1"), Amount: dec("50"), OccurredAt: base, IsCancelled: true}

	in := ReconcileInput{
		Account:      account("cash-1", "0", "10"),
		Transactions: []*domain.Transaction{txn("t1", "cash-1", domain.TransactionKindIncome, "10", base), cancelled},
		Payments:     []*domain.Payment{pay},
	}
	ledger, err := r.Reconcile(in, domain.LedgerQuery{})
	require.NoError(t, err)
	assert.Len(t, ledger.Entries, 1)
}

func TestReconcileTransferLegsCountOnce(t *testing.T) {
	r := NewBalanceReconciler(domain.ReconcileModeExplicit)
	out := txn("t1", "cash-1", domain.TransactionKindTransferOut, "300", base)
	out.CounterAccountID, out.LinkedTransactionID = sp("bank-1"), sp("t2")
	in := txn("t2", "bank-1", domain.TransactionKindTransferIn, "300", base)
	in.CounterAccountID, in.LinkedTransactionID = sp("cash-1"), sp("t1")

	// each account sees both rows: its own leg and the mirrored one
	cash, err := r.Reconcile(ReconcileInput{
		Account:      account("cash-1", "1300", "1000"),
		Transactions: []*domain.Transaction{out, in},
	}, domain.LedgerQuery{})
	require.NoError(t, err)
	require.Len(t, cash.Entries, 1)
	assert.Equal(t, domain.EntryKindTransferOut, cash.Entries[0].Kind)

	bank, err := r.Reconcile(ReconcileInput{
		Account:      account("bank-1", "200", "500"),
		Transactions: []*domain.Transaction{out, in},
	}, domain.LedgerQuery{})
	require.NoError(t, err)
	require.Len(t, bank.Entries, 1)
	assert.True(t, bank.Entries[0].SignedDelta.Equal(cash.Entries[0].SignedDelta.Neg()))
	assert.Equal(t, cash.Entries[0].Timestamp, bank.Entries[0].Timestamp)
}

func TestReconcileMirrorsSingleEntryTransfer(t *testing.T) {
	r := NewBalanceReconciler(domain.ReconcileModeExplicit)
	legacy := txn("t1", "cash-1", domain.TransactionKindTransferOut, "40", base)
	legacy.CounterAccountID = sp("bank-1")

	ledger, err := r.Reconcile(ReconcileInput{
		Account:      account("bank-1", "0", "40"),
		Transactions: []*domain.Transaction{legacy},
	}, domain.LedgerQuery{})
	require.NoError(t, err)
	require.Len(t, ledger.Entries, 1)
	assert.Equal(t, domain.EntryKindTransferIn, ledger.Entries[0].Kind)
	assert.True(t, ledger.Entries[0].SignedDelta.Equal(dec("40")))
}

func TestReconcileMergesPaymentsAndKeepsFetchOrderOnTies(t *testing.T) {
	r := NewBalanceReconciler(domain.ReconcileModeExplicit)
	pay := &domain.Payment{ID: "p1", ReservationID: "R1", AccountID: sp("pos-1"), Amount: dec("3000"), OccurredAt: base}
	refund := &domain.Payment{
		ID: "p2", ReservationID: "R1", AccountID: sp("pos-1"), Amount: dec("-1000"),
		OccurredAt: base.Add(2 * time.Hour), RefundOfPaymentID: sp("p1"),
	}
	in := ReconcileInput{
		Account:      account("pos-1", "0", "1900"),
		Transactions: []*domain.Transaction{txn("t1", "pos-1", domain.TransactionKindExpense, "100", base)},
		Payments:     []*domain.Payment{refund, pay},
	}

	ledger, err := r.Reconcile(in, domain.LedgerQuery{})
	require.NoError(t, err)
	require.Len(t, ledger.Entries, 3)
	assert.Equal(t, "t1", ledger.Entries[0].SourceID, "transactions precede payments on equal timestamps")
	assert.Equal(t, "p1", ledger.Entries[1].SourceID)
	assert.Equal(t, domain.EntryKindRefund, ledger.Entries[2].Kind)
	require.NotNil(t, ledger.Entries[2].ReservationID)
	assert.Equal(t, "R1", *ledger.Entries[2].ReservationID)
	assert.Equal(t, []string{"-100->-100", "3000->2900", "-1000->1900"}, deltas(ledger.Entries))
}

func TestReconcileWindowAndOrdering(t *testing.T) {
	r := NewBalanceReconciler(domain.ReconcileModeExplicit)
	in := ReconcileInput{
		Account: account("cash-1", "100", "160"),
		Transactions: []*domain.Transaction{
			txn("t1", "cash-1", domain.TransactionKindIncome, "10", base),
			txn("t2", "cash-1", domain.TransactionKindIncome, "20", base.Add(24*time.Hour)),
			txn("t3", "cash-1", domain.TransactionKindExpense, "5", base.Add(48*time.Hour)),
			txn("t4", "cash-1", domain.TransactionKindIncome, "35", base.Add(72*time.Hour)),
		},
	}
	from, to := base.Add(24*time.Hour), base.Add(48*time.Hour)

	ledger, err := r.Reconcile(in, domain.LedgerQuery{From: &from, To: &to, NewestFirst: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"-5->125", "20->130"}, deltas(ledger.Entries), "bounds are inclusive and order is reversed")
	assert.True(t, ledger.OpeningBalance.Equal(dec("110")))
	assert.True(t, ledger.ClosingBalance.Equal(dec("125")))
	assert.True(t, ledger.TotalIn.Equal(dec("20")))
	assert.True(t, ledger.TotalOut.Equal(dec("5")))
	assert.True(t, ledger.Reconciled, "postcondition is checked over the full replay")

	onlyTo := base.Add(time.Hour)
	ledger, err = r.Reconcile(in, domain.LedgerQuery{To: &onlyTo})
	require.NoError(t, err)
	assert.True(t, ledger.OpeningBalance.Equal(dec("100")))
	assert.True(t, ledger.ClosingBalance.Equal(dec("110")))
}

func TestReconcileEmptyAccount(t *testing.T) {
	r := NewBalanceReconciler("")
	ledger, err := r.Reconcile(ReconcileInput{Account: account("a", "25", "25")}, domain.LedgerQuery{})
	require.NoError(t, err)
	assert.Empty(t, ledger.Entries)
	assert.True(t, ledger.ClosingBalance.Equal(dec("25")))
	assert.Equal(t, domain.ReconcileModeExplicit, ledger.Mode)
}
