package usecase

import (
	"context"
	"errors"
	"fmt"

	"ledger-service/internal/domain"
	"ledger-service/internal/pub"
	"ledger-service/internal/repository"
	"ledger-service/internal/service"
	"ledger-service/pkg/xerrors"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// LedgerUsecase builds reconciled account timelines. It never writes; a mismatch is reported, not fixed.
type LedgerUsecase struct {
	store      repository.Store
	reconciler *service.BalanceReconciler
	publisher  pub.Publisher
	log        *zap.Logger
	now        Clock
	group      singleflight.Group
}

func NewLedgerUsecase(store repository.Store, reconciler *service.BalanceReconciler, publisher pub.Publisher, logger *zap.Logger, opts ...Option) *LedgerUsecase {
	o := buildOptions(opts)
	return &LedgerUsecase{
		store:      store,
		reconciler: reconciler,
		publisher:  orNop(publisher),
		log:        orNopLogger(logger),
		now:        o.now,
	}
}

// GetAccountLedger returns the reconciled timeline of one account. On a failed postcondition the
// ledger is returned with Reconciled=false together with a *xerrors.MismatchError.
func (uc *LedgerUsecase) GetAccountLedger(ctx context.Context, accountID string, q domain.LedgerQuery) (*domain.AccountLedger, error) {
	type result struct {
		ledger *domain.AccountLedger
		err    error
	}

	// concurrent identical views share one snapshot read. The read ignores the first caller's
	// cancellation; every caller stops waiting on its own ctx.
	shared := context.WithoutCancel(ctx)
	ch := uc.group.DoChan(ledgerKey(accountID, q), func() (interface{}, error) {
		var in service.ReconcileInput
		err := uc.store.Snapshot(shared, func(ctx context.Context, r repository.Reader) error {
			var err error
			in, err = readReconcileInput(ctx, r, accountID)
			return err
		})
		if err != nil {
			return result{err: err}, nil
		}
		ledger, err := uc.reconciler.Reconcile(in, q)
		return result{ledger: ledger, err: err}, nil
	})

	var res result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		res = r.Val.(result)
	}

	var mismatch *xerrors.MismatchError
	if errors.As(res.err, &mismatch) {
		uc.reportMismatch(ctx, mismatch)
	}
	if res.ledger != nil {
		cp := *res.ledger
		cp.Entries = append([]domain.LedgerEntry(nil), res.ledger.Entries...)
		return &cp, res.err
	}
	return nil, res.err
}

// ReconcileAll replays every account inside one snapshot and reports the ones that do not land on
// their stored balance.
func (uc *LedgerUsecase) ReconcileAll(ctx context.Context) (*domain.ReconciliationReport, error) {
	report := &domain.ReconciliationReport{
		CheckedAt:  uc.now(),
		Mismatches: []domain.ReconciliationIssue{},
	}

	var found []*xerrors.MismatchError
	err := uc.store.Snapshot(ctx, func(ctx context.Context, r repository.Reader) error {
		accounts, err := r.ListAccounts(ctx)
		if err != nil {
			return err
		}
		report.Accounts = len(accounts)
		for _, acc := range accounts {
			in, err := readReconcileInput(ctx, r, acc.ID)
			if err != nil {
				return err
			}
			_, err = uc.reconciler.Reconcile(in, domain.LedgerQuery{})
			var mismatch *xerrors.MismatchError
			if errors.As(err, &mismatch) {
				found = append(found, mismatch)
				continue
			}
			if err != nil {
				return fmt.Errorf("reconcile account %s: %w", acc.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		uc.log.Error("reconciliation run failed", zap.Error(err))
		return nil, err
	}

	for _, m := range found {
		uc.reportMismatch(ctx, m)
		report.Mismatches = append(report.Mismatches, domain.ReconciliationIssue{
			AccountID:   m.AccountID,
			Stored:      m.Expected,
			Replayed:    m.Actual,
			Discrepancy: m.Discrepancy(),
		})
	}
	uc.log.Info("reconciliation run complete",
		zap.Int("accounts", report.Accounts),
		zap.Int("mismatches", len(report.Mismatches)),
	)
	return report, nil
}

func (uc *LedgerUsecase) reportMismatch(ctx context.Context, m *xerrors.MismatchError) {
	uc.log.Warn("ledger does not reconcile",
		zap.String("account_id", m.AccountID),
		zap.String("stored", m.Expected.String()),
		zap.String("replayed", m.Actual.String()),
		zap.String("discrepancy", m.Discrepancy().String()),
	)
	err := uc.publisher.Publish(ctx, &pub.LedgerEvent{
		EventType:  pub.EventReconciliationFailure,
		EntityID:   m.AccountID,
		AccountIDs: []string{m.AccountID},
		Amount:     m.Discrepancy(),
		Metadata: map[string]string{
			"stored":   m.Expected.String(),
			"replayed": m.Actual.String(),
		},
		Timestamp: uc.now(),
	})
	if err != nil {
		uc.log.Warn("event publish failed", zap.String("event_type", pub.EventReconciliationFailure), zap.Error(err))
	}
}

func readReconcileInput(ctx context.Context, r repository.Reader, accountID string) (service.ReconcileInput, error) {
	acc, err := r.GetAccount(ctx, accountID)
	if err != nil {
		return service.ReconcileInput{}, err
	}
	txs, err := r.ListTransactionsByAccount(ctx, accountID)
	if err != nil {
		return service.ReconcileInput{}, fmt.Errorf("list transactions: %w", err)
	}
	pays, err := r.ListPaymentsByAccount(ctx, accountID)
	if err != nil {
		return service.ReconcileInput{}, fmt.Errorf("list payments: %w", err)
	}
	return service.ReconcileInput{Account: acc, Transactions: txs, Payments: pays}, nil
}

func ledgerKey(accountID string, q domain.LedgerQuery) string {
	key := accountID + "|" + string(q.Mode)
	if q.From != nil {
		key += "|f" + q.From.UTC().Format("20060102T150405.000000000")
	}
	if q.To != nil {
		key += "|t" + q.To.UTC().Format("20060102T150405.000000000")
	}
	if q.NewestFirst {
		key += "|desc"
	}
	return key
}
