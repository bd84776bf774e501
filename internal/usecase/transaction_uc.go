package usecase

import (
	"context"
	"sort"
	"strings"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/internal/pub"
	"ledger-service/internal/repository"
	"ledger-service/pkg/utils"
	"ledger-service/pkg/xerrors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TransactionUsecase is the only writer of account balances. Every operation runs inside one
// Store.Atomically call whose lock scope covers each row it reads and then writes.
type TransactionUsecase struct {
	store        repository.Store
	reservations repository.ReservationDirectory // optional
	limits       domain.AmountLimits
	ids          *utils.IDGenerator
	publisher    pub.Publisher
	cache        ViewCache
	log          *zap.Logger
	now          Clock
}

func NewTransactionUsecase(
	store repository.Store,
	reservations repository.ReservationDirectory,
	limits domain.AmountLimits,
	ids *utils.IDGenerator,
	publisher pub.Publisher,
	c ViewCache,
	logger *zap.Logger,
	opts ...Option,
) *TransactionUsecase {
	o := buildOptions(opts)
	return &TransactionUsecase{
		store:        store,
		reservations: reservations,
		limits:       limits,
		ids:          ids,
		publisher:    orNop(publisher),
		cache:        orNoCache(c),
		log:          orNopLogger(logger),
		now:          o.now,
	}
}

// ===============================
// PRODUCED OPERATIONS
// ===============================

// CreateTransaction records a single-account movement. Transfer kinds must go through CreateTransfer.
func (uc *TransactionUsecase) CreateTransaction(ctx context.Context, req *domain.TransactionRequest) (*domain.Transaction, error) {
	switch req.Kind {
	case domain.TransactionKindIncome:
		return uc.ApplyDeposit(ctx, req.AccountID, req.Amount, req.OccurredAt, req.Description)
	case domain.TransactionKindExpense:
		return uc.ApplyWithdrawal(ctx, req.AccountID, req.Amount, req.OccurredAt, req.Description)
	default:
		return nil, xerrors.ErrInvalidTransactionKind
	}
}

func (uc *TransactionUsecase) CreateTransfer(ctx context.Context, req *domain.TransferRequest) (*domain.TransferResult, error) {
	return uc.ApplyTransfer(ctx, req.SourceID, req.DestID, req.Amount, req.OccurredAt, req.Description)
}

func (uc *TransactionUsecase) CreatePayment(ctx context.Context, req *domain.PaymentRequest) (*domain.Payment, error) {
	return uc.ApplyPayment(ctx, req.ReservationID, req.AccountID, req.Amount, req.Method, req.OccurredAt, req.Notes)
}

func (uc *TransactionUsecase) CreateRefund(ctx context.Context, req *domain.RefundRequest) (*domain.Payment, error) {
	return uc.ApplyRefund(ctx, req.OriginalPaymentID, req.Amount, req.OccurredAt, req.Notes)
}

// ===============================
// APPLY
// ===============================

// ApplyDeposit credits the account with an income row.
func (uc *TransactionUsecase) ApplyDeposit(ctx context.Context, accountID string, amount decimal.Decimal, occurredAt time.Time, description string) (*domain.Transaction, error) {
	return uc.applySingle(ctx, "deposit", accountID, domain.TransactionKindIncome, amount, occurredAt, description)
}

// ApplyWithdrawal debits the account with an expense row; it never overdraws.
func (uc *TransactionUsecase) ApplyWithdrawal(ctx context.Context, accountID string, amount decimal.Decimal, occurredAt time.Time, description string) (*domain.Transaction, error) {
	return uc.applySingle(ctx, "withdrawal", accountID, domain.TransactionKindExpense, amount, occurredAt, description)
}

func (uc *TransactionUsecase) applySingle(
	ctx context.Context,
	op, accountID string,
	kind domain.TransactionKind,
	amount decimal.Decimal,
	occurredAt time.Time,
	description string,
) (*domain.Transaction, error) {
	if err := uc.limits.Validate(amount); err != nil {
		return nil, err
	}

	now := uc.now()
	row := &domain.Transaction{
		ID:          uc.ids.TransactionID(),
		AccountID:   accountID,
		Kind:        kind,
		Amount:      amount,
		Description: strings.TrimSpace(description),
		OccurredAt:  orNow(occurredAt, now),
		CreatedAt:   now,
	}

	var balance decimal.Decimal
	err := uc.store.Atomically(ctx, repository.AccountScope(accountID), func(ctx context.Context, tx repository.Tx) error {
		acc, err := tx.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if kind.IsDebit() && !acc.CanDebit(amount) {
			return xerrors.ErrInsufficientFunds
		}
		if err := tx.InsertTransaction(ctx, row); err != nil {
			return err
		}
		balance = acc.CurrentBalance.Add(row.SignedDelta())
		return tx.UpdateBalance(ctx, accountID, balance, now)
	})
	if err != nil {
		logRejection(uc.log, op, err, zap.String("account_id", accountID), zap.String("amount", amount.String()))
		return nil, err
	}

	uc.log.Info("transaction applied",
		zap.String("op", op),
		zap.String("transaction_id", row.ID),
		zap.String("account_id", accountID),
		zap.String("amount", amount.String()),
		zap.String("balance_after", balance.String()),
	)
	uc.afterCommit(ctx, &pub.LedgerEvent{
		EventType:  pub.EventTransactionCreated,
		EntityID:   row.ID,
		AccountIDs: []string{accountID},
		Amount:     row.SignedDelta(),
		Metadata:   map[string]string{"kind": string(kind)},
	}, "")
	return row, nil
}

// ApplyTransfer moves amount from source to dest as two linked legs committed together.
func (uc *TransactionUsecase) ApplyTransfer(ctx context.Context, sourceID, destID string, amount decimal.Decimal, occurredAt time.Time, description string) (*domain.TransferResult, error) {
	if err := uc.limits.Validate(amount); err != nil {
		return nil, err
	}
	if sourceID == destID {
		return nil, xerrors.ErrSameAccountTransfer
	}

	now := uc.now()
	at := orNow(occurredAt, now)
	outID, inID := uc.ids.TransactionID(), uc.ids.TransactionID()
	desc := strings.TrimSpace(description)
	out := &domain.Transaction{
		ID: outID, AccountID: sourceID, Kind: domain.TransactionKindTransferOut, Amount: amount,
		CounterAccountID: &destID, LinkedTransactionID: &inID, Description: desc, OccurredAt: at, CreatedAt: now,
	}
	in := &domain.Transaction{
		ID: inID, AccountID: destID, Kind: domain.TransactionKindTransferIn, Amount: amount,
		CounterAccountID: &sourceID, LinkedTransactionID: &outID, Description: desc, OccurredAt: at, CreatedAt: now,
	}

	err := uc.store.Atomically(ctx, repository.AccountScope(sourceID, destID), func(ctx context.Context, tx repository.Tx) error {
		src, err := tx.GetAccount(ctx, sourceID)
		if err != nil {
			return err
		}
		dst, err := tx.GetAccount(ctx, destID)
		if err != nil {
			return err
		}
		if src.Currency != dst.Currency {
			return xerrors.ErrCurrencyMismatch
		}
		if !src.CanDebit(amount) {
			return xerrors.ErrInsufficientFunds
		}
		if err := tx.InsertTransaction(ctx, out); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, in); err != nil {
			return err
		}
		if err := tx.UpdateBalance(ctx, sourceID, src.CurrentBalance.Sub(amount), now); err != nil {
			return err
		}
		return tx.UpdateBalance(ctx, destID, dst.CurrentBalance.Add(amount), now)
	})
	if err != nil {
		logRejection(uc.log, "transfer", err,
			zap.String("source_id", sourceID), zap.String("dest_id", destID), zap.String("amount", amount.String()))
		return nil, err
	}

	uc.log.Info("transfer applied",
		zap.String("out_id", outID),
		zap.String("in_id", inID),
		zap.String("source_id", sourceID),
		zap.String("dest_id", destID),
		zap.String("amount", amount.String()),
	)
	uc.afterCommit(ctx, &pub.LedgerEvent{
		EventType:  pub.EventTransferCreated,
		EntityID:   outID,
		AccountIDs: []string{sourceID, destID},
		Amount:     amount,
		Metadata:   map[string]string{"linked_transaction_id": inID},
	}, "")
	return &domain.TransferResult{Out: out, In: in}, nil
}

// ApplyPayment records a positive settlement against a reservation and credits the account when one is given.
func (uc *TransactionUsecase) ApplyPayment(
	ctx context.Context,
	reservationID string,
	accountID *string,
	amount decimal.Decimal,
	method domain.PaymentMethod,
	occurredAt time.Time,
	notes string,
) (*domain.Payment, error) {
	if err := uc.limits.Validate(amount); err != nil {
		return nil, err
	}
	if !method.IsValid() {
		return nil, xerrors.ErrInvalidPaymentMethod
	}
	reservationID = strings.TrimSpace(reservationID)
	if reservationID == "" {
		return nil, xerrors.ErrInvalidRequest
	}
	if accountID != nil && *accountID == "" {
		accountID = nil
	}
	if uc.reservations != nil {
		if _, err := uc.reservations.GetReservation(ctx, reservationID); err != nil {
			logRejection(uc.log, "payment", err, zap.String("reservation_id", reservationID))
			return nil, err
		}
	}

	now := uc.now()
	row := &domain.Payment{
		ID:            uc.ids.PaymentID(),
		ReservationID: reservationID,
		AccountID:     accountID,
		Amount:        amount,
		Method:        method,
		OccurredAt:    orNow(occurredAt, now),
		CreatedAt:     now,
		Notes:         strings.TrimSpace(notes),
	}

	// a new row has nothing to lock; only the credited account is read-then-written
	var scope repository.LockScope
	if row.HasAccount() {
		scope = repository.AccountScope(*accountID)
	}
	err := uc.store.Atomically(ctx, scope, func(ctx context.Context, tx repository.Tx) error {
		if !row.HasAccount() {
			return tx.InsertPayment(ctx, row)
		}
		acc, err := tx.GetAccount(ctx, *accountID)
		if err != nil {
			return err
		}
		if err := tx.InsertPayment(ctx, row); err != nil {
			return err
		}
		return tx.UpdateBalance(ctx, acc.ID, acc.CurrentBalance.Add(amount), now)
	})
	if err != nil {
		logRejection(uc.log, "payment", err, zap.String("reservation_id", reservationID), zap.String("amount", amount.String()))
		return nil, err
	}

	uc.log.Info("payment applied",
		zap.String("payment_id", row.ID),
		zap.String("reservation_id", reservationID),
		zap.String("amount", amount.String()),
		zap.String("method", string(method)),
	)
	uc.afterCommit(ctx, &pub.LedgerEvent{
		EventType:     pub.EventPaymentCreated,
		EntityID:      row.ID,
		AccountIDs:    accountIDs(row),
		ReservationID: reservationID,
		Amount:        amount,
		Metadata:      map[string]string{"method": string(method)},
	}, reservationID)
	return row, nil
}

// ApplyRefund refunds amount (a magnitude) of an earlier payment. Refunds against one original
// are bounded cumulatively by the original's magnitude.
func (uc *TransactionUsecase) ApplyRefund(ctx context.Context, originalPaymentID string, amount decimal.Decimal, occurredAt time.Time, notes string) (*domain.Payment, error) {
	if err := uc.limits.Validate(amount); err != nil {
		return nil, err
	}

	// the original's account is immutable, so it can be read before the scope is taken
	orig, err := uc.peekPayment(ctx, originalPaymentID)
	if err != nil {
		logRejection(uc.log, "refund", err, zap.String("payment_id", originalPaymentID))
		return nil, err
	}
	if orig.IsRefund() {
		return nil, xerrors.ErrInvalidRequest
	}

	now := uc.now()
	row := &domain.Payment{
		ID:                uc.ids.PaymentID(),
		ReservationID:     orig.ReservationID,
		AccountID:         orig.AccountID,
		Method:            orig.Method,
		OccurredAt:        orNow(occurredAt, now),
		CreatedAt:         now,
		Notes:             strings.TrimSpace(notes),
		RefundOfPaymentID: &orig.ID,
	}

	scope := repository.LockScope{}.WithPayment(orig.ID)
	if orig.HasAccount() {
		scope.AccountIDs = []string{*orig.AccountID}
	}
	err = uc.store.Atomically(ctx, scope, func(ctx context.Context, tx repository.Tx) error {
		current, err := tx.GetPayment(ctx, orig.ID)
		if err != nil {
			return err
		}
		if current.IsCancelled {
			return xerrors.ErrOriginalCancelled
		}
		refunds, err := tx.ListRefunds(ctx, current.ID)
		if err != nil {
			return err
		}
		if amount.GreaterThan(current.Refundable(refunds)) {
			return xerrors.ErrRefundExceedsOriginal
		}
		row.Amount = current.RefundAmount(amount)

		if err := tx.InsertPayment(ctx, row); err != nil {
			return err
		}
		if !row.HasAccount() {
			return nil
		}
		acc, err := tx.GetAccount(ctx, *row.AccountID)
		if err != nil {
			return err
		}
		return tx.UpdateBalance(ctx, acc.ID, acc.CurrentBalance.Add(row.Amount), now)
	})
	if err != nil {
		logRejection(uc.log, "refund", err, zap.String("payment_id", originalPaymentID), zap.String("amount", amount.String()))
		return nil, err
	}

	uc.log.Info("refund applied",
		zap.String("refund_id", row.ID),
		zap.String("original_payment_id", orig.ID),
		zap.String("reservation_id", row.ReservationID),
		zap.String("amount", row.Amount.String()),
	)
	uc.afterCommit(ctx, &pub.LedgerEvent{
		EventType:     pub.EventPaymentRefunded,
		EntityID:      row.ID,
		AccountIDs:    accountIDs(row),
		ReservationID: row.ReservationID,
		Amount:        row.Amount,
		Metadata:      map[string]string{"refund_of_payment_id": orig.ID},
	}, row.ReservationID)
	return row, nil
}

// ===============================
// CANCELLATION
// ===============================

// CancelTransaction soft-cancels a transaction and reverses its balance effect. Cancelling either
// leg of a transfer cancels both.
func (uc *TransactionUsecase) CancelTransaction(ctx context.Context, transactionID string) ([]*domain.Transaction, error) {
	var peek []*domain.Transaction
	err := uc.store.Snapshot(ctx, func(ctx context.Context, r repository.Reader) error {
		row, err := r.GetTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		peek = append(peek, row)
		if row.LinkedTransactionID != nil {
			linked, err := r.GetTransaction(ctx, *row.LinkedTransactionID)
			if err != nil {
				return err
			}
			peek = append(peek, linked)
		}
		return nil
	})
	if err != nil {
		logRejection(uc.log, "cancel_transaction", err, zap.String("transaction_id", transactionID))
		return nil, err
	}

	now := uc.now()
	var cancelled []*domain.Transaction
	var touched []string
	err = uc.store.Atomically(ctx, repository.AccountScope(effectAccounts(peek)...), func(ctx context.Context, tx repository.Tx) error {
		cancelled = cancelled[:0]
		for _, p := range peek {
			row, err := tx.GetTransaction(ctx, p.ID)
			if err != nil {
				return err
			}
			if row.IsCancelled {
				return xerrors.ErrAlreadyCancelled
			}
			cancelled = append(cancelled, row)
		}

		effects := make(map[string]decimal.Decimal)
		for _, row := range cancelled {
			effects[row.AccountID] = effects[row.AccountID].Add(row.SignedDelta())
			if isSingleEntryTransfer(row) {
				effects[*row.CounterAccountID] = effects[*row.CounterAccountID].Sub(row.SignedDelta())
			}
		}
		touched = touched[:0]
		for _, id := range effectAccounts(cancelled) {
			if err := reverse(ctx, tx, id, effects[id], now); err != nil {
				return err
			}
			touched = append(touched, id)
		}

		for _, row := range cancelled {
			if err := tx.CancelTransaction(ctx, row.ID, now); err != nil {
				return err
			}
			row.IsCancelled = true
			row.CancelledAt = &now
		}
		return nil
	})
	if err != nil {
		logRejection(uc.log, "cancel_transaction", err, zap.String("transaction_id", transactionID))
		return nil, err
	}

	uc.log.Info("transaction cancelled", zap.String("transaction_id", transactionID), zap.Int("rows", len(cancelled)))
	uc.afterCommit(ctx, &pub.LedgerEvent{
		EventType:  pub.EventTransactionCancelled,
		EntityID:   transactionID,
		AccountIDs: touched,
		Amount:     cancelled[0].Amount,
	}, "")
	return cancelled, nil
}

// CancelPayment soft-cancels a payment or refund and reverses its account effect. An original
// payment with active refunds must have those refunds cancelled first.
func (uc *TransactionUsecase) CancelPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	peek, err := uc.peekPayment(ctx, paymentID)
	if err != nil {
		logRejection(uc.log, "cancel_payment", err, zap.String("payment_id", paymentID))
		return nil, err
	}

	scope := repository.LockScope{}.WithPayment(peek.ID)
	if peek.IsRefund() {
		scope = scope.WithPayment(*peek.RefundOfPaymentID)
	}
	if peek.HasAccount() {
		scope.AccountIDs = []string{*peek.AccountID}
	}

	now := uc.now()
	var row *domain.Payment
	err = uc.store.Atomically(ctx, scope, func(ctx context.Context, tx repository.Tx) error {
		var err error
		row, err = tx.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if row.IsCancelled {
			return xerrors.ErrAlreadyCancelled
		}
		if !row.IsRefund() {
			refunds, err := tx.ListRefunds(ctx, row.ID)
			if err != nil {
				return err
			}
			if row.RefundedTotal(refunds).IsPositive() {
				return xerrors.ErrHasActiveRefunds
			}
		}
		if row.HasAccount() {
			if err := reverse(ctx, tx, *row.AccountID, row.Amount, now); err != nil {
				return err
			}
		}
		if err := tx.CancelPayment(ctx, row.ID, now); err != nil {
			return err
		}
		row.IsCancelled = true
		row.CancelledAt = &now
		return nil
	})
	if err != nil {
		logRejection(uc.log, "cancel_payment", err, zap.String("payment_id", paymentID))
		return nil, err
	}

	uc.log.Info("payment cancelled", zap.String("payment_id", row.ID), zap.String("reservation_id", row.ReservationID))
	uc.afterCommit(ctx, &pub.LedgerEvent{
		EventType:     pub.EventPaymentCancelled,
		EntityID:      row.ID,
		AccountIDs:    accountIDs(row),
		ReservationID: row.ReservationID,
		Amount:        row.Amount,
	}, row.ReservationID)
	return row, nil
}

// reverse undoes effect on the account; taking money back out is subject to the no-overdraft rule.
func reverse(ctx context.Context, tx repository.Tx, accountID string, effect decimal.Decimal, at time.Time) error {
	if effect.IsZero() {
		return nil
	}
	acc, err := tx.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if effect.IsPositive() && !acc.CanDebit(effect) {
		return xerrors.ErrInsufficientFunds
	}
	return tx.UpdateBalance(ctx, accountID, acc.CurrentBalance.Sub(effect), at)
}

// ===============================
// HELPERS
// ===============================

func (uc *TransactionUsecase) peekPayment(ctx context.Context, id string) (*domain.Payment, error) {
	var p *domain.Payment
	err := uc.store.Snapshot(ctx, func(ctx context.Context, r repository.Reader) error {
		var err error
		p, err = r.GetPayment(ctx, id)
		return err
	})
	return p, err
}

// afterCommit publishes the event and drops cache entries the write made stale.
// Neither can fail the operation: the write is already committed.
func (uc *TransactionUsecase) afterCommit(ctx context.Context, event *pub.LedgerEvent, reservationID string) {
	if len(event.AccountIDs) > 0 {
		invalidate(ctx, uc.cache, uc.log, nsAccount, event.AccountIDs...)
	}
	if reservationID != "" {
		invalidate(ctx, uc.cache, uc.log, nsSettlement, reservationID)
	}
	event.Timestamp = uc.now()
	if err := uc.publisher.Publish(ctx, event); err != nil {
		uc.log.Warn("event publish failed", zap.String("event_type", event.EventType), zap.String("entity_id", event.EntityID), zap.Error(err))
	}
}

// effectAccounts lists, sorted and de-duplicated, every account whose balance rows affect.
func effectAccounts(rows []*domain.Transaction) []string {
	var ids []string
	seen := make(map[string]bool)
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, row := range rows {
		add(row.AccountID)
		if isSingleEntryTransfer(row) {
			add(*row.CounterAccountID)
		}
	}
	sort.Strings(ids)
	return ids
}

// isSingleEntryTransfer marks legacy transfer rows that carry both sides of the movement.
func isSingleEntryTransfer(t *domain.Transaction) bool {
	return t.Kind.IsTransfer() && t.LinkedTransactionID == nil && t.CounterAccountID != nil
}

func accountIDs(p *domain.Payment) []string {
	if !p.HasAccount() {
		return nil
	}
	return []string{*p.AccountID}
}

func orNow(t, now time.Time) time.Time {
	if t.IsZero() {
		return now
	}
	return t
}
