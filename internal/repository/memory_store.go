package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/internal/pkg/keylock"
	"ledger-service/pkg/xerrors"

	"github.com/shopspring/decimal"
)

// MemoryStore keeps all three ledgers in process. Writers serialize per row through keylock and
// publish their staged changes under one store-wide write lock, so readers never see half an operation.
type MemoryStore struct {
	mu    sync.RWMutex
	locks *keylock.Locker

	accounts     map[string]*domain.Account
	accountOrder []string

	transactions map[string]*domain.Transaction
	txOrder      []string

	payments map[string]*domain.Payment
	payOrder []string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:        keylock.New(),
		accounts:     make(map[string]*domain.Account),
		transactions: make(map[string]*domain.Transaction),
		payments:     make(map[string]*domain.Payment),
	}
}

func (s *MemoryStore) CreateAccount(ctx context.Context, a *domain.Account) error {
	if a == nil || a.ID == "" {
		return xerrors.ErrInvalidRequest
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[a.ID]; exists {
		return fmt.Errorf("account %s already exists: %w", a.ID, xerrors.ErrInvalidRequest)
	}
	s.accounts[a.ID] = cloneAccount(a)
	s.accountOrder = append(s.accountOrder, a.ID)
	return nil
}

func (s *MemoryStore) Atomically(ctx context.Context, scope LockScope, fn func(ctx context.Context, tx Tx) error) error {
	unlock, err := s.locks.LockContext(ctx, scope.Keys()...)
	if err != nil {
		return fmt.Errorf("failed to acquire lock scope: %w", err)
	}
	defer unlock()

	tx := newMemTx(s)
	if err := fn(ctx, guard(tx, scope)); err != nil {
		return err
	}
	return tx.commit()
}

func (s *MemoryStore) Snapshot(ctx context.Context, fn func(ctx context.Context, r Reader) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(ctx, memView{s: s})
}

func (s *MemoryStore) Close() error { return nil }

// memView reads the maps directly. Callers hold s.mu.
type memView struct {
	s *MemoryStore
}

func (v memView) GetAccount(_ context.Context, id string) (*domain.Account, error) {
	a, ok := v.s.accounts[id]
	if !ok {
		return nil, xerrors.ErrAccountNotFound
	}
	return cloneAccount(a), nil
}

func (v memView) ListAccounts(_ context.Context) ([]*domain.Account, error) {
	out := make([]*domain.Account, 0, len(v.s.accountOrder))
	for _, id := range v.s.accountOrder {
		out = append(out, cloneAccount(v.s.accounts[id]))
	}
	return out, nil
}

func (v memView) GetTransaction(_ context.Context, id string) (*domain.Transaction, error) {
	t, ok := v.s.transactions[id]
	if !ok {
		return nil, xerrors.ErrTransactionNotFound
	}
	return cloneTransaction(t), nil
}

func (v memView) ListTransactionsByAccount(_ context.Context, accountID string) ([]*domain.Transaction, error) {
	var out []*domain.Transaction
	for _, id := range v.s.txOrder {
		t := v.s.transactions[id]
		if touchesAccount(t, accountID) {
			out = append(out, cloneTransaction(t))
		}
	}
	return out, nil
}

func (v memView) GetPayment(_ context.Context, id string) (*domain.Payment, error) {
	p, ok := v.s.payments[id]
	if !ok {
		return nil, xerrors.ErrPaymentNotFound
	}
	return clonePayment(p), nil
}

func (v memView) ListPaymentsByAccount(_ context.Context, accountID string) ([]*domain.Payment, error) {
	return v.filterPayments(func(p *domain.Payment) bool {
		return p.AccountID != nil && *p.AccountID == accountID
	}), nil
}

func (v memView) ListPaymentsByReservation(_ context.Context, reservationID string) ([]*domain.Payment, error) {
	return v.filterPayments(func(p *domain.Payment) bool {
		return p.ReservationID == reservationID
	}), nil
}

func (v memView) ListRefunds(_ context.Context, paymentID string) ([]*domain.Payment, error) {
	return v.filterPayments(func(p *domain.Payment) bool {
		return p.RefundOfPaymentID != nil && *p.RefundOfPaymentID == paymentID
	}), nil
}

func (v memView) filterPayments(keep func(p *domain.Payment) bool) []*domain.Payment {
	var out []*domain.Payment
	for _, id := range v.s.payOrder {
		p := v.s.payments[id]
		if keep(p) {
			out = append(out, clonePayment(p))
		}
	}
	return out
}

// memTx stages writes on top of the committed maps and reads its own writes.
type memTx struct {
	s *MemoryStore

	accounts map[string]*domain.Account

	newTx     []*domain.Transaction
	txChanged map[string]*domain.Transaction

	newPay     []*domain.Payment
	payChanged map[string]*domain.Payment
}

func newMemTx(s *MemoryStore) *memTx {
	return &memTx{
		s:          s,
		accounts:   make(map[string]*domain.Account),
		txChanged:  make(map[string]*domain.Transaction),
		payChanged: make(map[string]*domain.Payment),
	}
}

func (t *memTx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, a := range t.accounts {
		if _, ok := s.accounts[id]; !ok {
			return fmt.Errorf("commit: account %s vanished: %w", id, xerrors.ErrAccountNotFound)
		}
		s.accounts[id] = a
	}
	for id, row := range t.txChanged {
		s.transactions[id] = row
	}
	for _, row := range t.newTx {
		s.transactions[row.ID] = row
		s.txOrder = append(s.txOrder, row.ID)
	}
	for id, row := range t.payChanged {
		s.payments[id] = row
	}
	for _, row := range t.newPay {
		s.payments[row.ID] = row
		s.payOrder = append(s.payOrder, row.ID)
	}
	return nil
}

func (t *memTx) base() (memView, func()) {
	t.s.mu.RLock()
	return memView{s: t.s}, t.s.mu.RUnlock
}

func (t *memTx) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	if a, ok := t.accounts[id]; ok {
		return cloneAccount(a), nil
	}
	v, done := t.base()
	defer done()
	return v.GetAccount(ctx, id)
}

func (t *memTx) ListAccounts(ctx context.Context) ([]*domain.Account, error) {
	v, done := t.base()
	list, err := v.ListAccounts(ctx)
	done()
	if err != nil {
		return nil, err
	}
	for i, a := range list {
		if staged, ok := t.accounts[a.ID]; ok {
			list[i] = cloneAccount(staged)
		}
	}
	return list, nil
}

func (t *memTx) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	if row, ok := t.txChanged[id]; ok {
		return cloneTransaction(row), nil
	}
	for _, row := range t.newTx {
		if row.ID == id {
			return cloneTransaction(row), nil
		}
	}
	v, done := t.base()
	defer done()
	return v.GetTransaction(ctx, id)
}

func (t *memTx) ListTransactionsByAccount(ctx context.Context, accountID string) ([]*domain.Transaction, error) {
	v, done := t.base()
	list, err := v.ListTransactionsByAccount(ctx, accountID)
	done()
	if err != nil {
		return nil, err
	}
	for i, row := range list {
		if staged, ok := t.txChanged[row.ID]; ok {
			list[i] = cloneTransaction(staged)
		}
	}
	for _, row := range t.newTx {
		if touchesAccount(row, accountID) {
			list = append(list, cloneTransaction(row))
		}
	}
	return list, nil
}

func (t *memTx) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	if row, ok := t.payChanged[id]; ok {
		return clonePayment(row), nil
	}
	for _, row := range t.newPay {
		if row.ID == id {
			return clonePayment(row), nil
		}
	}
	v, done := t.base()
	defer done()
	return v.GetPayment(ctx, id)
}

func (t *memTx) ListPaymentsByAccount(ctx context.Context, accountID string) ([]*domain.Payment, error) {
	return t.listPayments(ctx, func(p *domain.Payment) bool {
		return p.AccountID != nil && *p.AccountID == accountID
	})
}

func (t *memTx) ListPaymentsByReservation(ctx context.Context, reservationID string) ([]*domain.Payment, error) {
	return t.listPayments(ctx, func(p *domain.Payment) bool {
		return p.ReservationID == reservationID
	})
}

func (t *memTx) ListRefunds(ctx context.Context, paymentID string) ([]*domain.Payment, error) {
	return t.listPayments(ctx, func(p *domain.Payment) bool {
		return p.RefundOfPaymentID != nil && *p.RefundOfPaymentID == paymentID
	})
}

func (t *memTx) listPayments(_ context.Context, keep func(p *domain.Payment) bool) ([]*domain.Payment, error) {
	v, done := t.base()
	list := v.filterPayments(keep)
	done()
	for i, row := range list {
		if staged, ok := t.payChanged[row.ID]; ok {
			list[i] = clonePayment(staged)
		}
	}
	for _, row := range t.newPay {
		if keep(row) {
			list = append(list, clonePayment(row))
		}
	}
	return list, nil
}

func (t *memTx) InsertTransaction(ctx context.Context, row *domain.Transaction) error {
	if row == nil || row.ID == "" {
		return xerrors.ErrInvalidRequest
	}
	if _, err := t.GetTransaction(ctx, row.ID); err == nil {
		return fmt.Errorf("transaction %s already exists: %w", row.ID, xerrors.ErrInvalidRequest)
	}
	if _, err := t.GetAccount(ctx, row.AccountID); err != nil {
		return err
	}
	t.newTx = append(t.newTx, cloneTransaction(row))
	return nil
}

func (t *memTx) InsertPayment(ctx context.Context, row *domain.Payment) error {
	if row == nil || row.ID == "" {
		return xerrors.ErrInvalidRequest
	}
	if _, err := t.GetPayment(ctx, row.ID); err == nil {
		return fmt.Errorf("payment %s already exists: %w", row.ID, xerrors.ErrInvalidRequest)
	}
	if row.HasAccount() {
		if _, err := t.GetAccount(ctx, *row.AccountID); err != nil {
			return err
		}
	}
	t.newPay = append(t.newPay, clonePayment(row))
	return nil
}

func (t *memTx) UpdateBalance(ctx context.Context, accountID string, balance decimal.Decimal, at time.Time) error {
	a, err := t.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	a.CurrentBalance = balance
	a.UpdatedAt = at
	t.accounts[accountID] = a
	return nil
}

func (t *memTx) CancelTransaction(ctx context.Context, id string, at time.Time) error {
	row, err := t.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	if row.IsCancelled {
		return xerrors.ErrAlreadyCancelled
	}
	row.IsCancelled = true
	row.CancelledAt = &at
	if t.replaceNewTx(row) {
		return nil
	}
	t.txChanged[id] = row
	return nil
}

func (t *memTx) CancelPayment(ctx context.Context, id string, at time.Time) error {
	row, err := t.GetPayment(ctx, id)
	if err != nil {
		return err
	}
	if row.IsCancelled {
		return xerrors.ErrAlreadyCancelled
	}
	row.IsCancelled = true
	row.CancelledAt = &at
	for i, staged := range t.newPay {
		if staged.ID == id {
			t.newPay[i] = row
			return nil
		}
	}
	t.payChanged[id] = row
	return nil
}

func (t *memTx) replaceNewTx(row *domain.Transaction) bool {
	for i, staged := range t.newTx {
		if staged.ID == row.ID {
			t.newTx[i] = row
			return true
		}
	}
	return false
}

func touchesAccount(t *domain.Transaction, accountID string) bool {
	return t.AccountID == accountID || (t.CounterAccountID != nil && *t.CounterAccountID == accountID)
}

func cloneAccount(a *domain.Account) *domain.Account {
	c := *a
	return &c
}

func cloneTransaction(t *domain.Transaction) *domain.Transaction {
	c := *t
	c.CounterAccountID = cloneString(t.CounterAccountID)
	c.LinkedTransactionID = cloneString(t.LinkedTransactionID)
	c.CancelledAt = cloneTime(t.CancelledAt)
	return &c
}

func clonePayment(p *domain.Payment) *domain.Payment {
	c := *p
	c.AccountID = cloneString(p.AccountID)
	c.RefundOfPaymentID = cloneString(p.RefundOfPaymentID)
	c.CancelledAt = cloneTime(p.CancelledAt)
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
