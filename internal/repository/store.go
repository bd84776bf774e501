package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ledger-service/internal/domain"

	"github.com/shopspring/decimal"
)

// Reader is the read side shared by snapshots and write transactions.
// List methods return rows in creation order (created_at, id) and include cancelled rows.
type Reader interface {
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	ListAccounts(ctx context.Context) ([]*domain.Account, error)

	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	// ListTransactionsByAccount returns rows owned by the account and rows naming it as counter-party.
	ListTransactionsByAccount(ctx context.Context, accountID string) ([]*domain.Transaction, error)

	GetPayment(ctx context.Context, id string) (*domain.Payment, error)
	ListPaymentsByAccount(ctx context.Context, accountID string) ([]*domain.Payment, error)
	ListPaymentsByReservation(ctx context.Context, reservationID string) ([]*domain.Payment, error)
	ListRefunds(ctx context.Context, paymentID string) ([]*domain.Payment, error)
}

// Tx is a write transaction running under a held LockScope. Nothing is visible to other
// readers until the enclosing Atomically call returns nil.
type Tx interface {
	Reader

	InsertTransaction(ctx context.Context, t *domain.Transaction) error
	InsertPayment(ctx context.Context, p *domain.Payment) error
	UpdateBalance(ctx context.Context, accountID string, balance decimal.Decimal, at time.Time) error
	CancelTransaction(ctx context.Context, id string, at time.Time) error
	CancelPayment(ctx context.Context, id string, at time.Time) error
}

// Store owns accounts, the transaction ledger and the payment ledger.
type Store interface {
	CreateAccount(ctx context.Context, a *domain.Account) error

	// Atomically acquires scope, runs fn and commits every write fn made, or none of them.
	Atomically(ctx context.Context, scope LockScope, fn func(ctx context.Context, tx Tx) error) error

	// Snapshot runs fn against one consistent view of all three ledgers.
	Snapshot(ctx context.Context, fn func(ctx context.Context, r Reader) error) error

	Close() error
}

// ReservationDirectory is the read-only lookup into the reservation system.
type ReservationDirectory interface {
	GetReservation(ctx context.Context, id string) (*domain.Reservation, error)
}

// ReservationWriter is implemented by directories the ledger keeps itself (memory, gorm) rather
// than reading from the booking system's own database.
type ReservationWriter interface {
	PutReservation(ctx context.Context, r domain.Reservation) error
}

// LockScope names the rows an operation reads-then-writes.
type LockScope struct {
	AccountIDs []string
	PaymentIDs []string
}

// AccountScope locks the given accounts
func AccountScope(ids ...string) LockScope {
	return LockScope{AccountIDs: ids}
}

// WithPayment adds a payment row to the scope
func (s LockScope) WithPayment(ids ...string) LockScope {
	s.PaymentIDs = append(append([]string(nil), s.PaymentIDs...), ids...)
	return s
}

// Keys returns the scope as sorted, de-duplicated lock keys. Accounts sort before payments.
func (s LockScope) Keys() []string {
	seen := make(map[string]struct{})
	var keys []string
	add := func(k string) {
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	for _, id := range s.AccountIDs {
		if id != "" {
			add("account:" + id)
		}
	}
	for _, id := range s.PaymentIDs {
		if id != "" {
			add("payment:" + id)
		}
	}
	sort.Strings(keys)
	return keys
}

func (s LockScope) sortedAccounts() []string {
	return sortedUnique(s.AccountIDs)
}

func (s LockScope) sortedPayments() []string {
	return sortedUnique(s.PaymentIDs)
}

func (s LockScope) hasAccount(id string) bool {
	for _, a := range s.AccountIDs {
		if a == id {
			return true
		}
	}
	return false
}

func sortedUnique(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// guardedTx enforces the balance-write rules on top of any backend Tx:
// only accounts inside the held scope may be written, and each at most once per operation.
type guardedTx struct {
	Tx
	scope   LockScope
	written map[string]struct{}
}

func guard(tx Tx, scope LockScope) *guardedTx {
	return &guardedTx{Tx: tx, scope: scope, written: make(map[string]struct{})}
}

func (g *guardedTx) UpdateBalance(ctx context.Context, accountID string, balance decimal.Decimal, at time.Time) error {
	if !g.scope.hasAccount(accountID) {
		return fmt.Errorf("balance write on account %s outside the held lock scope", accountID)
	}
	if _, dup := g.written[accountID]; dup {
		return fmt.Errorf("balance of account %s already written in this operation", accountID)
	}
	if err := g.Tx.UpdateBalance(ctx, accountID, balance, at); err != nil {
		return err
	}
	g.written[accountID] = struct{}{}
	return nil
}
