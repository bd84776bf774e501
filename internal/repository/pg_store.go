package repository

import (
	"context"
	_ "embed"
	"fmt"

	"ledger-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PgStore is the Postgres backend. Each Atomically call is one pgx.Tx that row-locks its scope
// with SELECT ... FOR UPDATE before fn reads any balance.
type PgStore struct {
	db *pgxpool.Pool
}

// NewPgStore wraps an open pool; the pool is closed by Close.
func NewPgStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

// Migrate creates the ledger tables when they are missing
func (s *PgStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply ledger schema: %w", err)
	}
	return nil
}

// pgOps binds every table repo to the same querier
type pgOps struct {
	accountRepo
	transactionRepo
	paymentRepo
}

func newPgOps(q querier) pgOps {
	return pgOps{
		accountRepo:     accountRepo{q: q},
		transactionRepo: transactionRepo{q: q},
		paymentRepo:     paymentRepo{q: q},
	}
}

func (s *PgStore) CreateAccount(ctx context.Context, a *domain.Account) error {
	return accountRepo{q: s.db}.Create(ctx, a)
}

func (s *PgStore) Atomically(ctx context.Context, scope LockScope, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	ops := newPgOps(tx)
	// accounts before payments, matching LockScope.Keys
	if err := ops.lockAccounts(ctx, scope.sortedAccounts()); err != nil {
		return err
	}
	if err := ops.lockPayments(ctx, scope.sortedPayments()); err != nil {
		return err
	}

	if err := fn(ctx, guard(ops, scope)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PgStore) Snapshot(ctx context.Context, fn func(ctx context.Context, r Reader) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return fmt.Errorf("failed to begin snapshot: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, newPgOps(tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetReservation makes PgStore a ReservationDirectory over the shared reservations table.
func (s *PgStore) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	return reservationRepo{q: s.db}.GetReservation(ctx, id)
}

func (s *PgStore) Close() error {
	s.db.Close()
	return nil
}
