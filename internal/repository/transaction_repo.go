package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/pkg/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type transactionRepo struct {
	q querier
}

const transactionSelect = `
	SELECT id, account_id, kind, amount::text, counter_account_id, linked_transaction_id,
	       description, occurred_at, created_at, is_cancelled, cancelled_at
	FROM transactions`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		t      domain.Transaction
		amount string
	)
	err := row.Scan(
		&t.ID, &t.AccountID, &t.Kind, &amount, &t.CounterAccountID, &t.LinkedTransactionID,
		&t.Description, &t.OccurredAt, &t.CreatedAt, &t.IsCancelled, &t.CancelledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("invalid amount on transaction %s: %w", t.ID, err)
	}
	return &t, nil
}

func (r transactionRepo) InsertTransaction(ctx context.Context, t *domain.Transaction) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO transactions (id, account_id, kind, amount, counter_account_id, linked_transaction_id,
		                          description, occurred_at, created_at, is_cancelled, cancelled_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.AccountID, string(t.Kind), t.Amount.String(), t.CounterAccountID, t.LinkedTransactionID,
		t.Description, t.OccurredAt, t.CreatedAt, t.IsCancelled, t.CancelledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (r transactionRepo) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return scanTransaction(r.q.QueryRow(ctx, transactionSelect+` WHERE id = $1`, id))
}

func (r transactionRepo) ListTransactionsByAccount(ctx context.Context, accountID string) ([]*domain.Transaction, error) {
	rows, err := r.q.Query(ctx,
		transactionSelect+` WHERE account_id = $1 OR counter_account_id = $1 ORDER BY created_at, id`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return out, nil
}

func (r transactionRepo) CancelTransaction(ctx context.Context, id string, at time.Time) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE transactions SET is_cancelled = TRUE, cancelled_at = $2 WHERE id = $1 AND NOT is_cancelled`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("failed to cancel transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetTransaction(ctx, id); err != nil {
			return err
		}
		return xerrors.ErrAlreadyCancelled
	}
	return nil
}
