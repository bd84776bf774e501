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

type paymentRepo struct {
	q querier
}

const paymentSelect = `
	SELECT id, reservation_id, account_id, amount::text, method, occurred_at, created_at,
	       notes, is_cancelled, cancelled_at, refund_of_payment_id
	FROM payments`

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var (
		p      domain.Payment
		amount string
	)
	err := row.Scan(
		&p.ID, &p.ReservationID, &p.AccountID, &amount, &p.Method, &p.OccurredAt, &p.CreatedAt,
		&p.Notes, &p.IsCancelled, &p.CancelledAt, &p.RefundOfPaymentID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to scan payment: %w", err)
	}
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("invalid amount on payment %s: %w", p.ID, err)
	}
	return &p, nil
}

func (r paymentRepo) InsertPayment(ctx context.Context, p *domain.Payment) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO payments (id, reservation_id, account_id, amount, method, occurred_at, created_at,
		                      notes, is_cancelled, cancelled_at, refund_of_payment_id)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.ReservationID, p.AccountID, p.Amount.String(), string(p.Method), p.OccurredAt, p.CreatedAt,
		p.Notes, p.IsCancelled, p.CancelledAt, p.RefundOfPaymentID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (r paymentRepo) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	return scanPayment(r.q.QueryRow(ctx, paymentSelect+` WHERE id = $1`, id))
}

func (r paymentRepo) ListPaymentsByAccount(ctx context.Context, accountID string) ([]*domain.Payment, error) {
	return r.list(ctx, ` WHERE account_id = $1`, accountID)
}

func (r paymentRepo) ListPaymentsByReservation(ctx context.Context, reservationID string) ([]*domain.Payment, error) {
	return r.list(ctx, ` WHERE reservation_id = $1`, reservationID)
}

func (r paymentRepo) ListRefunds(ctx context.Context, paymentID string) ([]*domain.Payment, error) {
	return r.list(ctx, ` WHERE refund_of_payment_id = $1`, paymentID)
}

func (r paymentRepo) list(ctx context.Context, where string, arg string) ([]*domain.Payment, error) {
	rows, err := r.q.Query(ctx, paymentSelect+where+` ORDER BY created_at, id`, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var out []*domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payments: %w", err)
	}
	return out, nil
}

func (r paymentRepo) CancelPayment(ctx context.Context, id string, at time.Time) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE payments SET is_cancelled = TRUE, cancelled_at = $2 WHERE id = $1 AND NOT is_cancelled`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("failed to cancel payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetPayment(ctx, id); err != nil {
			return err
		}
		return xerrors.ErrAlreadyCancelled
	}
	return nil
}

// lockPayments takes row locks in id order; missing rows are reported by the caller's reads.
func (r paymentRepo) lockPayments(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	rows, err := r.q.Query(ctx, `SELECT id FROM payments WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return fmt.Errorf("failed to lock payments: %w", err)
	}
	rows.Close()
	return rows.Err()
}
