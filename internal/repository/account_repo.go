package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/pkg/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type accountRepo struct {
	q querier
}

const accountSelect = `
	SELECT id, name, type, currency, opening_balance::text, current_balance::text, created_at, updated_at
	FROM accounts`

// scanAccount scans a row into a domain.Account
func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	var opening, current string
	err := row.Scan(&a.ID, &a.Name, &a.Type, &a.Currency, &opening, &current, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	if a.OpeningBalance, err = decimal.NewFromString(opening); err != nil {
		return nil, fmt.Errorf("invalid opening balance on account %s: %w", a.ID, err)
	}
	if a.CurrentBalance, err = decimal.NewFromString(current); err != nil {
		return nil, fmt.Errorf("invalid current balance on account %s: %w", a.ID, err)
	}
	return &a, nil
}

func (r accountRepo) Create(ctx context.Context, a *domain.Account) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO accounts (id, name, type, currency, opening_balance, current_balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8)`,
		a.ID, a.Name, string(a.Type), a.Currency, a.OpeningBalance.String(), a.CurrentBalance.String(), a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if xerrors.ParsePGErrorCode(err) == "23505" {
			return fmt.Errorf("account %s already exists: %w", a.ID, xerrors.ErrInvalidRequest)
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

func (r accountRepo) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	return scanAccount(r.q.QueryRow(ctx, accountSelect+` WHERE id = $1`, id))
}

func (r accountRepo) ListAccounts(ctx context.Context) ([]*domain.Account, error) {
	rows, err := r.q.Query(ctx, accountSelect+` ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var out []*domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return out, nil
}

func (r accountRepo) UpdateBalance(ctx context.Context, accountID string, balance decimal.Decimal, at time.Time) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE accounts SET current_balance = $2::numeric, updated_at = $3 WHERE id = $1`,
		accountID, balance.String(), at,
	)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrAccountNotFound
	}
	return nil
}

// lockAccounts takes row locks in id order; every id must exist.
func (r accountRepo) lockAccounts(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	rows, err := r.q.Query(ctx, `SELECT id FROM accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return fmt.Errorf("failed to lock accounts: %w", err)
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		n++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to lock accounts: %w", err)
	}
	if n != len(ids) {
		return xerrors.ErrAccountNotFound
	}
	return nil
}
