package repository

import (
	"context"
	"errors"
	"fmt"

	"ledger-service/internal/domain"
	"ledger-service/pkg/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// reservationRepo reads the reservations table owned by the booking system. The ledger never writes it.
type reservationRepo struct {
	q querier
}

func (r reservationRepo) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	var (
		res   domain.Reservation
		price string
	)
	err := r.q.QueryRow(ctx,
		`SELECT id, contract_price::text, cancelled FROM reservations WHERE id = $1`, id,
	).Scan(&res.ID, &price, &res.Cancelled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrReservationNotFound
		}
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	if res.ContractPrice, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("invalid contract price on reservation %s: %w", id, err)
	}
	return &res, nil
}
