package usecase

import (
	"context"
	"strings"

	"ledger-service/internal/domain"
	"ledger-service/internal/repository"
	"ledger-service/internal/service"
	"ledger-service/pkg/xerrors"

	"go.uber.org/zap"
)

type SettlementUsecase struct {
	store        repository.Store
	reservations repository.ReservationDirectory
	calc         *service.SettlementCalculator
	cache        ViewCache
	log          *zap.Logger
}

func NewSettlementUsecase(
	store repository.Store,
	reservations repository.ReservationDirectory,
	calc *service.SettlementCalculator,
	c ViewCache,
	logger *zap.Logger,
) *SettlementUsecase {
	return &SettlementUsecase{
		store:        store,
		reservations: reservations,
		calc:         calc,
		cache:        orNoCache(c),
		log:          orNopLogger(logger),
	}
}

// GetReservationSettlement reads through the settlement cache. Writes touching the reservation
// invalidate its entry.
func (uc *SettlementUsecase) GetReservationSettlement(ctx context.Context, reservationID string) (*domain.Settlement, error) {
	return readThrough(ctx, uc.cache, uc.log, nsSettlement, reservationID, settlementTTL, func(ctx context.Context) (*domain.Settlement, error) {
		return uc.ComputeReservationSettlement(ctx, reservationID)
	})
}

// ComputeReservationSettlement always recomputes from the payment rows.
func (uc *SettlementUsecase) ComputeReservationSettlement(ctx context.Context, reservationID string) (*domain.Settlement, error) {
	reservationID = strings.TrimSpace(reservationID)
	if reservationID == "" {
		return nil, xerrors.ErrInvalidRequest
	}
	res, err := uc.reservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	var payments []*domain.Payment
	err = uc.store.Snapshot(ctx, func(ctx context.Context, r repository.Reader) error {
		var err error
		payments, err = r.ListPaymentsByReservation(ctx, reservationID)
		return err
	})
	if err != nil {
		uc.log.Error("failed to load reservation payments", zap.String("reservation_id", reservationID), zap.Error(err))
		return nil, err
	}

	s := uc.calc.Compute(res, payments)
	return &s, nil
}

// GetOutstandingTotal sums what is still owed across reservations. Duplicate ids count once.
func (uc *SettlementUsecase) GetOutstandingTotal(ctx context.Context, reservationIDs []string) (*domain.OutstandingSummary, error) {
	seen := make(map[string]struct{}, len(reservationIDs))
	settlements := make([]domain.Settlement, 0, len(reservationIDs))
	for _, id := range reservationIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		s, err := uc.ComputeReservationSettlement(ctx, id)
		if err != nil {
			return nil, err
		}
		settlements = append(settlements, *s)
	}
	sum := uc.calc.Summarize(settlements)
	return &sum, nil
}

// PutReservation records or replaces a reservation in a directory the ledger keeps itself.
// Directories backed by the booking system reject it with ErrReservationsReadOnly.
func (uc *SettlementUsecase) PutReservation(ctx context.Context, r *domain.Reservation) (*domain.Reservation, error) {
	if r == nil {
		return nil, xerrors.ErrInvalidRequest
	}
	res := domain.Reservation{ID: strings.TrimSpace(r.ID), ContractPrice: r.ContractPrice, Cancelled: r.Cancelled}
	if res.ID == "" {
		return nil, xerrors.ErrInvalidRequest
	}
	if err := (domain.AmountLimits{Scale: domain.MaxAmountScale}).ValidateBalance(res.ContractPrice); err != nil {
		return nil, err
	}
	w, ok := uc.reservations.(repository.ReservationWriter)
	if !ok {
		return nil, xerrors.ErrReservationsReadOnly
	}
	if err := w.PutReservation(ctx, res); err != nil {
		logRejection(uc.log, "put_reservation", err, zap.String("reservation_id", res.ID))
		return nil, err
	}
	invalidate(ctx, uc.cache, uc.log, nsSettlement, res.ID)

	uc.log.Info("reservation saved",
		zap.String("reservation_id", res.ID),
		zap.String("contract_price", res.ContractPrice.String()),
		zap.Bool("cancelled", res.Cancelled),
	)
	return &res, nil
}

func (uc *SettlementUsecase) reservation(ctx context.Context, id string) (*domain.Reservation, error) {
	if uc.reservations == nil {
		return nil, xerrors.ErrReservationNotFound
	}
	return uc.reservations.GetReservation(ctx, id)
}
