package usecase

import (
	"context"
	"testing"

	"ledger-service/internal/domain"
	"ledger-service/internal/repository"
	"ledger-service/internal/service"
	"ledger-service/pkg/utils"
	"ledger-service/pkg/xerrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettlementPartialPaymentThenRefund(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.reservations.Put(domain.Reservation{ID: "R1", ContractPrice: dec("10000")})

	p1, err := h.txs.ApplyPayment(ctx, "R1", nil, dec("3000"), domain.PaymentMethodCash, zeroTime, "kapora")
	require.NoError(t, err)

	s, err := h.settlements.GetReservationSettlement(ctx, "R1")
	require.NoError(t, err)
	requireDec(t, "3000", s.TotalPaid)
	requireDec(t, "7000", s.Remaining)
	assert.Equal(t, domain.SettlementStatusPending, s.Status)

	_, err = h.txs.ApplyRefund(ctx, p1.ID, dec("1000"), zeroTime, "")
	require.NoError(t, err)

	s, err = h.settlements.GetReservationSettlement(ctx, "R1")
	require.NoError(t, err)
	requireDec(t, "2000", s.TotalPaid)
	requireDec(t, "8000", s.Remaining)
	requireDec(t, "1000", s.TotalRefunded)
	assert.Equal(t, 2, s.PaymentCount)
	require.Len(t, s.Payments, 1)
	requireDec(t, "2000", s.Payments[0].Refundable)
}

func TestOutstandingTotalClampsOverpaid(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.reservations.Put(domain.Reservation{ID: "R1", ContractPrice: dec("10000")})
	h.reservations.Put(domain.Reservation{ID: "R2", ContractPrice: dec("5000")})
	h.reservations.Put(domain.Reservation{ID: "R3", ContractPrice: dec("800"), Cancelled: true})

	_, err := h.txs.ApplyPayment(ctx, "R1", nil, dec("3000"), domain.PaymentMethodCash, zeroTime, "")
	require.NoError(t, err)
	_, err = h.txs.ApplyPayment(ctx, "R2", nil, dec("6000"), domain.PaymentMethodCard, zeroTime, "")
	require.NoError(t, err)

	r2, err := h.settlements.ComputeReservationSettlement(ctx, "R2")
	require.NoError(t, err)
	requireDec(t, "-1000", r2.Remaining)
	assert.Equal(t, domain.SettlementStatusOverpaid, r2.Status)

	sum, err := h.settlements.GetOutstandingTotal(ctx, []string{"R1", "R2", "R3", "R1", ""})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Reservations)
	requireDec(t, "7000", sum.TotalOutstanding)
	requireDec(t, "1000", sum.TotalOverpaid)
	assert.Equal(t, 1, sum.ByStatus[domain.SettlementStatusPending])
	assert.Equal(t, 1, sum.ByStatus[domain.SettlementStatusOverpaid])
	assert.Equal(t, 1, sum.ByStatus[domain.SettlementStatusCancelled])
}

func TestSettlementUnknownReservation(t *testing.T) {
	h := newHarness(t)
	_, err := h.settlements.GetReservationSettlement(context.Background(), "R404")
	assert.ErrorIs(t, err, xerrors.ErrReservationNotFound)

	_, err = h.settlements.GetOutstandingTotal(context.Background(), []string{"R404"})
	assert.ErrorIs(t, err, xerrors.ErrReservationNotFound)
}

func TestPutReservationFeedsSettlement(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	res, err := h.settlements.PutReservation(ctx, &domain.Reservation{ID: " R1 ", ContractPrice: dec("10000")})
	require.NoError(t, err)
	assert.Equal(t, "R1", res.ID)

	_, err = h.txs.ApplyPayment(ctx, "R1", nil, dec("2500"), domain.PaymentMethodCash, zeroTime, "")
	require.NoError(t, err)
	s, err := h.settlements.GetReservationSettlement(ctx, "R1")
	require.NoError(t, err)
	requireDec(t, "7500", s.Remaining)

	// replacing the record flips the status
	_, err = h.settlements.PutReservation(ctx, &domain.Reservation{ID: "R1", ContractPrice: dec("10000"), Cancelled: true})
	require.NoError(t, err)
	s, err = h.settlements.GetReservationSettlement(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, domain.SettlementStatusCancelled, s.Status)

	_, err = h.settlements.PutReservation(ctx, &domain.Reservation{ID: "  ", ContractPrice: dec("1")})
	assert.ErrorIs(t, err, xerrors.ErrInvalidRequest)
	_, err = h.settlements.PutReservation(ctx, &domain.Reservation{ID: "R2", ContractPrice: dec("-1")})
	assert.ErrorIs(t, err, xerrors.ErrInvalidAmount)
	_, err = h.settlements.PutReservation(ctx, &domain.Reservation{ID: "R2", ContractPrice: dec("1.00001")})
	assert.ErrorIs(t, err, xerrors.ErrInvalidAmount)
}

type readOnlyDirectory struct{}

func (readOnlyDirectory) GetReservation(context.Context, string) (*domain.Reservation, error) {
	return nil, xerrors.ErrReservationNotFound
}

func TestPutReservationRefusedByReadOnlyDirectory(t *testing.T) {
	uc := NewSettlementUsecase(repository.NewMemoryStore(), readOnlyDirectory{}, service.NewSettlementCalculator(), nil, nil)
	_, err := uc.PutReservation(context.Background(), &domain.Reservation{ID: "R1", ContractPrice: dec("100")})
	assert.ErrorIs(t, err, xerrors.ErrReservationsReadOnly)
}

func TestSettlementCacheFillLosesToConcurrentPayment(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.reservations.Put(domain.Reservation{ID: "R1", ContractPrice: dec("10000")})

	views := newMemViews()
	store := &afterSnapshotStore{Store: h.store}
	settlements := NewSettlementUsecase(store, h.reservations, service.NewSettlementCalculator(), views, nil)
	txs := NewTransactionUsecase(h.store, h.reservations, domain.DefaultAmountLimits, utils.NewIDGenerator(), nil, views, nil)

	store.next = func() {
		_, err := txs.ApplyPayment(ctx, "R1", nil, dec("3000"), domain.PaymentMethodCash, zeroTime, "")
		require.NoError(t, err)
	}

	s, err := settlements.GetReservationSettlement(ctx, "R1")
	require.NoError(t, err)
	requireDec(t, "0", s.TotalPaid)
	assert.False(t, views.cached(nsSettlement, "R1"))

	s, err = settlements.GetReservationSettlement(ctx, "R1")
	require.NoError(t, err)
	requireDec(t, "3000", s.TotalPaid)
	requireDec(t, "7000", s.Remaining)
	assert.True(t, views.cached(nsSettlement, "R1"))
}
