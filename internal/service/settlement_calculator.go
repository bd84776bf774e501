package service

import (
	"ledger-service/internal/domain"

	"github.com/shopspring/decimal"
)

// SettlementCalculator derives paid/remaining/status figures from a reservation's payment rows.
type SettlementCalculator struct{}

func NewSettlementCalculator() *SettlementCalculator {
	return &SettlementCalculator{}
}

// Compute settles one reservation. payments are every row linked to the reservation,
// cancelled ones included; cancelled rows count for nothing.
func (c *SettlementCalculator) Compute(res *domain.Reservation, payments []*domain.Payment) domain.Settlement {
	s := domain.Settlement{
		ReservationID: res.ID,
		ContractPrice: res.ContractPrice,
		TotalPaid:     decimal.Zero,
		TotalRefunded: decimal.Zero,
	}

	refundsOf := make(map[string][]*domain.Payment)
	for _, p := range payments {
		if p.IsRefund() {
			refundsOf[*p.RefundOfPaymentID] = append(refundsOf[*p.RefundOfPaymentID], p)
		}
	}

	for _, p := range payments {
		if !p.IsRefund() {
			refunds := refundsOf[p.ID]
			s.Payments = append(s.Payments, domain.PaymentSettlement{
				PaymentID:  p.ID,
				Amount:     p.Amount,
				Refunded:   p.RefundedTotal(refunds),
				Refundable: p.Refundable(refunds),
				Cancelled:  p.IsCancelled,
			})
		}
		if p.IsCancelled {
			continue
		}
		s.PaymentCount++
		s.TotalPaid = s.TotalPaid.Add(p.Amount)
		if p.IsRefund() {
			s.TotalRefunded = s.TotalRefunded.Add(p.Amount.Abs())
		}
	}

	s.Remaining = res.ContractPrice.Sub(s.TotalPaid)
	s.Status = settlementStatus(res.Cancelled, s.Remaining)
	return s
}

func settlementStatus(cancelled bool, remaining decimal.Decimal) domain.SettlementStatus {
	switch {
	case cancelled:
		return domain.SettlementStatusCancelled
	case remaining.IsNegative():
		return domain.SettlementStatusOverpaid
	case !remaining.IsPositive():
		return domain.SettlementStatusPaid
	default:
		return domain.SettlementStatusPending
	}
}

// Summarize totals what is still owed across settlements. Each reservation contributes
// max(remaining, 0); overpayment is reported on its own and never offsets another reservation.
func (c *SettlementCalculator) Summarize(settlements []domain.Settlement) domain.OutstandingSummary {
	sum := domain.OutstandingSummary{
		Reservations:     len(settlements),
		TotalOutstanding: decimal.Zero,
		TotalOverpaid:    decimal.Zero,
		ByStatus:         make(map[domain.SettlementStatus]int),
		Settlements:      settlements,
	}
	for _, s := range settlements {
		sum.ByStatus[s.Status]++
		sum.TotalOutstanding = sum.TotalOutstanding.Add(s.Outstanding())
		if s.Status == domain.SettlementStatusOverpaid {
			sum.TotalOverpaid = sum.TotalOverpaid.Add(s.Remaining.Abs())
		}
	}
	return sum
}
