package domain

import "github.com/shopspring/decimal"

// SettlementStatus is the paid state of a reservation
type SettlementStatus string

const (
	SettlementStatusPending   SettlementStatus = "pending"
	SettlementStatusPaid      SettlementStatus = "paid"
	SettlementStatusOverpaid  SettlementStatus = "overpaid"
	SettlementStatusCancelled SettlementStatus = "cancelled"
)

// Settlement is the computed paid/remaining/status view of a reservation.
type Settlement struct {
	ReservationID string              `json:"reservation_id"`
	ContractPrice decimal.Decimal     `json:"contract_price"`
	TotalPaid     decimal.Decimal     `json:"total_paid"`
	TotalRefunded decimal.Decimal     `json:"total_refunded"`
	Remaining     decimal.Decimal     `json:"remaining"`
	Status        SettlementStatus    `json:"status"`
	PaymentCount  int                 `json:"payment_count"`
	Payments      []PaymentSettlement `json:"payments,omitempty"`
}

// Outstanding is the amount still owed; overpaid and cancelled reservations owe nothing.
func (s Settlement) Outstanding() decimal.Decimal {
	if s.Status == SettlementStatusCancelled || s.Remaining.IsNegative() {
		return decimal.Zero
	}
	return s.Remaining
}

// PaymentSettlement is the refund axis of a single original payment
type PaymentSettlement struct {
	PaymentID  string          `json:"payment_id"`
	Amount     decimal.Decimal `json:"amount"`
	Refunded   decimal.Decimal `json:"refunded"`
	Refundable decimal.Decimal `json:"refundable"`
	Cancelled  bool            `json:"cancelled"`
}

// OutstandingSummary aggregates settlements across reservations.
type OutstandingSummary struct {
	Reservations     int                      `json:"reservations"`
	TotalOutstanding decimal.Decimal          `json:"total_outstanding"`
	TotalOverpaid    decimal.Decimal          `json:"total_overpaid"`
	ByStatus         map[SettlementStatus]int `json:"by_status"`
	Settlements      []Settlement             `json:"settlements"`
}
