package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod is how a reservation payment was settled
type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodPOS          PaymentMethod = "pos"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodOther        PaymentMethod = "other"
)

func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodPOS, PaymentMethodBankTransfer, PaymentMethodCard, PaymentMethodOther:
		return true
	}
	return false
}

// Payment is a reservation-linked settlement. Refunds are payments with the opposite sign
// that point back to their origin through RefundOfPaymentID.
type Payment struct {
	ID                string          `json:"id"`
	ReservationID     string          `json:"reservation_id"`
	AccountID         *string         `json:"account_id,omitempty"`
	Amount            decimal.Decimal `json:"amount"` // negative for refunds
	Method            PaymentMethod   `json:"method"`
	OccurredAt        time.Time       `json:"occurred_at"`
	CreatedAt         time.Time       `json:"created_at"`
	Notes             string          `json:"notes"`
	IsCancelled       bool            `json:"is_cancelled"`
	CancelledAt       *time.Time      `json:"cancelled_at,omitempty"`
	RefundOfPaymentID *string         `json:"refund_of_payment_id,omitempty"`
}

// IsRefund is true for rows created by a refund
func (p *Payment) IsRefund() bool {
	return p.RefundOfPaymentID != nil
}

// HasAccount is true when the payment moved money through a tracked account
func (p *Payment) HasAccount() bool {
	return p.AccountID != nil && *p.AccountID != ""
}

// RefundedTotal sums |amount| over the active refunds pointing at p.
func (p *Payment) RefundedTotal(refunds []*Payment) decimal.Decimal {
	total := decimal.Zero
	for _, r := range refunds {
		if r.IsCancelled || r.RefundOfPaymentID == nil || *r.RefundOfPaymentID != p.ID {
			continue
		}
		total = total.Add(r.Amount.Abs())
	}
	return total
}

// Refundable is what is left to refund on p given its existing refunds; never negative.
func (p *Payment) Refundable(refunds []*Payment) decimal.Decimal {
	if p.IsCancelled {
		return decimal.Zero
	}
	left := p.Amount.Abs().Sub(p.RefundedTotal(refunds))
	if left.IsNegative() {
		return decimal.Zero
	}
	return left
}

// RefundAmount returns the signed amount of a refund of magnitude m against p.
func (p *Payment) RefundAmount(m decimal.Decimal) decimal.Decimal {
	if p.Amount.IsNegative() {
		return m.Abs()
	}
	return m.Abs().Neg()
}

// PaymentRequest records a settlement against a reservation
type PaymentRequest struct {
	ReservationID string          `json:"reservation_id"`
	AccountID     *string         `json:"account_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Method        PaymentMethod   `json:"method"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Notes         string          `json:"notes"`
}

// RefundRequest refunds Amount (a positive magnitude) of an earlier payment
type RefundRequest struct {
	OriginalPaymentID string          `json:"original_payment_id"`
	Amount            decimal.Decimal `json:"amount"`
	OccurredAt        time.Time       `json:"occurred_at"`
	Notes             string          `json:"notes"`
}
