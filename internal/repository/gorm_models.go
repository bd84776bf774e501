package repository

import (
	"time"

	"ledger-service/internal/domain"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// amount is a decimal column. sqlite gives NUMERIC columns REAL affinity for values that fit a
// float, so there the digits are kept as TEXT.
type amount struct {
	decimal.Decimal
}

func (amount) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "sqlite" {
		return "TEXT"
	}
	return "NUMERIC(20,4)"
}

type accountModel struct {
	ID             string    `gorm:"primaryKey;size:40"`
	Name           string    `gorm:"size:120;not null"`
	Type           string    `gorm:"size:16;not null"`
	Currency       string    `gorm:"size:8;not null"`
	OpeningBalance amount    `gorm:"not null"`
	CurrentBalance amount    `gorm:"not null"`
	CreatedAt      time.Time `gorm:"index:idx_accounts_created"`
	UpdatedAt      time.Time
}

func (accountModel) TableName() string { return "accounts" }

type transactionModel struct {
	ID                  string  `gorm:"primaryKey;size:40"`
	AccountID           string  `gorm:"size:40;not null;index:idx_transactions_account"`
	Kind                string  `gorm:"size:16;not null"`
	Amount              amount  `gorm:"not null"`
	CounterAccountID    *string `gorm:"size:40;index:idx_transactions_counter"`
	LinkedTransactionID *string `gorm:"size:40"`
	Description         string
	OccurredAt          time.Time `gorm:"not null"`
	CreatedAt           time.Time
	IsCancelled         bool `gorm:"not null;default:false"`
	CancelledAt         *time.Time
}

func (transactionModel) TableName() string { return "transactions" }

type paymentModel struct {
	ID                string    `gorm:"primaryKey;size:40"`
	ReservationID     string    `gorm:"size:64;not null;index:idx_payments_reservation"`
	AccountID         *string   `gorm:"size:40;index:idx_payments_account"`
	Amount            amount    `gorm:"not null"`
	Method            string    `gorm:"size:16;not null"`
	OccurredAt        time.Time `gorm:"not null"`
	CreatedAt         time.Time
	Notes             string
	IsCancelled       bool `gorm:"not null;default:false"`
	CancelledAt       *time.Time
	RefundOfPaymentID *string `gorm:"size:40;index:idx_payments_refund_of"`
}

func (paymentModel) TableName() string { return "payments" }

type reservationModel struct {
	ID            string `gorm:"primaryKey;size:64"`
	ContractPrice amount `gorm:"not null"`
	Cancelled     bool   `gorm:"not null;default:false"`
}

func (reservationModel) TableName() string { return "reservations" }

func accountToModel(a *domain.Account) *accountModel {
	return &accountModel{
		ID:             a.ID,
		Name:           a.Name,
		Type:           string(a.Type),
		Currency:       a.Currency,
		OpeningBalance: amount{a.OpeningBalance},
		CurrentBalance: amount{a.CurrentBalance},
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func (m *accountModel) toDomain() *domain.Account {
	return &domain.Account{
		ID:             m.ID,
		Name:           m.Name,
		Type:           domain.AccountType(m.Type),
		Currency:       m.Currency,
		OpeningBalance: m.OpeningBalance.Decimal,
		CurrentBalance: m.CurrentBalance.Decimal,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func transactionToModel(t *domain.Transaction) *transactionModel {
	return &transactionModel{
		ID:                  t.ID,
		AccountID:           t.AccountID,
		Kind:                string(t.Kind),
		Amount:              amount{t.Amount},
		CounterAccountID:    t.CounterAccountID,
		LinkedTransactionID: t.LinkedTransactionID,
		Description:         t.Description,
		OccurredAt:          t.OccurredAt,
		CreatedAt:           t.CreatedAt,
		IsCancelled:         t.IsCancelled,
		CancelledAt:         t.CancelledAt,
	}
}

func (m *transactionModel) toDomain() *domain.Transaction {
	return &domain.Transaction{
		ID:                  m.ID,
		AccountID:           m.AccountID,
		Kind:                domain.TransactionKind(m.Kind),
		Amount:              m.Amount.Decimal,
		CounterAccountID:    m.CounterAccountID,
		LinkedTransactionID: m.LinkedTransactionID,
		Description:         m.Description,
		OccurredAt:          m.OccurredAt,
		CreatedAt:           m.CreatedAt,
		IsCancelled:         m.IsCancelled,
		CancelledAt:         m.CancelledAt,
	}
}

func paymentToModel(p *domain.Payment) *paymentModel {
	return &paymentModel{
		ID:                p.ID,
		ReservationID:     p.ReservationID,
		AccountID:         p.AccountID,
		Amount:            amount{p.Amount},
		Method:            string(p.Method),
		OccurredAt:        p.OccurredAt,
		CreatedAt:         p.CreatedAt,
		Notes:             p.Notes,
		IsCancelled:       p.IsCancelled,
		CancelledAt:       p.CancelledAt,
		RefundOfPaymentID: p.RefundOfPaymentID,
	}
}

func (m *paymentModel) toDomain() *domain.Payment {
	return &domain.Payment{
		ID:                m.ID,
		ReservationID:     m.ReservationID,
		AccountID:         m.AccountID,
		Amount:            m.Amount.Decimal,
		Method:            domain.PaymentMethod(m.Method),
		OccurredAt:        m.OccurredAt,
		CreatedAt:         m.CreatedAt,
		Notes:             m.Notes,
		IsCancelled:       m.IsCancelled,
		CancelledAt:       m.CancelledAt,
		RefundOfPaymentID: m.RefundOfPaymentID,
	}
}
