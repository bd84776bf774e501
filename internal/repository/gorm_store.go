package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/internal/pkg/keylock"
	"ledger-service/pkg/xerrors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore runs the ledger on any gorm dialector. sqlite is the embedded single-node backend;
// on postgres the scoped rows are additionally locked with FOR UPDATE.
type GormStore struct {
	db    *gorm.DB
	locks *keylock.Locker
}

// NewGormStore migrates the ledger models and returns the store
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&accountModel{}, &transactionModel{}, &paymentModel{}, &reservationModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &GormStore{db: db, locks: keylock.New()}, nil
}

func (s *GormStore) rowLocks() bool {
	return s.db.Dialector.Name() == "postgres"
}

func (s *GormStore) CreateAccount(ctx context.Context, a *domain.Account) error {
	var n int64
	if err := s.db.WithContext(ctx).Model(&accountModel{}).Where("id = ?", a.ID).Count(&n).Error; err != nil {
		return fmt.Errorf("failed to check account: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("account %s already exists: %w", a.ID, xerrors.ErrInvalidRequest)
	}
	if err := s.db.WithContext(ctx).Create(accountToModel(a)).Error; err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (s *GormStore) Atomically(ctx context.Context, scope LockScope, fn func(ctx context.Context, tx Tx) error) error {
	unlock, err := s.locks.LockContext(ctx, scope.Keys()...)
	if err != nil {
		return fmt.Errorf("failed to acquire lock scope: %w", err)
	}
	defer unlock()

	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		if s.rowLocks() {
			if err := lockRows(db, &accountModel{}, scope.sortedAccounts()); err != nil {
				return err
			}
			if err := lockRows(db, &paymentModel{}, scope.sortedPayments()); err != nil {
				return err
			}
		}
		return fn(ctx, guard(gormTx{db: db}, scope))
	})
}

func lockRows(db *gorm.DB, model any, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	var locked []string
	err := db.Model(model).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Order("id").
		Pluck("id", &locked).Error
	if err != nil {
		return fmt.Errorf("failed to lock rows: %w", err)
	}
	return nil
}

func (s *GormStore) Snapshot(ctx context.Context, fn func(ctx context.Context, r Reader) error) error {
	var opts []*sql.TxOptions
	if s.rowLocks() {
		opts = append(opts, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	}
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(ctx, gormTx{db: db})
	}, opts...)
}

// GetReservation makes GormStore a ReservationDirectory
func (s *GormStore) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	var m reservationModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerrors.ErrReservationNotFound
		}
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return &domain.Reservation{ID: m.ID, ContractPrice: m.ContractPrice.Decimal, Cancelled: m.Cancelled}, nil
}

// PutReservation mirrors a reservation into the local table; used when the ledger runs standalone.
func (s *GormStore) PutReservation(ctx context.Context, r domain.Reservation) error {
	m := reservationModel{ID: r.ID, ContractPrice: amount{r.ContractPrice}, Cancelled: r.Cancelled}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("failed to save reservation: %w", err)
	}
	return nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// gormTx reads and writes through one gorm transaction handle
type gormTx struct {
	db *gorm.DB
}

func (t gormTx) GetAccount(_ context.Context, id string) (*domain.Account, error) {
	var m accountModel
	if err := t.db.Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerrors.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return m.toDomain(), nil
}

func (t gormTx) ListAccounts(_ context.Context) ([]*domain.Account, error) {
	var ms []accountModel
	if err := t.db.Order("created_at, id").Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	out := make([]*domain.Account, 0, len(ms))
	for i := range ms {
		out = append(out, ms[i].toDomain())
	}
	return out, nil
}

func (t gormTx) GetTransaction(_ context.Context, id string) (*domain.Transaction, error) {
	var m transactionModel
	if err := t.db.Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerrors.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return m.toDomain(), nil
}

func (t gormTx) ListTransactionsByAccount(_ context.Context, accountID string) ([]*domain.Transaction, error) {
	var ms []transactionModel
	err := t.db.Where("account_id = ? OR counter_account_id = ?", accountID, accountID).
		Order("created_at, id").
		Find(&ms).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	out := make([]*domain.Transaction, 0, len(ms))
	for i := range ms {
		out = append(out, ms[i].toDomain())
	}
	return out, nil
}

func (t gormTx) GetPayment(_ context.Context, id string) (*domain.Payment, error) {
	var m paymentModel
	if err := t.db.Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerrors.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return m.toDomain(), nil
}

func (t gormTx) ListPaymentsByAccount(_ context.Context, accountID string) ([]*domain.Payment, error) {
	return t.listPayments("account_id = ?", accountID)
}

func (t gormTx) ListPaymentsByReservation(_ context.Context, reservationID string) ([]*domain.Payment, error) {
	return t.listPayments("reservation_id = ?", reservationID)
}

func (t gormTx) ListRefunds(_ context.Context, paymentID string) ([]*domain.Payment, error) {
	return t.listPayments("refund_of_payment_id = ?", paymentID)
}

func (t gormTx) listPayments(where string, arg string) ([]*domain.Payment, error) {
	var ms []paymentModel
	if err := t.db.Where(where, arg).Order("created_at, id").Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	out := make([]*domain.Payment, 0, len(ms))
	for i := range ms {
		out = append(out, ms[i].toDomain())
	}
	return out, nil
}

func (t gormTx) InsertTransaction(_ context.Context, row *domain.Transaction) error {
	if err := t.db.Create(transactionToModel(row)).Error; err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (t gormTx) InsertPayment(_ context.Context, row *domain.Payment) error {
	if err := t.db.Create(paymentToModel(row)).Error; err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (t gormTx) UpdateBalance(_ context.Context, accountID string, balance decimal.Decimal, at time.Time) error {
	res := t.db.Model(&accountModel{}).Where("id = ?", accountID).Updates(map[string]any{
		"current_balance": amount{balance},
		"updated_at":      at,
	})
	if res.Error != nil {
		return fmt.Errorf("failed to update balance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return xerrors.ErrAccountNotFound
	}
	return nil
}

func (t gormTx) CancelTransaction(ctx context.Context, id string, at time.Time) error {
	res := t.db.Model(&transactionModel{}).
		Where("id = ? AND is_cancelled = ?", id, false).
		Updates(map[string]any{"is_cancelled": true, "cancelled_at": at})
	if res.Error != nil {
		return fmt.Errorf("failed to cancel transaction: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := t.GetTransaction(ctx, id); err != nil {
			return err
		}
		return xerrors.ErrAlreadyCancelled
	}
	return nil
}

func (t gormTx) CancelPayment(ctx context.Context, id string, at time.Time) error {
	res := t.db.Model(&paymentModel{}).
		Where("id = ? AND is_cancelled = ?", id, false).
		Updates(map[string]any{"is_cancelled": true, "cancelled_at": at})
	if res.Error != nil {
		return fmt.Errorf("failed to cancel payment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := t.GetPayment(ctx, id); err != nil {
			return err
		}
		return xerrors.ErrAlreadyCancelled
	}
	return nil
}
