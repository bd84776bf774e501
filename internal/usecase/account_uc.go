package usecase

import (
	"context"
	"errors"
	"strings"

	"ledger-service/internal/domain"
	"ledger-service/internal/repository"
	"ledger-service/pkg/utils"

	"go.uber.org/zap"
)

type AccountUsecase struct {
	store  repository.Store
	cache  ViewCache
	ids    *utils.IDGenerator
	log    *zap.Logger
	now    Clock
	limits domain.AmountLimits
}

// NewAccountUsecase initializes a new AccountUsecase; a nil cache disables caching
func NewAccountUsecase(store repository.Store, c ViewCache, ids *utils.IDGenerator, logger *zap.Logger, opts ...Option) *AccountUsecase {
	o := buildOptions(opts)
	return &AccountUsecase{
		store:  store,
		cache:  orNoCache(c),
		ids:    ids,
		log:    orNopLogger(logger),
		now:    o.now,
		limits: o.limits,
	}
}

// CreateAccount validates req and stores a new account whose current balance starts at its opening balance.
func (uc *AccountUsecase) CreateAccount(ctx context.Context, req *domain.AccountCreate) (*domain.Account, error) {
	if req == nil {
		return nil, errors.New("nil account request")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := uc.limits.ValidateBalance(req.OpeningBalance); err != nil {
		return nil, err
	}

	now := uc.now()
	a := &domain.Account{
		ID:             uc.ids.AccountID(),
		Name:           strings.TrimSpace(req.Name),
		Type:           req.Type,
		Currency:       strings.ToUpper(strings.TrimSpace(req.Currency)),
		OpeningBalance: req.OpeningBalance,
		CurrentBalance: req.OpeningBalance,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := uc.store.CreateAccount(ctx, a); err != nil {
		logRejection(uc.log, "create_account", err, zap.String("name", a.Name))
		return nil, err
	}

	uc.log.Info("account created",
		zap.String("account_id", a.ID),
		zap.String("type", string(a.Type)),
		zap.String("currency", a.Currency),
		zap.String("opening_balance", a.OpeningBalance.String()),
	)
	return a, nil
}

// GetAccount reads through the cache
func (uc *AccountUsecase) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	return readThrough(ctx, uc.cache, uc.log, nsAccount, id, accountTTL, func(ctx context.Context) (*domain.Account, error) {
		var acc *domain.Account
		err := uc.store.Snapshot(ctx, func(ctx context.Context, r repository.Reader) error {
			var err error
			acc, err = r.GetAccount(ctx, id)
			return err
		})
		return acc, err
	})
}

func (uc *AccountUsecase) ListAccounts(ctx context.Context) ([]*domain.Account, error) {
	var out []*domain.Account
	err := uc.store.Snapshot(ctx, func(ctx context.Context, r repository.Reader) error {
		var err error
		out, err = r.ListAccounts(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*domain.Account{}
	}
	return out, nil
}
