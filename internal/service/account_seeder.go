package service

import (
	"context"
	"fmt"
	"strings"

	"ledger-service/internal/domain"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AccountCreator is the slice of the account usecase the seeder drives.
type AccountCreator interface {
	CreateAccount(ctx context.Context, req *domain.AccountCreate) (*domain.Account, error)
	ListAccounts(ctx context.Context) ([]*domain.Account, error)
}

// AccountSeeder creates the configured cash boxes on startup
type AccountSeeder struct {
	accounts AccountCreator
	log      *zap.Logger
}

func NewAccountSeeder(accounts AccountCreator, log *zap.Logger) *AccountSeeder {
	if log == nil {
		log = zap.NewNop()
	}
	return &AccountSeeder{accounts: accounts, log: log}
}

// ParseSeedAccounts reads "name:type:currency:opening" entries separated by commas.
// The opening balance may be omitted and defaults to zero.
func ParseSeedAccounts(list string) ([]domain.AccountCreate, error) {
	var out []domain.AccountCreate
	for _, raw := range strings.Split(list, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parts := strings.Split(raw, ":")
		if len(parts) < 3 || len(parts) > 4 {
			return nil, fmt.Errorf("seed entry %q: want name:type:currency[:opening]", raw)
		}
		req := domain.AccountCreate{
			Name:           strings.TrimSpace(parts[0]),
			Type:           domain.AccountType(strings.ToLower(strings.TrimSpace(parts[1]))),
			Currency:       strings.ToUpper(strings.TrimSpace(parts[2])),
			OpeningBalance: decimal.Zero,
		}
		if len(parts) == 4 && strings.TrimSpace(parts[3]) != "" {
			opening, err := decimal.NewFromString(strings.TrimSpace(parts[3]))
			if err != nil {
				return nil, fmt.Errorf("seed entry %q: opening balance: %w", raw, err)
			}
			req.OpeningBalance = opening
		}
		if err := req.Validate(); err != nil {
			return nil, fmt.Errorf("seed entry %q: %w", raw, err)
		}
		out = append(out, req)
	}
	return out, nil
}

// Seed creates every entry whose name is not taken yet and returns how many it created.
func (s *AccountSeeder) Seed(ctx context.Context, list string) (int, error) {
	reqs, err := ParseSeedAccounts(list)
	if err != nil {
		return 0, err
	}
	if len(reqs) == 0 {
		return 0, nil
	}

	existing, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list accounts: %w", err)
	}
	taken := make(map[string]struct{}, len(existing))
	for _, a := range existing {
		taken[strings.ToLower(a.Name)] = struct{}{}
	}

	created := 0
	for i := range reqs {
		req := reqs[i]
		key := strings.ToLower(req.Name)
		if _, ok := taken[key]; ok {
			s.log.Debug("seed account exists, skipping", zap.String("name", req.Name))
			continue
		}
		acc, err := s.accounts.CreateAccount(ctx, &req)
		if err != nil {
			return created, fmt.Errorf("failed to seed account %s: %w", req.Name, err)
		}
		taken[key] = struct{}{}
		created++
		s.log.Info("seeded account", zap.String("account_id", acc.ID), zap.String("name", acc.Name))
	}

	s.log.Info("account seeding completed", zap.Int("created", created), zap.Int("configured", len(reqs)))
	return created, nil
}
