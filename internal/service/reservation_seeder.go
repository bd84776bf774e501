package service

import (
	"context"
	"fmt"
	"strings"

	"ledger-service/internal/domain"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ReservationPutter is the slice of the settlement usecase the seeder drives.
type ReservationPutter interface {
	PutReservation(ctx context.Context, r *domain.Reservation) (*domain.Reservation, error)
}

// ReservationSeeder loads reservations into a directory the ledger keeps itself
type ReservationSeeder struct {
	reservations ReservationPutter
	log          *zap.Logger
}

func NewReservationSeeder(reservations ReservationPutter, log *zap.Logger) *ReservationSeeder {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReservationSeeder{reservations: reservations, log: log}
}

// ParseSeedReservations reads "id:contract_price" entries separated by commas. A third
// "cancelled" part marks the booking as cancelled.
func ParseSeedReservations(list string) ([]domain.Reservation, error) {
	var out []domain.Reservation
	for _, raw := range strings.Split(list, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parts := strings.Split(raw, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("seed entry %q: want id:contract_price[:cancelled]", raw)
		}
		price, err := decimal.NewFromString(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("seed entry %q: contract price: %w", raw, err)
		}
		r := domain.Reservation{ID: strings.TrimSpace(parts[0]), ContractPrice: price}
		if len(parts) == 3 {
			if !strings.EqualFold(strings.TrimSpace(parts[2]), "cancelled") {
				return nil, fmt.Errorf("seed entry %q: unknown flag %q", raw, parts[2])
			}
			r.Cancelled = true
		}
		out = append(out, r)
	}
	return out, nil
}

// Seed saves every entry; re-running it with the same list leaves the directory unchanged.
func (s *ReservationSeeder) Seed(ctx context.Context, list string) (int, error) {
	entries, err := ParseSeedReservations(list)
	if err != nil {
		return 0, err
	}
	saved := 0
	for i := range entries {
		if _, err := s.reservations.PutReservation(ctx, &entries[i]); err != nil {
			return saved, fmt.Errorf("failed to seed reservation %s: %w", entries[i].ID, err)
		}
		saved++
	}
	if saved > 0 {
		s.log.Info("reservation seeding completed", zap.Int("saved", saved))
	}
	return saved, nil
}
