package repository

import (
	"context"
	"sync"

	"ledger-service/internal/domain"
	"ledger-service/pkg/xerrors"
)

// MemoryReservations is an in-process ReservationDirectory, used by tests and the memory backend.
type MemoryReservations struct {
	mu   sync.RWMutex
	byID map[string]domain.Reservation
}

func NewMemoryReservations(rs ...domain.Reservation) *MemoryReservations {
	m := &MemoryReservations{byID: make(map[string]domain.Reservation, len(rs))}
	for _, r := range rs {
		m.byID[r.ID] = r
	}
	return m
}

// Put adds or replaces a reservation
func (m *MemoryReservations) Put(r domain.Reservation) {
	m.mu.Lock()
	m.byID[r.ID] = r
	m.mu.Unlock()
}

func (m *MemoryReservations) PutReservation(_ context.Context, r domain.Reservation) error {
	m.Put(r)
	return nil
}

func (m *MemoryReservations) GetReservation(_ context.Context, id string) (*domain.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.byID[id]
	if !ok {
		return nil, xerrors.ErrReservationNotFound
	}
	return &r, nil
}
