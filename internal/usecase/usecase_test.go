package usecase

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/internal/pub"
	"ledger-service/internal/repository"
	"ledger-service/internal/service"
	"ledger-service/pkg/cache"
	"ledger-service/pkg/utils"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func sp(s string) *string { return &s }

var zeroTime time.Time

// stepClock advances one second per call so every row gets a distinct timestamp.
type stepClock struct {
	base time.Time
	n    atomic.Int64
}

func (c *stepClock) now() time.Time {
	return c.base.Add(time.Duration(c.n.Add(1)) * time.Second)
}

type recorder struct {
	mu     sync.Mutex
	events []*pub.LedgerEvent
}

func (r *recorder) Publish(_ context.Context, e *pub.LedgerEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventType
	}
	return out
}

type harness struct {
	store        *repository.MemoryStore
	reservations *repository.MemoryReservations
	events       *recorder
	accounts     *AccountUsecase
	txs          *TransactionUsecase
	ledger       *LedgerUsecase
	settlements  *SettlementUsecase
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &stepClock{base: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := repository.NewMemoryStore()
	reservations := repository.NewMemoryReservations()
	events := &recorder{}
	ids := utils.NewIDGenerator()
	opt := WithClock(clock.now)

	return &harness{
		store:        store,
		reservations: reservations,
		events:       events,
		accounts:     NewAccountUsecase(store, nil, ids, nil, opt),
		txs:          NewTransactionUsecase(store, reservations, domain.DefaultAmountLimits, ids, events, nil, nil, opt),
		ledger:       NewLedgerUsecase(store, service.NewBalanceReconciler(domain.ReconcileModeExplicit), events, nil, opt),
		settlements:  NewSettlementUsecase(store, reservations, service.NewSettlementCalculator(), nil, nil),
	}
}

func (h *harness) account(t *testing.T, name, opening string) *domain.Account {
	t.Helper()
	return h.accountIn(t, name, "TRY", opening)
}

func (h *harness) accountIn(t *testing.T, name, currency, opening string) *domain.Account {
	t.Helper()
	acc, err := h.accounts.CreateAccount(context.Background(), &domain.AccountCreate{
		Name:           name,
		Type:           domain.AccountTypeCash,
		Currency:       currency,
		OpeningBalance: dec(opening),
	})
	require.NoError(t, err)
	return acc
}

func (h *harness) balance(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	acc, err := h.accounts.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acc.CurrentBalance
}

func requireDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, dec(want).Equal(got), "want %s, got %s", want, got.String())
}

// memViews is an in-process ViewCache with the same generation rules as the redis one.
type memViews struct {
	mu   sync.Mutex
	vals map[string][]byte
	gens map[string]int64
}

func newMemViews() *memViews {
	return &memViews{vals: map[string][]byte{}, gens: map[string]int64{}}
}

func (m *memViews) GetJSON(_ context.Context, ns, key string, dst interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.vals[ns+"|"+key]
	if !ok {
		return cache.ErrMiss
	}
	return json.Unmarshal(b, dst)
}

func (m *memViews) Generation(_ context.Context, ns, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gens[ns+"|"+key], nil
}

func (m *memViews) SetJSONAt(_ context.Context, ns, key string, v interface{}, _ time.Duration, gen int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gens[ns+"|"+key] != gen {
		return cache.ErrStale
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.vals[ns+"|"+key] = b
	return nil
}

func (m *memViews) Invalidate(_ context.Context, ns string, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		m.gens[ns+"|"+k]++
		delete(m.vals, ns+"|"+k)
	}
	return nil
}

func (m *memViews) cached(ns, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.vals[ns+"|"+key]
	return ok
}

// afterSnapshotStore runs next once, right after the first Snapshot it serves returns.
type afterSnapshotStore struct {
	repository.Store
	mu   sync.Mutex
	next func()
}

func (s *afterSnapshotStore) Snapshot(ctx context.Context, fn func(context.Context, repository.Reader) error) error {
	err := s.Store.Snapshot(ctx, fn)
	s.mu.Lock()
	next := s.next
	s.next = nil
	s.mu.Unlock()
	if next != nil {
		next()
	}
	return err
}
