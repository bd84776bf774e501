package hrest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ledger-service/internal/customfield"
	"ledger-service/internal/domain"
	"ledger-service/internal/repository"
	"ledger-service/internal/service"
	"ledger-service/internal/usecase"
	"ledger-service/pkg/utils"
	"ledger-service/pkg/xerrors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	srv   *httptest.Server
	store *repository.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := repository.NewMemoryStore()
	reservations := repository.NewMemoryReservations(domain.Reservation{ID: "R1", ContractPrice: decimal.NewFromInt(10000)})
	ids := utils.NewIDGenerator()

	h := NewLedgerRestHandler(
		usecase.NewAccountUsecase(store, nil, ids, nil),
		usecase.NewTransactionUsecase(store, reservations, domain.DefaultAmountLimits, ids, nil, nil, nil),
		usecase.NewLedgerUsecase(store, service.NewBalanceReconciler(domain.ReconcileModeExplicit), nil, nil),
		usecase.NewSettlementUsecase(store, reservations, service.NewSettlementCalculator(), nil, nil),
		customfield.NewStore(customfield.DefaultSchema()),
	)
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, store: store}
}

func (s *testServer) do(t *testing.T, method, path, body string, out interface{}) (int, envelope) {
	t.Helper()
	req, err := http.NewRequest(method, s.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	if out != nil && len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, out))
	}
	return resp.StatusCode, env
}

func TestAccountAndTransactionFlow(t *testing.T) {
	s := newTestServer(t)

	var acc domain.Account
	code, _ := s.do(t, http.MethodPost, "/ledger/accounts", `{"name":"Cash-1","type":"cash","currency":"try","opening_balance":"1000"}`, &acc)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "TRY", acc.Currency)

	code, _ = s.do(t, http.MethodPost, "/ledger/accounts/"+acc.ID+"/transactions", `{"kind":"income","amount":500}`, nil)
	require.Equal(t, http.StatusCreated, code)
	code, _ = s.do(t, http.MethodPost, "/ledger/accounts/"+acc.ID+"/transactions", `{"kind":"expense","amount":"200"}`, nil)
	require.Equal(t, http.StatusCreated, code)

	var ledger domain.AccountLedger
	code, env := s.do(t, http.MethodGet, "/ledger/accounts/"+acc.ID+"/ledger?order=desc", "", &ledger)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "success", env.Status)
	assert.True(t, ledger.Reconciled)
	require.Len(t, ledger.Entries, 2)
	assert.True(t, ledger.Entries[0].RunningBalance.Equal(decimal.NewFromInt(1300)))

	var list []domain.Account
	code, _ = s.do(t, http.MethodGet, "/ledger/accounts", "", &list)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, list, 1)
}

func TestErrorStatusMapping(t *testing.T) {
	s := newTestServer(t)
	var acc domain.Account
	_, _ = s.do(t, http.MethodPost, "/ledger/accounts", `{"name":"Cash-1","type":"cash","currency":"TRY","opening_balance":"10"}`, &acc)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown account", http.MethodGet, "/ledger/accounts/acc_missing", "", http.StatusNotFound},
		{"bad body", http.MethodPost, "/ledger/transfers", `{`, http.StatusBadRequest},
		{"zero amount", http.MethodPost, "/ledger/accounts/" + acc.ID + "/transactions", `{"kind":"income","amount":0}`, http.StatusBadRequest},
		{"transfer kind", http.MethodPost, "/ledger/accounts/" + acc.ID + "/transactions", `{"kind":"transfer_in","amount":1}`, http.StatusBadRequest},
		{"overdraft", http.MethodPost, "/ledger/accounts/" + acc.ID + "/transactions", `{"kind":"expense","amount":11}`, http.StatusUnprocessableEntity},
		{"same account", http.MethodPost, "/ledger/transfers", `{"source_id":"` + acc.ID + `","dest_id":"` + acc.ID + `","amount":1}`, http.StatusUnprocessableEntity},
		{"unknown reservation", http.MethodGet, "/ledger/reservations/R404/settlement", "", http.StatusNotFound},
		{"bad mode", http.MethodGet, "/ledger/accounts/" + acc.ID + "/ledger?mode=guess", "", http.StatusBadRequest},
		{"bad window", http.MethodGet, "/ledger/accounts/" + acc.ID + "/ledger?from=2026-05-02&to=2026-05-01", "", http.StatusBadRequest},
		{"bad field", http.MethodPut, "/ledger/reservations/R1/fields", `{"event_type":"funeral"}`, http.StatusBadRequest},
		{"negative contract price", http.MethodPut, "/ledger/reservations/R9", `{"contract_price":"-5"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, env := s.do(t, tc.method, tc.path, tc.body, nil)
			assert.Equal(t, tc.want, code)
			assert.Equal(t, "error", env.Status)
		})
	}
}

func TestPaymentRefundAndSettlement(t *testing.T) {
	s := newTestServer(t)

	var p domain.Payment
	code, _ := s.do(t, http.MethodPost, "/ledger/payments", `{"reservation_id":"R1","amount":"3000","method":"cash"}`, &p)
	require.Equal(t, http.StatusCreated, code)

	var refund domain.Payment
	code, _ = s.do(t, http.MethodPost, "/ledger/payments/"+p.ID+"/refunds", `{"amount":"1000"}`, &refund)
	require.Equal(t, http.StatusCreated, code)
	assert.True(t, refund.Amount.Equal(decimal.NewFromInt(-1000)))

	code, _ = s.do(t, http.MethodPost, "/ledger/payments/"+p.ID+"/refunds", `{"amount":"2500"}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	var settlement domain.Settlement
	code, _ = s.do(t, http.MethodGet, "/ledger/reservations/R1/settlement", "", &settlement)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, settlement.Remaining.Equal(decimal.NewFromInt(8000)))
	assert.Equal(t, domain.SettlementStatusPending, settlement.Status)

	var sum domain.OutstandingSummary
	code, _ = s.do(t, http.MethodPost, "/ledger/reservations/outstanding", `{"reservation_ids":["R1"]}`, &sum)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, sum.TotalOutstanding.Equal(decimal.NewFromInt(8000)))

	code, _ = s.do(t, http.MethodPost, "/ledger/payments/"+refund.ID+"/cancel", "", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestPutReservationThenPay(t *testing.T) {
	s := newTestServer(t)

	var res domain.Reservation
	code, _ := s.do(t, http.MethodPut, "/ledger/reservations/R7", `{"contract_price":"4000"}`, &res)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "R7", res.ID)

	code, _ = s.do(t, http.MethodPost, "/ledger/payments", `{"reservation_id":"R7","amount":"1500","method":"bank_transfer"}`, nil)
	require.Equal(t, http.StatusCreated, code)

	var settlement domain.Settlement
	code, _ = s.do(t, http.MethodGet, "/ledger/reservations/R7/settlement", "", &settlement)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, settlement.Remaining.Equal(decimal.NewFromInt(2500)))
}

func TestLedgerMismatchAnswersWithWarning(t *testing.T) {
	s := newTestServer(t)
	var acc domain.Account
	_, _ = s.do(t, http.MethodPost, "/ledger/accounts", `{"name":"Cash-1","type":"cash","currency":"TRY","opening_balance":"10"}`, &acc)

	err := s.store.Atomically(context.Background(), repository.AccountScope(acc.ID), func(ctx context.Context, tx repository.Tx) error {
		return tx.UpdateBalance(ctx, acc.ID, decimal.NewFromInt(99), time.Now())
	})
	require.NoError(t, err)

	var ledger domain.AccountLedger
	code, env := s.do(t, http.MethodGet, "/ledger/accounts/"+acc.ID+"/ledger", "", &ledger)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "warning", env.Status)
	assert.False(t, ledger.Reconciled)

	code, env = s.do(t, http.MethodGet, "/ledger/reconcile", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "warning", env.Status)
}

func TestReservationFields(t *testing.T) {
	s := newTestServer(t)

	code, _ := s.do(t, http.MethodPut, "/ledger/reservations/R1/fields", `{"guest_count":120,"event_date":"2026-06-14"}`, nil)
	require.Equal(t, http.StatusOK, code)

	var out struct {
		Values map[string]any `json:"values"`
	}
	code, _ = s.do(t, http.MethodGet, "/ledger/reservations/R1/fields", "", &out)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "120", out.Values["guest_count"])
	assert.Equal(t, "2026-06-14", out.Values["event_date"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(xerrors.ErrPaymentNotFound))
	assert.Equal(t, http.StatusBadRequest, statusFor(xerrors.ErrInvalidPaymentMethod))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(xerrors.ErrHasActiveRefunds))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(xerrors.ErrCurrencyMismatch))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}
