package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"ledger-service/internal/config"
	"ledger-service/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func call(t *testing.T, base, method, path, body string, out interface{}) int {
	t.Helper()
	req, err := http.NewRequest(method, base+path, strings.NewReader(body))
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
	return resp.StatusCode
}

func testConfig(driver, sqlitePath string) config.AppConfig {
	return config.AppConfig{
		AppEnv:           "test",
		HTTPAddr:         "127.0.0.1:0",
		DB:               config.DBConfig{Driver: driver, SQLitePath: sqlitePath},
		Limits:           domain.DefaultAmountLimits,
		ReconcileMode:    domain.ReconcileModeExplicit,
		SeedAccounts:     "POS-1:pos:TRY",
		SeedReservations: "R1:10000",
	}
}

func TestServerTakesPaymentsOutOfTheBox(t *testing.T) {
	drivers := map[string]string{
		config.DriverMemory: "",
		config.DriverSQLite: filepath.Join(t.TempDir(), "ledger.db"),
	}
	for driver, path := range drivers {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			srv, err := NewLedgerServer(ctx, testConfig(driver, path), zap.NewNop())
			require.NoError(t, err)
			t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

			ts := httptest.NewServer(srv.Handler())
			t.Cleanup(ts.Close)

			var accounts []domain.Account
			require.Equal(t, http.StatusOK, call(t, ts.URL, http.MethodGet, "/ledger/accounts", "", &accounts))
			require.Len(t, accounts, 1)
			pos := accounts[0].ID

			// seeded reservation
			code := call(t, ts.URL, http.MethodPost, "/ledger/payments",
				`{"reservation_id":"R1","account_id":"`+pos+`","amount":"3000","method":"pos"}`, nil)
			require.Equal(t, http.StatusCreated, code)

			// reservation registered over HTTP
			require.Equal(t, http.StatusOK, call(t, ts.URL, http.MethodPut, "/ledger/reservations/R2", `{"contract_price":"800"}`, nil))
			code = call(t, ts.URL, http.MethodPost, "/ledger/payments", `{"reservation_id":"R2","amount":"800","method":"cash"}`, nil)
			require.Equal(t, http.StatusCreated, code)

			var s domain.Settlement
			require.Equal(t, http.StatusOK, call(t, ts.URL, http.MethodGet, "/ledger/reservations/R1/settlement", "", &s))
			assert.True(t, s.Remaining.Equal(decimal.NewFromInt(7000)))
			require.Equal(t, http.StatusOK, call(t, ts.URL, http.MethodGet, "/ledger/reservations/R2/settlement", "", &s))
			assert.Equal(t, domain.SettlementStatusPaid, s.Status)

			var acc domain.Account
			require.Equal(t, http.StatusOK, call(t, ts.URL, http.MethodGet, "/ledger/accounts/"+pos, "", &acc))
			assert.True(t, acc.CurrentBalance.Equal(decimal.NewFromInt(3000)))
		})
	}
}

func TestServerRejectsUnknownReservation(t *testing.T) {
	srv, err := NewLedgerServer(context.Background(), testConfig(config.DriverMemory, ""), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	code := call(t, ts.URL, http.MethodPost, "/ledger/payments", `{"reservation_id":"R404","amount":"10","method":"cash"}`, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSQLiteLedgerReconcilesLargeBalances(t *testing.T) {
	cfg := testConfig(config.DriverSQLite, filepath.Join(t.TempDir(), "ledger.db"))
	srv, err := NewLedgerServer(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	var acc domain.Account
	code := call(t, ts.URL, http.MethodPost, "/ledger/accounts",
		`{"name":"Vault","type":"bank","currency":"TRY","opening_balance":"123456789012345.67"}`, &acc)
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, http.StatusCreated, call(t, ts.URL, http.MethodPost, "/ledger/accounts/"+acc.ID+"/transactions", `{"kind":"income","amount":"0.01"}`, nil))
	require.Equal(t, http.StatusCreated, call(t, ts.URL, http.MethodPost, "/ledger/accounts/"+acc.ID+"/transactions", `{"kind":"expense","amount":"0.03"}`, nil))

	var ledger domain.AccountLedger
	require.Equal(t, http.StatusOK, call(t, ts.URL, http.MethodGet, "/ledger/accounts/"+acc.ID+"/ledger", "", &ledger))
	assert.True(t, ledger.Reconciled)
	assert.True(t, ledger.CurrentBalance.Equal(decimal.RequireFromString("123456789012345.65")), ledger.CurrentBalance.String())
}
