package hrest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"ledger-service/internal/customfield"
	"ledger-service/internal/domain"
	"ledger-service/internal/usecase"
	"ledger-service/pkg/response"
	"ledger-service/pkg/xerrors"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
)

type LedgerRestHandler struct {
	accountUC    *usecase.AccountUsecase
	txUC         *usecase.TransactionUsecase
	ledgerUC     *usecase.LedgerUsecase
	settlementUC *usecase.SettlementUsecase
	fields       *customfield.Store
}

func NewLedgerRestHandler(
	accountUC *usecase.AccountUsecase,
	txUC *usecase.TransactionUsecase,
	ledgerUC *usecase.LedgerUsecase,
	settlementUC *usecase.SettlementUsecase,
	fields *customfield.Store,
) *LedgerRestHandler {
	return &LedgerRestHandler{
		accountUC:    accountUC,
		txUC:         txUC,
		ledgerUC:     ledgerUC,
		settlementUC: settlementUC,
		fields:       fields,
	}
}

// Router builds the HTTP surface with the standard middleware chain.
func (h *LedgerRestHandler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	h.registerRoutes(r)
	return r
}

func (h *LedgerRestHandler) registerRoutes(r chi.Router) {
	r.Route("/ledger", func(r chi.Router) {
		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", h.CreateAccount)
			r.Get("/", h.ListAccounts)
			r.Get("/{id}", h.GetAccount)
			r.Get("/{id}/ledger", h.GetAccountLedger)
			r.Post("/{id}/transactions", h.CreateTransaction)
		})
		r.Post("/transfers", h.CreateTransfer)
		r.Post("/transactions/{id}/cancel", h.CancelTransaction)

		r.Post("/payments", h.CreatePayment)
		r.Post("/payments/{id}/refunds", h.CreateRefund)
		r.Post("/payments/{id}/cancel", h.CancelPayment)

		r.Put("/reservations/{id}", h.PutReservation)
		r.Get("/reservations/{id}/settlement", h.GetReservationSettlement)
		r.Post("/reservations/outstanding", h.GetOutstandingTotal)
		r.Get("/reservations/{id}/fields", h.GetReservationFields)
		r.Put("/reservations/{id}/fields", h.PutReservationFields)

		r.Get("/reconcile", h.ReconcileAll)
	})
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// ===============================
// ACCOUNTS
// ===============================

func (h *LedgerRestHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var in domain.AccountCreate
	if !decode(w, r, &in) {
		return
	}
	acc, err := h.accountUC.CreateAccount(r.Context(), &in)
	if err != nil {
		handleUsecaseError(w, err)
		return
	}
	response.JSON(w, http.StatusCreated, acc)
}

func (h *LedgerRestHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.accountUC.ListAccounts(r.Context())
	if err != nil {
		handleUsecaseError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, accounts)
}

func (h *LedgerRestHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := h.accountUC.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleUsecaseError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, acc)
}

// GetAccountLedger answers 200 even when the replay does not reconcile; the body then carries
// reconciled=false and the envelope status is "warning".
func (h *LedgerRestHandler) GetAccountLedger(w http.ResponseWriter, r *http.Request) {
	q, err := parseLedgerQuery(r)
	if err != nil {
		response.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	ledger, err := h.ledgerUC.GetAccountLedger(r.Context(), chi.URLParam(r, "id"), q)
	var mismatch *xerrors.MismatchError
	switch {
	case errors.As(err, &mismatch) && ledger != nil:
		response.Warning(w, http.StatusOK, mismatch.Error(), ledger)
	case err != nil:
		handleUsecaseError(w, err)
	default:
		response.JSON(w, http.StatusOK, ledger)
	}
}

func parseLedgerQuery(r *http.Request) (domain.LedgerQuery, error) {
	v := r.URL.Query()
	q := domain.LedgerQuery{
		NewestFirst: strings.EqualFold(v.Get("order"), "desc"),
		Mode:        domain.ReconcileMode(strings.ToLower(v.Get("mode"))),
	}
	if q.Mode != "" && !q.Mode.IsValid() {
		return q, errors.New("mode must be explicit or derived")
	}
	if s := v.Get("from"); s != "" {
		t, err := parseBound(s, false)
		if err != nil {
			return q, errors.New("from must be RFC3339 or YYYY-MM-DD")
		}
		q.From = &t
	}
	if s := v.Get("to"); s != "" {
		t, err := parseBound(s, true)
		if err != nil {
			return q, errors.New("to must be RFC3339 or YYYY-MM-DD")
		}
		q.To = &t
	}
	if q.From != nil && q.To != nil && q.To.Before(*q.From) {
		return q, errors.New("to is before from")
	}
	return q, nil
}

// parseBound accepts a timestamp or a bare date; a bare upper bound covers the whole day.
func parseBound(s string, upper bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(customfield.DateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	if upper {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

// ===============================
// TRANSACTIONS
// ===============================

type transactionJSON struct {
	Kind        domain.TransactionKind `json:"kind"`
	Amount      decimal.Decimal        `json:"amount"`
	Description string                 `json:"description"`
	OccurredAt  time.Time              `json:"occurred_at"`
}

func (h *LedgerRestHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var in transactionJSON
	if !decode(w, r, &in) {
		return
	}
	txn, err := h.txUC.CreateTransaction(r.Context(), &domain.TransactionRequest{
		AccountID:   chi.URLParam(r, "id"),
		Kind:        in.Kind,
		Amount:      in.Amount,
		Description: in.Description,
		OccurredAt:  in.OccurredAt,
	})
	if err != nil {
		handleUsecaseError(w, err)
		return
	}
	response.JSON(w, http.StatusCreated, txn)
}

func (h *LedgerRestHandler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var in domain.TransferRequest
	if !decode(w, r, &in) {
		return
	}
	res, err := h.txUC.CreateTransfer(r.Context(), &in)
	if err != nil {
		handleUsecaseError(w, err)
		return
	}
	response.JSON(w, http.StatusCreated, res)
}

func (h *LedgerRestHandler) CancelTransaction(w http.ResponseWriter, r *http.Request) {
	rows, err := h.txUC.CancelTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleUsecaseError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, rows)
}

// ===============================
// PAYMENTS
// ===============================

func (h *LedgerRestHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var in domain.PaymentRequest
	if !decode(w, r, &in) {
		return
	}
	p, err := h.txUC.CreatePayment(r.Context(), &in)
	if err != nil {
		handleUsecaseError(w, err)
		return
	}
	response.JSON(w, http.StatusCreated, p)
}

type refundJSON struct {
	Amount     decimal.Decimal `json:"amount"`
	OccurredAt time.Time       `json:"occurred_at"`
	Notes      string          `json:"notes"`
}

func (h *LedgerRestHandler) CreateRefund(w http.ResponseWriter, r *http.Request) {
	var in refundJSON
	if !decode(w, r, &in) {
		return
	}
	p, err := h.txUC.CreateRefund(r.Context(), &domain.RefundRequest{
		OriginalPaymentID: chi.URLParam(r, "id"),
		Amount:            in.Amount,
		OccurredAt:        in.OccurredAt,
		Notes:             in.Notes,
	})
	if err != nil {
		handleUsecaseError(w, err)
		return
	}
	response.JSON(w, http.StatusCreated, p)
}

func (h *LedgerRestHandler) CancelPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.txUC.CancelPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleUsecaseError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, p)
}

// ===============================
// RESERVATIONS
// ===============================

type reservationJSON struct {
	ContractPrice decimal.Decimal `json:"contract_price"`
	Cancelled     bool            `json:"cancelled"`
}

// PutReservation registers a booking when the ledger keeps its own reservation directory.
func (h *LedgerRestHandler) PutReservation(w http.ResponseWriter, r *http.Request) {
	var in reservationJSON
	if !decode(w, r, &in) {
		return
	}
	res, err := h.settlementUC.PutReservation(r.Context(), &domain.Reservation{
		ID:            chi.URLParam(r, "id"),
		ContractPrice: in.ContractPrice,
		Cancelled:     in.Cancelled,
	})
	if err != nil {
		handleUsecaseError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, res)
}

func (h *LedgerRestHandler) GetReservationSettlement(w http.ResponseWriter, r *http.Request) {
	s, err := h.settlementUC.GetReservationSettlement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleUsecaseError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, s)
}

type outstandingJSON struct {
	ReservationIDs []string `json:"reservation_ids"`
}

func (h *LedgerRestHandler) GetOutstandingTotal(w http.ResponseWriter, r *http.Request) {
	var in outstandingJSON
	if !decode(w, r, &in) {
		return
	}
	sum, err := h.settlementUC.GetOutstandingTotal(r.Context(), in.ReservationIDs)
	if err != nil {
		handleUsecaseError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, sum)
}

type fieldsJSON struct {
	Schema []customfield.Field `json:"schema"`
	Values map[string]any      `json:"values"`
}

func (h *LedgerRestHandler) GetReservationFields(w http.ResponseWriter, r *http.Request) {
	vals := h.fields.Get(r.Context(), chi.URLParam(r, "id"))
	response.JSON(w, http.StatusOK, fieldsJSON{Schema: h.fields.Schema().Fields(), Values: vals.Raw()})
}

func (h *LedgerRestHandler) PutReservationFields(w http.ResponseWriter, r *http.Request) {
	var in map[string]any
	if !decode(w, r, &in) {
		return
	}
	vals, err := h.fields.Schema().Parse(in)
	if err != nil {
		handleUsecaseError(w, err)
		return
	}
	if err := h.fields.Put(r.Context(), chi.URLParam(r, "id"), vals); err != nil {
		handleUsecaseError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, fieldsJSON{Schema: h.fields.Schema().Fields(), Values: vals.Raw()})
}

// ===============================
// RECONCILIATION
// ===============================

func (h *LedgerRestHandler) ReconcileAll(w http.ResponseWriter, r *http.Request) {
	report, err := h.ledgerUC.ReconcileAll(r.Context())
	if err != nil {
		handleUsecaseError(w, err)
		return
	}
	if len(report.Mismatches) > 0 {
		response.Warning(w, http.StatusOK, "ledger mismatches found", report)
		return
	}
	response.JSON(w, http.StatusOK, report)
}
