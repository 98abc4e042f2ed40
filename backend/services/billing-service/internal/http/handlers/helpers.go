package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"chargepay/backend/services/billing-service/internal/export"
	"chargepay/backend/services/billing-service/internal/ledger"
	"chargepay/backend/services/billing-service/internal/pricing"
	"chargepay/backend/services/billing-service/internal/service"
	"chargepay/backend/services/billing-service/internal/session"
	"chargepay/backend/services/billing-service/internal/tariff"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeServiceError maps domain errors to status codes. Unexpected errors are
// logged and hidden from the client.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}
	var settleErr *service.SettlementError
	if errors.As(err, &settleErr) {
		resp.Stage = settleErr.Stage
	}
	if status == http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
		resp.Error = "internal error"
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, ledger.ErrLedgerStateConflict),
		errors.Is(err, tariff.ErrImmutable):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrWalletNotFound),
		errors.Is(err, ledger.ErrTransactionNotFound),
		errors.Is(err, tariff.ErrNotFound),
		errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pricing.ErrTariffExpired),
		errors.Is(err, tariff.ErrTariffConflict),
		errors.Is(err, session.ErrIncompleteSessionFacts),
		errors.Is(err, session.ErrInvalidSessionWindow),
		errors.Is(err, service.ErrCurrencyMismatch),
		errors.Is(err, service.ErrRefundExceedsPayment),
		errors.Is(err, service.ErrNotRefundable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, tariff.ErrInvalidTariff),
		errors.Is(err, ledger.ErrInvalidPosting),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, pricing.ErrNoTariff),
		errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
