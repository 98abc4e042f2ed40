package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"chargepay/backend/services/billing-service/internal/service"
	"chargepay/backend/services/billing-service/internal/session"
)

// SettlementHandlers serves settlement, quote and refund endpoints.
type SettlementHandlers struct {
	settlement *service.SettlementService
	logger     *zap.Logger
}

// NewSettlementHandlers builds handlers.
func NewSettlementHandlers(settlement *service.SettlementService, logger *zap.Logger) *SettlementHandlers {
	return &SettlementHandlers{settlement: settlement, logger: logger}
}

// settleRequest carries either full session facts or a transaction id to load
// them by.
type settleRequest struct {
	WalletID      uuid.UUID                `json:"wallet_id"`
	TransactionID string                   `json:"transaction_id,omitempty"`
	Session       *session.ChargingSession `json:"session,omitempty"`
}

// Settle handles POST /internal/sessions/settle.
func (h *SettlementHandlers) Settle(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.WalletID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "wallet_id required")
		return
	}

	var (
		result service.Settlement
		err    error
	)
	switch {
	case req.Session != nil:
		result, err = h.settlement.Settle(r.Context(), req.WalletID, *req.Session)
	case req.TransactionID != "":
		result, err = h.settlement.SettleTransaction(r.Context(), req.WalletID, req.TransactionID)
	default:
		writeError(w, http.StatusBadRequest, "session or transaction_id required")
		return
	}
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	status := http.StatusCreated
	if result.Receipt == nil || result.Receipt.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

// Quote handles POST /internal/sessions/quote.
func (h *SettlementHandlers) Quote(w http.ResponseWriter, r *http.Request) {
	var cs session.ChargingSession
	if !decodeJSON(w, r, &cs) {
		return
	}
	breakdown, err := h.settlement.Quote(r.Context(), cs)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, breakdown)
}

type refundRequest struct {
	// Amount defaults to everything still refundable.
	Amount *decimal.Decimal `json:"amount,omitempty"`
	Reason string           `json:"reason"`
}

// Refund handles POST /internal/wallets/{walletID}/transactions/{txID}/refunds.
func (h *SettlementHandlers) Refund(w http.ResponseWriter, r *http.Request) {
	walletID, ok := uuidParam(w, r, "walletID")
	if !ok {
		return
	}
	paymentID, ok := uuidParam(w, r, "txID")
	if !ok {
		return
	}
	var req refundRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason required")
		return
	}

	receipt, err := h.settlement.Refund(r.Context(), walletID, paymentID, req.Amount, req.Reason)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}
