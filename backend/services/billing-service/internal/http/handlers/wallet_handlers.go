package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"chargepay/backend/services/billing-service/internal/export"
	"chargepay/backend/services/billing-service/internal/http/middleware"
	"chargepay/backend/services/billing-service/internal/ledger"
	"chargepay/backend/services/billing-service/internal/service"
)

const (
	defaultTransactionsLimit = 50
	maxTransactionsLimit     = 500
)

// WalletHandlers serves wallet endpoints for owners, internal callers and the payment gateway.
type WalletHandlers struct {
	wallets *service.WalletService
	logger  *zap.Logger
}

func NewWalletHandlers(wallets *service.WalletService, logger *zap.Logger) *WalletHandlers {
	return &WalletHandlers{wallets: wallets, logger: logger}
}

type openWalletRequest struct {
	Owner    string `json:"owner"`
	Currency string `json:"currency"`
}

// Open handles POST /internal/wallets. Opening twice returns the same wallet.
func (h *WalletHandlers) Open(w http.ResponseWriter, r *http.Request) {
	var req openWalletRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Owner = strings.TrimSpace(req.Owner)
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if req.Owner == "" || len(req.Currency) != 3 {
		writeError(w, http.StatusBadRequest, "owner and 3-letter currency required")
		return
	}
	wallet, err := h.wallets.OpenWallet(r.Context(), req.Owner, req.Currency)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

type topUpRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}

// TopUp handles POST /internal/wallets/{walletID}/topups.
func (h *WalletHandlers) TopUp(w http.ResponseWriter, r *http.Request) {
	walletID, ok := uuidParam(w, r, "walletID")
	if !ok {
		return
	}
	var req topUpRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	receipt, err := h.wallets.TopUp(r.Context(), walletID, req.Amount, req.Reference)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// Complete handles the gateway's success callback.
func (h *WalletHandlers) Complete(w http.ResponseWriter, r *http.Request) {
	h.finish(w, r, h.wallets.Complete)
}

// Fail handles the gateway's failure callback.
func (h *WalletHandlers) Fail(w http.ResponseWriter, r *http.Request) {
	h.finish(w, r, h.wallets.Fail)
}

func (h *WalletHandlers) finish(w http.ResponseWriter, r *http.Request, transition func(ctx context.Context, walletID, txID uuid.UUID) (ledger.Receipt, error)) {
	walletID, ok := uuidParam(w, r, "walletID")
	if !ok {
		return
	}
	txID, ok := uuidParam(w, r, "txID")
	if !ok {
		return
	}
	receipt, err := transition(r.Context(), walletID, txID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// Me handles GET /wallets/me.
func (h *WalletHandlers) Me(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.ownWallet(w, r)
	if !ok {
		return
	}
	view, err := h.wallets.View(r.Context(), wallet.ID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// MeTransactions handles GET /wallets/me/transactions?limit=N.
func (h *WalletHandlers) MeTransactions(w http.ResponseWriter, r *http.Request) {
	limit := defaultTransactionsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxTransactionsLimit {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	wallet, ok := h.ownWallet(w, r)
	if !ok {
		return
	}
	txs, err := h.wallets.Transactions(r.Context(), wallet.ID, limit)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
	})
}

// MeStatement handles GET /wallets/me/statement.{format}.
func (h *WalletHandlers) MeStatement(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(chi.URLParam(r, "format"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	wallet, ok := h.ownWallet(w, r)
	if !ok {
		return
	}
	body, err := h.wallets.Statement(r.Context(), wallet.ID, format)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	filename := fmt.Sprintf("statement-%s.%s", time.Now().UTC().Format("2006-01-02"), format)
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *WalletHandlers) ownWallet(w http.ResponseWriter, r *http.Request) (ledger.Wallet, bool) {
	owner, ok := middleware.OwnerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return ledger.Wallet{}, false
	}
	wallet, err := h.wallets.WalletForOwner(r.Context(), owner)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return ledger.Wallet{}, false
	}
	return wallet, true
}
