package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"chargepay/backend/services/billing-service/internal/http/handlers"
	"chargepay/backend/services/billing-service/internal/http/middleware"
	"chargepay/backend/services/billing-service/internal/ledger"
	"chargepay/backend/services/billing-service/internal/metrics"
	"chargepay/backend/services/billing-service/internal/service"
	"chargepay/backend/services/billing-service/internal/tariff"
)

const (
	jwtSecret  = "test-secret"
	gatewayKey = "gateway-key"
)

type testEnv struct {
	t       *testing.T
	handler http.Handler
	wallets *service.WalletService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	tariffs := service.NewTariffService(tariff.NewMemoryCatalog(), logger)
	wallets := service.NewWalletService(ledger.New(ledger.NewMemoryStore()), nil, m, logger)
	settlement := service.NewSettlementService(tariffs, wallets, nil, m, logger, service.SettlementOptions{AutoComplete: true})

	hash, err := bcrypt.GenerateFromPassword([]byte(gatewayKey), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash gateway key: %v", err)
	}

	router := NewRouter(RouterDeps{
		Settlement:    handlers.NewSettlementHandlers(settlement, logger),
		Tariffs:       handlers.NewTariffHandlers(tariffs, logger),
		Wallets:       handlers.NewWalletHandlers(wallets, logger),
		HealthHandler: handlers.NewHealthHandler(nil),
		Metrics:       promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}, Middlewares{
		Gateway: middleware.GatewayKey(string(hash)),
		User:    middleware.AuthMiddleware(jwtSecret),
	})
	return &testEnv{t: t, handler: router, wallets: wallets}
}

func (e *testEnv) do(method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			e.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func bearer(t *testing.T, userID interface{}) map[string]string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + signed}
}

func (e *testEnv) setup() ledger.Wallet {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/internal/tariffs", map[string]interface{}{
		"id":       "city",
		"version":  1,
		"currency": "EUR",
		"components": []map[string]interface{}{
			{"type": "ENERGY", "price": "0.35", "step_size": "0.1", "vat": "20"},
			{"type": "FLAT", "price": "0.50"},
		},
	}, nil)
	if rec.Code != http.StatusCreated {
		e.t.Fatalf("register tariff: %d %s", rec.Code, rec.Body.String())
	}

	rec = e.do(http.MethodPost, "/internal/wallets", map[string]string{"owner": "42", "currency": "eur"}, nil)
	if rec.Code != http.StatusOK {
		e.t.Fatalf("open wallet: %d %s", rec.Code, rec.Body.String())
	}
	var w ledger.Wallet
	decode(e.t, rec, &w)
	return w
}

func (e *testEnv) topUp(w ledger.Wallet, amount string) ledger.Receipt {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/internal/wallets/"+w.ID.String()+"/topups",
		map[string]string{"amount": amount, "reference": "gw-1"}, nil)
	if rec.Code != http.StatusCreated {
		e.t.Fatalf("top up: %d %s", rec.Code, rec.Body.String())
	}
	var r ledger.Receipt
	decode(e.t, rec, &r)
	return r
}

func settleBody(w ledger.Wallet, txID string) map[string]interface{} {
	return map[string]interface{}{
		"wallet_id": w.ID,
		"session": map[string]interface{}{
			"connector_id":   1,
			"transaction_id": txID,
			"start_time":     "2024-05-06T12:00:00Z",
			"end_time":       "2024-05-06T13:00:00Z",
			"meter_start":    1000,
			"meter_stop":     5567,
			"tariff_ref":     map[string]interface{}{"id": "city", "version": 1},
		},
	}
}

func TestSettleFlow(t *testing.T) {
	env := newTestEnv(t)
	w := env.setup()
	top := env.topUp(w, "10.00")

	callback := "/internal/wallets/" + w.ID.String() + "/transactions/" + top.Transaction.ID.String() + "/complete"
	if rec := env.do(http.MethodPost, callback, nil, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without gateway key, got %d", rec.Code)
	}
	if rec := env.do(http.MethodPost, callback, nil, map[string]string{middleware.GatewayKeyHeader: "wrong"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong gateway key, got %d", rec.Code)
	}
	if rec := env.do(http.MethodPost, callback, nil, map[string]string{middleware.GatewayKeyHeader: gatewayKey}); rec.Code != http.StatusOK {
		t.Fatalf("complete top up: %d %s", rec.Code, rec.Body.String())
	}

	rec := env.do(http.MethodPost, "/internal/sessions/settle", settleBody(w, "tx-1"), nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("settle: %d %s", rec.Code, rec.Body.String())
	}
	var settled service.Settlement
	decode(t, rec, &settled)
	if !settled.Breakdown.Total.Equal(decimal.RequireFromString("2.43")) {
		t.Fatalf("expected 2.43, got %s", settled.Breakdown.Total)
	}
	if settled.Receipt == nil || !settled.Receipt.Summary.Balance.Equal(decimal.RequireFromString("7.57")) {
		t.Fatalf("unexpected receipt %+v", settled.Receipt)
	}

	rec = env.do(http.MethodPost, "/internal/sessions/settle", settleBody(w, "tx-1"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected replay to answer 200, got %d", rec.Code)
	}

	refundPath := "/internal/wallets/" + w.ID.String() + "/transactions/" + settled.Receipt.Transaction.ID.String() + "/refunds"
	rec = env.do(http.MethodPost, refundPath, map[string]string{"amount": "5.00", "reason": "too much"}, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for oversized refund, got %d %s", rec.Code, rec.Body.String())
	}
	var errResp struct {
		Error string `json:"error"`
		Stage string `json:"stage"`
	}
	decode(t, rec, &errResp)
	if errResp.Stage != service.StageRefund {
		t.Fatalf("expected refund stage, got %q", errResp.Stage)
	}
	rec = env.do(http.MethodPost, refundPath, map[string]string{"reason": "fault"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("refund: %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(http.MethodGet, "/wallets/me", nil, bearer(t, float64(42)))
	if rec.Code != http.StatusOK {
		t.Fatalf("wallets/me: %d %s", rec.Code, rec.Body.String())
	}
	var view service.WalletView
	decode(t, rec, &view)
	if !view.Summary.Balance.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("expected balance 10 after refund, got %s", view.Summary.Balance)
	}

	rec = env.do(http.MethodGet, "/wallets/me/transactions?limit=2", nil, bearer(t, "42"))
	if rec.Code != http.StatusOK {
		t.Fatalf("transactions: %d %s", rec.Code, rec.Body.String())
	}
	var list struct {
		Transactions []ledger.Transaction `json:"transactions"`
	}
	decode(t, rec, &list)
	if len(list.Transactions) != 2 || list.Transactions[0].Type != ledger.TypeRefund {
		t.Fatalf("expected newest two transactions, got %+v", list.Transactions)
	}
}

func TestSettleInsufficientBalance(t *testing.T) {
	env := newTestEnv(t)
	w := env.setup()

	rec := env.do(http.MethodPost, "/internal/sessions/settle", settleBody(w, "tx-1"), nil)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d %s", rec.Code, rec.Body.String())
	}
	txs, err := env.wallets.Transactions(context.Background(), w.ID, 0)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if len(txs) != 0 {
		t.Fatalf("expected nothing recorded, got %d", len(txs))
	}
}

func TestErrorStatuses(t *testing.T) {
	env := newTestEnv(t)
	w := env.setup()

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"unknown tariff", http.MethodGet, "/internal/tariffs/nope/versions", nil, http.StatusNotFound},
		{"unknown tariff version", http.MethodGet, "/internal/tariffs/city/versions/7", nil, http.StatusNotFound},
		{"bad tariff version", http.MethodGet, "/internal/tariffs/city/versions/x", nil, http.StatusBadRequest},
		{"conflicting snapshot", http.MethodPost, "/internal/tariffs", map[string]interface{}{
			"id": "city", "version": 1, "currency": "EUR",
			"components": []map[string]interface{}{{"type": "FLAT", "price": "1"}},
		}, http.StatusConflict},
		{"invalid tariff", http.MethodPost, "/internal/tariffs", map[string]interface{}{
			"id": "bad", "version": 1, "currency": "EUR",
			"components": []map[string]interface{}{{"type": "TIME", "price": "1"}},
		}, http.StatusBadRequest},
		{"unknown wallet", http.MethodPost, "/internal/wallets/00000000-0000-0000-0000-000000000001/topups",
			map[string]string{"amount": "1", "reference": "x"}, http.StatusNotFound},
		{"bad amount", http.MethodPost, "/internal/wallets/" + w.ID.String() + "/topups",
			map[string]string{"amount": "0.001", "reference": "x"}, http.StatusBadRequest},
		{"active session", http.MethodPost, "/internal/sessions/settle", map[string]interface{}{
			"wallet_id": w.ID,
			"session": map[string]interface{}{
				"transaction_id": "tx-live",
				"start_time":     "2024-05-06T12:00:00Z",
				"meter_start":    0,
				"tariff_ref":     map[string]interface{}{"id": "city", "version": 1},
			},
		}, http.StatusUnprocessableEntity},
		{"missing wallet id", http.MethodPost, "/internal/sessions/settle", map[string]interface{}{"transaction_id": "tx"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(tt.method, tt.path, tt.body, nil)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestGatewayConflictingCallback(t *testing.T) {
	env := newTestEnv(t)
	w := env.setup()
	top := env.topUp(w, "5")
	base := "/internal/wallets/" + w.ID.String() + "/transactions/" + top.Transaction.ID.String()
	key := map[string]string{middleware.GatewayKeyHeader: gatewayKey}

	if rec := env.do(http.MethodPost, base+"/fail", nil, key); rec.Code != http.StatusOK {
		t.Fatalf("fail: %d %s", rec.Code, rec.Body.String())
	}
	if rec := env.do(http.MethodPost, base+"/complete", nil, key); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestWalletEndpointsRequireToken(t *testing.T) {
	env := newTestEnv(t)
	env.setup()

	if rec := env.do(http.MethodGet, "/wallets/me", nil, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/wallets/me", nil, map[string]string{"Authorization": "Bearer junk"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for junk token, got %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/wallets/me", nil, bearer(t, "7")); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for user without wallet, got %d", rec.Code)
	}
}

func TestStatementDownload(t *testing.T) {
	env := newTestEnv(t)
	w := env.setup()
	env.topUp(w, "10")

	rec := env.do(http.MethodGet, "/wallets/me/statement.pdf", nil, bearer(t, "42"))
	if rec.Code != http.StatusOK {
		t.Fatalf("statement: %d %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")) {
		t.Fatal("expected a PDF document")
	}
	if rec := env.do(http.MethodGet, "/wallets/me/statement.csv", nil, bearer(t, "42")); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown format, got %d", rec.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	w := env.setup()
	env.topUp(w, "1")

	if rec := env.do(http.MethodGet, "/health", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("health: %d", rec.Code)
	}
	rec := env.do(http.MethodGet, "/metrics", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `billing_ledger_postings_total{result="success",type="TOPUP"} 1`) {
		t.Fatalf("expected top-up posting metric, got:\n%s", rec.Body.String())
	}
}
