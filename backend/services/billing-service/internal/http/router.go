package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chargepay/backend/services/billing-service/internal/http/handlers"
)

// RouterDeps collects handler dependencies.
type RouterDeps struct {
	Settlement    *handlers.SettlementHandlers
	Tariffs       *handlers.TariffHandlers
	Wallets       *handlers.WalletHandlers
	EstimateWS    http.HandlerFunc
	HealthHandler http.HandlerFunc
	// Metrics defaults to the prometheus default gatherer.
	Metrics http.Handler
}

// Middlewares guard the route groups. Other /internal routes are reachable only
// inside the cluster network.
type Middlewares struct {
	// Gateway guards payment gateway callbacks.
	Gateway func(http.Handler) http.Handler
	// User authenticates wallet owners.
	User func(http.Handler) http.Handler
}

// NewRouter wires HTTP routes with middleware.
func NewRouter(deps RouterDeps, mw Middlewares) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", deps.HealthHandler)
	metricsHandler := deps.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Route("/internal", func(r chi.Router) {
		r.Post("/sessions/settle", deps.Settlement.Settle)
		r.Post("/sessions/quote", deps.Settlement.Quote)
		r.Post("/tariffs", deps.Tariffs.Register)
		r.Get("/tariffs/{id}/versions", deps.Tariffs.Versions)
		r.Get("/tariffs/{id}/versions/{version}", deps.Tariffs.Get)
		r.Post("/wallets", deps.Wallets.Open)
		r.Post("/wallets/{walletID}/topups", deps.Wallets.TopUp)
		r.Post("/wallets/{walletID}/transactions/{txID}/refunds", deps.Settlement.Refund)

		r.Group(func(r chi.Router) {
			use(r, mw.Gateway)
			r.Post("/wallets/{walletID}/transactions/{txID}/complete", deps.Wallets.Complete)
			r.Post("/wallets/{walletID}/transactions/{txID}/fail", deps.Wallets.Fail)
		})
	})

	r.Group(func(r chi.Router) {
		use(r, mw.User)
		r.Get("/wallets/me", deps.Wallets.Me)
		r.Get("/wallets/me/transactions", deps.Wallets.MeTransactions)
		r.Get("/wallets/me/statement.{format}", deps.Wallets.MeStatement)
		if deps.EstimateWS != nil {
			r.Get("/ws/sessions/{transactionID}/estimate", deps.EstimateWS)
		}
	})

	return r
}

func use(r chi.Router, mw func(http.Handler) http.Handler) {
	if mw != nil {
		r.Use(mw)
	}
}
