package app

import (
	"context"
	"database/sql"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	libredis "chargepay/backend/libs/redis"
	"chargepay/backend/services/billing-service/internal/config"
	"chargepay/backend/services/billing-service/internal/db"
	httpserver "chargepay/backend/services/billing-service/internal/http"
	"chargepay/backend/services/billing-service/internal/http/handlers"
	"chargepay/backend/services/billing-service/internal/http/middleware"
	"chargepay/backend/services/billing-service/internal/ledger"
	"chargepay/backend/services/billing-service/internal/metrics"
	redisstore "chargepay/backend/services/billing-service/internal/redis"
	"chargepay/backend/services/billing-service/internal/repository"
	"chargepay/backend/services/billing-service/internal/service"
	"chargepay/backend/services/billing-service/internal/ws"
)

// App wires billing service dependencies.
type App struct {
	server *httpserver.Server
	db     *sql.DB
	redis  *goredis.Client
	logger *zap.Logger
}

// New constructs application graph.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	sqlDB, err := db.NewPostgres(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	a := &App{db: sqlDB, logger: logger}

	if cfg.Database.Migrate {
		if err := db.Migrate(ctx, sqlDB, logger); err != nil {
			a.Close()
			return nil, err
		}
	}

	// The summary cache is optional; without it every read folds the log.
	var cache service.SummaryCache
	if strings.TrimSpace(cfg.Redis.Addr) != "" {
		client, err := libredis.NewRedisClient(libredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = client
		cache = redisstore.NewSummaryStore(client, cfg.Redis.TTL)
	} else {
		logger.Info("redis not configured, wallet summary cache disabled")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	tariffService := service.NewTariffService(repository.NewTariffRepository(sqlDB), logger)
	if path := strings.TrimSpace(cfg.Tariffs.SeedFile); path != "" {
		n, err := tariffService.LoadSeedFile(ctx, path)
		if err != nil {
			a.Close()
			return nil, err
		}
		logger.Info("tariff seed loaded", zap.String("path", path), zap.Int("tariffs", n))
	}

	walletService := service.NewWalletService(ledger.New(repository.NewLedgerRepository(sqlDB)), cache, m, logger)
	settlementService := service.NewSettlementService(
		tariffService,
		walletService,
		repository.NewSessionRepository(sqlDB),
		m,
		logger,
		service.SettlementOptions{AutoComplete: cfg.Settlement.AutoComplete},
	)

	checks := map[string]handlers.Check{"postgres": sqlDB.PingContext}
	if a.redis != nil {
		client := a.redis
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}

	router := httpserver.NewRouter(httpserver.RouterDeps{
		Settlement:    handlers.NewSettlementHandlers(settlementService, logger),
		Tariffs:       handlers.NewTariffHandlers(tariffService, logger),
		Wallets:       handlers.NewWalletHandlers(walletService, logger),
		EstimateWS:    ws.NewEstimateServer(settlementService, cfg.Settlement.EstimateInterval, logger).HandleWS,
		HealthHandler: handlers.NewHealthHandler(checks),
		Metrics:       promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
	}, httpserver.Middlewares{
		Gateway: middleware.GatewayKey(cfg.Auth.GatewayKeyHash),
		User:    middleware.AuthMiddleware(cfg.Auth.JWTSecret),
	})
	if cfg.Auth.GatewayKeyHash == "" {
		logger.Warn("gateway key hash not configured, payment callbacks will be rejected")
	}
	a.server = httpserver.NewServer(cfg.HTTPAddress(), router, httpserver.Options{
		IdleTimeout:     cfg.HTTP.IdleTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	}, logger)
	return a, nil
}

// Run starts HTTP server.
func (a *App) Run(ctx context.Context) error {
	return a.server.Run(ctx)
}

// Close releases resources.
func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
}
