package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Checker-Finance/trade-escrow/internal/api"
	"github.com/Checker-Finance/trade-escrow/internal/auth"
	"github.com/Checker-Finance/trade-escrow/internal/deal"
	"github.com/Checker-Finance/trade-escrow/internal/escrow"
	"github.com/Checker-Finance/trade-escrow/internal/fx"
	"github.com/Checker-Finance/trade-escrow/internal/httpclient"
	"github.com/Checker-Finance/trade-escrow/internal/jobs"
	"github.com/Checker-Finance/trade-escrow/internal/legacy"
	"github.com/Checker-Finance/trade-escrow/internal/metrics"
	"github.com/Checker-Finance/trade-escrow/internal/orchestrator"
	"github.com/Checker-Finance/trade-escrow/internal/publisher"
	"github.com/Checker-Finance/trade-escrow/internal/quote"
	"github.com/Checker-Finance/trade-escrow/internal/rabbitmq"
	"github.com/Checker-Finance/trade-escrow/internal/rate"
	"github.com/Checker-Finance/trade-escrow/internal/store"
	"github.com/Checker-Finance/trade-escrow/pkg/config"
	"github.com/Checker-Finance/trade-escrow/pkg/eventbus"
	"github.com/Checker-Finance/trade-escrow/pkg/logger"
	"github.com/Checker-Finance/trade-escrow/pkg/model"
	"github.com/Checker-Finance/trade-escrow/pkg/secrets"
	"github.com/Checker-Finance/trade-escrow/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()
	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()

	if err := cfg.Validate(); err != nil {
		logg.Fatalw("invalid configuration", "error", err)
	}
	logg.Infow("starting [trade-escrow]...", "store", cfg.StoreBackend)

	checks := map[string]api.HealthCheck{}

	// --- Store ---
	st, pg, err := openStore(ctx, cfg)
	if err != nil {
		logg.Fatalw("failed to init store", "error", err)
	}
	checks["store"] = st.HealthCheck

	// --- Event bus and external sinks ---
	bus := eventbus.New(logger.Named("eventbus"))
	bus.OnError(func(sub string, ev model.TradeEvent, _ error) {
		metrics.IncError("eventbus", sub)
	})

	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = nats.Connect(cfg.NATSURL, nats.Name(cfg.ServiceName), nats.MaxReconnects(-1))
		if err != nil {
			logg.Fatalw("failed to connect to NATS", "error", err)
		}
		pub, err := publisher.New(nc, cfg.NATSSubjectPrefix, cfg.ServiceName, logger.Named("publisher"))
		if err != nil {
			logg.Fatalw("failed to init publisher", "error", err)
		}
		pub.Attach(bus)
		checks["nats"] = func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("disconnected")
			}
			return nc.FlushTimeout(time.Second)
		}
	} else {
		logg.Warn("NATS_URL not configured; trade events will not be published to NATS")
	}

	var mq *rabbitmq.Publisher
	if cfg.RabbitMQURL != "" {
		mq, err = rabbitmq.NewPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange, logger.Named("rabbitmq"))
		if err != nil {
			logg.Fatalw("failed to init RabbitMQ publisher", "error", err)
		}
		mq.Attach(bus)
	}

	if cfg.LegacySync {
		if pg == nil {
			logg.Warn("LEGACY_SYNC_ENABLED requires STORE_BACKEND=postgres; activity sync disabled")
		} else {
			legacy.NewActivityWriter(pg.PG, logger.Named("legacy"), cfg.ServiceName).Attach(bus)
		}
	}

	// --- FX ---
	var quotes fx.QuoteStore = fx.NewMemoryQuoteStore()
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB, Password: cfg.RedisPass})
		quotes = fx.NewRedisQuoteStore(rdb)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	var rates fx.RateSource = fx.StaticRates{}
	if cfg.FXRatesURL != "" {
		outbound := rate.NewManager(rate.Config{RequestsPerSecond: cfg.FXRatesRPS, Burst: cfg.FXRateBurst})
		exec := httpclient.New(logger.Named("fx.http"), outbound, &http.Client{Timeout: 5 * time.Second}, 2, "fx", nil)
		rates = fx.NewHTTPRates(exec, cfg.FXRatesURL)
	}
	fxSvc := fx.NewService(rates, quotes, logger.Named("fx"))

	// --- Domain ---
	seeds, err := escrow.ParseSeeds(cfg.SeedBalances)
	if err != nil {
		logg.Fatalw("invalid SEED_BALANCES", "error", err)
	}
	if len(seeds) == 0 && cfg.DemoFunding {
		seeds = escrow.DemoSeeds
	}
	ledger := escrow.NewLedger(st, seeds, logger.Named("escrow"))
	quotesEngine := quote.NewEngine(st, bus, logger.Named("quote"))
	tracker := deal.NewTracker(st, bus, logger.Named("deal"))
	orch := orchestrator.New(st, ledger, fxSvc, bus, logger.Named("orchestrator"))

	// --- Auth (static keys + secrets manager, cached) ---
	static, err := auth.ParseStaticKeys(cfg.AuthStaticKeys)
	if err != nil {
		logg.Fatalw("invalid AUTH_STATIC_KEYS", "error", err)
	}
	var provider secrets.Provider
	if cfg.AuthSecretName != "" {
		awsProvider, err := secrets.NewAWSProvider(ctx, cfg.AWSRegion)
		if err != nil {
			logg.Fatalw("failed to create AWS Secrets Manager provider", "error", err)
		}
		provider = awsProvider
	}
	keyCache := secrets.NewCache[map[string]string](cfg.AuthCacheTTL)
	stopCleaner := make(chan struct{})
	go keyCache.StartCleaner(cfg.CleanupFreq, stopCleaner)
	resolver := auth.NewResolver(logger.Named("auth"), static, provider, cfg.AuthSecretName, keyCache)

	// --- Background ledger audit ---
	auditor := jobs.NewLedgerAuditor(logger.Named("ledger_auditor"), ledger, bus, cfg.LedgerAuditInterval)
	go auditor.Start(ctx)

	// --- Fiber HTTP Server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
		BodyLimit:    cfg.HTTPBodyLimit,
	})
	api.RegisterRoutes(app, api.Routes{
		Trade: api.NewTradeHandler(logger.Named("api"), api.Services{
			Quotes:       quotesEngine,
			Orchestrator: orch,
			Deals:        tracker,
			Ledger:       ledger,
			FX:           fxSvc,
		}),
		Auth:        api.RequireOrg(resolver, logger.Named("api.auth")),
		RateLimit:   api.RateLimit(rate.NewManager(rate.Config{RequestsPerSecond: cfg.RateLimitRPS, Burst: cfg.RateLimitBurst})),
		Checks:      checks,
		DemoFunding: cfg.DemoFunding,
	})

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	logg.Infow("[trade-escrow] running",
		"env", cfg.Env,
		"nats", cfg.NATSURL != "",
		"rabbitmq", cfg.RabbitMQURL != "",
		"redis", cfg.RedisAddr != "",
		"demo_funding", cfg.DemoFunding,
		"audit_interval", cfg.LedgerAuditInterval)

	<-ctx.Done()
	logg.Info("shutting down [trade-escrow]...")

	auditor.Stop()
	close(stopCleaner)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	if nc != nil {
		if err := nc.Drain(); err != nil {
			logg.Warnw("nats.drain_failed", "error", err)
		}
	}
	if mq != nil {
		if err := mq.Close(); err != nil {
			logg.Warnw("rabbitmq.close_failed", "error", err)
		}
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	if err := st.Close(); err != nil {
		logg.Warnw("store.close_failed", "error", err)
	}
}

// openStore returns the postgres backend alongside the store when that backend is selected.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, *store.PostgresBackend, error) {
	l := logger.Named("store")
	switch cfg.StoreBackend {
	case config.BackendPebble:
		b, err := store.NewPebbleBackend(cfg.PebbleDir)
		if err != nil {
			return nil, nil, err
		}
		l.Info("store.pebble.opened", zap.String("dir", cfg.PebbleDir))
		return store.New(b, l), nil, nil
	case config.BackendPostgres:
		l.Info("store.postgres.connecting", zap.String("dsn", utils.MaskDSN(cfg.DatabaseURL)))
		b, err := store.NewPostgres(ctx, cfg.DatabaseURL, store.PGPoolConfig{
			MaxConns:          int32(cfg.PGMaxConns),
			MinConns:          int32(cfg.PGMinConns),
			MaxConnLifetime:   cfg.PGMaxConnLifetime,
			MaxConnIdleTime:   cfg.PGMaxConnIdleTime,
			HealthCheckPeriod: cfg.PGHealthCheckPeriod,
		}, l)
		if err != nil {
			return nil, nil, err
		}
		if cfg.PGAutoMigrate {
			if err := b.Migrate(ctx); err != nil {
				_ = b.Close()
				return nil, nil, fmt.Errorf("migrate: %w", err)
			}
		}
		return store.New(b, l), b, nil
	default:
		return store.NewMemory(l), nil, nil
	}
}
