package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"baton/cmd/server/config"
	"baton/internal/contracts"
	idemdb "baton/internal/db/idempotency"
	sagadb "baton/internal/db/saga"
	"baton/internal/gateway"
	"baton/internal/monitor"
	"baton/internal/observability"
	"baton/internal/outbox"
	"baton/internal/realtime"
	"baton/internal/resilience"
	"baton/internal/saga"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const idempotencyLockTTL = time.Minute

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func run(ctx context.Context, logger *zap.Logger) error {
	dbCfg, err := config.LoadDatabase()
	if err != nil {
		return err
	}
	db, err := sql.Open("pgx", dbCfg.URL)
	if err != nil {
		return err
	}
	defer db.Close()
	if dbCfg.MaxOpenConns != nil {
		db.SetMaxOpenConns(*dbCfg.MaxOpenConns)
	}
	if dbCfg.MaxIdleConns != nil {
		db.SetMaxIdleConns(*dbCfg.MaxIdleConns)
	}

	sagaStore, err := sagadb.NewStoreWithSchema(ctx, db)
	if err != nil {
		return err
	}
	idemStore, err := idemdb.NewStoreWithSchema(ctx, db, idempotencyLockTTL)
	if err != nil {
		return err
	}

	hub := realtime.NewHub()
	go hub.Run()

	engine := saga.NewEngine(sagaStore, logger,
		saga.WithDeadLetter(sagaStore),
		saga.WithNotifier(hub))
	handler := saga.NewHandler(engine, idemStore, logger)

	b, err := buildBus(ctx, logger)
	if err != nil {
		return err
	}
	defer b.cleanup()

	metrics := observability.NewMetrics()

	outCfg, err := config.LoadOutbox()
	if err != nil {
		return err
	}
	interval, batch := time.Duration(0), 0
	if outCfg.PollInterval != nil {
		interval = *outCfg.PollInterval
	}
	if outCfg.BatchSize != nil {
		batch = *outCfg.BatchSize
	}
	dispatcher := outbox.NewDispatcher(sagaStore, b.publisher, interval, batch, logger, metrics)

	resCfg, err := config.LoadResilience()
	if err != nil {
		return err
	}
	registry := resilience.NewRegistry(policyFromConfig(resCfg))
	promReg := prometheus.NewRegistry()
	pipeline := resilience.NewPipeline(registry,
		resilience.WithObserver(resilience.NewMetricsObserver(logger, promReg)))
	metrics.SetBreakerSource(func() map[string]string {
		out := make(map[string]string)
		for key, status := range registry.BreakerSnapshot() {
			out[key] = string(status)
		}
		return out
	})

	obsSrv, err := startObservabilityServer(logger, metrics, promReg, sagaStore, hub)
	if err != nil {
		return err
	}
	gwSrv, err := startGatewayServer(logger, pipeline)
	if err != nil {
		return err
	}

	logger.Info("saga engine running")

	errCh := make(chan error, 2)
	go func() {
		errCh <- b.consumer.Run(ctx, func(ctx context.Context, payload []byte) error {
			var env contracts.Envelope
			if err := json.Unmarshal(payload, &env); err != nil {
				logger.Warn("discarding undecodable message", zap.Error(err))
				return nil
			}
			return handler.Handle(ctx, env)
		})
	}()
	go func() {
		errCh <- dispatcher.Run(ctx)
	}()

	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if obsSrv != nil {
			_ = obsSrv.Shutdown(shutdownCtx)
		}
		if gwSrv != nil {
			_ = gwSrv.Shutdown(shutdownCtx)
		}
	}

	select {
	case <-ctx.Done():
		shutdown()
		return nil
	case err := <-errCh:
		shutdown()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
}

func policyFromConfig(cfg config.ResilienceConfig) resilience.Policy {
	p := resilience.DefaultPolicy()
	if cfg.Timeout != nil {
		p.Timeout = *cfg.Timeout
	}
	if cfg.RetryMaxAttempts != nil {
		p.MaxAttempts = *cfg.RetryMaxAttempts
	}
	if cfg.RetryBaseDelay != nil {
		p.BaseDelay = *cfg.RetryBaseDelay
	}
	if cfg.BreakerMaxFailures != nil {
		p.BreakerMaxFailures = *cfg.BreakerMaxFailures
	}
	if cfg.BreakerResetAfter != nil {
		p.BreakerReset = *cfg.BreakerResetAfter
	}
	if cfg.BulkheadSlots != nil {
		p.BulkheadSlots = *cfg.BulkheadSlots
	}
	if cfg.BulkheadQueue != nil {
		p.BulkheadQueue = *cfg.BulkheadQueue
	}
	return p
}

func startObservabilityServer(logger *zap.Logger, metrics *observability.Metrics, promReg *prometheus.Registry, store *sagadb.Store, hub *realtime.Hub) (*http.Server, error) {
	cfg, err := config.LoadObservability()
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	mux.Handle("/stats", observability.Handler(metrics))
	mux.Handle("/ws", realtime.Handler(hub))
	mux.Handle("/", monitor.Handler(monitor.NewService(store)))

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("observability server error", zap.Error(err))
		}
	}()

	return srv, nil
}

func startGatewayServer(logger *zap.Logger, pipeline *resilience.Pipeline) (*http.Server, error) {
	cfg, err := config.LoadGateway()
	if err != nil {
		return nil, err
	}
	if cfg.Addr == "" {
		return nil, nil
	}

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: gateway.New(pipeline, cfg.Backends, logger),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("gateway server error", zap.Error(err))
		}
	}()

	logger.Info("storefront gateway listening", zap.String("addr", cfg.Addr))
	return srv, nil
}
