package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ariefcatur/marketplace-orders/internal/auth"
	"github.com/ariefcatur/marketplace-orders/internal/config"
	"github.com/ariefcatur/marketplace-orders/internal/httpx"
	"github.com/ariefcatur/marketplace-orders/internal/inventory"
	kafkax "github.com/ariefcatur/marketplace-orders/internal/kafka"
	"github.com/ariefcatur/marketplace-orders/internal/logging"
	"github.com/ariefcatur/marketplace-orders/internal/memstore"
	"github.com/ariefcatur/marketplace-orders/internal/notify"
	"github.com/ariefcatur/marketplace-orders/internal/orders"
	"github.com/ariefcatur/marketplace-orders/internal/postgres"
	"github.com/ariefcatur/marketplace-orders/internal/redisx"
	"github.com/ariefcatur/marketplace-orders/internal/shutdown"
	"github.com/ariefcatur/marketplace-orders/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.New(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "err", err)
		os.Exit(1)
	}
	if err := run(cfg, log); err != nil {
		log.Error("api stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := shutdown.WithSignals(context.Background())
	defer stop()

	otelShutdown, err := telemetry.Init(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelShutdown(sctx)
	}()

	// Store
	var store orders.Store
	switch cfg.Store {
	case "memory":
		log.Warn("using in-memory store; data is lost on exit")
		store = memstore.New()
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
		store = postgres.NewStore(db)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		log.Warn("redis unreachable; idempotency and status cache degraded", "addr", cfg.RedisAddr, "err", err)
	}

	// Kafka producer; its lifetime is independent of the signal context so
	// queued events are flushed after the server stops.
	prod := kafkax.NewProducer(log, cfg.KafkaBrokers, 1024)
	prod.Start(context.Background())

	svc := orders.NewService(log, store, inventory.NewLedger(),
		orders.WithNotifier(notify.NewPublisher(prod, cfg.ServiceName)),
	)
	router := httpx.NewRouter(log)
	oh := &httpx.OrdersHandler{
		Service:  svc,
		Verifier: auth.NewVerifier(cfg.JWTKey),
		Idem:     redisx.NewIdempotency(rdb),
		Status:   redisx.NewStatusCache(rdb),
		Log:      log,
	}
	oh.Register(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(router, "order-api"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr, "store", cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errc:
		prod.Close()
		prod.WaitClosed()
		return err
	}

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = srv.Shutdown(sctx)
	prod.Close()
	prod.WaitClosed()
	return err
}
