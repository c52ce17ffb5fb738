package main

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"qms/queue-ticketing/internal/config"
	"qms/queue-ticketing/internal/events"
	"qms/queue-ticketing/internal/httpapi"
	"qms/queue-ticketing/internal/hub"
	"qms/queue-ticketing/internal/logging"
	"qms/queue-ticketing/internal/seed"
	"qms/queue-ticketing/internal/service"
	"qms/queue-ticketing/internal/store"
	"qms/queue-ticketing/internal/store/memory"
	"qms/queue-ticketing/internal/store/postgres"
	"qms/queue-ticketing/internal/store/sqlite"
	"qms/queue-ticketing/internal/telemetry"
)

const serviceName = "queue-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("queue-service stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	shutdownTracing := telemetry.Setup(ctx, serviceName, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return errors.Trace(err)
	}
	defer closeStore()

	if cfg.CountersSeedFile != "" {
		file, err := seed.LoadFile(cfg.CountersSeedFile)
		if err != nil {
			return errors.Trace(err)
		}
		if _, err := seed.Apply(ctx, st, file, logger); err != nil {
			return errors.Trace(err)
		}
	}

	bus := events.NewBus(logger)
	realtime := hub.New(logger.Named("hub"))
	detach := realtime.Attach(bus)
	defer detach()

	svc := service.New(st, bus, service.Options{Clock: clock.WallClock, Logger: logger.Named("service")})
	handler := httpapi.NewHandler(svc, logger.Named("http"))
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		PerMinute:         cfg.RateLimitPerMin,
		Burst:             cfg.RateLimitBurst,
		TrustForwardedFor: cfg.TrustProxy,
	})

	router := chi.NewRouter()
	router.Handle("/metrics", expvar.Handler())
	router.Handle(cfg.RealtimePrefix+"/*", realtime.Handler(cfg.RealtimePrefix))
	router.Mount("/", limiter.Middleware(handler.Routes()))

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(httpapi.LoggingMiddleware(logger.Named("access"))(router), serviceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("queue-service listening",
			zap.String("addr", server.Addr),
			zap.String("store", cfg.StoreDriver),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return errors.Annotate(err, "serve")
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Annotate(err, "shutdown")
	}
	return nil
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.QueueStore, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, errors.Annotate(err, "connect postgres")
		}
		st := postgres.NewStore(pool)
		if cfg.AutoMigrate {
			if err := st.Migrate(ctx); err != nil {
				pool.Close()
				return nil, nil, errors.Trace(err)
			}
		}
		return st, pool.Close, nil
	case config.DriverSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, errors.Trace(err)
		}
		st := sqlite.NewStore(db)
		if cfg.AutoMigrate {
			if err := st.Migrate(ctx); err != nil {
				db.Close()
				return nil, nil, errors.Trace(err)
			}
		}
		return st, func() { db.Close() }, nil
	default:
		logger.Warn("using in-memory store; data is lost on exit")
		return memory.NewStore(), func() {}, nil
	}
}
