package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/sessiongate/gateway/internal/audit"
	"github.com/sessiongate/gateway/internal/breaker"
	"github.com/sessiongate/gateway/internal/config"
	"github.com/sessiongate/gateway/internal/metrics"
	"github.com/sessiongate/gateway/internal/pipeline"
	"github.com/sessiongate/gateway/internal/sessionfilter"
	"github.com/sessiongate/gateway/internal/sessionstore"
	"github.com/sessiongate/gateway/internal/telemetry"
	"github.com/sessiongate/gateway/internal/workerpool"
	"github.com/sessiongate/gateway/migrations"

	"github.com/prometheus/client_golang/prometheus"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	_ = godotenv.Load()

	level := parseLogLevel(os.Getenv("GATEWAY_LOG_LEVEL"))
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = logger.With(slog.String("service", cfg.ServiceName))
	slog.SetDefault(logger)
	logger.Info("gateway starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	routes, err := config.LoadRoutes(cfg.RoutesFile)
	if err != nil {
		return fmt.Errorf("routes: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		PoolSize: cfg.RedisPoolSize,
	})
	defer func() { _ = redisClient.Close() }()

	breakers := breaker.NewRegistry(cfg.Breakers)
	pool := workerpool.New(0)
	store := sessionstore.New(redisClient, breakers.Breaker("redis"), pool, logger)

	auditLogger, closeAudit, err := newAuditLogger(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	defer closeAudit()

	registry := prometheus.NewRegistry()
	metricsFilter := metrics.New(registry, cfg.ServiceName, cfg.PathNormalization)

	host, err := pipeline.New(routes, store, pool, breakers,
		sessionfilter.Config{PartnerDefensiveMode: cfg.PartnerDefensiveMode}, auditLogger, logger)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	handler := pipeline.NewServerHandler(host, metricsFilter, registry, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info("gateway shutting down")

	shutdownCtx, shutdownCancel := contextWithOptionalTimeout(context.Background(), cfg.ShutdownWait)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}

	logger.Info("gateway stopped")
	return nil
}

// newAuditLogger builds the optional audit persistence path (§6). When
// GATEWAY_AUDIT_DSN is unset, it returns a nil *audit.Logger rather than a
// Logger wrapping a nil pool, so Logger.Log's nil-guard works correctly.
func newAuditLogger(ctx context.Context, cfg config.Config, logger *slog.Logger) (*audit.Logger, func(), error) {
	if cfg.AuditDSN == "" {
		logger.Info("audit: disabled (no GATEWAY_AUDIT_DSN)")
		return nil, func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.AuditDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}

	if err := audit.RunMigrations(ctx, pool, migrations.FS); err != nil {
		pool.Close()
		return nil, nil, err
	}

	var encrypt func([]byte) ([]byte, error)
	if cfg.AuditEncrypt {
		passphrase := os.Getenv("GATEWAY_AUDIT_ENCRYPT_KEY")
		if passphrase == "" {
			pool.Close()
			return nil, nil, errors.New("GATEWAY_AUDIT_ENCRYPT_KEY is required when GATEWAY_AUDIT_ENCRYPT=true")
		}
		encrypt, err = audit.NewEncryptFunc(passphrase)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("audit: at-rest encryption enabled")
	}

	return audit.New(pool, logger, encrypt), pool.Close, nil
}

func parseLogLevel(raw string) slog.Level {
	switch raw {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func contextWithOptionalTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
