// Command growthledger-server starts the Pro entitlement HTTP API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/and161185/growthledger/internal/billing"
	"github.com/and161185/growthledger/internal/config"
	"github.com/and161185/growthledger/internal/limiter"
	"github.com/and161185/growthledger/internal/metrics"
	"github.com/and161185/growthledger/internal/migrate"
	httpserver "github.com/and161185/growthledger/internal/server/http"
	"github.com/and161185/growthledger/internal/service"
	"github.com/and161185/growthledger/internal/token"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, wires the entitlement service and serves HTTP until SIGINT/SIGTERM.
func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(2)
	}

	logger, _ := zap.NewProduction()
	if cfg.Dev {
		logger, _ = zap.NewDevelopment()
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
	)
	if cfg.StripeSecretKey == "" {
		logger.Warn("STRIPE_SECRET_KEY is empty; billing grants will fail")
	}
	if cfg.OwnerDerivedHex == "" {
		logger.Info("owner unlock disabled (no OWNER_KEY_DERIVED_HEX)")
	}

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lim, closeLim, err := newLimiter(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("limiter", zap.Error(err))
	}
	defer closeLim()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Services
	issuer, err := token.NewIssuer(token.SigningContext{Secret: []byte(cfg.JWTSecret), Issuer: cfg.JWTIssuer})
	if err != nil {
		logger.Fatal("token issuer", zap.Error(err))
	}
	stripe := billing.NewStripe(billing.StripeConfig{SecretKey: cfg.StripeSecretKey, Timeout: cfg.StripeTimeout}, logger)
	svc := service.NewEntitlementService(cfg.Service(), issuer, metrics.InstrumentAuthority(stripe, m), lim, m, logger.Named("entitlement"))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpserver.New(svc, logger, reg).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forced shutdown", zap.Error(err))
			_ = srv.Close()
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}

	logger.Info("shutdown complete")
}

// newLimiter picks the attempt limiter backend: Postgres when a DSN is set, then
// Redis, else in-process memory.
func newLimiter(ctx context.Context, cfg *config.Config, log *zap.Logger) (limiter.Limiter, func(), error) {
	switch {
	case cfg.DatabaseDSN != "":
		if err := migrate.Up(ctx, cfg.DatabaseDSN, log); err != nil {
			return nil, nil, err
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, nil, err
		}
		log.Info("limiter backend", zap.String("kind", "postgres"))
		return limiter.NewPG(pool, cfg.Limit), pool.Close, nil
	case cfg.RedisAddr != "":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, err
		}
		log.Info("limiter backend", zap.String("kind", "redis"))
		return limiter.NewRedis(rdb, "growthledger:limit:", cfg.Limit), func() { _ = rdb.Close() }, nil
	default:
		log.Info("limiter backend", zap.String("kind", "memory"))
		return limiter.NewMemory(cfg.Limit), func() {}, nil
	}
}
