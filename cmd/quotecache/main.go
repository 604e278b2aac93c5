package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/ahmethakanbesel/quotecache/internal/config"
	"github.com/ahmethakanbesel/quotecache/internal/credential"
	"github.com/ahmethakanbesel/quotecache/internal/platform/httpx"
	"github.com/ahmethakanbesel/quotecache/internal/platform/metrics"
	"github.com/ahmethakanbesel/quotecache/internal/platform/redis"
	"github.com/ahmethakanbesel/quotecache/internal/platform/sqlite"
	"github.com/ahmethakanbesel/quotecache/internal/quote"
	credrepo "github.com/ahmethakanbesel/quotecache/internal/repository/credential"
	quoterepo "github.com/ahmethakanbesel/quotecache/internal/repository/quote"
	"github.com/ahmethakanbesel/quotecache/internal/server"
	"github.com/ahmethakanbesel/quotecache/internal/source/broker"
	"github.com/ahmethakanbesel/quotecache/internal/source/yahoo"
)

func main() {
	cfg := config.Load()
	setupLogger(cfg.LogLevel, cfg.LogFormat)

	// Root context: cancelled on SIGINT/SIGTERM so in-flight upstream fetches
	// stop promptly during graceful shutdown.
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Credentials always live in SQLite; quotes may live in Redis instead.
	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	var store quote.Store
	switch cfg.QuoteStore {
	case "redis":
		rdb, err := redis.Open(rootCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1) //nolint:gocritic // db close skipped on fatal startup error
		}
		defer func() { _ = rdb.Close() }()
		store = quoterepo.NewRedisStore(rdb)
	case "sqlite":
		store = quoterepo.NewSQLiteStore(db.DB)
	default:
		slog.Error("unknown QUOTE_STORE", "value", cfg.QuoteStore)
		os.Exit(1)
	}

	// Repositories
	credRepo := credrepo.NewRepository(db.DB)

	// Sources, most preferred first.
	client := httpx.New(cfg.UpstreamTimeout)

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.FallbackRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.FallbackRPS), max(cfg.FallbackBurst, 1))
	}

	sources := []quote.Source{
		broker.New(credRepo,
			broker.WithClient(client),
			broker.WithBaseURL(cfg.BrokerBaseURL),
			broker.WithExchange(cfg.BrokerExchange),
			broker.WithWorkers(cfg.BrokerWorkers),
			broker.WithTimeout(cfg.UpstreamTimeout),
		),
		yahoo.New(
			yahoo.WithClient(client),
			yahoo.WithMirrors(cfg.FallbackMirrors...),
			yahoo.WithSuffix(cfg.FallbackSuffix),
			yahoo.WithBatchSize(cfg.FallbackBatchSize),
			yahoo.WithTimeout(cfg.UpstreamTimeout),
			yahoo.WithLimiter(limiter),
			yahoo.WithBreaker(uint32(max(cfg.FallbackBreakerFailures, 0)), cfg.FallbackBreakerCooldown), //nolint:gosec // non-negative
		),
	}

	// Services
	m := metrics.New()
	resolver := quote.NewResolver(store, sources, quote.WithTTL(cfg.QuoteTTL), quote.WithObserver(m))
	credSvc := credential.NewService(credRepo)

	srv := server.New(rootCtx, cfg.Port, resolver, credSvc, m)

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("server started", "port", cfg.Port, "store", cfg.QuoteStore, "ttl", cfg.QuoteTTL.String())
	<-done

	rootCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	slog.Info("server stopped")
}

func setupLogger(level, format string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}
