package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/scribehq/scribe/core/internal/app/migrate"
	"github.com/scribehq/scribe/core/internal/bus"
	"github.com/scribehq/scribe/core/internal/domain"
	httpx "github.com/scribehq/scribe/core/internal/http"
	"github.com/scribehq/scribe/core/internal/notify"
	"github.com/scribehq/scribe/core/internal/ratelimit"
	"github.com/scribehq/scribe/core/internal/repository"
	"github.com/scribehq/scribe/core/internal/repository/postgres"
	"github.com/scribehq/scribe/core/internal/service/alert"
	"github.com/scribehq/scribe/core/internal/service/errtrack"
	"github.com/scribehq/scribe/core/internal/service/health"
	"github.com/scribehq/scribe/core/internal/service/metrics"
	"github.com/scribehq/scribe/core/internal/ws"
	"github.com/scribehq/scribe/core/pkg/config"
	"github.com/scribehq/scribe/core/pkg/logger"
)

const signalBuffer = 64

func main() {
	cfg := config.LoadCoreConfig()
	log := logger.New("core", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The archive sink is optional; without DATABASE_URL the core runs
	// fully in-memory.
	var (
		archive repository.Archive
		pool    *pgxpool.Pool
	)
	if dsn := strings.TrimSpace(cfg.DatabaseURL); dsn != "" {
		var err error
		pool, err = pgxpool.New(ctx, dsn)
		if err != nil {
			log.Error("failed to connect to archive database", "error", err)
			os.Exit(1)
		}
		runner, err := migrate.New(pool, dsn, cfg.MigrationsDir, log)
		if err != nil {
			log.Error("failed to configure migrations", "error", err)
			os.Exit(1)
		}
		defer runner.Close()
		if err := runner.Ping(ctx); err != nil {
			log.Error("archive database ping failed", "error", err)
			os.Exit(1)
		}
		if err := runner.Ensure(ctx); err != nil {
			log.Error("archive migrations failed", "error", err)
			os.Exit(1)
		}
		archive = postgres.New(pool)
	} else {
		log.Info("no archive database configured, running in-memory only")
	}

	limiter := ratelimit.NewMemoryLimiter()
	var cacheClient *redis.Client
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		redisLimiter, err := ratelimit.NewRedisLimiter(addr, cfg.RedisPassword, cfg.RedisDB, log)
		if err != nil {
			log.Warn("redis limiter unavailable, falling back to memory", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
			if accessor, ok := redisLimiter.(interface{ Client() *redis.Client }); ok {
				cacheClient = accessor.Client()
			}
		}
	}

	signals := bus.New(log, signalBuffer)
	defer signals.Close()

	tracker := errtrack.New(signals, archive, log, cfg.ErrorRetention, cfg.ErrorMaxRecords, cfg.ErrorSweepInterval)
	go tracker.Run(ctx)

	aggregator := metrics.NewAggregator(log, cfg.MetricBufferSize, cfg.MetricMaxWindow, cfg.MetricCleanupInterval)
	go aggregator.Run(ctx)

	monitor := health.NewMonitor(signals, log, health.Options{
		FailureThreshold: cfg.BreakerFailureThreshold,
		FailureWindow:    cfg.BreakerFailureWindow,
		Cooldown:         cfg.BreakerCooldown,
		UnhealthyRatio:   cfg.UnhealthyRatio,
		DegradedRatio:    cfg.DegradedRatio,
	})
	registerChecks(monitor, pool, cacheClient, cfg, log)
	go monitor.Run(ctx)

	engine := alert.NewEngine(limiter, notify.NewRegistry(log), aggregator, monitor, signals, archive, log, alert.Options{
		CoalesceWindow:  cfg.AlertCoalesceWindow,
		EvaluationTick:  cfg.AlertEvaluationTick,
		EscalationTick:  cfg.AlertEscalationTick,
		Retention:       cfg.AlertRetention,
		CleanupInterval: cfg.AlertCleanupInterval,
		NotifyTimeout:   cfg.NotifyTimeout,
	})
	go engine.Run(ctx)

	hub := ws.NewHub()
	defer hub.Close()
	bridge := ws.NewBridge(hub, signals, log)
	go bridge.Run(ctx)

	router := httpx.NewRouter(log, tracker, monitor, aggregator, engine, hub, archive, limiter, cfg.APIAuthToken)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("core server starting", "addr", cfg.Addr, "env", cfg.Environment)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("core server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

// registerChecks wires the built-in dependency probes. Collaborator-specific
// checks arrive through the monitor's Register API at integration time.
func registerChecks(monitor *health.Monitor, pool *pgxpool.Pool, cacheClient *redis.Client, cfg config.CoreConfig, log *slog.Logger) {
	register := func(desc health.Descriptor) {
		if err := monitor.Register(desc); err != nil {
			log.Warn("failed to register health check", "check", desc.ID, "error", err)
		}
	}
	register(health.Descriptor{
		ID:       "runtime",
		Category: "runtime",
		Priority: domain.PriorityHigh,
		Interval: cfg.ProbeInterval,
		Timeout:  cfg.ProbeTimeout,
		Prober:   health.RuntimeProber(health.RuntimeProberOptions{}),
	})
	if pool != nil {
		register(health.Descriptor{
			ID:       "database",
			Category: "database",
			Priority: domain.PriorityCritical,
			Interval: cfg.ProbeInterval,
			Timeout:  cfg.ProbeTimeout,
			Retries:  1,
			Prober:   health.DatabaseProber(pool),
		})
	}
	if cacheClient != nil {
		register(health.Descriptor{
			ID:       "cache",
			Category: "cache",
			Priority: domain.PriorityHigh,
			Interval: cfg.ProbeInterval,
			Timeout:  cfg.ProbeTimeout,
			Retries:  1,
			Prober:   health.CacheProber(cacheClient),
		})
	}
}
