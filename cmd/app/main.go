package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"points_service/internal/config"
	"points_service/internal/db"
	httpServer "points_service/internal/http"
	"points_service/internal/http/handlers"
	"points_service/internal/idgen"
	"points_service/internal/jobs"
	"points_service/internal/logger"
	"points_service/internal/migrations"
	"points_service/internal/ratelimit"
	"points_service/internal/repository"
	"points_service/internal/repository/memory"
	"points_service/internal/service"
	"points_service/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

type stores struct {
	ledger  repository.Ledger
	metrics repository.MetricsStore
	audit   repository.AuditStore
	pool    *pgxpool.Pool
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", "error", err)
	}
	logger.Init(cfg.LogLevel, cfg.LogJSON)

	if err := run(cfg); err != nil {
		logger.Fatal("server exited with error", "error", err)
	}
	logger.Info("server exited")
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Store == config.StoreMemory {
		logger.Warn("using in-memory store; ledger is lost on restart")
		return &stores{ledger: memory.NewLedger(), metrics: memory.NewMetrics(), audit: memory.NewAudit()}, nil
	}

	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	err = migrations.Apply(ctx, pool, func(name string) {
		logger.Debug("migration applied", "name", name)
	})
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &stores{
		ledger:  repository.NewPointEventRepository(pool),
		metrics: repository.NewMetricsRepository(pool),
		audit:   repository.NewAuditRepository(pool),
		pool:    pool,
	}, nil
}

func run(cfg *config.Config) error {
	ctx := context.Background()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	if st.pool != nil {
		defer st.pool.Close()
	}

	redisConn := ratelimit.NewRedisConn(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer redisConn.Close()

	backend := ratelimit.Backend(cfg.RateLimitBackend)
	strategy := ratelimit.Strategy(cfg.RateLimitStrategy)
	ingestLimiter, err := ratelimit.New(backend, strategy, redisConn)
	if err != nil {
		return err
	}
	apiLimiter, err := ratelimit.New(backend, strategy, redisConn)
	if err != nil {
		return err
	}
	for _, l := range []ratelimit.Limiter{ingestLimiter, apiLimiter} {
		if c, ok := l.(io.Closer); ok {
			defer c.Close()
		}
	}

	ids, err := idgen.New(cfg.NodeID)
	if err != nil {
		return err
	}

	audit := service.NewAuditService(st.audit)
	hub := ws.NewHub()
	tokens := service.NewTokenService(cfg.JWTSecret)
	if !tokens.Enabled() {
		logger.Warn("JWT_SECRET not set; callers are identified by address and the live feed is disabled")
	}

	ingestor := service.NewEventIngestor(st.ledger, ingestLimiter, service.NewPolicyEngine(cfg.Policies), ids, service.IngestorConfig{
		RateLimit:  cfg.RateLimit,
		RateWindow: cfg.RateLimitWindow,
		Strictness: service.Strictness(cfg.PolicyStrictness),
	})
	ingestor.SetAudit(audit)
	ingestor.SetNotifier(hub)
	if cfg.PolicyStrictness == config.StrictnessBestEffort {
		logger.Warn("POLICY_STRICTNESS=best_effort: concurrent submissions for one user can exceed cooldowns and the daily cap")
	}

	rollups := service.NewRollupAggregator(st.ledger, st.metrics, cfg.RollupConcurrency)
	worker := jobs.NewRollupWorker(rollups)

	checks := map[string]handlers.CheckFunc{}
	if st.pool != nil {
		checks["database"] = st.pool.Ping
	}
	if backend == ratelimit.BackendRedis {
		checks["redis"] = redisConn.Ping
	}

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	// Without trusted proxies ClientIP is the socket address; forwarded
	// headers from arbitrary callers must not pick their rate-limit identity.
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return err
	}
	r.Use(gin.Recovery())
	httpServer.RegisterRoutes(r, httpServer.Deps{
		Handler:       handlers.NewHandler(ingestor, st.ledger, st.metrics, rollups, audit),
		Health:        handlers.NewHealthHandler(cfg.AppVersion, checks),
		Hub:           hub,
		Tokens:        tokens,
		APILimiter:    apiLimiter,
		APIRateLimit:  cfg.APIRateLimit,
		APIRateWindow: cfg.RateLimitWindow,
		AdminToken:    cfg.AdminToken,
		AllowedOrigin: cfg.AllowedOrigin,
	})

	scheduler := jobs.NewScheduler()
	if cfg.SchedulerEnabled {
		if err := scheduler.Add("uptime_tick", cfg.TickSpec, jobs.UptimeTick(hub, ingestor, cfg.UptimePoints)); err != nil {
			return err
		}
		if err := scheduler.Add("rollup_signal", cfg.RollupSpec, worker.SignalJob(time.Now)); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.AppPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	eg, groupCtx := errgroup.WithContext(ctx)
	workerCtx, stopWorker := context.WithCancel(groupCtx)
	defer stopWorker()

	eg.Go(func() error {
		logger.Info("server started", "port", cfg.AppPort, "store", cfg.Store, "rate_limit_backend", cfg.RateLimitBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		worker.Run(workerCtx)
		return nil
	})

	if cfg.SchedulerEnabled {
		scheduler.Start()
	}

	eg.Go(func() error {
		defer func() {
			logger.Info("shutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if cfg.SchedulerEnabled {
				scheduler.Stop(shutdownCtx)
			}
			hub.CloseAll()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("server forced to shutdown", "error", err)
			}
			stopWorker()
		}()

		select {
		case <-groupCtx.Done():
			return groupCtx.Err()
		case <-quit:
			return nil
		}
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
