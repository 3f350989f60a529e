package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"middleware-guard/middleware/ratelimit"
	"middleware-guard/middleware/ratelimit/application"
	"middleware-guard/middleware/ratelimit/identity"
	"middleware-guard/middleware/ratelimit/infra"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, cfgErr := readConfig()

	logger := newLogger(cfg.logFormat)
	defer func() { _ = logger.Sync() }()

	if cfgErr != nil {
		logger.Fatal("config error", zap.Error(cfgErr))
	}

	policies, err := cfg.policies()
	if err != nil {
		logger.Fatal("policy error", zap.Error(err))
	}

	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		logger.Fatal("invalid UPSTREAM_URL", zap.Error(err))
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("proxy error", zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := infra.NewPrometheusStats(reg, "guard")

	stats := infra.MultiStats{metrics}
	if cfg.rateStatsEnabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.rateStatsRedisAddr,
			Password: cfg.rateStatsRedisPassword,
			DB:       cfg.rateStatsRedisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancel()
		if err != nil {
			logger.Fatal("redis stats ping error", zap.Error(err))
		}

		stats = append(stats, infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.rateStatsPrefix),
			infra.WithStatsTTL(cfg.rateStatsTTL),
			infra.WithStatsBucket(cfg.rateStatsBucket),
			infra.WithStatsTrackKeys(cfg.rateStatsTrackKeys),
		))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store := infra.NewMemoryStore(
		infra.WithMaxKeys(cfg.storeMaxKeys),
		infra.WithMaxRecordsPerKey(cfg.storeMaxRecords),
	)

	reaper := application.NewReaper(store, logger.Named("reaper"))
	reaper.Interval = cfg.reaperInterval
	reaper.Retention = cfg.reaperRetention
	reaper.Observer = metrics
	reaperDone := reaper.Start(ctx)

	var guard *ratelimit.Guard
	if cfg.rateEnabled {
		guard = ratelimit.New(ratelimit.Options{
			Service:         application.NewService(store),
			Policies:        policies,
			Hasher:          newHasher(cfg),
			Stats:           stats,
			Logger:          logger.Named("guard"),
			KeyHeader:       cfg.rateKeyHeader,
			TrustRemoteAddr: cfg.trustRemoteAddr,
		})
	}

	var metricsHandler http.Handler
	if cfg.metricsEnabled {
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	h := newRouter(guard, proxy, cfg.routes, metricsHandler)
	h = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
		Max:            cfg.concurrencyMax,
		RejectStatus:   http.StatusServiceUnavailable,
		AcquireTimeout: cfg.concurrencyTimeout,
		Metrics:        metrics,
		Logger:         logger.Named("concurrency"),
	})(h)

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("gateway listening",
		zap.String("addr", cfg.listenAddr),
		zap.Stringer("upstream", target),
		zap.Bool("rate_enabled", cfg.rateEnabled),
		zap.Bool("salted", cfg.identitySalt != ""),
		zap.Bool("trust_remote_addr", cfg.trustRemoteAddr),
		zap.Int("store_max_keys", cfg.storeMaxKeys),
		zap.Duration("reaper_interval", cfg.reaperInterval),
		zap.Int("concurrency_max", cfg.concurrencyMax),
		zap.Bool("redis_stats", cfg.rateStatsEnabled),
	)
	for ep, path := range cfg.routes {
		p := policies.Resolve(ep, http.MethodPost)
		logger.Info("sensitive route", zap.String("path", path), zap.Stringer("endpoint", ep),
			zap.Int("limit", p.Limit), zap.Duration("window", p.Window))
	}

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
	cancel()
	<-reaperDone
}

func newLogger(format string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if format == "console" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func newHasher(cfg config) *identity.Hasher {
	opts := []identity.HasherOption{identity.WithRotation(cfg.identityRotate)}
	if cfg.identitySalt != "" {
		opts = append(opts, identity.WithSalt(cfg.identitySalt))
	}
	return identity.NewHasher(opts...)
}
