// Package main is the entry point for the estimatebot server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jkindrix/estimatebot/internal/ai"
	"github.com/jkindrix/estimatebot/internal/cache"
	"github.com/jkindrix/estimatebot/internal/clock"
	"github.com/jkindrix/estimatebot/internal/config"
	"github.com/jkindrix/estimatebot/internal/database"
	"github.com/jkindrix/estimatebot/internal/dispatch"
	"github.com/jkindrix/estimatebot/internal/domain"
	"github.com/jkindrix/estimatebot/internal/handler"
	"github.com/jkindrix/estimatebot/internal/logging"
	"github.com/jkindrix/estimatebot/internal/metrics"
	"github.com/jkindrix/estimatebot/internal/middleware"
	"github.com/jkindrix/estimatebot/internal/pricing"
	"github.com/jkindrix/estimatebot/internal/ratelimit"
	"github.com/jkindrix/estimatebot/internal/repository"
	"github.com/jkindrix/estimatebot/internal/retry"
	"github.com/jkindrix/estimatebot/internal/shutdown"
	"github.com/jkindrix/estimatebot/internal/widget"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := loadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	zl := logger.Zap()

	zl.Info("starting estimatebot server",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Address()),
		zap.String("env", cfg.Server.Environment),
		zap.String("ai_provider", cfg.AI.Provider),
	)

	ctx := context.Background()
	m := metrics.NewMetrics()
	events := metrics.NewBusinessEventLogger(zl, clock.New())
	errorRates := newErrorRateTracker(zl)

	db, err := database.New(ctx, &cfg.Database, m, zl)
	if err != nil {
		zl.Fatal("failed to connect to database", zap.Error(err))
	}
	// db.Close() runs in the shutdown coordinator's close phase.

	leadRepo := repository.NewLeadRepository(db.TxManager)
	var widgets domain.WidgetPatcher = repository.NewWidgetRepository(db.TxManager)

	var (
		redisClient  *redis.Client
		cacheChecker handler.HealthChecker
	)
	if cfg.Redis.Addr != "" {
		redisClient = cache.NewClient(cfg.Redis)
		pinger := cache.Pinger{Client: redisClient}
		if err := pinger.Ping(ctx); err != nil {
			// Reads fall through to postgres while redis is down.
			zl.Warn("redis unavailable at startup", logging.SafeError(err))
		}
		widgets = cache.NewWidgetCache(widgets, redisClient, cfg.Redis.TTL, m, zl)
		cacheChecker = pinger
		zl.Info("widget cache enabled", zap.String("addr", cfg.Redis.Addr), zap.Duration("ttl", cfg.Redis.TTL))
	}

	registry, err := ai.NewRegistryFromConfig(cfg.AI, zl)
	if err != nil {
		zl.Fatal("failed to initialize ai providers", zap.Error(err))
	}
	primary, err := registry.Primary()
	if err != nil {
		zl.Fatal("no ai provider available", zap.Error(err))
	}
	estimator := ai.NewEstimator(primary, zl,
		ai.WithRetryConfig(retryConfig(cfg.AI.Retry)),
		ai.WithMetrics(m),
		ai.WithEvents(events),
		ai.WithErrorRates(errorRates),
	)

	mailer, err := initMailer(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("failed to initialize mailer", zap.Error(err))
	}
	publisher, err := initPublisher(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("failed to initialize lead event publisher", zap.Error(err))
	}
	dispatcher := dispatch.New(leadRepo, dispatch.Config{
		Mailer:         mailer,
		Publisher:      publisher,
		HTTPClient:     &http.Client{Timeout: cfg.Webhook.Timeout},
		DefaultSender:  cfg.Email.DefaultSender,
		FromAddress:    cfg.Email.FromAddress,
		ChannelTimeout: cfg.Email.Timeout,
		Metrics:        m,
		Events:         events,
		ErrorRates:     errorRates,
	}, zl)

	storeCfg := widget.DefaultStoreConfig()
	if cfg.Session.TTL > 0 {
		storeCfg.TTL = cfg.Session.TTL
	}
	sessions := widget.NewStore(widget.SessionDeps{
		Estimator:  estimator,
		Dispatcher: dispatcher,
		Metrics:    m,
		Logger:     zl,
	}, storeCfg)
	if err := sessions.Start(); err != nil {
		zl.Fatal("failed to start session store", zap.Error(err))
	}

	limiterCfg := estimateLimiterConfig(cfg.Estimate)
	estimateLimiter := ratelimit.NewEstimateLimiter(limiterCfg, zl, ratelimit.WithMetrics(m))
	zl.Info("initialized estimate limiter",
		zap.Int("max_per_minute", limiterCfg.MaxRequestsPerMinute),
		zap.Int("max_per_hour", limiterCfg.MaxRequestsPerHour),
		zap.Int("max_per_day", limiterCfg.MaxRequestsPerDay),
		zap.Int("max_concurrent", limiterCfg.MaxConcurrent),
		zap.Int("max_per_widget_per_minute", limiterCfg.MaxPerWidgetPerMinute),
	)
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window, zl,
		middleware.WithLimiterMetrics(m))

	importer := pricing.NewImporter(widgets, pricing.NewSheetFetcher(&http.Client{Timeout: 30 * time.Second}, zl), clock.New(), zl)

	coord := shutdown.NewCoordinator(shutdown.DefaultConfig(), zl)
	readiness := shutdown.NewReadinessProbe(coord)

	router := handler.NewRouter(handler.RouterConfig{
		Health: handler.NewHealthHandler(handler.HealthHandlerConfig{
			Database:   db,
			Cache:      cacheChecker,
			AI:         estimator,
			Providers:  registry,
			Readiness:  readiness,
			ErrorRates: errorRates,
			Version:    version,
			Logger:     zl,
		}),
		Widget: handler.NewWidgetHandler(handler.WidgetHandlerConfig{
			Widgets:        widgets,
			Estimator:      estimator,
			Dispatcher:     dispatcher,
			Sessions:       sessions,
			Gate:           estimateLimiter,
			RateLimiter:    rateLimiter,
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			PublicURL:      cfg.App.PublicURL,
			Logger:         zl,
		}),
		Admin: handler.NewAdminHandler(handler.AdminHandlerConfig{
			Widgets:    widgets,
			Leads:      leadRepo,
			Syncer:     importer,
			Metrics:    m,
			Events:     events,
			ErrorRates: errorRates,
			PublicURL:  cfg.App.PublicURL,
			Logger:     zl,
		}),
		Metrics:    m,
		ErrorRates: errorRates,
		LogLevel:   logger,
		StaticDir:  "web/static",
		Logger:     zl,
	})

	server := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Estimates can spend a minute in provider backoff.
		WriteTimeout: cfg.AI.Timeout + 60*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		zl.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server failed", zap.Error(err))
		}
	}()

	// Idle widget buckets are dropped hourly.
	cleanupDone := make(chan struct{})
	go func() {
		defer close(cleanupDone)
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if n := estimateLimiter.Cleanup(time.Hour); n > 0 {
					zl.Debug("dropped idle widget limiter buckets", zap.Int("count", n))
				}
			case <-coord.ShutdownCh():
				return
			}
		}
	}()

	coord.RegisterFunc(shutdown.PhaseDrainHTTP, "http-server", func(ctx context.Context) error {
		return server.Shutdown(ctx)
	})

	coord.RegisterFunc(shutdown.PhaseStopWorkers, "session-store", sessions.Stop)
	coord.RegisterFunc(shutdown.PhaseStopWorkers, "ip-rate-limiter", func(context.Context) error {
		rateLimiter.Stop()
		return nil
	})
	coord.RegisterFunc(shutdown.PhaseStopWorkers, "limiter-cleanup", func(ctx context.Context) error {
		select {
		case <-cleanupDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if redisClient != nil {
		coord.RegisterFunc(shutdown.PhaseClose, "redis", func(context.Context) error {
			return redisClient.Close()
		})
	}
	coord.RegisterFunc(shutdown.PhaseClose, "database", func(context.Context) error {
		db.Close()
		return nil
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	zl.Info("received shutdown signal", zap.String("signal", sig.String()))

	if err := coord.Shutdown(ctx); err != nil {
		zl.Error("shutdown completed with errors", zap.Error(err))
	}
}

// loadDotEnv loads a .env file into the environment. A missing file is not
// an error; variables already set are not overridden.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// initLogger builds the leveled logger from the log and server sections.
func initLogger(cfg *config.Config) (*logging.Logger, error) {
	return logging.New(&logging.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Environment: cfg.Server.Environment,
	})
}

// newErrorRateTracker builds the error-rate window shown on /health. Bursts
// above the alert threshold are logged.
func newErrorRateTracker(logger *zap.Logger) *metrics.ErrorRateTracker {
	cfg := metrics.DefaultErrorRateConfig()
	cfg.AlertCallback = func(category metrics.ErrorCategory, rate float64) {
		logger.Warn("error rate above threshold",
			zap.String("category", string(category)),
			zap.Float64("errors_per_second", rate),
		)
	}
	return metrics.NewErrorRateTracker(cfg)
}

// initMailer picks the email transport. Resend authenticates with each
// widget's own key; SES uses the server's AWS credentials.
func initMailer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (dispatch.Mailer, error) {
	switch cfg.Email.Transport {
	case "ses":
		mailer, err := dispatch.NewSESMailer(ctx, cfg.Email.SESRegion, logger)
		if err != nil {
			return nil, err
		}
		return mailer, nil
	case "resend", "":
		return dispatch.NewResendMailer(cfg.Email.ResendURL, cfg.Email.Timeout, logger), nil
	default:
		return nil, fmt.Errorf("unsupported email transport %q", cfg.Email.Transport)
	}
}

// initPublisher returns the SNS lead event publisher, or nil when no topic
// is configured.
func initPublisher(ctx context.Context, cfg *config.Config, logger *zap.Logger) (dispatch.Publisher, error) {
	if cfg.Notify.TopicARN == "" {
		return nil, nil
	}
	pub, err := dispatch.NewSNSPublisher(ctx, cfg.Notify.Region, cfg.Notify.TopicARN, logger)
	if err != nil {
		return nil, err
	}
	return pub, nil
}

// retryConfig maps the ai.retry section onto the backoff schedule, keeping
// defaults for unset values.
func retryConfig(rc config.RetryConfig) *retry.Config {
	out := retry.DefaultConfig()
	if rc.InitialDelay > 0 {
		out.InitialDelay = rc.InitialDelay
	}
	if rc.MaxDelay > 0 {
		out.MaxDelay = rc.MaxDelay
	}
	if rc.Multiplier > 0 {
		out.Multiplier = rc.Multiplier
	}
	if rc.MaxRetries > 0 {
		out.MaxRetries = rc.MaxRetries
	}
	return out
}

// estimateLimiterConfig maps the estimate_limit section onto the limiter,
// keeping defaults for unset values.
func estimateLimiterConfig(ec config.EstimateLimitConfig) *ratelimit.EstimateLimiterConfig {
	out := ratelimit.DefaultEstimateLimiterConfig()
	if ec.PerMinute > 0 {
		out.MaxRequestsPerMinute = ec.PerMinute
	}
	if ec.PerHour > 0 {
		out.MaxRequestsPerHour = ec.PerHour
	}
	if ec.PerDay > 0 {
		out.MaxRequestsPerDay = ec.PerDay
	}
	if ec.MaxConcurrent > 0 {
		out.MaxConcurrent = ec.MaxConcurrent
	}
	if ec.PerWidgetPerMinute > 0 {
		out.MaxPerWidgetPerMinute = ec.PerWidgetPerMinute
	}
	return out
}
