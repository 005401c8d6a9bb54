package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/jkindrix/estimatebot/internal/errors"
	"github.com/jkindrix/estimatebot/internal/metrics"
	"github.com/jkindrix/estimatebot/internal/middleware"
)

// RouterConfig collects the handlers mounted on the server's router. Nil
// handlers are not mounted.
type RouterConfig struct {
	Health  *HealthHandler
	Widget  *WidgetHandler
	Admin   *AdminHandler
	Metrics *metrics.Metrics
	// ErrorRates, when set, tracks failed responses per category.
	ErrorRates *metrics.ErrorRateTracker
	// LogLevel serves GET and PUT on /admin/log-level.
	LogLevel http.Handler
	// StaticDir, when set, is served under /static/.
	StaticDir string
	Logger    *zap.Logger
}

// NewRouter builds the chi router with global middleware and every route.
func NewRouter(cfg RouterConfig) chi.Router {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Order matters: correlation IDs first so every later log line carries them.
	r.Use(middleware.Correlation)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}
	if cfg.ErrorRates != nil {
		r.Use(middleware.ErrorRates(cfg.ErrorRates))
	}
	r.Use(chimiddleware.Compress(5))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		JSON(w, r, http.StatusNotFound, apperrors.NotFound("route").ToResponse())
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		JSON(w, r, http.StatusMethodNotAllowed,
			apperrors.New(apperrors.CodeInvalidInput, "method not allowed").ToResponse())
	})

	if cfg.StaticDir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.StaticDir))))
	}
	if cfg.Health != nil {
		cfg.Health.RegisterRoutes(r)
	}
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}
	if cfg.LogLevel != nil {
		r.Method(http.MethodGet, "/admin/log-level", cfg.LogLevel)
		r.Method(http.MethodPut, "/admin/log-level", cfg.LogLevel)
	}
	if cfg.Widget != nil {
		cfg.Widget.RegisterRoutes(r)
	}
	if cfg.Admin != nil {
		cfg.Admin.RegisterRoutes(r)
	}
	return r
}
