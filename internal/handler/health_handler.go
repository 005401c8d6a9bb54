package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jkindrix/estimatebot/internal/ai"
	"github.com/jkindrix/estimatebot/internal/metrics"
)

// HealthChecker defines the interface for pinging a dependency.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// AIHealthChecker defines the interface for checking AI service health.
type AIHealthChecker interface {
	IsCircuitOpen() bool
}

// ProviderLister reports the registered AI providers.
type ProviderLister interface {
	HealthStatus() []ai.ProviderStatus
}

// HealthHandler handles health check HTTP requests.
type HealthHandler struct {
	database  HealthChecker
	cache     HealthChecker
	aiHealth  AIHealthChecker
	providers ProviderLister
	readiness HealthChecker
	rates     *metrics.ErrorRateTracker
	version   string
	logger    *zap.Logger
}

// HealthHandlerConfig holds configuration for HealthHandler. Nil checkers
// are skipped.
type HealthHandlerConfig struct {
	Database  HealthChecker
	Cache     HealthChecker
	AI        AIHealthChecker
	Providers ProviderLister
	// Readiness fails once shutdown has begun.
	Readiness  HealthChecker
	ErrorRates *metrics.ErrorRateTracker
	Version    string
	Logger     *zap.Logger
}

// NewHealthHandler creates a new HealthHandler with all required dependencies.
func NewHealthHandler(cfg HealthHandlerConfig) *HealthHandler {
	if cfg.Logger == nil {
		panic("logger is required")
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	return &HealthHandler{
		database:  cfg.Database,
		cache:     cfg.Cache,
		aiHealth:  cfg.AI,
		providers: cfg.Providers,
		readiness: cfg.Readiness,
		rates:     cfg.ErrorRates,
		version:   cfg.Version,
		logger:    cfg.Logger.Named("health"),
	}
}

// RegisterRoutes registers health routes on the router.
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.HandleHealth)
	r.Get("/health/ready", h.HandleReadiness)
	r.Get("/health/live", h.HandleLiveness)
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string                     `json:"status"`
	Version   string                     `json:"version,omitempty"`
	Checks    map[string]ComponentHealth `json:"checks,omitempty"`
	Providers []ai.ProviderStatus        `json:"providers,omitempty"`
	Errors    *ErrorRates                `json:"errors,omitempty"`
}

// ErrorRates summarizes recent failures by category.
type ErrorRates struct {
	Percentage float64                                             `json:"percentage"`
	Categories map[metrics.ErrorCategory]metrics.ErrorRateSnapshot `json:"categories"`
}

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HandleHealth reports every dependency. The database is critical; the
// cache and the AI circuit only degrade the service.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:  "ok",
		Version: h.version,
		Checks:  make(map[string]ComponentHealth),
	}

	hasCriticalFailure := false
	hasDegradation := false

	if h.database != nil {
		if err := h.database.Ping(ctx); err != nil {
			hasCriticalFailure = true
			response.Checks["database"] = ComponentHealth{Status: "unhealthy", Message: err.Error()}
			h.logger.Error("database health check failed", zap.Error(err))
		} else {
			response.Checks["database"] = ComponentHealth{Status: "healthy"}
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			hasDegradation = true
			response.Checks["cache"] = ComponentHealth{Status: "degraded", Message: err.Error()}
			h.logger.Warn("cache health check failed", zap.Error(err))
		} else {
			response.Checks["cache"] = ComponentHealth{Status: "healthy"}
		}
	}

	if h.aiHealth != nil {
		if h.aiHealth.IsCircuitOpen() {
			hasDegradation = true
			response.Checks["ai_service"] = ComponentHealth{
				Status:  "degraded",
				Message: "circuit breaker open - estimates temporarily unavailable",
			}
			h.logger.Warn("AI service circuit breaker is open")
		} else {
			response.Checks["ai_service"] = ComponentHealth{Status: "healthy"}
		}
	}

	if h.providers != nil {
		response.Providers = h.providers.HealthStatus()
		if len(response.Providers) == 0 {
			hasDegradation = true
			response.Checks["ai_providers"] = ComponentHealth{Status: "degraded", Message: "no AI providers registered"}
		}
	}

	if h.rates != nil {
		response.Errors = &ErrorRates{
			Percentage: h.rates.ErrorPercentage(),
			Categories: h.rates.Snapshot(),
		}
	}

	if hasCriticalFailure {
		response.Status = "unhealthy"
	} else if hasDegradation {
		response.Status = "degraded"
	}

	statusCode := http.StatusOK
	if response.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	JSON(w, r, statusCode, response)
}

// HandleReadiness fails while shutting down or when the database is unreachable.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for _, check := range []HealthChecker{h.readiness, h.database} {
		if check == nil {
			continue
		}
		if err := check.Ping(ctx); err != nil {
			h.logger.Warn("readiness check failed", zap.Error(err))
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// HandleLiveness returns a simple liveness probe response.
func (h *HealthHandler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("alive"))
}
