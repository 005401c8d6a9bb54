package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/jkindrix/estimatebot/internal/ai"
	"github.com/jkindrix/estimatebot/internal/dispatch"
	"github.com/jkindrix/estimatebot/internal/domain"
	"github.com/jkindrix/estimatebot/internal/middleware"
	"github.com/jkindrix/estimatebot/internal/validation"
	"github.com/jkindrix/estimatebot/internal/widget"
)

// EstimateGate caps model spend. Every successful Acquire is paired with Release.
type EstimateGate interface {
	Acquire(widgetID uuid.UUID) error
	Release()
}

// WidgetHandler serves the public widget surface: the embed page, public
// config, stateless estimate and lead calls, and the session API.
type WidgetHandler struct {
	widgets    domain.WidgetRepository
	estimator  widget.Estimator
	dispatcher widget.Dispatcher
	sessions   *widget.Store
	gate       EstimateGate
	cors       *cors.Cors
	limit      func(http.Handler) http.Handler
	publicURL  string
	logger     *zap.Logger
}

// WidgetHandlerConfig holds configuration for WidgetHandler.
type WidgetHandlerConfig struct {
	Widgets    domain.WidgetRepository
	Estimator  widget.Estimator
	Dispatcher widget.Dispatcher
	Sessions   *widget.Store
	// Gate is optional; nil means estimates are not capped here.
	Gate EstimateGate
	// RateLimiter applies the per-IP limit to every public route when set.
	RateLimiter    *middleware.RateLimiter
	AllowedOrigins []string
	PublicURL      string
	Logger         *zap.Logger
}

// NewWidgetHandler creates a WidgetHandler.
func NewWidgetHandler(cfg WidgetHandlerConfig) *WidgetHandler {
	if cfg.Logger == nil {
		panic("logger is required")
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	limit := func(next http.Handler) http.Handler { return next }
	if cfg.RateLimiter != nil {
		limit = middleware.RateLimit(cfg.RateLimiter)
	}
	return &WidgetHandler{
		widgets:    cfg.Widgets,
		estimator:  cfg.Estimator,
		dispatcher: cfg.Dispatcher,
		sessions:   cfg.Sessions,
		gate:       cfg.Gate,
		limit:      limit,
		cors: cors.New(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "X-Request-ID", "X-Correlation-ID"},
			ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
			MaxAge:         600,
		}),
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		logger:    cfg.Logger.Named("widget_api"),
	}
}

// RegisterRoutes registers the public routes. The API routes are
// cross-origin; CORS runs on the subrouters so preflights are answered
// before method routing.
func (h *WidgetHandler) RegisterRoutes(r chi.Router) {
	r.With(h.limit).Get("/embed", h.HandleEmbed)

	r.Route("/api/widgets/{id}", func(r chi.Router) {
		r.Use(h.cors.Handler, h.limit)

		r.Get("/public", h.HandlePublicConfig)
		r.With(middleware.BodySizeLimiterEstimate()).Post("/estimate", h.HandleEstimate)
		r.With(middleware.BodySizeLimiterJSON()).Post("/leads", h.HandleLead)
		if h.sessions != nil {
			r.Post("/sessions", h.HandleOpenSession)
		}
	})

	if h.sessions == nil {
		return
	}
	r.Route("/api/sessions/{sid}", func(r chi.Router) {
		r.Use(h.cors.Handler, h.limit)

		r.Get("/", h.HandleGetSession)
		r.Post("/events/{event}", h.HandleSessionEvent)
		r.With(middleware.BodySizeLimiterEstimate()).Post("/estimate", h.HandleSessionEstimate)
		r.With(middleware.BodySizeLimiterJSON()).Post("/lead", h.HandleSessionLead)
	})
}

// EstimateRequest is the body of an estimate call.
type EstimateRequest struct {
	Task domain.EstimateTask `json:"task"`
}

// LeadRequest is the body of a lead call. Estimate is the estimate the
// customer was shown, if any.
type LeadRequest struct {
	Lead     domain.LeadInfo          `json:"lead"`
	Estimate *domain.EstimationResult `json:"estimate,omitempty"`
}

// LeadResponse reports a submitted lead.
type LeadResponse struct {
	Status   string                   `json:"status"`
	LeadID   uuid.UUID                `json:"lead_id"`
	Channels []dispatch.ChannelResult `json:"channels"`
}

// loadWidget resolves the {id} URL parameter to a saved widget.
func (h *WidgetHandler) loadWidget(r *http.Request) (*domain.SavedWidget, error) {
	id, err := uuidParam(r, "id")
	if err != nil {
		return nil, err
	}
	return h.widgets.Get(r.Context(), id)
}

// HandlePublicConfig returns a widget's config with secrets stripped.
func (h *WidgetHandler) HandlePublicConfig(w http.ResponseWriter, r *http.Request) {
	saved, err := h.loadWidget(r)
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	JSON(w, r, http.StatusOK, saved.Config.Public())
}

// HandleEstimate runs one stateless estimate.
func (h *WidgetHandler) HandleEstimate(w http.ResponseWriter, r *http.Request) {
	saved, err := h.loadWidget(r)
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}

	var req EstimateRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	if errs := validation.EstimateTask(req.Task); errs.HasErrors() {
		WriteError(w, r, h.logger, errs)
		return
	}

	release, err := h.acquire(saved.ID)
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	defer release()

	result, err := h.estimator.Estimate(ai.WithWidgetID(r.Context(), saved.ID), req.Task, saved.Config)
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	JSON(w, r, http.StatusOK, result)
}

// HandleLead dispatches a booked lead. Channel failures do not fail the
// request; they are listed in the response.
func (h *WidgetHandler) HandleLead(w http.ResponseWriter, r *http.Request) {
	saved, err := h.loadWidget(r)
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}

	var req LeadRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	if errs := validation.Lead(req.Lead, saved.Config.LeadGenConfig.Fields); errs.HasErrors() {
		WriteError(w, r, h.logger, errs)
		return
	}

	widgetID := saved.ID
	outcome := h.dispatcher.Dispatch(r.Context(), dispatch.Input{
		WidgetID: &widgetID,
		Lead:     req.Lead,
		Estimate: req.Estimate,
		Config:   saved.Config,
	})
	JSON(w, r, http.StatusOK, LeadResponse{
		Status:   "submitted",
		LeadID:   outcome.LeadID,
		Channels: outcome.Channels,
	})
}

// acquire takes an estimate slot for the widget.
func (h *WidgetHandler) acquire(widgetID uuid.UUID) (func(), error) {
	if h.gate == nil {
		return func() {}, nil
	}
	if err := h.gate.Acquire(widgetID); err != nil {
		return nil, err
	}
	return h.gate.Release, nil
}
