package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jkindrix/estimatebot/internal/clock"
	"github.com/jkindrix/estimatebot/internal/domain"
	apperrors "github.com/jkindrix/estimatebot/internal/errors"
	"github.com/jkindrix/estimatebot/internal/metrics"
	"github.com/jkindrix/estimatebot/internal/middleware"
	"github.com/jkindrix/estimatebot/internal/pricing"
	"github.com/jkindrix/estimatebot/internal/prompt"
	"github.com/jkindrix/estimatebot/internal/validation"
)

// PriceSyncer pulls a widget's price lists from its published sheet.
type PriceSyncer interface {
	Sync(ctx context.Context, widgetID uuid.UUID) (*domain.SavedWidget, pricing.Result, error)
}

// AdminHandler serves the operator API: widget CRUD, leads, price imports,
// prompt preview and embed snippets.
type AdminHandler struct {
	widgets   domain.WidgetPatcher
	leads     domain.LeadRepository
	syncer    PriceSyncer
	clock     clock.Clock
	metrics   *metrics.Metrics
	events    *metrics.BusinessEventLogger
	rates     *metrics.ErrorRateTracker
	publicURL string
	logger    *zap.Logger
}

// AdminHandlerConfig holds configuration for AdminHandler.
type AdminHandlerConfig struct {
	Widgets   domain.WidgetPatcher
	Leads     domain.LeadRepository
	Syncer    PriceSyncer
	Clock     clock.Clock
	Metrics    *metrics.Metrics
	Events     *metrics.BusinessEventLogger
	ErrorRates *metrics.ErrorRateTracker
	PublicURL  string
	Logger     *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(cfg AdminHandlerConfig) *AdminHandler {
	if cfg.Logger == nil {
		panic("logger is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &AdminHandler{
		widgets:   cfg.Widgets,
		leads:     cfg.Leads,
		syncer:    cfg.Syncer,
		clock:     cfg.Clock,
		metrics:   cfg.Metrics,
		events:    cfg.Events,
		rates:     cfg.ErrorRates,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		logger:    cfg.Logger.Named("admin_api"),
	}
}

// RegisterRoutes registers the operator routes under /api/admin.
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/admin", func(r chi.Router) {
		r.With(middleware.BodySizeLimiterUpload()).Post("/pricing/import", h.HandleImportPricing)

		r.Group(func(r chi.Router) {
			r.Use(middleware.BodySizeLimiterJSON())

			r.Get("/widgets", h.HandleListWidgets)
			r.Post("/widgets", h.HandleCreateWidget)
			r.Route("/widgets/{id}", func(r chi.Router) {
				r.Get("/", h.HandleGetWidget)
				r.Put("/", h.HandleUpdateWidget)
				r.Patch("/", h.HandlePatchWidget)
				r.Delete("/", h.HandleDeleteWidget)
				r.Get("/leads", h.HandleListLeads)
				r.Get("/embed", h.HandleEmbedSnippet)
				r.Post("/pricing/sync", h.HandleSyncPricing)
			})
			r.Get("/leads", h.HandleListLeads)
			r.Post("/prompt/preview", h.HandlePromptPreview)
		})
	})
}

// WidgetRequest is the body for creating or replacing a widget. A missing
// config starts from the defaults under the request's name; a missing name
// uses the config's.
type WidgetRequest struct {
	Name   string                 `json:"name"`
	Config *domain.BusinessConfig `json:"config"`
}

func (req WidgetRequest) resolve() (string, domain.BusinessConfig) {
	cfg := domain.DefaultBusinessConfig()
	if req.Config != nil {
		cfg = *req.Config
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = cfg.Name
	}
	if req.Config == nil || cfg.Name == "" {
		cfg.Name = name
	}
	return name, cfg
}

func limitParam(r *http.Request) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return validation.NormalizeLimit(limit, nil)
}

// HandleListWidgets lists saved widgets, most recently updated first.
func (h *AdminHandler) HandleListWidgets(w http.ResponseWriter, r *http.Request) {
	widgets, err := h.widgets.List(r.Context(), limitParam(r))
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	if widgets == nil {
		widgets = []*domain.SavedWidget{}
	}
	JSON(w, r, http.StatusOK, map[string]any{"widgets": widgets})
}

// HandleCreateWidget saves a new widget.
func (h *AdminHandler) HandleCreateWidget(w http.ResponseWriter, r *http.Request) {
	var req WidgetRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	name, cfg := req.resolve()
	if errs := validation.BusinessConfig(cfg); errs.HasErrors() {
		WriteError(w, r, h.logger, errs)
		return
	}

	saved := &domain.SavedWidget{
		ID:        uuid.New(),
		Name:      name,
		Config:    cfg,
		UpdatedAt: h.clock.NowUTC(),
	}
	if err := h.widgets.Create(r.Context(), saved); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	h.events.WidgetSaved(r.Context(), saved.ID, "created")
	JSON(w, r, http.StatusCreated, saved)
}

// HandleGetWidget returns one widget including its secrets.
func (h *AdminHandler) HandleGetWidget(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	saved, err := h.widgets.Get(r.Context(), id)
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	JSON(w, r, http.StatusOK, saved)
}

// HandleUpdateWidget replaces a widget's name and config.
func (h *AdminHandler) HandleUpdateWidget(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	var req WidgetRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	name, cfg := req.resolve()
	if errs := validation.BusinessConfig(cfg); errs.HasErrors() {
		WriteError(w, r, h.logger, errs)
		return
	}

	saved := &domain.SavedWidget{ID: id, Name: name, Config: cfg, UpdatedAt: h.clock.NowUTC()}
	if err := h.widgets.Update(r.Context(), saved); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	h.events.WidgetSaved(r.Context(), id, "updated")
	JSON(w, r, http.StatusOK, saved)
}

// HandlePatchWidget applies an RFC 7386 merge patch to a widget's config.
// The patched config is validated before anything is written.
func (h *AdminHandler) HandlePatchWidget(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	patch, err := io.ReadAll(r.Body)
	if err != nil {
		WriteError(w, r, h.logger, apperrors.Wrap(err, "widget.patch", apperrors.CodeInvalidInput, "could not read request body"))
		return
	}
	if !isJSONObject(patch) {
		WriteError(w, r, h.logger, apperrors.New(apperrors.CodeInvalidInput, "merge patch must be a JSON object"))
		return
	}

	saved, err := h.widgets.Patch(r.Context(), id, func(sw *domain.SavedWidget) error {
		return h.applyMergePatch(sw, patch)
	})
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	h.events.WidgetSaved(r.Context(), id, "patched")
	JSON(w, r, http.StatusOK, saved)
}

func (h *AdminHandler) applyMergePatch(sw *domain.SavedWidget, patch []byte) error {
	original, err := json.Marshal(sw.Config)
	if err != nil {
		return apperrors.InternalError("could not encode widget config", err)
	}
	merged, err := jsonpatch.MergePatch(original, patch)
	if err != nil {
		return apperrors.Wrap(err, "widget.patch", apperrors.CodeInvalidInput, "merge patch could not be applied")
	}
	var cfg domain.BusinessConfig
	if err := json.Unmarshal(merged, &cfg); err != nil {
		return apperrors.Wrap(err, "widget.patch", apperrors.CodeInvalidFormat, "patched config has the wrong shape")
	}
	if errs := validation.BusinessConfig(cfg); errs.HasErrors() {
		return errs
	}
	sw.Config = cfg
	sw.Name = cfg.Name
	sw.UpdatedAt = h.clock.NowUTC()
	return nil
}

func isJSONObject(data []byte) bool {
	var obj map[string]json.RawMessage
	return json.Unmarshal(data, &obj) == nil && obj != nil
}

// HandleDeleteWidget removes a widget. Its leads are kept.
func (h *AdminHandler) HandleDeleteWidget(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	if err := h.widgets.Delete(r.Context(), id); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	h.events.WidgetSaved(r.Context(), id, "deleted")
	w.WriteHeader(http.StatusNoContent)
}

// HandleListLeads lists leads newest first, for one widget when the route
// carries an id and for every widget otherwise.
func (h *AdminHandler) HandleListLeads(w http.ResponseWriter, r *http.Request) {
	var widgetID *uuid.UUID
	if chi.URLParam(r, "id") != "" {
		id, err := uuidParam(r, "id")
		if err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		widgetID = &id
	}
	leads, err := h.leads.List(r.Context(), widgetID, limitParam(r))
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	if leads == nil {
		leads = []*domain.LeadRecord{}
	}
	JSON(w, r, http.StatusOK, map[string]any{"leads": leads})
}

// ImportResponse carries the parsed price lists.
type ImportResponse struct {
	pricing.Result
	Widget *domain.SavedWidget `json:"widget,omitempty"`
}

// HandleImportPricing parses an uploaded CSV or XLSX price list. When the
// form names a widget_id the lists are saved onto that widget.
func (h *AdminHandler) HandleImportPricing(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, r, h.logger, apperrors.MissingField("file"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, r, h.logger, apperrors.ImportFailed("could not read the uploaded file", err))
		return
	}

	res, err := pricing.ParseFile(header.Filename, data)
	h.recordImport("upload", err)
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}

	resp := ImportResponse{Result: res}
	var widgetID *uuid.UUID
	if raw := r.FormValue("widget_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			WriteError(w, r, h.logger, apperrors.New(apperrors.CodeInvalidFormat, "invalid widget_id"))
			return
		}
		saved, err := h.widgets.Patch(r.Context(), id, func(sw *domain.SavedWidget) error {
			sw.Config.CorePricingItems = res.Core
			sw.Config.SmartAddons = res.Addons
			sw.Config.PricingSource = domain.PricingSourceManual
			sw.Config.UseSheetData = false
			sw.UpdatedAt = h.clock.NowUTC()
			return nil
		})
		if err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		resp.Widget = saved
		widgetID = &id
	}

	h.events.PricingImported(r.Context(), widgetID, "upload", len(res.Core), len(res.Addons))
	JSON(w, r, http.StatusOK, resp)
}

// HandleSyncPricing re-imports a widget's price lists from its Google Sheet.
func (h *AdminHandler) HandleSyncPricing(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	if h.syncer == nil {
		WriteError(w, r, h.logger, apperrors.New(apperrors.CodeExternalService, "sheet sync is not configured"))
		return
	}

	saved, res, err := h.syncer.Sync(r.Context(), id)
	h.recordImport("sheet", err)
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	h.events.PricingImported(r.Context(), &id, "sheet", len(res.Core), len(res.Addons))
	JSON(w, r, http.StatusOK, ImportResponse{Result: res, Widget: saved})
}

func (h *AdminHandler) recordImport(source string, err error) {
	h.metrics.RecordPricingImport(source, err == nil)
	if err != nil {
		h.rates.RecordError(metrics.ErrorCategoryImport)
	}
}

// PromptPreviewResponse shows what the model is told for a config.
type PromptPreviewResponse struct {
	SystemInstruction string `json:"systemInstruction"`
}

// HandlePromptPreview renders the system instruction for an unsaved config.
func (h *AdminHandler) HandlePromptPreview(w http.ResponseWriter, r *http.Request) {
	var cfg domain.BusinessConfig
	if err := decodeJSON(r, &cfg); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	JSON(w, r, http.StatusOK, PromptPreviewResponse{SystemInstruction: prompt.SystemInstruction(cfg)})
}

// EmbedResponse carries a widget's embed URL and iframe snippet.
type EmbedResponse struct {
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// HandleEmbedSnippet returns the iframe snippet for a saved widget.
func (h *AdminHandler) HandleEmbedSnippet(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	saved, err := h.widgets.Get(r.Context(), id)
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	JSON(w, r, http.StatusOK, EmbedResponse{
		URL:     EmbedURL(h.publicURL, saved.ID),
		Snippet: EmbedSnippet(h.publicURL, saved.ID, saved.Config.HeaderTitle),
	})
}
