// Package handler provides the HTTP handlers for the widget, admin and ops APIs.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jkindrix/estimatebot/internal/ai"
	apperrors "github.com/jkindrix/estimatebot/internal/errors"
	"github.com/jkindrix/estimatebot/internal/logging"
	"github.com/jkindrix/estimatebot/internal/middleware"
	"github.com/jkindrix/estimatebot/internal/pricing"
	"github.com/jkindrix/estimatebot/internal/ratelimit"
	"github.com/jkindrix/estimatebot/internal/validation"
	"github.com/jkindrix/estimatebot/internal/widget"
)

// maxJSONBody bounds request bodies decoded by decodeJSON. Estimate bodies
// may carry a base64 photo.
const maxJSONBody = 12 << 20

// JSON writes a JSON response with the appropriate headers.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	if reqID := middleware.GetRequestID(r.Context()); reqID != "" {
		w.Header().Set("X-Request-ID", reqID)
	}
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// ValidationErrorResponse is the body for a request that failed field validation.
type ValidationErrorResponse struct {
	apperrors.ErrorResponse
	Errors validation.ValidationErrors `json:"errors"`
}

// WriteError translates err into the standard error body and status. Server
// side failures are logged; client errors are not.
func WriteError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	var verrs validation.ValidationErrors
	if errors.As(err, &verrs) {
		JSON(w, r, http.StatusBadRequest, ValidationErrorResponse{
			ErrorResponse: apperrors.ValidationFailed("Please check the highlighted fields.").ToResponse(),
			Errors:        verrs,
		})
		return
	}

	appErr := translate(err)
	status := appErr.HTTPStatus()
	if status >= http.StatusInternalServerError {
		middleware.LoggerWithCorrelation(r.Context(), logger).Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("code", string(appErr.Code)),
			logging.SafeError(err),
		)
	}
	JSON(w, r, status, appErr.ToResponse())
}

// translate maps package errors onto application errors.
func translate(err error) *apperrors.Error {
	var (
		estErr   *ai.EstimateError
		transErr *widget.TransitionError
		appErr   *apperrors.Error
	)
	switch {
	case errors.As(err, &estErr):
		switch {
		case estErr.NeedsKey():
			return apperrors.ModelNotFound(estErr.Message, err)
		case estErr.Kind == ai.KindValidation:
			return apperrors.ValidationFailed(estErr.Message)
		default:
			return apperrors.EstimationFailed(estErr.Message, err)
		}
	case errors.Is(err, ratelimit.ErrRateLimitExceeded):
		return apperrors.Wrap(err, "estimate", apperrors.CodeRateLimited,
			"Too many estimate requests. Please try again shortly.")
	case errors.Is(err, widget.ErrSessionNotFound):
		return apperrors.NotFound("session")
	case errors.Is(err, widget.ErrTooManySessions):
		return apperrors.Wrap(err, "session.open", apperrors.CodeRateLimited,
			"Too many active sessions. Please try again shortly.")
	case errors.As(err, &transErr):
		return apperrors.InvalidTransition(transErr.Error())
	case errors.Is(err, widget.ErrSuperseded):
		return apperrors.Wrap(err, "session", apperrors.CodeConflict, err.Error())
	case errors.Is(err, widget.ErrInvalidInput):
		return apperrors.ValidationFailed(err.Error())
	case errors.Is(err, pricing.ErrEmptySource),
		errors.Is(err, pricing.ErrNotPublic),
		errors.Is(err, pricing.ErrUnsupportedFormat):
		return apperrors.ImportFailed(err.Error(), err)
	case errors.As(err, &appErr):
		return appErr
	default:
		return apperrors.InternalError("Internal server error", err)
	}
}

// decodeJSON reads a JSON body into dst, rejecting unknown trailing data.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.ValidationFailed("request body is required")
		}
		return apperrors.Wrap(err, "decode", apperrors.CodeInvalidInput, "request body is not valid JSON")
	}
	if dec.More() {
		return apperrors.New(apperrors.CodeInvalidInput, "request body must contain a single JSON object")
	}
	return nil
}

// uuidParam parses a chi URL parameter as a UUID.
func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperrors.New(apperrors.CodeInvalidFormat, "invalid "+name)
	}
	return id, nil
}
