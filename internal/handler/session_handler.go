package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/jkindrix/estimatebot/internal/errors"
	"github.com/jkindrix/estimatebot/internal/validation"
	"github.com/jkindrix/estimatebot/internal/widget"
)

// sessionEvents maps URL event names to navigation events. Submit and
// completion events have their own endpoints.
var sessionEvents = map[string]widget.EventType{
	"open":         widget.EventOpen,
	"book":         widget.EventBook,
	"start-over":   widget.EventStartOver,
	"new-estimate": widget.EventNewEstimate,
	"close":        widget.EventClose,
}

// HandleOpenSession opens a session for a widget and returns it in IDLE.
func (h *WidgetHandler) HandleOpenSession(w http.ResponseWriter, r *http.Request) {
	saved, err := h.loadWidget(r)
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	s, err := h.sessions.Open(saved.ID, saved.Config)
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	JSON(w, r, http.StatusCreated, s.View())
}

func (h *WidgetHandler) session(r *http.Request) (*widget.Session, error) {
	sid, err := uuidParam(r, "sid")
	if err != nil {
		return nil, widget.ErrSessionNotFound
	}
	return h.sessions.Get(sid)
}

// HandleGetSession returns the session snapshot.
func (h *WidgetHandler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	JSON(w, r, http.StatusOK, s.View())
}

// HandleSessionEvent applies a navigation event such as book or close.
func (h *WidgetHandler) HandleSessionEvent(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	name := chi.URLParam(r, "event")
	event, ok := sessionEvents[name]
	if !ok {
		WriteError(w, r, h.logger, apperrors.NotFound("event "+name))
		return
	}
	view, err := s.Fire(event)
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	JSON(w, r, http.StatusOK, view)
}

// HandleSessionEstimate submits the estimate form. A failed estimate is
// reported in the returned view, not as an HTTP error.
func (h *WidgetHandler) HandleSessionEstimate(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
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

	release, err := h.acquire(s.WidgetID())
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	defer release()

	view, err := s.RequestEstimate(r.Context(), req.Task)
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	JSON(w, r, http.StatusOK, view)
}

// HandleSessionLead submits the lead form with the session's estimate.
func (h *WidgetHandler) HandleSessionLead(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	var req LeadRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	view, err := s.SubmitLead(r.Context(), req.Lead)
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	JSON(w, r, http.StatusOK, view)
}
