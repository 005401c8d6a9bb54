package widget

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jkindrix/estimatebot/internal/ai"
	"github.com/jkindrix/estimatebot/internal/clock"
	"github.com/jkindrix/estimatebot/internal/dispatch"
	"github.com/jkindrix/estimatebot/internal/domain"
	"github.com/jkindrix/estimatebot/internal/metrics"
	"github.com/jkindrix/estimatebot/internal/validation"
)

// ErrSuperseded is returned when the session was closed or reset while a
// request was in flight. The late result is discarded.
var ErrSuperseded = errors.New("session changed while the request was in flight")

// Estimator produces an estimate for a task.
type Estimator interface {
	Estimate(ctx context.Context, task domain.EstimateTask, cfg domain.BusinessConfig) (*domain.EstimationResult, error)
}

// Dispatcher delivers a booked lead.
type Dispatcher interface {
	Dispatch(ctx context.Context, in dispatch.Input) dispatch.Outcome
}

// SessionView is a session snapshot for API responses.
type SessionView struct {
	ID       uuid.UUID `json:"id"`
	WidgetID uuid.UUID `json:"widget_id"`
	Snapshot
	LastActive time.Time `json:"last_active"`
}

// Session is one customer's widget. Methods are safe for concurrent use;
// estimator and dispatcher calls run outside the lock.
type Session struct {
	id       uuid.UUID
	widgetID uuid.UUID
	config   domain.BusinessConfig

	estimator  Estimator
	dispatcher Dispatcher
	clock      clock.Clock
	logger     *zap.Logger

	mu         sync.Mutex
	machine    *Machine
	generation uint64
	lastActive time.Time
}

// SessionDeps are the collaborators shared by every session.
type SessionDeps struct {
	Estimator  Estimator
	Dispatcher Dispatcher
	Clock      clock.Clock
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// NewSession creates a closed session for the widget. cfg is copied and
// never modified.
func NewSession(widgetID uuid.UUID, cfg domain.BusinessConfig, deps SessionDeps) *Session {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	s := &Session{
		id:         uuid.New(),
		widgetID:   widgetID,
		config:     cfg,
		estimator:  deps.Estimator,
		dispatcher: deps.Dispatcher,
		clock:      deps.Clock,
		machine:    NewMachine(),
		lastActive: deps.Clock.Now(),
	}
	s.logger = deps.Logger.With(zap.String("session_id", s.id.String()), zap.String("widget_id", widgetID.String()))

	m := deps.Metrics
	s.machine.OnTransition(func(from, to State, event EventType) {
		m.RecordSessionTransition(string(from), string(to))
		s.logger.Debug("widget transition",
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.String("event", string(event)),
		)
	})
	return s
}

// ID returns the session ID.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// WidgetID returns the widget the session belongs to.
func (s *Session) WidgetID() uuid.UUID {
	return s.widgetID
}

// Config returns the widget configuration the session was opened with.
func (s *Session) Config() domain.BusinessConfig {
	return s.config
}

// LastActive returns when the session last handled a call.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// View returns the current snapshot.
func (s *Session) View() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() SessionView {
	return SessionView{
		ID:         s.id,
		WidgetID:   s.widgetID,
		Snapshot:   s.machine.Snapshot(),
		LastActive: s.lastActive,
	}
}

// Fire applies a navigation event (open, book, start over, new estimate,
// close). Close, StartOver and NewEstimate invalidate in-flight requests.
func (s *Session) Fire(event EventType) (SessionView, error) {
	switch event {
	case EventSubmitEstimate, EventSubmitLead, EventEstimateSucceeded, EventEstimateFailed, EventLeadDispatched:
		return s.View(), &TransitionError{From: s.State(), Event: event}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = s.clock.Now()
	if err := s.machine.Fire(Event{Type: event}); err != nil {
		return s.viewLocked(), err
	}
	switch event {
	case EventClose, EventStartOver, EventNewEstimate:
		s.generation++
	}
	return s.viewLocked(), nil
}

// State returns the current widget state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.State()
}

// RequestEstimate validates task, moves to LOADING and calls the estimator.
// An estimate failure is not returned as an error: the session returns to
// IDLE with the message in the view. Errors are validation failures,
// transition errors and ErrSuperseded.
func (s *Session) RequestEstimate(ctx context.Context, task domain.EstimateTask) (SessionView, error) {
	s.mu.Lock()
	s.lastActive = s.clock.Now()
	if errs := validation.EstimateTask(task); errs.HasErrors() {
		view := s.viewLocked()
		s.mu.Unlock()
		return view, errs
	}
	if err := s.machine.Fire(Event{Type: EventSubmitEstimate, Task: task}); err != nil {
		view := s.viewLocked()
		s.mu.Unlock()
		return view, err
	}
	gen := s.generation
	s.mu.Unlock()

	result, err := s.estimator.Estimate(ai.WithWidgetID(ctx, s.widgetID), task, s.config)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = s.clock.Now()
	if gen != s.generation {
		s.logger.Debug("discarding stale estimate")
		return s.viewLocked(), ErrSuperseded
	}
	if err != nil {
		_ = s.machine.Fire(Event{Type: EventEstimateFailed, Err: err})
	} else {
		_ = s.machine.Fire(Event{Type: EventEstimateSucceeded, Result: result})
	}
	return s.viewLocked(), nil
}

// SubmitLead validates the lead form, moves to LOADING and dispatches the
// lead with the displayed estimate. Empty notes default to the task
// description. The session always reaches SUCCESS once dispatch returns;
// per-channel failures are in the view's delivery field.
func (s *Session) SubmitLead(ctx context.Context, lead domain.LeadInfo) (SessionView, error) {
	s.mu.Lock()
	s.lastActive = s.clock.Now()
	snap := s.machine.Snapshot()
	if lead.Notes == "" {
		lead.Notes = snap.Task.Description
	}
	if snap.State == StateLeadForm {
		if errs := validation.Lead(lead, s.config.LeadGenConfig.Fields); errs.HasErrors() {
			view := s.viewLocked()
			s.mu.Unlock()
			return view, errs
		}
	}
	if err := s.machine.Fire(Event{Type: EventSubmitLead, Lead: lead}); err != nil {
		view := s.viewLocked()
		s.mu.Unlock()
		return view, err
	}
	gen := s.generation
	s.mu.Unlock()

	widgetID := s.widgetID
	outcome := s.dispatcher.Dispatch(ctx, dispatch.Input{
		WidgetID: &widgetID,
		Lead:     lead,
		Estimate: snap.Estimate,
		Config:   s.config,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = s.clock.Now()
	if gen != s.generation {
		// The lead is already delivered; only the confirmation screen is lost.
		s.logger.Info("session closed during lead dispatch", zap.String("lead_id", outcome.LeadID.String()))
		return s.viewLocked(), ErrSuperseded
	}
	_ = s.machine.Fire(Event{Type: EventLeadDispatched, Outcome: &outcome})
	return s.viewLocked(), nil
}

// close moves the session to CLOSED and invalidates in-flight work.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.machine.Fire(Event{Type: EventClose})
	s.generation++
}
