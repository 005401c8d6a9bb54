// Package widget drives one customer's pass through the estimate widget:
// describe the job, see an estimate, book it, and confirm.
//
// Machine is the pure transition function. Session wraps a Machine with the
// estimator and the lead dispatcher, and Store keeps live sessions for the
// HTTP session API.
package widget

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jkindrix/estimatebot/internal/ai"
	"github.com/jkindrix/estimatebot/internal/dispatch"
	"github.com/jkindrix/estimatebot/internal/domain"
)

// State is a widget screen.
type State string

const (
	StateClosed   State = "CLOSED"
	StateIdle     State = "IDLE"
	StateLoading  State = "LOADING"
	StateResult   State = "RESULT"
	StateLeadForm State = "LEAD_FORM"
	StateSuccess  State = "SUCCESS"
)

// EventType names a widget event.
type EventType string

const (
	EventOpen              EventType = "open"
	EventSubmitEstimate    EventType = "submit_estimate"
	EventEstimateSucceeded EventType = "estimate_succeeded"
	EventEstimateFailed    EventType = "estimate_failed"
	EventBook              EventType = "book"
	EventStartOver         EventType = "start_over"
	EventSubmitLead        EventType = "submit_lead"
	EventLeadDispatched    EventType = "lead_dispatched"
	EventNewEstimate       EventType = "new_estimate"
	EventClose             EventType = "close"
)

// Event is one input to the machine. Only the fields relevant to Type are read.
type Event struct {
	Type EventType

	Task    domain.EstimateTask      // SubmitEstimate
	Lead    domain.LeadInfo          // SubmitLead
	Result  *domain.EstimationResult // EstimateSucceeded
	Err     error                    // EstimateFailed
	Outcome *dispatch.Outcome        // LeadDispatched
}

var (
	// ErrInvalidInput is returned when a submit event is missing required fields.
	ErrInvalidInput = errors.New("missing required input")

	// ErrInvalidTransition matches every TransitionError.
	ErrInvalidTransition = errors.New("invalid transition")
)

// TransitionError reports an event that is not allowed in the current state.
type TransitionError struct {
	From  State
	Event EventType
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s from %s", e.Event, e.From)
}

// Is makes errors.Is(err, ErrInvalidTransition) work.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

type pendingWork int

const (
	pendingNone pendingWork = iota
	pendingEstimate
	pendingLead
)

// Machine holds the widget state and the data each screen shows. It is not
// safe for concurrent use; Session serializes access.
type Machine struct {
	state    State
	pending  pendingWork
	task     domain.EstimateTask
	estimate *domain.EstimationResult
	lead     domain.LeadInfo
	outcome  *dispatch.Outcome
	errMsg   string
	needsKey bool

	onTransition func(from, to State, event EventType)
}

// NewMachine returns a closed widget.
func NewMachine() *Machine {
	return &Machine{state: StateClosed}
}

// OnTransition registers a hook called after every accepted event.
func (m *Machine) OnTransition(fn func(from, to State, event EventType)) {
	m.onTransition = fn
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Fire applies e. A rejected event leaves the machine unchanged.
func (m *Machine) Fire(e Event) error {
	from := m.state

	switch e.Type {
	case EventClose:
		m.estimate, m.outcome = nil, nil
		m.lead = domain.LeadInfo{}
		m.clearError()
		m.pending = pendingNone
		m.state = StateClosed

	case EventOpen:
		if err := m.expect(e.Type, StateClosed); err != nil {
			return err
		}
		m.clearError()
		m.state = StateIdle

	case EventSubmitEstimate:
		if err := m.expect(e.Type, StateIdle); err != nil {
			return err
		}
		if !e.Task.Ready() {
			return ErrInvalidInput
		}
		m.task = e.Task
		m.estimate = nil
		m.clearError()
		m.pending = pendingEstimate
		m.state = StateLoading

	case EventEstimateSucceeded:
		if err := m.expectPending(e.Type, pendingEstimate); err != nil {
			return err
		}
		if e.Result == nil {
			return ErrInvalidInput
		}
		m.estimate = e.Result
		m.pending = pendingNone
		m.state = StateResult

	case EventEstimateFailed:
		if err := m.expectPending(e.Type, pendingEstimate); err != nil {
			return err
		}
		m.errMsg, m.needsKey = failureMessage(e.Err)
		m.pending = pendingNone
		m.state = StateIdle

	case EventBook:
		if err := m.expect(e.Type, StateResult); err != nil {
			return err
		}
		m.state = StateLeadForm

	case EventStartOver:
		if err := m.expect(e.Type, StateResult); err != nil {
			return err
		}
		m.estimate = nil
		m.state = StateIdle

	case EventSubmitLead:
		if err := m.expect(e.Type, StateLeadForm); err != nil {
			return err
		}
		if blank(e.Lead.Name) || blank(e.Lead.Email) || blank(e.Lead.Phone) {
			return ErrInvalidInput
		}
		m.lead = e.Lead
		m.pending = pendingLead
		m.state = StateLoading

	case EventLeadDispatched:
		if err := m.expectPending(e.Type, pendingLead); err != nil {
			return err
		}
		m.outcome = e.Outcome
		m.pending = pendingNone
		m.state = StateSuccess

	case EventNewEstimate:
		if err := m.expect(e.Type, StateSuccess); err != nil {
			return err
		}
		m.estimate, m.outcome = nil, nil
		m.lead = domain.LeadInfo{}
		m.state = StateIdle

	default:
		return fmt.Errorf("unknown event %q", e.Type)
	}

	if m.onTransition != nil {
		m.onTransition(from, m.state, e.Type)
	}
	return nil
}

func (m *Machine) expect(event EventType, want State) error {
	if m.state != want {
		return &TransitionError{From: m.state, Event: event}
	}
	return nil
}

func (m *Machine) expectPending(event EventType, want pendingWork) error {
	if m.state != StateLoading || m.pending != want {
		return &TransitionError{From: m.state, Event: event}
	}
	return nil
}

func (m *Machine) clearError() {
	m.errMsg = ""
	m.needsKey = false
}

// failureMessage returns the text shown on the form after a failed estimate.
func failureMessage(err error) (string, bool) {
	var estErr *ai.EstimateError
	if errors.As(err, &estErr) {
		if estErr.NeedsKey() {
			return ai.ConfigurationMessage, true
		}
		if estErr.Message != "" {
			return estErr.Message, false
		}
	}
	return ai.GenericMessage, false
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// Snapshot is a read-only copy of the machine for rendering.
type Snapshot struct {
	State    State                    `json:"state"`
	Task     domain.EstimateTask      `json:"task"`
	Estimate *domain.EstimationResult `json:"estimate,omitempty"`
	Lead     *domain.LeadInfo         `json:"lead,omitempty"`
	Delivery *dispatch.Outcome        `json:"delivery,omitempty"`
	Error    string                   `json:"error,omitempty"`
	NeedsKey bool                     `json:"needs_key"`
}

// Snapshot copies the current state.
func (m *Machine) Snapshot() Snapshot {
	s := Snapshot{
		State:    m.state,
		Task:     m.task,
		Estimate: m.estimate,
		Delivery: m.outcome,
		Error:    m.errMsg,
		NeedsKey: m.needsKey,
	}
	if m.lead != (domain.LeadInfo{}) {
		lead := m.lead
		s.Lead = &lead
	}
	return s
}
