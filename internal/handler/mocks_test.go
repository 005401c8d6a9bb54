package handler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jkindrix/estimatebot/internal/dispatch"
	"github.com/jkindrix/estimatebot/internal/domain"
	apperrors "github.com/jkindrix/estimatebot/internal/errors"
	"github.com/jkindrix/estimatebot/internal/pricing"
)

var errTestDelivery = errors.New("resend: 401 unauthorized")

// mockWidgetRepo is an in-memory domain.WidgetPatcher.
type mockWidgetRepo struct {
	mu      sync.Mutex
	widgets map[uuid.UUID]domain.SavedWidget
	updates int
	err     error
}

func newMockWidgetRepo(ws ...*domain.SavedWidget) *mockWidgetRepo {
	m := &mockWidgetRepo{widgets: make(map[uuid.UUID]domain.SavedWidget)}
	for _, w := range ws {
		m.widgets[w.ID] = *w
	}
	return m
}

func (m *mockWidgetRepo) Create(_ context.Context, w *domain.SavedWidget) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.widgets[w.ID] = *w
	return nil
}

func (m *mockWidgetRepo) Get(_ context.Context, id uuid.UUID) (*domain.SavedWidget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	w, ok := m.widgets[id]
	if !ok {
		return nil, apperrors.NotFound("widget")
	}
	return &w, nil
}

func (m *mockWidgetRepo) List(_ context.Context, limit int) ([]*domain.SavedWidget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []*domain.SavedWidget
	for _, w := range m.widgets {
		w := w
		out = append(out, &w)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockWidgetRepo) Update(_ context.Context, w *domain.SavedWidget) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.widgets[w.ID]; !ok {
		return apperrors.NotFound("widget")
	}
	m.widgets[w.ID] = *w
	m.updates++
	return nil
}

func (m *mockWidgetRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.widgets[id]; !ok {
		return apperrors.NotFound("widget")
	}
	delete(m.widgets, id)
	return nil
}

func (m *mockWidgetRepo) Patch(ctx context.Context, id uuid.UUID, fn func(*domain.SavedWidget) error) (*domain.SavedWidget, error) {
	w, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(w); err != nil {
		return nil, err
	}
	if err := m.Update(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

func (m *mockWidgetRepo) stored(id uuid.UUID) domain.SavedWidget {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.widgets[id]
}

// mockLeadRepo records List calls.
type mockLeadRepo struct {
	mu        sync.Mutex
	leads     []*domain.LeadRecord
	listedFor []*uuid.UUID
	limits    []int
}

func (m *mockLeadRepo) Create(_ context.Context, lead *domain.LeadRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leads = append(m.leads, lead)
	return nil
}

func (m *mockLeadRepo) List(_ context.Context, widgetID *uuid.UUID, limit int) ([]*domain.LeadRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listedFor = append(m.listedFor, widgetID)
	m.limits = append(m.limits, limit)
	return m.leads, nil
}

// mockEstimator returns a canned result or error.
type mockEstimator struct {
	mu     sync.Mutex
	result *domain.EstimationResult
	err    error
	tasks  []domain.EstimateTask
	names  []string
}

func (m *mockEstimator) Estimate(_ context.Context, task domain.EstimateTask, cfg domain.BusinessConfig) (*domain.EstimationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, task)
	m.names = append(m.names, cfg.Name)
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockEstimator) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// mockDispatcher records dispatched inputs.
type mockDispatcher struct {
	mu     sync.Mutex
	inputs []dispatch.Input
	leadID uuid.UUID
	failed error
}

func (m *mockDispatcher) Dispatch(_ context.Context, in dispatch.Input) dispatch.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, in)
	return dispatch.Outcome{
		LeadID: m.leadID,
		Channels: []dispatch.ChannelResult{
			{Channel: dispatch.ChannelStore, Attempted: true, Duration: time.Millisecond},
			{Channel: dispatch.ChannelCompanyEmail, Attempted: true, Err: m.failed},
		},
	}
}

func (m *mockDispatcher) dispatched() []dispatch.Input {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]dispatch.Input(nil), m.inputs...)
}

// mockGate counts Acquire and Release calls.
type mockGate struct {
	mu       sync.Mutex
	err      error
	acquired []uuid.UUID
	released int
}

func (m *mockGate) Acquire(widgetID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.acquired = append(m.acquired, widgetID)
	return nil
}

func (m *mockGate) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released++
}

// mockSyncer returns a canned sheet import.
type mockSyncer struct {
	widget *domain.SavedWidget
	result pricing.Result
	err    error
}

func (m *mockSyncer) Sync(_ context.Context, _ uuid.UUID) (*domain.SavedWidget, pricing.Result, error) {
	return m.widget, m.result, m.err
}

// codeOf returns the application error code carried by err.
func codeOf(err error) apperrors.Code {
	var e *apperrors.Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
