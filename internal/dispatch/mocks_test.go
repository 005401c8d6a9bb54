package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/jkindrix/estimatebot/internal/domain"
)

type mockLeadRepository struct {
	mu          sync.Mutex
	leads       []*domain.LeadRecord
	CreateError error
}

func (m *mockLeadRepository) Create(_ context.Context, lead *domain.LeadRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateError != nil {
		return m.CreateError
	}
	m.leads = append(m.leads, lead)
	return nil
}

func (m *mockLeadRepository) List(_ context.Context, widgetID *uuid.UUID, limit int) ([]*domain.LeadRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.LeadRecord(nil), m.leads...), nil
}

func (m *mockLeadRepository) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.leads)
}

type mockMailer struct {
	mu        sync.Mutex
	sent      []Email
	keyless   bool
	failTo    string
	panicTo   string
	SendError error
}

func (m *mockMailer) UsesWidgetKey() bool {
	return !m.keyless
}

func (m *mockMailer) Send(_ context.Context, email Email) error {
	if m.panicTo != "" && email.To == m.panicTo {
		panic("mailer exploded")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTo != "" && email.To == m.failTo {
		return errors.New("mailbox unavailable")
	}
	m.sent = append(m.sent, email)
	return m.SendError
}

func (m *mockMailer) SentTo(to string) (Email, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.sent {
		if e.To == to {
			return e, true
		}
	}
	return Email{}, false
}

type mockPublisher struct {
	mu     sync.Mutex
	events []LeadEvent
}

func (m *mockPublisher) Publish(_ context.Context, event LeadEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}
