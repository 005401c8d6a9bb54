package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// LeadInfo is what the customer enters on the lead form.
type LeadInfo struct {
	Name  string `json:"name" validate:"required,max=200"`
	Email string `json:"email" validate:"required,email,max=320"`
	Phone string `json:"phone" validate:"required,max=40"`
	Notes string `json:"notes,omitempty" validate:"max=4000"`
	Date  string `json:"date,omitempty" validate:"max=40"`
	Time  string `json:"time,omitempty" validate:"max=40"`
}

// LeadRecord is a persisted lead. Records are append-only.
type LeadRecord struct {
	ID           uuid.UUID       `json:"id"`
	WidgetID     *uuid.UUID      `json:"widget_id,omitempty"`
	Name         string          `json:"name"`
	Email        string          `json:"email"`
	Phone        string          `json:"phone"`
	Notes        string          `json:"notes,omitempty"`
	Date         string          `json:"date,omitempty"`
	Time         string          `json:"time,omitempty"`
	EstimateJSON json.RawMessage `json:"estimate_json"`
	CreatedAt    time.Time       `json:"created_at"`
}

// NewLeadRecord builds the record stored for a booked estimate.
func NewLeadRecord(widgetID *uuid.UUID, lead LeadInfo, estimate *EstimationResult, now time.Time) (*LeadRecord, error) {
	var raw json.RawMessage = []byte("null")
	if estimate != nil {
		b, err := json.Marshal(estimate)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return &LeadRecord{
		ID:           uuid.New(),
		WidgetID:     widgetID,
		Name:         lead.Name,
		Email:        lead.Email,
		Phone:        lead.Phone,
		Notes:        lead.Notes,
		Date:         lead.Date,
		Time:         lead.Time,
		EstimateJSON: raw,
		CreatedAt:    now.UTC(),
	}, nil
}

// SavedWidget is a stored widget configuration.
type SavedWidget struct {
	ID        uuid.UUID      `json:"id"`
	Name      string         `json:"name"`
	Config    BusinessConfig `json:"config"`
	UpdatedAt time.Time      `json:"updated_at"`
}
