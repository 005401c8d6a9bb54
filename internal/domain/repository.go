package domain

import (
	"context"

	"github.com/google/uuid"
)

// LeadRepository defines the interface for lead persistence. Leads are
// append-only: there is no update or delete path.
type LeadRepository interface {
	// Create inserts a new lead.
	Create(ctx context.Context, lead *LeadRecord) error

	// List returns leads newest first. A nil widgetID lists every widget's leads.
	List(ctx context.Context, widgetID *uuid.UUID, limit int) ([]*LeadRecord, error)
}

// WidgetRepository defines the interface for saved widget configurations.
// Writes are last-write-wins.
type WidgetRepository interface {
	// Create inserts a new widget.
	Create(ctx context.Context, widget *SavedWidget) error

	// Get retrieves a widget by ID.
	Get(ctx context.Context, id uuid.UUID) (*SavedWidget, error)

	// List returns widgets most recently updated first.
	List(ctx context.Context, limit int) ([]*SavedWidget, error)

	// Update replaces a widget's name and config.
	Update(ctx context.Context, widget *SavedWidget) error

	// Delete removes a widget.
	Delete(ctx context.Context, id uuid.UUID) error
}

// WidgetPatcher applies a read-modify-write to one widget atomically.
type WidgetPatcher interface {
	WidgetRepository

	// Patch loads the widget, applies fn and saves the result. An error from
	// fn aborts without writing.
	Patch(ctx context.Context, id uuid.UUID, fn func(*SavedWidget) error) (*SavedWidget, error)
}
