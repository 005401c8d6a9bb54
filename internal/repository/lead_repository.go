package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jkindrix/estimatebot/internal/database"
	"github.com/jkindrix/estimatebot/internal/domain"
	apperrors "github.com/jkindrix/estimatebot/internal/errors"
)

// LeadRepository implements domain.LeadRepository using PostgreSQL.
type LeadRepository struct {
	tx *database.TxManager
}

// NewLeadRepository creates a new LeadRepository.
func NewLeadRepository(tx *database.TxManager) *LeadRepository {
	return &LeadRepository{tx: tx}
}

// Create inserts a lead. Leads are never updated after this.
func (r *LeadRepository) Create(ctx context.Context, lead *domain.LeadRecord) error {
	if err := Validate().
		RequireUUID(lead.ID, "id").
		RequireString(lead.Name, "name").
		Error(); err != nil {
		return err
	}

	estimate := []byte(lead.EstimateJSON)
	if len(estimate) == 0 {
		estimate = []byte("null")
	}

	ctx, cancel := WithWriteTimeout(ctx)
	defer cancel()

	_, err := r.tx.GetQuerier(ctx).Exec(ctx, LeadColumns.Insert(),
		lead.ID,
		lead.WidgetID,
		lead.Name,
		lead.Email,
		lead.Phone,
		lead.Notes,
		lead.Date,
		lead.Time,
		estimate,
		lead.CreatedAt,
	)
	if err != nil {
		return apperrors.DatabaseError("LeadRepository.Create", err)
	}
	return nil
}

// List returns leads newest first. A nil widgetID lists every widget's leads.
func (r *LeadRepository) List(ctx context.Context, widgetID *uuid.UUID, limit int) ([]*domain.LeadRecord, error) {
	if err := Validate().RequireInRange(limit, 1, MaxListLimit, "limit").Error(); err != nil {
		return nil, err
	}

	ctx, cancel := WithListQueryTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + LeadColumns.Select() + `
		FROM leads
		WHERE ($1::uuid IS NULL OR widget_id = $1)
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.tx.GetQuerier(ctx).Query(ctx, query, widgetID, limit)
	if err != nil {
		return nil, apperrors.DatabaseError("LeadRepository.List", err)
	}
	defer rows.Close()

	var leads []*domain.LeadRecord
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, apperrors.DatabaseError("LeadRepository.List", err)
		}
		leads = append(leads, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.DatabaseError("LeadRepository.List", err)
	}
	return leads, nil
}

func scanLead(row pgx.Row) (*domain.LeadRecord, error) {
	var (
		lead     domain.LeadRecord
		estimate []byte
	)
	err := row.Scan(
		&lead.ID,
		&lead.WidgetID,
		&lead.Name,
		&lead.Email,
		&lead.Phone,
		&lead.Notes,
		&lead.Date,
		&lead.Time,
		&estimate,
		&lead.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	lead.EstimateJSON = estimate
	return &lead, nil
}
