package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jkindrix/estimatebot/internal/database"
	"github.com/jkindrix/estimatebot/internal/domain"
	apperrors "github.com/jkindrix/estimatebot/internal/errors"
)

const maxWidgetNameLength = 200

// WidgetRepository implements domain.WidgetRepository using PostgreSQL.
// Writes are last-write-wins.
type WidgetRepository struct {
	tx *database.TxManager
}

// NewWidgetRepository creates a new WidgetRepository.
func NewWidgetRepository(tx *database.TxManager) *WidgetRepository {
	return &WidgetRepository{tx: tx}
}

func guardWidget(w *domain.SavedWidget) error {
	return Validate().
		RequireUUID(w.ID, "id").
		RequireString(w.Name, "name").
		RequireMaxLength(w.Name, maxWidgetNameLength, "name").
		Error()
}

// Create inserts a new widget.
func (r *WidgetRepository) Create(ctx context.Context, w *domain.SavedWidget) error {
	if err := guardWidget(w); err != nil {
		return err
	}
	config, err := json.Marshal(w.Config)
	if err != nil {
		return apperrors.InternalError("failed to encode widget config", err)
	}

	ctx, cancel := WithWriteTimeout(ctx)
	defer cancel()

	if _, err := r.tx.GetQuerier(ctx).Exec(ctx, WidgetColumns.Insert(), w.ID, w.Name, config, w.UpdatedAt); err != nil {
		return apperrors.DatabaseError("WidgetRepository.Create", err)
	}
	return nil
}

// Get retrieves a widget by ID.
func (r *WidgetRepository) Get(ctx context.Context, id uuid.UUID) (*domain.SavedWidget, error) {
	ctx, cancel := WithQueryTimeout(ctx)
	defer cancel()

	query := `SELECT ` + WidgetColumns.Select() + ` FROM widgets WHERE id = $1`
	w, err := scanWidget(r.tx.GetQuerier(ctx).QueryRow(ctx, query, id))
	if err != nil {
		return nil, translate(err, "widget", "WidgetRepository.Get")
	}
	return w, nil
}

// List returns widgets most recently updated first.
func (r *WidgetRepository) List(ctx context.Context, limit int) ([]*domain.SavedWidget, error) {
	if err := Validate().RequireInRange(limit, 1, MaxListLimit, "limit").Error(); err != nil {
		return nil, err
	}

	ctx, cancel := WithListQueryTimeout(ctx)
	defer cancel()

	query := `SELECT ` + WidgetColumns.Select() + ` FROM widgets ORDER BY updated_at DESC LIMIT $1`
	rows, err := r.tx.GetQuerier(ctx).Query(ctx, query, limit)
	if err != nil {
		return nil, apperrors.DatabaseError("WidgetRepository.List", err)
	}
	defer rows.Close()

	var widgets []*domain.SavedWidget
	for rows.Next() {
		w, err := scanWidget(rows)
		if err != nil {
			return nil, apperrors.DatabaseError("WidgetRepository.List", err)
		}
		widgets = append(widgets, w)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.DatabaseError("WidgetRepository.List", err)
	}
	return widgets, nil
}

// Update replaces a widget's name and config.
func (r *WidgetRepository) Update(ctx context.Context, w *domain.SavedWidget) error {
	if err := guardWidget(w); err != nil {
		return err
	}
	config, err := json.Marshal(w.Config)
	if err != nil {
		return apperrors.InternalError("failed to encode widget config", err)
	}

	ctx, cancel := WithWriteTimeout(ctx)
	defer cancel()

	query := `UPDATE widgets SET ` + WidgetColumns.UpdateSet() + ` WHERE id = $1`
	tag, err := r.tx.GetQuerier(ctx).Exec(ctx, query, w.ID, w.Name, config, w.UpdatedAt)
	if err != nil {
		return apperrors.DatabaseError("WidgetRepository.Update", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("widget")
	}
	return nil
}

// Delete removes a widget. Its leads keep their widget_id.
func (r *WidgetRepository) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := WithWriteTimeout(ctx)
	defer cancel()

	tag, err := r.tx.GetQuerier(ctx).Exec(ctx, `DELETE FROM widgets WHERE id = $1`, id)
	if err != nil {
		return apperrors.DatabaseError("WidgetRepository.Delete", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("widget")
	}
	return nil
}

// Patch locks the widget row, applies fn to the stored widget and saves the
// result in one transaction. An error from fn aborts without writing.
func (r *WidgetRepository) Patch(ctx context.Context, id uuid.UUID, fn func(*domain.SavedWidget) error) (*domain.SavedWidget, error) {
	ctx, cancel := WithWriteTimeout(ctx)
	defer cancel()

	var out *domain.SavedWidget
	err := r.tx.WithTransactionContext(ctx, func(ctx context.Context) error {
		query := `SELECT ` + WidgetColumns.Select() + ` FROM widgets WHERE id = $1 FOR UPDATE`
		w, err := scanWidget(r.tx.GetQuerier(ctx).QueryRow(ctx, query, id))
		if err != nil {
			return translate(err, "widget", "WidgetRepository.Patch")
		}
		if err := fn(w); err != nil {
			return err
		}
		w.ID = id
		if err := r.Update(ctx, w); err != nil {
			return err
		}
		out = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scanWidget(row pgx.Row) (*domain.SavedWidget, error) {
	var (
		w      domain.SavedWidget
		config []byte
	)
	if err := row.Scan(&w.ID, &w.Name, &config, &w.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(config, &w.Config); err != nil {
		return nil, fmt.Errorf("decode widget %s config: %w", w.ID, err)
	}
	return &w, nil
}
