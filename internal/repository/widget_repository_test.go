package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jkindrix/estimatebot/internal/domain"
	apperrors "github.com/jkindrix/estimatebot/internal/errors"
)

func widgetRow(t *testing.T, w *domain.SavedWidget) []any {
	t.Helper()
	cfg, err := json.Marshal(w.Config)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	return []any{w.ID, w.Name, cfg, w.UpdatedAt}
}

func testWidget() *domain.SavedWidget {
	return &domain.SavedWidget{
		ID:        uuid.New(),
		Name:      "SwiftFix Main",
		Config:    domain.DefaultBusinessConfig(),
		UpdatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestWidgetRepository_CreateAndGet(t *testing.T) {
	db := newFakeDB()
	repo := NewWidgetRepository(db.txManager())
	w := testWidget()

	if err := repo.Create(context.Background(), w); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !strings.HasPrefix(db.execs[0].sql, "INSERT INTO widgets") {
		t.Errorf("sql = %q", db.execs[0].sql)
	}
	if _, ok := db.execs[0].args[2].([]byte); !ok {
		t.Errorf("config should be bound as JSON bytes, got %T", db.execs[0].args[2])
	}

	db.row = widgetRow(t, w)
	got, err := repo.Get(context.Background(), w.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ID != w.ID || got.Name != w.Name || got.Config.Name != w.Config.Name {
		t.Errorf("Get() = %+v", got)
	}
}

func TestWidgetRepository_GetNotFound(t *testing.T) {
	db := newFakeDB()
	_, err := NewWidgetRepository(db.txManager()).Get(context.Background(), uuid.New())
	if codeOf(err) != apperrors.CodeNotFound {
		t.Errorf("Get() error = %v, want NOT_FOUND", err)
	}
}

func TestWidgetRepository_CreateGuards(t *testing.T) {
	db := newFakeDB()
	repo := NewWidgetRepository(db.txManager())

	w := testWidget()
	w.Name = strings.Repeat("x", maxWidgetNameLength+1)
	if err := repo.Create(context.Background(), w); codeOf(err) != apperrors.CodeValidation {
		t.Errorf("long name error = %v", err)
	}
	w = testWidget()
	w.ID = uuid.Nil
	if err := repo.Create(context.Background(), w); codeOf(err) != apperrors.CodeMissingField {
		t.Errorf("nil id error = %v", err)
	}
	if len(db.execs) != 0 {
		t.Error("guard failure must not reach the database")
	}
}

func TestWidgetRepository_List(t *testing.T) {
	db := newFakeDB()
	a, b := testWidget(), testWidget()
	db.rows = [][]any{widgetRow(t, a), widgetRow(t, b)}

	widgets, err := NewWidgetRepository(db.txManager()).List(context.Background(), 50)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(widgets) != 2 || widgets[0].ID != a.ID {
		t.Errorf("List() = %+v", widgets)
	}
	if !strings.Contains(db.queries[0].sql, "ORDER BY updated_at DESC") {
		t.Errorf("sql = %q", db.queries[0].sql)
	}
}

func TestWidgetRepository_UpdateAndDeleteMissing(t *testing.T) {
	db := newFakeDB()
	db.execTag = pgconn.NewCommandTag("UPDATE 0")
	repo := NewWidgetRepository(db.txManager())

	if err := repo.Update(context.Background(), testWidget()); codeOf(err) != apperrors.CodeNotFound {
		t.Errorf("Update() error = %v, want NOT_FOUND", err)
	}
	db.execTag = pgconn.NewCommandTag("DELETE 0")
	if err := repo.Delete(context.Background(), uuid.New()); codeOf(err) != apperrors.CodeNotFound {
		t.Errorf("Delete() error = %v, want NOT_FOUND", err)
	}

	db.execTag = pgconn.NewCommandTag("UPDATE 1")
	if err := repo.Update(context.Background(), testWidget()); err != nil {
		t.Errorf("Update() error = %v", err)
	}
	if !strings.HasPrefix(db.execs[len(db.execs)-1].sql, "UPDATE widgets SET name = $2, config = $3, updated_at = $4") {
		t.Errorf("sql = %q", db.execs[len(db.execs)-1].sql)
	}
}

func TestWidgetRepository_Patch(t *testing.T) {
	db := newFakeDB()
	db.execTag = pgconn.NewCommandTag("UPDATE 1")
	w := testWidget()
	db.row = widgetRow(t, w)
	repo := NewWidgetRepository(db.txManager())

	got, err := repo.Patch(context.Background(), w.ID, func(sw *domain.SavedWidget) error {
		sw.Config.PrimaryColor = "#000000"
		return nil
	})
	if err != nil {
		t.Fatalf("Patch() error = %v", err)
	}
	if got.Config.PrimaryColor != "#000000" {
		t.Errorf("PrimaryColor = %q", got.Config.PrimaryColor)
	}
	if !strings.Contains(db.queries[0].sql, "FOR UPDATE") {
		t.Errorf("Patch must lock the row: %q", db.queries[0].sql)
	}
	if db.begins != 1 || db.commits != 1 || db.rollbacks != 0 {
		t.Errorf("begins=%d commits=%d rollbacks=%d", db.begins, db.commits, db.rollbacks)
	}
}

func TestWidgetRepository_PatchAborts(t *testing.T) {
	db := newFakeDB()
	w := testWidget()
	db.row = widgetRow(t, w)
	repo := NewWidgetRepository(db.txManager())
	reject := errors.New("bad patch")

	_, err := repo.Patch(context.Background(), w.ID, func(*domain.SavedWidget) error { return reject })
	if !errors.Is(err, reject) {
		t.Fatalf("Patch() error = %v, want bad patch", err)
	}
	if len(db.execs) != 0 {
		t.Error("aborted patch must not write")
	}
	if db.rollbacks != 1 || db.commits != 0 {
		t.Errorf("commits=%d rollbacks=%d", db.commits, db.rollbacks)
	}

	db.row = nil
	if _, err := repo.Patch(context.Background(), uuid.New(), func(*domain.SavedWidget) error { return nil }); codeOf(err) != apperrors.CodeNotFound {
		t.Errorf("Patch(missing) error = %v, want NOT_FOUND", err)
	}
}
