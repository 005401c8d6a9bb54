package pricing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jkindrix/estimatebot/internal/clock"
	"github.com/jkindrix/estimatebot/internal/domain"
)

// Fetcher retrieves CSV text for a sheet URL.
type Fetcher interface {
	Fetch(ctx context.Context, sheetURL string) (string, error)
}

// Importer syncs a saved widget's price lists from its Google Sheet.
type Importer struct {
	widgets domain.WidgetRepository
	fetcher Fetcher
	clock   clock.Clock
	logger  *zap.Logger
}

// NewImporter creates an Importer.
func NewImporter(widgets domain.WidgetRepository, fetcher Fetcher, clk clock.Clock, logger *zap.Logger) *Importer {
	if clk == nil {
		clk = clock.New()
	}
	return &Importer{
		widgets: widgets,
		fetcher: fetcher,
		clock:   clk,
		logger:  logger.Named("pricing_importer"),
	}
}

// Sync fetches the widget's sheet, replaces its core and add-on lists and
// switches it to sheet pricing. A failed fetch or parse leaves the widget untouched.
func (i *Importer) Sync(ctx context.Context, widgetID uuid.UUID) (*domain.SavedWidget, Result, error) {
	w, err := i.widgets.Get(ctx, widgetID)
	if err != nil {
		return nil, Result{}, err
	}
	if w.Config.GoogleSheetURL == "" {
		return nil, Result{}, fmt.Errorf("widget has no googleSheetUrl: %w", ErrEmptySource)
	}

	text, err := i.fetcher.Fetch(ctx, w.Config.GoogleSheetURL)
	if err != nil {
		return nil, Result{}, err
	}
	res, err := ParseCSV(text)
	if err != nil {
		return nil, Result{}, err
	}

	w.Config.CorePricingItems = res.Core
	w.Config.SmartAddons = res.Addons
	w.Config.PricingSource = domain.PricingSourceSheet
	w.Config.UseSheetData = true
	w.UpdatedAt = i.clock.NowUTC()

	if err := i.widgets.Update(ctx, w); err != nil {
		return nil, Result{}, err
	}

	i.logger.Info("price lists synced",
		zap.String("widget_id", widgetID.String()),
		zap.Int("core_items", len(res.Core)),
		zap.Int("addons", len(res.Addons)),
	)
	return w, res, nil
}
