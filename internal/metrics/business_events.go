package metrics

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jkindrix/estimatebot/internal/clock"
	"github.com/jkindrix/estimatebot/internal/sanitize"
)

// BusinessEventLogger writes searchable structured logs for business events.
// It complements the Prometheus counters with per-event detail. A nil
// logger discards events.
type BusinessEventLogger struct {
	logger *zap.Logger
	clock  clock.Clock
}

// NewBusinessEventLogger creates a new business event logger.
func NewBusinessEventLogger(logger *zap.Logger, clk clock.Clock) *BusinessEventLogger {
	if clk == nil {
		clk = clock.New()
	}
	return &BusinessEventLogger{
		logger: logger.Named("business_events"),
		clock:  clk,
	}
}

func widgetField(widgetID *uuid.UUID) zap.Field {
	if widgetID == nil {
		return zap.Skip()
	}
	return zap.String("widget_id", widgetID.String())
}

// EstimateProduced logs a completed estimate request.
func (l *BusinessEventLogger) EstimateProduced(ctx context.Context, widgetID *uuid.UUID, provider string, duration time.Duration, costRange string) {
	if l == nil {
		return
	}
	l.logger.Info("estimate_produced",
		zap.String("event_type", "estimate.produced"),
		widgetField(widgetID),
		zap.String("provider", provider),
		zap.Duration("duration", duration),
		zap.String("cost_range", costRange),
		zap.Time("timestamp", l.clock.NowUTC()),
	)
}

// EstimateFailed logs a terminal estimate failure.
func (l *BusinessEventLogger) EstimateFailed(ctx context.Context, widgetID *uuid.UUID, provider, kind string, needsKey bool) {
	if l == nil {
		return
	}
	l.logger.Warn("estimate_failed",
		zap.String("event_type", "estimate.failed"),
		widgetField(widgetID),
		zap.String("provider", provider),
		zap.String("kind", kind),
		zap.Bool("needs_key", needsKey),
		zap.Time("timestamp", l.clock.NowUTC()),
	)
}

// LeadDispatched logs a booked lead and which channels accepted it.
func (l *BusinessEventLogger) LeadDispatched(ctx context.Context, leadID uuid.UUID, widgetID *uuid.UUID, email string, delivered, failed []string) {
	if l == nil {
		return
	}
	level := l.logger.Info
	if len(failed) > 0 {
		level = l.logger.Warn
	}
	level("lead_dispatched",
		zap.String("event_type", "lead.dispatched"),
		zap.String("lead_id", leadID.String()),
		widgetField(widgetID),
		zap.String("email", sanitize.Email(email)),
		zap.Strings("delivered", delivered),
		zap.Strings("failed", failed),
		zap.Time("timestamp", l.clock.NowUTC()),
	)
}

// PricingImported logs a price list import or sheet sync.
func (l *BusinessEventLogger) PricingImported(ctx context.Context, widgetID *uuid.UUID, source string, core, addons int) {
	if l == nil {
		return
	}
	l.logger.Info("pricing_imported",
		zap.String("event_type", "pricing.imported"),
		widgetField(widgetID),
		zap.String("source", source),
		zap.Int("core_items", core),
		zap.Int("addons", addons),
		zap.Time("timestamp", l.clock.NowUTC()),
	)
}

// WidgetSaved logs a create, update or delete of a saved widget.
func (l *BusinessEventLogger) WidgetSaved(ctx context.Context, widgetID uuid.UUID, action string) {
	if l == nil {
		return
	}
	l.logger.Info("widget_saved",
		zap.String("event_type", "widget."+action),
		zap.String("widget_id", widgetID.String()),
		zap.Time("timestamp", l.clock.NowUTC()),
	)
}

// RateLimitExceeded logs when a rate limit is exceeded.
func (l *BusinessEventLogger) RateLimitExceeded(ctx context.Context, limiterType string, identifier string) {
	if l == nil {
		return
	}
	l.logger.Warn("rate_limit_exceeded",
		zap.String("event_type", "rate_limit.exceeded"),
		zap.String("limiter_type", limiterType),
		zap.String("identifier", maskIdentifier(identifier)),
		zap.Time("timestamp", l.clock.NowUTC()),
	)
}

// maskIdentifier masks an identifier such as an IP for privacy.
func maskIdentifier(id string) string {
	if len(id) <= 4 {
		return "****"
	}
	return id[:2] + "****" + id[len(id)-2:]
}
