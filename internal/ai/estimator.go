package ai

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jkindrix/estimatebot/internal/circuitbreaker"
	"github.com/jkindrix/estimatebot/internal/clock"
	"github.com/jkindrix/estimatebot/internal/domain"
	"github.com/jkindrix/estimatebot/internal/metrics"
	"github.com/jkindrix/estimatebot/internal/prompt"
	"github.com/jkindrix/estimatebot/internal/retry"
)

var tracer = otel.Tracer("github.com/jkindrix/estimatebot/internal/ai")

type widgetKey struct{}

// WithWidgetID tags ctx with the widget an estimate is for. It only feeds
// logs and traces.
func WithWidgetID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, widgetKey{}, id)
}

func widgetIDFrom(ctx context.Context) *uuid.UUID {
	if id, ok := ctx.Value(widgetKey{}).(uuid.UUID); ok {
		return &id
	}
	return nil
}

// Estimator turns an estimate task into a validated EstimationResult.
type Estimator struct {
	provider Provider
	breaker  *circuitbreaker.CircuitBreaker
	backoff  *retry.Backoff
	metrics  *metrics.Metrics
	events   *metrics.BusinessEventLogger
	rates    *metrics.ErrorRateTracker
	clock    clock.Clock
	logger   *zap.Logger

	retryConfig   *retry.Config
	breakerConfig *circuitbreaker.Config
}

// EstimatorOption configures an Estimator.
type EstimatorOption func(*Estimator)

// WithRetryConfig overrides the backoff schedule.
func WithRetryConfig(cfg *retry.Config) EstimatorOption {
	return func(e *Estimator) { e.retryConfig = cfg }
}

// WithBreakerConfig overrides the circuit breaker settings.
func WithBreakerConfig(cfg *circuitbreaker.Config) EstimatorOption {
	return func(e *Estimator) { e.breakerConfig = cfg }
}

// WithClock sets the clock used for backoff waits and timings.
func WithClock(c clock.Clock) EstimatorOption {
	return func(e *Estimator) { e.clock = c }
}

// WithMetrics records estimate metrics.
func WithMetrics(m *metrics.Metrics) EstimatorOption {
	return func(e *Estimator) { e.metrics = m }
}

// WithEvents logs estimate business events.
func WithEvents(l *metrics.BusinessEventLogger) EstimatorOption {
	return func(e *Estimator) { e.events = l }
}

// WithErrorRates counts failed estimates in the shared error-rate window.
func WithErrorRates(t *metrics.ErrorRateTracker) EstimatorOption {
	return func(e *Estimator) { e.rates = t }
}

// NewEstimator creates an Estimator backed by provider.
func NewEstimator(provider Provider, logger *zap.Logger, opts ...EstimatorOption) *Estimator {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Estimator{
		provider: provider,
		clock:    clock.New(),
		logger:   logger.Named("estimator"),
	}
	for _, opt := range opts {
		opt(e)
	}

	name := string(provider.Name())

	cbConfig := e.breakerConfig
	if cbConfig == nil {
		cbConfig = circuitbreaker.DefaultConfig()
	}
	cbConfig.Clock = e.clock
	// A rejected request says nothing about the provider's health.
	cbConfig.IsFailure = func(err error) bool {
		return circuitbreaker.CountsAsFailure(err) && KindOf(err) != KindValidation
	}
	m := e.metrics
	cbConfig.OnStateChange = func(service string, _, to circuitbreaker.State) {
		m.SetCircuitBreakerState(service, int(to))
	}
	e.breaker = circuitbreaker.New("ai-"+name, cbConfig, e.logger)

	e.backoff = retry.New(e.retryConfig, retryable, e.logger,
		retry.WithClock(e.clock),
		retry.WithRetryHook(func(int, time.Duration, error) {
			e.metrics.RecordEstimateRetry(name)
		}),
	)
	return e
}

// retryable retries transient provider errors. An open circuit is transient
// but waiting out the backoff inside one request would not close it.
func retryable(err error) bool {
	return IsTransient(err) && !circuitbreaker.IsRejection(err)
}

// ProviderName returns the backing provider's name.
func (e *Estimator) ProviderName() ProviderType {
	return e.provider.Name()
}

// CircuitBreakerStats returns the current circuit breaker statistics.
func (e *Estimator) CircuitBreakerStats() circuitbreaker.Stats {
	return e.breaker.Stats()
}

// IsCircuitOpen returns true if the circuit breaker is open.
func (e *Estimator) IsCircuitOpen() bool {
	return e.breaker.IsOpen()
}

// RetryStats returns backoff statistics.
func (e *Estimator) RetryStats() retry.Stats {
	return e.backoff.Stats()
}

// Estimate requests an estimate for task under cfg. Failures are returned as
// *EstimateError. Neither task nor cfg is modified.
func (e *Estimator) Estimate(ctx context.Context, task domain.EstimateTask, cfg domain.BusinessConfig) (*domain.EstimationResult, error) {
	provider := string(e.provider.Name())
	widgetID := widgetIDFrom(ctx)

	ctx, span := tracer.Start(ctx, "ai.estimate", trace.WithAttributes(
		attribute.String("ai.provider", provider),
		attribute.Bool("estimate.has_image", task.HasImage()),
		attribute.String("estimate.urgency", string(task.Urgency)),
	))
	defer span.End()
	if widgetID != nil {
		span.SetAttributes(attribute.String("widget.id", widgetID.String()))
	}

	start := e.clock.Now()
	result, err := e.estimate(ctx, task, cfg)
	duration := e.clock.Since(start)

	if err != nil {
		var estErr *EstimateError
		errors.As(err, &estErr)
		span.RecordError(err)
		span.SetStatus(codes.Error, estErr.Message)
		span.SetAttributes(attribute.String("ai.error_kind", string(estErr.Kind)))

		outcome := "failure"
		if estErr.NeedsKey() {
			outcome = "configuration"
		}
		e.metrics.RecordEstimate(provider, outcome, duration)
		e.rates.RecordError(metrics.ErrorCategoryEstimate)
		e.events.EstimateFailed(ctx, widgetID, provider, string(estErr.Kind), estErr.NeedsKey())
		e.logger.Warn("estimate failed",
			zap.String("provider", provider),
			zap.String("kind", string(estErr.Kind)),
			zap.Error(estErr.Err),
		)
		return nil, err
	}

	span.SetAttributes(attribute.String("estimate.cost_range", result.EstimatedCostRange))
	e.metrics.RecordEstimate(provider, "success", duration)
	e.events.EstimateProduced(ctx, widgetID, provider, duration, result.EstimatedCostRange)
	return result, nil
}

func (e *Estimator) estimate(ctx context.Context, task domain.EstimateTask, cfg domain.BusinessConfig) (*domain.EstimationResult, error) {
	if !task.Ready() {
		return nil, &EstimateError{Kind: KindValidation, Message: "A description and zip code are required."}
	}

	req := BuildRequest(prompt.SystemInstruction(cfg), prompt.TaskText(task), task)

	raw, err := retry.Do(ctx, e.backoff, func(ctx context.Context) (string, error) {
		return e.call(ctx, req)
	})
	if err != nil {
		return nil, terminalError(err)
	}

	result, doc, err := ParseResult(raw)
	if err != nil {
		return nil, &EstimateError{Kind: KindUnknown, Message: "The AI response could not be read.", Err: err}
	}
	if err := ValidateResult(doc); err != nil {
		return nil, &EstimateError{Kind: KindUnknown, Message: "The AI response was incomplete.", Err: err}
	}
	return result, nil
}

// call makes one provider attempt through the circuit breaker.
func (e *Estimator) call(ctx context.Context, req *Request) (string, error) {
	name := e.provider.Name()
	start := e.clock.Now()

	var out string
	err := e.breaker.Execute(ctx, func(ctx context.Context) error {
		var genErr error
		out, genErr = e.provider.Generate(ctx, req)
		return genErr
	})
	if circuitbreaker.IsRejection(err) {
		err = &ProviderError{Provider: name, Kind: KindTransient, Message: "estimates temporarily unavailable", Err: err}
	}

	kind := "ok"
	if err != nil {
		kind = string(KindOf(err))
	}
	e.metrics.RecordProviderCall(string(name), kind, e.clock.Since(start))
	return out, err
}

// terminalError converts the last provider error into the customer-facing
// EstimateError.
func terminalError(err error) *EstimateError {
	kind := KindOf(err)
	if kind == KindConfiguration {
		return &EstimateError{Kind: kind, Message: ConfigurationMessage, Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, retry.ErrContextCanceled) {
		return &EstimateError{Kind: KindUnknown, Message: "The estimate request was canceled.", Err: err}
	}
	msg := GenericMessage
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Message != "" {
		msg = pe.Message
	}
	return &EstimateError{Kind: kind, Message: msg, Err: err}
}
