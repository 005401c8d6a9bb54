// Package ratelimit caps AI estimate spend.
package ratelimit

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jkindrix/estimatebot/internal/clock"
	"github.com/jkindrix/estimatebot/internal/metrics"
)

// Errors for rate limiting.
var (
	ErrRateLimitExceeded       = errors.New("rate limit exceeded")
	ErrMinuteLimitExceeded     = errors.New("minute rate limit exceeded")
	ErrHourLimitExceeded       = errors.New("hour rate limit exceeded")
	ErrDayLimitExceeded        = errors.New("day rate limit exceeded")
	ErrConcurrentLimitExceeded = errors.New("concurrent request limit exceeded")
	ErrWidgetLimitExceeded     = errors.New("widget rate limit exceeded")
)

// limitError keeps the specific reason while matching ErrRateLimitExceeded.
type limitError struct{ err error }

func (e *limitError) Error() string { return e.err.Error() }
func (e *limitError) Unwrap() []error {
	return []error{e.err, ErrRateLimitExceeded}
}

// EstimateLimiterConfig holds configuration for the estimate limiter.
type EstimateLimiterConfig struct {
	MaxRequestsPerMinute int
	MaxRequestsPerHour   int
	MaxRequestsPerDay    int
	MaxConcurrent        int

	// MaxPerWidgetPerMinute is checked before the global buckets; zero disables it.
	MaxPerWidgetPerMinute int
}

// DefaultEstimateLimiterConfig returns sensible defaults for cost control.
func DefaultEstimateLimiterConfig() *EstimateLimiterConfig {
	return &EstimateLimiterConfig{
		MaxRequestsPerMinute:  30,
		MaxRequestsPerHour:    500,
		MaxRequestsPerDay:     3000,
		MaxConcurrent:         10,
		MaxPerWidgetPerMinute: 10,
	}
}

// EstimateLimiter caps model calls globally and per widget. Every successful
// Acquire must be paired with Release.
type EstimateLimiter struct {
	mu sync.RWMutex

	config EstimateLimiterConfig

	minuteBucket  *tokenBucket
	hourBucket    *tokenBucket
	dayBucket     *tokenBucket
	widgets       map[uuid.UUID]*widgetBucket
	currentActive int

	totalRequests   int64
	totalRejected   int64
	lastRejectedAt  time.Time
	rejectionReason string

	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *zap.Logger
}

type widgetBucket struct {
	bucket     *tokenBucket
	lastAccess time.Time
}

// Option configures an EstimateLimiter.
type Option func(*EstimateLimiter)

// WithClock sets the limiter's time source.
func WithClock(c clock.Clock) Option {
	return func(l *EstimateLimiter) { l.clock = c }
}

// WithMetrics records rejections and usage.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *EstimateLimiter) { l.metrics = m }
}

// NewEstimateLimiter creates a new estimate limiter.
func NewEstimateLimiter(cfg *EstimateLimiterConfig, logger *zap.Logger, opts ...Option) *EstimateLimiter {
	if cfg == nil {
		cfg = DefaultEstimateLimiterConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &EstimateLimiter{
		config:  *cfg,
		widgets: make(map[uuid.UUID]*widgetBucket),
		clock:   clock.New(),
		logger:  logger.Named("estimate_limiter"),
	}
	for _, opt := range opts {
		opt(l)
	}

	now := l.clock.Now()
	l.minuteBucket = newTokenBucket(cfg.MaxRequestsPerMinute, time.Minute, now)
	l.hourBucket = newTokenBucket(cfg.MaxRequestsPerHour, time.Hour, now)
	l.dayBucket = newTokenBucket(cfg.MaxRequestsPerDay, 24*time.Hour, now)
	return l
}

// Acquire takes a slot for one estimate for widgetID. A nil widget ID
// (config previews, the CLI) only counts against the global limits.
func (l *EstimateLimiter) Acquire(widgetID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.totalRequests++
	now := l.clock.Now()

	if l.currentActive >= l.config.MaxConcurrent {
		return l.reject("concurrent limit", now, ErrConcurrentLimitExceeded)
	}

	var wb *widgetBucket
	if widgetID != uuid.Nil && l.config.MaxPerWidgetPerMinute > 0 {
		wb = l.widgets[widgetID]
		if wb == nil {
			wb = &widgetBucket{bucket: newTokenBucket(l.config.MaxPerWidgetPerMinute, time.Minute, now)}
			l.widgets[widgetID] = wb
		}
		wb.lastAccess = now
		if !wb.bucket.tryAcquire(now) {
			return l.reject("widget limit", now, ErrWidgetLimitExceeded)
		}
	}

	rollback := func() {
		if wb != nil {
			wb.bucket.release()
		}
	}

	if !l.minuteBucket.tryAcquire(now) {
		rollback()
		return l.reject("minute limit", now, ErrMinuteLimitExceeded)
	}
	if !l.hourBucket.tryAcquire(now) {
		rollback()
		l.minuteBucket.release()
		return l.reject("hour limit", now, ErrHourLimitExceeded)
	}
	if !l.dayBucket.tryAcquire(now) {
		rollback()
		l.minuteBucket.release()
		l.hourBucket.release()
		return l.reject("day limit", now, ErrDayLimitExceeded)
	}

	l.currentActive++
	l.recordUsage()

	l.logger.Debug("estimate slot acquired",
		zap.Int("active", l.currentActive),
		zap.Int("minute_remaining", l.minuteBucket.remaining()),
		zap.Int("day_remaining", l.dayBucket.remaining()),
	)
	return nil
}

// Release frees a slot after the estimate completes.
func (l *EstimateLimiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.currentActive > 0 {
		l.currentActive--
	}
}

func (l *EstimateLimiter) reject(reason string, t time.Time, err error) error {
	l.totalRejected++
	l.lastRejectedAt = t
	l.rejectionReason = reason
	l.metrics.RecordRateLimitHit("estimate")

	l.logger.Warn("estimate rate limit exceeded",
		zap.String("reason", reason),
		zap.Int64("total_rejected", l.totalRejected),
	)
	return &limitError{err: err}
}

func (l *EstimateLimiter) recordUsage() {
	l.metrics.SetRateLimitUsage("estimate", "minute", float64(l.config.MaxRequestsPerMinute-l.minuteBucket.remaining()))
	l.metrics.SetRateLimitUsage("estimate", "hour", float64(l.config.MaxRequestsPerHour-l.hourBucket.remaining()))
	l.metrics.SetRateLimitUsage("estimate", "day", float64(l.config.MaxRequestsPerDay-l.dayBucket.remaining()))
}

// Cleanup forgets widgets not seen for maxIdle and returns how many it removed.
func (l *EstimateLimiter) Cleanup(maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	removed := 0
	for id, wb := range l.widgets {
		if now.Sub(wb.lastAccess) > maxIdle {
			delete(l.widgets, id)
			removed++
		}
	}
	return removed
}

// Stats returns current limiter statistics.
func (l *EstimateLimiter) Stats() EstimateLimiterStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	now := l.clock.Now()
	return EstimateLimiterStats{
		CurrentActive:       l.currentActive,
		MaxConcurrent:       l.config.MaxConcurrent,
		MinuteRemaining:     l.minuteBucket.remaining(),
		MinuteMax:           l.config.MaxRequestsPerMinute,
		HourRemaining:       l.hourBucket.remaining(),
		HourMax:             l.config.MaxRequestsPerHour,
		DayRemaining:        l.dayBucket.remaining(),
		DayMax:              l.config.MaxRequestsPerDay,
		TrackedWidgets:      len(l.widgets),
		TotalRequests:       l.totalRequests,
		TotalRejected:       l.totalRejected,
		LastRejectedAt:      l.lastRejectedAt,
		LastRejectionReason: l.rejectionReason,
		MinuteResetIn:       l.minuteBucket.resetIn(now),
		DayResetIn:          l.dayBucket.resetIn(now),
	}
}

// EstimateLimiterStats holds statistics about the limiter.
type EstimateLimiterStats struct {
	CurrentActive       int           `json:"current_active"`
	MaxConcurrent       int           `json:"max_concurrent"`
	MinuteRemaining     int           `json:"minute_remaining"`
	MinuteMax           int           `json:"minute_max"`
	HourRemaining       int           `json:"hour_remaining"`
	HourMax             int           `json:"hour_max"`
	DayRemaining        int           `json:"day_remaining"`
	DayMax              int           `json:"day_max"`
	TrackedWidgets      int           `json:"tracked_widgets"`
	TotalRequests       int64         `json:"total_requests"`
	TotalRejected       int64         `json:"total_rejected"`
	LastRejectedAt      time.Time     `json:"last_rejected_at,omitempty"`
	LastRejectionReason string        `json:"last_rejection_reason,omitempty"`
	MinuteResetIn       time.Duration `json:"minute_reset_in"`
	DayResetIn          time.Duration `json:"day_reset_in"`
}

// tokenBucket is a fixed window token bucket.
type tokenBucket struct {
	max       int
	period    time.Duration
	tokens    int
	lastReset time.Time
}

func newTokenBucket(maxTokens int, period time.Duration, now time.Time) *tokenBucket {
	return &tokenBucket{
		max:       maxTokens,
		period:    period,
		tokens:    maxTokens,
		lastReset: now,
	}
}

func (b *tokenBucket) tryAcquire(now time.Time) bool {
	b.refill(now)
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

func (b *tokenBucket) release() {
	if b.tokens < b.max {
		b.tokens++
	}
}

func (b *tokenBucket) remaining() int {
	return b.tokens
}

func (b *tokenBucket) resetIn(now time.Time) time.Duration {
	remaining := b.period - now.Sub(b.lastReset)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (b *tokenBucket) refill(now time.Time) {
	if now.Sub(b.lastReset) >= b.period {
		b.tokens = b.max
		b.lastReset = now
	}
}
