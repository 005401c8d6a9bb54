// Package retry provides exponential backoff for calls to hosted AI models.
// Whether an error is worth retrying is decided by an injected Classifier,
// so callers decide on typed error kinds rather than on message text.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jkindrix/estimatebot/internal/clock"
)

// Config configures exponential backoff behavior.
type Config struct {
	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps any single wait. Zero means uncapped.
	MaxDelay time.Duration

	// Multiplier is applied to the delay after each retry.
	Multiplier float64

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// Jitter adds randomness to delays, 0.0 to 1.0 (0.1 = +/- 10%).
	Jitter float64
}

// DefaultConfig waits 3s, 6s, then 12s before giving up.
func DefaultConfig() *Config {
	return &Config{
		InitialDelay: 3 * time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2.0,
		MaxRetries:   3,
	}
}

// Classifier reports whether err is transient.
type Classifier func(err error) bool

// RetryHook is called before each wait.
type RetryHook func(attempt int, delay time.Duration, err error)

var (
	ErrContextCanceled = errors.New("context canceled during backoff")
)

// ExhaustedError is returned once every retry has failed. It unwraps to the last error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Backoff runs operations with exponential backoff.
type Backoff struct {
	config   *Config
	classify Classifier
	clock    clock.Clock
	onRetry  RetryHook
	logger   *zap.Logger

	mu    sync.RWMutex
	stats Stats
}

// Stats tracks retry statistics.
type Stats struct {
	TotalAttempts     int64         `json:"total_attempts"`
	TotalRetries      int64         `json:"total_retries"`
	SuccessfulRetries int64         `json:"successful_retries"`
	ExhaustedRetries  int64         `json:"exhausted_retries"`
	TotalDelayTime    time.Duration `json:"total_delay_time"`
	MaxDelayUsed      time.Duration `json:"max_delay_used"`
}

// Option configures a Backoff.
type Option func(*Backoff)

// WithClock sets the clock used for waits.
func WithClock(c clock.Clock) Option {
	return func(b *Backoff) {
		b.clock = c
	}
}

// WithRetryHook registers a hook called before each wait.
func WithRetryHook(h RetryHook) Option {
	return func(b *Backoff) {
		b.onRetry = h
	}
}

// New creates a Backoff. A nil classifier retries nothing.
func New(cfg *Config, classify Classifier, logger *zap.Logger, opts ...Option) *Backoff {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if classify == nil {
		classify = func(error) bool { return false }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Backoff{
		config:   cfg,
		classify: classify,
		clock:    clock.New(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Do runs op until it succeeds, returns a non-transient error, or runs out of retries.
// Non-transient errors are returned unchanged.
func Do[T any](ctx context.Context, b *Backoff, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	for attempt := 0; ; attempt++ {
		b.mu.Lock()
		b.stats.TotalAttempts++
		b.mu.Unlock()

		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%w: %v", ErrContextCanceled, err)
		}

		result, err := op(ctx)
		if err == nil {
			if attempt > 0 {
				b.mu.Lock()
				b.stats.SuccessfulRetries++
				b.mu.Unlock()

				b.logger.Info("operation succeeded after retry",
					zap.Int("attempts", attempt+1),
				)
			}
			return result, nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		if !b.classify(err) {
			return zero, err
		}
		if attempt >= b.config.MaxRetries {
			b.mu.Lock()
			b.stats.ExhaustedRetries++
			b.mu.Unlock()
			return zero, &ExhaustedError{Attempts: attempt + 1, Err: err}
		}

		delay := b.Delay(attempt)

		b.mu.Lock()
		b.stats.TotalRetries++
		b.stats.TotalDelayTime += delay
		if delay > b.stats.MaxDelayUsed {
			b.stats.MaxDelayUsed = delay
		}
		b.mu.Unlock()

		b.logger.Warn("transient failure, retrying with backoff",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
		)
		if b.onRetry != nil {
			b.onRetry(attempt+1, delay, err)
		}

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("%w: %v", ErrContextCanceled, ctx.Err())
		case <-b.clock.After(delay):
		}
	}
}

// Delay returns the wait before retry number attempt+1.
func (b *Backoff) Delay(attempt int) time.Duration {
	delay := float64(b.config.InitialDelay) * math.Pow(b.config.Multiplier, float64(attempt))

	if b.config.Jitter > 0 {
		jitterRange := delay * b.config.Jitter
		delay += (rand.Float64()*2 - 1) * jitterRange
	}

	if b.config.MaxDelay > 0 && delay > float64(b.config.MaxDelay) {
		delay = float64(b.config.MaxDelay)
	}

	return time.Duration(delay)
}

// Stats returns current backoff statistics.
func (b *Backoff) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stats
}
