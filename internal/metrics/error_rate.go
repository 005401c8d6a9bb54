package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jkindrix/estimatebot/internal/clock"
)

// ErrorCategory groups errors for rate tracking.
type ErrorCategory string

const (
	ErrorCategoryEstimate   ErrorCategory = "estimate"
	ErrorCategoryDispatch   ErrorCategory = "dispatch"
	ErrorCategoryValidation ErrorCategory = "validation"
	ErrorCategoryImport     ErrorCategory = "import"
	ErrorCategoryRateLimit  ErrorCategory = "rate_limit"
	ErrorCategoryInternal   ErrorCategory = "internal"
)

// ErrorRateConfig configures the error rate tracker.
type ErrorRateConfig struct {
	// WindowDuration is the time window for rate calculation (default: 1 minute)
	WindowDuration time.Duration

	// BucketCount is the number of buckets within the window (default: 60)
	BucketCount int

	// AlertThreshold is the error rate (errors/second) that triggers AlertCallback.
	AlertThreshold float64

	AlertCallback func(category ErrorCategory, rate float64)

	Clock clock.Clock
}

// DefaultErrorRateConfig returns sensible defaults.
func DefaultErrorRateConfig() ErrorRateConfig {
	return ErrorRateConfig{
		WindowDuration: time.Minute,
		BucketCount:    60,
		AlertThreshold: 10.0,
	}
}

// ErrorRateTracker tracks error rates per category over a sliding window.
type ErrorRateTracker struct {
	config   ErrorRateConfig
	counters map[ErrorCategory]*slidingWindow
	mu       sync.RWMutex

	totalErrors   atomic.Int64
	totalRequests atomic.Int64
}

// NewErrorRateTracker creates a new error rate tracker.
func NewErrorRateTracker(config ErrorRateConfig) *ErrorRateTracker {
	if config.WindowDuration == 0 {
		config.WindowDuration = time.Minute
	}
	if config.BucketCount == 0 {
		config.BucketCount = 60
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}

	return &ErrorRateTracker{
		config:   config,
		counters: make(map[ErrorCategory]*slidingWindow),
	}
}

// RecordError records an error in the specified category.
func (t *ErrorRateTracker) RecordError(category ErrorCategory) {
	if t == nil {
		return
	}
	t.totalErrors.Add(1)
	t.getOrCreateWindow(category).increment()

	if t.config.AlertCallback != nil && t.config.AlertThreshold > 0 {
		if rate := t.Rate(category); rate > t.config.AlertThreshold {
			t.config.AlertCallback(category, rate)
		}
	}
}

// RecordRequest records a request (for calculating error percentage).
func (t *ErrorRateTracker) RecordRequest() {
	if t == nil {
		return
	}
	t.totalRequests.Add(1)
}

// Rate returns the current error rate (errors per second) for a category.
func (t *ErrorRateTracker) Rate(category ErrorCategory) float64 {
	return float64(t.Count(category)) / t.config.WindowDuration.Seconds()
}

// Count returns the error count in the current window for a category.
func (t *ErrorRateTracker) Count(category ErrorCategory) int64 {
	t.mu.RLock()
	window, ok := t.counters[category]
	t.mu.RUnlock()

	if !ok {
		return 0
	}
	return window.count()
}

// ErrorPercentage returns the percentage of requests that resulted in errors.
// Returns 0 if no requests have been recorded.
func (t *ErrorRateTracker) ErrorPercentage() float64 {
	requests := t.totalRequests.Load()
	if requests == 0 {
		return 0
	}
	return (float64(t.totalErrors.Load()) / float64(requests)) * 100
}

// ErrorRateSnapshot represents a point-in-time error rate for a category.
type ErrorRateSnapshot struct {
	Category ErrorCategory `json:"category"`
	Count    int64         `json:"count"`
	Rate     float64       `json:"rate_per_second"`
}

// Snapshot returns a point-in-time snapshot of all error rates.
func (t *ErrorRateTracker) Snapshot() map[ErrorCategory]ErrorRateSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[ErrorCategory]ErrorRateSnapshot, len(t.counters))
	for category, window := range t.counters {
		count := window.count()
		result[category] = ErrorRateSnapshot{
			Category: category,
			Count:    count,
			Rate:     float64(count) / t.config.WindowDuration.Seconds(),
		}
	}
	return result
}

// Reset clears all error counters.
func (t *ErrorRateTracker) Reset() {
	t.mu.Lock()
	t.counters = make(map[ErrorCategory]*slidingWindow)
	t.mu.Unlock()

	t.totalErrors.Store(0)
	t.totalRequests.Store(0)
}

func (t *ErrorRateTracker) getOrCreateWindow(category ErrorCategory) *slidingWindow {
	t.mu.RLock()
	window, ok := t.counters[category]
	t.mu.RUnlock()
	if ok {
		return window
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if window, ok = t.counters[category]; ok {
		return window
	}
	window = newSlidingWindow(t.config.WindowDuration, t.config.BucketCount, t.config.Clock)
	t.counters[category] = window
	return window
}

// slidingWindow implements a time-based sliding window counter.
type slidingWindow struct {
	mu           sync.Mutex
	buckets      []int64
	bucketDur    time.Duration
	currentIndex int
	lastUpdate   time.Time
	clock        clock.Clock
}

func newSlidingWindow(windowDur time.Duration, bucketCount int, clk clock.Clock) *slidingWindow {
	return &slidingWindow{
		buckets:    make([]int64, bucketCount),
		bucketDur:  windowDur / time.Duration(bucketCount),
		lastUpdate: clk.Now(),
		clock:      clk,
	}
}

func (w *slidingWindow) increment() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.rotate()
	w.buckets[w.currentIndex]++
}

func (w *slidingWindow) count() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.rotate()

	var total int64
	for _, count := range w.buckets {
		total += count
	}
	return total
}

// rotate advances the window, clearing buckets that have aged out.
func (w *slidingWindow) rotate() {
	now := w.clock.Now()
	bucketsPassed := int(now.Sub(w.lastUpdate) / w.bucketDur)
	if bucketsPassed <= 0 {
		return
	}
	if bucketsPassed > len(w.buckets) {
		bucketsPassed = len(w.buckets)
	}
	for i := 0; i < bucketsPassed; i++ {
		w.currentIndex = (w.currentIndex + 1) % len(w.buckets)
		w.buckets[w.currentIndex] = 0
	}
	w.lastUpdate = w.lastUpdate.Add(time.Duration(bucketsPassed) * w.bucketDur)
	if now.Sub(w.lastUpdate) >= w.bucketDur {
		w.lastUpdate = now
	}
}
