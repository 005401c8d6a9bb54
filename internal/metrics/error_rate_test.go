package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/jkindrix/estimatebot/internal/clock"
)

func TestNewErrorRateTracker_Defaults(t *testing.T) {
	tracker := NewErrorRateTracker(ErrorRateConfig{})

	if tracker.config.WindowDuration != time.Minute {
		t.Errorf("expected default 1 minute window, got %v", tracker.config.WindowDuration)
	}
	if tracker.config.BucketCount != 60 {
		t.Errorf("expected default 60 buckets, got %d", tracker.config.BucketCount)
	}
}

func TestErrorRateTracker_RecordError(t *testing.T) {
	tracker := NewErrorRateTracker(ErrorRateConfig{
		WindowDuration: time.Second,
		BucketCount:    10,
		Clock:          clock.NewMock(time.Unix(0, 0)),
	})

	tracker.RecordError(ErrorCategoryDispatch)
	tracker.RecordError(ErrorCategoryDispatch)
	tracker.RecordError(ErrorCategoryEstimate)

	if count := tracker.Count(ErrorCategoryDispatch); count != 2 {
		t.Errorf("expected 2 dispatch errors, got %d", count)
	}
	if count := tracker.Count(ErrorCategoryEstimate); count != 1 {
		t.Errorf("expected 1 estimate error, got %d", count)
	}
	if count := tracker.Count(ErrorCategoryValidation); count != 0 {
		t.Errorf("expected 0 validation errors, got %d", count)
	}
	if rate := tracker.Rate(ErrorCategoryDispatch); rate != 2.0 {
		t.Errorf("expected rate 2.0, got %f", rate)
	}
}

func TestErrorRateTracker_WindowExpiry(t *testing.T) {
	clk := clock.NewMock(time.Unix(0, 0))
	tracker := NewErrorRateTracker(ErrorRateConfig{
		WindowDuration: 10 * time.Second,
		BucketCount:    10,
		Clock:          clk,
	})

	tracker.RecordError(ErrorCategoryInternal)
	clk.Advance(5 * time.Second)
	tracker.RecordError(ErrorCategoryInternal)

	if count := tracker.Count(ErrorCategoryInternal); count != 2 {
		t.Fatalf("count within window = %d, want 2", count)
	}

	clk.Advance(6 * time.Second)
	if count := tracker.Count(ErrorCategoryInternal); count != 1 {
		t.Errorf("count after first expiry = %d, want 1", count)
	}

	clk.Advance(time.Minute)
	if count := tracker.Count(ErrorCategoryInternal); count != 0 {
		t.Errorf("count after full expiry = %d, want 0", count)
	}
}

func TestErrorRateTracker_AlertCallback(t *testing.T) {
	var alerted []ErrorCategory
	tracker := NewErrorRateTracker(ErrorRateConfig{
		WindowDuration: time.Second,
		BucketCount:    10,
		AlertThreshold: 2,
		AlertCallback: func(c ErrorCategory, _ float64) {
			alerted = append(alerted, c)
		},
		Clock: clock.NewMock(time.Unix(0, 0)),
	})

	for i := 0; i < 3; i++ {
		tracker.RecordError(ErrorCategoryEstimate)
	}
	if len(alerted) != 1 || alerted[0] != ErrorCategoryEstimate {
		t.Errorf("alerts = %v, want one estimate alert", alerted)
	}
}

func TestErrorRateTracker_ErrorPercentage(t *testing.T) {
	tracker := NewErrorRateTracker(DefaultErrorRateConfig())
	if p := tracker.ErrorPercentage(); p != 0 {
		t.Errorf("empty percentage = %f", p)
	}
	for i := 0; i < 4; i++ {
		tracker.RecordRequest()
	}
	tracker.RecordError(ErrorCategoryInternal)
	if p := tracker.ErrorPercentage(); p != 25 {
		t.Errorf("percentage = %f, want 25", p)
	}
}

func TestErrorRateTracker_SnapshotAndReset(t *testing.T) {
	tracker := NewErrorRateTracker(DefaultErrorRateConfig())
	tracker.RecordError(ErrorCategoryImport)

	snap := tracker.Snapshot()
	if snap[ErrorCategoryImport].Count != 1 {
		t.Errorf("snapshot = %+v", snap)
	}

	tracker.Reset()
	if len(tracker.Snapshot()) != 0 || tracker.Count(ErrorCategoryImport) != 0 {
		t.Error("Reset did not clear counters")
	}
}

func TestErrorRateTracker_Concurrent(t *testing.T) {
	tracker := NewErrorRateTracker(DefaultErrorRateConfig())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				tracker.RecordError(ErrorCategoryDispatch)
				tracker.RecordRequest()
			}
		}()
	}
	wg.Wait()

	if count := tracker.Count(ErrorCategoryDispatch); count != 1000 {
		t.Errorf("count = %d, want 1000", count)
	}
}

func TestErrorRateTracker_NilSafe(t *testing.T) {
	var tracker *ErrorRateTracker
	tracker.RecordError(ErrorCategoryDispatch)
	tracker.RecordRequest()
}
