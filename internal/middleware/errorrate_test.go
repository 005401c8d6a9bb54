package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jkindrix/estimatebot/internal/metrics"
)

func TestErrorRates(t *testing.T) {
	tracker := metrics.NewErrorRateTracker(metrics.DefaultErrorRateConfig())

	statuses := []int{
		http.StatusOK,
		http.StatusNotFound,
		http.StatusBadRequest,
		http.StatusTooManyRequests,
		http.StatusTooManyRequests,
		http.StatusBadGateway,
	}
	for _, status := range statuses {
		h := ErrorRates(tracker)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	}

	want := map[metrics.ErrorCategory]int64{
		metrics.ErrorCategoryValidation: 1,
		metrics.ErrorCategoryRateLimit:  2,
		metrics.ErrorCategoryInternal:   1,
	}
	for category, n := range want {
		if got := tracker.Count(category); got != n {
			t.Errorf("Count(%s) = %d, want %d", category, got, n)
		}
	}
	// 4 errors out of 6 requests.
	if got := tracker.ErrorPercentage(); got < 66 || got > 67 {
		t.Errorf("ErrorPercentage() = %v", got)
	}
}
