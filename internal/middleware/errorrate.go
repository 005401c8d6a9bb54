package middleware

import (
	"net/http"

	"github.com/jkindrix/estimatebot/internal/metrics"
)

// ErrorRates counts every request and classifies failed responses into the
// tracker's sliding windows.
func ErrorRates(t *metrics.ErrorRateTracker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			t.RecordRequest()
			if category, ok := statusCategory(rw.statusCode); ok {
				t.RecordError(category)
			}
		})
	}
}

func statusCategory(status int) (metrics.ErrorCategory, bool) {
	switch {
	case status == http.StatusTooManyRequests:
		return metrics.ErrorCategoryRateLimit, true
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return metrics.ErrorCategoryValidation, true
	case status >= http.StatusInternalServerError:
		return metrics.ErrorCategoryInternal, true
	default:
		return "", false
	}
}
