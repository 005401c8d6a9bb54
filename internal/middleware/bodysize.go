package middleware

import (
	"net/http"

	apperrors "github.com/jkindrix/estimatebot/internal/errors"
)

// Body size limits.
const (
	// MaxJSONBodySize is the limit for admin and lead JSON requests (1MB).
	MaxJSONBodySize = 1 << 20

	// MaxEstimateBodySize allows a base64 photo inside the estimate task (12MB).
	MaxEstimateBodySize = 12 << 20

	// MaxUploadBodySize is the limit for price list uploads (10MB).
	MaxUploadBodySize = 10 << 20
)

// BodySizeLimiter rejects request bodies larger than maxBytes.
func BodySizeLimiter(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body == nil || r.ContentLength == 0 {
				next.ServeHTTP(w, r)
				return
			}

			if r.ContentLength > maxBytes {
				writeError(w, http.StatusRequestEntityTooLarge,
					apperrors.New(apperrors.CodeInvalidInput, "Request body too large"))
				return
			}

			// Chunked bodies have no Content-Length; cap the reader as well.
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// BodySizeLimiterJSON limits JSON API request bodies.
func BodySizeLimiterJSON() func(http.Handler) http.Handler {
	return BodySizeLimiter(MaxJSONBodySize)
}

// BodySizeLimiterEstimate limits estimate requests, which may carry a photo.
func BodySizeLimiterEstimate() func(http.Handler) http.Handler {
	return BodySizeLimiter(MaxEstimateBodySize)
}

// BodySizeLimiterUpload limits price list uploads.
func BodySizeLimiterUpload() func(http.Handler) http.Handler {
	return BodySizeLimiter(MaxUploadBodySize)
}
