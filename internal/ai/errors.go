package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Kind classifies a failure by what the caller can do about it.
type Kind string

const (
	// KindTransient failures may succeed if retried: rate limits, quota and overload.
	KindTransient Kind = "transient"
	// KindConfiguration failures need operator action: unknown model or a bad key.
	KindConfiguration Kind = "configuration"
	// KindValidation failures mean the request itself was rejected.
	KindValidation Kind = "validation"
	KindUnknown    Kind = "unknown"
)

// ProviderError is a failure reported by a model provider.
type ProviderError struct {
	Provider ProviderType
	Kind     Kind
	Status   int
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

var transientMarkers = []string{"quota", "rate_limit", "rate limit", "resource_exhausted", "overloaded"}

// Classify maps an HTTP status and provider message to a Kind. Not-found is
// checked first so a missing model is never retried.
func Classify(status int, message string) Kind {
	lower := strings.ToLower(message)
	switch {
	case status == http.StatusNotFound || strings.Contains(lower, "requested entity was not found"):
		return KindConfiguration
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindConfiguration
	case status == http.StatusTooManyRequests,
		status == http.StatusBadGateway,
		status == http.StatusServiceUnavailable,
		status == http.StatusGatewayTimeout,
		status == 529:
		return KindTransient
	}
	for _, marker := range transientMarkers {
		if strings.Contains(lower, marker) {
			return KindTransient
		}
	}
	if status == http.StatusBadRequest {
		return KindValidation
	}
	return KindUnknown
}

// transportError wraps a failure to reach the provider at all. Network
// timeouts are transient; other transport failures are not retried.
func transportError(provider ProviderType, err error) *ProviderError {
	kind := KindUnknown
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() && !errors.Is(err, context.DeadlineExceeded) {
		kind = KindTransient
	}
	return &ProviderError{
		Provider: provider,
		Kind:     kind,
		Message:  "request failed",
		Err:      err,
	}
}

// KindOf returns the kind of the first ProviderError or EstimateError in err's chain.
func KindOf(err error) Kind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	var ee *EstimateError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return KindUnknown
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}

// Messages shown to the customer.
const (
	ConfigurationMessage = "Model configuration error. Please ensure your API key is active."
	GenericMessage       = "Something went wrong. Please check your connection."
)

// EstimateError is the terminal failure returned by Estimator.Estimate.
type EstimateError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *EstimateError) Error() string {
	return e.Message
}

func (e *EstimateError) Unwrap() error {
	return e.Err
}

// NeedsKey reports whether the operator must fix the model or key configuration.
func (e *EstimateError) NeedsKey() bool {
	return e.Kind == KindConfiguration
}
