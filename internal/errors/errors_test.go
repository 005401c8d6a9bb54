package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "simple message",
			err:      New(CodeNotFound, "widget not found"),
			expected: "widget not found",
		},
		{
			name: "with operation",
			err: &Error{
				Code:    CodeNotFound,
				Message: "widget not found",
				Op:      "widgets.Get",
			},
			expected: "widgets.Get: widget not found",
		},
		{
			name: "with underlying error",
			err: &Error{
				Code:    CodeDatabase,
				Message: "query failed",
				Err:     errors.New("connection refused"),
			},
			expected: "query failed: connection refused",
		},
		{
			name: "with operation and underlying error",
			err: &Error{
				Code:    CodeDatabase,
				Message: "query failed",
				Op:      "leads.Create",
				Err:     errors.New("connection refused"),
			},
			expected: "leads.Create: query failed: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, expected %q", got, tt.expected)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	underlying := errors.New("root cause")
	err := Wrap(underlying, "op", CodeInternal, "wrapped")

	if !errors.Is(err, underlying) {
		t.Error("Unwrap should allow errors.Is to find underlying error")
	}
}

func TestError_Is(t *testing.T) {
	err1 := New(CodeNotFound, "resource not found")
	err2 := New(CodeNotFound, "different message")
	err3 := New(CodeModelNotFound, "model missing")

	if !errors.Is(err1, err2) {
		t.Error("errors with same code should match")
	}
	if errors.Is(err1, err3) {
		t.Error("errors with different codes should not match")
	}
}

func TestError_HTTPStatus(t *testing.T) {
	tests := []struct {
		code     Code
		expected int
	}{
		{CodeValidation, http.StatusBadRequest},
		{CodeInvalidInput, http.StatusBadRequest},
		{CodeMissingField, http.StatusBadRequest},
		{CodeImportFailed, http.StatusBadRequest},
		{CodeNotFound, http.StatusNotFound},
		{CodeSessionNotAllowed, http.StatusConflict},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeTimeout, http.StatusGatewayTimeout},
		{CodeModelNotFound, http.StatusBadGateway},
		{CodeEstimationFailed, http.StatusBadGateway},
		{CodeCircuitOpen, http.StatusBadGateway},
		{CodeInternal, http.StatusInternalServerError},
		{CodeDatabase, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := New(tt.code, "test")
			if got := err.HTTPStatus(); got != tt.expected {
				t.Errorf("HTTPStatus() = %d, expected %d", got, tt.expected)
			}
		})
	}
}

func TestError_IsRetriable(t *testing.T) {
	tests := []struct {
		code      Code
		retriable bool
	}{
		{CodeRateLimited, true},
		{CodeTimeout, true},
		{CodeCircuitOpen, true},
		{CodeModelNotFound, false},
		{CodeEstimationFailed, false},
		{CodeValidation, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := New(tt.code, "x").IsRetriable(); got != tt.retriable {
				t.Errorf("IsRetriable() = %v, expected %v", got, tt.retriable)
			}
		})
	}
}

func TestToResponse_NeedsKey(t *testing.T) {
	resp := ModelNotFound("", nil).ToResponse()
	if !resp.Error.NeedsKey {
		t.Error("model not found response should set needs_key")
	}
	if resp.Error.Message == "" {
		t.Error("expected default message")
	}

	data, err := json.Marshal(EstimationFailed("model overloaded", nil).ToResponse())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := decoded["error"]["needs_key"]; ok {
		t.Error("needs_key should be omitted for generic failures")
	}
	if decoded["error"]["message"] != "model overloaded" {
		t.Errorf("message = %v", decoded["error"]["message"])
	}
	if _, ok := decoded["error"]["retriable"]; ok {
		t.Error("retriable should be omitted for terminal failures")
	}
}

func TestToResponse_Retriable(t *testing.T) {
	resp := ErrRateLimited.ToResponse()
	if !resp.Error.Retriable || resp.Error.Code != CodeRateLimited {
		t.Errorf("response = %+v, want retriable RATE_LIMITED", resp.Error)
	}
	if NotFound("widget").ToResponse().Error.Retriable {
		t.Error("not found should not be retriable")
	}
}
