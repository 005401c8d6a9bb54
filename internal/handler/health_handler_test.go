package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/jkindrix/estimatebot/internal/ai"
	"github.com/jkindrix/estimatebot/internal/metrics"
)

// mockHealthChecker implements HealthChecker for testing
type mockHealthChecker struct {
	pingErr error
}

func (m *mockHealthChecker) Ping(ctx context.Context) error {
	return m.pingErr
}

// mockAIHealthChecker implements AIHealthChecker for testing
type mockAIHealthChecker struct {
	circuitOpen bool
}

func (m *mockAIHealthChecker) IsCircuitOpen() bool {
	return m.circuitOpen
}

type mockProviders []ai.ProviderStatus

func (m mockProviders) HealthStatus() []ai.ProviderStatus {
	return m
}

func decodeHealth(t *testing.T, rr *httptest.ResponseRecorder) HealthResponse {
	t.Helper()
	var resp HealthResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func TestNewHealthHandler_RequiresLogger(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic without logger")
		}
	}()
	NewHealthHandler(HealthHandlerConfig{})
}

func TestHealthHandler_HandleLiveness(t *testing.T) {
	h := NewHealthHandler(HealthHandlerConfig{Logger: zap.NewNop()})

	rr := httptest.NewRecorder()
	h.HandleLiveness(rr, httptest.NewRequest(http.MethodGet, "/health/live", http.NoBody))

	if rr.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if rr.Body.String() != "alive" {
		t.Errorf("expected body 'alive', got %q", rr.Body.String())
	}
}

func TestHealthHandler_HandleReadiness(t *testing.T) {
	tests := []struct {
		name      string
		database  HealthChecker
		readiness HealthChecker
		want      int
	}{
		{"no checkers", nil, nil, http.StatusOK},
		{"healthy database", &mockHealthChecker{}, &mockHealthChecker{}, http.StatusOK},
		{"database down", &mockHealthChecker{pingErr: errors.New("database error")}, nil, http.StatusServiceUnavailable},
		{"shutting down", &mockHealthChecker{}, &mockHealthChecker{pingErr: errors.New("server is shutting down")}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(HealthHandlerConfig{
				Database:  tt.database,
				Readiness: tt.readiness,
				Logger:    zap.NewNop(),
			})
			rr := httptest.NewRecorder()
			h.HandleReadiness(rr, httptest.NewRequest(http.MethodGet, "/health/ready", http.NoBody))
			if rr.Code != tt.want {
				t.Errorf("expected status %d, got %d", tt.want, rr.Code)
			}
		})
	}
}

func TestHealthHandler_HandleHealth_AllHealthy(t *testing.T) {
	h := NewHealthHandler(HealthHandlerConfig{
		Database:  &mockHealthChecker{},
		Cache:     &mockHealthChecker{},
		AI:        &mockAIHealthChecker{},
		Providers: mockProviders{{Name: ai.ProviderGemini, IsPrimary: true}},
		Version:   "1.2.3",
		Logger:    zap.NewNop(),
	})

	rr := httptest.NewRecorder()
	h.HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	if rr.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	resp := decodeHealth(t, rr)
	if resp.Status != "ok" {
		t.Errorf("expected status 'ok', got %q", resp.Status)
	}
	if resp.Version != "1.2.3" {
		t.Errorf("version = %q", resp.Version)
	}
	for _, name := range []string{"database", "cache", "ai_service"} {
		if resp.Checks[name].Status != "healthy" {
			t.Errorf("expected %s healthy, got %q", name, resp.Checks[name].Status)
		}
	}
	if len(resp.Providers) != 1 || !resp.Providers[0].IsPrimary {
		t.Errorf("providers = %+v", resp.Providers)
	}
}

func TestHealthHandler_HandleHealth_DatabaseUnhealthy(t *testing.T) {
	h := NewHealthHandler(HealthHandlerConfig{
		Database: &mockHealthChecker{pingErr: errors.New("connection refused")},
		AI:       &mockAIHealthChecker{circuitOpen: true},
		Logger:   zap.NewNop(),
	})

	rr := httptest.NewRecorder()
	h.HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, rr.Code)
	}
	resp := decodeHealth(t, rr)
	if resp.Status != "unhealthy" {
		t.Errorf("expected status 'unhealthy', got %q", resp.Status)
	}
	if resp.Checks["database"].Message != "connection refused" {
		t.Errorf("database message = %q", resp.Checks["database"].Message)
	}
}

func TestHealthHandler_HandleHealth_Degraded(t *testing.T) {
	tests := []struct {
		name  string
		cfg   HealthHandlerConfig
		check string
	}{
		{
			name:  "AI circuit open",
			cfg:   HealthHandlerConfig{Database: &mockHealthChecker{}, AI: &mockAIHealthChecker{circuitOpen: true}},
			check: "ai_service",
		},
		{
			name:  "cache down",
			cfg:   HealthHandlerConfig{Database: &mockHealthChecker{}, Cache: &mockHealthChecker{pingErr: errors.New("dial tcp: refused")}},
			check: "cache",
		},
		{
			name:  "no providers",
			cfg:   HealthHandlerConfig{Providers: mockProviders{}},
			check: "ai_providers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Logger = zap.NewNop()
			h := NewHealthHandler(tt.cfg)

			rr := httptest.NewRecorder()
			h.HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

			// Degraded still answers 200 so the service stays in rotation.
			if rr.Code != http.StatusOK {
				t.Errorf("expected status %d, got %d", http.StatusOK, rr.Code)
			}
			resp := decodeHealth(t, rr)
			if resp.Status != "degraded" {
				t.Errorf("expected status 'degraded', got %q", resp.Status)
			}
			if resp.Checks[tt.check].Status != "degraded" {
				t.Errorf("expected %s degraded, got %+v", tt.check, resp.Checks)
			}
		})
	}
}

func TestHealthHandler_HandleHealth_NoCheckers(t *testing.T) {
	h := NewHealthHandler(HealthHandlerConfig{Logger: zap.NewNop()})

	rr := httptest.NewRecorder()
	h.HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	if rr.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if resp := decodeHealth(t, rr); resp.Status != "ok" || resp.Version != "dev" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHealthHandler_HandleHealth_ErrorRates(t *testing.T) {
	rates := metrics.NewErrorRateTracker(metrics.DefaultErrorRateConfig())
	rates.RecordRequest()
	rates.RecordRequest()
	rates.RecordError(metrics.ErrorCategoryEstimate)

	h := NewHealthHandler(HealthHandlerConfig{ErrorRates: rates, Logger: zap.NewNop()})
	rr := httptest.NewRecorder()
	h.HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	resp := decodeHealth(t, rr)
	if resp.Errors == nil {
		t.Fatal("missing error rates")
	}
	if resp.Errors.Percentage != 50 {
		t.Errorf("percentage = %v", resp.Errors.Percentage)
	}
	if got := resp.Errors.Categories[metrics.ErrorCategoryEstimate].Count; got != 1 {
		t.Errorf("estimate count = %d", got)
	}
	if resp.Status != "ok" {
		t.Errorf("error rates should not change status, got %q", resp.Status)
	}
}
