package pricing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestExportURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{
			"https://docs.google.com/spreadsheets/d/abc123_-X/edit#gid=42",
			"https://docs.google.com/spreadsheets/d/abc123_-X/export?format=csv&gid=42",
		},
		{
			"https://docs.google.com/spreadsheets/d/abc/edit?usp=sharing",
			"https://docs.google.com/spreadsheets/d/abc/export?format=csv",
		},
		{
			"https://docs.google.com/spreadsheets/d/e/2PACX/pub?output=csv",
			"https://docs.google.com/spreadsheets/d/e/2PACX/pub?output=csv",
		},
		{"https://example.com/prices.csv", "https://example.com/prices.csv"},
	}
	for _, tt := range tests {
		if got := ExportURL(tt.in); got != tt.want {
			t.Errorf("ExportURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSheetFetcher_Fetch(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantErr  error
		wantBody string
	}{
		{"csv", http.StatusOK, "type,label,price\ncore,A,$1\n", nil, "type,label,price\ncore,A,$1\n"},
		{"login page", http.StatusOK, "<!DOCTYPE html><html><head><title>Sign in</title></head><body></body></html>", ErrNotPublic, ""},
		{"forbidden", http.StatusForbidden, "", ErrNotPublic, ""},
		{"empty", http.StatusOK, "  \n", ErrEmptySource, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			f := NewSheetFetcher(srv.Client(), zap.NewNop())
			got, err := f.Fetch(context.Background(), srv.URL+"/sheet.csv")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Fetch() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
			if got != tt.wantBody {
				t.Errorf("Fetch() = %q, want %q", got, tt.wantBody)
			}
		})
	}
}

func TestSheetFetcher_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewSheetFetcher(srv.Client(), zap.NewNop()).Fetch(context.Background(), srv.URL)
	if err == nil || errors.Is(err, ErrNotPublic) {
		t.Errorf("Fetch() error = %v, want plain status error", err)
	}
}
