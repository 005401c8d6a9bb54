package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestEstimateTask_Ready(t *testing.T) {
	tests := []struct {
		name string
		task EstimateTask
		want bool
	}{
		{"complete", EstimateTask{Description: "Leaky faucet", ZipCode: "90210"}, true},
		{"blank description", EstimateTask{Description: "   ", ZipCode: "90210"}, false},
		{"missing zip", EstimateTask{Description: "Leaky faucet"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.task.Ready(); got != tt.want {
				t.Errorf("Ready() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEstimateTask_ImageParts(t *testing.T) {
	tests := []struct {
		name        string
		image       string
		wantMIME    string
		wantPayload string
	}{
		{"png data url", "data:image/png;base64,iVBORw0KGgo=", "image/png", "iVBORw0KGgo="},
		{"no mime header", "data:;base64,AAAA", "", "AAAA"},
		{"bare payload", "AAAA", "", "AAAA"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mime, payload := EstimateTask{Image: tt.image}.ImageParts()
			if mime != tt.wantMIME || payload != tt.wantPayload {
				t.Errorf("ImageParts() = (%q, %q), want (%q, %q)", mime, payload, tt.wantMIME, tt.wantPayload)
			}
		})
	}
}

func TestUrgency_Valid(t *testing.T) {
	for _, u := range []Urgency{UrgencySameDay, UrgencyNextDay, UrgencyWithin3Days, UrgencyFlexible} {
		if !u.Valid() {
			t.Errorf("%q should be valid", u)
		}
	}
	if Urgency("asap").Valid() {
		t.Error("unknown urgency should be invalid")
	}
}

func TestBusinessConfig_Public(t *testing.T) {
	cfg := DefaultBusinessConfig()
	cfg.GoogleSheetURL = "https://docs.google.com/spreadsheets/d/abc/edit"
	cfg.LeadGenConfig.ResendAPIKey = "re_secret"
	cfg.LeadGenConfig.TargetEmail = "owner@example.com"
	cfg.LeadGenConfig.WebhookURL = "https://hooks.example.com/x"
	cfg.LeadGenConfig.SlackWebhookURL = "https://hooks.slack.com/services/x"

	pub := cfg.Public()
	if pub.LeadGenConfig.ResendAPIKey != "" || pub.LeadGenConfig.TargetEmail != "" ||
		pub.LeadGenConfig.WebhookURL != "" || pub.LeadGenConfig.SlackWebhookURL != "" || pub.GoogleSheetURL != "" {
		t.Errorf("Public() leaked secrets: %+v", pub.LeadGenConfig)
	}
	if cfg.LeadGenConfig.ResendAPIKey != "re_secret" {
		t.Error("Public() must not mutate the receiver")
	}
	if pub.Name != cfg.Name || pub.PrimaryColor != cfg.PrimaryColor {
		t.Error("Public() should keep branding")
	}
}

func TestLeadGenConfig_Wants(t *testing.T) {
	all := LeadGenConfig{Destination: DestinationAll}
	email := LeadGenConfig{Destination: DestinationEmail}
	unset := LeadGenConfig{}

	if !all.Wants(DestinationWebhook) || !unset.Wants(DestinationSlack) {
		t.Error("all and unset destinations should want every channel")
	}
	if email.Wants(DestinationWebhook) || !email.Wants(DestinationEmail) {
		t.Error("email destination should only want email")
	}
}

func TestLeadGenConfig_LeadWebhookURLs(t *testing.T) {
	tests := []struct {
		name string
		cfg  LeadGenConfig
		want []string
	}{
		{name: "none", cfg: LeadGenConfig{}},
		{name: "generic only", cfg: LeadGenConfig{WebhookURL: "https://a"}, want: []string{"https://a"}},
		{name: "sheet only", cfg: LeadGenConfig{GoogleSheetWebhookURL: "https://b"}, want: []string{"https://b"}},
		{name: "both", cfg: LeadGenConfig{WebhookURL: "https://a", GoogleSheetWebhookURL: "https://b"}, want: []string{"https://b", "https://a"}},
		{name: "same url twice", cfg: LeadGenConfig{WebhookURL: "https://a", GoogleSheetWebhookURL: "https://a"}, want: []string{"https://a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cfg.LeadWebhookURLs()
			if len(got) != len(tt.want) {
				t.Fatalf("LeadWebhookURLs() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("url %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestBusinessConfig_JSONFieldNames(t *testing.T) {
	data, err := json.Marshal(DefaultBusinessConfig())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"primaryColor", "pricingRules", "corePricingItems", "smartAddons", "leadGenConfig", "systemPrompt"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing key %q", key)
		}
	}
	lead := raw["leadGenConfig"].(map[string]any)
	if _, ok := lead["resendApiKey"]; !ok {
		t.Error("missing leadGenConfig.resendApiKey")
	}
}

func TestNewLeadRecord(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.FixedZone("PDT", -7*3600))
	widgetID := uuid.New()
	est := &EstimationResult{EstimatedCostRange: "$150 - $250", BaseMinCost: 150, BaseMaxCost: 250, Tasks: []string{"Replace washer"}}

	rec, err := NewLeadRecord(&widgetID, LeadInfo{Name: "Jane", Email: "jane@example.com", Phone: "555"}, est, now)
	if err != nil {
		t.Fatalf("NewLeadRecord() error = %v", err)
	}
	if rec.ID == uuid.Nil {
		t.Error("expected generated ID")
	}
	if rec.CreatedAt.Location() != time.UTC {
		t.Error("CreatedAt should be UTC")
	}
	var decoded EstimationResult
	if err := json.Unmarshal(rec.EstimateJSON, &decoded); err != nil {
		t.Fatalf("estimate_json: %v", err)
	}
	if decoded.EstimatedCostRange != "$150 - $250" {
		t.Errorf("estimate_json range = %q", decoded.EstimatedCostRange)
	}

	noEst, err := NewLeadRecord(nil, LeadInfo{Name: "A"}, nil, now)
	if err != nil {
		t.Fatalf("NewLeadRecord(nil estimate) error = %v", err)
	}
	if string(noEst.EstimateJSON) != "null" {
		t.Errorf("EstimateJSON = %s, want null", noEst.EstimateJSON)
	}
}
