package sanitize

import (
	"errors"
	"strings"
	"testing"
)

func TestSanitizer_String_Phone(t *testing.T) {
	s := NewDefault()

	tests := []struct {
		input    string
		contains string
		leaked   string
	}{
		{"call me at +15551234567", "***4567", "5551234"},
		{"phone: (555) 123-4567 please", "4567", "123-4"},
	}
	for _, tt := range tests {
		got := s.String(tt.input)
		if !strings.Contains(got, tt.contains) {
			t.Errorf("String(%q) = %q, want it to contain %q", tt.input, got, tt.contains)
		}
		if strings.Contains(got, tt.leaked) {
			t.Errorf("String(%q) = %q leaked %q", tt.input, got, tt.leaked)
		}
	}
}

func TestSanitizer_String_Email(t *testing.T) {
	got := NewDefault().String("lead from jane.doe@example.com today")
	if strings.Contains(got, "jane.doe@") {
		t.Errorf("email not masked: %q", got)
	}
	if !strings.Contains(got, "ja***@example.com") {
		t.Errorf("unexpected mask: %q", got)
	}
}

func TestSanitizer_String_APIKeys(t *testing.T) {
	s := NewDefault()

	tests := []struct {
		name   string
		input  string
		secret string
	}{
		{"gemini query key", "POST https://generativelanguage.googleapis.com/v1beta/models/x:generateContent?key=AIzaSyA1234567890abcdef", "AIzaSyA1234567890abcdef"},
		{"api_key assignment", "api_key=abcdefghijklmnop1234", "abcdefghijklmnop1234"},
		{"bearer", "Authorization: Bearer re_abc.def.ghi", "re_abc.def.ghi"},
		{"resend key", "using re_123456789abcdefgh", "re_123456789abcdefgh"},
		{"openai key", "key sk-proj-ABCDEFGHIJKLMNOPQRSTUV", "ABCDEFGHIJKLMNOPQRSTUV"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.String(tt.input)
			if strings.Contains(got, tt.secret) {
				t.Errorf("String() = %q leaked %q", got, tt.secret)
			}
		})
	}
}

func TestSanitizer_Map(t *testing.T) {
	got := NewDefault().Map(map[string]any{
		"resendApiKey": "re_live_key",
		"email":        "bob@example.com",
		"count":        3,
		"nested":       map[string]any{"token": "x"},
	})
	if got["resendApiKey"] != "[REDACTED]" {
		t.Errorf("resendApiKey = %v", got["resendApiKey"])
	}
	if got["email"] == "bob@example.com" {
		t.Error("email should be masked")
	}
	if got["count"] != 3 {
		t.Errorf("count = %v", got["count"])
	}
	if got["nested"].(map[string]any)["token"] != "[REDACTED]" {
		t.Error("nested token should be redacted")
	}
}

func TestSanitizer_Error(t *testing.T) {
	s := NewDefault()
	if s.Error(nil) != "" {
		t.Error("nil error should sanitize to empty string")
	}
	got := s.Error(errors.New("send to bob@example.com failed"))
	if strings.Contains(got, "bob@") {
		t.Errorf("Error() = %q", got)
	}
}

func TestNew_DisabledPatterns(t *testing.T) {
	s := New(Config{MaskEmails: true})
	got := s.String("bob@example.com +15551234567")
	if !strings.Contains(got, "+15551234567") {
		t.Errorf("phone masking should be disabled: %q", got)
	}
	if strings.Contains(got, "bob@") {
		t.Errorf("email masking should be enabled: %q", got)
	}
}

func TestQuickFunctions(t *testing.T) {
	if got := Phone("555-123-4567"); got != "******4567" {
		t.Errorf("Phone() = %q", got)
	}
	if got := Phone("12"); got != "****" {
		t.Errorf("Phone(short) = %q", got)
	}
	if got := Email("al@example.com"); got != "a***@example.com" {
		t.Errorf("Email() = %q", got)
	}
	if got := Email("nope"); got != "[email]" {
		t.Errorf("Email(invalid) = %q", got)
	}
	if got := APIKey("re_1234567890"); got != "re_1...7890" {
		t.Errorf("APIKey() = %q", got)
	}
	if got := APIKey("short"); got != "[REDACTED]" {
		t.Errorf("APIKey(short) = %q", got)
	}
	if got := Text("mail bob@example.com"); strings.Contains(got, "bob@") {
		t.Errorf("Text() = %q", got)
	}
}

func TestURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://user:pw@example.com/hook?token=abc", "https://example.com/hook"},
		{"https://hooks.slack.com/services/T000/B000/XXXX", "https://hooks.slack.com/redacted"},
		{"https://script.google.com/macros/s/abc/exec", "https://script.google.com/redacted"},
		{"not a url", "[invalid-url]"},
	}
	for _, tt := range tests {
		if got := URL(tt.in); got != tt.want {
			t.Errorf("URL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPartialName(t *testing.T) {
	tests := map[string]string{
		"":                 "",
		"Cher":             "Cher",
		"Jane Doe":         "Jane D.",
		"  Mary Ann Smith ": "Mary S.",
	}
	for in, want := range tests {
		if got := PartialName(in); got != want {
			t.Errorf("PartialName(%q) = %q, want %q", in, got, want)
		}
	}
}
