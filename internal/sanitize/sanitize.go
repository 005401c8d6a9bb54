// Package sanitize masks customer contact details and provider credentials
// before they reach logs or error responses.
package sanitize

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	phonePattern = regexp.MustCompile(`\+?[1-9][\d\-\s().]{6,16}\d`)

	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

	// Covers "api_key=...", "x-goog-api-key: ..." and Gemini's "?key=..." query parameter.
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret|token|[?&]key)[=:\s"']*([\w-]{16,})`)

	bearerPattern = regexp.MustCompile(`(?i)bearer\s+[\w.-]+`)

	// Resend and OpenAI style keys.
	prefixedKeyPattern = regexp.MustCompile(`\b(re|sk|sk-proj)_[\w-]{12,}|\bsk-[\w-]{16,}`)
)

// Sanitizer masks sensitive substrings.
type Sanitizer struct {
	patterns []patternConfig
}

type patternConfig struct {
	pattern     *regexp.Regexp
	replacement func(string) string
	enabled     bool
}

// Config selects which patterns are masked.
type Config struct {
	MaskPhones       bool
	MaskEmails       bool
	MaskAPIKeys      bool
	MaskBearerTokens bool
}

// DefaultConfig returns a configuration with all masking enabled.
func DefaultConfig() Config {
	return Config{
		MaskPhones:       true,
		MaskEmails:       true,
		MaskAPIKeys:      true,
		MaskBearerTokens: true,
	}
}

// New creates a new Sanitizer with the given configuration.
func New(cfg Config) *Sanitizer {
	return &Sanitizer{
		patterns: []patternConfig{
			{pattern: bearerPattern, replacement: maskBearer, enabled: cfg.MaskBearerTokens},
			{pattern: apiKeyPattern, replacement: maskAPIKeyMatch, enabled: cfg.MaskAPIKeys},
			{pattern: prefixedKeyPattern, replacement: APIKey, enabled: cfg.MaskAPIKeys},
			{pattern: emailPattern, replacement: maskEmail, enabled: cfg.MaskEmails},
			{pattern: phonePattern, replacement: maskPhone, enabled: cfg.MaskPhones},
		},
	}
}

// NewDefault creates a sanitizer with default configuration.
func NewDefault() *Sanitizer {
	return New(DefaultConfig())
}

var defaultSanitizer = NewDefault()

// String masks all enabled patterns in input.
func (s *Sanitizer) String(input string) string {
	result := input
	for _, p := range s.patterns {
		if p.enabled {
			result = p.pattern.ReplaceAllStringFunc(result, p.replacement)
		}
	}
	return result
}

// Error sanitizes an error message.
func (s *Sanitizer) Error(err error) string {
	if err == nil {
		return ""
	}
	return s.String(err.Error())
}

// Map sanitizes string values in a map, redacting keys that name secrets.
func (s *Sanitizer) Map(input map[string]any) map[string]any {
	result := make(map[string]any, len(input))
	for k, v := range input {
		switch val := v.(type) {
		case string:
			if isSensitiveKey(k) {
				result[k] = "[REDACTED]"
			} else {
				result[k] = s.String(val)
			}
		case map[string]any:
			result[k] = s.Map(val)
		default:
			result[k] = v
		}
	}
	return result
}

func maskPhone(phone string) string {
	digits := make([]byte, 0, len(phone))
	for i := 0; i < len(phone); i++ {
		if phone[i] >= '0' && phone[i] <= '9' {
			digits = append(digits, phone[i])
		}
	}
	if len(digits) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(digits)-4) + string(digits[len(digits)-4:])
}

func maskEmail(email string) string {
	at := strings.Index(email, "@")
	if at <= 0 {
		return "[email]"
	}
	if at <= 2 {
		return email[:1] + "***" + email[at:]
	}
	return email[:2] + "***" + email[at:]
}

func maskAPIKeyMatch(match string) string {
	parts := apiKeyPattern.FindStringSubmatch(match)
	if len(parts) >= 3 {
		return strings.TrimSuffix(match, parts[2]) + "[REDACTED]"
	}
	return "[REDACTED]"
}

func maskBearer(string) string {
	return "Bearer [REDACTED]"
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, sk := range []string{"secret", "token", "api_key", "apikey", "api-key", "resendapikey", "password", "credential"} {
		if strings.Contains(lower, sk) {
			return true
		}
	}
	return false
}

// Text masks contact details and credentials in free text with the default sanitizer.
func Text(s string) string {
	return defaultSanitizer.String(s)
}

// Phone masks a phone number, keeping the last four digits.
func Phone(phone string) string {
	return maskPhone(phone)
}

// Email masks an email address.
func Email(email string) string {
	return maskEmail(email)
}

// APIKey masks an API key.
func APIKey(key string) string {
	if len(key) <= 8 {
		return "[REDACTED]"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// URL drops userinfo and query string so webhook URLs with embedded tokens
// can be logged.
func URL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "[invalid-url]"
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	// Slack and Google Apps Script put the secret in the path.
	if strings.Contains(u.Host, "hooks.slack.com") || strings.Contains(u.Host, "script.google.com") {
		u.Path = "/redacted"
	}
	return u.String()
}

// PartialName keeps a customer's first name and the initial of the last.
func PartialName(name string) string {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	default:
		return parts[0] + " " + parts[len(parts)-1][:1] + "."
	}
}
