// Package validation provides input validation for widget, estimate and lead requests.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/jkindrix/estimatebot/internal/domain"
)

// ValidationError represents a validation failure with field context.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// FieldErrors returns errors for a specific field.
func (e ValidationErrors) FieldErrors(field string) ValidationErrors {
	var result ValidationErrors
	for _, err := range e {
		if err.Field == field {
			result = append(result, err)
		}
	}
	return result
}

// Error codes for validation failures.
const (
	CodeRequired      = "required"
	CodeInvalidFormat = "invalid_format"
	CodeTooLong       = "too_long"
	CodeInvalidValue  = "invalid_value"
	CodeDuplicate     = "duplicate"
	CodeMalicious     = "malicious_content"
)

// structValidator is shared; validator.Validate caches struct metadata and is safe for concurrent use.
var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names so errors line up with request bodies.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// Validator accumulates validation errors.
type Validator struct {
	errors ValidationErrors
}

// New creates a new Validator.
func New() *Validator {
	return &Validator{}
}

// Errors returns all accumulated validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

// IsValid returns true if no validation errors occurred.
func (v *Validator) IsValid() bool {
	return len(v.errors) == 0
}

// Err returns the accumulated errors as an error, or nil.
func (v *Validator) Err() error {
	if v.IsValid() {
		return nil
	}
	return v.errors
}

// AddError adds a validation error.
func (v *Validator) AddError(field, message, code string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Message: message,
		Code:    code,
	})
}

// Struct runs the struct's `validate` tags and records each failure.
func (v *Validator) Struct(s any) bool {
	err := structValidator.Struct(s)
	if err == nil {
		return true
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		v.AddError("", err.Error(), CodeInvalidValue)
		return false
	}
	for _, fe := range fieldErrs {
		v.AddError(fe.Field(), tagMessage(fe), tagCode(fe.Tag()))
	}
	return false
}

func tagCode(tag string) string {
	switch tag {
	case "required":
		return CodeRequired
	case "max":
		return CodeTooLong
	case "email", "url", "hexcolor":
		return CodeInvalidFormat
	default:
		return CodeInvalidValue
	}
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "email":
		return "must be a valid email address"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

// Required validates that a string field is not empty.
func (v *Validator) Required(field, value string) bool {
	if strings.TrimSpace(value) == "" {
		v.AddError(field, "is required", CodeRequired)
		return false
	}
	return true
}

// MaxLength validates string length doesn't exceed maximum.
func (v *Validator) MaxLength(field, value string, maxLen int) bool {
	if utf8.RuneCountInString(value) > maxLen {
		v.AddError(field, fmt.Sprintf("must be at most %d characters", maxLen), CodeTooLong)
		return false
	}
	return true
}

// urlRegex matches http/https URLs.
var urlRegex = regexp.MustCompile(`^https?://[^\s/$.?#].\S*$`)

// URL validates a URL format.
func (v *Validator) URL(field, value string) bool {
	if value == "" {
		return true
	}
	if !urlRegex.MatchString(value) {
		v.AddError(field, "must be a valid URL", CodeInvalidFormat)
		return false
	}
	return true
}

var hexColorRegex = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// HexColor validates a CSS hex color such as "#f97316".
func (v *Validator) HexColor(field, value string) bool {
	if value == "" {
		return true
	}
	if !hexColorRegex.MatchString(value) {
		v.AddError(field, "must be a hex color like #f97316", CodeInvalidFormat)
		return false
	}
	return true
}

// OneOf validates that value is one of the allowed values.
func (v *Validator) OneOf(field, value string, allowed []string) bool {
	if value == "" {
		return true
	}
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	v.AddError(field, fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")), CodeInvalidValue)
	return false
}

// NoScriptTags validates that the value doesn't contain script tags.
func (v *Validator) NoScriptTags(field, value string) bool {
	lower := strings.ToLower(value)
	if strings.Contains(lower, "<script") || strings.Contains(lower, "javascript:") {
		v.AddError(field, "contains potentially malicious content", CodeMalicious)
		return false
	}
	return true
}

// SafeString validates a string is safe for display (no control characters except newlines).
func (v *Validator) SafeString(field, value string) bool {
	for _, r := range value {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			v.AddError(field, "contains invalid control characters", CodeMalicious)
			return false
		}
	}
	return true
}

// EstimateTask validates a customer's estimate request before any model call.
func EstimateTask(task domain.EstimateTask) ValidationErrors {
	v := New()
	v.Required("description", task.Description)
	v.Required("zipCode", task.ZipCode)
	v.Struct(task)
	v.SafeString("description", task.Description)
	if task.HasImage() {
		if _, payload := task.ImageParts(); payload == "" {
			v.AddError("image", "must be a base64 data URL", CodeInvalidFormat)
		}
	}
	return dedupe(v.Errors())
}

// Lead validates the lead form. Name, email and phone are always required;
// other fields are required when the widget's field settings say so.
func Lead(lead domain.LeadInfo, fields domain.LeadFields) ValidationErrors {
	v := New()
	v.Required("name", lead.Name)
	v.Required("email", lead.Email)
	v.Required("phone", lead.Phone)
	v.Struct(lead)
	if fields.Notes.Visible && fields.Notes.Required {
		v.Required("notes", lead.Notes)
	}
	if fields.Date.Visible && fields.Date.Required {
		v.Required("date", lead.Date)
	}
	if fields.Time.Visible && fields.Time.Required {
		v.Required("time", lead.Time)
	}
	for field, value := range map[string]string{"name": lead.Name, "notes": lead.Notes} {
		v.NoScriptTags(field, value)
	}
	return dedupe(v.Errors())
}

// BusinessConfig validates an operator-authored widget configuration.
func BusinessConfig(cfg domain.BusinessConfig) ValidationErrors {
	v := New()
	v.Required("name", cfg.Name)
	v.MaxLength("name", cfg.Name, 200)
	v.HexColor("primaryColor", cfg.PrimaryColor)
	v.OneOf("pricingSource", string(cfg.PricingSource), []string{
		string(domain.PricingSourceManual), string(domain.PricingSourceSheet),
	})
	v.OneOf("widgetIcon", string(cfg.WidgetIcon), []string{
		string(domain.IconCalculator), string(domain.IconWrench), string(domain.IconHome),
		string(domain.IconSparkles), string(domain.IconChat),
	})
	v.OneOf("leadGenConfig.destination", string(cfg.LeadGenConfig.Destination), []string{
		string(domain.DestinationEmail), string(domain.DestinationWebhook),
		string(domain.DestinationSlack), string(domain.DestinationAll),
	})
	v.URL("googleSheetUrl", cfg.GoogleSheetURL)
	v.URL("leadGenConfig.webhookUrl", cfg.LeadGenConfig.WebhookURL)
	v.URL("leadGenConfig.googleSheetWebhookUrl", cfg.LeadGenConfig.GoogleSheetWebhookURL)
	v.URL("leadGenConfig.slackWebhookUrl", cfg.LeadGenConfig.SlackWebhookURL)
	v.MaxLength("systemPrompt", cfg.SystemPrompt, 20000)
	v.MaxLength("pricingRules", cfg.PricingRules, 20000)
	uniqueIDs(v, "corePricingItems", cfg.CorePricingItems)
	uniqueIDs(v, "smartAddons", cfg.SmartAddons)
	return v.Errors()
}

func uniqueIDs(v *Validator, field string, items []domain.PriceItem) {
	seen := make(map[string]bool, len(items))
	for i, item := range items {
		if item.ID == "" {
			continue
		}
		if seen[item.ID] {
			v.AddError(fmt.Sprintf("%s[%d].id", field, i), fmt.Sprintf("duplicate id %q", item.ID), CodeDuplicate)
			continue
		}
		seen[item.ID] = true
	}
}

// dedupe drops repeat errors for the same field and code, which happen when
// a manual check and a struct tag both flag a field.
func dedupe(errs ValidationErrors) ValidationErrors {
	if len(errs) < 2 {
		return errs
	}
	seen := make(map[string]bool, len(errs))
	out := errs[:0]
	for _, e := range errs {
		key := e.Field + "|" + e.Code
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}

// PaginationConfig contains constraints for list limits.
type PaginationConfig struct {
	MaxLimit     int
	DefaultLimit int
}

// DefaultPaginationConfig returns sensible defaults for pagination.
func DefaultPaginationConfig() *PaginationConfig {
	return &PaginationConfig{
		MaxLimit:     500,
		DefaultLimit: 50,
	}
}

// NormalizeLimit clamps limit into the configured range.
func NormalizeLimit(limit int, cfg *PaginationConfig) int {
	if cfg == nil {
		cfg = DefaultPaginationConfig()
	}
	if limit <= 0 {
		return cfg.DefaultLimit
	}
	if limit > cfg.MaxLimit {
		return cfg.MaxLimit
	}
	return limit
}
