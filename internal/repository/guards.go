package repository

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/jkindrix/estimatebot/internal/errors"
)

// MaxListLimit caps every list query.
const MaxListLimit = 500

// ValidationResult collects guard failures so a repository can reject bad
// input before touching the database.
type ValidationResult struct {
	errors []error
}

// Validate returns a new ValidationResult for fluent validation.
func Validate() *ValidationResult {
	return &ValidationResult{}
}

// RequireUUID fails when id is the nil UUID.
func (v *ValidationResult) RequireUUID(id uuid.UUID, field string) *ValidationResult {
	if id == uuid.Nil {
		v.errors = append(v.errors, apperrors.MissingField(field))
	}
	return v
}

// RequireString fails when s is blank.
func (v *ValidationResult) RequireString(s string, field string) *ValidationResult {
	if strings.TrimSpace(s) == "" {
		v.errors = append(v.errors, apperrors.MissingField(field))
	}
	return v
}

// RequireMaxLength fails when s is longer than maxLen bytes.
func (v *ValidationResult) RequireMaxLength(s string, maxLen int, field string) *ValidationResult {
	if len(s) > maxLen {
		v.errors = append(v.errors, apperrors.ValidationFailed(fmt.Sprintf("%s must not exceed %d characters", field, maxLen)))
	}
	return v
}

// RequireInRange fails when n is outside [lo, hi].
func (v *ValidationResult) RequireInRange(n, lo, hi int, field string) *ValidationResult {
	if n < lo || n > hi {
		v.errors = append(v.errors, apperrors.ValidationFailed(fmt.Sprintf("%s must be between %d and %d", field, lo, hi)))
	}
	return v
}

// Check records message for field when condition is false.
func (v *ValidationResult) Check(condition bool, field, message string) *ValidationResult {
	if !condition {
		v.errors = append(v.errors, apperrors.ValidationFailed(fmt.Sprintf("%s %s", field, message)))
	}
	return v
}

// HasErrors returns true if there are any validation errors.
func (v *ValidationResult) HasErrors() bool {
	return len(v.errors) > 0
}

// Count returns the number of validation errors.
func (v *ValidationResult) Count() int {
	return len(v.errors)
}

// Error returns nil, the single failure, or a VALIDATION_FAILED error joining
// every message.
func (v *ValidationResult) Error() error {
	switch len(v.errors) {
	case 0:
		return nil
	case 1:
		return v.errors[0]
	}
	messages := make([]string, len(v.errors))
	for i, err := range v.errors {
		messages[i] = err.Error()
	}
	return apperrors.ValidationFailed("validation errors: " + strings.Join(messages, "; "))
}
