package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jkindrix/estimatebot/internal/domain"
)

// ErrNoJSON is returned when a model response contains no JSON object.
var ErrNoJSON = errors.New("no JSON object in model response")

// ExtractJSON returns the text from the first '{' to the last '}'. Models
// sometimes wrap their JSON in prose or code fences.
func ExtractJSON(raw string) (string, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return "", ErrNoJSON
	}
	return raw[start : end+1], nil
}

// ParseResult extracts and decodes an estimate. It also returns the generic
// document for schema validation.
func ParseResult(raw string) (*domain.EstimationResult, map[string]any, error) {
	text, err := ExtractJSON(raw)
	if err != nil {
		return nil, nil, err
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, nil, fmt.Errorf("parse model response: %w", err)
	}

	var result domain.EstimationResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, doc, fmt.Errorf("decode estimate: %w", err)
	}
	return &result, doc, nil
}
