package ai

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ResultSchema returns the JSON Schema every estimate must satisfy. A fresh
// document is built on each call so providers may transform it freely.
//
// suggestedUpsells has no maxItems: the prompt asks for one or two but a
// longer list is still a usable estimate.
func ResultSchema() map[string]any {
	str := func() map[string]any { return map[string]any{"type": "string"} }
	strList := func() map[string]any {
		return map[string]any{"type": "array", "items": str()}
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"estimatedCostRange": str(),
			"baseMinCost":        map[string]any{"type": "number"},
			"baseMaxCost":        map[string]any{"type": "number"},
			"laborEstimate":      str(),
			"materialsEstimate":  str(),
			"timeEstimate":       str(),
			"tasks":              strList(),
			"recommendations":    strList(),
			"caveats":            strList(),
			"suggestedUpsells": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"label":  str(),
						"price":  str(),
						"reason": str(),
					},
				},
			},
		},
		"required": []any{"estimatedCostRange", "baseMinCost", "baseMaxCost", "laborEstimate", "tasks"},
	}
}

var resultSchema = mustCompileSchema()

func mustCompileSchema() *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(ResultSchema()))
	if err != nil {
		panic(fmt.Sprintf("ai: compile result schema: %v", err))
	}
	return s
}

// SchemaError lists the ways a model response failed the result schema.
type SchemaError struct {
	Problems []string
}

func (e *SchemaError) Error() string {
	return "estimate does not match schema: " + strings.Join(e.Problems, "; ")
}

// ValidateResult checks a decoded model response against ResultSchema.
func ValidateResult(doc map[string]any) error {
	res, err := resultSchema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("validate estimate: %w", err)
	}
	if res.Valid() {
		return nil
	}
	problems := make([]string, 0, len(res.Errors()))
	for _, desc := range res.Errors() {
		problems = append(problems, desc.String())
	}
	return &SchemaError{Problems: problems}
}
