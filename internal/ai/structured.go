// internal/ai/structured.go
// Strict parse boundary for structured model output. The model is asked for
// bare JSON but routinely wraps it in markdown fences or prose, so we carve
// out the outermost object, validate it against a compiled JSON schema, and
// only then unmarshal. Anything that fails any stage is ErrBadResponse; no
// partially-valid output ever reaches the workflow.
package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var (
	severitySchema = mustCompile(`{
		"type": "object",
		"required": ["severity", "recommendClaim", "reasoning"],
		"properties": {
			"severity": {"type": "string", "enum": ["low", "medium", "high"]},
			"recommendClaim": {"type": "boolean"},
			"reasoning": {"type": "string", "maxLength": 2048}
		}
	}`)

	emailSchema = mustCompile(`{
		"type": "object",
		"required": ["subject", "body"],
		"properties": {
			"subject": {"type": "string", "minLength": 1, "maxLength": 512},
			"body": {"type": "string", "minLength": 1},
			"severity": {"type": "string"}
		}
	}`)

	stepsSchema = mustCompile(`{
		"type": "object",
		"required": ["steps"],
		"properties": {
			"steps": {
				"type": "array",
				"minItems": 1,
				"maxItems": 10,
				"items": {"type": "string", "minLength": 1}
			}
		}
	}`)
)

func mustCompile(schemaJSON string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("invalid response schema: %v", err))
	}
	return schema
}

// extractJSON returns the outermost JSON object embedded in text.
func extractJSON(text string) (string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("%w: no JSON object in output", ErrBadResponse)
	}
	return text[start : end+1], nil
}

// parseStructured extracts, validates, and unmarshals model output into out.
func parseStructured(text string, schema *gojsonschema.Schema, out interface{}) error {
	raw, err := extractJSON(text)
	if err != nil {
		return err
	}

	result, err := schema.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return fmt.Errorf("%w: %s", ErrBadResponse, strings.Join(errs, "; "))
	}

	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return nil
}
