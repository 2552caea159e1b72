package engine

import (
	"errors"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const workflowSchemaURL = "https://conduit.local/schemas/workflow.json"

// workflowSchemaJSON — JSON Schema исходного документа определения.
// Проверяет форму документа до декодирования в domain.WorkflowDefinition.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["nodes"],
  "properties": {
    "id": { "type": "string" },
    "name": { "type": "string" },
    "description": { "type": "string" },
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/node" }
    },
    "edges": {
      "type": "array",
      "items": { "$ref": "#/$defs/edge" }
    },
    "config": { "type": "object" }
  },
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "type": { "type": "string" },
        "label": { "type": "string" },
        "params": { "type": "object" },
        "next": {
          "type": "array",
          "items": { "type": "string", "minLength": 1 }
        },
        "retry": { "$ref": "#/$defs/retry" },
        "timeout_sec": { "type": "integer", "minimum": 0 }
      }
    },
    "edge": {
      "type": "object",
      "required": ["source", "target"],
      "properties": {
        "id": { "type": "string" },
        "source": { "type": "string", "minLength": 1 },
        "target": { "type": "string", "minLength": 1 },
        "label": { "type": "string" }
      }
    },
    "retry": {
      "type": "object",
      "properties": {
        "max_attempts": { "type": "integer", "minimum": 0 },
        "backoff": { "type": "string", "enum": ["fixed", "exponential"] },
        "initial_delay_ms": { "type": "integer", "minimum": 0 },
        "max_delay_ms": { "type": "integer", "minimum": 0 }
      },
      "additionalProperties": false
    }
  }
}`

// SchemaValidator проверяет исходный JSON определения по JSON Schema.
// Безопасен для конкурентного использования.
type SchemaValidator struct {
	schema *jsonschema.Schema
}

// NewSchemaValidator компилирует схему определения.
func NewSchemaValidator() (*SchemaValidator, error) {
	c := jsonschema.NewCompiler()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource(workflowSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}

	schema, err := c.Compile(workflowSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}

	return &SchemaValidator{schema: schema}, nil
}

// ValidateDocument проверяет сырой JSON определения.
func (v *SchemaValidator) ValidateDocument(data []byte) error {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return NewValidationError("", "", fmt.Sprintf("invalid JSON: %v", err), ErrSchemaViolation)
	}

	if err := v.schema.Validate(doc); err != nil {
		return toValidationError(err)
	}

	return nil
}

// toValidationError сворачивает дерево ошибок схемы в одну ValidationError.
func toValidationError(err error) *ValidationError {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return NewValidationError("", "", err.Error(), ErrSchemaViolation)
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return NewValidationError("", "", verr.Error(), ErrSchemaViolation)
	}

	return NewValidationError("", "", strings.Join(violations, "; "), ErrSchemaViolation)
}

// collectViolations собирает листовые ошибки вместе с путём в документе.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/" + strings.Join(verr.InstanceLocation, "/")
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
