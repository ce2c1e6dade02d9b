package registry

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	gwerrors "github.com/cliniguard/cliniguard/internal/errors"
)

// Issue is one field-level contract violation.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError carries the structured field-level description of a
// contract violation. It unwraps to ErrValidation so dispatch can classify it
// without knowing the contract implementation.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "input rejected by contract"
	}
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		if is.Path == "" {
			parts = append(parts, is.Message)
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", is.Path, is.Message))
	}
	return "input rejected by contract: " + strings.Join(parts, "; ")
}

// Unwrap ties ValidationError into the gateway error catalog.
func (e *ValidationError) Unwrap() error { return gwerrors.ErrValidation }

// SchemaContract validates arguments against a JSON Schema (draft 2020-12).
// The schema is compiled once at construction; a schema that does not compile
// is a configuration error and the tool must not be registered.
type SchemaContract struct {
	schema  *jsonschema.Schema
	summary string
}

// NewSchemaContract compiles schemaJSON under an inline resource URL derived
// from name. Summary defaults to a compact note when empty.
func NewSchemaContract(name, summary string, schemaJSON []byte) (*SchemaContract, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020

	url := "inline://contracts/" + name + ".json"
	if err := c.AddResource(url, strings.NewReader(string(schemaJSON))); err != nil {
		return nil, fmt.Errorf("contract %q: add schema: %w", name, err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("contract %q: compile schema: %w", name, err)
	}
	if summary == "" {
		summary = "JSON object validated against the tool's schema"
	}
	return &SchemaContract{schema: schema, summary: summary}, nil
}

// Validate checks raw against the compiled schema and returns it unchanged on
// success. Nil raw validates as an empty object so no-argument tools accept
// an omitted arguments field.
func (c *SchemaContract) Validate(raw map[string]any) (map[string]any, error) {
	if raw == nil {
		raw = map[string]any{}
	}
	if err := c.schema.Validate(toJSONValue(raw)); err != nil {
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			return nil, &ValidationError{Issues: flatten(ve)}
		}
		return nil, &ValidationError{Issues: []Issue{{Message: err.Error()}}}
	}
	return raw, nil
}

// Summary describes the contract for discovery listings.
func (c *SchemaContract) Summary() string { return c.summary }

// flatten collects the leaf causes of a validation error so callers get one
// issue per violated field instead of the compiler's nested tree.
func flatten(ve *jsonschema.ValidationError) []Issue {
	if len(ve.Causes) == 0 {
		path := ve.InstanceLocation
		if path == "" {
			path = "/"
		}
		return []Issue{{Path: path, Message: ve.Message}}
	}
	var out []Issue
	for _, cause := range ve.Causes {
		out = append(out, flatten(cause)...)
	}
	return out
}

// toJSONValue normalizes Go values into the shapes the schema validator
// expects from decoded JSON. Arguments usually arrive straight from
// encoding/json and pass through untouched; handler tests may build maps with
// typed ints, which this converts rather than rejecting on type alone.
func toJSONValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = toJSONValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = toJSONValue(val)
		}
		return out
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}
