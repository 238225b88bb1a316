package structure

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// recordSchema constrains the model reply: an object whose known keys are
// strings, with name required. Additional keys are tolerated and dropped by
// the typed decode.
var recordSchema = map[string]any{
	"type":     "object",
	"required": []any{"name"},
	"properties": map[string]any{
		"product_code":        map[string]any{"type": []any{"string", "null"}},
		"lot_number":          map[string]any{"type": []any{"string", "null"}},
		"expiration_date":     map[string]any{"type": []any{"string", "null"}},
		"name":                map[string]any{"type": "string", "minLength": 1},
		"common_denomination": map[string]any{"type": []any{"string", "null"}},
		"concentration":       map[string]any{"type": []any{"string", "null"}},
		"form":                map[string]any{"type": []any{"string", "null"}},
		"form_simple":         map[string]any{"type": []any{"string", "null"}},
		"brand_name":          map[string]any{"type": []any{"string", "null"}},
		"country":             map[string]any{"type": []any{"string", "null"}},
		"presentation":        map[string]any{"type": []any{"string", "null"}},
		"fractions":           map[string]any{"type": []any{"string", "number", "null"}},
		"product_type":        map[string]any{"type": []any{"string", "null"}},
		"quantity":            map[string]any{"type": []any{"string", "number", "null"}},
		"price":               map[string]any{"type": []any{"string", "number", "null"}},
	},
}

// validateAgainstSchema validates data against schemaMap.
func validateAgainstSchema(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
