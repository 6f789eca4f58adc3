package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonschema"
)

// startSchema describes the migration.start payload. Dates are plain
// YYYY-MM-DD strings; anything finer is rejected before it reaches the tool.
const startSchema = `{
  "type": "object",
  "properties": {
    "username":      {"type": "string", "minLength": 1},
    "password":      {"type": "string"},
    "archiveFolder": {"type": "string"},
    "simulate":      {"type": "boolean"},
    "minDate":       {"type": "string", "pattern": "^([0-9]{4}-[0-9]{2}-[0-9]{2})?$"},
    "maxDate":       {"type": "string", "pattern": "^([0-9]{4}-[0-9]{2}-[0-9]{2})?$"},
    "testMode":      {"type": "string", "enum": ["", "small", "large", "video", "mixed"]}
  },
  "required": ["username"],
  "additionalProperties": false
}`

// limitSchema covers the list-style methods.
const limitSchema = `{
  "type": "object",
  "properties": {
    "limit": {"type": "integer", "minimum": 0, "maximum": 10000}
  },
  "additionalProperties": false
}`

// payloadValidator checks raw RPC payloads against a compiled schema.
type payloadValidator struct {
	schema *jsonschema.Schema
}

func mustValidator(schemaJSON string) *payloadValidator {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile([]byte(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("gateway: invalid built-in schema: %v", err))
	}
	return &payloadValidator{schema: schema}
}

// validate decodes payload and checks it. An empty payload is treated as {}.
func (v *payloadValidator) validate(payload json.RawMessage) error {
	if len(payload) == 0 || string(payload) == "null" {
		payload = json.RawMessage("{}")
	}
	var data any
	if err := json.Unmarshal(payload, &data); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	result := v.schema.Validate(data)
	if !result.IsValid() {
		return fmt.Errorf("%s", result.Error())
	}
	return nil
}
