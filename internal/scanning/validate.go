package scanning

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/zombor/cardscan/internal/contact"
)

var errEmptyResponse = errors.New("model returned an empty response")

// extractJSONObject pulls the JSON object out of model output text
func extractJSONObject(text string) (json.RawMessage, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errEmptyResponse
	}

	// Find the JSON object boundaries - look for first { and last }
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	return json.RawMessage(text[startIdx : endIdx+1]), nil
}

// Validator turns a raw model response into a contact.Record
type Validator struct {
	fields []contact.FieldSpec
	schema *jsonschema.Schema
}

// NewValidator compiles the output schema for fields
func NewValidator(fields []contact.FieldSpec) (*Validator, error) {
	for _, f := range fields {
		if _, ok := contact.Lookup(string(f.Name)); !ok {
			return nil, fmt.Errorf("%w: %q", contact.ErrUnknownField, f.Name)
		}
	}

	doc, err := json.Marshal(contact.SchemaFor(fields, false))
	if err != nil {
		return nil, fmt.Errorf("marshaling output schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(OutputSchemaName+".json", bytes.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("loading output schema: %w", err)
	}
	schema, err := compiler.Compile(OutputSchemaName + ".json")
	if err != nil {
		return nil, fmt.Errorf("compiling output schema: %w", err)
	}

	specs := make([]contact.FieldSpec, len(fields))
	copy(specs, fields)
	return &Validator{fields: specs, schema: schema}, nil
}

// Validate coerces raw into a record. A missing or non-string field becomes
// ""; only a response that is not a JSON object at all is an error.
func (v *Validator) Validate(raw json.RawMessage) (contact.Record, error) {
	const op = "validating response"
	if len(bytes.TrimSpace(raw)) == 0 {
		return contact.Record{}, InvalidResponseError(op, errEmptyResponse)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return contact.Record{}, InvalidResponseError(op, fmt.Errorf("unmarshaling json: %w", err))
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return contact.Record{}, InvalidResponseError(op, fmt.Errorf("response is %s, not an object", jsonKind(doc)))
	}

	if err := v.schema.Validate(doc); err != nil {
		slog.Warn("Model response does not match output schema, coercing fields", "error", err)
	}

	record := contact.NewRecord()
	for _, f := range v.fields {
		s, ok := obj[string(f.Name)].(string)
		if !ok {
			continue
		}
		// Names were checked in NewValidator
		_ = record.Set(f.Name, strings.TrimSpace(s))
	}
	return record, nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "an array"
	case string:
		return "a string"
	case float64:
		return "a number"
	case bool:
		return "a boolean"
	}
	return fmt.Sprintf("%T", v)
}
