package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// envelopeSchemaDoc is the JSON Schema for an inbound FromWidget envelope
// (MSC2762 §6.2). It is deliberately looser than Envelope.Validate: the
// schema catches malformed wire shapes (wrong JSON types, unknown API
// values) before the message ever reaches the reducer, while Validate
// additionally rejects any api value other than fromWidget.
const envelopeSchemaDoc = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["api", "widgetId", "action"],
	"properties": {
		"api": {"type": "string", "enum": ["fromWidget", "toWidget"]},
		"requestId": {"type": "string"},
		"widgetId": {"type": "string", "minLength": 1},
		"action": {"type": "string", "minLength": 1},
		"data": {},
		"response": {}
	}
}`

var (
	envelopeSchemaOnce sync.Once
	envelopeSchema     *jsonschema.Schema
	envelopeSchemaErr  error
)

func compiledEnvelopeSchema() (*jsonschema.Schema, error) {
	envelopeSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("envelope.json", bytes.NewReader([]byte(envelopeSchemaDoc))); err != nil {
			envelopeSchemaErr = fmt.Errorf("protocol: compile envelope schema: %w", err)
			return
		}
		schema, err := compiler.Compile("envelope.json")
		if err != nil {
			envelopeSchemaErr = fmt.Errorf("protocol: compile envelope schema: %w", err)
			return
		}
		envelopeSchema = schema
	})
	return envelopeSchema, envelopeSchemaErr
}

// ValidateEnvelopeSchema checks frame against the envelope JSON Schema,
// independent of whether it also unmarshals cleanly into an Envelope. The
// orchestrator calls this ahead of ParseEnvelope so a malformed frame is
// rejected with a specific schema error rather than a generic decode error.
func ValidateEnvelopeSchema(frame []byte) error {
	schema, err := compiledEnvelopeSchema()
	if err != nil {
		return err
	}

	var v any
	if err := json.Unmarshal(frame, &v); err != nil {
		return fmt.Errorf("protocol: frame is not valid JSON: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("protocol: envelope schema: %w", err)
	}
	return nil
}
