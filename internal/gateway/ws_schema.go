// Package gateway hosts the Conclave HTTP surface.
//
// ws_schema.go validates inbound council command frames against JSON
// schemas before they are dispatched, so malformed commands are rejected
// at the socket boundary with a structured error instead of surfacing as
// engine-level failures mid-deliberation.
package gateway

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

type wsSchemaRegistry struct {
	once     sync.Once
	initErr  error
	envelope *jsonschema.Schema
	commands map[string]*jsonschema.Schema
}

var wsSchemas wsSchemaRegistry

func initWSSchemas() error {
	wsSchemas.once.Do(func() {
		envelope, err := jsonschema.CompileString("council_command", councilCommandSchema)
		if err != nil {
			wsSchemas.initErr = err
			return
		}
		wsSchemas.envelope = envelope

		commands := map[string]string{
			"start":   councilStartSchema,
			"pause":   councilSessionRefSchema,
			"resume":  councilSessionRefSchema,
			"stop":    councilSessionRefSchema,
			"butt_in": councilButtInSchema,
			"ping":    councilPingSchema,
		}

		wsSchemas.commands = make(map[string]*jsonschema.Schema, len(commands))
		for name, schema := range commands {
			compiled, err := jsonschema.CompileString("council_command_"+name, schema)
			if err != nil {
				wsSchemas.initErr = err
				return
			}
			wsSchemas.commands[name] = compiled
		}
	})
	return wsSchemas.initErr
}

// validateCouncilCommand checks a raw command frame against the envelope
// schema, then against the per-command schema when one is registered.
// Unknown command types pass envelope validation; the dispatcher rejects
// them with its own error ack.
func validateCouncilCommand(raw []byte) error {
	if err := initWSSchemas(); err != nil {
		return err
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	if err := wsSchemas.envelope.Validate(payload); err != nil {
		return err
	}

	frame, ok := payload.(map[string]any)
	if !ok {
		return fmt.Errorf("command frame must be an object")
	}
	cmdType, _ := frame["type"].(string)
	if schema := wsSchemas.commands[cmdType]; schema != nil {
		if err := schema.Validate(payload); err != nil {
			return err
		}
	}
	return nil
}

const councilCommandSchema = `{
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`

const councilStartSchema = `{
  "type": "object",
  "required": ["type", "topic", "agent_ids"],
  "properties": {
    "type": { "const": "start" },
    "topic": { "type": "string", "minLength": 1 },
    "agent_ids": {
      "type": "array",
      "minItems": 2,
      "items": { "type": "string", "minLength": 1 }
    },
    "max_rounds": { "type": "integer", "minimum": 1, "maximum": 50 },
    "model_id": { "type": "string" }
  },
  "additionalProperties": true
}`

const councilSessionRefSchema = `{
  "type": "object",
  "required": ["type", "session_id"],
  "properties": {
    "type": { "enum": ["pause", "resume", "stop"] },
    "session_id": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`

const councilButtInSchema = `{
  "type": "object",
  "required": ["type", "session_id", "content"],
  "properties": {
    "type": { "const": "butt_in" },
    "session_id": { "type": "string", "minLength": 1 },
    "content": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`

const councilPingSchema = `{
  "type": "object",
  "properties": {
    "type": { "const": "ping" }
  },
  "additionalProperties": true
}`
