// Package sdkevent implements the structured per-run agent event document
// (S/sdk-output.json, schema tag "jeeves.sdk.v1") and its validation
// against a JSON Schema, grounded on the teacher's agent/protocol event
// shapes (AgentStatus/AgentResult) but restructured around the five event
// types spec §4.3 names: system, assistant, tool_use, tool_result, result.
package sdkevent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaTag is the fixed schema identifier every sdk-output.json carries.
const SchemaTag = "jeeves.sdk.v1"

// EventType is one of the six event kinds the provider yields.
type EventType string

const (
	EventSystem     EventType = "system"
	EventAssistant  EventType = "assistant"
	EventToolUse    EventType = "tool_use"
	EventToolResult EventType = "tool_result"
	EventResult     EventType = "result"
	EventError      EventType = "error"
)

// ToolUse describes one tool invocation inside an assistant envelope.
type ToolUse struct {
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// Event is one entry of the sdk-output.json event log.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text,omitempty"`
	ToolUses  []ToolUse `json:"tool_uses,omitempty"`
	Success   *bool     `json:"success,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Document is the full S/sdk-output.json root.
type Document struct {
	Schema  string  `json:"schema"`
	Success bool    `json:"success"`
	Events  []Event `json:"events"`
}

// NewDocument creates an empty document tagged jeeves.sdk.v1.
func NewDocument() *Document {
	return &Document{Schema: SchemaTag}
}

// Append adds an event to the document, updating Success based on
// terminal event semantics: Success starts false, takes the success flag of
// each result event that carries one, and is set false by an error event
// (or by an explicit MarkFailed call).
func (d *Document) Append(e Event) {
	d.Events = append(d.Events, e)
	if e.Type == EventResult && e.Success != nil {
		d.Success = *e.Success
	}
	if e.Type == EventError {
		d.Success = false
	}
}

// MarkFailed force-sets Success=false, used when a timer fires before a
// result event arrives.
func (d *Document) MarkFailed() { d.Success = false }

const schemaDocument = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["schema", "success", "events"],
  "properties": {
    "schema": { "const": "jeeves.sdk.v1" },
    "success": { "type": "boolean" },
    "events": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type", "timestamp"],
        "properties": {
          "type": { "enum": ["system", "assistant", "tool_use", "tool_result", "result", "error"] },
          "timestamp": { "type": "string" },
          "text": { "type": "string" },
          "success": { "type": "boolean" },
          "error": { "type": "string" }
        }
      }
    }
  }
}`

var compiledSchema *jsonschema.Schema

func schema() (*jsonschema.Schema, error) {
	if compiledSchema != nil {
		return compiledSchema, nil
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("jeeves.sdk.v1.schema.json", strings.NewReader(schemaDocument)); err != nil {
		return nil, fmt.Errorf("loading jeeves.sdk.v1 schema: %w", err)
	}
	s, err := c.Compile("jeeves.sdk.v1.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compiling jeeves.sdk.v1 schema: %w", err)
	}
	compiledSchema = s
	return s, nil
}

// Validate checks data against the jeeves.sdk.v1 JSON Schema. The state
// store calls this before treating a flush of sdk-output.json as durable.
func Validate(data []byte) error {
	s, err := schema()
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("sdk-output.json is not valid JSON: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("sdk-output.json failed jeeves.sdk.v1 validation: %w", err)
	}
	return nil
}
