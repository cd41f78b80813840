package gateway

import (
	"encoding/json"
	"testing"
)

func TestInitWSSchemas(t *testing.T) {
	// Should not error on init
	if err := initWSSchemas(); err != nil {
		t.Errorf("initWSSchemas() error = %v", err)
	}

	// Should be idempotent
	if err := initWSSchemas(); err != nil {
		t.Errorf("initWSSchemas() second call error = %v", err)
	}
}

func TestValidateCouncilCommand(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantError bool
	}{
		{
			name: "valid start command",
			raw: `{
				"type": "start",
				"topic": "should we ship",
				"agent_ids": ["sage", "skeptic"],
				"max_rounds": 4
			}`,
			wantError: false,
		},
		{
			name:      "start with one agent",
			raw:       `{"type": "start", "topic": "t", "agent_ids": ["solo"]}`,
			wantError: true,
		},
		{
			name:      "start missing topic",
			raw:       `{"type": "start", "agent_ids": ["a", "b"]}`,
			wantError: true,
		},
		{
			name:      "start with zero rounds",
			raw:       `{"type": "start", "topic": "t", "agent_ids": ["a", "b"], "max_rounds": 0}`,
			wantError: true,
		},
		{
			name:      "valid pause",
			raw:       `{"type": "pause", "session_id": "sess-1"}`,
			wantError: false,
		},
		{
			name:      "pause missing session id",
			raw:       `{"type": "pause"}`,
			wantError: true,
		},
		{
			name:      "valid resume",
			raw:       `{"type": "resume", "session_id": "sess-1"}`,
			wantError: false,
		},
		{
			name:      "valid stop",
			raw:       `{"type": "stop", "session_id": "sess-1"}`,
			wantError: false,
		},
		{
			name:      "valid butt_in",
			raw:       `{"type": "butt_in", "session_id": "sess-1", "content": "wait"}`,
			wantError: false,
		},
		{
			name:      "butt_in with empty content",
			raw:       `{"type": "butt_in", "session_id": "sess-1", "content": ""}`,
			wantError: true,
		},
		{
			name:      "valid ping",
			raw:       `{"type": "ping"}`,
			wantError: false,
		},
		{
			name:      "invalid JSON",
			raw:       `{invalid}`,
			wantError: true,
		},
		{
			name:      "missing type",
			raw:       `{"session_id": "sess-1"}`,
			wantError: true,
		},
		{
			name: "unknown command passes envelope",
			raw:  `{"type": "vote", "ballot": "yes"}`,
			// The dispatcher rejects unknown types with its own ack.
			wantError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateCouncilCommand([]byte(tt.raw))
			if (err != nil) != tt.wantError {
				t.Errorf("validateCouncilCommand() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}

func TestWSSchemaConstants(t *testing.T) {
	// Verify schema constants are valid JSON
	schemas := []struct {
		name   string
		schema string
	}{
		{"councilCommandSchema", councilCommandSchema},
		{"councilStartSchema", councilStartSchema},
		{"councilSessionRefSchema", councilSessionRefSchema},
		{"councilButtInSchema", councilButtInSchema},
		{"councilPingSchema", councilPingSchema},
	}

	for _, tt := range schemas {
		t.Run(tt.name, func(t *testing.T) {
			var v any
			if err := json.Unmarshal([]byte(tt.schema), &v); err != nil {
				t.Errorf("%s is not valid JSON: %v", tt.name, err)
			}
		})
	}
}
