package council

import "time"

// EventType enumerates the council-scoped events broadcast to the
// council/{session_id} topic while a session runs.
type EventType string

const (
	EventRoundStarted   EventType = "round_started"
	EventAgentToken     EventType = "agent_token"
	EventAgentToolStart EventType = "agent_tool_start"
	EventAgentToolEnd   EventType = "agent_tool_end"
	EventAgentComplete  EventType = "agent_complete"
	EventRoundComplete  EventType = "round_complete"
	EventHumanInterject EventType = "human_interject"
	EventSessionPaused  EventType = "session_paused"
	EventSessionResumed EventType = "session_resumed"
	EventSessionStopped EventType = "session_stopped"
	EventSessionDone    EventType = "session_done"
	EventSessionError   EventType = "session_error"
)

// Event is a single council broadcast frame. Payload shape varies by Type
// and is left as an arbitrary map so transport adapters can marshal it
// directly to JSON without a type switch per event kind.
type Event struct {
	Type      EventType      `json:"type"`
	SessionID string         `json:"session_id"`
	Round     int            `json:"round,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	At        time.Time      `json:"at"`
}

// Publisher fans a council Event out to subscribers. The gateway's
// WebSocket broadcast layer implements this for the council/{session_id}
// topic; tests use a slice-collecting stub.
type Publisher interface {
	Publish(evt Event)
}

// NoopPublisher discards every event. Used when a session runs headless
// (e.g. batch/offline evaluation) with no observers attached.
type NoopPublisher struct{}

// Publish implements Publisher.
func (NoopPublisher) Publish(Event) {}
