package models

import "time"

// CouncilState is the lifecycle state of a CouncilSession.
type CouncilState string

const (
	CouncilPending   CouncilState = "pending"
	CouncilRunning   CouncilState = "running"
	CouncilPaused    CouncilState = "paused"
	CouncilStopped   CouncilState = "stopped"
	CouncilCompleted CouncilState = "completed"
)

// CouncilTerminationReason explains why a CouncilSession reached a terminal
// state.
type CouncilTerminationReason string

const (
	TerminationConsensus    CouncilTerminationReason = "consensus"
	TerminationRoundCap     CouncilTerminationReason = "round_cap"
	TerminationStopped      CouncilTerminationReason = "stopped"
	TerminationCancelled    CouncilTerminationReason = "cancelled"
)

// CouncilSession is a multi-agent deliberation session structured as ordered
// rounds of single-agent turns.
type CouncilSession struct {
	ID                string                   `json:"id"`
	Topic             string                   `json:"topic"`
	UserID            string                   `json:"user_id"`
	Agents            []string                 `json:"agents"` // ordered agent ids
	MaxRounds         int                      `json:"max_rounds"`
	CurrentRound      int                      `json:"current_round"`
	State             CouncilState             `json:"state"`
	TerminationReason CouncilTerminationReason `json:"termination_reason,omitempty"`
	ModelOverride     string                   `json:"model_override,omitempty"`
	ToolsEnabled      bool                     `json:"tools_enabled"`
	ConvergenceScore  float64                  `json:"convergence_score,omitempty"`
	CreatedAt         time.Time                `json:"created_at"`
	UpdatedAt         time.Time                `json:"updated_at"`
}

// SessionMessageRole distinguishes an ordinary agent turn from an injected
// human "butt-in" message.
type SessionMessageRole string

const (
	SessionMessageAgent         SessionMessageRole = "agent"
	SessionMessageHumanInterject SessionMessageRole = "human-interject"
)

// SessionMessage is one entry in a CouncilSession's shared transcript.
type SessionMessage struct {
	ID        string             `json:"id"`
	SessionID string             `json:"session_id"`
	Round     int                `json:"round"`
	Role      SessionMessageRole `json:"role"`
	AgentID   string             `json:"agent_id,omitempty"`
	Content   string             `json:"content"`
	Usage     Usage              `json:"usage,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

// Usage mirrors internal/usage.Usage at the model layer so persisted
// SessionMessages do not need to import the usage package.
type Usage struct {
	InputTokens      int64 `json:"input_tokens,omitempty"`
	OutputTokens     int64 `json:"output_tokens,omitempty"`
	CacheReadTokens  int64 `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int64 `json:"cache_write_tokens,omitempty"`
}
