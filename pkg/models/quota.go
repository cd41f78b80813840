package models

import "time"

// CounterKind names a billable, per-period counter tracked for a user.
type CounterKind string

const (
	CounterMessagesTotal   CounterKind = "messages_total"
	CounterMessagesHaiku   CounterKind = "messages_haiku"
	CounterMessagesSonnet  CounterKind = "messages_sonnet"
	CounterMessagesOpus    CounterKind = "messages_opus"
	CounterMessagesOther   CounterKind = "messages_other"
	CounterMusicGens       CounterKind = "music_generations"
	CounterCouncilSessions CounterKind = "council_sessions"
	CounterCouncilRounds   CounterKind = "council_rounds"
	CounterJamSessions     CounterKind = "jam_sessions"
	CounterTrainingJobs    CounterKind = "training_jobs"
	CounterVaultBytes      CounterKind = "vault_bytes"
)

// UsageCounter is a (user, counter kind, billing period) tuple tracking an
// integer count against a limit. Increments must be atomic with the action
// they gate; limits are checked before the increment is applied.
type UsageCounter struct {
	UserID      string      `json:"user_id"`
	Kind        CounterKind `json:"kind"`
	PeriodStart time.Time   `json:"period_start"`
	PeriodEnd   time.Time   `json:"period_end"`
	Count       int64       `json:"count"`
	Limit       int64       `json:"limit"` // <=0 means unlimited
}

// Remaining returns the counter's unused allowance. Unlimited counters report
// a negative remaining value; callers must check Limit <= 0 first.
func (c *UsageCounter) Remaining() int64 {
	if c.Limit <= 0 {
		return -1
	}
	remaining := c.Limit - c.Count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ToolInvocationOutcome enumerates how a tool invocation ended.
type ToolInvocationOutcome string

const (
	ToolOutcomeSuccess         ToolInvocationOutcome = "success"
	ToolOutcomeTimeout         ToolInvocationOutcome = "timeout"
	ToolOutcomeValidationError ToolInvocationOutcome = "validation_error"
	ToolOutcomeRuntimeError    ToolInvocationOutcome = "runtime_error"
	ToolOutcomeCancelled       ToolInvocationOutcome = "cancelled"
)

// ToolInvocation is the ephemeral audit record of a single tool call.
type ToolInvocation struct {
	CallID         string                `json:"call_id"`
	ToolID         string                `json:"tool_id"`
	UserID         string                `json:"user_id"`
	ConversationID string                `json:"conversation_id"`
	AgentID        string                `json:"agent_id"`
	StartedAt      time.Time             `json:"started_at"`
	EndedAt        time.Time             `json:"ended_at,omitempty"`
	Outcome        ToolInvocationOutcome `json:"outcome"`
	// TruncatedInput/TruncatedOutput are audit previews, capped to a fixed
	// size regardless of the tool's actual payload size.
	TruncatedInput  string `json:"truncated_input,omitempty"`
	TruncatedOutput string `json:"truncated_output,omitempty"`
	// Verbose is populated only for users with DevMode set; it is never
	// consulted for access decisions, only for audit detail.
	Verbose bool `json:"verbose,omitempty"`
}
