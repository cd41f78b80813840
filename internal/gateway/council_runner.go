package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/conclave-ai/conclave/internal/agent"
	"github.com/conclave-ai/conclave/internal/council"
	"github.com/conclave-ai/conclave/internal/sessions"
	"github.com/conclave-ai/conclave/pkg/models"
)

// councilTurnRunner executes one council agent's turn against the shared
// agent orchestrator. Each turn runs in its own ephemeral per-agent session
// (one per council session+agent pair) seeded with the council's shared
// transcript, so concurrent agents never contend on one session while every
// turn still flows through the same *agent.Runtime the chat endpoint uses.
type councilTurnRunner struct {
	runtime  *agent.Runtime
	sessions sessions.Store
	agents   map[string]*models.Agent
}

func newCouncilTurnRunner(runtime *agent.Runtime, store sessions.Store, agents []*models.Agent) *councilTurnRunner {
	byID := make(map[string]*models.Agent, len(agents))
	for _, a := range agents {
		byID[a.ID] = a
	}
	return &councilTurnRunner{runtime: runtime, sessions: store, agents: byID}
}

// RunTurn implements council.TurnRunner.
func (r *councilTurnRunner) RunTurn(ctx context.Context, req council.TurnRequest, emit council.EmitFunc) (*council.TurnResult, error) {
	agentCfg := r.agents[req.AgentID]
	if agentCfg == nil {
		return nil, fmt.Errorf("council turn runner: unknown agent %q", req.AgentID)
	}

	key := sessions.SessionKey(req.AgentID, models.ChannelAPI, req.SessionID)
	session, err := r.sessions.GetOrCreate(ctx, key, req.AgentID, models.ChannelAPI, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("council turn runner: get or create session: %w", err)
	}

	prompt := councilTranscriptPrompt(req)

	turnCtx := agent.WithSystemPrompt(ctx, councilSystemPrompt(agentCfg, req.Topic))
	if req.ModelID != "" {
		turnCtx = agent.WithModel(turnCtx, req.ModelID)
	}

	msg := &models.Message{
		SessionID: session.ID,
		Role:      models.RoleUser,
		Content:   prompt,
		CreatedAt: time.Now(),
	}

	chunks, err := r.runtime.Process(turnCtx, session, msg)
	if err != nil {
		return nil, fmt.Errorf("council turn runner: process: %w", err)
	}

	var text strings.Builder
	var usage models.Usage
	for chunk := range chunks {
		if chunk.Error != nil {
			return nil, chunk.Error
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			if emit != nil {
				emit(council.Event{Type: council.EventAgentToken, Payload: map[string]any{"text": chunk.Text}})
			}
		}
		if chunk.ToolEvent != nil && emit != nil {
			evtType := council.EventAgentToolStart
			if chunk.ToolEvent.Stage == models.ToolEventSucceeded || chunk.ToolEvent.Stage == models.ToolEventFailed || chunk.ToolEvent.Stage == models.ToolEventDenied {
				evtType = council.EventAgentToolEnd
			}
			emit(council.Event{Type: evtType, Payload: map[string]any{
				"tool_name": chunk.ToolEvent.ToolName,
				"stage":     string(chunk.ToolEvent.Stage),
			}})
		}
	}

	return &council.TurnResult{Content: text.String(), Usage: usage}, nil
}

// councilSystemPrompt combines the agent's configured persona with the
// council topic so every member is grounded on what's being deliberated.
func councilSystemPrompt(a *models.Agent, topic string) string {
	if topic == "" {
		return a.SystemPrompt
	}
	if a.SystemPrompt == "" {
		return fmt.Sprintf("You are participating in a council deliberation on: %s", topic)
	}
	return fmt.Sprintf("%s\n\nCouncil topic: %s", a.SystemPrompt, topic)
}

// councilTranscriptPrompt renders the shared transcript as the turn's user
// message so a provider with no native multi-party concept still sees the
// full round history.
func councilTranscriptPrompt(req council.TurnRequest) string {
	if len(req.Transcript) == 0 {
		return fmt.Sprintf("Round %d. Offer your perspective on: %s", req.Round, req.Topic)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Council transcript so far (round %d):\n\n", req.Round)
	for _, m := range req.Transcript {
		switch m.Role {
		case models.SessionMessageHumanInterject:
			fmt.Fprintf(&b, "[human]: %s\n", m.Content)
		default:
			fmt.Fprintf(&b, "[%s]: %s\n", m.AgentID, m.Content)
		}
	}
	b.WriteString("\nContinue the deliberation with your next contribution.")
	return b.String()
}
