package gateway

import (
	"context"
	"fmt"

	"github.com/conclave-ai/conclave/internal/agent"
	"github.com/conclave-ai/conclave/internal/quota"
	"github.com/conclave-ai/conclave/internal/sessions"
	"github.com/conclave-ai/conclave/pkg/models"
)

// chatSessionLoader adapts sessions.Store to the narrow SessionLoader
// interface ChatSSEHandler expects, resolving the caller's default agent
// the way the other HTTP entry points do. It
// holds the owning *Server rather than a sessions.Store snapshot because
// the store itself is created lazily by ensureRuntime on first use.
type chatSessionLoader struct {
	server *Server
}

func (l *chatSessionLoader) LoadOrCreate(ctx context.Context, userID, sessionID string) (*models.Session, error) {
	if _, err := l.server.ensureRuntime(ctx); err != nil {
		return nil, fmt.Errorf("chat stream: acquire session store: %w", err)
	}
	agentID := l.server.config.Session.DefaultAgentID
	if agentID == "" {
		return nil, fmt.Errorf("chat stream: no default agent configured")
	}
	channelID := sessionID
	if channelID == "" {
		channelID = userID
	}
	key := sessions.SessionKey(agentID, models.ChannelAPI, channelID)
	return l.server.sessions.GetOrCreate(ctx, key, agentID, models.ChannelAPI, channelID)
}

// chatQuotaGate adapts *quota.Gate's Check to ChatQuotaGate without the
// sse.go file needing to import internal/quota.
type chatQuotaGate struct {
	gate *quota.Gate
}

func (g *chatQuotaGate) Check(ctx context.Context, userID string, tier models.Tier, kind models.CounterKind, cost int64) error {
	if g.gate == nil {
		return nil
	}
	return g.gate.Check(ctx, userID, tier, kind, cost)
}

// chatRunner lazily resolves the agent runtime so the SSE handler can be
// constructed once at startup even though the runtime itself initializes
// on first use (see ensureRuntime).
type chatRunner struct {
	server *Server
}

func (r *chatRunner) Process(ctx context.Context, session *models.Session, msg *models.Message) (<-chan *agent.ResponseChunk, error) {
	runtime, err := r.server.ensureRuntime(ctx)
	if err != nil {
		return nil, fmt.Errorf("chat stream: acquire runtime: %w", err)
	}
	return runtime.Process(ctx, session, msg)
}

// newChatSSEHandler builds the production /api/v1/chat/stream handler wired
// to this server's real auth service, quota gate, and agent runtime.
func (s *Server) newChatSSEHandler() *ChatSSEHandler {
	handler := &ChatSSEHandler{
		Auth:     s.authService,
		Quota:    &chatQuotaGate{gate: s.quotaGate},
		Runner:   &chatRunner{server: s},
		Sessions: &chatSessionLoader{server: s},
		Logger:   s.logger,
	}
	if s.chatLimiter != nil {
		handler.RateLimit = s.chatLimiter
	}
	return handler
}
