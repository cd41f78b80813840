package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/conclave-ai/conclave/internal/agent"
	"github.com/conclave-ai/conclave/pkg/models"
)

// ChatAuthenticator resolves a bearer token or API key to a user. It is
// satisfied by *auth.Service without this package importing internal/auth
// directly, keeping the handler wireable against a stub in tests.
type ChatAuthenticator interface {
	Enabled() bool
	ValidateJWT(token string) (*models.User, error)
	ValidateAPIKey(key string) (*models.User, error)
}

// ChatQuotaGate is the subset of *quota.Gate the SSE handler needs to
// reject a request before it ever reaches the agent runtime.
type ChatQuotaGate interface {
	Check(ctx context.Context, userID string, tier models.Tier, kind models.CounterKind, cost int64) error
}

// ChatRunner starts one turn of the agent orchestrator and returns the
// streaming response channel, exactly the shape agent.Runtime.Process and
// agent.AgenticRuntime.Process already expose.
type ChatRunner interface {
	Process(ctx context.Context, session *models.Session, msg *models.Message) (<-chan *agent.ResponseChunk, error)
}

// SessionLoader resolves the conversation a chat request targets.
type SessionLoader interface {
	LoadOrCreate(ctx context.Context, userID, sessionID string) (*models.Session, error)
}

// ChatRateLimiter throttles request admission per user; a denied request is
// answered with 429 before any provider work starts. Satisfied by
// *ratelimit.Limiter.
type ChatRateLimiter interface {
	Allow(key string) bool
}

// ChatSSEHandler implements the text/event-stream chat endpoint. It is
// deliberately standalone (no dependency on the large gateway Server type)
// so it can be constructed and mounted independently: cmd/conclave wires a
// real *auth.Service/*quota.Gate/*agent.Runtime into it at startup.
type ChatSSEHandler struct {
	Auth      ChatAuthenticator
	Quota     ChatQuotaGate
	Runner    ChatRunner
	Sessions  SessionLoader
	RateLimit ChatRateLimiter
	Logger    *slog.Logger
}

type chatStreamRequest struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
}

// ServeHTTP implements http.Handler.
func (h *ChatSSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Logger == nil {
		h.Logger = slog.Default()
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	user, err := h.authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if h.RateLimit != nil && !h.RateLimit.Allow(user.ID) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	var req chatStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if h.Quota != nil {
		if err := h.Quota.Check(r.Context(), user.ID, user.Tier, models.CounterMessagesTotal, 1); err != nil {
			h.writeQuotaError(w, err)
			return
		}
	}

	session, err := h.Sessions.LoadOrCreate(r.Context(), user.ID, req.SessionID)
	if err != nil {
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	msg := &models.Message{Role: models.RoleUser, Content: req.Content, CreatedAt: time.Now()}
	runCtx := agent.WithQuotaIdentity(r.Context(), agent.QuotaIdentity{UserID: user.ID, Tier: user.Tier})
	chunks, err := h.Runner.Process(runCtx, session, msg)
	if err != nil {
		http.Error(w, "failed to start turn", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case chunk, open := <-chunks:
			if !open {
				h.writeEvent(w, flusher, "done", map[string]any{})
				return
			}
			if err := h.writeChunk(w, flusher, chunk); err != nil {
				h.Logger.Warn("sse write failed", "error", err, "user_id", user.ID)
				return
			}
		}
	}
}

func (h *ChatSSEHandler) authenticate(r *http.Request) (*models.User, error) {
	if h.Auth == nil || !h.Auth.Enabled() {
		return nil, errors.New("auth not configured")
	}
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token := strings.TrimSpace(authHeader[len("bearer "):])
		if user, err := h.Auth.ValidateJWT(token); err == nil {
			return user, nil
		}
	}
	apiKey := r.Header.Get("X-API-Key")
	if apiKey != "" {
		if user, err := h.Auth.ValidateAPIKey(apiKey); err == nil {
			return user, nil
		}
	}
	return nil, errors.New("no valid credentials")
}

// writeQuotaError maps a Gate.Check failure to the response code the chat
// endpoint's contract promises: 402 for an exhausted counter, 403 for a
// tier-forbidden resource. It matches on the error text rather than
// importing internal/quota's concrete error types, so this package doesn't
// need a compile-time dependency on the quota package beyond ChatQuotaGate.
func (h *ChatSSEHandler) writeQuotaError(w http.ResponseWriter, err error) {
	status := http.StatusForbidden
	if strings.HasPrefix(err.Error(), "over quota") {
		status = http.StatusPaymentRequired
	}
	http.Error(w, err.Error(), status)
}

func (h *ChatSSEHandler) writeChunk(w http.ResponseWriter, flusher http.Flusher, chunk *agent.ResponseChunk) error {
	switch {
	case chunk.Error != nil:
		return h.writeEvent(w, flusher, "error", map[string]any{"message": chunk.Error.Error()})
	case chunk.Event != nil && chunk.Event.Type == models.EventModelRestart:
		// The model call was retried: the client must discard tokens
		// accumulated for this turn before the replayed stream arrives.
		return h.writeEvent(w, flusher, "restart", map[string]any{"message": chunk.Event.Message})
	case chunk.ToolEvent != nil:
		return h.writeToolEvent(w, flusher, chunk.ToolEvent)
	case chunk.Text != "":
		return h.writeEvent(w, flusher, "token", map[string]any{"text": chunk.Text})
	default:
		return nil
	}
}

func (h *ChatSSEHandler) writeToolEvent(w http.ResponseWriter, flusher http.Flusher, evt *models.ToolEvent) error {
	eventName := "tool_start"
	switch evt.Stage {
	case models.ToolEventSucceeded:
		eventName = "tool_complete"
	case models.ToolEventFailed, models.ToolEventDenied:
		eventName = "tool_error"
	}
	return h.writeEvent(w, flusher, eventName, map[string]any{
		"tool_call_id": evt.ToolCallID,
		"tool_name":    evt.ToolName,
		"output":       evt.Output,
		"error":        evt.Error,
	})
}

func (h *ChatSSEHandler) writeEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, body); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
