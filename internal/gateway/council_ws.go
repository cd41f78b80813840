package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/conclave-ai/conclave/internal/council"
	"github.com/conclave-ai/conclave/pkg/models"
)

// councilRun tracks one live council.Engine so the command WebSocket can
// route pause/resume/stop/butt_in calls to the right in-flight session.
type councilRun struct {
	engine *council.Engine
	cancel context.CancelFunc
	done   chan struct{}
}

var councilUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type councilCommand struct {
	Type      string   `json:"type"`
	SessionID string   `json:"session_id,omitempty"`
	Topic     string   `json:"topic,omitempty"`
	AgentIDs  []string `json:"agent_ids,omitempty"`
	MaxRounds int      `json:"max_rounds,omitempty"`
	ModelID   string   `json:"model_id,omitempty"`
	Content   string   `json:"content,omitempty"`
}

type councilAck struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleCouncilWS serves the bidirectional council control socket:
// start/pause/resume/stop/butt_in commands in, session-lifecycle acks out.
// Round-by-round deliberation events are delivered separately on the
// council/{session_id} observer topic so a dropped command connection
// never interrupts an in-flight deliberation.
func (s *Server) handleCouncilWS(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticateHTTP(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := councilUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := validateCouncilCommand(raw); err != nil {
			_ = conn.WriteJSON(councilAck{Type: "error", Error: err.Error()})
			continue
		}
		var cmd councilCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			_ = conn.WriteJSON(councilAck{Type: "error", Error: err.Error()})
			continue
		}

		switch cmd.Type {
		case "start":
			sessionID, err := s.startCouncil(r.Context(), user, cmd)
			if err != nil {
				_ = conn.WriteJSON(councilAck{Type: "error", Error: err.Error()})
				continue
			}
			_ = conn.WriteJSON(councilAck{Type: "started", SessionID: sessionID})
		case "pause":
			s.withCouncilRun(cmd.SessionID, func(run *councilRun) { run.engine.Pause() })
			_ = conn.WriteJSON(councilAck{Type: "paused", SessionID: cmd.SessionID})
		case "resume":
			s.withCouncilRun(cmd.SessionID, func(run *councilRun) { run.engine.Resume() })
			_ = conn.WriteJSON(councilAck{Type: "resumed", SessionID: cmd.SessionID})
		case "stop":
			s.withCouncilRun(cmd.SessionID, func(run *councilRun) { run.engine.Stop() })
			_ = conn.WriteJSON(councilAck{Type: "stopped", SessionID: cmd.SessionID})
		case "butt_in":
			s.withCouncilRun(cmd.SessionID, func(run *councilRun) { run.engine.ButtIn(cmd.Content) })
			_ = conn.WriteJSON(councilAck{Type: "interjected", SessionID: cmd.SessionID})
		case "ping":
			_ = conn.WriteJSON(councilAck{Type: "pong"})
		default:
			_ = conn.WriteJSON(councilAck{Type: "error", Error: fmt.Sprintf("unknown command %q", cmd.Type)})
		}
	}
}

func (s *Server) withCouncilRun(sessionID string, fn func(*councilRun)) {
	s.councilMu.Lock()
	run := s.councilSessions[sessionID]
	s.councilMu.Unlock()
	if run != nil {
		fn(run)
	}
}

// startCouncil constructs a council.Engine for the requested agents and
// runs it to completion in the background, publishing every event onto the
// council/{session_id} observer topic.
func (s *Server) startCouncil(ctx context.Context, user *models.User, cmd councilCommand) (string, error) {
	if len(cmd.AgentIDs) < 2 {
		return "", fmt.Errorf("council session needs at least two agents")
	}
	if !s.quotaGate.AllowedFeature(user.Tier, "council") {
		return "", fmt.Errorf("council deliberation not available on this tier")
	}
	if err := s.quotaGate.Check(ctx, user.ID, user.Tier, models.CounterCouncilSessions, 1); err != nil {
		return "", err
	}
	maxAgents := s.quotaGate.CouncilMaxAgents(user.Tier)
	if maxAgents > 0 && len(cmd.AgentIDs) > maxAgents {
		return "", fmt.Errorf("council session exceeds tier agent limit of %d", maxAgents)
	}

	agents := make([]*models.Agent, 0, len(cmd.AgentIDs))
	for _, id := range cmd.AgentIDs {
		cfg, err := s.stores.Agents.Get(ctx, id)
		if err != nil {
			return "", fmt.Errorf("unknown agent %q", id)
		}
		agents = append(agents, cfg)
	}

	maxRounds := cmd.MaxRounds
	if maxRounds <= 0 {
		maxRounds = 6
	}

	sessionID := uuid.NewString()
	now := time.Now()
	session := &models.CouncilSession{
		ID:            sessionID,
		Topic:         cmd.Topic,
		UserID:        user.ID,
		Agents:        cmd.AgentIDs,
		MaxRounds:     maxRounds,
		State:         models.CouncilPending,
		ModelOverride: cmd.ModelID,
		ToolsEnabled:  true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	runtime, err := s.ensureRuntime(ctx)
	if err != nil {
		return "", fmt.Errorf("council: acquire runtime: %w", err)
	}

	engine, err := council.NewEngine(council.Config{
		Session:   session,
		Tier:      user.Tier,
		Runner:    newCouncilTurnRunner(runtime, s.sessions, agents),
		Publisher: councilTopicPublisher{bus: s.councilBus, sessionID: sessionID},
		Quota:     &chatQuotaGate{gate: s.quotaGate},
	})
	if err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	run := &councilRun{engine: engine, cancel: cancel, done: make(chan struct{})}

	s.councilMu.Lock()
	s.councilSessions[sessionID] = run
	s.councilMu.Unlock()

	go func() {
		defer close(run.done)
		defer cancel()
		if _, err := engine.Run(runCtx); err != nil && s.logger != nil {
			s.logger.Warn("council run ended with error", "session_id", sessionID, "error", err)
		}
		s.councilMu.Lock()
		delete(s.councilSessions, sessionID)
		s.councilMu.Unlock()
	}()

	return sessionID, nil
}

// councilTopicPublisher adapts the topicBus to council.Publisher, fanning
// every event out to observers subscribed to council/{session_id}.
type councilTopicPublisher struct {
	bus       *topicBus
	sessionID string
}

func (p councilTopicPublisher) Publish(evt council.Event) {
	p.bus.PublishJSON("council/"+p.sessionID, evt)
}

// handleObserverWS serves the read-only fan-out socket for village/{user_id}
// and council/{session_id} topics: tool_start, tool_complete, tool_error,
// approval_needed, input_needed, and connection frames, plus every
// council.Event for sessions the caller observes.
func (s *Server) handleObserverWS(w http.ResponseWriter, r *http.Request) {
	if _, err := s.authenticateHTTP(r); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	topic := strings.TrimPrefix(r.URL.Path, "/ws/observe/")
	if topic == "" {
		http.Error(w, "missing topic", http.StatusBadRequest)
		return
	}

	conn, err := councilUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub, unsubscribe := s.councilBus.Subscribe(topic)
	defer unsubscribe()

	_ = conn.WriteJSON(map[string]any{"type": "connection", "topic": topic, "at": time.Now()})

	for frame := range sub.ch {
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}
}

// authenticateHTTP resolves the caller's user from a bearer token or API
// key, the same precedence ChatSSEHandler uses.
func (s *Server) authenticateHTTP(r *http.Request) (*models.User, error) {
	if s.authService == nil || !s.authService.Enabled() {
		return nil, fmt.Errorf("auth not configured")
	}
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token := strings.TrimSpace(authHeader[len("bearer "):])
		if user, err := s.authService.ValidateJWT(token); err == nil {
			return user, nil
		}
	}
	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		if user, err := s.authService.ValidateAPIKey(apiKey); err == nil {
			return user, nil
		}
	}
	return nil, fmt.Errorf("no valid credentials")
}
