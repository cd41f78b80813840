// Package council implements the multi-agent deliberation engine: a
// council session runs its member agents through ordered rounds over a
// shared transcript, supports pausing between turns and human "butt-in"
// injection, and terminates on consensus, a round cap, or an explicit stop.
package council

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/conclave-ai/conclave/internal/agent"
	"github.com/conclave-ai/conclave/pkg/models"
)

// TurnRequest is everything a TurnRunner needs to produce one agent's turn.
type TurnRequest struct {
	SessionID    string
	Round        int
	AgentID      string
	ModelID      string
	ToolsEnabled bool
	Topic        string
	Transcript   []models.SessionMessage
}

// TurnResult is the settled output of one agent turn.
type TurnResult struct {
	Content string
	Usage   models.Usage
}

// EmitFunc streams sub-turn events (tokens, tool lifecycle) as they occur.
// The Engine wraps calls to it with session/round/agent identity before
// handing them to the configured Publisher.
type EmitFunc func(evt Event)

// TurnRunner executes a single agent's turn against the shared transcript.
// Production wiring backs this with the agent orchestrator's agentic loop;
// tests use a scripted stub.
type TurnRunner interface {
	RunTurn(ctx context.Context, req TurnRequest, emit EmitFunc) (*TurnResult, error)
}

// QuotaGate is the subset of *quota.Gate the engine needs. Declared locally
// so council depends on an interface, not the concrete quota package type,
// keeping the two packages loosely coupled.
type QuotaGate interface {
	Check(ctx context.Context, userID string, tier models.Tier, kind models.CounterKind, cost int64) error
}

// Config configures a new Engine.
type Config struct {
	Session     *models.CouncilSession
	Tier        models.Tier
	Runner      TurnRunner
	Store       Store
	Publisher   Publisher
	Convergence ConvergenceStrategy
	Quota       QuotaGate
	Threshold   float64 // convergence score at or above which the session completes
	Now         func() time.Time
}

// Engine drives one CouncilSession's rounds. An Engine is single-use: build
// one per session run.
type Engine struct {
	session     *models.CouncilSession
	tier        models.Tier
	runner      TurnRunner
	store       Store
	publisher   Publisher
	convergence ConvergenceStrategy
	quota       QuotaGate
	threshold   float64
	now         func() time.Time

	steering *agent.SteeringQueue

	mu      sync.Mutex
	cond    *sync.Cond
	paused  bool
	stopped bool
	cancel  context.CancelFunc
}

// NewEngine constructs an Engine for the given session. Session.State must
// be CouncilPending or CouncilPaused (resuming a persisted run).
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Session == nil {
		return nil, fmt.Errorf("council: Session is required")
	}
	if cfg.Session.State != models.CouncilPending && cfg.Session.State != models.CouncilPaused {
		return nil, &InvalidTransitionError{SessionID: cfg.Session.ID, From: string(cfg.Session.State), To: "running"}
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("council: Runner is required")
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = NoopPublisher{}
	}
	if cfg.Convergence == nil {
		cfg.Convergence = NewKeywordConvergence(nil)
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.8
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	e := &Engine{
		session:     cfg.Session,
		tier:        cfg.Tier,
		runner:      cfg.Runner,
		store:       cfg.Store,
		publisher:   cfg.Publisher,
		convergence: cfg.Convergence,
		quota:       cfg.Quota,
		threshold:   cfg.Threshold,
		now:         cfg.Now,
		steering:    agent.NewSteeringQueue(),
	}
	e.cond = sync.NewCond(&e.mu)
	return e, nil
}

// ButtIn queues a human message to be prepended to the transcript before
// the next agent turn starts. It reuses the agent package's steering queue
// so the human's cadence expectations (delivered before the very next
// turn) match ordinary mid-run steering.
func (e *Engine) ButtIn(content string) {
	e.steering.SteerText(content)
}

// Pause requests that the engine suspend after the in-flight agent turn
// completes. It does not interrupt a turn already underway.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
}

// Resume wakes a paused engine's Run loop.
func (e *Engine) Resume() {
	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()
	e.cond.Broadcast()
}

// Stop requests immediate termination, cancelling any in-flight turn.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopped = true
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.cond.Broadcast()
}

// waitIfPaused blocks the caller while the engine is paused, returning true
// if the caller should stop entirely.
func (e *Engine) waitIfPaused() (shouldStop bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.paused && !e.stopped {
		e.cond.Wait()
	}
	return e.stopped
}

func (e *Engine) isStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

// Run executes rounds until consensus, the round cap, or a stop request.
// It returns the session's final state. Run is not safe to call
// concurrently with itself on the same Engine.
func (e *Engine) Run(ctx context.Context) (*models.CouncilSession, error) {
	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	defer cancel()

	e.session.State = models.CouncilRunning
	e.session.UpdatedAt = e.now()
	if err := e.store.SaveSession(ctx, e.session); err != nil {
		return e.session, err
	}

	for e.session.CurrentRound < e.session.MaxRounds {
		if e.isStopped() {
			return e.finish(ctx, models.CouncilStopped, models.TerminationStopped)
		}
		if stop := e.waitIfPaused(); stop {
			return e.finish(ctx, models.CouncilStopped, models.TerminationStopped)
		}
		if err := runCtx.Err(); err != nil {
			return e.finish(ctx, models.CouncilStopped, models.TerminationCancelled)
		}

		round := e.session.CurrentRound + 1
		e.publisher.Publish(Event{Type: EventRoundStarted, SessionID: e.session.ID, Round: round, At: e.now()})

		e.applyButtIns(ctx, round)

		roundTexts, err := e.runRound(runCtx, round)
		if err != nil {
			if runCtx.Err() != nil {
				return e.finish(ctx, models.CouncilStopped, models.TerminationCancelled)
			}
			e.publisher.Publish(Event{Type: EventSessionError, SessionID: e.session.ID, Round: round, Payload: map[string]any{"error": err.Error()}, At: e.now()})
			return e.session, err
		}

		e.session.CurrentRound = round
		e.session.UpdatedAt = e.now()

		score, err := e.convergence.Score(runCtx, roundTexts)
		if err == nil {
			e.session.ConvergenceScore = score
		}
		e.publisher.Publish(Event{
			Type:      EventRoundComplete,
			SessionID: e.session.ID,
			Round:     round,
			Payload:   map[string]any{"convergence_score": e.session.ConvergenceScore},
			At:        e.now(),
		})
		if err := e.store.SaveSession(ctx, e.session); err != nil {
			return e.session, err
		}

		if e.session.ConvergenceScore >= e.threshold {
			return e.finish(ctx, models.CouncilCompleted, models.TerminationConsensus)
		}
	}

	return e.finish(ctx, models.CouncilCompleted, models.TerminationRoundCap)
}

// applyButtIns drains any queued human messages into the transcript ahead
// of the round's first agent turn.
func (e *Engine) applyButtIns(ctx context.Context, round int) {
	if !e.steering.HasSteering() {
		return
	}
	for _, msg := range e.steering.GetSteeringMessages() {
		sm := &models.SessionMessage{
			ID:        fmt.Sprintf("%s-r%d-human-%d", e.session.ID, round, e.now().UnixNano()),
			SessionID: e.session.ID,
			Round:     round,
			Role:      models.SessionMessageHumanInterject,
			Content:   msg.Content,
			CreatedAt: e.now(),
		}
		_ = e.store.AppendMessage(ctx, sm)
		e.publisher.Publish(Event{
			Type:      EventHumanInterject,
			SessionID: e.session.ID,
			Round:     round,
			Payload:   map[string]any{"content": msg.Content},
			At:        e.now(),
		})
	}
	e.steering.ClearSteering()
}

// runRound runs every agent's turn in order and returns each agent's
// settled text for convergence scoring.
func (e *Engine) runRound(ctx context.Context, round int) ([]string, error) {
	texts := make([]string, 0, len(e.session.Agents))

	for _, agentID := range e.session.Agents {
		if e.isStopped() {
			return texts, ctx.Err()
		}
		if stop := e.waitIfPaused(); stop {
			return texts, ctx.Err()
		}

		if e.quota != nil {
			kind := modelCounterKind(e.session.ModelOverride)
			if err := e.quota.Check(ctx, e.session.UserID, e.tier, kind, 1); err != nil {
				return texts, err
			}
		}

		transcript, err := e.store.Transcript(ctx, e.session.ID)
		if err != nil {
			return texts, err
		}

		req := TurnRequest{
			SessionID:    e.session.ID,
			Round:        round,
			AgentID:      agentID,
			ModelID:      e.session.ModelOverride,
			ToolsEnabled: e.session.ToolsEnabled,
			Topic:        e.session.Topic,
			Transcript:   transcript,
		}

		emit := func(evt Event) {
			evt.SessionID = e.session.ID
			evt.Round = round
			if evt.AgentID == "" {
				evt.AgentID = agentID
			}
			if evt.At.IsZero() {
				evt.At = e.now()
			}
			e.publisher.Publish(evt)
		}

		turnCtx := agent.WithQuotaIdentity(ctx, agent.QuotaIdentity{UserID: e.session.UserID, Tier: e.tier})
		result, err := e.runner.RunTurn(turnCtx, req, emit)
		if err != nil {
			return texts, fmt.Errorf("council: agent %s turn failed: %w", agentID, err)
		}

		msg := &models.SessionMessage{
			ID:        fmt.Sprintf("%s-r%d-%s", e.session.ID, round, agentID),
			SessionID: e.session.ID,
			Round:     round,
			Role:      models.SessionMessageAgent,
			AgentID:   agentID,
			Content:   result.Content,
			Usage:     result.Usage,
			CreatedAt: e.now(),
		}
		if err := e.store.AppendMessage(ctx, msg); err != nil {
			return texts, err
		}

		e.publisher.Publish(Event{Type: EventAgentComplete, SessionID: e.session.ID, Round: round, AgentID: agentID, At: e.now()})
		texts = append(texts, result.Content)
	}

	return texts, nil
}

func (e *Engine) finish(ctx context.Context, state models.CouncilState, reason models.CouncilTerminationReason) (*models.CouncilSession, error) {
	e.session.State = state
	e.session.TerminationReason = reason
	e.session.UpdatedAt = e.now()
	if err := e.store.SaveSession(ctx, e.session); err != nil {
		return e.session, err
	}

	var evtType EventType
	switch state {
	case models.CouncilStopped:
		evtType = EventSessionStopped
	default:
		evtType = EventSessionDone
	}
	e.publisher.Publish(Event{
		Type:      evtType,
		SessionID: e.session.ID,
		Payload:   map[string]any{"termination_reason": string(reason)},
		At:        e.now(),
	})
	return e.session, nil
}

func modelCounterKind(modelID string) models.CounterKind {
	switch modelID {
	case "claude-opus-4", "opus":
		return models.CounterMessagesOpus
	case "claude-haiku", "haiku":
		return models.CounterMessagesHaiku
	case "", "claude-sonnet-4", "sonnet":
		return models.CounterMessagesSonnet
	default:
		return models.CounterMessagesOther
	}
}
