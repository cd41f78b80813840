package agent

import (
	"context"
	"sync"
)

// Per-user tool dispatch caps. Background-agent tools and confirmation-gated
// tools draw from separate pools so a burst of background work can never
// starve an interactive approval, and vice versa. Excess invocations wait in
// a bounded queue; once a class's queue is full, further invocations are
// rejected immediately instead of queued without bound.
const (
	defaultBackgroundToolCap = 3
	defaultConfirmToolCap    = 1
	defaultToolQueueDepth    = 8
)

// UserToolLimiter enforces per-user concurrency caps on tool dispatch,
// split by tool class. The zero limiter is not usable; construct with
// NewUserToolLimiter.
type UserToolLimiter struct {
	mu    sync.Mutex
	users map[string]*userToolSlots

	backgroundCap int
	confirmCap    int
	queueDepth    int
}

type userToolSlots struct {
	background *classSlots
	confirm    *classSlots
}

type classSlots struct {
	sem     chan struct{}
	waiting int
}

// NewUserToolLimiter constructs a limiter with the default caps: 3
// simultaneous background tools, 1 confirmation-gated tool, and a queue of
// 8 waiters per class.
func NewUserToolLimiter() *UserToolLimiter {
	return &UserToolLimiter{
		users:         make(map[string]*userToolSlots),
		backgroundCap: defaultBackgroundToolCap,
		confirmCap:    defaultConfirmToolCap,
		queueDepth:    defaultToolQueueDepth,
	}
}

// Acquire claims a dispatch slot for userID, blocking in the bounded queue
// when the class is at its cap. It returns a release func that must be
// called when the invocation finishes. With no limiter or no user identity
// there is nothing to meter and the acquire is a no-op.
//
// A full queue rejects immediately with a backpressure ToolError; callers
// surface it as the invocation's failed tool result rather than executing
// the tool.
func (l *UserToolLimiter) Acquire(ctx context.Context, userID string, needsConfirmation bool) (func(), error) {
	if l == nil || userID == "" {
		return func() {}, nil
	}

	l.mu.Lock()
	slots := l.users[userID]
	if slots == nil {
		slots = &userToolSlots{
			background: &classSlots{sem: make(chan struct{}, l.backgroundCap)},
			confirm:    &classSlots{sem: make(chan struct{}, l.confirmCap)},
		}
		l.users[userID] = slots
	}
	class := slots.background
	if needsConfirmation {
		class = slots.confirm
	}
	if class.waiting >= l.queueDepth {
		l.mu.Unlock()
		return nil, NewToolError("", ErrBackpressure).
			WithType(ToolErrorBackpressure).
			WithMessage("per-user tool concurrency queue is full")
	}
	class.waiting++
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		class.waiting--
		l.mu.Unlock()
	}()

	select {
	case class.sem <- struct{}{}:
		return func() { <-class.sem }, nil
	case <-ctx.Done():
		return nil, NewToolError("", ctx.Err()).
			WithType(ToolErrorTimeout).
			WithMessage("cancelled while waiting for a tool slot")
	}
}
