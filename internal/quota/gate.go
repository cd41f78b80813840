package quota

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/conclave-ai/conclave/pkg/models"
)

// PeriodFunc computes the [start, end) billing-period boundary containing t.
// The default is a rolling calendar month; callers may inject an alternative
// for tests or for non-monthly billing cycles.
type PeriodFunc func(t time.Time) (start, end time.Time)

// MonthlyPeriod is the default PeriodFunc: a calendar-month period in UTC.
func MonthlyPeriod(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	return start, end
}

// Ledger persists UsageCounter rows. The in-memory implementation below
// satisfies it; a Postgres-backed implementation can satisfy it the same way
// the Conversation/Branch Store contracts are implemented against multiple
// substrates.
type Ledger interface {
	Get(ctx context.Context, userID string, kind models.CounterKind, periodStart time.Time) (*models.UsageCounter, error)
	Put(ctx context.Context, counter *models.UsageCounter) error
}

// userLock is the per-user refcounted mutex used to serialize reservations,
// grounded on the teacher's sessionLock idiom in internal/agent/tool_registry.go.
type userLock struct {
	mu   sync.Mutex
	refs int
}

// Gate is the Quota & Policy Gate: it verifies tier entitlement and reserves
// per-user, per-period counters atomically before any billable action.
type Gate struct {
	bundles map[Tier]Bundle
	ledger  Ledger
	now     func() time.Time
	period  PeriodFunc

	locksMu sync.Mutex
	locks   map[string]*userLock
}

// Config configures a Gate at construction.
type Config struct {
	Bundles map[Tier]Bundle
	Ledger  Ledger
	// Now overrides the clock; defaults to time.Now. Tests inject a fixed
	// clock to make period-boundary behavior deterministic.
	Now func() time.Time
	// Period overrides the billing-period function; defaults to MonthlyPeriod.
	Period PeriodFunc
}

// NewGate constructs a Gate from the given configuration, filling in
// defaults for any zero-valued fields.
func NewGate(cfg Config) *Gate {
	bundles := cfg.Bundles
	if bundles == nil {
		bundles = DefaultBundles()
	}
	ledger := cfg.Ledger
	if ledger == nil {
		ledger = NewMemoryLedger()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	period := cfg.Period
	if period == nil {
		period = MonthlyPeriod
	}
	return &Gate{
		bundles: bundles,
		ledger:  ledger,
		now:     now,
		period:  period,
		locks:   make(map[string]*userLock),
	}
}

func (g *Gate) lockUser(userID string) func() {
	if strings.TrimSpace(userID) == "" {
		return func() {}
	}
	g.locksMu.Lock()
	lock := g.locks[userID]
	if lock == nil {
		lock = &userLock{}
		g.locks[userID] = lock
	}
	lock.refs++
	g.locksMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		g.locksMu.Lock()
		lock.refs--
		if lock.refs <= 0 {
			delete(g.locks, userID)
		}
		g.locksMu.Unlock()
	}
}

func (g *Gate) bundleFor(tier models.Tier) Bundle {
	if b, ok := g.bundles[tier]; ok {
		return b
	}
	return Bundle{Tier: tier} // unknown tier: zero-value bundle, everything forbidden
}

// Allowed reports whether a model is permitted for the given tier. It
// enforces AllowedModels membership only; the per-period opus sub-limit is
// checked at reservation time via Reserve(CounterMessagesOpus).
func (g *Gate) AllowedModel(tier models.Tier, modelID string) bool {
	return g.bundleFor(tier).modelAllowed(modelID)
}

// AllowedTool reports whether tools are enabled at all for the tier. Finer
// per-tool gating (e.g. "safe bins only") is the concern of
// internal/agent.ApprovalChecker / internal/tools/policy, which this method
// does not duplicate.
func (g *Gate) AllowedTool(tier models.Tier) bool {
	return g.bundleFor(tier).ToolsEnabled
}

// AllowedFeature reports whether a named feature ("council", "music", "jam",
// "training", "dev_mode") is enabled for the tier.
func (g *Gate) AllowedFeature(tier models.Tier, feature string) bool {
	b := g.bundleFor(tier)
	switch feature {
	case "council":
		return b.CouncilEnabled
	case "music":
		return b.MusicEnabled
	case "jam":
		return b.JamEnabled
	case "training":
		return b.TrainingEnabled
	case "dev_mode":
		return b.DevModeEligible
	default:
		return false
	}
}

// CouncilMaxAgents returns the maximum number of participating agents a
// council session may have for the tier; 0 means unbounded.
func (g *Gate) CouncilMaxAgents(tier models.Tier) int {
	return g.bundleFor(tier).CouncilMaxAgents
}

// Check verifies, without reserving, whether cost more units of kind would
// fit within the user's remaining allowance this period.
func (g *Gate) Check(ctx context.Context, userID string, tier models.Tier, kind models.CounterKind, cost int64) error {
	limit := g.bundleFor(tier).limitFor(kind)
	if limit <= 0 {
		return nil // unlimited
	}
	counter, err := g.currentCounter(ctx, userID, kind)
	if err != nil {
		return err
	}
	if counter.Count+cost > limit {
		return &OverQuotaError{UserID: userID, Counter: kind, ResetAt: counter.PeriodEnd}
	}
	return nil
}

// Reservation is the release-or-commit handle returned by Reserve. Exactly
// one of Commit or Release must be called exactly once.
type Reservation struct {
	gate    *Gate
	userID  string
	kind    models.CounterKind
	cost    int64
	done    bool
	mu      sync.Mutex
}

// Commit finalizes the reservation. If actualCost differs from the
// originally reserved cost (e.g. actual token usage replacing a pre-flight
// estimate of 1), the counter is adjusted by the difference. Calling Commit
// more than once, or after Release, is a no-op.
func (r *Reservation) Commit(ctx context.Context, actualCost int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return nil
	}
	r.done = true
	delta := actualCost - r.cost
	if delta == 0 {
		return nil
	}
	return r.gate.adjust(ctx, r.userID, r.kind, delta)
}

// Release undoes the reservation's increment, as if it had never happened.
// Calling Release more than once, or after Commit, is a no-op.
func (r *Reservation) Release(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return nil
	}
	r.done = true
	return r.gate.adjust(ctx, r.userID, r.kind, -r.cost)
}

// Reserve atomically checks and increments a counter, returning a
// Reservation the caller must Commit or Release exactly once. Reservation is
// serialized per user: concurrent Reserve calls for the same user never lose
// an update.
func (g *Gate) Reserve(ctx context.Context, userID string, tier models.Tier, kind models.CounterKind, cost int64) (*Reservation, error) {
	unlock := g.lockUser(userID)
	defer unlock()

	limit := g.bundleFor(tier).limitFor(kind)
	counter, err := g.currentCounter(ctx, userID, kind)
	if err != nil {
		return nil, err
	}
	if limit > 0 && counter.Count+cost > limit {
		return nil, &OverQuotaError{UserID: userID, Counter: kind, ResetAt: counter.PeriodEnd}
	}
	counter.Count += cost
	if err := g.ledger.Put(ctx, counter); err != nil {
		return nil, err
	}
	return &Reservation{gate: g, userID: userID, kind: kind, cost: cost}, nil
}

// adjust applies delta to the user's current-period counter for kind. It
// takes the per-user lock itself, so it must never be called while already
// holding it (Reserve calls it only indirectly, via Commit/Release, which run
// after Reserve's own lock has been released).
func (g *Gate) adjust(ctx context.Context, userID string, kind models.CounterKind, delta int64) error {
	if delta == 0 {
		return nil
	}
	unlock := g.lockUser(userID)
	defer unlock()

	counter, err := g.currentCounter(ctx, userID, kind)
	if err != nil {
		return err
	}
	counter.Count += delta
	if counter.Count < 0 {
		counter.Count = 0
	}
	return g.ledger.Put(ctx, counter)
}

// currentCounter loads (or lazily resets) the counter for the current
// billing period. Lazy reset on first access after the period boundary
// satisfies the spec's period-reset requirement without a background sweep
// being load-bearing for correctness.
func (g *Gate) currentCounter(ctx context.Context, userID string, kind models.CounterKind) (*models.UsageCounter, error) {
	start, end := g.period(g.now())
	counter, err := g.ledger.Get(ctx, userID, kind, start)
	if err != nil {
		return nil, err
	}
	if counter == nil {
		counter = &models.UsageCounter{
			UserID:      userID,
			Kind:        kind,
			PeriodStart: start,
			PeriodEnd:   end,
		}
	}
	return counter, nil
}
