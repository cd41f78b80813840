package quota

import (
	"context"
	"sync"
	"time"

	"github.com/conclave-ai/conclave/pkg/models"
)

// MemoryLedger is a thread-safe in-memory Ledger, suitable for tests and
// single-process deployments. Keys are userID + counter kind + period start.
type MemoryLedger struct {
	mu       sync.RWMutex
	counters map[string]*models.UsageCounter
}

// NewMemoryLedger constructs an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{counters: make(map[string]*models.UsageCounter)}
}

func ledgerKey(userID string, kind models.CounterKind, periodStart time.Time) string {
	return userID + "|" + string(kind) + "|" + periodStart.Format(time.RFC3339)
}

// Get returns the counter for the given user/kind/period, or nil if none has
// been recorded yet.
func (l *MemoryLedger) Get(ctx context.Context, userID string, kind models.CounterKind, periodStart time.Time) (*models.UsageCounter, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if c, ok := l.counters[ledgerKey(userID, kind, periodStart)]; ok {
		clone := *c
		return &clone, nil
	}
	return nil, nil
}

// Put stores (overwriting) the counter.
func (l *MemoryLedger) Put(ctx context.Context, counter *models.UsageCounter) error {
	if counter == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	clone := *counter
	l.counters[ledgerKey(counter.UserID, counter.Kind, counter.PeriodStart)] = &clone
	return nil
}

// Snapshot returns a copy of every counter currently held, for the scheduled
// sweep and for tests.
func (l *MemoryLedger) Snapshot() []*models.UsageCounter {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*models.UsageCounter, 0, len(l.counters))
	for _, c := range l.counters {
		clone := *c
		out = append(out, &clone)
	}
	return out
}
