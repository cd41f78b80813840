package quota

import (
	"context"
	"testing"
	"time"

	"github.com/conclave-ai/conclave/pkg/models"
)

func TestSweeper_PrunesStaleCounters(t *testing.T) {
	ledger := NewMemoryLedger()
	now := time.Now()

	stale := &models.UsageCounter{
		UserID:      "old-user",
		Kind:        models.CounterMessagesTotal,
		PeriodStart: now.Add(-60 * 24 * time.Hour),
		PeriodEnd:   now.Add(-30 * 24 * time.Hour),
		Count:       5,
	}
	fresh := &models.UsageCounter{
		UserID:      "active-user",
		Kind:        models.CounterMessagesTotal,
		PeriodStart: now.Add(-time.Hour),
		PeriodEnd:   now.Add(30 * 24 * time.Hour),
		Count:       2,
	}
	ctx := context.Background()
	if err := ledger.Put(ctx, stale); err != nil {
		t.Fatalf("Put stale: %v", err)
	}
	if err := ledger.Put(ctx, fresh); err != nil {
		t.Fatalf("Put fresh: %v", err)
	}

	s := NewSweeper(ledger, 24*time.Hour, nil)
	s.sweepOnce(ctx)

	remaining := ledger.Snapshot()
	if len(remaining) != 1 {
		t.Fatalf("expected 1 counter to survive the sweep, got %d", len(remaining))
	}
	if remaining[0].UserID != "active-user" {
		t.Errorf("surviving counter belongs to %q, want %q", remaining[0].UserID, "active-user")
	}
}
