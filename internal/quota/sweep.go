package quota

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically prunes stale per-period counters from a MemoryLedger.
// Correctness never depends on the sweep running — currentCounter already
// performs a lazy reset on first access past a period boundary — this only
// bounds growth of old-period rows for long-idle users.
type Sweeper struct {
	ledger    *MemoryLedger
	retention time.Duration
	logger    *slog.Logger
	cron      *cron.Cron
}

// NewSweeper constructs a Sweeper that prunes counters whose period ended
// more than retention ago. If logger is nil, slog.Default() is used.
func NewSweeper(ledger *MemoryLedger, retention time.Duration, logger *slog.Logger) *Sweeper {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{ledger: ledger, retention: retention, logger: logger}
}

// Start schedules the hourly sweep and returns immediately; call Stop to
// shut it down.
func (s *Sweeper) Start(ctx context.Context) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc("@hourly", func() { s.sweepOnce(ctx) })
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduled sweep, waiting for any in-flight run to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	cutoff := time.Now().Add(-s.retention)
	pruned := 0
	for _, counter := range s.ledger.Snapshot() {
		if counter.PeriodEnd.Before(cutoff) {
			s.ledger.mu.Lock()
			delete(s.ledger.counters, ledgerKey(counter.UserID, counter.Kind, counter.PeriodStart))
			s.ledger.mu.Unlock()
			pruned++
		}
	}
	if pruned > 0 {
		s.logger.Info("quota sweep pruned stale counters", "count", pruned)
	}
}
