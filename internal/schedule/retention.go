package schedule

import (
	"context"
	"log"
	"time"

	"github.com/opsforge/fleet-orchestrator/internal/jobstore"
)

// DefaultLogRetention is how long child execution logs are kept
const DefaultLogRetention = 90 * 24 * time.Hour

// LogSweeper prunes old child execution logs on an interval
type LogSweeper struct {
	store     jobstore.Store
	retention time.Duration
	interval  time.Duration
}

// NewLogSweeper creates a sweeper. Zero retention or interval fall back
// to 90 days and 24 hours respectively.
func NewLogSweeper(store jobstore.Store, retention, interval time.Duration) *LogSweeper {
	if retention <= 0 {
		retention = DefaultLogRetention
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &LogSweeper{store: store, retention: retention, interval: interval}
}

// Sweep prunes logs older than the retention window once
func (s *LogSweeper) Sweep() (int, error) {
	return s.store.PruneLogs(time.Now().Add(-s.retention))
}

// Start sweeps on the configured interval until ctx is done
func (s *LogSweeper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pruned, err := s.Sweep()
				if err != nil {
					log.Printf("log sweep: %v", err)
					continue
				}
				if pruned > 0 {
					log.Printf("log sweep: pruned %d lines", pruned)
				}
			}
		}
	}()
}
