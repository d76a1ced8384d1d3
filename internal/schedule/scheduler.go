// Package schedule runs recurring batches from TOML configuration on
// cron schedules, and sweeps old execution logs on a retention interval.
package schedule

import (
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler manages scheduled recurring batches
type Scheduler struct {
	configs  map[string]RecurringBatch
	parser   cron.Parser
	lastRun  map[string]time.Time
	running  map[string]bool
	mu       sync.RWMutex
	stopChan chan struct{}
}

// NewScheduler creates a scheduler for the given recurring batches
func NewScheduler(configs []RecurringBatch) (*Scheduler, error) {
	s := &Scheduler{
		configs:  make(map[string]RecurringBatch),
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		lastRun:  make(map[string]time.Time),
		running:  make(map[string]bool),
		stopChan: make(chan struct{}),
	}

	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		s.configs[cfg.Name] = cfg
	}

	return s, nil
}

// ParseCron parses a cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(expr)
}

// NextRun returns the next scheduled run time for a recurring batch
func (s *Scheduler) NextRun(name string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[name]
	if !ok {
		return time.Time{}
	}

	sched, err := s.parser.Parse(cfg.Cron)
	if err != nil {
		return time.Time{}
	}

	return sched.Next(time.Now())
}

// ShouldRun returns true if a recurring batch should run now. A batch
// whose previous occurrence is still running is skipped, not queued.
func (s *Scheduler) ShouldRun(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[name]
	if !ok {
		return false
	}

	if s.running[name] {
		return false
	}

	sched, err := s.parser.Parse(cfg.Cron)
	if err != nil {
		return false
	}

	lastRun := s.lastRun[name]
	if lastRun.IsZero() {
		lastRun = time.Now().Add(-24 * time.Hour)
	}

	nextRun := sched.Next(lastRun)
	return time.Now().After(nextRun)
}

// MarkRunning marks a recurring batch as currently running
func (s *Scheduler) MarkRunning(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = true
}

// MarkComplete marks a recurring batch as complete
func (s *Scheduler) MarkComplete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = false
	s.lastRun[name] = time.Now()
}

// GetConfig returns the config for a recurring batch
func (s *Scheduler) GetConfig(name string) (RecurringBatch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[name]
	return cfg, ok
}

// ListBatches returns all recurring batch names
func (s *Scheduler) ListBatches() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.configs))
	for name := range s.configs {
		names = append(names, name)
	}
	return names
}

// Start begins the scheduler loop, blocking until Stop is called
func (s *Scheduler) Start(runFunc func(RecurringBatch) error) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			for name := range s.configs {
				if s.ShouldRun(name) {
					cfg, _ := s.GetConfig(name)
					s.MarkRunning(name)
					go func(c RecurringBatch) {
						if err := runFunc(c); err != nil {
							log.Printf("recurring batch %s failed: %v", c.Name, err)
						}
						s.MarkComplete(c.Name)
					}(cfg)
				}
			}
		}
	}
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	close(s.stopChan)
}
