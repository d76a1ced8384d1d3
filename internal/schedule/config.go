package schedule

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/opsforge/fleet-orchestrator/internal/domain"
)

// RecurringBatch represents a scheduled batch configuration
type RecurringBatch struct {
	Name             string   `toml:"name"`
	Cron             string   `toml:"cron"`
	Playbook         string   `toml:"playbook"`
	Targets          []string `toml:"targets"`
	Strategy         string   `toml:"strategy"`
	ConcurrencyLimit int      `toml:"concurrency_limit"`
	StopOnFailure    bool     `toml:"stop_on_failure"`
}

// ScheduleConfig holds all recurring batch configurations
type ScheduleConfig struct {
	Batches []RecurringBatch `toml:"batch"`
}

// Policy returns the execution policy for the recurring batch
func (b *RecurringBatch) Policy() domain.Policy {
	return domain.Policy{
		Strategy:         domain.Strategy(b.Strategy),
		ConcurrencyLimit: b.ConcurrencyLimit,
		StopOnFailure:    b.StopOnFailure,
	}
}

// Validate checks if the config is valid
func (b *RecurringBatch) Validate() error {
	if b.Name == "" {
		return fmt.Errorf("batch name is required")
	}
	if b.Cron == "" {
		return fmt.Errorf("cron expression is required")
	}
	if _, err := ParseCron(b.Cron); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	if b.Playbook == "" {
		return fmt.Errorf("playbook is required")
	}
	if b.Strategy == "" {
		b.Strategy = string(domain.StrategySequential) // Default
	}
	if err := domain.ValidateRequest(b.Targets, b.Policy()); err != nil {
		return err
	}
	return nil
}

// LoadScheduleConfig loads recurring batch configuration from a TOML file
func LoadScheduleConfig(path string) (*ScheduleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ScheduleConfig{}, nil
		}
		return nil, err
	}

	var cfg ScheduleConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	for i := range cfg.Batches {
		if err := cfg.Batches[i].Validate(); err != nil {
			return nil, fmt.Errorf("batch %d: %w", i, err)
		}
	}

	return &cfg, nil
}
