package domain

import (
	"fmt"
	"time"
)

// Policy controls how a batch's children are scheduled.
// This is the only wire format the orchestrator core defines; it is
// persisted alongside the parent record.
type Policy struct {
	Strategy         Strategy `json:"strategy" toml:"strategy"`
	ConcurrencyLimit int      `json:"concurrency_limit" toml:"concurrency_limit"`
	StopOnFailure    bool     `json:"stop_on_failure" toml:"stop_on_failure"`
}

// Validate checks the policy against the allowed strategies and limits
func (p Policy) Validate() error {
	switch p.Strategy {
	case StrategySequential:
		return nil
	case StrategyParallel:
		if p.ConcurrencyLimit < 1 || p.ConcurrencyLimit > MaxConcurrencyLimit {
			return ErrConcurrencyOutOfRange
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStrategy, p.Strategy)
	}
}

// Window returns the effective number of concurrently admitted children
func (p Policy) Window() int {
	if p.Strategy == StrategySequential {
		return 1
	}
	return p.ConcurrencyLimit
}

// BatchExecution is the parent record for one procedure run against many targets
type BatchExecution struct {
	ID           string
	ProcedureRef string
	Targets      []string
	Policy       Policy
	Status       Status
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// ChildExecution records the procedure run against exactly one target
type ChildExecution struct {
	ID             string
	BatchID        string
	TargetID       string
	SequenceIndex  int
	Status         Status
	ExecutorHandle string
	Error          string
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// Target is a resolved execution target from the inventory
type Target struct {
	ID      string
	Host    string
	Port    int
	SSHUser string
}

// ValidateRequest checks a submit request. Batches of size 1 are not a
// batch; every target may appear at most once.
func ValidateRequest(targets []string, policy Policy) error {
	if len(targets) < 2 {
		return ErrTooFewTargets
	}
	seen := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		if _, dup := seen[t]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateTarget, t)
		}
		seen[t] = struct{}{}
	}
	return policy.Validate()
}

// Summary counts children by terminal outcome
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Cancelled int
	Running   int
	Pending   int
}

// Summarize builds a Summary from a child list
func Summarize(children []*ChildExecution) Summary {
	var s Summary
	s.Total = len(children)
	for _, c := range children {
		switch c.Status {
		case StatusSuccess:
			s.Succeeded++
		case StatusFailed:
			s.Failed++
		case StatusCancelled:
			s.Cancelled++
		case StatusRunning:
			s.Running++
		case StatusPending:
			s.Pending++
		}
	}
	return s
}

// String renders the per-child breakdown shown in notifications and the API
func (s Summary) String() string {
	return fmt.Sprintf("%d/%d succeeded, %d failed, %d cancelled",
		s.Succeeded, s.Total, s.Failed, s.Cancelled)
}
