package domain

import "errors"

// Status represents the lifecycle state of a batch or child execution
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal returns true for states from which no further transition occurs
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Strategy selects how a batch's children are dispatched
type Strategy string

const (
	StrategyParallel   Strategy = "parallel"
	StrategySequential Strategy = "sequential"
)

// MaxConcurrencyLimit bounds the parallel window for a single batch
const MaxConcurrencyLimit = 20

// Validation errors returned synchronously at submit time. The batch is
// never created when any of these apply.
var (
	ErrTooFewTargets         = errors.New("batch requires at least 2 targets")
	ErrDuplicateTarget       = errors.New("duplicate target in batch")
	ErrConcurrencyOutOfRange = errors.New("concurrency limit must be between 1 and 20")
	ErrUnknownStrategy       = errors.New("execution strategy must be parallel or sequential")
	ErrUnknownProcedure      = errors.New("unknown procedure")
	ErrUnknownTarget         = errors.New("unknown target")
)

// ErrNotFound is returned when a batch or child id does not exist
var ErrNotFound = errors.New("not found")

// InvalidRequest reports whether err is a submit-time validation failure
// (as opposed to an infrastructure error)
func InvalidRequest(err error) bool {
	for _, e := range []error{
		ErrTooFewTargets,
		ErrDuplicateTarget,
		ErrConcurrencyOutOfRange,
		ErrUnknownStrategy,
		ErrUnknownProcedure,
		ErrUnknownTarget,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
