// Package jobstore provides durable storage for batch and child execution
// records. The orchestrator core talks to the Store interface only; the
// SQLite implementation backs the server, the in-memory one backs tests.
package jobstore

import (
	"time"

	"github.com/opsforge/fleet-orchestrator/internal/domain"
)

// LogLine is one line of executor output attached to a child execution
type LogLine struct {
	Line      int
	Content   string
	Level     string
	Timestamp time.Time
}

// Store persists batch and child execution records.
//
// CreateBatch is atomic: either the parent and every child become visible
// together, or nothing does. All child mutations for one batch are routed
// through that batch's dispatcher goroutine, so implementations do not need
// per-record locking beyond connection safety.
type Store interface {
	CreateBatch(parent *domain.BatchExecution, children []*domain.ChildExecution) error
	GetBatch(id string) (*domain.BatchExecution, error)
	ListBatches(limit int) ([]*domain.BatchExecution, error)
	UpdateParent(id string, status domain.Status, startedAt, completedAt *time.Time) error

	GetChild(id string) (*domain.ChildExecution, error)
	ListChildren(batchID string) ([]*domain.ChildExecution, error)
	UpdateChild(child *domain.ChildExecution) error

	AppendChildLogs(childID string, lines []LogLine) error
	GetChildLogs(childID string, startLine, limit int) ([]LogLine, error)
	PruneLogs(olderThan time.Time) (int, error)

	CountByStatus() (map[domain.Status]int, error)

	Close() error
}
