package jobstore

import (
	"sort"
	"sync"
	"time"

	"github.com/opsforge/fleet-orchestrator/internal/domain"
)

// MemoryStore is an in-memory Store used by tests and as the reference
// implementation of the atomicity contract.
type MemoryStore struct {
	mu       sync.RWMutex
	batches  map[string]*domain.BatchExecution
	children map[string]*domain.ChildExecution
	byBatch  map[string][]string // batch id -> child ids in sequence order
	logs     map[string][]LogLine
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		batches:  make(map[string]*domain.BatchExecution),
		children: make(map[string]*domain.ChildExecution),
		byBatch:  make(map[string][]string),
		logs:     make(map[string][]LogLine),
	}
}

// CreateBatch stores the parent and children under one lock acquisition,
// so readers never observe a partial batch
func (m *MemoryStore) CreateBatch(parent *domain.BatchExecution, children []*domain.ChildExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := *parent
	m.batches[p.ID] = &p

	ids := make([]string, 0, len(children))
	for _, c := range children {
		cc := *c
		m.children[cc.ID] = &cc
		ids = append(ids, cc.ID)
	}
	m.byBatch[p.ID] = ids

	return nil
}

// GetBatch retrieves a parent record by id
func (m *MemoryStore) GetBatch(id string) (*domain.BatchExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.batches[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copy := *b
	return &copy, nil
}

// ListBatches returns batches, newest first
func (m *MemoryStore) ListBatches(limit int) ([]*domain.BatchExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	batches := make([]*domain.BatchExecution, 0, len(m.batches))
	for _, b := range m.batches {
		copy := *b
		batches = append(batches, &copy)
	}
	sort.Slice(batches, func(i, j int) bool {
		return batches[i].CreatedAt.After(batches[j].CreatedAt)
	})
	if limit > 0 && len(batches) > limit {
		batches = batches[:limit]
	}
	return batches, nil
}

// UpdateParent updates a parent's status and timestamps
func (m *MemoryStore) UpdateParent(id string, status domain.Status, startedAt, completedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[id]
	if !ok {
		return domain.ErrNotFound
	}
	b.Status = status
	if startedAt != nil {
		t := *startedAt
		b.StartedAt = &t
	}
	if completedAt != nil {
		t := *completedAt
		b.CompletedAt = &t
	}
	return nil
}

// GetChild retrieves a child record by id
func (m *MemoryStore) GetChild(id string) (*domain.ChildExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.children[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copy := *c
	return &copy, nil
}

// ListChildren returns a batch's children in sequence order
func (m *MemoryStore) ListChildren(batchID string) ([]*domain.ChildExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids, ok := m.byBatch[batchID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	children := make([]*domain.ChildExecution, 0, len(ids))
	for _, id := range ids {
		copy := *m.children[id]
		children = append(children, &copy)
	}
	return children, nil
}

// UpdateChild writes a child record back
func (m *MemoryStore) UpdateChild(child *domain.ChildExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.children[child.ID]; !ok {
		return domain.ErrNotFound
	}
	copy := *child
	m.children[child.ID] = &copy
	return nil
}

// AppendChildLogs appends output lines for a child
func (m *MemoryStore) AppendChildLogs(childID string, lines []LogLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, l := range lines {
		if l.Timestamp.IsZero() {
			l.Timestamp = time.Now()
		}
		if l.Level == "" {
			l.Level = "INFO"
		}
		m.logs[childID] = append(m.logs[childID], l)
	}
	return nil
}

// GetChildLogs returns log lines for a child, ordered by line number
func (m *MemoryStore) GetChildLogs(childID string, startLine, limit int) ([]LogLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var lines []LogLine
	for _, l := range m.logs[childID] {
		if startLine > 0 && l.Line < startLine {
			continue
		}
		lines = append(lines, l)
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].Line < lines[j].Line })
	if limit > 0 && len(lines) > limit {
		lines = lines[:limit]
	}
	return lines, nil
}

// PruneLogs deletes log lines older than the cutoff
func (m *MemoryStore) PruneLogs(olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pruned := 0
	for id, lines := range m.logs {
		kept := lines[:0]
		for _, l := range lines {
			if l.Timestamp.Before(olderThan) {
				pruned++
				continue
			}
			kept = append(kept, l)
		}
		m.logs[id] = kept
	}
	return pruned, nil
}

// CountByStatus returns batch counts grouped by status
func (m *MemoryStore) CountByStatus() (map[domain.Status]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[domain.Status]int)
	for _, b := range m.batches {
		counts[b.Status]++
	}
	return counts, nil
}

// Close is a no-op for the in-memory store
func (m *MemoryStore) Close() error { return nil }
