package jobstore

import (
	"errors"
	"testing"
	"time"

	"github.com/opsforge/fleet-orchestrator/internal/domain"
)

// Both implementations must satisfy the same contract, so every test runs
// against each.
func withStores(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()

	t.Run("sqlite", func(t *testing.T) {
		s, err := Open(":memory:")
		if err != nil {
			t.Fatal(err)
		}
		defer s.Close()
		fn(t, s)
	})

	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
}

func seedBatch(t *testing.T, s Store, id string, targets ...string) (*domain.BatchExecution, []*domain.ChildExecution) {
	t.Helper()

	parent := &domain.BatchExecution{
		ID:           id,
		ProcedureRef: "deploy-nginx",
		Targets:      targets,
		Policy:       domain.Policy{Strategy: domain.StrategyParallel, ConcurrencyLimit: 2},
		Status:       domain.StatusPending,
		CreatedAt:    time.Now(),
	}
	children := make([]*domain.ChildExecution, len(targets))
	for i, target := range targets {
		children[i] = &domain.ChildExecution{
			ID:            id + "-c" + target,
			BatchID:       id,
			TargetID:      target,
			SequenceIndex: i,
			Status:        domain.StatusPending,
		}
	}

	if err := s.CreateBatch(parent, children); err != nil {
		t.Fatal(err)
	}
	return parent, children
}

func TestStore_CreateAndGetBatch(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		seedBatch(t, s, "b1", "web-01", "web-02", "web-03")

		got, err := s.GetBatch("b1")
		if err != nil {
			t.Fatal(err)
		}
		if got.ProcedureRef != "deploy-nginx" {
			t.Errorf("ProcedureRef = %q, want deploy-nginx", got.ProcedureRef)
		}
		if len(got.Targets) != 3 {
			t.Errorf("got %d targets, want 3", len(got.Targets))
		}
		if got.Policy.ConcurrencyLimit != 2 {
			t.Errorf("ConcurrencyLimit = %d, want 2", got.Policy.ConcurrencyLimit)
		}
		if got.Status != domain.StatusPending {
			t.Errorf("Status = %s, want pending", got.Status)
		}
		if got.StartedAt != nil {
			t.Error("StartedAt should be nil on a fresh batch")
		}
	})
}

func TestStore_GetBatchNotFound(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		_, err := s.GetBatch("missing")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("got %v, want ErrNotFound", err)
		}
	})
}

func TestStore_ListChildrenInSequenceOrder(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		seedBatch(t, s, "b1", "web-03", "web-01", "web-02")

		children, err := s.ListChildren("b1")
		if err != nil {
			t.Fatal(err)
		}
		if len(children) != 3 {
			t.Fatalf("got %d children, want 3", len(children))
		}
		// Sequence order is submission order, not target name order
		want := []string{"web-03", "web-01", "web-02"}
		for i, c := range children {
			if c.TargetID != want[i] {
				t.Errorf("child %d target = %s, want %s", i, c.TargetID, want[i])
			}
			if c.SequenceIndex != i {
				t.Errorf("child %d sequence index = %d, want %d", i, c.SequenceIndex, i)
			}
		}
	})
}

func TestStore_UpdateChild(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		_, children := seedBatch(t, s, "b1", "web-01", "web-02")

		now := time.Now()
		c := children[0]
		c.Status = domain.StatusFailed
		c.Error = "unreachable"
		c.ExecutorHandle = "run-42"
		c.StartedAt = &now
		c.CompletedAt = &now

		if err := s.UpdateChild(c); err != nil {
			t.Fatal(err)
		}

		got, err := s.GetChild(c.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != domain.StatusFailed {
			t.Errorf("Status = %s, want failed", got.Status)
		}
		if got.Error != "unreachable" {
			t.Errorf("Error = %q, want unreachable", got.Error)
		}
		if got.ExecutorHandle != "run-42" {
			t.Errorf("ExecutorHandle = %q, want run-42", got.ExecutorHandle)
		}
		if got.StartedAt == nil || got.CompletedAt == nil {
			t.Error("timestamps not persisted")
		}
	})
}

func TestStore_UpdateChildNotFound(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		err := s.UpdateChild(&domain.ChildExecution{ID: "missing"})
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("got %v, want ErrNotFound", err)
		}
	})
}

func TestStore_UpdateParent(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		seedBatch(t, s, "b1", "web-01", "web-02")

		started := time.Now()
		if err := s.UpdateParent("b1", domain.StatusRunning, &started, nil); err != nil {
			t.Fatal(err)
		}

		got, err := s.GetBatch("b1")
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != domain.StatusRunning {
			t.Errorf("Status = %s, want running", got.Status)
		}
		if got.StartedAt == nil {
			t.Fatal("StartedAt not set")
		}

		done := time.Now()
		if err := s.UpdateParent("b1", domain.StatusSuccess, nil, &done); err != nil {
			t.Fatal(err)
		}
		got, _ = s.GetBatch("b1")
		if got.Status != domain.StatusSuccess {
			t.Errorf("Status = %s, want success", got.Status)
		}
		if got.CompletedAt == nil {
			t.Error("CompletedAt not set")
		}
		if got.StartedAt == nil {
			t.Error("StartedAt was cleared by the second update")
		}
	})
}

func TestStore_ChildLogs(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		_, children := seedBatch(t, s, "b1", "web-01", "web-02")
		childID := children[0].ID

		lines := []LogLine{
			{Line: 1, Content: "PLAY [all]"},
			{Line: 2, Content: "TASK [install nginx]"},
			{Line: 3, Content: "fatal: connection refused", Level: "ERROR"},
		}
		if err := s.AppendChildLogs(childID, lines); err != nil {
			t.Fatal(err)
		}

		got, err := s.GetChildLogs(childID, 0, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 3 {
			t.Fatalf("got %d lines, want 3", len(got))
		}
		if got[2].Level != "ERROR" {
			t.Errorf("line 3 level = %s, want ERROR", got[2].Level)
		}

		// Pagination from line 2, limit 1
		got, err = s.GetChildLogs(childID, 2, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].Line != 2 {
			t.Errorf("got %+v, want single line 2", got)
		}
	})
}

func TestStore_PruneLogs(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		_, children := seedBatch(t, s, "b1", "web-01", "web-02")
		childID := children[0].ID

		old := time.Now().Add(-48 * time.Hour)
		recent := time.Now()
		if err := s.AppendChildLogs(childID, []LogLine{
			{Line: 1, Content: "old line", Timestamp: old},
			{Line: 2, Content: "recent line", Timestamp: recent},
		}); err != nil {
			t.Fatal(err)
		}

		pruned, err := s.PruneLogs(time.Now().Add(-24 * time.Hour))
		if err != nil {
			t.Fatal(err)
		}
		if pruned != 1 {
			t.Errorf("pruned = %d, want 1", pruned)
		}

		got, _ := s.GetChildLogs(childID, 0, 0)
		if len(got) != 1 || got[0].Content != "recent line" {
			t.Errorf("got %+v, want only the recent line", got)
		}
	})
}

func TestStore_CountByStatus(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		seedBatch(t, s, "b1", "web-01", "web-02")
		seedBatch(t, s, "b2", "db-01", "db-02")

		done := time.Now()
		if err := s.UpdateParent("b2", domain.StatusSuccess, nil, &done); err != nil {
			t.Fatal(err)
		}

		counts, err := s.CountByStatus()
		if err != nil {
			t.Fatal(err)
		}
		if counts[domain.StatusPending] != 1 {
			t.Errorf("pending = %d, want 1", counts[domain.StatusPending])
		}
		if counts[domain.StatusSuccess] != 1 {
			t.Errorf("success = %d, want 1", counts[domain.StatusSuccess])
		}
	})
}
