package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opsforge/fleet-orchestrator/internal/catalog"
	"github.com/opsforge/fleet-orchestrator/internal/domain"
	"github.com/opsforge/fleet-orchestrator/internal/jobstore"
	"github.com/opsforge/fleet-orchestrator/internal/orchestrator"
)

const testPlaybook = `- name: Apply security patches
  hosts: all
  become: true
  tasks:
    - name: Update apt cache
      apt:
        update_cache: true
`

const testInventory = `[[target]]
id = "web-01"
host = "web-01.internal"

[[target]]
id = "web-02"
host = "web-02.internal"

[[target]]
id = "db-01"
host = "db-01.internal"
`

// instantExecutor completes every run successfully as soon as it starts
type instantExecutor struct {
	mu      sync.Mutex
	started []string
}

func (e *instantExecutor) Start(params orchestrator.RunParams, ref orchestrator.RunRef, done orchestrator.CompletionFunc) (string, error) {
	e.mu.Lock()
	e.started = append(e.started, ref.TargetID)
	e.mu.Unlock()
	done(ref.ChildID, nil)
	return ref.ChildID, nil
}

func (e *instantExecutor) RequestCancel(handle string) {}

func newTestServer(t *testing.T) (*Server, jobstore.Store) {
	t.Helper()
	dir := t.TempDir()
	playbookDir := filepath.Join(dir, "playbooks")
	if err := os.Mkdir(playbookDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(playbookDir, "patch-kernel.yml"), []byte(testPlaybook), 0o644); err != nil {
		t.Fatal(err)
	}
	inventoryPath := filepath.Join(dir, "inventory.toml")
	if err := os.WriteFile(inventoryPath, []byte(testInventory), 0o644); err != nil {
		t.Fatal(err)
	}

	cat, err := catalog.Load(playbookDir, inventoryPath)
	if err != nil {
		t.Fatalf("catalog.Load: %v", err)
	}
	store := jobstore.NewMemoryStore()
	coord := orchestrator.NewCoordinator(store, cat, &instantExecutor{}, nil)
	return NewServer(coord, store, cat, nil, "127.0.0.1:0"), store
}

func submitTestBatch(t *testing.T, srv *Server, targets []string) BatchResponse {
	t.Helper()
	body, _ := json.Marshal(BatchRequest{
		Playbook: "patch-kernel",
		Targets:  targets,
		Strategy: "sequential",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/batches", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var resp BatchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func waitBatchTerminal(t *testing.T, srv *Server, id string) BatchDetailResponse {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		req := httptest.NewRequest(http.MethodGet, "/api/batches/"+id, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("get batch status = %d: %s", rec.Code, rec.Body.String())
		}
		var detail BatchDetailResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
			t.Fatalf("decode detail: %v", err)
		}
		if domain.Status(detail.Status).Terminal() {
			return detail
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("batch %s did not reach a terminal state", id)
	return BatchDetailResponse{}
}

func TestSubmitBatch(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := submitTestBatch(t, srv, []string{"web-01", "web-02"})
	if resp.ID == "" {
		t.Error("expected a batch id")
	}
	if resp.Playbook != "patch-kernel" {
		t.Errorf("playbook = %q, want patch-kernel", resp.Playbook)
	}

	detail := waitBatchTerminal(t, srv, resp.ID)
	if detail.Status != string(domain.StatusSuccess) {
		t.Errorf("status = %q, want success", detail.Status)
	}
	if len(detail.Children) != 2 {
		t.Fatalf("got %d children, want 2", len(detail.Children))
	}
	if detail.Summary != "2/2 succeeded, 0 failed, 0 cancelled" {
		t.Errorf("summary = %q", detail.Summary)
	}
}

func TestSubmitValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name string
		req  BatchRequest
	}{
		{"single target", BatchRequest{Playbook: "patch-kernel", Targets: []string{"web-01"}, Strategy: "sequential"}},
		{"duplicate target", BatchRequest{Playbook: "patch-kernel", Targets: []string{"web-01", "web-01"}, Strategy: "sequential"}},
		{"bad strategy", BatchRequest{Playbook: "patch-kernel", Targets: []string{"web-01", "web-02"}, Strategy: "rolling"}},
		{"concurrency too high", BatchRequest{Playbook: "patch-kernel", Targets: []string{"web-01", "web-02"}, Strategy: "parallel", ConcurrencyLimit: 21}},
		{"unknown playbook", BatchRequest{Playbook: "nope", Targets: []string{"web-01", "web-02"}, Strategy: "sequential"}},
		{"unknown target", BatchRequest{Playbook: "patch-kernel", Targets: []string{"web-01", "ghost"}, Strategy: "sequential"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, _ := json.Marshal(tt.req)
			req := httptest.NewRequest(http.MethodPost, "/api/batches", bytes.NewReader(body))
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400: %s", rec.Code, rec.Body.String())
			}
			var errResp map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if errResp["error"] == "" {
				t.Error("expected an error message")
			}
		})
	}
}

func TestSubmitMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/batches", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestListBatches(t *testing.T) {
	srv, _ := newTestServer(t)

	first := submitTestBatch(t, srv, []string{"web-01", "web-02"})
	waitBatchTerminal(t, srv, first.ID)
	second := submitTestBatch(t, srv, []string{"web-01", "db-01"})
	waitBatchTerminal(t, srv, second.ID)

	req := httptest.NewRequest(http.MethodGet, "/api/batches", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var batches []BatchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &batches); err != nil {
		t.Fatal(err)
	}
	if len(batches) != 2 {
		t.Errorf("got %d batches, want 2", len(batches))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/batches?limit=1", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if err := json.Unmarshal(rec.Body.Bytes(), &batches); err != nil {
		t.Fatal(err)
	}
	if len(batches) != 1 {
		t.Errorf("got %d batches with limit=1, want 1", len(batches))
	}
}

func TestBatchNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/batches/missing"},
		{http.MethodGet, "/api/batches/missing/children"},
		{http.MethodPost, "/api/batches/missing/cancel"},
	}
	for _, p := range paths {
		req := httptest.NewRequest(p.method, p.path, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s: status = %d, want 404", p.method, p.path, rec.Code)
		}
	}
}

func TestCancelTerminalBatch(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := submitTestBatch(t, srv, []string{"web-01", "web-02"})
	waitBatchTerminal(t, srv, resp.ID)

	// Cancelling a finished batch is a no-op, not an error
	req := httptest.NewRequest(http.MethodPost, "/api/batches/"+resp.ID+"/cancel", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
}

func TestChildLogs(t *testing.T) {
	srv, store := newTestServer(t)

	resp := submitTestBatch(t, srv, []string{"web-01", "web-02"})
	detail := waitBatchTerminal(t, srv, resp.ID)
	child := detail.Children[0]

	lines := []jobstore.LogLine{
		{Line: 1, Content: "TASK [Update apt cache]", Level: "info", Timestamp: time.Now()},
		{Line: 2, Content: "ok: [web-01.internal]", Level: "info", Timestamp: time.Now()},
		{Line: 3, Content: "fatal: unreachable", Level: "error", Timestamp: time.Now()},
	}
	if err := store.AppendChildLogs(child.ID, lines); err != nil {
		t.Fatal(err)
	}

	path := fmt.Sprintf("/api/batches/%s/children/%s/logs", resp.ID, child.ID)
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var got []LogLineResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d lines, want 3", len(got))
	}
	if got[2].Level != "error" {
		t.Errorf("level = %q, want error", got[2].Level)
	}

	// Pagination from line 2
	req = httptest.NewRequest(http.MethodGet, path+"?start=2&limit=1", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Line != 2 {
		t.Errorf("paginated = %+v, want single line 2", got)
	}

	// Child id under the wrong batch is hidden
	req = httptest.NewRequest(http.MethodGet, "/api/batches/other/children/"+child.ID+"/logs", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("wrong batch: status = %d, want 404", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := submitTestBatch(t, srv, []string{"web-01", "web-02"})
	waitBatchTerminal(t, srv, resp.ID)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var status struct {
		ActiveBatches int            `json:"active_batches"`
		Batches       map[string]int `json:"batches"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.Batches["success"] != 1 {
		t.Errorf("success count = %d, want 1", status.Batches["success"])
	}
}

func TestPlaybooksAndTargets(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/playbooks", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	var playbooks []catalog.Playbook
	if err := json.Unmarshal(rec.Body.Bytes(), &playbooks); err != nil {
		t.Fatal(err)
	}
	if len(playbooks) != 1 || playbooks[0].Ref != "patch-kernel" {
		t.Errorf("playbooks = %+v", playbooks)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/targets", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	var targets []catalog.InventoryEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &targets); err != nil {
		t.Fatal(err)
	}
	if len(targets) != 3 {
		t.Errorf("got %d targets, want 3", len(targets))
	}
}

func TestRunnersEmptyWithoutPool(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/runners", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var runners []RunnerStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &runners); err != nil {
		t.Fatal(err)
	}
	if len(runners) != 0 {
		t.Errorf("got %d runners, want 0", len(runners))
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/batches", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
