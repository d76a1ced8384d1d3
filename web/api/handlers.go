package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/opsforge/fleet-orchestrator/internal/domain"
)

// BatchRequest is the submit payload for POST /api/batches
type BatchRequest struct {
	Playbook         string   `json:"playbook"`
	Targets          []string `json:"targets"`
	Strategy         string   `json:"strategy"`
	ConcurrencyLimit int      `json:"concurrency_limit"`
	StopOnFailure    bool     `json:"stop_on_failure"`
}

// BatchResponse is the wire form of a parent batch record
type BatchResponse struct {
	ID               string     `json:"id"`
	Playbook         string     `json:"playbook"`
	Targets          []string   `json:"targets"`
	Strategy         string     `json:"strategy"`
	ConcurrencyLimit int        `json:"concurrency_limit"`
	StopOnFailure    bool       `json:"stop_on_failure"`
	Status           string     `json:"status"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// ChildResponse is the wire form of a per-target child record
type ChildResponse struct {
	ID            string     `json:"id"`
	BatchID       string     `json:"batch_id"`
	TargetID      string     `json:"target_id"`
	SequenceIndex int        `json:"sequence_index"`
	Status        string     `json:"status"`
	Error         string     `json:"error,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// LogLineResponse is one line of child execution output
type LogLineResponse struct {
	Line      int       `json:"line"`
	Content   string    `json:"content"`
	Level     string    `json:"level"`
	Timestamp time.Time `json:"timestamp"`
}

// BatchDetailResponse is a batch with its children and outcome summary
type BatchDetailResponse struct {
	BatchResponse
	Summary  string          `json:"summary"`
	Children []ChildResponse `json:"children"`
}

func batchToResponse(b *domain.BatchExecution) BatchResponse {
	return BatchResponse{
		ID:               b.ID,
		Playbook:         b.ProcedureRef,
		Targets:          b.Targets,
		Strategy:         string(b.Policy.Strategy),
		ConcurrencyLimit: b.Policy.ConcurrencyLimit,
		StopOnFailure:    b.Policy.StopOnFailure,
		Status:           string(b.Status),
		CreatedAt:        b.CreatedAt,
		StartedAt:        b.StartedAt,
		CompletedAt:      b.CompletedAt,
	}
}

func childToResponse(c *domain.ChildExecution) ChildResponse {
	return ChildResponse{
		ID:            c.ID,
		BatchID:       c.BatchID,
		TargetID:      c.TargetID,
		SequenceIndex: c.SequenceIndex,
		Status:        string(c.Status),
		Error:         c.Error,
		StartedAt:     c.StartedAt,
		CompletedAt:   c.CompletedAt,
	}
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		counts, err := s.store.CountByStatus()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		byStatus := make(map[string]int, len(counts))
		for status, n := range counts {
			byStatus[string(status)] = n
		}

		terminal := byStatus["success"] + byStatus["failed"] + byStatus["cancelled"]
		successRate := 0.0
		if terminal > 0 {
			successRate = float64(byStatus["success"]) / float64(terminal)
		}

		status := map[string]interface{}{
			"active_batches": s.coord.ActiveCount(),
			"batches":        byStatus,
			"success_rate":   successRate,
		}
		if s.runners != nil {
			status["runners"] = len(s.runners.Status())
			status["queued_runs"] = s.runners.Queue().QueueLength()
		}
		writeJSON(w, http.StatusOK, status)
	}
}

func (s *Server) batchesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			s.listBatches(w, r)
		case http.MethodPost:
			s.submitBatch(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

func (s *Server) listBatches(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	batches, err := s.store.ListBatches(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]BatchResponse, 0, len(batches))
	for _, b := range batches {
		out = append(out, batchToResponse(b))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) submitBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	policy := domain.Policy{
		Strategy:         domain.Strategy(req.Strategy),
		ConcurrencyLimit: req.ConcurrencyLimit,
		StopOnFailure:    req.StopOnFailure,
	}
	batch, err := s.coord.Submit(req.Playbook, req.Targets, policy)
	if err != nil {
		if domain.InvalidRequest(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, batchToResponse(batch))
}

// batchHandler routes /api/batches/{id}[/children[/{cid}/logs]|/cancel]
func (s *Server) batchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/batches/")
		parts := strings.Split(path, "/")

		switch {
		case len(parts) == 1 && parts[0] != "":
			if r.Method != http.MethodGet {
				writeError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			s.getBatch(w, parts[0])
		case len(parts) == 2 && parts[1] == "cancel":
			if r.Method != http.MethodPost {
				writeError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			s.cancelBatch(w, parts[0])
		case len(parts) == 2 && parts[1] == "children":
			if r.Method != http.MethodGet {
				writeError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			s.listChildren(w, parts[0])
		case len(parts) == 4 && parts[1] == "children" && parts[3] == "logs":
			if r.Method != http.MethodGet {
				writeError(w, http.StatusMethodNotAllowed, "method not allowed")
				return
			}
			s.getChildLogs(w, r, parts[0], parts[2])
		default:
			writeError(w, http.StatusNotFound, "not found")
		}
	}
}

func (s *Server) getBatch(w http.ResponseWriter, id string) {
	batch, children, err := s.coord.GetBatch(id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "batch not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	detail := BatchDetailResponse{
		BatchResponse: batchToResponse(batch),
		Summary:       domain.Summarize(children).String(),
		Children:      make([]ChildResponse, 0, len(children)),
	}
	for _, c := range children {
		detail.Children = append(detail.Children, childToResponse(c))
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) listChildren(w http.ResponseWriter, batchID string) {
	children, err := s.coord.ListChildren(batchID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "batch not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]ChildResponse, 0, len(children))
	for _, c := range children {
		out = append(out, childToResponse(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) cancelBatch(w http.ResponseWriter, id string) {
	if err := s.coord.CancelBatch(id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "batch not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
}

func (s *Server) getChildLogs(w http.ResponseWriter, r *http.Request, batchID, childID string) {
	child, err := s.store.GetChild(childID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "child not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if child.BatchID != batchID {
		writeError(w, http.StatusNotFound, "child not found")
		return
	}

	startLine := 0
	if v := r.URL.Query().Get("start"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid start")
			return
		}
		startLine = n
	}
	limit := 1000
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	lines, err := s.store.GetChildLogs(childID, startLine, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]LogLineResponse, 0, len(lines))
	for _, l := range lines {
		out = append(out, LogLineResponse{
			Line:      l.Line,
			Content:   l.Content,
			Level:     l.Level,
			Timestamp: l.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) playbooksHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, s.catalog.Playbooks())
	}
}

func (s *Server) targetsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, s.catalog.Targets())
	}
}

func (s *Server) runnersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if s.runners == nil {
			writeJSON(w, http.StatusOK, []RunnerStatusResponse{})
			return
		}
		statuses := s.runners.Status()
		out := make([]RunnerStatusResponse, 0, len(statuses))
		for _, rs := range statuses {
			out = append(out, RunnerStatusResponse{
				ID:             rs.ID,
				MaxRuns:        rs.MaxRuns,
				ActiveRuns:     rs.ActiveRuns,
				ConnectedSince: rs.ConnectedSince,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// RunnerStatusResponse is the wire form of a connected runner
type RunnerStatusResponse struct {
	ID             string    `json:"id"`
	MaxRuns        int       `json:"max_runs"`
	ActiveRuns     int       `json:"active_runs"`
	ConnectedSince time.Time `json:"connected_since"`
}
