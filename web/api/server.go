package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/opsforge/fleet-orchestrator/internal/catalog"
	"github.com/opsforge/fleet-orchestrator/internal/jobstore"
	"github.com/opsforge/fleet-orchestrator/internal/orchestrator"
	"github.com/opsforge/fleet-orchestrator/internal/runnerpool"
)

// Server is the HTTP API server
type Server struct {
	coord   *orchestrator.Coordinator
	store   jobstore.Store
	catalog *catalog.Catalog
	runners *runnerpool.Pool
	addr    string
	mux     *http.ServeMux
	sseHub  *SSEHub
	hubOnce sync.Once
}

// NewServer creates a new API server. runners may be nil when the
// WebSocket runner endpoint is disabled.
func NewServer(coord *orchestrator.Coordinator, store jobstore.Store, cat *catalog.Catalog, runners *runnerpool.Pool, addr string) *Server {
	s := &Server{
		coord:   coord,
		store:   store,
		catalog: cat,
		runners: runners,
		addr:    addr,
		mux:     http.NewServeMux(),
		sseHub:  NewSSEHub(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/status", s.statusHandler())
	s.mux.HandleFunc("/api/batches", s.batchesHandler())
	s.mux.HandleFunc("/api/batches/", s.batchHandler())
	s.mux.HandleFunc("/api/playbooks", s.playbooksHandler())
	s.mux.HandleFunc("/api/targets", s.targetsHandler())
	s.mux.HandleFunc("/api/runners", s.runnersHandler())
	s.mux.HandleFunc("/api/events", s.sseHandler())

	if s.runners != nil {
		s.mux.HandleFunc("/ws/runner", s.runners.HandleWebSocket)
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.startHub()
	return http.ListenAndServe(s.addr, s.mux)
}

func (s *Server) startHub() {
	s.hubOnce.Do(func() {
		go s.sseHub.Run()
	})
}

// Handler returns the server's HTTP handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.mux
}

// EventSink returns a non-blocking sink for orchestrator events,
// broadcasting them to SSE clients
func (s *Server) EventSink() orchestrator.EventSink {
	s.startHub()
	return func(ev orchestrator.Event) {
		event := SSEEvent{Type: ev.Type}
		switch {
		case ev.Batch != nil:
			event.Data = batchToResponse(ev.Batch)
		case ev.Child != nil:
			event.Data = childToResponse(ev.Child)
		}
		s.sseHub.Broadcast(event)
	}
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
