// Package runnerpool tracks connected execution runners and assigns
// playbook runs to them. Runners connect over WebSocket, advertise their
// slot capacity, and stream output back; when no runner is connected an
// embedded local runner executes runs in-process.
package runnerpool

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ConnectedRunner is the coordinator's view of one agent connection. A
// slot is one concurrent ansible-playbook process on that agent; the
// count here lags the agent's own accounting until its next ready
// message, which is why assignment decrements it eagerly.
type ConnectedRunner struct {
	ID            string
	MaxRuns       int
	Slots         int
	Conn          *websocket.Conn
	ConnectedAt   time.Time
	LastHeartbeat time.Time
	mu            sync.Mutex
	writeMu       sync.Mutex // serializes Conn writes
}

// availableSlots reads the slot count under the state lock
func (r *ConnectedRunner) availableSlots() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Slots
}

// UpdateSlots replaces the slot count with the agent's own figure, taken
// from a ready message
func (r *ConnectedRunner) UpdateSlots(slots int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Slots = slots
}

// DecrementSlots claims one slot ahead of the agent's confirmation
func (r *ConnectedRunner) DecrementSlots() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Slots > 0 {
		r.Slots--
	}
}

// SetLastHeartbeat records when the agent last answered a ping
func (r *ConnectedRunner) SetLastHeartbeat(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.LastHeartbeat = t
}

// GetStatus returns a consistent snapshot for the status API
func (r *ConnectedRunner) GetStatus() (maxRuns, slots int, connectedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.MaxRuns, r.Slots, r.ConnectedAt
}

// WriteMessage sends one frame to the agent. Writes from the assignment
// path and the heartbeat loop race otherwise.
func (r *ConnectedRunner) WriteMessage(messageType int, data []byte) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.Conn.WriteMessage(messageType, data)
}

// Registry is the set of currently connected runners, keyed by the id
// each agent registers with. Reconnecting under the same id replaces the
// previous entry.
type Registry struct {
	runners map[string]*ConnectedRunner
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		runners: make(map[string]*ConnectedRunner),
	}
}

// Register adds a runner and stamps its connection time
func (reg *Registry) Register(r *ConnectedRunner) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	now := time.Now()
	r.ConnectedAt = now
	r.LastHeartbeat = now
	reg.runners[r.ID] = r
}

// Unregister removes a runner by id
func (reg *Registry) Unregister(id string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.runners, id)
}

// Get returns a runner by id, or nil
func (reg *Registry) Get(id string) *ConnectedRunner {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.runners[id]
}

// Count returns the number of connected runners
func (reg *Registry) Count() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.runners)
}

// FindReady picks the runner to hand the next playbook run: the one with
// the most free slots, nil when the whole fleet is saturated. Preferring
// the idlest agent spreads long-running playbooks instead of stacking
// them on whichever agent registered first.
func (reg *Registry) FindReady() *ConnectedRunner {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	var best *ConnectedRunner
	bestSlots := 0
	for _, r := range reg.runners {
		if slots := r.availableSlots(); slots > bestSlots {
			best, bestSlots = r, slots
		}
	}
	return best
}

// All returns every connected runner
func (reg *Registry) All() []*ConnectedRunner {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	result := make([]*ConnectedRunner, 0, len(reg.runners))
	for _, r := range reg.runners {
		result = append(result, r)
	}
	return result
}

// TotalSlots sums the free slots across the fleet
func (reg *Registry) TotalSlots() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	total := 0
	for _, r := range reg.runners {
		total += r.availableSlots()
	}
	return total
}
