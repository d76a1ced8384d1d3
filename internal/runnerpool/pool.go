package runnerpool

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opsforge/fleet-orchestrator/internal/runnerprotocol"
)

// PoolConfig configures the runner pool
type PoolConfig struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

// OutputFunc receives streamed run output from runners
type OutputFunc func(runID, stream, data string)

// Pool accepts runner connections and routes protocol messages between
// the assignment queue and the connected runners.
type Pool struct {
	config   PoolConfig
	registry *Registry
	queue    *Queue
	upgrader websocket.Upgrader

	outputFn OutputFunc
}

// RunnerStatus is a point-in-time view of one connected runner
type RunnerStatus struct {
	ID             string    `json:"id"`
	MaxRuns        int       `json:"max_runs"`
	ActiveRuns     int       `json:"active_runs"`
	ConnectedSince time.Time `json:"connected_since"`
}

// NewPool creates a runner pool
func NewPool(config PoolConfig, registry *Registry, queue *Queue) *Pool {
	if config.HeartbeatInterval == 0 {
		config.HeartbeatInterval = 30 * time.Second
	}
	if config.HeartbeatTimeout == 0 {
		config.HeartbeatTimeout = 90 * time.Second // Allow missing 2 heartbeats before disconnect
	}

	p := &Pool{
		config:   config,
		registry: registry,
		queue:    queue,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	p.queue.SetSendFunc(p.sendRun)

	return p
}

// Registry returns the runner registry
func (p *Pool) Registry() *Registry {
	return p.registry
}

// Queue returns the run assignment queue
func (p *Pool) Queue() *Queue {
	return p.queue
}

// SetOutputFunc registers the sink for streamed run output
func (p *Pool) SetOutputFunc(fn OutputFunc) {
	p.outputFn = fn
}

// HandleWebSocket handles incoming WebSocket connections from runners
func (p *Pool) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade failed: %v", err)
		return
	}

	go p.handleRunnerConnection(conn)
}

func (p *Pool) handleRunnerConnection(conn *websocket.Conn) {
	var runnerID string
	defer func() {
		conn.Close()
		if runnerID != "" {
			p.registry.Unregister(runnerID)
			p.queue.FailRunnerRuns(runnerID, fmt.Sprintf("runner %s disconnected", runnerID))
			p.queue.TryAssign()
			log.Printf("runner %s disconnected", runnerID)
		}
	}()

	conn.SetReadDeadline(time.Now().Add(p.config.HeartbeatTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(p.config.HeartbeatTimeout))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("read error: %v", err)
			}
			return
		}

		conn.SetReadDeadline(time.Now().Add(p.config.HeartbeatTimeout))

		var env runnerprotocol.EnvelopeRaw
		if err := json.Unmarshal(message, &env); err != nil {
			log.Printf("invalid message: %v", err)
			continue
		}

		switch env.Type {
		case runnerprotocol.TypeRegister:
			var reg runnerprotocol.RegisterMessage
			if err := json.Unmarshal(env.Payload, &reg); err != nil {
				log.Printf("invalid register: %v", err)
				continue
			}
			runnerID = reg.RunnerID
			p.registry.Register(&ConnectedRunner{
				ID:      reg.RunnerID,
				MaxRuns: reg.MaxRuns,
				Slots:   reg.MaxRuns,
				Conn:    conn,
			})
			log.Printf("runner %s registered (max_runs=%d)", reg.RunnerID, reg.MaxRuns)
			p.queue.TryAssign()

		case runnerprotocol.TypeReady:
			var ready runnerprotocol.ReadyMessage
			if err := json.Unmarshal(env.Payload, &ready); err != nil {
				log.Printf("failed to unmarshal %s message: %v", env.Type, err)
				continue
			}
			if r := p.registry.Get(runnerID); r != nil {
				r.UpdateSlots(ready.Slots)
				p.queue.TryAssign()
			}

		case runnerprotocol.TypeOutput:
			var output runnerprotocol.OutputMessage
			if err := json.Unmarshal(env.Payload, &output); err != nil {
				log.Printf("failed to unmarshal %s message: %v", env.Type, err)
				continue
			}
			if p.outputFn != nil {
				p.outputFn(output.RunID, output.Stream, output.Data)
			}

		case runnerprotocol.TypeComplete:
			var complete runnerprotocol.CompleteMessage
			if err := json.Unmarshal(env.Payload, &complete); err != nil {
				log.Printf("failed to unmarshal %s message: %v", env.Type, err)
				continue
			}
			p.queue.Complete(complete.RunID, &runnerprotocol.RunResult{
				RunID:        complete.RunID,
				ExitCode:     complete.ExitCode,
				DurationSecs: float64(complete.DurationMs) / 1000,
			})

		case runnerprotocol.TypeError:
			var errMsg runnerprotocol.ErrorMessage
			if err := json.Unmarshal(env.Payload, &errMsg); err != nil {
				log.Printf("failed to unmarshal %s message: %v", env.Type, err)
				continue
			}
			p.queue.Complete(errMsg.RunID, &runnerprotocol.RunResult{
				RunID:    errMsg.RunID,
				ExitCode: -1,
				Error:    errMsg.Message,
			})

		case runnerprotocol.TypePong:
			if r := p.registry.Get(runnerID); r != nil {
				r.SetLastHeartbeat(time.Now())
			}
		}
	}
}

func (p *Pool) sendRun(r *ConnectedRunner, run *runnerprotocol.RunMessage) error {
	data, err := runnerprotocol.MarshalEnvelope(runnerprotocol.TypeRun, run)
	if err != nil {
		return err
	}
	return r.WriteMessage(websocket.TextMessage, data)
}

// SendCancel asks the runner assigned to a run to stop it. Unassigned or
// already-finished runs are a no-op.
func (p *Pool) SendCancel(runID string) error {
	runnerID := p.queue.AssignedRunner(runID)
	if runnerID == "" {
		return nil
	}
	r := p.registry.Get(runnerID)
	if r == nil {
		return fmt.Errorf("runner %s not found", runnerID)
	}

	data, err := runnerprotocol.MarshalEnvelope(runnerprotocol.TypeCancel, runnerprotocol.CancelMessage{
		RunID: runID,
	})
	if err != nil {
		return err
	}
	return r.WriteMessage(websocket.TextMessage, data)
}

// StartHeartbeats pings connected runners until ctx is done
func (p *Pool) StartHeartbeats(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(p.config.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.sendHeartbeats()
			}
		}
	}()
}

func (p *Pool) sendHeartbeats() {
	for _, r := range p.registry.All() {
		// Protocol-level ping keeps the connection alive and triggers the
		// pong handler on the runner side.
		r.writeMu.Lock()
		r.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		err := r.Conn.WriteMessage(websocket.PingMessage, nil)
		r.Conn.SetWriteDeadline(time.Time{})
		r.writeMu.Unlock()

		if err != nil {
			log.Printf("ping to %s failed: %v", r.ID, err)
			// The read loop handles cleanup once the connection drops.
			r.Conn.Close()
		}
	}
}

// Status returns a snapshot of all connected runners
func (p *Pool) Status() []RunnerStatus {
	runners := p.registry.All()
	out := make([]RunnerStatus, 0, len(runners))
	for _, r := range runners {
		maxRuns, slots, connectedAt := r.GetStatus()
		out = append(out, RunnerStatus{
			ID:             r.ID,
			MaxRuns:        maxRuns,
			ActiveRuns:     maxRuns - slots,
			ConnectedSince: connectedAt,
		})
	}
	return out
}
