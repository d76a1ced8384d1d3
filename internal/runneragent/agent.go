package runneragent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opsforge/fleet-orchestrator/internal/runnerprotocol"
)

// Backoff constants for reconnection
const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2
)

// calculateBackoff returns the delay for a given attempt number using exponential backoff
func calculateBackoff(attempt int) time.Duration {
	delay := initialBackoff
	for i := 0; i < attempt; i++ {
		delay *= backoffFactor
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// pingWait is how long we wait for a ping from the coordinator before timing out
const pingWait = 90 * time.Second

// writeWait is time allowed to write a control message
const writeWait = 10 * time.Second

// AgentConfig configures the runner agent
type AgentConfig struct {
	ServerURL     string
	RunnerID      string
	MaxRuns       int
	PlaybookDir   string
	AnsibleBinary string
}

// Validate checks the config is valid
func (c *AgentConfig) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	if c.MaxRuns <= 0 {
		return fmt.Errorf("max_runs must be positive")
	}
	return nil
}

// Agent is a runner that connects to a coordinator and executes assigned
// playbook runs.
type Agent struct {
	config  AgentConfig
	pool    *Pool
	ansible *Ansible
	conn    *websocket.Conn
	mu      sync.Mutex

	// For graceful shutdown
	ctx    context.Context
	cancel context.CancelFunc

	// Run tracking for cancellation
	runsMu sync.Mutex
	runs   map[string]context.CancelFunc
}

// NewAgent creates a runner agent
func NewAgent(config AgentConfig) (*Agent, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Agent{
		config: config,
		pool:   NewPool(config.MaxRuns),
		ansible: NewAnsible(AnsibleConfig{
			PlaybookDir: config.PlaybookDir,
			Binary:      config.AnsibleBinary,
		}),
		ctx:    ctx,
		cancel: cancel,
		runs:   make(map[string]context.CancelFunc),
	}, nil
}

// Connect establishes connection to the coordinator
func (a *Agent) Connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(a.config.ServerURL, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pingWait))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pingWait))
		// Send pong response (must do this since we override the default handler)
		deadline := time.Now().Add(writeWait)
		if err := conn.WriteControl(websocket.PongMessage, []byte(appData), deadline); err != nil {
			log.Printf("failed to send pong: %v", err)
			return err
		}
		return nil
	})

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	return a.send(runnerprotocol.TypeRegister, runnerprotocol.RegisterMessage{
		RunnerID: a.config.RunnerID,
		MaxRuns:  a.config.MaxRuns,
	})
}

// Run starts the agent loop
func (a *Agent) Run() error {
	if err := a.sendReady(); err != nil {
		return err
	}

	for {
		select {
		case <-a.ctx.Done():
			return nil
		default:
		}

		_, message, err := a.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read failed: %w", err)
		}

		a.conn.SetReadDeadline(time.Now().Add(pingWait))

		var env runnerprotocol.EnvelopeRaw
		if err := json.Unmarshal(message, &env); err != nil {
			log.Printf("invalid message: %v", err)
			continue
		}

		switch env.Type {
		case runnerprotocol.TypeRun:
			var run runnerprotocol.RunMessage
			if err := json.Unmarshal(env.Payload, &run); err != nil {
				log.Printf("invalid run message: %v", err)
				continue
			}
			go a.handleRun(run)

		case runnerprotocol.TypePing:
			a.send(runnerprotocol.TypePong, nil)

		case runnerprotocol.TypeCancel:
			var cancel runnerprotocol.CancelMessage
			if err := json.Unmarshal(env.Payload, &cancel); err != nil {
				log.Printf("invalid cancel message: %v", err)
				continue
			}
			log.Printf("cancelling run %s", cancel.RunID)
			a.CancelRun(cancel.RunID)
		}
	}
}

func (a *Agent) handleRun(runMsg runnerprotocol.RunMessage) {
	if !a.pool.Acquire() {
		a.send(runnerprotocol.TypeError, runnerprotocol.ErrorMessage{
			RunID:   runMsg.RunID,
			Message: "no slots available",
		})
		return
	}
	defer func() {
		a.pool.Release()
		a.UntrackRun(runMsg.RunID)
		a.sendReady()
	}()

	ctx, cancel := context.WithCancel(a.ctx)
	defer cancel()
	a.TrackRun(runMsg.RunID, cancel)

	run := Run{
		ID:        runMsg.RunID,
		Playbook:  runMsg.Playbook,
		File:      runMsg.File,
		Host:      runMsg.Host,
		Port:      runMsg.Port,
		SSHUser:   runMsg.SSHUser,
		ExtraVars: runMsg.ExtraVars,
	}

	result, err := a.ansible.RunPlaybook(ctx, run, func(stream, data string) {
		a.send(runnerprotocol.TypeOutput, runnerprotocol.OutputMessage{
			RunID:  runMsg.RunID,
			Stream: stream,
			Data:   data,
		})
	})

	if err != nil {
		a.send(runnerprotocol.TypeError, runnerprotocol.ErrorMessage{
			RunID:   runMsg.RunID,
			Message: err.Error(),
		})
		return
	}

	a.send(runnerprotocol.TypeComplete, runnerprotocol.CompleteMessage{
		RunID:      runMsg.RunID,
		ExitCode:   result.ExitCode,
		DurationMs: int64(result.DurationSecs * 1000),
	})
}

func (a *Agent) sendReady() error {
	return a.send(runnerprotocol.TypeReady, runnerprotocol.ReadyMessage{
		Slots: a.pool.Available(),
	})
}

func (a *Agent) send(msgType string, payload interface{}) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	data, err := runnerprotocol.MarshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	return a.conn.WriteMessage(websocket.TextMessage, data)
}

// Stop gracefully shuts down the agent
func (a *Agent) Stop() {
	a.cancel()
	a.mu.Lock()
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}
	a.mu.Unlock()
}

// RunWithReconnect runs the agent with automatic reconnection
func (a *Agent) RunWithReconnect() error {
	attempt := 0

	for {
		select {
		case <-a.ctx.Done():
			return nil
		default:
		}

		err := a.Connect()
		if err != nil {
			delay := calculateBackoff(attempt)
			log.Printf("connection failed: %v, retrying in %v", err, delay)
			attempt++

			select {
			case <-a.ctx.Done():
				return nil
			case <-time.After(delay):
				continue
			}
		}

		// Connected - reset backoff
		attempt = 0
		log.Printf("connected to coordinator")

		err = a.Run()

		// Close the connection before reconnecting to avoid leaking file descriptors
		a.mu.Lock()
		if a.conn != nil {
			a.conn.Close()
			a.conn = nil
		}
		a.mu.Unlock()

		if err != nil {
			log.Printf("disconnected: %v", err)
		}

		select {
		case <-a.ctx.Done():
			return nil
		default:
			// Will reconnect
		}
	}
}

// TrackRun registers a run's cancel function for later cancellation
func (a *Agent) TrackRun(runID string, cancel context.CancelFunc) {
	a.runsMu.Lock()
	defer a.runsMu.Unlock()
	a.runs[runID] = cancel
}

// UntrackRun removes a run from tracking
func (a *Agent) UntrackRun(runID string) {
	a.runsMu.Lock()
	defer a.runsMu.Unlock()
	delete(a.runs, runID)
}

// HasRun checks if a run is being tracked
func (a *Agent) HasRun(runID string) bool {
	a.runsMu.Lock()
	defer a.runsMu.Unlock()
	_, ok := a.runs[runID]
	return ok
}

// CancelRun cancels a running playbook
func (a *Agent) CancelRun(runID string) {
	a.runsMu.Lock()
	cancel, ok := a.runs[runID]
	if ok {
		delete(a.runs, runID)
	}
	a.runsMu.Unlock()

	if ok && cancel != nil {
		cancel()
	}
}
