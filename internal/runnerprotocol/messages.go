// Package runnerprotocol defines message types for runner-coordinator
// communication in the fleet execution pool. Messages flow over WebSocket
// connections.
package runnerprotocol

import "encoding/json"

// Envelope wraps all messages with a type discriminator.
// When marshaling, Payload can be any message struct.
// When unmarshaling, use EnvelopeRaw for type-based dispatch.
type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// EnvelopeRaw is used for receiving messages where the payload
// needs to be unmarshaled based on the message type.
type EnvelopeRaw struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MarshalEnvelope creates an envelope with the given type and payload
func MarshalEnvelope(msgType string, payload interface{}) ([]byte, error) {
	return json.Marshal(Envelope{Type: msgType, Payload: payload})
}

// Runner -> Coordinator messages

// RegisterMessage sent when a runner first connects
type RegisterMessage struct {
	RunnerID string `json:"runner_id"`
	MaxRuns  int    `json:"max_runs"`
}

// ReadyMessage sent when a runner has available run slots
type ReadyMessage struct {
	Slots int `json:"slots"`
}

// OutputMessage sent for streaming playbook output
type OutputMessage struct {
	RunID  string `json:"run_id"`
	Stream string `json:"stream"` // "stdout" or "stderr"
	Data   string `json:"data"`
}

// CompleteMessage sent when a run finishes
type CompleteMessage struct {
	RunID      string `json:"run_id"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int64  `json:"duration_ms"`
}

// ErrorMessage sent when a run fails before completion
type ErrorMessage struct {
	RunID   string `json:"run_id"`
	Message string `json:"message"`
}

// Coordinator -> Runner messages

// RunMessage assigns one playbook run against one host to a runner
type RunMessage struct {
	RunID    string `json:"run_id"`
	Playbook string `json:"playbook"`
	// File is the playbook file name within the runner's playbook
	// directory. The ref alone is ambiguous: both .yml and .yaml files
	// are valid playbooks.
	File      string            `json:"file,omitempty"`
	Host      string            `json:"host"`
	Port      int               `json:"port,omitempty"`
	SSHUser   string            `json:"ssh_user,omitempty"`
	ExtraVars map[string]string `json:"extra_vars,omitempty"`
}

// CancelMessage requests run cancellation
type CancelMessage struct {
	RunID string `json:"run_id"`
}

// RunResult is the coordinator-side terminal outcome of a run
type RunResult struct {
	RunID        string
	ExitCode     int
	Error        string
	DurationSecs float64
}

// Failed reports whether the run did not succeed
func (r *RunResult) Failed() bool {
	return r.ExitCode != 0 || r.Error != ""
}

// Message type constants
const (
	TypeRegister = "register"
	TypeReady    = "ready"
	TypeOutput   = "output"
	TypeComplete = "complete"
	TypeError    = "error"
	TypeRun      = "run"
	TypeCancel   = "cancel"
	TypePing     = "ping"
	TypePong     = "pong"
)
