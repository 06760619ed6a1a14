// Package runs owns the gateway-side run lifecycle: creation, dispatch to a
// backend, state transitions, cancellation, and the replayable event trail.
package runs

import (
	"time"

	"github.com/diane-assistant/agent-gateway/internal/acp"
)

// Status is the gateway's run state.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Run error codes, recorded on failed runs.
const (
	ErrCodeUnreachable    = "unreachable"
	ErrCodeTimeout        = "timeout"
	ErrCodeBackendError   = "backend_error"
	ErrCodeProtocolError  = "protocol_error"
	ErrCodePortInUse      = "port_in_use"
	ErrCodeStartupTimeout = "startup_timeout"
)

// ErrorInfo describes why a run failed.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Event is one recorded state transition.
type Event struct {
	Status    Status     `json:"status"`
	Timestamp time.Time  `json:"timestamp"`
	Error     *ErrorInfo `json:"error,omitempty"`
}

// Run is one dispatch through the gateway. AwaitRequest marks a run whose
// backend is parked waiting on caller input (e.g. an approval); such a run
// stays non-terminal until it is resumed or cancelled.
type Run struct {
	ID           string        `json:"run_id"`
	AgentName    string        `json:"agent_name"`
	SessionID    string        `json:"session_id,omitempty"`
	Mode         acp.RunMode   `json:"mode"`
	Input        []acp.Message `json:"input,omitempty"`
	Output       []acp.Message `json:"output"`
	Status       Status        `json:"status"`
	AwaitRequest *string       `json:"await_request,omitempty"`
	Error        *ErrorInfo    `json:"error,omitempty"`
	BackendRunID string        `json:"backend_run_id,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
}

// TextOutput returns the run's concatenated text/plain output.
func (r *Run) TextOutput() string {
	return acp.TextOutput(r.Output)
}

// Clone returns a copy safe to hand to callers.
func (r *Run) Clone() *Run {
	out := *r
	if r.Input != nil {
		out.Input = append([]acp.Message(nil), r.Input...)
	}
	if r.Output != nil {
		out.Output = append([]acp.Message(nil), r.Output...)
	}
	if r.AwaitRequest != nil {
		await := *r.AwaitRequest
		out.AwaitRequest = &await
	}
	if r.Error != nil {
		errCopy := *r.Error
		out.Error = &errCopy
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		out.FinishedAt = &t
	}
	return &out
}
