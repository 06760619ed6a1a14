// Package acp implements the Agent Communication Protocol (ACP) surface the
// gateway speaks to its backends: wire types, a client, and message helpers.
// Spec: https://agentcommunicationprotocol.dev
package acp

import (
	"fmt"
	"time"
)

// ErrCodeProtocol marks responses that could not be decoded as ACP payloads.
// Errors a backend reports about its own work keep the backend's code.
const ErrCodeProtocol = "protocol_error"

// Error represents an ACP error payload.
type Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("acp error [%s]: %s", e.Code, e.Message)
}

// AgentManifest describes an agent exposed by an ACP server.
type AgentManifest struct {
	Name               string   `json:"name"`
	Description        string   `json:"description"`
	InputContentTypes  []string `json:"input_content_types"`
	OutputContentTypes []string `json:"output_content_types"`
	Metadata           Metadata `json:"metadata,omitempty"`
	Status             *Status  `json:"status,omitempty"`
}

// Metadata contains static agent metadata.
type Metadata struct {
	Documentation       string   `json:"documentation,omitempty"`
	License             string   `json:"license,omitempty"`
	ProgrammingLanguage string   `json:"programming_language,omitempty"`
	NaturalLanguages    []string `json:"natural_languages,omitempty"`
	Framework           string   `json:"framework,omitempty"`
	Tags                []string `json:"tags,omitempty"`
}

// Status contains runtime agent metrics.
type Status struct {
	AvgRunTokens      float64 `json:"avg_run_tokens,omitempty"`
	AvgRunTimeSeconds float64 `json:"avg_run_time_seconds,omitempty"`
	SuccessRate       float64 `json:"success_rate,omitempty"`
}

// MessagePart is one typed chunk of a message. An empty ContentType is
// treated as text/plain.
type MessagePart struct {
	Name            string      `json:"name,omitempty"`
	ContentType     string      `json:"content_type"`
	Content         string      `json:"content,omitempty"`
	ContentEncoding string      `json:"content_encoding,omitempty"`
	ContentURL      string      `json:"content_url,omitempty"`
	Metadata        interface{} `json:"metadata,omitempty"`
}

// Message is the uniform envelope exchanged with backends.
type Message struct {
	Role        string        `json:"role"`
	Parts       []MessagePart `json:"parts"`
	CreatedAt   *time.Time    `json:"created_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// RunStatus is the lifecycle state reported by a backend.
type RunStatus string

const (
	RunStatusCreated    RunStatus = "created"
	RunStatusInProgress RunStatus = "in-progress"
	RunStatusAwaiting   RunStatus = "awaiting"
	RunStatusCancelling RunStatus = "cancelling"
	RunStatusCancelled  RunStatus = "cancelled"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
)

// IsTerminal reports whether the status admits no further transitions.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// RunMode selects blocking or fire-and-poll execution.
type RunMode string

const (
	RunModeSync   RunMode = "sync"
	RunModeAsync  RunMode = "async"
	RunModeStream RunMode = "stream"
)

// Run is a backend's view of one run.
type Run struct {
	AgentName    string     `json:"agent_name"`
	SessionID    string     `json:"session_id,omitempty"`
	RunID        string     `json:"run_id"`
	TurnNumber   int        `json:"turn_number,omitempty"`
	Status       RunStatus  `json:"status"`
	AwaitRequest *string    `json:"await_request,omitempty"`
	Output       []Message  `json:"output"`
	Error        *Error     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// RunCreateRequest is the payload for POST /runs.
type RunCreateRequest struct {
	AgentName string    `json:"agent_name"`
	SessionID string    `json:"session_id,omitempty"`
	Input     []Message `json:"input"`
	Mode      RunMode   `json:"mode,omitempty"`
}

// AgentsListResponse is the payload for GET /agents.
type AgentsListResponse struct {
	Agents []AgentManifest `json:"agents"`
}
