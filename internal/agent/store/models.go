// Package store persists agent definitions and their exchange logs.
package store

import (
	"fmt"
	"time"
)

// AgentKind distinguishes gateway-managed processes from remote endpoints.
type AgentKind string

const (
	AgentKindLocal  AgentKind = "local"
	AgentKindRemote AgentKind = "remote"
)

// AgentDefinition is one registered agent. Local agents carry launch
// attributes (command, args, env, workdir, port); remote agents carry a
// base URL. Exactly one attribute set is populated per kind.
type AgentDefinition struct {
	ID          string            `json:"id" db:"id"`
	Name        string            `json:"name" db:"name"`
	Kind        AgentKind         `json:"kind" db:"kind"`
	Command     string            `json:"command,omitempty" db:"command"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	WorkDir     string            `json:"workdir,omitempty" db:"workdir"`
	Port        int               `json:"port,omitempty" db:"port"`
	URL         string            `json:"url,omitempty" db:"url"`
	SubAgent    string            `json:"sub_agent,omitempty" db:"sub_agent"`
	Description string            `json:"description,omitempty" db:"description"`
	Tags        []string          `json:"tags,omitempty"`
	Enabled     bool              `json:"enabled" db:"enabled"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" db:"updated_at"`
}

// UniqueKey identifies an agent instance: the bare name, or name@workdir
// when the same agent is registered against multiple workspaces.
func (a *AgentDefinition) UniqueKey() string {
	if a.WorkDir == "" {
		return a.Name
	}
	return fmt.Sprintf("%s@%s", a.Name, a.WorkDir)
}

// IsLocal reports whether the gateway owns this agent's process.
func (a *AgentDefinition) IsLocal() bool {
	return a.Kind == AgentKindLocal
}

// Clone returns a deep copy, so callers can mutate without racing the store.
func (a *AgentDefinition) Clone() *AgentDefinition {
	if a == nil {
		return nil
	}
	out := *a
	if a.Args != nil {
		out.Args = append([]string(nil), a.Args...)
	}
	if a.Tags != nil {
		out.Tags = append([]string(nil), a.Tags...)
	}
	if a.Env != nil {
		out.Env = make(map[string]string, len(a.Env))
		for k, v := range a.Env {
			out.Env[k] = v
		}
	}
	return &out
}

// LogDirection marks which side of an exchange a log row records.
type LogDirection string

const (
	LogDirectionRequest  LogDirection = "request"
	LogDirectionResponse LogDirection = "response"
)

// AgentLog is one half of an exchange with an agent backend.
type AgentLog struct {
	ID          string       `json:"id" db:"id"`
	AgentName   string       `json:"agent_name" db:"agent_name"`
	Direction   LogDirection `json:"direction" db:"direction"`
	MessageType string       `json:"message_type" db:"message_type"`
	Content     *string      `json:"content,omitempty" db:"content"`
	Error       *string      `json:"error,omitempty" db:"error"`
	DurationMs  *int64       `json:"duration_ms,omitempty" db:"duration_ms"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
}
