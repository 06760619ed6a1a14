// Package api provides the management HTTP surface of the gateway: agent
// CRUD, run dispatch, activity logs, and health.
package api

import (
	"time"

	"github.com/diane-assistant/agent-gateway/internal/acp"
	"github.com/diane-assistant/agent-gateway/internal/agent/store"
)

// CreateAgentRequest registers a new agent.
type CreateAgentRequest struct {
	Name        string            `json:"name" binding:"required"`
	Kind        string            `json:"kind" binding:"required"`
	Command     string            `json:"command,omitempty"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	WorkDir     string            `json:"work_dir,omitempty"`
	Port        int               `json:"port,omitempty"`
	URL         string            `json:"url,omitempty"`
	SubAgent    string            `json:"sub_agent,omitempty"`
	Description string            `json:"description,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Enabled     *bool             `json:"enabled,omitempty"`
}

// UpdateAgentRequest replaces a registered agent's definition.
type UpdateAgentRequest struct {
	Kind        string            `json:"kind" binding:"required"`
	Command     string            `json:"command,omitempty"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	WorkDir     string            `json:"work_dir,omitempty"`
	Port        int               `json:"port,omitempty"`
	URL         string            `json:"url,omitempty"`
	SubAgent    string            `json:"sub_agent,omitempty"`
	Description string            `json:"description,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Enabled     *bool             `json:"enabled,omitempty"`
}

// AgentResponse is the wire form of a registered agent.
type AgentResponse struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Kind        string            `json:"kind"`
	Command     string            `json:"command,omitempty"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	WorkDir     string            `json:"work_dir,omitempty"`
	Port        int               `json:"port,omitempty"`
	URL         string            `json:"url,omitempty"`
	SubAgent    string            `json:"sub_agent,omitempty"`
	Description string            `json:"description,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Enabled     bool              `json:"enabled"`
	Running     bool              `json:"running"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// AgentsListResponse lists registered agents.
type AgentsListResponse struct {
	Agents []AgentResponse `json:"agents"`
	Total  int             `json:"total"`
}

// CreateRunRequest dispatches a run through the gateway.
type CreateRunRequest struct {
	AgentName string        `json:"agent_name" binding:"required"`
	Input     []acp.Message `json:"input" binding:"required"`
	Mode      string        `json:"mode,omitempty"`
}

// AgentLogResponse is one recorded exchange with an agent.
type AgentLogResponse struct {
	ID          string    `json:"id"`
	AgentName   string    `json:"agent_name"`
	Direction   string    `json:"direction"`
	MessageType string    `json:"message_type"`
	Content     *string   `json:"content,omitempty"`
	Error       *string   `json:"error,omitempty"`
	DurationMs  *int64    `json:"duration_ms,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// AgentLogsResponse lists recorded exchanges.
type AgentLogsResponse struct {
	Logs  []AgentLogResponse `json:"logs"`
	Total int                `json:"total"`
}

// HealthResponse for health checks.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func agentToResponse(agent *store.AgentDefinition, running bool) AgentResponse {
	return AgentResponse{
		ID:          agent.ID,
		Name:        agent.Name,
		Kind:        string(agent.Kind),
		Command:     agent.Command,
		Args:        agent.Args,
		Env:         agent.Env,
		WorkDir:     agent.WorkDir,
		Port:        agent.Port,
		URL:         agent.URL,
		SubAgent:    agent.SubAgent,
		Description: agent.Description,
		Tags:        agent.Tags,
		Enabled:     agent.Enabled,
		Running:     running,
		CreatedAt:   agent.CreatedAt,
		UpdatedAt:   agent.UpdatedAt,
	}
}

func logToResponse(l *store.AgentLog) AgentLogResponse {
	return AgentLogResponse{
		ID:          l.ID,
		AgentName:   l.AgentName,
		Direction:   string(l.Direction),
		MessageType: l.MessageType,
		Content:     l.Content,
		Error:       l.Error,
		DurationMs:  l.DurationMs,
		CreatedAt:   l.CreatedAt,
	}
}
