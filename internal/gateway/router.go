// Package gateway resolves agent names to dispatch targets: local agents
// get a supervised process on localhost, remote agents their configured URL.
package gateway

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/diane-assistant/agent-gateway/internal/acp"
	"github.com/diane-assistant/agent-gateway/internal/agent/activity"
	"github.com/diane-assistant/agent-gateway/internal/agent/store"
	apperrors "github.com/diane-assistant/agent-gateway/internal/common/errors"
	"github.com/diane-assistant/agent-gateway/internal/common/logger"
)

// AgentSource is the registry slice the router needs.
type AgentSource interface {
	Get(ctx context.Context, name string) (*store.AgentDefinition, error)
}

// ProcessEnsurer is the supervisor slice the router needs.
type ProcessEnsurer interface {
	EnsureRunning(ctx context.Context, agent *store.AgentDefinition) (string, error)
}

// ExchangeRecorder logs request/response pairs against an agent.
type ExchangeRecorder interface {
	Request(ctx context.Context, agentName, messageType string, payload interface{}) time.Time
	Response(ctx context.Context, agentName, messageType string, payload interface{}, exchangeErr error, started time.Time)
}

// Target is a resolved dispatch destination.
type Target struct {
	Agent   *store.AgentDefinition
	BaseURL string
}

// SubAgentName returns the backend-side agent name for run requests.
// A definition can pin a sub-agent on servers that expose several.
func (t *Target) SubAgentName() string {
	if t.Agent.SubAgent != "" {
		return t.Agent.SubAgent
	}
	return t.Agent.Name
}

// ConnectivityStatus is the closed result set of a connectivity test.
type ConnectivityStatus string

const (
	StatusConnected   ConnectivityStatus = "connected"
	StatusUnreachable ConnectivityStatus = "unreachable"
	StatusError       ConnectivityStatus = "error"
	StatusDisabled    ConnectivityStatus = "disabled"
)

// TestResult is the outcome of a connectivity test against one agent.
type TestResult struct {
	AgentName  string             `json:"agent_name"`
	Status     ConnectivityStatus `json:"status"`
	Error      string             `json:"error,omitempty"`
	DurationMs int64              `json:"duration_ms"`
}

// Router resolves names to targets.
type Router struct {
	agents         AgentSource
	processes      ProcessEnsurer
	recorder       ExchangeRecorder
	requestTimeout time.Duration
	log            *logger.Logger
}

// NewRouter creates a router.
func NewRouter(agents AgentSource, processes ProcessEnsurer, requestTimeout time.Duration, log *logger.Logger) *Router {
	return &Router{
		agents:         agents,
		processes:      processes,
		requestTimeout: requestTimeout,
		log:            log.WithFields(zap.String("component", "gateway-router")),
	}
}

// WithRecorder makes the router log ping and list exchanges. Returns the
// router for chaining.
func (r *Router) WithRecorder(rec ExchangeRecorder) *Router {
	r.recorder = rec
	return r
}

// Lookup returns a dispatchable definition without touching the network.
// Unknown names and disabled agents are rejected here, before any process
// is spawned or byte is sent.
func (r *Router) Lookup(ctx context.Context, name string) (*store.AgentDefinition, error) {
	agent, err := r.agents.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if !agent.Enabled {
		return nil, apperrors.AgentDisabled(name)
	}
	return agent, nil
}

// Resolve returns a live target for the agent. Local agents are started
// (or reused) through the supervisor; remote agents pass through.
func (r *Router) Resolve(ctx context.Context, name string) (*Target, error) {
	agent, err := r.Lookup(ctx, name)
	if err != nil {
		return nil, err
	}

	if agent.IsLocal() {
		baseURL, err := r.processes.EnsureRunning(ctx, agent)
		if err != nil {
			return nil, err
		}
		return &Target{Agent: agent, BaseURL: baseURL}, nil
	}
	return &Target{Agent: agent, BaseURL: agent.URL}, nil
}

// Client returns an ACP client for a resolved target.
func (r *Router) Client(target *Target) *acp.Client {
	return acp.NewClient(target.BaseURL, 0)
}

// TestConnectivity probes one agent and reports a closed status set.
// Disabled agents short-circuit without network traffic.
func (r *Router) TestConnectivity(ctx context.Context, name string) (*TestResult, error) {
	started := time.Now()
	result := &TestResult{AgentName: name}

	agent, err := r.agents.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if !agent.Enabled {
		result.Status = StatusDisabled
		result.DurationMs = time.Since(started).Milliseconds()
		return result, nil
	}

	target, err := r.Resolve(ctx, name)
	if err != nil {
		result.Status = StatusError
		if apperrors.IsStartupTimeout(err) || apperrors.Code(err) == apperrors.ErrCodeUnreachable {
			result.Status = StatusUnreachable
		}
		result.Error = err.Error()
		result.DurationMs = time.Since(started).Milliseconds()
		return result, nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, r.requestTimeout)
	defer cancel()

	var pingStart time.Time
	if r.recorder != nil {
		pingStart = r.recorder.Request(pingCtx, name, activity.MessagePing, nil)
	}
	pingErr := r.Client(target).Ping(pingCtx)
	if r.recorder != nil {
		r.recorder.Response(pingCtx, name, activity.MessagePing, nil, pingErr, pingStart)
	}
	if err := pingErr; err != nil {
		result.Status = StatusUnreachable
		result.Error = err.Error()
	} else {
		result.Status = StatusConnected
	}
	result.DurationMs = time.Since(started).Milliseconds()

	r.log.Debug("connectivity test finished",
		zap.String("agent", name),
		zap.String("status", string(result.Status)),
		zap.Int64("duration_ms", result.DurationMs))
	return result, nil
}

// ListRemoteAgents asks a backend which agents it exposes. Useful for
// servers that front several sub-agents behind one URL.
func (r *Router) ListRemoteAgents(ctx context.Context, name string, limit, offset int) ([]acp.AgentManifest, error) {
	target, err := r.Resolve(ctx, name)
	if err != nil {
		return nil, err
	}

	listCtx, cancel := context.WithTimeout(ctx, r.requestTimeout)
	defer cancel()

	var started time.Time
	if r.recorder != nil {
		started = r.recorder.Request(listCtx, name, activity.MessageList, nil)
	}
	manifests, err := r.Client(target).ListAgents(listCtx, limit, offset)
	if r.recorder != nil {
		r.recorder.Response(listCtx, name, activity.MessageList, manifests, err, started)
	}
	if err != nil {
		return nil, apperrors.Unreachable(name, fmt.Errorf("failed to list backend agents: %w", err))
	}
	return manifests, nil
}
