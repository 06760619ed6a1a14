// Package registry manages the set of registered agents: validation,
// persistence, and coordination with the local process supervisor.
package registry

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/diane-assistant/agent-gateway/internal/agent/store"
	apperrors "github.com/diane-assistant/agent-gateway/internal/common/errors"
	"github.com/diane-assistant/agent-gateway/internal/common/logger"
)

// ProcessController is the slice of the supervisor the registry needs:
// stopping a live local process and invalidating cached process state when
// a definition changes underneath it.
type ProcessController interface {
	Stop(ctx context.Context, name string) error
	Invalidate(name string)
}

// Registry owns agent definitions.
type Registry struct {
	agents    store.AgentStore
	processes ProcessController
	log       *logger.Logger
}

// New creates a registry. processes may be nil when no local supervision
// exists (tests, remote-only deployments).
func New(agents store.AgentStore, processes ProcessController, log *logger.Logger) *Registry {
	return &Registry{
		agents:    agents,
		processes: processes,
		log:       log.WithFields(zap.String("component", "agent-registry")),
	}
}

// Add validates and persists a new agent definition.
// Names must be unique; a duplicate leaves the existing registration untouched.
func (r *Registry) Add(ctx context.Context, agent *store.AgentDefinition) error {
	if err := Validate(agent); err != nil {
		return err
	}
	if err := r.agents.Create(ctx, agent); err != nil {
		return err
	}
	r.log.Info("agent registered",
		zap.String("agent", agent.Name),
		zap.String("kind", string(agent.Kind)))
	return nil
}

// Update replaces an existing definition. The running process, if any, is
// invalidated so the next dispatch picks up the new launch attributes.
func (r *Registry) Update(ctx context.Context, agent *store.AgentDefinition) error {
	if err := Validate(agent); err != nil {
		return err
	}
	if err := r.agents.Update(ctx, agent); err != nil {
		return err
	}
	r.invalidate(agent.Name)
	r.log.Info("agent updated", zap.String("agent", agent.Name))
	return nil
}

// Remove deletes an agent. A live local process is stopped first,
// best-effort: a stop failure is logged and removal proceeds.
func (r *Registry) Remove(ctx context.Context, name string) error {
	agent, err := r.agents.Get(ctx, name)
	if err != nil {
		return err
	}

	if agent.IsLocal() && r.processes != nil {
		if err := r.processes.Stop(ctx, name); err != nil {
			r.log.Warn("failed to stop agent process during removal",
				zap.String("agent", name), zap.Error(err))
		}
	}

	if err := r.agents.Delete(ctx, name); err != nil {
		return err
	}
	r.log.Info("agent removed", zap.String("agent", name))
	return nil
}

// Enable marks an agent dispatchable. A live local process is left alone;
// only the supervisor's cached state for the agent is discarded.
func (r *Registry) Enable(ctx context.Context, name string) error {
	if err := r.agents.SetEnabled(ctx, name, true); err != nil {
		return err
	}
	if r.processes != nil {
		r.processes.Invalidate(name)
	}
	r.log.Info("agent enabled", zap.String("agent", name))
	return nil
}

// Disable marks an agent undispatchable. A live local process keeps running
// so in-flight work against it can finish; only the supervisor's cached
// state is discarded.
func (r *Registry) Disable(ctx context.Context, name string) error {
	if err := r.agents.SetEnabled(ctx, name, false); err != nil {
		return err
	}
	if r.processes != nil {
		r.processes.Invalidate(name)
	}
	r.log.Info("agent disabled", zap.String("agent", name))
	return nil
}

// Get returns one agent definition by name.
func (r *Registry) Get(ctx context.Context, name string) (*store.AgentDefinition, error) {
	return r.agents.Get(ctx, name)
}

// List returns all agent definitions ordered by name.
func (r *Registry) List(ctx context.Context) ([]*store.AgentDefinition, error) {
	return r.agents.List(ctx)
}

// GetEnabled returns only dispatchable agents.
func (r *Registry) GetEnabled(ctx context.Context) ([]*store.AgentDefinition, error) {
	agents, err := r.agents.List(ctx)
	if err != nil {
		return nil, err
	}
	enabled := agents[:0]
	for _, agent := range agents {
		if agent.Enabled {
			enabled = append(enabled, agent)
		}
	}
	return enabled, nil
}

func (r *Registry) invalidate(name string) {
	if r.processes != nil {
		r.processes.Invalidate(name)
	}
}

// Validate checks kind-specific launch attributes.
func Validate(agent *store.AgentDefinition) error {
	if agent.Name == "" {
		return apperrors.ValidationError("name", "must not be empty")
	}
	if strings.ContainsAny(agent.Name, " \t\n/") {
		return apperrors.ValidationError("name", "must not contain whitespace or '/'")
	}

	switch agent.Kind {
	case store.AgentKindLocal:
		if agent.Command == "" {
			return apperrors.ValidationError("command", "required for local agents")
		}
		if agent.Port <= 0 || agent.Port > 65535 {
			return apperrors.ValidationError("port", "must be between 1 and 65535")
		}
		if agent.URL != "" {
			return apperrors.ValidationError("url", "must be empty for local agents")
		}
	case store.AgentKindRemote:
		if agent.URL == "" {
			return apperrors.ValidationError("url", "required for remote agents")
		}
		parsed, err := url.Parse(agent.URL)
		if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return apperrors.ValidationError("url", "must be a valid http(s) URL")
		}
		if agent.Command != "" || len(agent.Args) > 0 || agent.Port != 0 {
			return apperrors.ValidationError("command", "launch attributes must be empty for remote agents")
		}
	default:
		return apperrors.ValidationError("kind", fmt.Sprintf("unknown kind %q", agent.Kind))
	}
	return nil
}

// SplitName splits a name@workspace key into its parts. A bare name returns
// an empty workspace.
func SplitName(key string) (name, workspace string) {
	if i := strings.Index(key, "@"); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}
