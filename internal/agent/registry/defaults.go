package registry

import (
	"context"

	"github.com/diane-assistant/agent-gateway/internal/agent/store"
	apperrors "github.com/diane-assistant/agent-gateway/internal/common/errors"
)

// DefaultAgents returns the built-in local agent definitions: well-known CLI
// backends wrapped by the acp-agent binary. They start disabled so nothing
// is dispatchable until an operator enables it.
func DefaultAgents() []*store.AgentDefinition {
	return []*store.AgentDefinition{
		{
			Name:        "opencode",
			Kind:        store.AgentKindLocal,
			Command:     "acp-agent",
			Args:        []string{"--preset", "opencode"},
			Port:        8101,
			Description: "OpenCode CLI wrapped as an ACP agent",
			Tags:        []string{"builtin", "cli"},
			Enabled:     false,
		},
		{
			Name:        "gemini",
			Kind:        store.AgentKindLocal,
			Command:     "acp-agent",
			Args:        []string{"--preset", "gemini"},
			Port:        8102,
			Description: "Gemini CLI wrapped as an ACP agent",
			Tags:        []string{"builtin", "cli"},
			Enabled:     false,
		},
	}
}

// EnsureDefaults registers any built-in agents not already present. Existing
// definitions, including operator-modified ones, are left alone.
func (r *Registry) EnsureDefaults(ctx context.Context) error {
	for _, agent := range DefaultAgents() {
		err := r.Add(ctx, agent)
		if err != nil && !apperrors.IsDuplicateName(err) {
			return err
		}
	}
	return nil
}
