package store

import (
	"context"
	"time"
)

// AgentStore persists agent definitions. Uniqueness is by name; a second
// insert with the same name must fail so the registry can report it.
type AgentStore interface {
	Create(ctx context.Context, agent *AgentDefinition) error
	Get(ctx context.Context, name string) (*AgentDefinition, error)
	List(ctx context.Context) ([]*AgentDefinition, error)
	Update(ctx context.Context, agent *AgentDefinition) error
	SetEnabled(ctx context.Context, name string, enabled bool) error
	Delete(ctx context.Context, name string) error
}

// LogStore persists agent exchange logs.
type LogStore interface {
	Insert(ctx context.Context, entry *AgentLog) error
	ListByAgent(ctx context.Context, agentName string, limit, offset int) ([]*AgentLog, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
