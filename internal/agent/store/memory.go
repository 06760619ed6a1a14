package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/diane-assistant/agent-gateway/internal/common/errors"
)

// MemoryStore is an in-memory AgentStore + LogStore for tests and
// databaseless operation.
type MemoryStore struct {
	mu     sync.RWMutex
	agents map[string]*AgentDefinition
	logs   []*AgentLog
}

var (
	_ AgentStore = (*MemoryStore)(nil)
	_ LogStore   = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{agents: make(map[string]*AgentDefinition)}
}

func (s *MemoryStore) Create(ctx context.Context, agent *AgentDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.agents[agent.Name]; exists {
		return apperrors.DuplicateName(agent.Name)
	}
	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	agent.CreatedAt = now
	agent.UpdatedAt = now
	s.agents[agent.Name] = agent.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, name string) (*AgentDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agent, ok := s.agents[name]
	if !ok {
		return nil, apperrors.NotFound("agent", name)
	}
	return agent.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*AgentDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agents := make([]*AgentDefinition, 0, len(s.agents))
	for _, agent := range s.agents {
		agents = append(agents, agent.Clone())
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].Name < agents[j].Name })
	return agents, nil
}

func (s *MemoryStore) Update(ctx context.Context, agent *AgentDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.agents[agent.Name]
	if !ok {
		return apperrors.NotFound("agent", agent.Name)
	}
	agent.ID = existing.ID
	agent.CreatedAt = existing.CreatedAt
	agent.UpdatedAt = time.Now().UTC()
	s.agents[agent.Name] = agent.Clone()
	return nil
}

func (s *MemoryStore) SetEnabled(ctx context.Context, name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, ok := s.agents[name]
	if !ok {
		return apperrors.NotFound("agent", name)
	}
	agent.Enabled = enabled
	agent.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[name]; !ok {
		return apperrors.NotFound("agent", name)
	}
	delete(s.agents, name)
	return nil
}

func (s *MemoryStore) Insert(ctx context.Context, entry *AgentLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	clone := *entry
	s.logs = append(s.logs, &clone)
	return nil
}

func (s *MemoryStore) ListByAgent(ctx context.Context, agentName string, limit, offset int) ([]*AgentLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	matched := make([]*AgentLog, 0)
	// newest first
	for i := len(s.logs) - 1; i >= 0; i-- {
		if s.logs[i].AgentName == agentName {
			matched = append(matched, s.logs[i])
		}
	}

	if offset >= len(matched) {
		return []*AgentLog{}, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]*AgentLog, 0, len(matched))
	for _, entry := range matched {
		clone := *entry
		out = append(out, &clone)
	}
	return out, nil
}

func (s *MemoryStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.logs[:0]
	var removed int64
	for _, entry := range s.logs {
		if entry.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	s.logs = kept
	return removed, nil
}
