package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/diane-assistant/agent-gateway/internal/common/errors"
	"github.com/diane-assistant/agent-gateway/internal/db"
	"github.com/diane-assistant/agent-gateway/internal/db/dialect"
)

// SQLStore implements AgentStore and LogStore on a db.Pool.
// Works against SQLite and PostgreSQL.
type SQLStore struct {
	pool *db.Pool
}

var (
	_ AgentStore = (*SQLStore)(nil)
	_ LogStore   = (*SQLStore)(nil)
)

// NewSQLStore creates the store and initializes the schema.
func NewSQLStore(pool *db.Pool) (*SQLStore, error) {
	s := &SQLStore{pool: pool}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	boolType := "INTEGER"
	timeType := "DATETIME"
	if dialect.IsPostgres(s.pool.DriverName()) {
		boolType = "BOOLEAN"
		timeType = "TIMESTAMPTZ"
	}

	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		command TEXT NOT NULL DEFAULT '',
		args TEXT NOT NULL DEFAULT '[]',
		env TEXT NOT NULL DEFAULT '{}',
		workdir TEXT NOT NULL DEFAULT '',
		port INTEGER NOT NULL DEFAULT 0,
		url TEXT NOT NULL DEFAULT '',
		sub_agent TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		enabled %s NOT NULL,
		created_at %s NOT NULL,
		updated_at %s NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_agents_name ON agents(name);

	CREATE TABLE IF NOT EXISTS agent_logs (
		id TEXT PRIMARY KEY,
		agent_name TEXT NOT NULL,
		direction TEXT NOT NULL,
		message_type TEXT NOT NULL,
		content TEXT,
		error TEXT,
		duration_ms INTEGER,
		created_at %s NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_agent_logs_agent_name ON agent_logs(agent_name, created_at);
	CREATE INDEX IF NOT EXISTS idx_agent_logs_created_at ON agent_logs(created_at);
	`, boolType, timeType, timeType, timeType)

	_, err := s.pool.Writer().Exec(schema)
	return err
}

// agentRow is the flat SQL representation; args/env/tags are JSON columns.
type agentRow struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Kind        string    `db:"kind"`
	Command     string    `db:"command"`
	Args        string    `db:"args"`
	Env         string    `db:"env"`
	WorkDir     string    `db:"workdir"`
	Port        int       `db:"port"`
	URL         string    `db:"url"`
	SubAgent    string    `db:"sub_agent"`
	Description string    `db:"description"`
	Tags        string    `db:"tags"`
	Enabled     bool      `db:"enabled"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func toRow(a *AgentDefinition) (*agentRow, error) {
	args, err := json.Marshal(orEmptySlice(a.Args))
	if err != nil {
		return nil, err
	}
	env, err := json.Marshal(orEmptyMap(a.Env))
	if err != nil {
		return nil, err
	}
	tags, err := json.Marshal(orEmptySlice(a.Tags))
	if err != nil {
		return nil, err
	}
	return &agentRow{
		ID:          a.ID,
		Name:        a.Name,
		Kind:        string(a.Kind),
		Command:     a.Command,
		Args:        string(args),
		Env:         string(env),
		WorkDir:     a.WorkDir,
		Port:        a.Port,
		URL:         a.URL,
		SubAgent:    a.SubAgent,
		Description: a.Description,
		Tags:        string(tags),
		Enabled:     a.Enabled,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}, nil
}

func (r *agentRow) toAgent() (*AgentDefinition, error) {
	a := &AgentDefinition{
		ID:          r.ID,
		Name:        r.Name,
		Kind:        AgentKind(r.Kind),
		Command:     r.Command,
		WorkDir:     r.WorkDir,
		Port:        r.Port,
		URL:         r.URL,
		SubAgent:    r.SubAgent,
		Description: r.Description,
		Enabled:     r.Enabled,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(r.Args), &a.Args); err != nil {
		return nil, fmt.Errorf("corrupt args column for agent %s: %w", r.Name, err)
	}
	if err := json.Unmarshal([]byte(r.Env), &a.Env); err != nil {
		return nil, fmt.Errorf("corrupt env column for agent %s: %w", r.Name, err)
	}
	if err := json.Unmarshal([]byte(r.Tags), &a.Tags); err != nil {
		return nil, fmt.Errorf("corrupt tags column for agent %s: %w", r.Name, err)
	}
	return a, nil
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// Create inserts a new agent definition.
func (s *SQLStore) Create(ctx context.Context, agent *AgentDefinition) error {
	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	agent.CreatedAt = now
	agent.UpdatedAt = now

	row, err := toRow(agent)
	if err != nil {
		return apperrors.InternalError("failed to encode agent", err)
	}

	writer := s.pool.Writer()
	query := writer.Rebind(`
		INSERT INTO agents (id, name, kind, command, args, env, workdir, port, url,
			sub_agent, description, tags, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = writer.ExecContext(ctx, query,
		row.ID, row.Name, row.Kind, row.Command, row.Args, row.Env, row.WorkDir,
		row.Port, row.URL, row.SubAgent, row.Description, row.Tags, row.Enabled,
		row.CreatedAt, row.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.DuplicateName(agent.Name)
		}
		return apperrors.InternalError("failed to insert agent", err)
	}
	return nil
}

// Get returns the agent with the given name.
func (s *SQLStore) Get(ctx context.Context, name string) (*AgentDefinition, error) {
	reader := s.pool.Reader()
	query := reader.Rebind(`SELECT * FROM agents WHERE name = ?`)

	var row agentRow
	if err := reader.GetContext(ctx, &row, query, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("agent", name)
		}
		return nil, apperrors.InternalError("failed to query agent", err)
	}
	return row.toAgent()
}

// List returns all agents ordered by name.
func (s *SQLStore) List(ctx context.Context) ([]*AgentDefinition, error) {
	reader := s.pool.Reader()

	var rows []agentRow
	if err := reader.SelectContext(ctx, &rows, `SELECT * FROM agents ORDER BY name`); err != nil {
		return nil, apperrors.InternalError("failed to list agents", err)
	}

	agents := make([]*AgentDefinition, 0, len(rows))
	for i := range rows {
		agent, err := rows[i].toAgent()
		if err != nil {
			return nil, apperrors.InternalError("failed to decode agent", err)
		}
		agents = append(agents, agent)
	}
	return agents, nil
}

// Update replaces a stored definition, keyed by name.
func (s *SQLStore) Update(ctx context.Context, agent *AgentDefinition) error {
	agent.UpdatedAt = time.Now().UTC()

	row, err := toRow(agent)
	if err != nil {
		return apperrors.InternalError("failed to encode agent", err)
	}

	writer := s.pool.Writer()
	query := writer.Rebind(`
		UPDATE agents SET kind = ?, command = ?, args = ?, env = ?, workdir = ?,
			port = ?, url = ?, sub_agent = ?, description = ?, tags = ?, enabled = ?,
			updated_at = ?
		WHERE name = ?`)
	result, err := writer.ExecContext(ctx, query,
		row.Kind, row.Command, row.Args, row.Env, row.WorkDir, row.Port, row.URL,
		row.SubAgent, row.Description, row.Tags, row.Enabled, row.UpdatedAt, row.Name)
	if err != nil {
		return apperrors.InternalError("failed to update agent", err)
	}
	return requireRowAffected(result, "agent", agent.Name)
}

// SetEnabled flips the enabled flag for one agent.
func (s *SQLStore) SetEnabled(ctx context.Context, name string, enabled bool) error {
	writer := s.pool.Writer()
	query := writer.Rebind(`UPDATE agents SET enabled = ?, updated_at = ? WHERE name = ?`)
	result, err := writer.ExecContext(ctx, query, enabled, time.Now().UTC(), name)
	if err != nil {
		return apperrors.InternalError("failed to toggle agent", err)
	}
	return requireRowAffected(result, "agent", name)
}

// Delete removes an agent by name.
func (s *SQLStore) Delete(ctx context.Context, name string) error {
	writer := s.pool.Writer()
	query := writer.Rebind(`DELETE FROM agents WHERE name = ?`)
	result, err := writer.ExecContext(ctx, query, name)
	if err != nil {
		return apperrors.InternalError("failed to delete agent", err)
	}
	return requireRowAffected(result, "agent", name)
}

// Insert writes one exchange log row.
func (s *SQLStore) Insert(ctx context.Context, entry *AgentLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	writer := s.pool.Writer()
	query := writer.Rebind(`
		INSERT INTO agent_logs (id, agent_name, direction, message_type, content, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := writer.ExecContext(ctx, query,
		entry.ID, entry.AgentName, string(entry.Direction), entry.MessageType,
		entry.Content, entry.Error, entry.DurationMs, entry.CreatedAt)
	if err != nil {
		return apperrors.InternalError("failed to insert agent log", err)
	}
	return nil
}

// ListByAgent returns an agent's log rows, newest first.
func (s *SQLStore) ListByAgent(ctx context.Context, agentName string, limit, offset int) ([]*AgentLog, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	reader := s.pool.Reader()
	query := reader.Rebind(`
		SELECT * FROM agent_logs WHERE agent_name = ?
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`)

	var rows []AgentLog
	if err := reader.SelectContext(ctx, &rows, query, agentName, limit, offset); err != nil {
		return nil, apperrors.InternalError("failed to list agent logs", err)
	}

	logs := make([]*AgentLog, 0, len(rows))
	for i := range rows {
		logs = append(logs, &rows[i])
	}
	return logs, nil
}

// DeleteOlderThan prunes log rows created before the cutoff.
func (s *SQLStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	writer := s.pool.Writer()
	query := writer.Rebind(`DELETE FROM agent_logs WHERE created_at < ?`)
	result, err := writer.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, apperrors.InternalError("failed to prune agent logs", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

func requireRowAffected(result sql.Result, resource, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return apperrors.InternalError("failed to read rows affected", err)
	}
	if n == 0 {
		return apperrors.NotFound(resource, id)
	}
	return nil
}

// isUniqueViolation matches the sqlite3 and pgx unique-constraint errors
// without importing driver error types into the store.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}
