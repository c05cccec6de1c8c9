// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides agent registry persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agents (
			agent_id              TEXT PRIMARY KEY,
			name                  TEXT NOT NULL,
			model                 TEXT NOT NULL,
			system_prompt         TEXT NOT NULL,
			working_dir           TEXT,
			capabilities          TEXT,
			disabled_capabilities TEXT,
			status                TEXT NOT NULL DEFAULT 'idle',
			session_token         TEXT,
			input_tokens          INTEGER NOT NULL DEFAULT 0,
			output_tokens         INTEGER NOT NULL DEFAULT 0,
			cost_usd              REAL NOT NULL DEFAULT 0,
			archived              INTEGER NOT NULL DEFAULT 0,
			created_at            TEXT NOT NULL,
			updated_at            TEXT NOT NULL,

			CHECK (status IN ('idle', 'executing', 'waiting', 'blocked', 'complete'))
		);

		-- Name uniqueness applies to live agents only, so an archived
		-- agent's name can be reused by a fresh create.
		CREATE UNIQUE INDEX IF NOT EXISTS idx_agents_name_live
			ON agents(name) WHERE archived = 0;

		CREATE INDEX IF NOT EXISTS idx_agents_session ON agents(session_token);

		CREATE TABLE IF NOT EXISTS agent_events (
			event_id    TEXT PRIMARY KEY,
			agent_id    TEXT NOT NULL REFERENCES agents(agent_id),
			task_id     TEXT NOT NULL,
			entry_index INTEGER NOT NULL,
			category    TEXT NOT NULL,
			type        TEXT NOT NULL,
			payload     TEXT,
			summary     TEXT,
			created_at  TEXT NOT NULL,

			CHECK (category IN ('hook', 'response')),
			UNIQUE (agent_id, task_id, entry_index)
		);

		CREATE INDEX IF NOT EXISTS idx_events_agent_task
			ON agent_events(agent_id, task_id, entry_index);
		CREATE INDEX IF NOT EXISTS idx_events_agent_created
			ON agent_events(agent_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		check  string // Query to check if migration is needed
		apply  string // Query to apply the migration
		column string // Column name for logging
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('agents') WHERE name = 'disabled_capabilities'`,
			apply:  `ALTER TABLE agents ADD COLUMN disabled_capabilities TEXT`,
			column: "disabled_capabilities",
		},
		{
			check:  `SELECT 1 FROM pragma_table_info('agents') WHERE name = 'cost_usd'`,
			apply:  `ALTER TABLE agents ADD COLUMN cost_usd REAL NOT NULL DEFAULT 0`,
			column: "cost_usd",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			// Column already exists, skip
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to agents: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", "agents")
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// CreateAgent inserts a new agent registry row.
// Returns ErrDuplicateName if a non-archived agent already holds the name.
func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *Agent) error {
	caps, err := marshalStrings(agent.Capabilities)
	if err != nil {
		return fmt.Errorf("encoding capabilities: %w", err)
	}
	disabled, err := marshalStrings(agent.DisabledCapabilities)
	if err != nil {
		return fmt.Errorf("encoding disabled capabilities: %w", err)
	}

	query := `
		INSERT INTO agents (
			agent_id, name, model, system_prompt, working_dir,
			capabilities, disabled_capabilities, status, session_token,
			input_tokens, output_tokens, cost_usd, archived, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		agent.ID,
		agent.Name,
		agent.Model,
		agent.SystemPrompt,
		agent.WorkingDir,
		caps,
		disabled,
		string(agent.Status),
		agent.SessionToken,
		agent.InputTokens,
		agent.OutputTokens,
		agent.CostUSD,
		boolToInt(agent.Archived),
		agent.CreatedAt.UTC().Format(time.RFC3339),
		agent.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateName
		}
		return fmt.Errorf("inserting agent: %w", err)
	}

	s.logger.Debug("created agent", "agent_id", agent.ID, "name", agent.Name)
	return nil
}

const agentColumns = `agent_id, name, model, system_prompt, working_dir,
	capabilities, disabled_capabilities, status, session_token,
	input_tokens, output_tokens, cost_usd, archived, created_at, updated_at`

// GetAgent retrieves an agent by ID. Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE agent_id = ?`
	return s.scanAgent(s.db.QueryRowContext(ctx, query, id))
}

// GetAgentByName retrieves a non-archived agent by its unique name.
// Returns ErrNotFound if no live agent holds the name.
func (s *SQLiteStore) GetAgentByName(ctx context.Context, name string) (*Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE name = ? AND archived = 0`
	return s.scanAgent(s.db.QueryRowContext(ctx, query, name))
}

// ListAgents returns all agents, excluding archived ones unless requested.
func (s *SQLiteStore) ListAgents(ctx context.Context, includeArchived bool) ([]*Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents`
	if !includeArchived {
		query += ` WHERE archived = 0`
	}
	query += ` ORDER BY created_at ASC, agent_id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		agent, err := s.scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent rows: %w", err)
	}

	return agents, nil
}

// UpdateAgentStatus sets the agent's lifecycle status.
func (s *SQLiteStore) UpdateAgentStatus(ctx context.Context, id string, status AgentStatus) error {
	return s.updateAgent(ctx, id,
		`UPDATE agents SET status = ?, updated_at = ? WHERE agent_id = ?`,
		string(status), now(), id)
}

// UpdateAgentSession replaces the agent's resumable session token.
// Tokens are monotonically replaced, never rolled back.
func (s *SQLiteStore) UpdateAgentSession(ctx context.Context, id, sessionToken string) error {
	return s.updateAgent(ctx, id,
		`UPDATE agents SET session_token = ?, updated_at = ? WHERE agent_id = ?`,
		sessionToken, now(), id)
}

// AddAgentUsage accumulates token and cost counters onto the agent row.
func (s *SQLiteStore) AddAgentUsage(ctx context.Context, id string, inputTokens, outputTokens int64, costUSD float64) error {
	return s.updateAgent(ctx, id,
		`UPDATE agents SET
			input_tokens = input_tokens + ?,
			output_tokens = output_tokens + ?,
			cost_usd = cost_usd + ?,
			updated_at = ?
		WHERE agent_id = ?`,
		inputTokens, outputTokens, costUSD, now(), id)
}

// ResetAgentTokens zeroes the token counters. Fired before the engine
// compacts context: post-compaction counts are not comparable to
// pre-compaction counts. Accumulated cost is preserved.
func (s *SQLiteStore) ResetAgentTokens(ctx context.Context, id string) error {
	return s.updateAgent(ctx, id,
		`UPDATE agents SET input_tokens = 0, output_tokens = 0, updated_at = ? WHERE agent_id = ?`,
		now(), id)
}

// ArchiveAgent soft-deletes an agent. Idempotent: archiving an already
// archived agent is a no-op. Status is frozen at its value when archived.
func (s *SQLiteStore) ArchiveAgent(ctx context.Context, id string) error {
	return s.updateAgent(ctx, id,
		`UPDATE agents SET archived = 1, updated_at = ? WHERE agent_id = ?`,
		now(), id)
}

// updateAgent executes an UPDATE and maps zero affected rows to ErrNotFound.
func (s *SQLiteStore) updateAgent(ctx context.Context, id, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating agent %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// scanAgent reads an agent row from a row scanner.
func (s *SQLiteStore) scanAgent(row interface{ Scan(...any) error }) (*Agent, error) {
	agent := &Agent{}
	var caps, disabled sql.NullString
	var status, createdAtStr, updatedAtStr string
	var archived int

	err := row.Scan(
		&agent.ID,
		&agent.Name,
		&agent.Model,
		&agent.SystemPrompt,
		&agent.WorkingDir,
		&caps,
		&disabled,
		&status,
		&agent.SessionToken,
		&agent.InputTokens,
		&agent.OutputTokens,
		&agent.CostUSD,
		&archived,
		&createdAtStr,
		&updatedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning agent row: %w", err)
	}

	agent.Status = AgentStatus(status)
	agent.Archived = archived != 0
	if agent.Capabilities, err = unmarshalStrings(caps); err != nil {
		return nil, fmt.Errorf("decoding capabilities: %w", err)
	}
	if agent.DisabledCapabilities, err = unmarshalStrings(disabled); err != nil {
		return nil, fmt.Errorf("decoding disabled capabilities: %w", err)
	}
	if agent.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if agent.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return agent, nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func marshalStrings(values []string) (sql.NullString, error) {
	if len(values) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalStrings(ns sql.NullString) ([]string, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(ns.String), &values); err != nil {
		return nil, err
	}
	return values, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
