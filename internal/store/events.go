// ABOUTME: Append-only event log store for agent execution history
// ABOUTME: Provides AgentEvent persistence, ordered reads, tail pagination, and summary patching

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const eventColumns = `event_id, agent_id, task_id, entry_index, category, type, payload, summary, created_at`

// eventTimeLayout is fixed-width so stored timestamps sort lexicographically.
// RFC3339Nano trims trailing zeros, which breaks ORDER BY on the text column.
const eventTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// AppendEvent persists an event row. The caller assigns EntryIndex; the
// UNIQUE (agent_id, task_id, entry_index) constraint rejects duplicates.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *AgentEvent) error {
	query := `
		INSERT INTO agent_events (
			event_id, agent_id, task_id, entry_index, category, type, payload, summary, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var payload *string
	if len(event.Payload) > 0 {
		p := string(event.Payload)
		payload = &p
	}

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.AgentID,
		event.TaskID,
		event.EntryIndex,
		string(event.Category),
		event.Type,
		payload,
		event.Summary,
		event.CreatedAt.UTC().Format(eventTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}

	s.logger.Debug("appended event",
		"event_id", event.ID,
		"agent_id", event.AgentID,
		"task_id", event.TaskID,
		"entry_index", event.EntryIndex,
		"type", event.Type,
	)
	return nil
}

// GetEvent retrieves a single event by ID
func (s *SQLiteStore) GetEvent(ctx context.Context, id string) (*AgentEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM agent_events WHERE event_id = ?`

	event, err := scanEvent(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrEventNotFound
	}
	return event, err
}

// ListEvents retrieves events matching the query, ordered by entry_index
// ascending (or descending when q.Descending is set).
func (s *SQLiteStore) ListEvents(ctx context.Context, q EventQuery) ([]*AgentEvent, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	query := `SELECT ` + eventColumns + ` FROM agent_events WHERE 1=1`
	var args []any

	if q.AgentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, q.AgentID)
	}
	if q.TaskID != "" {
		query += ` AND task_id = ?`
		args = append(args, q.TaskID)
	}

	order := "ASC"
	if q.Descending {
		order = "DESC"
	}
	query += fmt.Sprintf(` ORDER BY task_id ASC, entry_index %s LIMIT ? OFFSET ?`, order)
	args = append(args, limit, q.Offset)

	return s.queryEvents(ctx, query, args...)
}

// TailEvents retrieves the most recent events for a task, paginated from the
// end, re-ordered oldest-to-newest so callers receive them in log order.
// Offset counts back from the newest event.
func (s *SQLiteStore) TailEvents(ctx context.Context, agentID, taskID string, limit, offset int) ([]*AgentEvent, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 500 {
		limit = 500
	}

	query := `
		SELECT ` + eventColumns + ` FROM (
			SELECT ` + eventColumns + `
			FROM agent_events
			WHERE agent_id = ? AND task_id = ?
			ORDER BY entry_index DESC
			LIMIT ? OFFSET ?
		)
		ORDER BY entry_index ASC
	`

	return s.queryEvents(ctx, query, agentID, taskID, limit, offset)
}

// LatestTaskID returns the task_id of the agent's most recently started task.
// Returns ErrEventNotFound if the agent has no events at all.
func (s *SQLiteStore) LatestTaskID(ctx context.Context, agentID string) (string, error) {
	query := `
		SELECT task_id FROM agent_events
		WHERE agent_id = ?
		ORDER BY created_at DESC, entry_index DESC
		LIMIT 1
	`

	var taskID string
	err := s.db.QueryRowContext(ctx, query, agentID).Scan(&taskID)
	if err == sql.ErrNoRows {
		return "", ErrEventNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying latest task: %w", err)
	}
	return taskID, nil
}

// SetEventSummary patches the summary column of an existing event.
// This is the only mutation an event row ever receives.
func (s *SQLiteStore) SetEventSummary(ctx context.Context, eventID, summary string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE agent_events SET summary = ? WHERE event_id = ?`,
		summary, eventID)
	if err != nil {
		return fmt.Errorf("patching event summary: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrEventNotFound
	}
	return nil
}

// MaxEntryIndex returns the highest entry_index recorded for (agent, task),
// or -1 when the task has no events yet.
func (s *SQLiteStore) MaxEntryIndex(ctx context.Context, agentID, taskID string) (int64, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(entry_index) FROM agent_events WHERE agent_id = ? AND task_id = ?`,
		agentID, taskID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("querying max entry index: %w", err)
	}
	if !max.Valid {
		return -1, nil
	}
	return max.Int64, nil
}

// CostBySessionToken aggregates usage for the agent owning the given token.
// Returns ErrNotFound if no agent holds the token.
func (s *SQLiteStore) CostBySessionToken(ctx context.Context, sessionToken string) (*CostTotals, error) {
	query := `
		SELECT input_tokens, output_tokens, cost_usd
		FROM agents
		WHERE session_token = ?
	`

	totals := &CostTotals{}
	err := s.db.QueryRowContext(ctx, query, sessionToken).Scan(
		&totals.InputTokens, &totals.OutputTokens, &totals.CostUSD)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session cost: %w", err)
	}
	return totals, nil
}

// CostAllActive aggregates usage across all non-archived agents.
func (s *SQLiteStore) CostAllActive(ctx context.Context) (*CostTotals, error) {
	query := `
		SELECT COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost_usd), 0)
		FROM agents
		WHERE archived = 0
	`

	totals := &CostTotals{}
	err := s.db.QueryRowContext(ctx, query).Scan(
		&totals.InputTokens, &totals.OutputTokens, &totals.CostUSD)
	if err != nil {
		return nil, fmt.Errorf("querying aggregate cost: %w", err)
	}
	return totals, nil
}

// queryEvents is a helper that executes a query and returns events
func (s *SQLiteStore) queryEvents(ctx context.Context, query string, args ...any) ([]*AgentEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []*AgentEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event rows: %w", err)
	}

	return events, nil
}

// scanEvent reads an event row from a row scanner.
func scanEvent(row interface{ Scan(...any) error }) (*AgentEvent, error) {
	event := &AgentEvent{}
	var category, createdAtStr string
	var payload sql.NullString

	err := row.Scan(
		&event.ID,
		&event.AgentID,
		&event.TaskID,
		&event.EntryIndex,
		&category,
		&event.Type,
		&payload,
		&event.Summary,
		&createdAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning event row: %w", err)
	}

	event.Category = EventCategory(category)
	if payload.Valid {
		event.Payload = []byte(payload.String)
	}
	if event.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing event timestamp: %w", err)
	}

	return event, nil
}
