// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject persistence failures

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu          sync.RWMutex
	agents      map[string]*Agent        // keyed by agent ID
	nameIndex   map[string]string        // live name -> agent ID
	events      map[string]*AgentEvent   // keyed by event ID
	eventsByKey map[string][]*AgentEvent // keyed by "agentID:taskID", entry_index order

	// AppendErr, when set, is returned from AppendEvent to simulate a
	// persistence failure.
	AppendErr error
	// SummaryErr, when set, is returned from SetEventSummary.
	SummaryErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		agents:      make(map[string]*Agent),
		nameIndex:   make(map[string]string),
		events:      make(map[string]*AgentEvent),
		eventsByKey: make(map[string][]*AgentEvent),
	}
}

func eventKey(agentID, taskID string) string {
	return agentID + ":" + taskID
}

// CreateAgent stores a new agent, enforcing live-name uniqueness.
func (m *MockStore) CreateAgent(ctx context.Context, agent *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.nameIndex[agent.Name]; exists {
		return ErrDuplicateName
	}

	a := *agent
	m.agents[a.ID] = &a
	m.nameIndex[a.Name] = a.ID
	return nil
}

// GetAgent retrieves an agent by ID.
func (m *MockStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

// GetAgentByName retrieves a non-archived agent by name.
func (m *MockStore) GetAgentByName(ctx context.Context, name string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.nameIndex[name]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.agents[id]
	return &cp, nil
}

// ListAgents returns agents sorted by creation time.
func (m *MockStore) ListAgents(ctx context.Context, includeArchived bool) ([]*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var agents []*Agent
	for _, a := range m.agents {
		if a.Archived && !includeArchived {
			continue
		}
		cp := *a
		agents = append(agents, &cp)
	}
	sort.Slice(agents, func(i, j int) bool {
		if agents[i].CreatedAt.Equal(agents[j].CreatedAt) {
			return agents[i].ID < agents[j].ID
		}
		return agents[i].CreatedAt.Before(agents[j].CreatedAt)
	})
	return agents, nil
}

// UpdateAgentStatus sets an agent's status.
func (m *MockStore) UpdateAgentStatus(ctx context.Context, id string, status AgentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.agents[id]
	if !ok {
		return ErrNotFound
	}
	a.Status = status
	return nil
}

// UpdateAgentSession replaces an agent's session token.
func (m *MockStore) UpdateAgentSession(ctx context.Context, id, sessionToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.agents[id]
	if !ok {
		return ErrNotFound
	}
	token := sessionToken
	a.SessionToken = &token
	return nil
}

// AddAgentUsage accumulates usage counters.
func (m *MockStore) AddAgentUsage(ctx context.Context, id string, inputTokens, outputTokens int64, costUSD float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.agents[id]
	if !ok {
		return ErrNotFound
	}
	a.InputTokens += inputTokens
	a.OutputTokens += outputTokens
	a.CostUSD += costUSD
	return nil
}

// ResetAgentTokens zeroes token counters, preserving cost.
func (m *MockStore) ResetAgentTokens(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.agents[id]
	if !ok {
		return ErrNotFound
	}
	a.InputTokens = 0
	a.OutputTokens = 0
	return nil
}

// ArchiveAgent soft-deletes an agent and frees its name.
func (m *MockStore) ArchiveAgent(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.agents[id]
	if !ok {
		return ErrNotFound
	}
	if !a.Archived {
		a.Archived = true
		delete(m.nameIndex, a.Name)
	}
	return nil
}

// AppendEvent stores an event, honoring the AppendErr injection point.
func (m *MockStore) AppendEvent(ctx context.Context, event *AgentEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.AppendErr != nil {
		return m.AppendErr
	}

	e := *event
	m.events[e.ID] = &e
	key := eventKey(e.AgentID, e.TaskID)
	m.eventsByKey[key] = append(m.eventsByKey[key], &e)
	sort.Slice(m.eventsByKey[key], func(i, j int) bool {
		return m.eventsByKey[key][i].EntryIndex < m.eventsByKey[key][j].EntryIndex
	})
	return nil
}

// GetEvent retrieves an event by ID.
func (m *MockStore) GetEvent(ctx context.Context, id string) (*AgentEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	cp := *e
	return &cp, nil
}

// ListEvents filters stored events by agent and task.
func (m *MockStore) ListEvents(ctx context.Context, q EventQuery) ([]*AgentEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	var matched []*AgentEvent
	for key, events := range m.eventsByKey {
		if q.AgentID != "" && !strings.HasPrefix(key, q.AgentID+":") {
			continue
		}
		if q.TaskID != "" && !strings.HasSuffix(key, ":"+q.TaskID) {
			continue
		}
		matched = append(matched, events...)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].TaskID != matched[j].TaskID {
			return matched[i].TaskID < matched[j].TaskID
		}
		if q.Descending {
			return matched[i].EntryIndex > matched[j].EntryIndex
		}
		return matched[i].EntryIndex < matched[j].EntryIndex
	})

	if q.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[q.Offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]*AgentEvent, len(matched))
	for i, e := range matched {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

// TailEvents returns the newest events for a task in log order.
func (m *MockStore) TailEvents(ctx context.Context, agentID, taskID string, limit, offset int) ([]*AgentEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}

	events := m.eventsByKey[eventKey(agentID, taskID)]
	end := len(events) - offset
	if end <= 0 {
		return nil, nil
	}
	start := end - limit
	if start < 0 {
		start = 0
	}

	out := make([]*AgentEvent, 0, end-start)
	for _, e := range events[start:end] {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

// LatestTaskID returns the task of the most recently appended event.
func (m *MockStore) LatestTaskID(ctx context.Context, agentID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *AgentEvent
	for _, e := range m.events {
		if e.AgentID != agentID {
			continue
		}
		if latest == nil || e.CreatedAt.After(latest.CreatedAt) {
			latest = e
		}
	}
	if latest == nil {
		return "", ErrEventNotFound
	}
	return latest.TaskID, nil
}

// SetEventSummary patches an event's summary.
func (m *MockStore) SetEventSummary(ctx context.Context, eventID, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SummaryErr != nil {
		return m.SummaryErr
	}

	e, ok := m.events[eventID]
	if !ok {
		return ErrEventNotFound
	}
	s := summary
	e.Summary = &s
	return nil
}

// MaxEntryIndex returns the highest entry index for (agent, task), or -1.
func (m *MockStore) MaxEntryIndex(ctx context.Context, agentID, taskID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := m.eventsByKey[eventKey(agentID, taskID)]
	if len(events) == 0 {
		return -1, nil
	}
	return events[len(events)-1].EntryIndex, nil
}

// CostBySessionToken aggregates usage for the agent holding the token.
func (m *MockStore) CostBySessionToken(ctx context.Context, sessionToken string) (*CostTotals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.agents {
		if a.SessionToken != nil && *a.SessionToken == sessionToken {
			return &CostTotals{
				InputTokens:  a.InputTokens,
				OutputTokens: a.OutputTokens,
				CostUSD:      a.CostUSD,
			}, nil
		}
	}
	return nil, ErrNotFound
}

// CostAllActive aggregates usage across all non-archived agents.
func (m *MockStore) CostAllActive(ctx context.Context) (*CostTotals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totals := &CostTotals{}
	for _, a := range m.agents {
		if a.Archived {
			continue
		}
		totals.InputTokens += a.InputTokens
		totals.OutputTokens += a.OutputTokens
		totals.CostUSD += a.CostUSD
	}
	return totals, nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}
