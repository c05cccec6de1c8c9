// ABOUTME: Manages the agent registry, handles commands, and enforces single-flight execution.
// ABOUTME: Central coordinator for agent lifecycle, interruption, and cost reporting.

package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/warren/internal/broadcast"
	"github.com/2389/warren/internal/config"
	"github.com/2389/warren/internal/engine"
	"github.com/2389/warren/internal/enrich"
	"github.com/2389/warren/internal/store"
)

// ErrAgentNotFound indicates the agent reference resolved to nothing.
var ErrAgentNotFound = errors.New("agent not found")

// ErrAlreadyExecuting indicates a command was issued while the agent still
// holds a live execution. Commands do not queue; the caller retries after
// completion or interruption.
var ErrAlreadyExecuting = errors.New("agent is already executing")

// ErrDuplicateName indicates a create collided with a live agent's name.
var ErrDuplicateName = store.ErrDuplicateName

// readinessCommand is the no-op first run that captures an agent's initial
// session token before it accepts real commands.
const readinessCommand = "Reply with exactly: ready"

// activeExecution tracks one live execution handle. Its presence in the
// active map is the single-flight lock for the agent name.
type activeExecution struct {
	agentID string
	taskID  string
	cancel  context.CancelFunc
}

// Options configures manager defaults applied when create parameters omit them.
type Options struct {
	DefaultModel      string
	DefaultWorkingDir string

	// Presets pre-fill create parameters by name; explicit parameters win.
	Presets config.PresetCatalog
}

// Manager coordinates agent lifecycle, command dispatch, and interruption.
type Manager struct {
	store  store.Store
	engine engine.Engine
	bus    *broadcast.Broadcaster
	pool   *enrich.Pool
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]*activeExecution // keyed by agent name

	wg sync.WaitGroup // in-flight executions, for shutdown
}

// NewManager creates a new Manager instance.
func NewManager(st store.Store, eng engine.Engine, bus *broadcast.Broadcaster, pool *enrich.Pool, logger *slog.Logger, opts Options) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DefaultModel == "" {
		opts.DefaultModel = "sonnet"
	}
	return &Manager{
		store:  st,
		engine: eng,
		bus:    bus,
		pool:   pool,
		opts:   opts,
		logger: logger.With("component", "manager"),
		active: make(map[string]*activeExecution),
	}
}

// CreateAgentParams are the caller-supplied fields for a new agent.
type CreateAgentParams struct {
	Name                 string
	Preset               string // optional preset name from the catalog
	SystemPrompt         string
	Model                string
	WorkingDir           string
	Capabilities         []string
	DisabledCapabilities []string
}

// applyPreset fills empty parameters from the named preset.
func (m *Manager) applyPreset(p *CreateAgentParams) error {
	if p.Preset == "" {
		return nil
	}
	preset, ok := m.opts.Presets.Get(p.Preset)
	if !ok {
		return fmt.Errorf("unknown preset %q", p.Preset)
	}
	if p.Model == "" {
		p.Model = preset.Model
	}
	if p.SystemPrompt == "" {
		p.SystemPrompt = preset.SystemPrompt
	}
	if p.WorkingDir == "" {
		p.WorkingDir = preset.WorkingDir
	}
	if len(p.Capabilities) == 0 {
		p.Capabilities = preset.Capabilities
	}
	if len(p.DisabledCapabilities) == 0 {
		p.DisabledCapabilities = preset.DisabledCapabilities
	}
	return nil
}

// CreateAgent registers a new agent and runs a readiness execution so a
// session token is captured before the agent is usable for commands.
// Returns ErrDuplicateName if a live agent already holds the name.
func (m *Manager) CreateAgent(ctx context.Context, p CreateAgentParams) (*store.Agent, error) {
	if p.Name == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	if err := m.applyPreset(&p); err != nil {
		return nil, err
	}
	if p.Model == "" {
		p.Model = m.opts.DefaultModel
	}
	if p.WorkingDir == "" {
		p.WorkingDir = m.opts.DefaultWorkingDir
	}

	now := time.Now().UTC()
	agent := &store.Agent{
		ID:                   uuid.New().String(),
		Name:                 p.Name,
		Model:                p.Model,
		SystemPrompt:         p.SystemPrompt,
		WorkingDir:           p.WorkingDir,
		Capabilities:         p.Capabilities,
		DisabledCapabilities: p.DisabledCapabilities,
		Status:               store.StatusIdle,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if err := m.store.CreateAgent(ctx, agent); err != nil {
		return nil, err
	}

	if err := m.runReadiness(ctx, agent); err != nil {
		// The row stays; the agent is blocked until re-created or recovered
		if serr := m.store.UpdateAgentStatus(ctx, agent.ID, store.StatusBlocked); serr != nil {
			m.logger.Warn("failed to mark agent blocked after readiness failure",
				"agent_id", agent.ID, "error", serr)
		}
		return nil, fmt.Errorf("readiness execution: %w", err)
	}

	m.logger.Info("=== AGENT CREATED ===",
		"agent_id", agent.ID,
		"name", agent.Name,
		"model", agent.Model,
	)
	m.broadcastState(agent.ID, "agent_created", map[string]any{
		"name":   agent.Name,
		"model":  agent.Model,
		"status": string(store.StatusIdle),
	})

	return m.store.GetAgent(ctx, agent.ID)
}

// runReadiness performs the no-op first execution that mints the initial
// session token. It is not recorded in the event log: no task exists yet.
func (m *Manager) runReadiness(ctx context.Context, agent *store.Agent) error {
	msgs, err := m.engine.Run(ctx, engine.RunRequest{
		SystemPrompt:         agent.SystemPrompt,
		Model:                agent.Model,
		WorkingDir:           agent.WorkingDir,
		Capabilities:         agent.Capabilities,
		DisabledCapabilities: agent.DisabledCapabilities,
		Command:              readinessCommand,
	})
	if err != nil {
		return err
	}

	for msg := range msgs {
		switch msg.Kind {
		case engine.KindError:
			return fmt.Errorf("engine failure: %s", msg.Error)
		case engine.KindResult:
			if msg.Result.SessionToken == "" {
				return fmt.Errorf("engine returned no session token")
			}
			if err := m.store.UpdateAgentSession(ctx, agent.ID, msg.Result.SessionToken); err != nil {
				return fmt.Errorf("recording session token: %w", err)
			}
			m.recordUsage(ctx, agent, msg.Result.Usage)
			return nil
		}
	}
	return fmt.Errorf("engine stream ended without a result")
}

// ListAgents returns all agents, excluding archived ones unless requested.
func (m *Manager) ListAgents(ctx context.Context, includeArchived bool) ([]*store.Agent, error) {
	return m.store.ListAgents(ctx, includeArchived)
}

// CommandAgent dispatches a command to an agent. The execution proceeds
// asynchronously; the returned task ID arrives before any work happens, and
// results stream via the broadcaster. Fails with ErrAlreadyExecuting if the
// agent already holds a live execution — commands never queue.
func (m *Manager) CommandAgent(ctx context.Context, ref, command, taskID string) (string, error) {
	if command == "" {
		return "", fmt.Errorf("command is required")
	}

	agent, err := m.resolve(ctx, ref)
	if err != nil {
		return "", err
	}
	if agent.Archived {
		return "", ErrAgentNotFound
	}

	if taskID == "" {
		taskID = uuid.New().String()
	}

	// The execution detaches from the caller's context: CommandAgent
	// returns immediately while the run continues in the background.
	runCtx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if _, exists := m.active[agent.Name]; exists {
		m.mu.Unlock()
		cancel()
		return "", ErrAlreadyExecuting
	}
	m.active[agent.Name] = &activeExecution{
		agentID: agent.ID,
		taskID:  taskID,
		cancel:  cancel,
	}
	m.mu.Unlock()

	m.setStatus(ctx, agent.ID, store.StatusExecuting)

	m.wg.Add(1)
	go func() {
		// Scoped release: the single-flight entry is dropped on every
		// exit path — completion, error, or cancellation.
		defer func() {
			m.mu.Lock()
			delete(m.active, agent.Name)
			m.mu.Unlock()
			cancel()
			m.wg.Done()
		}()
		m.execute(runCtx, agent, taskID, command)
	}()

	m.logger.Debug("command dispatched",
		"agent_id", agent.ID,
		"name", agent.Name,
		"task_id", taskID,
	)
	return taskID, nil
}

// InterruptAgent requests cooperative cancellation of an agent's live
// execution. Returns false (not an error) when nothing is executing.
func (m *Manager) InterruptAgent(ctx context.Context, ref string) (bool, error) {
	agent, err := m.resolve(ctx, ref)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	ae, ok := m.active[agent.Name]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}

	ae.cancel()
	m.setStatus(ctx, agent.ID, store.StatusBlocked)

	m.logger.Info("=== AGENT INTERRUPTED ===",
		"agent_id", agent.ID,
		"name", agent.Name,
		"task_id", ae.taskID,
	)
	return true, nil
}

// DeleteAgent archives an agent. Deliberately does not interrupt a running
// execution: deletion is an administrative action, not a kill switch.
// Idempotent: archiving an archived agent succeeds.
func (m *Manager) DeleteAgent(ctx context.Context, ref string) error {
	agent, err := m.resolve(ctx, ref)
	if err != nil {
		return err
	}
	if agent.Archived {
		return nil
	}

	if err := m.store.ArchiveAgent(ctx, agent.ID); err != nil {
		return err
	}

	m.logger.Info("=== AGENT ARCHIVED ===", "agent_id", agent.ID, "name", agent.Name)
	m.broadcastState(agent.ID, "agent_archived", map[string]any{"name": agent.Name})
	return nil
}

// EventView is one event in a status report. Payload is set only in
// verbose mode; Summary falls back to the event type when enrichment
// hasn't landed yet.
type EventView struct {
	EntryIndex int64           `json:"entry_index"`
	Category   string          `json:"category"`
	Type       string          `json:"type"`
	Summary    string          `json:"summary"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// StatusReport combines an agent's registry row with the tail of its most
// recent task's events, oldest-to-newest, most recent last.
type StatusReport struct {
	Agent     *store.Agent
	TaskID    string
	Executing bool
	Events    []EventView
}

// CheckAgentStatus reads the agent plus the most recent events of its latest
// task, offset-paginated from the end.
func (m *Manager) CheckAgentStatus(ctx context.Context, ref string, tailCount, offset int, verbose bool) (*StatusReport, error) {
	agent, err := m.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if tailCount <= 0 {
		tailCount = 10
	}

	report := &StatusReport{
		Agent:     agent,
		Executing: m.isExecuting(agent.Name),
	}

	taskID, err := m.store.LatestTaskID(ctx, agent.ID)
	if errors.Is(err, store.ErrEventNotFound) {
		return report, nil
	}
	if err != nil {
		return nil, err
	}
	report.TaskID = taskID

	events, err := m.store.TailEvents(ctx, agent.ID, taskID, tailCount, offset)
	if err != nil {
		return nil, err
	}

	report.Events = make([]EventView, 0, len(events))
	for _, e := range events {
		view := EventView{
			EntryIndex: e.EntryIndex,
			Category:   string(e.Category),
			Type:       e.Type,
			Timestamp:  e.CreatedAt,
		}
		if e.Summary != nil {
			view.Summary = *e.Summary
		} else {
			view.Summary = e.Type
		}
		if verbose {
			view.Payload = e.Payload
		}
		report.Events = append(report.Events, view)
	}
	return report, nil
}

// ReportCost returns token/cost totals, scoped to the agent owning the given
// session token, or aggregated across all live agents when the token is empty.
func (m *Manager) ReportCost(ctx context.Context, sessionToken string) (*store.CostTotals, error) {
	if sessionToken == "" {
		return m.store.CostAllActive(ctx)
	}
	totals, err := m.store.CostBySessionToken(ctx, sessionToken)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAgentNotFound
	}
	return totals, err
}

// Shutdown cancels all live executions and waits for them to unwind, bounded
// by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	for _, ae := range m.active {
		ae.cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveCount returns the number of live executions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func (m *Manager) isExecuting(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[name]
	return ok
}

// resolve finds an agent by ID first, then by live name.
func (m *Manager) resolve(ctx context.Context, ref string) (*store.Agent, error) {
	if ref == "" {
		return nil, ErrAgentNotFound
	}

	agent, err := m.store.GetAgent(ctx, ref)
	if err == nil {
		return agent, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	agent, err = m.store.GetAgentByName(ctx, ref)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAgentNotFound
	}
	return agent, err
}

// setStatus persists a status change and broadcasts it on the agent_state
// channel so observers track agent lifecycle without re-deriving it from logs.
func (m *Manager) setStatus(ctx context.Context, agentID string, status store.AgentStatus) {
	if err := m.store.UpdateAgentStatus(ctx, agentID, status); err != nil {
		m.logger.Warn("failed to update agent status",
			"agent_id", agentID,
			"status", status,
			"error", err)
		return
	}
	m.broadcastState(agentID, "status_changed", map[string]any{"status": string(status)})
}

func (m *Manager) broadcastState(agentID, eventType string, payload map[string]any) {
	if m.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		m.logger.Error("failed to encode state payload", "type", eventType, "error", err)
		return
	}
	m.bus.Publish(&broadcast.Envelope{
		Channel:   broadcast.ChannelAgentState,
		AgentID:   agentID,
		Type:      eventType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	})
}

// recordUsage accumulates a run's token usage and cost onto the agent row,
// pricing by model when the engine doesn't report cost itself.
func (m *Manager) recordUsage(ctx context.Context, agent *store.Agent, usage engine.Usage) {
	cost := usage.CostUSD
	if cost == 0 {
		cost = costUSD(agent.Model, usage.InputTokens, usage.OutputTokens)
	}
	if err := m.store.AddAgentUsage(ctx, agent.ID, usage.InputTokens, usage.OutputTokens, cost); err != nil {
		m.logger.Warn("failed to record usage", "agent_id", agent.ID, "error", err)
	}
}
