// ABOUTME: The built-in orchestration operations, bound to the agent manager and store.
// ABOUTME: Each handler decodes typed JSON arguments, validates, and delegates.

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/2389/warren/internal/manager"
	"github.com/2389/warren/internal/store"
)

// AgentView is the JSON shape of an agent in operation results.
type AgentView struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Model                string    `json:"model"`
	SystemPrompt         string    `json:"system_prompt,omitempty"`
	WorkingDir           string    `json:"working_dir,omitempty"`
	Capabilities         []string  `json:"capabilities,omitempty"`
	DisabledCapabilities []string  `json:"disabled_capabilities,omitempty"`
	Status               string    `json:"status"`
	SessionToken         string    `json:"session_token,omitempty"`
	InputTokens          int64     `json:"input_tokens"`
	OutputTokens         int64     `json:"output_tokens"`
	CostUSD              float64   `json:"cost_usd"`
	Archived             bool      `json:"archived"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// TaskEventView is the JSON shape of one event-log record.
type TaskEventView struct {
	ID         string          `json:"id"`
	AgentID    string          `json:"agent_id"`
	TaskID     string          `json:"task_id"`
	EntryIndex int64           `json:"entry_index"`
	Category   string          `json:"category"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Summary    string          `json:"summary,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

func taskEventView(e *store.AgentEvent) *TaskEventView {
	v := &TaskEventView{
		ID:         e.ID,
		AgentID:    e.AgentID,
		TaskID:     e.TaskID,
		EntryIndex: e.EntryIndex,
		Category:   string(e.Category),
		Type:       e.Type,
		Payload:    e.Payload,
		Timestamp:  e.CreatedAt,
	}
	if e.Summary != nil {
		v.Summary = *e.Summary
	}
	return v
}

// CostReport is the JSON shape of aggregated token usage and spend.
type CostReport struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

func agentView(a *store.Agent) *AgentView {
	v := &AgentView{
		ID:                   a.ID,
		Name:                 a.Name,
		Model:                a.Model,
		SystemPrompt:         a.SystemPrompt,
		WorkingDir:           a.WorkingDir,
		Capabilities:         a.Capabilities,
		DisabledCapabilities: a.DisabledCapabilities,
		Status:               string(a.Status),
		InputTokens:          a.InputTokens,
		OutputTokens:         a.OutputTokens,
		CostUSD:              a.CostUSD,
		Archived:             a.Archived,
		CreatedAt:            a.CreatedAt,
		UpdatedAt:            a.UpdatedAt,
	}
	if a.SessionToken != nil {
		v.SessionToken = *a.SessionToken
	}
	return v
}

// RegisterBuiltinOps wires the standard agent operations into the registry.
func RegisterBuiltinOps(r *Registry, m *manager.Manager, st store.Store) error {
	ops := []*Operation{
		{
			Name:        "create_agent",
			Description: "Register a new agent and capture its initial session token",
			Handler:     createAgentOp(m),
		},
		{
			Name:        "list_agents",
			Description: "List agents, optionally including archived ones",
			Handler:     listAgentsOp(m),
		},
		{
			Name:        "command_agent",
			Description: "Dispatch a command to an agent; returns the task ID immediately",
			Handler:     commandAgentOp(m),
		},
		{
			Name:        "check_agent_status",
			Description: "Report an agent's state and the tail of its latest task",
			Handler:     checkAgentStatusOp(m),
		},
		{
			Name:        "interrupt_agent",
			Description: "Request cooperative cancellation of a live execution",
			Handler:     interruptAgentOp(m),
		},
		{
			Name:        "delete_agent",
			Description: "Archive an agent; its history remains queryable",
			Handler:     deleteAgentOp(m),
		},
		{
			Name:        "report_cost",
			Description: "Token and cost totals for one session or all live agents",
			Handler:     reportCostOp(m),
		},
		{
			Name:        "list_events",
			Description: "Query the ordered event log of an agent task",
			Handler:     listEventsOp(st),
		},
	}
	for _, op := range ops {
		if err := r.Register(op); err != nil {
			return err
		}
	}
	return nil
}

func decodeArgs(args json.RawMessage, into any) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, into); err != nil {
		return badArgs(fmt.Sprintf("malformed arguments: %v", err))
	}
	return nil
}

func createAgentOp(m *manager.Manager) HandlerFunc {
	type createArgs struct {
		Name                 string   `json:"name"`
		Preset               string   `json:"preset"`
		SystemPrompt         string   `json:"system_prompt"`
		Model                string   `json:"model"`
		WorkingDir           string   `json:"working_dir"`
		Capabilities         []string `json:"capabilities"`
		DisabledCapabilities []string `json:"disabled_capabilities"`
	}
	return func(ctx context.Context, args json.RawMessage) (any, error) {
		var a createArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		if a.Name == "" {
			return nil, badArgs("name is required")
		}
		agent, err := m.CreateAgent(ctx, manager.CreateAgentParams{
			Name:                 a.Name,
			Preset:               a.Preset,
			SystemPrompt:         a.SystemPrompt,
			Model:                a.Model,
			WorkingDir:           a.WorkingDir,
			Capabilities:         a.Capabilities,
			DisabledCapabilities: a.DisabledCapabilities,
		})
		if err != nil {
			return nil, err
		}
		return agentView(agent), nil
	}
}

func listAgentsOp(m *manager.Manager) HandlerFunc {
	type listArgs struct {
		IncludeArchived bool `json:"include_archived"`
	}
	return func(ctx context.Context, args json.RawMessage) (any, error) {
		var a listArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		agents, err := m.ListAgents(ctx, a.IncludeArchived)
		if err != nil {
			return nil, err
		}
		views := make([]*AgentView, 0, len(agents))
		for _, agent := range agents {
			views = append(views, agentView(agent))
		}
		return map[string]any{"agents": views}, nil
	}
}

func commandAgentOp(m *manager.Manager) HandlerFunc {
	type commandArgs struct {
		Agent   string `json:"agent"`
		Command string `json:"command"`
		TaskID  string `json:"task_id"`
	}
	return func(ctx context.Context, args json.RawMessage) (any, error) {
		var a commandArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		if a.Agent == "" {
			return nil, badArgs("agent is required")
		}
		if a.Command == "" {
			return nil, badArgs("command is required")
		}
		taskID, err := m.CommandAgent(ctx, a.Agent, a.Command, a.TaskID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"task_id": taskID}, nil
	}
}

func checkAgentStatusOp(m *manager.Manager) HandlerFunc {
	type statusArgs struct {
		Agent   string `json:"agent"`
		Tail    int    `json:"tail"`
		Offset  int    `json:"offset"`
		Verbose bool   `json:"verbose"`
	}
	return func(ctx context.Context, args json.RawMessage) (any, error) {
		var a statusArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		if a.Agent == "" {
			return nil, badArgs("agent is required")
		}
		report, err := m.CheckAgentStatus(ctx, a.Agent, a.Tail, a.Offset, a.Verbose)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"agent":     agentView(report.Agent),
			"task_id":   report.TaskID,
			"executing": report.Executing,
			"events":    report.Events,
		}, nil
	}
}

func interruptAgentOp(m *manager.Manager) HandlerFunc {
	type interruptArgs struct {
		Agent string `json:"agent"`
	}
	return func(ctx context.Context, args json.RawMessage) (any, error) {
		var a interruptArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		if a.Agent == "" {
			return nil, badArgs("agent is required")
		}
		interrupted, err := m.InterruptAgent(ctx, a.Agent)
		if err != nil {
			return nil, err
		}
		return map[string]any{"interrupted": interrupted}, nil
	}
}

func deleteAgentOp(m *manager.Manager) HandlerFunc {
	type deleteArgs struct {
		Agent string `json:"agent"`
	}
	return func(ctx context.Context, args json.RawMessage) (any, error) {
		var a deleteArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		if a.Agent == "" {
			return nil, badArgs("agent is required")
		}
		if err := m.DeleteAgent(ctx, a.Agent); err != nil {
			return nil, err
		}
		return map[string]any{"archived": true}, nil
	}
}

func reportCostOp(m *manager.Manager) HandlerFunc {
	type costArgs struct {
		SessionToken string `json:"session_token"`
	}
	return func(ctx context.Context, args json.RawMessage) (any, error) {
		var a costArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		totals, err := m.ReportCost(ctx, a.SessionToken)
		if err != nil {
			return nil, err
		}
		return &CostReport{
			InputTokens:  totals.InputTokens,
			OutputTokens: totals.OutputTokens,
			CostUSD:      totals.CostUSD,
		}, nil
	}
}

func listEventsOp(st store.Store) HandlerFunc {
	type eventsArgs struct {
		AgentID    string `json:"agent_id"`
		TaskID     string `json:"task_id"`
		Limit      int    `json:"limit"`
		Offset     int    `json:"offset"`
		Descending bool   `json:"descending"`
	}
	return func(ctx context.Context, args json.RawMessage) (any, error) {
		var a eventsArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		if a.AgentID == "" {
			return nil, badArgs("agent_id is required")
		}
		events, err := st.ListEvents(ctx, store.EventQuery{
			AgentID:    a.AgentID,
			TaskID:     a.TaskID,
			Limit:      a.Limit,
			Offset:     a.Offset,
			Descending: a.Descending,
		})
		if err != nil {
			return nil, err
		}
		views := make([]*TaskEventView, 0, len(events))
		for _, e := range events {
			views = append(views, taskEventView(e))
		}
		return map[string]any{"events": views}, nil
	}
}
