// ABOUTME: Store interface and data types for warren persistence
// ABOUTME: Defines Agent registry and AgentEvent structs plus the Store interface

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateName is returned when creating an agent whose name collides
// with an existing non-archived agent
var ErrDuplicateName = errors.New("agent name already exists")

// ErrEventNotFound is returned when a requested event does not exist
var ErrEventNotFound = errors.New("event not found")

// AgentStatus describes where an agent is in its execution lifecycle
type AgentStatus string

const (
	StatusIdle      AgentStatus = "idle"
	StatusExecuting AgentStatus = "executing"
	StatusWaiting   AgentStatus = "waiting"
	StatusBlocked   AgentStatus = "blocked"
	StatusComplete  AgentStatus = "complete"
)

// Agent is a registry row for a named, independently addressable worker.
// Status, session token, and token counters are mutated only by the execution
// loop that owns the agent at a given moment.
type Agent struct {
	ID           string
	Name         string
	Model        string
	SystemPrompt string
	WorkingDir   string

	// Capabilities enabled for the agent's engine runs; DisabledCapabilities
	// are explicitly switched off even if a preset would grant them.
	Capabilities         []string
	DisabledCapabilities []string

	Status       AgentStatus
	SessionToken *string // nil until the first execution completes
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64

	// Archived is a soft-delete flag. Archived agents are excluded from
	// listings but never physically removed, so events stay attributable.
	Archived  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EventCategory distinguishes instrumentation-hook events from events logged
// out of the engine's response stream
type EventCategory string

const (
	CategoryHook     EventCategory = "hook"
	CategoryResponse EventCategory = "response"
)

// Event type constants shared by the hook pipeline and the read API.
const (
	EventTypePreCommandSubmit = "pre_command_submit"
	EventTypePreToolCall      = "pre_tool_call"
	EventTypePostToolCall     = "post_tool_call"
	EventTypeStop             = "stop"
	EventTypeSubunitStop      = "subunit_stop"
	EventTypePreCompaction    = "pre_compaction"
	EventTypeTextBlock        = "text_block"
	EventTypeThinkingBlock    = "thinking_block"
)

// AgentEvent is one immutable record of something that happened during an
// agent's execution. EntryIndex is a per-(agent, task) sequence number
// starting at 0; it is the ordering contract the whole pipeline relies on.
type AgentEvent struct {
	ID         string
	AgentID    string
	TaskID     string
	EntryIndex int64
	Category   EventCategory
	Type       string
	Payload    json.RawMessage
	Summary    *string // populated asynchronously; nil is a valid state
	CreatedAt  time.Time
}

// EventQuery filters the event read API. Zero-value fields are ignored.
type EventQuery struct {
	AgentID    string
	TaskID     string
	Limit      int
	Offset     int
	Descending bool
}

// CostTotals aggregates token and cost counters across one or more agents.
type CostTotals struct {
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
}

// Store defines the interface for agent registry and event log persistence
type Store interface {
	// Agent registry
	CreateAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	GetAgentByName(ctx context.Context, name string) (*Agent, error)
	ListAgents(ctx context.Context, includeArchived bool) ([]*Agent, error)
	UpdateAgentStatus(ctx context.Context, id string, status AgentStatus) error
	UpdateAgentSession(ctx context.Context, id, sessionToken string) error
	AddAgentUsage(ctx context.Context, id string, inputTokens, outputTokens int64, costUSD float64) error
	ResetAgentTokens(ctx context.Context, id string) error
	ArchiveAgent(ctx context.Context, id string) error

	// Event log (append-only; summary is the single permitted patch)
	AppendEvent(ctx context.Context, event *AgentEvent) error
	GetEvent(ctx context.Context, id string) (*AgentEvent, error)
	ListEvents(ctx context.Context, q EventQuery) ([]*AgentEvent, error)
	TailEvents(ctx context.Context, agentID, taskID string, limit, offset int) ([]*AgentEvent, error)
	LatestTaskID(ctx context.Context, agentID string) (string, error)
	SetEventSummary(ctx context.Context, eventID, summary string) error
	MaxEntryIndex(ctx context.Context, agentID, taskID string) (int64, error)

	// Cost reporting
	CostBySessionToken(ctx context.Context, sessionToken string) (*CostTotals, error)
	CostAllActive(ctx context.Context) (*CostTotals, error)

	// Close releases any resources held by the store
	Close() error
}

// SummaryPatcher is the narrow slice of Store the enrichment pool needs.
type SummaryPatcher interface {
	SetEventSummary(ctx context.Context, eventID, summary string) error
}
