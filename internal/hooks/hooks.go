// ABOUTME: Hook pipeline recording instrumentation events during agent execution
// ABOUTME: Persists each event with a shared entry counter, then broadcasts and schedules enrichment

package hooks

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/2389/warren/internal/broadcast"
	"github.com/2389/warren/internal/enrich"
	"github.com/2389/warren/internal/store"
)

// maxCommandLen truncates recorded command text so a large prompt doesn't
// bloat the event log.
const maxCommandLen = 500

// CommandPayload captures the command text submitted to the engine.
type CommandPayload struct {
	Command   string `json:"command"`
	Truncated bool   `json:"truncated,omitempty"`
}

// ToolCallPayload captures a tool invocation before it executes.
type ToolCallPayload struct {
	Tool      string `json:"tool"`
	InputJSON string `json:"input_json,omitempty"`
}

// ToolResultPayload captures a tool's outcome.
type ToolResultPayload struct {
	Tool    string `json:"tool"`
	Output  string `json:"output,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
}

// StopPayload captures the end of an execution loop.
type StopPayload struct {
	Reason     string `json:"reason"`
	NumTurns   int    `json:"num_turns,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
}

// SubunitStopPayload captures the end of a nested/child unit.
type SubunitStopPayload struct {
	SubunitID string `json:"subunit_id"`
}

// CompactionPayload captures an imminent context compaction.
type CompactionPayload struct {
	Trigger string `json:"trigger,omitempty"`
}

// TextPayload captures an assistant text or thinking block.
type TextPayload struct {
	Text string `json:"text"`
}

// Recorder instruments one task's execution. All hooks on a Recorder share
// one atomic entry counter, which is what makes entry_index values for the
// (agent, task) pair contiguous and gap-free.
//
// Each hook synchronously persists its event row, then pushes the payload to
// the broadcaster and enqueues an enrichment job. A persistence failure is
// logged and absorbed: a lost log entry must never abort a running agent.
type Recorder struct {
	agentID string
	taskID  string
	seq     atomic.Int64
	store   store.Store
	bus     *broadcast.Broadcaster
	pool    *enrich.Pool
	logger  *slog.Logger
}

// NewRecorder binds a recorder to one (agent, task) execution.
func NewRecorder(agentID, taskID string, st store.Store, bus *broadcast.Broadcaster, pool *enrich.Pool, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		agentID: agentID,
		taskID:  taskID,
		store:   st,
		bus:     bus,
		pool:    pool,
		logger:  logger.With("component", "hooks", "agent_id", agentID, "task_id", taskID),
	}
}

// PreCommandSubmit fires before a command is sent to the engine.
func (r *Recorder) PreCommandSubmit(ctx context.Context, command string) {
	payload := CommandPayload{Command: command}
	if len(command) > maxCommandLen {
		payload.Command = command[:maxCommandLen]
		payload.Truncated = true
	}
	r.record(ctx, store.CategoryHook, store.EventTypePreCommandSubmit, payload)
}

// PreToolCall fires before a tool executes.
func (r *Recorder) PreToolCall(ctx context.Context, tool, inputJSON string) {
	r.record(ctx, store.CategoryHook, store.EventTypePreToolCall, ToolCallPayload{
		Tool:      tool,
		InputJSON: inputJSON,
	})
}

// PostToolCall fires after a tool returns.
func (r *Recorder) PostToolCall(ctx context.Context, tool, output string, isError bool) {
	r.record(ctx, store.CategoryHook, store.EventTypePostToolCall, ToolResultPayload{
		Tool:    tool,
		Output:  output,
		IsError: isError,
	})
}

// Stop fires when the execution loop ends, normally or otherwise.
func (r *Recorder) Stop(ctx context.Context, reason string, numTurns int, duration time.Duration, isError bool) {
	r.record(ctx, store.CategoryHook, store.EventTypeStop, StopPayload{
		Reason:     reason,
		NumTurns:   numTurns,
		DurationMS: duration.Milliseconds(),
		IsError:    isError,
	})
}

// SubunitStop fires when a nested/child unit ends.
func (r *Recorder) SubunitStop(ctx context.Context, subunitID string) {
	r.record(ctx, store.CategoryHook, store.EventTypeSubunitStop, SubunitStopPayload{
		SubunitID: subunitID,
	})
}

// PreCompaction fires before the engine compresses history. The token-counter
// reset side effect on the agent row belongs to the execution loop, not the
// recorder; this only logs the event.
func (r *Recorder) PreCompaction(ctx context.Context, trigger string) {
	r.record(ctx, store.CategoryHook, store.EventTypePreCompaction, CompactionPayload{
		Trigger: trigger,
	})
}

// Text records an assistant text block from the response stream.
func (r *Recorder) Text(ctx context.Context, text string) {
	r.record(ctx, store.CategoryResponse, store.EventTypeTextBlock, TextPayload{Text: text})
}

// Thinking records an assistant thinking block from the response stream.
func (r *Recorder) Thinking(ctx context.Context, text string) {
	r.record(ctx, store.CategoryResponse, store.EventTypeThinkingBlock, TextPayload{Text: text})
}

// NextIndex returns the entry index the next recorded event will receive.
func (r *Recorder) NextIndex() int64 {
	return r.seq.Load()
}

// record assigns the next entry index, persists the event, then broadcasts
// and schedules enrichment. Only the persistence step is a hard synchronous
// requirement; broadcast and enrichment are best-effort.
func (r *Recorder) record(ctx context.Context, category store.EventCategory, eventType string, payload any) {
	index := r.seq.Add(1) - 1

	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("failed to encode hook payload", "type", eventType, "error", err)
		data = nil
	}

	event := &store.AgentEvent{
		ID:         uuid.New().String(),
		AgentID:    r.agentID,
		TaskID:     r.taskID,
		EntryIndex: index,
		Category:   category,
		Type:       eventType,
		Payload:    data,
		CreatedAt:  time.Now().UTC(),
	}

	if err := r.store.AppendEvent(ctx, event); err != nil {
		// A counter gap is preferable to a crashed worker
		r.logger.Warn("failed to persist hook event",
			"type", eventType,
			"entry_index", index,
			"error", err)
		return
	}

	if r.bus != nil {
		r.bus.Publish(&broadcast.Envelope{
			Channel:    broadcast.ChannelLog,
			AgentID:    r.agentID,
			TaskID:     r.taskID,
			EntryIndex: &event.EntryIndex,
			Category:   string(category),
			Type:       eventType,
			Payload:    data,
			Timestamp:  event.CreatedAt,
		})
	}

	if r.pool != nil {
		r.pool.Enqueue(enrich.Job{
			EventID:   event.ID,
			EventType: eventType,
			Payload:   data,
		})
	}
}
