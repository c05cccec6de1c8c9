// ABOUTME: Execution loop translating engine message streams into recorded hook events.
// ABOUTME: Handles session continuity, compaction resets, and cooperative interruption.

package manager

import (
	"context"
	"time"

	"github.com/2389/warren/internal/engine"
	"github.com/2389/warren/internal/hooks"
	"github.com/2389/warren/internal/store"
)

// execute drives one agent run to completion. It owns the full lifecycle of
// a task: the pre-command hook, the engine stream, per-message hook events,
// and the terminal stop event plus status transition.
func (m *Manager) execute(ctx context.Context, agent *store.Agent, taskID, command string) {
	rec := hooks.NewRecorder(agent.ID, taskID, m.store, m.bus, m.pool, m.logger)
	started := time.Now()

	rec.PreCommandSubmit(ctx, command)

	req := engine.RunRequest{
		SystemPrompt:         agent.SystemPrompt,
		Model:                agent.Model,
		WorkingDir:           agent.WorkingDir,
		Capabilities:         agent.Capabilities,
		DisabledCapabilities: agent.DisabledCapabilities,
		Command:              command,
	}
	if agent.SessionToken != nil {
		req.ResumeToken = *agent.SessionToken
	}

	msgs, err := m.engine.Run(ctx, req)
	if err != nil {
		m.logger.Error("engine rejected run",
			"agent_id", agent.ID,
			"task_id", taskID,
			"error", err)
		rec.Stop(ctx, err.Error(), 0, time.Since(started), true)
		m.setStatus(context.Background(), agent.ID, store.StatusBlocked)
		return
	}

	for {
		select {
		case <-ctx.Done():
			// Interrupted. The stop event is recorded with a background
			// context so it survives the cancellation that caused it.
			rec.Stop(context.Background(), "interrupted", 0, time.Since(started), false)
			m.logger.Info("execution interrupted",
				"agent_id", agent.ID,
				"task_id", taskID,
				"duration", time.Since(started))
			return

		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					// The engine noticed the cancellation and closed the
					// stream before we drained ctx.Done.
					rec.Stop(context.Background(), "interrupted", 0, time.Since(started), false)
					return
				}
				// Stream closed with no terminal message. Treat it like an
				// engine fault rather than silently going idle.
				rec.Stop(ctx, "engine stream ended unexpectedly", 0, time.Since(started), true)
				m.setStatus(context.Background(), agent.ID, store.StatusBlocked)
				return
			}
			if done := m.handleMessage(ctx, rec, agent, taskID, msg, started); done {
				return
			}
		}
	}
}

// handleMessage records one engine message as hook/response events. Returns
// true when the message was terminal and the loop should exit.
func (m *Manager) handleMessage(ctx context.Context, rec *hooks.Recorder, agent *store.Agent, taskID string, msg engine.Message, started time.Time) bool {
	switch msg.Kind {
	case engine.KindText:
		rec.Text(ctx, msg.Text)

	case engine.KindThinking:
		rec.Thinking(ctx, msg.Text)

	case engine.KindToolUse:
		rec.PreToolCall(ctx, msg.ToolUse.Name, msg.ToolUse.InputJSON)

	case engine.KindToolResult:
		rec.PostToolCall(ctx, msg.ToolResult.Name, msg.ToolResult.Output, msg.ToolResult.IsError)

	case engine.KindSubunitStop:
		rec.SubunitStop(ctx, msg.SubunitID)

	case engine.KindCompaction:
		rec.PreCompaction(ctx, msg.Trigger)
		// Compaction starts a fresh context window, so the running token
		// counters reset. Accumulated cost is money already spent and stays.
		if err := m.store.ResetAgentTokens(ctx, agent.ID); err != nil {
			m.logger.Warn("failed to reset token counters after compaction",
				"agent_id", agent.ID, "error", err)
		}

	case engine.KindError:
		rec.Stop(ctx, msg.Error, 0, time.Since(started), true)
		m.setStatus(context.Background(), agent.ID, store.StatusBlocked)
		m.logger.Error("execution failed",
			"agent_id", agent.ID,
			"task_id", taskID,
			"error", msg.Error)
		return true

	case engine.KindResult:
		if msg.Result.SessionToken != "" {
			if err := m.store.UpdateAgentSession(ctx, agent.ID, msg.Result.SessionToken); err != nil {
				m.logger.Warn("failed to record session token",
					"agent_id", agent.ID, "error", err)
			}
		}
		m.recordUsage(ctx, agent, msg.Result.Usage)
		rec.Stop(ctx, msg.Result.StopReason, msg.Result.NumTurns, time.Since(started), false)
		m.setStatus(context.Background(), agent.ID, store.StatusComplete)
		m.logger.Info("=== EXECUTION COMPLETE ===",
			"agent_id", agent.ID,
			"task_id", taskID,
			"turns", msg.Result.NumTurns,
			"duration", time.Since(started))
		return true
	}
	return false
}
