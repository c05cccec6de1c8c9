// ABOUTME: Tests for the operation registry and the built-in agent operations.
// ABOUTME: Exercises arg validation, error classification, and end-to-end invocation.

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/warren/internal/engine"
	"github.com/2389/warren/internal/manager"
	"github.com/2389/warren/internal/store"
)

// instantEngine completes every run immediately with a fresh token.
type instantEngine struct{}

func (instantEngine) Run(ctx context.Context, req engine.RunRequest) (<-chan engine.Message, error) {
	out := make(chan engine.Message, 2)
	out <- engine.Message{Kind: engine.KindText, Text: "ok"}
	out <- engine.Message{
		Kind: engine.KindResult,
		Result: &engine.Result{
			SessionToken: uuid.New().String(),
			StopReason:   "end_turn",
			NumTurns:     1,
			Usage:        engine.Usage{InputTokens: 10, OutputTokens: 5, CostUSD: 0.001},
		},
	}
	close(out)
	return out, nil
}

func newTestRegistry(t *testing.T) (*Registry, *store.MockStore) {
	t.Helper()
	st := store.NewMockStore()
	m := manager.NewManager(st, instantEngine{}, nil, nil, slog.Default(), manager.Options{})
	r := NewRegistry(slog.Default())
	require.NoError(t, RegisterBuiltinOps(r, m, st))
	return r, st
}

func invoke(t *testing.T, r *Registry, name string, args any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)

	result, err := r.Invoke(context.Background(), name, raw)
	require.NoError(t, err)

	// Round-trip through JSON: that's the shape transport callers see.
	encoded, err := json.Marshal(result)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(encoded, &out))
	return out
}

func invokeErr(t *testing.T, r *Registry, name string, args any) *OpError {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)

	_, err = r.Invoke(context.Background(), name, raw)
	require.Error(t, err)
	opErr, ok := err.(*OpError)
	require.True(t, ok, "expected *OpError, got %T", err)
	return opErr
}

func waitSettled(t *testing.T, st *store.MockStore, agentID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		agent, err := st.GetAgent(context.Background(), agentID)
		return err == nil && agent.Status != store.StatusExecuting
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry(slog.Default())
	op := &Operation{
		Name: "noop",
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			return nil, nil
		},
	}
	require.NoError(t, r.Register(op))
	assert.ErrorIs(t, r.Register(op), ErrOperationExists)
}

func TestListIsSorted(t *testing.T) {
	r, _ := newTestRegistry(t)
	ops := r.List()
	require.NotEmpty(t, ops)
	for i := 1; i < len(ops); i++ {
		assert.Less(t, ops[i-1].Name, ops[i].Name)
	}
}

func TestInvokeUnknownOperation(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Invoke(context.Background(), "no_such_op", nil)
	require.Error(t, err)
	opErr := err.(*OpError)
	assert.Equal(t, CodeNotFound, opErr.Code)
}

func TestCreateAgentOp(t *testing.T) {
	r, _ := newTestRegistry(t)

	out := invoke(t, r, "create_agent", map[string]any{
		"name":          "scout",
		"system_prompt": "You investigate things.",
	})
	assert.Equal(t, "scout", out["name"])
	assert.Equal(t, "idle", out["status"])
	assert.NotEmpty(t, out["session_token"])
}

func TestCreateAgentOpValidation(t *testing.T) {
	r, _ := newTestRegistry(t)

	opErr := invokeErr(t, r, "create_agent", map[string]any{})
	assert.Equal(t, CodeInvalidArgs, opErr.Code)
}

func TestCreateAgentOpDuplicateCode(t *testing.T) {
	r, _ := newTestRegistry(t)

	invoke(t, r, "create_agent", map[string]any{"name": "scout"})
	opErr := invokeErr(t, r, "create_agent", map[string]any{"name": "scout"})
	assert.Equal(t, CodeDuplicateName, opErr.Code)
}

func TestCommandAndStatusOps(t *testing.T) {
	r, st := newTestRegistry(t)

	created := invoke(t, r, "create_agent", map[string]any{"name": "scout"})
	agentID := created["id"].(string)

	out := invoke(t, r, "command_agent", map[string]any{
		"agent":   "scout",
		"command": "look around",
	})
	taskID := out["task_id"].(string)
	require.NotEmpty(t, taskID)
	waitSettled(t, st, agentID)

	status := invoke(t, r, "check_agent_status", map[string]any{"agent": "scout"})
	assert.Equal(t, taskID, status["task_id"])
	events := status["events"].([]any)
	require.NotEmpty(t, events)
	last := events[len(events)-1].(map[string]any)
	assert.Equal(t, store.EventTypeStop, last["type"])
}

func TestCommandAgentOpUnknownAgentCode(t *testing.T) {
	r, _ := newTestRegistry(t)

	opErr := invokeErr(t, r, "command_agent", map[string]any{
		"agent":   "ghost",
		"command": "hello",
	})
	assert.Equal(t, CodeNotFound, opErr.Code)
}

func TestInterruptOpNothingRunning(t *testing.T) {
	r, _ := newTestRegistry(t)

	invoke(t, r, "create_agent", map[string]any{"name": "scout"})
	out := invoke(t, r, "interrupt_agent", map[string]any{"agent": "scout"})
	assert.Equal(t, false, out["interrupted"])
}

func TestDeleteOpArchivesAndFreesName(t *testing.T) {
	r, _ := newTestRegistry(t)

	invoke(t, r, "create_agent", map[string]any{"name": "scout"})
	out := invoke(t, r, "delete_agent", map[string]any{"agent": "scout"})
	assert.Equal(t, true, out["archived"])

	listed := invoke(t, r, "list_agents", map[string]any{})
	assert.Empty(t, listed["agents"])

	withArchived := invoke(t, r, "list_agents", map[string]any{"include_archived": true})
	assert.Len(t, withArchived["agents"], 1)
}

func TestReportCostOp(t *testing.T) {
	r, _ := newTestRegistry(t)

	invoke(t, r, "create_agent", map[string]any{"name": "scout"})
	out := invoke(t, r, "report_cost", map[string]any{})
	assert.Equal(t, float64(10), out["input_tokens"])
	assert.Equal(t, float64(5), out["output_tokens"])
	assert.InDelta(t, 0.001, out["cost_usd"].(float64), 1e-9)
}

func TestListEventsOp(t *testing.T) {
	r, st := newTestRegistry(t)

	created := invoke(t, r, "create_agent", map[string]any{"name": "scout"})
	agentID := created["id"].(string)

	out := invoke(t, r, "command_agent", map[string]any{
		"agent":   "scout",
		"command": "look around",
	})
	waitSettled(t, st, agentID)

	events := invoke(t, r, "list_events", map[string]any{
		"agent_id": agentID,
		"task_id":  out["task_id"],
	})["events"].([]any)
	require.Len(t, events, 3) // command, text, stop
	first := events[0].(map[string]any)
	assert.Equal(t, store.EventTypePreCommandSubmit, first["type"])
	assert.Equal(t, float64(0), first["entry_index"])
}

func TestMalformedArgsAreInvalid(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Invoke(context.Background(), "create_agent", json.RawMessage(`{"name":`))
	require.Error(t, err)
	opErr := err.(*OpError)
	assert.Equal(t, CodeInvalidArgs, opErr.Code)
}

func TestClassifyPassesThroughOpErrors(t *testing.T) {
	orig := &OpError{Code: CodeAlreadyExecuting, Message: "busy"}
	wrapped := fmt.Errorf("invoking: %w", orig)
	assert.Same(t, orig, classify(wrapped))
}
