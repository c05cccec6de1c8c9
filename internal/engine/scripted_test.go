// ABOUTME: Tests for the scripted development engine
// ABOUTME: Covers message ordering, terminal results, and cancellation

package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, ch <-chan Message) []Message {
	t.Helper()

	var msgs []Message
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return msgs
			}
			msgs = append(msgs, msg)
		case <-timeout:
			t.Fatal("timed out draining engine stream")
		}
	}
}

func TestScripted_DefaultScriptEndsInResult(t *testing.T) {
	e := NewScripted()

	ch, err := e.Run(context.Background(), RunRequest{Command: "say A"})
	require.NoError(t, err)

	msgs := drain(t, ch)
	require.NotEmpty(t, msgs)

	last := msgs[len(msgs)-1]
	require.Equal(t, KindResult, last.Kind)
	require.NotNil(t, last.Result)
	assert.NotEmpty(t, last.Result.SessionToken)
	assert.Equal(t, "end_turn", last.Result.StopReason)
	assert.Equal(t, int64(120), last.Result.Usage.InputTokens)

	// Non-terminal messages include a tool round-trip
	var sawToolUse, sawToolResult bool
	for _, m := range msgs[:len(msgs)-1] {
		switch m.Kind {
		case KindToolUse:
			sawToolUse = true
		case KindToolResult:
			sawToolResult = true
		}
	}
	assert.True(t, sawToolUse)
	assert.True(t, sawToolResult)
}

func TestScripted_FreshTokenPerRun(t *testing.T) {
	e := NewScripted()

	first := drain(t, mustRun(t, e, "one"))
	second := drain(t, mustRun(t, e, "two"))

	tok1 := first[len(first)-1].Result.SessionToken
	tok2 := second[len(second)-1].Result.SessionToken
	assert.NotEqual(t, tok1, tok2)
}

func TestScripted_EmptyCommandRejected(t *testing.T) {
	e := NewScripted()

	_, err := e.Run(context.Background(), RunRequest{})
	assert.Error(t, err)
}

func TestScripted_CancellationStopsStream(t *testing.T) {
	e := NewScripted()
	e.StepDelay = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := e.Run(ctx, RunRequest{Command: "slow"})
	require.NoError(t, err)

	cancel()

	msgs := drain(t, ch)
	// The stream must close without a terminal result
	for _, m := range msgs {
		assert.NotEqual(t, KindResult, m.Kind)
	}
}

func mustRun(t *testing.T, e *Scripted, command string) <-chan Message {
	t.Helper()

	ch, err := e.Run(context.Background(), RunRequest{Command: command})
	require.NoError(t, err)
	return ch
}
