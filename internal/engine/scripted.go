// ABOUTME: Deterministic in-process engine for development mode and tests
// ABOUTME: Replays a canned message script and mints fresh session tokens per run

package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Scripted is an Engine that replays a fixed message script per run. It is
// the development-mode engine behind `warren serve --dev` and the default
// engine for the test suite. Each run ends with a result carrying a freshly
// minted session token, so continuity semantics behave like a real engine.
type Scripted struct {
	// Script holds the non-terminal messages emitted per run, in order.
	// When empty, a single text message echoing the command is emitted.
	Script []Message

	// StepDelay is an optional pause between messages, useful for
	// exercising interruption.
	StepDelay time.Duration

	// UsagePerRun is reported on each result message.
	UsagePerRun Usage
}

// NewScripted returns a Scripted engine with a small default tool-use script
// and plausible usage numbers.
func NewScripted() *Scripted {
	return &Scripted{
		UsagePerRun: Usage{InputTokens: 120, OutputTokens: 40, CostUSD: 0.0021},
	}
}

// Run replays the script, then yields the terminal result. Cancellation is
// observed between messages.
func (e *Scripted) Run(ctx context.Context, req RunRequest) (<-chan Message, error) {
	if req.Command == "" {
		return nil, fmt.Errorf("command is required")
	}

	script := e.Script
	if len(script) == 0 {
		script = defaultScript(req.Command)
	}

	out := make(chan Message, 16)
	started := time.Now()

	go func() {
		defer close(out)

		turns := 0
		for _, msg := range script {
			if e.StepDelay > 0 {
				select {
				case <-time.After(e.StepDelay):
				case <-ctx.Done():
					return
				}
			}

			select {
			case out <- msg:
				if msg.Kind == KindText {
					turns++
				}
			case <-ctx.Done():
				return
			}
		}

		result := Message{
			Kind: KindResult,
			Result: &Result{
				SessionToken: uuid.New().String(),
				StopReason:   "end_turn",
				NumTurns:     turns,
				Duration:     time.Since(started),
				Usage:        e.UsagePerRun,
			},
		}
		select {
		case out <- result:
		case <-ctx.Done():
		}
	}()

	return out, nil
}

// defaultScript fabricates a short thinking/tool/text exchange for a command.
func defaultScript(command string) []Message {
	preview := command
	if len(preview) > 40 {
		preview = preview[:40]
	}
	return []Message{
		{Kind: KindThinking, Text: "considering: " + preview},
		{Kind: KindToolUse, ToolUse: &ToolUse{
			ID:        uuid.New().String(),
			Name:      "echo",
			InputJSON: fmt.Sprintf(`{"text":%q}`, preview),
		}},
		{Kind: KindToolResult, ToolResult: &ToolResult{
			Name:   "echo",
			Output: preview,
		}},
		{Kind: KindText, Text: "done: " + strings.TrimSpace(preview)},
	}
}
