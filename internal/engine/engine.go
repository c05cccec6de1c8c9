// ABOUTME: Execution engine adapter boundary for running agent commands
// ABOUTME: Defines the Engine interface and the typed message stream it yields

package engine

import (
	"context"
	"time"
)

// RunRequest describes one command execution against the engine.
// ResumeToken carries conversational continuity; it is empty only for an
// agent's very first run.
type RunRequest struct {
	SystemPrompt         string
	Model                string
	WorkingDir           string
	Capabilities         []string
	DisabledCapabilities []string
	ResumeToken          string
	Command              string
}

// MessageKind indicates the type of message yielded by the engine.
type MessageKind int

const (
	KindText MessageKind = iota
	KindThinking
	KindToolUse
	KindToolResult
	KindSubunitStop // a nested/child unit ended
	KindCompaction  // the engine is about to compress history
	KindResult      // terminal: carries the new session token and usage
	KindError       // terminal: the engine itself failed
)

// ToolUse describes a tool invocation the engine is about to perform.
type ToolUse struct {
	ID        string
	Name      string
	InputJSON string
}

// ToolResult describes the outcome of a tool invocation.
type ToolResult struct {
	ID      string
	Name    string
	Output  string
	IsError bool
}

// Usage reports token consumption for a completed run.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
}

// Result is the terminal message of a successful run.
type Result struct {
	SessionToken string
	StopReason   string
	NumTurns     int
	Duration     time.Duration
	Usage        Usage
}

// Message is one element of the engine's ordered, finite message stream.
// Exactly one of the pointer fields is set, matching Kind.
type Message struct {
	Kind       MessageKind
	Text       string // KindText, KindThinking
	ToolUse    *ToolUse
	ToolResult *ToolResult
	SubunitID  string // KindSubunitStop
	Trigger    string // KindCompaction
	Result     *Result
	Error      string // KindError
}

// Engine runs one command to completion and yields a sequence of typed
// messages terminating in a KindResult or KindError message. The channel is
// closed when the run ends. Errors surface as KindError messages, never as a
// panic or a closed channel without a terminal message.
//
// Implementations must stop yielding promptly when ctx is cancelled.
type Engine interface {
	Run(ctx context.Context, req RunRequest) (<-chan Message, error)
}
