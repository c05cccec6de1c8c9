// ABOUTME: Deterministic templated summaries used when summarization fails
// ABOUTME: Produces a short per-type description from the event payload

package enrich

import (
	"encoding/json"
	"fmt"

	"github.com/2389/warren/internal/store"
)

// TemplateSummary builds a deterministic short summary for an event type.
// Used whenever the external summarizer errors, times out, or misbehaves.
func TemplateSummary(eventType string, payload json.RawMessage) string {
	switch eventType {
	case store.EventTypePreCommandSubmit:
		return "command submitted"
	case store.EventTypePreToolCall:
		if tool := payloadField(payload, "tool"); tool != "" {
			return clip(fmt.Sprintf("tool %s invoked", tool))
		}
		return "tool invoked"
	case store.EventTypePostToolCall:
		if tool := payloadField(payload, "tool"); tool != "" {
			return clip(fmt.Sprintf("tool %s returned", tool))
		}
		return "tool returned"
	case store.EventTypeStop:
		if reason := payloadField(payload, "reason"); reason != "" {
			return clip(fmt.Sprintf("execution stopped: %s", reason))
		}
		return "execution stopped"
	case store.EventTypeSubunitStop:
		return "subtask finished"
	case store.EventTypePreCompaction:
		return "context compaction"
	case store.EventTypeTextBlock:
		return "assistant text"
	case store.EventTypeThinkingBlock:
		return "assistant thinking"
	default:
		return clip(fmt.Sprintf("%s event", eventType))
	}
}

// payloadField extracts a top-level string field from a JSON payload.
func payloadField(payload json.RawMessage, key string) string {
	if len(payload) == 0 {
		return ""
	}
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return ""
	}
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}

func clip(s string) string {
	if len(s) > maxSummaryLen {
		return s[:maxSummaryLen-3] + "..."
	}
	return s
}
