// ABOUTME: JSON API handlers for health, agent listing, event history, and operation invocation.
// ABOUTME: Operation errors map to HTTP statuses via their classification codes.

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/warren/internal/orchestrator"
	"github.com/2389/warren/internal/store"
)

// maxOpBodyBytes bounds operation argument payloads.
const maxOpBodyBytes = 1 << 20

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// OperationInfo describes one invokable operation in listings.
type OperationInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleListOperations handles GET /api/operations.
func (g *Gateway) handleListOperations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ops := g.registry.List()
	infos := make([]OperationInfo, 0, len(ops))
	for _, op := range ops {
		infos = append(infos, OperationInfo{Name: op.Name, Description: op.Description})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"operations": infos})
}

// handleInvokeOp handles POST /api/ops/{name}. The body is the operation's
// JSON argument object; the response is the operation result.
func (g *Gateway) handleInvokeOp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/api/ops/")
	if name == "" || strings.Contains(name, "/") {
		g.sendJSONError(w, http.StatusNotFound, "unknown operation path", "")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxOpBodyBytes))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "reading request body", "")
		return
	}

	result, err := g.registry.Invoke(r.Context(), name, body)
	if err != nil {
		g.sendOpError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// handleListAgents handles GET /api/agents requests.
// Supports ?include_archived=true to include soft-deleted agents.
func (g *Gateway) handleListAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	includeArchived := r.URL.Query().Get("include_archived") == "true"
	agents, err := g.store.ListAgents(r.Context(), includeArchived)
	if err != nil {
		g.logger.Error("failed to list agents", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error", "")
		return
	}

	views := make([]*orchestrator.AgentView, 0, len(agents))
	for _, a := range agents {
		views = append(views, agentViewOf(a))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"agents": views})
}

// handleAgentEvents handles GET /api/agents/{ref}/events.
// Query parameters: task_id, limit, offset, order=asc|desc, tail.
// With tail=N the newest N events are returned in ascending order.
func (g *Gateway) handleAgentEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/agents/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "events" {
		http.NotFound(w, r)
		return
	}

	agent, err := g.resolveAgent(r, parts[0])
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "agent not found", orchestrator.CodeNotFound)
		return
	}
	if err != nil {
		g.logger.Error("failed to resolve agent", "ref", parts[0], "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error", "")
		return
	}

	q := r.URL.Query()
	taskID := q.Get("task_id")
	if taskID == "" {
		// Default to the most recent task, matching the status operation
		latest, err := g.store.LatestTaskID(r.Context(), agent.ID)
		if err != nil && !errors.Is(err, store.ErrEventNotFound) {
			g.logger.Error("failed to find latest task", "agent_id", agent.ID, "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "internal server error", "")
			return
		}
		taskID = latest
	}

	limit := intQuery(q.Get("limit"), 100)
	offset := intQuery(q.Get("offset"), 0)

	var events []*store.AgentEvent
	if tail := intQuery(q.Get("tail"), 0); tail > 0 {
		events, err = g.store.TailEvents(r.Context(), agent.ID, taskID, tail, offset)
	} else {
		events, err = g.store.ListEvents(r.Context(), store.EventQuery{
			AgentID:    agent.ID,
			TaskID:     taskID,
			Limit:      limit,
			Offset:     offset,
			Descending: q.Get("order") == "desc",
		})
	}
	if err != nil {
		g.logger.Error("failed to list events", "agent_id", agent.ID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error", "")
		return
	}

	views := make([]*eventJSON, 0, len(events))
	for _, e := range events {
		views = append(views, eventJSONOf(e))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"agent_id": agent.ID,
		"task_id":  taskID,
		"events":   views,
	})
}

// resolveAgent finds an agent by ID first, then by live name.
func (g *Gateway) resolveAgent(r *http.Request, ref string) (*store.Agent, error) {
	agent, err := g.store.GetAgent(r.Context(), ref)
	if err == nil {
		return agent, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return g.store.GetAgentByName(r.Context(), ref)
}

// eventJSON is the wire shape of one event-log record.
type eventJSON struct {
	ID         string          `json:"id"`
	EntryIndex int64           `json:"entry_index"`
	Category   string          `json:"category"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Summary    string          `json:"summary,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

func eventJSONOf(e *store.AgentEvent) *eventJSON {
	v := &eventJSON{
		ID:         e.ID,
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

func agentViewOf(a *store.Agent) *orchestrator.AgentView {
	view := &orchestrator.AgentView{
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
		view.SessionToken = *a.SessionToken
	}
	return view
}

func intQuery(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// sendOpError maps a classified operation error to its HTTP status.
func (g *Gateway) sendOpError(w http.ResponseWriter, err error) {
	var opErr *orchestrator.OpError
	if !errors.As(err, &opErr) {
		g.sendJSONError(w, http.StatusInternalServerError, err.Error(), orchestrator.CodeInternal)
		return
	}

	status := http.StatusInternalServerError
	switch opErr.Code {
	case orchestrator.CodeInvalidArgs:
		status = http.StatusBadRequest
	case orchestrator.CodeNotFound:
		status = http.StatusNotFound
	case orchestrator.CodeDuplicateName, orchestrator.CodeAlreadyExecuting:
		status = http.StatusConflict
	}
	g.sendJSONError(w, status, opErr.Message, opErr.Code)
}

// sendJSONError writes a JSON error response with the given status code.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message, Code: code})
}
