// ABOUTME: Live event streaming over SSE and WebSocket, fed from the broadcaster.
// ABOUTME: Both transports share query-parameter filtering by agent and channel.

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/warren/internal/broadcast"
)

const (
	sseKeepaliveInterval = 15 * time.Second
	wsPingInterval       = 30 * time.Second
	wsWriteTimeout       = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// filterFromQuery builds a broadcast filter from agent_id and channel
// query parameters. Both are optional.
func filterFromQuery(r *http.Request) broadcast.Filter {
	q := r.URL.Query()
	return broadcast.Filter{
		AgentID: q.Get("agent_id"),
		Channel: q.Get("channel"),
	}
}

// handleEventStream handles GET /api/events as a Server-Sent Events stream.
// Each broadcast envelope becomes one SSE event named after its type.
func (g *Gateway) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported", "")
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	events, subID := g.bus.Subscribe(r.Context(), filterFromQuery(r))
	defer g.bus.Unsubscribe(subID)

	g.writeSSEEvent(w, "started", map[string]string{"subscription_id": subID})
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-keepalive.C:
			// Comment line keeps intermediaries from timing out the stream
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()

		case env, open := <-events:
			if !open {
				return
			}
			g.writeSSEEvent(w, env.Type, env)
			flusher.Flush()
		}
	}
}

// writeSSEEvent formats and writes an SSE event:
// event: <eventType>\ndata: <json>\n\n
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to encode SSE payload", "event", event, "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// handleWebSocket handles GET /ws, streaming broadcast envelopes as JSON
// messages. The read side is drained only to detect the peer closing.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	events, subID := g.bus.Subscribe(ctx, filterFromQuery(r))
	defer g.bus.Unsubscribe(subID)

	// Drain reads so close frames and pongs are processed.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-readDone:
			return

		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case env, open := <-events:
			if !open {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(env); err != nil {
				g.logger.Debug("websocket write failed", "sub_id", subID, "error", err)
				return
			}
		}
	}
}
