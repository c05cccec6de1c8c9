// Package gateway serves warren's HTTP API and live event streams.
//
// # Overview
//
// The gateway exposes three surfaces over one mux:
//
//   - JSON API: operation invocation (POST /api/ops/{name}), agent listing
//     (GET /api/agents), and event history (GET /api/agents/{ref}/events)
//   - SSE: GET /api/events streams broadcast envelopes as server-sent events
//   - WebSocket: GET /ws streams the same envelopes as JSON messages
//
// Both stream transports accept agent_id and channel query parameters to
// narrow the subscription.
//
// # Error mapping
//
// Operation failures carry classification codes which map onto HTTP statuses:
// invalid_args → 400, not_found → 404, duplicate_name and already_executing
// → 409, everything else → 500. The body is always an ErrorResponse.
package gateway
