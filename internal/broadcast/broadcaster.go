// ABOUTME: In-memory fan-out event broadcaster for live observers
// ABOUTME: Publishes persisted log events and agent state changes to all subscribers

package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// ChannelLog tags per-event log traffic.
	ChannelLog = "log"
	// ChannelAgentState tags agent-level lifecycle traffic (status changes,
	// creation, archival) so subscribers can filter cheaply.
	ChannelAgentState = "agent_state"

	// defaultBufferSize is the channel buffer for each subscriber.
	defaultBufferSize = 64
)

// Envelope is the wire message delivered to live subscribers. It matches the
// JSON contract served over SSE and WebSocket.
type Envelope struct {
	Channel    string          `json:"channel"`
	AgentID    string          `json:"agent_id"`
	TaskID     string          `json:"task_id,omitempty"`
	EntryIndex *int64          `json:"entry_index,omitempty"`
	Category   string          `json:"category,omitempty"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Summary    *string         `json:"summary"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Filter narrows what a subscriber receives. Zero-value fields match all.
type Filter struct {
	AgentID string
	Channel string
}

func (f Filter) matches(env *Envelope) bool {
	if f.AgentID != "" && f.AgentID != env.AgentID {
		return false
	}
	if f.Channel != "" && f.Channel != env.Channel {
		return false
	}
	return true
}

type subscriber struct {
	ch     chan *Envelope
	filter Filter
}

// Broadcaster provides in-memory pub/sub for envelopes. Delivery to each
// subscriber preserves publish order; a slow subscriber has events dropped
// rather than blocking publishers or other subscribers.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber // subID -> subscriber
	bufferSize  int
	logger      *slog.Logger
}

// New creates a broadcaster. Pass nil logger for default; bufferSize <= 0
// selects the default per-subscriber buffer.
func New(logger *slog.Logger, bufferSize int) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Broadcaster{
		subscribers: make(map[string]*subscriber),
		bufferSize:  bufferSize,
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber with the given filter. Returns a channel
// that receives matching envelopes and a subscription ID for later
// unsubscription. The subscription is automatically cleaned up when ctx is
// cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, filter Filter) (<-chan *Envelope, string) {
	subID := uuid.New().String()
	sub := &subscriber{
		ch:     make(chan *Envelope, b.bufferSize),
		filter: filter,
	}

	b.mu.Lock()
	b.subscribers[subID] = sub
	b.mu.Unlock()

	b.logger.Debug("subscriber added",
		"sub_id", subID,
		"agent_filter", filter.AgentID,
		"channel_filter", filter.Channel)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return sub.ch, subID
}

// Publish sends an envelope to all subscribers whose filter matches.
// Non-blocking: envelopes are dropped for subscribers whose channels are full.
func (b *Broadcaster) Publish(env *Envelope) {
	// Sends happen under the read lock so Unsubscribe cannot close a
	// channel mid-send. They never block, so the lock is held briefly.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if !sub.filter.matches(env) {
			continue
		}
		select {
		case sub.ch <- env:
			// Sent
		default:
			// Subscriber channel full — drop envelope for this subscriber
			b.logger.Debug("dropped envelope for slow subscriber",
				"agent_id", env.AgentID,
				"type", env.Type)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subscribers[subID]
	if !ok {
		return
	}

	delete(b.subscribers, subID)
	close(sub.ch)

	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// SubscriberCount returns the number of live subscriptions.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subID, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, subID)
	}

	b.logger.Debug("broadcaster closed")
}
