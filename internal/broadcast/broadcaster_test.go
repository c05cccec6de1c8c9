// ABOUTME: Tests for the Broadcaster fan-out pub/sub system
// ABOUTME: Covers subscribe, filters, slow-subscriber drops, and concurrency

package broadcast

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeEnvelope(agentID, channel, typ string) *Envelope {
	idx := int64(0)
	return &Envelope{
		Channel:    channel,
		AgentID:    agentID,
		TaskID:     "task-1",
		EntryIndex: &idx,
		Category:   "hook",
		Type:       typ,
		Timestamp:  time.Now(),
	}
}

func recvOne(t *testing.T, ch <-chan *Envelope) *Envelope {
	t.Helper()

	select {
	case env := <-ch:
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
		return nil
	}
}

func TestBroadcaster_SingleSubscriberReceivesEnvelope(t *testing.T) {
	b := New(nil, 0)
	defer b.Close()

	ch, _ := b.Subscribe(context.Background(), Filter{})

	b.Publish(makeEnvelope("agent-1", ChannelLog, "pre_tool_call"))

	env := recvOne(t, ch)
	assert.Equal(t, "agent-1", env.AgentID)
	assert.Equal(t, "pre_tool_call", env.Type)
}

func TestBroadcaster_MultipleSubscribersReceiveSameEnvelope(t *testing.T) {
	b := New(nil, 0)
	defer b.Close()

	ch1, _ := b.Subscribe(context.Background(), Filter{})
	ch2, _ := b.Subscribe(context.Background(), Filter{})
	ch3, _ := b.Subscribe(context.Background(), Filter{})

	b.Publish(makeEnvelope("agent-1", ChannelLog, "stop"))

	for i, ch := range []<-chan *Envelope{ch1, ch2, ch3} {
		env := recvOne(t, ch)
		assert.Equal(t, "stop", env.Type, "subscriber %d got wrong envelope", i)
	}
}

func TestBroadcaster_AgentFilterIsolatesTraffic(t *testing.T) {
	b := New(nil, 0)
	defer b.Close()

	ch, _ := b.Subscribe(context.Background(), Filter{AgentID: "agent-1"})

	b.Publish(makeEnvelope("agent-2", ChannelLog, "ignored"))
	b.Publish(makeEnvelope("agent-1", ChannelLog, "wanted"))

	env := recvOne(t, ch)
	assert.Equal(t, "wanted", env.Type)

	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra envelope: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcaster_ChannelFilter(t *testing.T) {
	b := New(nil, 0)
	defer b.Close()

	stateCh, _ := b.Subscribe(context.Background(), Filter{Channel: ChannelAgentState})

	b.Publish(makeEnvelope("agent-1", ChannelLog, "text_block"))
	b.Publish(makeEnvelope("agent-1", ChannelAgentState, "status_changed"))

	env := recvOne(t, stateCh)
	assert.Equal(t, ChannelAgentState, env.Channel)
	assert.Equal(t, "status_changed", env.Type)
}

func TestBroadcaster_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := New(nil, 2)
	defer b.Close()

	slow, _ := b.Subscribe(context.Background(), Filter{})
	fast, _ := b.Subscribe(context.Background(), Filter{})

	// Overfill the slow subscriber's buffer; Publish must never block
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			b.Publish(makeEnvelope("agent-1", ChannelLog, fmt.Sprintf("evt-%d", i)))
			// Keep the fast subscriber drained
			recvOne(t, fast)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	// The slow subscriber holds only its buffer's worth
	assert.Len(t, slow, 2)
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	b := New(nil, 0)
	defer b.Close()

	ch, subID := b.Subscribe(context.Background(), Filter{})
	b.Unsubscribe(subID)

	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, b.SubscriberCount())

	// Double unsubscribe is a no-op
	b.Unsubscribe(subID)
}

func TestBroadcaster_ContextCancellationCleansUp(t *testing.T) {
	b := New(nil, 0)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, Filter{})
	require.Equal(t, 1, b.SubscriberCount())

	cancel()

	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("subscription not cleaned up after context cancel")
	}
	require.Eventually(t, func() bool {
		return b.SubscriberCount() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestBroadcaster_ConcurrentPublishAndSubscribe(t *testing.T) {
	b := New(nil, 0)
	defer b.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			ch, _ := b.Subscribe(ctx, Filter{})
			for j := 0; j < 20; j++ {
				b.Publish(makeEnvelope(fmt.Sprintf("agent-%d", n), ChannelLog, "evt"))
				select {
				case <-ch:
				default:
				}
			}
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("deadlock in concurrent publish/subscribe")
	}
}

func TestBroadcaster_CloseClosesAllSubscribers(t *testing.T) {
	b := New(nil, 0)

	ch1, _ := b.Subscribe(context.Background(), Filter{})
	ch2, _ := b.Subscribe(context.Background(), Filter{})

	b.Close()

	_, open1 := <-ch1
	_, open2 := <-ch2
	assert.False(t, open1)
	assert.False(t, open2)
}
