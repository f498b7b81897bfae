package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector gathers handled events for assertions.
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) handle(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *collector) waitFor(t *testing.T, n int) []Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.len() >= n {
			c.mu.Lock()
			defer c.mu.Unlock()
			return append([]Event(nil), c.events...)
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d events, have %d", n, c.len())
	return nil
}

// TestNew tests event construction fills id and timestamp.
func TestNew(t *testing.T) {
	evt := New(NodeStart, "run-1")

	assert.Equal(t, NodeStart, evt.Type)
	assert.Equal(t, "run-1", evt.RunID)
	assert.NotEmpty(t, evt.ID)
	assert.False(t, evt.Time.IsZero())
}

// TestBus_SubscribeAll tests an all-types subscription sees every event.
func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()

	c := &collector{}
	sub := bus.SubscribeAll(c.handle)
	require.NotNil(t, sub)

	require.NoError(t, bus.Publish(context.Background(), New(WorkflowStart, "r")))
	require.NoError(t, bus.Publish(context.Background(), New(NodeStart, "r")))

	events := c.waitFor(t, 2)
	assert.Equal(t, WorkflowStart, events[0].Type)
	assert.Equal(t, NodeStart, events[1].Type)
}

// TestBus_SubscribeTyped tests type filtering.
func TestBus_SubscribeTyped(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()

	c := &collector{}
	bus.Subscribe([]Type{NodeError, WorkflowError}, c.handle)

	require.NoError(t, bus.Publish(context.Background(), New(NodeStart, "r")))
	require.NoError(t, bus.Publish(context.Background(), New(NodeError, "r")))
	require.NoError(t, bus.Publish(context.Background(), New(WorkflowError, "r")))

	events := c.waitFor(t, 2)
	assert.Equal(t, NodeError, events[0].Type)
	assert.Equal(t, WorkflowError, events[1].Type)
}

// TestBus_Unsubscribe tests no delivery after unsubscribing.
func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()

	c := &collector{}
	sub := bus.SubscribeAll(c.handle)

	require.NoError(t, bus.Publish(context.Background(), New(NodeStart, "r")))
	c.waitFor(t, 1)

	sub.Unsubscribe()
	require.NoError(t, bus.Publish(context.Background(), New(NodeComplete, "r")))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, c.len())
}

// TestBus_PublishAfterClose tests publishing to a closed bus errors.
func TestBus_PublishAfterClose(t *testing.T) {
	bus := NewBus(8)
	require.NoError(t, bus.Close())

	err := bus.Publish(context.Background(), New(NodeStart, "r"))

	assert.ErrorIs(t, err, ErrBusClosed)
}

// TestBus_CloseIsIdempotent tests repeated closes are harmless.
func TestBus_CloseIsIdempotent(t *testing.T) {
	bus := NewBus(8)

	assert.NoError(t, bus.Close())
	assert.NoError(t, bus.Close())
}

// TestBus_SubscribeAfterClose tests subscriptions on a closed bus are
// refused.
func TestBus_SubscribeAfterClose(t *testing.T) {
	bus := NewBus(8)
	require.NoError(t, bus.Close())

	assert.Nil(t, bus.SubscribeAll(func(Event) {}))
}

// TestBus_NilHandler tests a nil handler is refused.
func TestBus_NilHandler(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()

	assert.Nil(t, bus.SubscribeAll(nil))
}

// TestBus_PublishHonorsContext tests a full subscriber buffer blocks
// Publish until the context is done.
func TestBus_PublishHonorsContext(t *testing.T) {
	bus := NewBus(1)
	defer bus.Close()

	block := make(chan struct{})
	bus.SubscribeAll(func(Event) { <-block })
	defer close(block)

	// First event occupies the handler, second fills the buffer.
	require.NoError(t, bus.Publish(context.Background(), New(NodeStart, "r")))
	require.NoError(t, bus.Publish(context.Background(), New(NodeStart, "r")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := bus.Publish(ctx, New(NodeStart, "r"))

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
