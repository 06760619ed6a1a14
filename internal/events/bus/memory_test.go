package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diane-assistant/agent-gateway/internal/common/logger"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	return log
}

// collector gathers delivered events for assertions.
type collector struct {
	mu     sync.Mutex
	events []*Event
}

func (c *collector) handler(ctx context.Context, e *Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestPublishExactSubject(t *testing.T) {
	b := NewMemoryEventBus(newTestLogger())
	defer b.Close()

	c := &collector{}
	_, err := b.Subscribe("run.completed", c.handler)
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), "run.completed",
		NewEvent("run.transition", "test", map[string]interface{}{"run_id": "r1"})))
	require.NoError(t, b.Publish(context.Background(), "run.failed",
		NewEvent("run.transition", "test", nil)))

	assert.Eventually(t, func() bool { return c.count() == 1 },
		time.Second, 10*time.Millisecond)
}

func TestPublishWildcard(t *testing.T) {
	b := NewMemoryEventBus(newTestLogger())
	defer b.Close()

	c := &collector{}
	_, err := b.Subscribe("run.*", c.handler)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, "run.created", NewEvent("run.transition", "test", nil)))
	require.NoError(t, b.Publish(ctx, "run.completed", NewEvent("run.transition", "test", nil)))
	require.NoError(t, b.Publish(ctx, "agent.registered", NewEvent("agent", "test", nil)))

	assert.Eventually(t, func() bool { return c.count() == 2 },
		time.Second, 10*time.Millisecond)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewMemoryEventBus(newTestLogger())
	defer b.Close()

	c := &collector{}
	sub, err := b.Subscribe("run.*", c.handler)
	require.NoError(t, err)
	require.True(t, sub.IsValid())

	require.NoError(t, sub.Unsubscribe())
	assert.False(t, sub.IsValid())

	require.NoError(t, b.Publish(context.Background(), "run.created",
		NewEvent("run.transition", "test", nil)))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, c.count())
}

func TestClosedBusRejectsPublish(t *testing.T) {
	b := NewMemoryEventBus(newTestLogger())
	b.Close()

	assert.False(t, b.IsConnected())
	assert.Error(t, b.Publish(context.Background(), "run.created",
		NewEvent("run.transition", "test", nil)))
	_, err := b.Subscribe("run.*", func(ctx context.Context, e *Event) error { return nil })
	assert.Error(t, err)
}
