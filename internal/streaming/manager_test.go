package streaming

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentlab-ai/agentlab/internal/orchestrator"
)

func TestPublishSubscribe(t *testing.T) {
	m := NewManager(zap.NewNop())
	runID := "run-1"

	ch := m.Subscribe(runID, 10)
	defer m.Unsubscribe(runID, ch)

	m.Publish(runID, orchestrator.Event{EventType: orchestrator.EventStart})
	m.Publish(runID, orchestrator.Event{EventType: orchestrator.EventComplete})

	first := <-ch
	second := <-ch
	assert.Equal(t, orchestrator.EventStart, first.EventType)
	assert.Equal(t, uint64(0), first.Seq)
	assert.Equal(t, orchestrator.EventComplete, second.EventType)
	assert.Equal(t, uint64(1), second.Seq)
}

func TestSlowSubscriberDropsNotBlocks(t *testing.T) {
	m := NewManager(zap.NewNop())
	runID := "run-slow"

	ch := m.Subscribe(runID, 1)
	defer m.Unsubscribe(runID, ch)

	// Second publish overflows the buffer; Publish must not block.
	m.Publish(runID, orchestrator.Event{EventType: orchestrator.EventStart})
	m.Publish(runID, orchestrator.Event{EventType: orchestrator.EventStep})

	got := <-ch
	assert.Equal(t, orchestrator.EventStart, got.EventType)

	// The dropped event is still replayable.
	replay := m.ReplaySince(runID, got.Seq)
	require.Len(t, replay, 1)
	assert.Equal(t, orchestrator.EventStep, replay[0].EventType)
}

func TestReplaySinceWithinCapacity(t *testing.T) {
	m := NewManager(zap.NewNop(), WithCapacity(3))
	runID := "run-replay"

	// Push 4 events into a 3-slot ring; seq 0 is overwritten.
	for i := 0; i < 4; i++ {
		m.Publish(runID, orchestrator.Event{EventType: orchestrator.EventStep})
	}

	all := m.ReplaySince(runID, 0)
	require.Len(t, all, 3)
	assert.Equal(t, uint64(1), all[0].Seq)
	assert.Equal(t, uint64(3), all[2].Seq)

	tail := m.ReplaySince(runID, 2)
	require.Len(t, tail, 1)
	assert.Equal(t, uint64(3), tail[0].Seq)

	assert.Nil(t, m.ReplaySince("unknown-run", 0))
}

func TestSubscribersAreIsolatedByRun(t *testing.T) {
	m := NewManager(zap.NewNop())

	a := m.Subscribe("run-a", 1)
	defer m.Unsubscribe("run-a", a)
	b := m.Subscribe("run-b", 1)
	defer m.Unsubscribe("run-b", b)

	m.Publish("run-a", orchestrator.Event{EventType: orchestrator.EventStart})

	assert.Len(t, a, 1)
	assert.Len(t, b, 0)
}

func TestForgetDropsHistory(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.Publish("run-x", orchestrator.Event{EventType: orchestrator.EventStart})
	require.NotEmpty(t, m.ReplaySince("run-x", 0))

	m.Forget("run-x")
	assert.Nil(t, m.ReplaySince("run-x", 0))
}

func TestRedisMirror(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	m := NewManager(zap.NewNop(), WithRedisMirror(client))
	runID := "run-mirrored"

	m.Publish(runID, orchestrator.Event{RunID: runID, EventType: orchestrator.EventStart})
	m.Publish(runID, orchestrator.Event{RunID: runID, EventType: orchestrator.EventComplete})

	entries, err := client.XRange(context.Background(), StreamKey(runID), "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "0", entries[0].Values["seq"])
	assert.Contains(t, entries[0].Values["event"], `"event_type":"start"`)
	assert.Contains(t, entries[1].Values["event"], `"event_type":"complete"`)
}
