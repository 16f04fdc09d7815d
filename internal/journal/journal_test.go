package journal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentlab-ai/agentlab/internal/orchestrator"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestAppendAndReadBack(t *testing.T) {
	j := openTestJournal(t)
	runID := "run-1"

	j.Publish(runID, orchestrator.Event{
		RunID:     runID,
		EventType: orchestrator.EventStart,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"pattern": "react"},
	})
	j.Publish(runID, orchestrator.Event{
		RunID:     runID,
		EventType: orchestrator.EventComplete,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"status": "success"},
	})

	events, err := j.Events(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, orchestrator.EventStart, events[0].EventType)
	assert.Equal(t, "react", events[0].Data["pattern"])
	assert.Equal(t, orchestrator.EventComplete, events[1].EventType)
}

func TestEventsUnknownRunIsEmpty(t *testing.T) {
	j := openTestJournal(t)
	events, err := j.Events(context.Background(), "no-such-run")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRunsAreIsolated(t *testing.T) {
	j := openTestJournal(t)

	j.Publish("run-a", orchestrator.Event{RunID: "run-a", EventType: orchestrator.EventStart, Timestamp: time.Now()})
	j.Publish("run-b", orchestrator.Event{RunID: "run-b", EventType: orchestrator.EventStart, Timestamp: time.Now()})
	j.Publish("run-b", orchestrator.Event{RunID: "run-b", EventType: orchestrator.EventError, Timestamp: time.Now()})

	a, err := j.Events(context.Background(), "run-a")
	require.NoError(t, err)
	assert.Len(t, a, 1)

	runs, err := j.Runs(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 2)
	// Most recent first.
	assert.Equal(t, "run-b", runs[0].RunID)
	assert.Equal(t, 2, runs[0].Events)
	assert.Equal(t, "run-a", runs[1].RunID)
}

func TestPing(t *testing.T) {
	j := openTestJournal(t)
	assert.NoError(t, j.Ping(context.Background()))
}
