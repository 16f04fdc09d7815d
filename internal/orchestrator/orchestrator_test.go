package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/agentlab-ai/agentlab/internal/patterns"
	"github.com/agentlab-ai/agentlab/internal/tools"
)

// stubPattern emits a fixed step script, optionally pausing between steps.
type stubPattern struct {
	name  string
	steps []patterns.Step
	delay time.Duration
}

func (s *stubPattern) Name() string        { return s.name }
func (s *stubPattern) Description() string { return "stub" }

func (s *stubPattern) Execute(ctx context.Context, input string, pctx patterns.Context, opts patterns.Options) <-chan patterns.Step {
	ch := make(chan patterns.Step)
	go func() {
		defer close(ch)
		for _, step := range s.steps {
			if s.delay > 0 {
				select {
				case <-time.After(s.delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- step:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func newOrchestrator(t *testing.T, stubs ...patterns.Pattern) *Orchestrator {
	return New(patterns.NewRegistry(stubs...), tools.NewRegistry(), zaptest.NewLogger(t))
}

func collect(ch <-chan Event) []Event {
	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestExecutePatternNotFound(t *testing.T) {
	defer goleak.VerifyNone(t)
	o := newOrchestrator(t)

	events := collect(o.ExecutePattern(context.Background(), "missing", "input", Options{}))

	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].EventType)
	assert.Contains(t, events[0].Data["message"], "not found")
}

func TestExecutePatternZeroSteps(t *testing.T) {
	defer goleak.VerifyNone(t)
	o := newOrchestrator(t, &stubPattern{name: "empty"})

	events := collect(o.ExecutePattern(context.Background(), "empty", "input", Options{}))

	require.Len(t, events, 2)
	assert.Equal(t, EventStart, events[0].EventType)
	assert.Equal(t, EventComplete, events[1].EventType)
	assert.Equal(t, "success", events[1].Data["status"])
	assert.NotZero(t, events[1].Data["duration"])
}

func TestExecutePatternWrapsSteps(t *testing.T) {
	defer goleak.VerifyNone(t)
	o := newOrchestrator(t, &stubPattern{
		name: "three",
		steps: []patterns.Step{
			{Type: patterns.StepInfo, Content: "starting"},
			{Type: patterns.StepToolCall, Tool: "calculator", Content: "calling calculator"},
			{Type: patterns.StepAnswer, Content: "42"},
		},
	})

	events := collect(o.ExecutePattern(context.Background(), "three", "input", Options{}))

	require.Len(t, events, 5)
	assert.Equal(t, EventStart, events[0].EventType)
	for _, ev := range events[1:4] {
		assert.Equal(t, EventStep, ev.EventType)
	}
	assert.Equal(t, "calculator", events[2].Data["tool"])
	assert.Equal(t, "answer", events[3].Data["type"])
	assert.Equal(t, EventComplete, events[4].EventType)

	// All events of one run share the run ID.
	for _, ev := range events[1:] {
		assert.Equal(t, events[0].RunID, ev.RunID)
	}
}

func TestExecutePatternStepLimit(t *testing.T) {
	defer goleak.VerifyNone(t)
	steps := make([]patterns.Step, 10)
	for i := range steps {
		steps[i] = patterns.Step{Type: patterns.StepInfo, Content: "tick"}
	}
	o := newOrchestrator(t, &stubPattern{name: "chatty", steps: steps})

	opts := Options{}
	opts.MaxSteps = 3
	events := collect(o.ExecutePattern(context.Background(), "chatty", "input", opts))

	var stepEvents int
	for _, ev := range events {
		if ev.EventType == EventStep {
			stepEvents++
		}
	}
	assert.Equal(t, 3, stepEvents)

	last := events[len(events)-1]
	require.Equal(t, EventError, last.EventType)
	assert.Contains(t, last.Data["message"], "Maximum step limit")
}

func TestExecutePatternTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)
	steps := make([]patterns.Step, 100)
	for i := range steps {
		steps[i] = patterns.Step{Type: patterns.StepInfo, Content: "tick"}
	}
	o := newOrchestrator(t, &stubPattern{name: "slow", steps: steps, delay: 20 * time.Millisecond})

	events := collect(o.ExecutePattern(context.Background(), "slow", "input", Options{Timeout: 35 * time.Millisecond}))

	last := events[len(events)-1]
	require.Equal(t, EventError, last.EventType)
	assert.Contains(t, last.Data["message"], "timeout")
	assert.Less(t, len(events), 100)
}

func TestExecutePatternPanicBecomesTerminalError(t *testing.T) {
	defer goleak.VerifyNone(t)
	o := newOrchestrator(t, &stubPattern{
		name: "broken",
		steps: []patterns.Step{
			{Type: patterns.StepInfo, Content: "about to fail"},
			{
				Type:     patterns.StepError,
				Content:  "pattern panicked: nil map write",
				Metadata: map[string]interface{}{"panic": true},
			},
		},
	})

	events := collect(o.ExecutePattern(context.Background(), "broken", "input", Options{}))

	last := events[len(events)-1]
	require.Equal(t, EventError, last.EventType)
	assert.Contains(t, last.Data["message"], "pattern panicked")

	// No complete event anywhere in the stream.
	for _, ev := range events {
		assert.NotEqual(t, EventComplete, ev.EventType)
	}
}

func TestExecutePatternDebugAndVisualizationPromotion(t *testing.T) {
	defer goleak.VerifyNone(t)
	viz := []map[string]interface{}{{"type": "chart", "title": "Results"}}
	o := newOrchestrator(t, &stubPattern{
		name: "rich",
		steps: []patterns.Step{
			{
				Type:    patterns.StepResult,
				Tool:    "run_script",
				Content: "succeeded: 1",
				Metadata: map[string]interface{}{
					"usage":          map[string]interface{}{"total_tokens": 12},
					"latency":        "120ms",
					"visualizations": viz,
				},
			},
		},
	})

	events := collect(o.ExecutePattern(context.Background(), "rich", "input", Options{
		Debug:          true,
		Visualizations: true,
	}))

	require.Len(t, events, 3)
	step := events[1]
	require.NotNil(t, step.Debug)
	assert.Contains(t, step.Debug, "usage")
	assert.Contains(t, step.Debug, "latency")
	assert.NotContains(t, step.Debug, "visualizations")
	assert.Equal(t, viz, step.Visualizations)

	// Without the flags nothing is promoted.
	events = collect(o.ExecutePattern(context.Background(), "rich", "input", Options{}))
	require.Len(t, events, 3)
	assert.Nil(t, events[1].Debug)
	assert.Nil(t, events[1].Visualizations)
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Publish(runID string, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func TestSinkObservesEveryEvent(t *testing.T) {
	defer goleak.VerifyNone(t)
	o := newOrchestrator(t, &stubPattern{
		name:  "one",
		steps: []patterns.Step{{Type: patterns.StepAnswer, Content: "done"}},
	})
	sink := &recordingSink{}
	o.AddSink(sink)

	events := collect(o.ExecutePattern(context.Background(), "one", "input", Options{}))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.events, len(events))
	for i, ev := range events {
		assert.Equal(t, ev.EventType, sink.events[i].EventType)
	}
}

func TestCancellationStopsRun(t *testing.T) {
	defer goleak.VerifyNone(t)
	steps := make([]patterns.Step, 100)
	for i := range steps {
		steps[i] = patterns.Step{Type: patterns.StepInfo, Content: "tick"}
	}
	o := newOrchestrator(t, &stubPattern{name: "endless", steps: steps, delay: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	ch := o.ExecutePattern(ctx, "endless", "input", Options{})

	<-ch // start event
	cancel()
	for range ch {
	}
}
