// Package orchestrator drives pattern step streams to completion while
// enforcing run budgets. It is the sole producer of execution events: every
// run gets exactly one start event (when the pattern exists), zero or more
// step events in the pattern's generation order, and exactly one terminal
// complete or error event, even when the pattern produces nothing at all.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/agentlab-ai/agentlab/internal/llm"
	"github.com/agentlab-ai/agentlab/internal/metrics"
	"github.com/agentlab-ai/agentlab/internal/patterns"
	"github.com/agentlab-ai/agentlab/internal/tools"
)

// Options are the per-run knobs callers hand to ExecutePattern. The
// embedded pattern options are passed through to the pattern; the rest are
// enforced here. Patterns are not trusted to self-limit: the step and time
// budgets are checked between pulls regardless of what the pattern does.
type Options struct {
	patterns.Options

	// Timeout is the wall-clock budget for the whole run, measured from the
	// start event. Checked between step pulls only; a tool call already in
	// flight is not preempted (tools carry their own internal deadlines).
	Timeout time.Duration
	// Debug promotes prompt/usage/latency step metadata into the event's
	// debug field.
	Debug bool
	// Visualizations promotes visualization payloads carried by steps into
	// the event's top-level field.
	Visualizations bool
}

// Orchestrator owns the pattern registry and converts pattern steps into
// execution events. Stateless across runs; safe for concurrent use.
type Orchestrator struct {
	registry *patterns.Registry
	tools    *tools.Registry
	logger   *zap.Logger
	tracer   trace.Tracer

	mu       sync.RWMutex
	sinks    []Sink
	defaults llm.Config
}

func New(registry *patterns.Registry, toolReg *tools.Registry, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		registry: registry,
		tools:    toolReg,
		logger:   logger,
		tracer:   otel.Tracer("agentlab/orchestrator"),
	}
}

// SetModelDefaults installs the model configuration applied to runs whose
// options name no model. Call before serving traffic.
func (o *Orchestrator) SetModelDefaults(cfg llm.Config) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.defaults = cfg
}

// AddSink attaches a consumer that observes every event of every run, in
// emission order.
func (o *Orchestrator) AddSink(s Sink) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sinks = append(o.sinks, s)
}

func (o *Orchestrator) RegisterPattern(p patterns.Pattern) error {
	return o.registry.Register(p)
}

func (o *Orchestrator) GetPattern(name string) (patterns.Pattern, bool) {
	return o.registry.Get(name)
}

func (o *Orchestrator) GetPatterns() []patterns.Pattern {
	return o.registry.List()
}

// ExecutePattern starts a run and returns its event stream. The returned
// channel closes after the terminal event. Cancelling ctx stops the run;
// the pattern unwinds on its own and no event follows the cancellation.
func (o *Orchestrator) ExecutePattern(ctx context.Context, name, input string, opts Options) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		o.run(ctx, out, name, input, opts)
	}()
	return out
}

func (o *Orchestrator) run(ctx context.Context, out chan<- Event, name, input string, opts Options) {
	runID := uuid.New().String()
	if opts.Config.Model == "" {
		o.mu.RLock()
		opts.Config = o.defaults
		o.mu.RUnlock()
	}
	emit := func(ev Event) bool {
		ev.RunID = runID
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now()
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return false
		}
		o.mu.RLock()
		sinks := o.sinks
		o.mu.RUnlock()
		for _, s := range sinks {
			s.Publish(runID, ev)
		}
		return true
	}

	pattern, ok := o.registry.Get(name)
	if !ok {
		emit(Event{
			EventType: EventError,
			Data:      map[string]interface{}{"message": fmt.Sprintf("pattern %q not found", name)},
		})
		return
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.execute_pattern",
		trace.WithAttributes(
			attribute.String("pattern", name),
			attribute.String("run_id", runID),
		))
	defer span.End()

	start := time.Now()
	metrics.RunsStarted.WithLabelValues(name).Inc()
	if !emit(Event{
		EventType: EventStart,
		Data: map[string]interface{}{
			"pattern": name,
			"input":   input,
			"options": optionsData(opts),
		},
	}) {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	steps := pattern.Execute(runCtx, input, patterns.Context{Tools: o.tools, Logger: o.logger}, opts.Options)

	terminal := func(eventType EventType, data map[string]interface{}, status string) {
		data["duration"] = time.Since(start).Seconds()
		metrics.RunsCompleted.WithLabelValues(name, status).Inc()
		metrics.RunDuration.WithLabelValues(name, status).Observe(time.Since(start).Seconds())
		emit(Event{EventType: eventType, Data: data})
	}

	stepCount := 0
	for {
		if opts.Timeout > 0 && time.Since(start) >= opts.Timeout {
			cancel()
			o.logger.Warn("run timeout",
				zap.String("run_id", runID),
				zap.String("pattern", name),
				zap.Duration("timeout", opts.Timeout),
			)
			terminal(EventError, map[string]interface{}{
				"message": fmt.Sprintf("run exceeded timeout of %s", opts.Timeout),
			}, "timeout")
			return
		}
		if opts.MaxSteps > 0 && stepCount >= opts.MaxSteps {
			cancel()
			o.logger.Warn("run step limit",
				zap.String("run_id", runID),
				zap.String("pattern", name),
				zap.Int("max_steps", opts.MaxSteps),
			)
			terminal(EventError, map[string]interface{}{
				"message": fmt.Sprintf("Maximum step limit (%d) reached", opts.MaxSteps),
			}, "step_limit")
			return
		}

		step, open := <-steps
		if !open {
			// A cancelled run ends silently; the caller asked it to stop.
			if ctx.Err() != nil {
				return
			}
			break
		}
		stepCount++
		metrics.StepsEmitted.WithLabelValues(name, string(step.Type)).Inc()
		span.AddEvent("step", trace.WithAttributes(
			attribute.String("type", string(step.Type)),
			attribute.Int("index", stepCount),
		))

		// A panic converted by the pattern layer is the one step that
		// becomes the run's terminal event instead of a step event.
		if step.Type == patterns.StepError && step.Metadata != nil {
			if panicked, _ := step.Metadata["panic"].(bool); panicked {
				terminal(EventError, map[string]interface{}{"message": step.Content}, "error")
				return
			}
		}

		if !emit(o.wrapStep(step, opts)) {
			return
		}
	}

	terminal(EventComplete, map[string]interface{}{"status": "success"}, "success")
}

// wrapStep converts an internal pattern step into the external step event,
// applying debug and visualization promotion.
func (o *Orchestrator) wrapStep(step patterns.Step, opts Options) Event {
	data := map[string]interface{}{
		"type":    string(step.Type),
		"content": step.Content,
	}
	if step.Capability != "" {
		data["capability"] = step.Capability
	}
	if step.Tool != "" {
		data["tool"] = step.Tool
	}
	if len(step.Metadata) > 0 {
		data["metadata"] = step.Metadata
	}

	ev := Event{
		Timestamp: step.Timestamp,
		EventType: EventStep,
		Data:      data,
	}
	if opts.Debug {
		debug := map[string]interface{}{}
		for _, key := range []string{"prompt", "usage", "latency"} {
			if v, ok := step.Metadata[key]; ok {
				debug[key] = v
			}
		}
		if len(debug) > 0 {
			ev.Debug = debug
		}
	}
	if opts.Visualizations {
		if viz, ok := step.Metadata["visualizations"]; ok && viz != nil {
			ev.Visualizations = viz
		}
	}
	return ev
}

func optionsData(opts Options) map[string]interface{} {
	data := map[string]interface{}{
		"debug":          opts.Debug,
		"visualizations": opts.Visualizations,
	}
	if opts.MaxSteps > 0 {
		data["max_steps"] = opts.MaxSteps
	}
	if opts.MaxIterations > 0 {
		data["max_iterations"] = opts.MaxIterations
	}
	if opts.MaxAttempts > 0 {
		data["max_attempts"] = opts.MaxAttempts
	}
	if opts.Timeout > 0 {
		data["timeout"] = opts.Timeout.String()
	}
	return data
}
