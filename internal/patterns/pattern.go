// Package patterns implements the orchestration strategies: a ReAct loop,
// an iterative-refinement loop and a plan-and-validate loop. All patterns
// share one contract: produce a lazy sequence of steps for an input and a
// run context. The sequence is realized as an unbuffered channel fed by a
// goroutine that suspends at every model/tool call and gives up as soon as
// the run context is cancelled; the consumer fully controls pacing and can
// stop pulling without the pattern needing to know why.
package patterns

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/agentlab-ai/agentlab/internal/capability"
	"github.com/agentlab-ai/agentlab/internal/llm"
	"github.com/agentlab-ai/agentlab/internal/tools"
)

// StepType classifies pattern steps.
type StepType string

const (
	StepCapability StepType = "capability"
	StepToolCall   StepType = "tool_call"
	StepResult     StepType = "result"
	StepInfo       StepType = "info"
	StepAnswer     StepType = "answer"
	StepError      StepType = "error"
)

// Step is the atomic unit a pattern yields. Steps are internal; the
// orchestrator wraps them into execution events before anything external
// sees them.
type Step struct {
	Type       StepType               `json:"type"`
	Capability string                 `json:"capability,omitempty"`
	Tool       string                 `json:"tool,omitempty"`
	Content    string                 `json:"content"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Options are per-run knobs. Zero values fall back to pattern defaults.
type Options struct {
	// MaxIterations bounds the ReAct reason-act loop.
	MaxIterations int
	// MaxAttempts bounds refinement attempts.
	MaxAttempts int
	// MaxSteps bounds plan steps executed.
	MaxSteps int
	// Config is the model configuration for every capability call.
	Config llm.Config
	// Criteria are optional caller-supplied validation checks.
	Criteria *capability.Criteria
}

// Context carries the run-scoped collaborators a pattern needs. Each call
// to Execute owns a fresh message history; nothing here is shared mutable
// state.
type Context struct {
	Tools  *tools.Registry
	Logger *zap.Logger
}

// Pattern is a named orchestration strategy.
type Pattern interface {
	Name() string
	Description() string
	// Execute starts the pattern and returns its step stream. The channel
	// closes when the pattern finishes or the context is cancelled.
	Execute(ctx context.Context, input string, pctx Context, opts Options) <-chan Step
}

// Capabilities bundles the stateless capability instances patterns compose.
// Bound once at construction; safe to share across concurrent runs.
type Capabilities struct {
	Reasoning  *capability.Reasoning
	ToolUse    *capability.ToolUse
	Validation *capability.Validation
	Synthesis  *capability.Synthesis
}

// launch starts the producer goroutine every pattern shares. A panic that
// escapes the run loop is converted into a final error step so the stream
// always closes cleanly and the failure surfaces as data, not a crash.
func launch(ctx context.Context, run func(e *emitter)) <-chan Step {
	ch := make(chan Step)
	go func() {
		defer close(ch)
		e := &emitter{ctx: ctx, ch: ch}
		defer func() {
			if r := recover(); r != nil {
				e.send(Step{
					Type:     StepError,
					Content:  fmt.Sprintf("pattern panicked: %v", r),
					Metadata: map[string]interface{}{"panic": true},
				})
			}
		}()
		run(e)
	}()
	return ch
}

// emitter sends steps on the pattern channel, honoring cancellation.
type emitter struct {
	ctx context.Context
	ch  chan<- Step
}

// send delivers one step. A false return means the run was cancelled and
// the pattern must unwind.
func (e *emitter) send(step Step) bool {
	if step.Timestamp.IsZero() {
		step.Timestamp = time.Now()
	}
	select {
	case e.ch <- step:
		return true
	case <-e.ctx.Done():
		return false
	}
}

func (e *emitter) capabilityStep(name, content string, metadata map[string]interface{}) bool {
	return e.send(Step{Type: StepCapability, Capability: name, Content: content, Metadata: metadata})
}

func (e *emitter) info(content string) bool {
	return e.send(Step{Type: StepInfo, Content: content})
}

func (e *emitter) errorStep(content string) bool {
	return e.send(Step{Type: StepError, Content: content})
}

// appendToolExchange records a tool-use capability result in the history:
// one assistant message carrying the tool calls, then one tool-role message
// per result, in call order. It emits a tool_call step per call and a
// result step per result, and returns false on cancellation.
func appendToolExchange(e *emitter, messages *[]llm.Message, res *capability.Result) bool {
	if len(res.ToolCalls) == 0 {
		return true
	}
	*messages = append(*messages, llm.Message{
		Role:      llm.RoleAssistant,
		Content:   res.Output,
		ToolCalls: res.ToolCalls,
	})
	results := capability.ToolResults(res)
	for i, call := range res.ToolCalls {
		meta := map[string]interface{}{"arguments": call.Arguments, "call_id": call.ID}
		if !e.send(Step{Type: StepToolCall, Tool: call.Name, Content: "calling " + call.Name, Metadata: meta}) {
			return false
		}
		if i >= len(results) {
			continue
		}
		result := results[i]
		content := capability.FormatToolMessage(result)
		*messages = append(*messages, llm.Message{
			Role:       llm.RoleTool,
			Name:       call.Name,
			ToolCallID: call.ID,
			Content:    content,
		})
		resultMeta := map[string]interface{}{"success": result.Success}
		if result.ErrorType != "" {
			resultMeta["error_type"] = result.ErrorType
		}
		if data, ok := result.Data.(map[string]interface{}); ok {
			if viz, present := data["visualizations"]; present && viz != nil {
				resultMeta["visualizations"] = viz
			}
		}
		if !e.send(Step{Type: StepResult, Tool: call.Name, Content: content, Metadata: resultMeta}) {
			return false
		}
	}
	return true
}

// synthesize runs the synthesis capability and emits the final answer step,
// or an error step when no answer can be produced.
func synthesize(ctx context.Context, e *emitter, caps Capabilities, messages []llm.Message, cctx capability.Context, logger *zap.Logger) {
	cctx.Messages = messages
	res, err := capability.Invoke(ctx, caps.Synthesis, cctx)
	if err != nil {
		if logger != nil {
			logger.Warn("synthesis failed", zap.Error(err))
		}
		e.errorStep("failed to synthesize a final answer: " + err.Error())
		return
	}
	e.send(Step{Type: StepAnswer, Content: res.Output, Metadata: res.Metadata})
}
