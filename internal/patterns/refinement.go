package patterns

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentlab-ai/agentlab/internal/capability"
	"github.com/agentlab-ai/agentlab/internal/iteration"
	"github.com/agentlab-ai/agentlab/internal/llm"
)

const defaultMaxAttempts = 5

// Refinement is the generate-execute-validate-refine loop. Each attempt
// lets the model execute tools, validates the outcome, and feeds validation
// issues back as corrective context for the next attempt. The shared
// iteration-control decision stops the loop on success, stagnation or the
// attempt cap, and synthesis always runs afterwards so the run degrades to
// the best available answer.
type Refinement struct {
	caps Capabilities
}

func NewRefinement(caps Capabilities) *Refinement { return &Refinement{caps: caps} }

func (p *Refinement) Name() string { return "refinement" }

func (p *Refinement) Description() string {
	return "Iterative refinement: execute, validate, fold feedback into the next attempt"
}

func (p *Refinement) Execute(ctx context.Context, input string, pctx Context, opts Options) <-chan Step {
	return launch(ctx, func(e *emitter) {
		p.run(ctx, e, input, pctx, opts)
	})
}

func (p *Refinement) run(ctx context.Context, e *emitter, input string, pctx Context, opts Options) {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	logger := pctx.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	messages := []llm.Message{{Role: llm.RoleUser, Content: input}}
	cctx := capability.Context{Tools: pctx.Tools, Config: opts.Config, Criteria: opts.Criteria}
	var history []iteration.Attempt

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		started := time.Now()
		cctx.Messages = messages
		use, err := capability.Invoke(ctx, p.caps.ToolUse, cctx)
		if err != nil {
			logger.Warn("attempt failed before execution", zap.Error(err), zap.Int("attempt", attempt))
			if !e.errorStep(fmt.Sprintf("attempt %d failed: %v", attempt, err)) {
				return
			}
			break
		}
		if !e.capabilityStep(p.caps.ToolUse.Name(), use.Output, map[string]interface{}{"attempt": attempt}) {
			return
		}
		if !appendToolExchange(e, &messages, use) {
			return
		}
		history = append(history, buildAttempt(attempt, use, time.Since(started)))

		cctx.Messages = messages
		verdict, err := p.caps.Validation.Validate(ctx, cctx)
		if err != nil {
			logger.Warn("validation failed", zap.Error(err), zap.Int("attempt", attempt))
			if !e.errorStep(fmt.Sprintf("validation failed: %v", err)) {
				return
			}
			break
		}
		if !e.capabilityStep(p.caps.Validation.Name(), verdict.Output, map[string]interface{}{
			"attempt":  attempt,
			"is_valid": verdict.IsValid,
			"issues":   verdict.Issues,
		}) {
			return
		}

		if verdict.IsValid {
			logger.Debug("attempt validated", zap.Int("attempt", attempt))
			break
		}

		// Record the validation outcome on the attempt so the continuation
		// decision sees why it failed.
		last := &history[len(history)-1]
		if last.Error == "" && len(verdict.Issues) > 0 {
			last.Error = verdict.Issues[0]
		}

		messages = append(messages, llm.Message{
			Role:    llm.RoleUser,
			Content: feedbackMessage(verdict),
		})

		decision := iteration.Decide(history, maxAttempts)
		if !decision.ShouldContinue {
			if !e.info("Stopping: " + decision.Reason) {
				return
			}
			break
		}
	}

	synthesize(ctx, e, p.caps, messages, cctx, logger)
}

// buildAttempt derives the iteration-control record from a tool-use result:
// the last tool result, the code that produced it (when a script ran) and
// the effective error.
func buildAttempt(number int, use *capability.Result, elapsed time.Duration) iteration.Attempt {
	attempt := iteration.Attempt{
		Number:    number,
		Timestamp: time.Now(),
		Duration:  elapsed,
	}
	for _, call := range use.ToolCalls {
		if code, ok := call.Arguments["code"].(string); ok {
			attempt.Code = code
		} else if expr, ok := call.Arguments["expression"].(string); ok {
			attempt.Code = expr
		}
	}
	results := capability.ToolResults(use)
	if len(results) > 0 {
		last := results[len(results)-1]
		copied := last
		attempt.Result = &copied
		if !last.Success {
			attempt.Error = last.Error
		}
	} else {
		attempt.Error = "no tool execution result found"
	}
	return attempt
}

// feedbackMessage folds validation output into concrete correction guidance
// for the next attempt's model call.
func feedbackMessage(verdict *capability.Verdict) string {
	var b strings.Builder
	b.WriteString("The previous attempt did not pass validation.\n")
	if len(verdict.Issues) > 0 {
		b.WriteString("Issues:\n")
		for _, issue := range verdict.Issues {
			b.WriteString("- " + issue + "\n")
		}
	}
	if len(verdict.Fixes) > 0 {
		b.WriteString("Suggested fixes:\n")
		for _, fix := range verdict.Fixes {
			b.WriteString("- " + fix + "\n")
		}
	}
	b.WriteString("Apply the fixes and try again.")
	return b.String()
}
