package patterns

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/agentlab-ai/agentlab/internal/capability"
	"github.com/agentlab-ai/agentlab/internal/llm"
)

const (
	defaultMaxPlanSteps = 10
	// toolExecutionTries bounds requestToolExecution: the initial ask plus
	// one retry with an explicit must-call-a-tool warning.
	toolExecutionTries = 2
	// replanThreshold is the consecutive-failure count that triggers a
	// full replan instead of grinding on a broken plan.
	replanThreshold = 2
)

// planStep is one parsed entry of a numbered plan.
type planStep struct {
	Number      int
	Description string
}

// planLineRe parses "1. do something" / "2) do something else" lines.
var planLineRe = regexp.MustCompile(`^\s*(\d+)[.)]\s*(.+)$`)

// PlanValidate plans first, then executes and validates each plan step.
// A failing step gets one refinement; two consecutive step failures
// trigger a full replan. The plan list is mutable mid-run.
type PlanValidate struct {
	caps Capabilities
}

func NewPlanValidate(caps Capabilities) *PlanValidate { return &PlanValidate{caps: caps} }

func (p *PlanValidate) Name() string { return "plan_validate" }

func (p *PlanValidate) Description() string {
	return "Plan-and-validate: derive a numbered plan, execute each step with validation and replanning"
}

func (p *PlanValidate) Execute(ctx context.Context, input string, pctx Context, opts Options) <-chan Step {
	return launch(ctx, func(e *emitter) {
		p.run(ctx, e, input, pctx, opts)
	})
}

func (p *PlanValidate) run(ctx context.Context, e *emitter, input string, pctx Context, opts Options) {
	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxPlanSteps
	}
	logger := pctx.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	messages := []llm.Message{{Role: llm.RoleUser, Content: input}}
	cctx := capability.Context{Tools: pctx.Tools, Config: opts.Config, Criteria: opts.Criteria}

	plan, ok := p.requestPlan(ctx, e, &messages, cctx, input, false)
	if !ok {
		return
	}
	if !e.info(fmt.Sprintf("plan has %d steps", len(plan))) {
		return
	}

	executed := 0
	failedStreak := 0
	for i := 0; i < len(plan); i++ {
		if executed >= maxSteps {
			if !e.info("Stopping: reached step budget before completing the plan") {
				return
			}
			break
		}
		step := plan[i]
		executed++

		stepOK, proceed := p.executeStep(ctx, e, &messages, cctx, step, logger)
		if !proceed {
			return
		}
		if stepOK {
			failedStreak = 0
			continue
		}

		failedStreak++
		logger.Debug("plan step failed",
			zap.Int("step", step.Number),
			zap.Int("failed_streak", failedStreak),
		)
		if failedStreak < replanThreshold {
			continue
		}

		// Two consecutive failures: the plan itself is suspect. Ask for a
		// fresh one and restart; the loop increment resumes at step 0.
		if !e.info("two consecutive step failures, replanning") {
			return
		}
		newPlan, ok := p.requestPlan(ctx, e, &messages, cctx, input, true)
		if !ok {
			return
		}
		if len(newPlan) == 0 {
			if !e.errorStep("replanning produced an empty plan, aborting") {
				return
			}
			break
		}
		plan = newPlan
		i = -1
		failedStreak = 0
	}

	synthesize(ctx, e, p.caps, messages, cctx, logger)
}

// requestPlan asks the model for a numbered plan and parses it. An
// unparseable or empty first plan degenerates to one synthetic step holding
// the raw input; an empty replan is reported as empty so the caller can
// abort. The second return is false only on cancellation or a hard
// capability error already reported as a step.
func (p *PlanValidate) requestPlan(ctx context.Context, e *emitter, messages *[]llm.Message, cctx capability.Context, input string, isReplan bool) ([]planStep, bool) {
	prompt := "Produce a numbered plan (one step per line, \"1. ...\") for this task: " + input
	if isReplan {
		prompt = "The current plan is not working. Produce a new numbered plan (one step per line, \"1. ...\") for this task, taking the failures above into account: " + input
	}
	*messages = append(*messages, llm.Message{Role: llm.RoleUser, Content: prompt})

	cctx.Messages = *messages
	res, err := capability.Invoke(ctx, p.caps.ToolUse, cctx)
	if err != nil {
		e.errorStep("planning failed: " + err.Error())
		return nil, false
	}
	*messages = append(*messages, llm.Message{Role: llm.RoleAssistant, Content: res.Output})

	plan := parsePlan(res.Output)
	if len(plan) == 0 && !isReplan {
		plan = []planStep{{Number: 1, Description: input}}
	}
	if !e.capabilityStep(p.caps.ToolUse.Name(), res.Output, map[string]interface{}{
		"phase":      "planning",
		"plan_steps": len(plan),
	}) {
		return nil, false
	}
	return plan, true
}

func parsePlan(raw string) []planStep {
	var plan []planStep
	for _, line := range strings.Split(raw, "\n") {
		if m := planLineRe.FindStringSubmatch(line); m != nil {
			number := len(plan) + 1
			plan = append(plan, planStep{Number: number, Description: strings.TrimSpace(m[2])})
		}
	}
	return plan
}

// executeStep runs one plan step: request tool execution (retrying once
// with an explicit warning when the model returns no tool call), validate,
// and on failure attempt a single refinement with the validation feedback
// folded in. Returns (stepSucceeded, keepRunning).
func (p *PlanValidate) executeStep(ctx context.Context, e *emitter, messages *[]llm.Message, cctx capability.Context, step planStep, logger *zap.Logger) (bool, bool) {
	if !e.info(fmt.Sprintf("executing step %d: %s", step.Number, step.Description)) {
		return false, false
	}

	use, proceed := p.requestToolExecution(ctx, e, messages, cctx, step)
	if !proceed {
		return false, false
	}
	if use == nil {
		return false, true
	}

	verdict, proceed := p.validateStep(ctx, e, messages, cctx, step)
	if !proceed {
		return false, false
	}
	if verdict.IsValid {
		return true, true
	}

	// One refinement: re-ask with the validation feedback folded in.
	*messages = append(*messages, llm.Message{
		Role:    llm.RoleUser,
		Content: feedbackMessage(verdict) + "\nRetry this step: " + step.Description,
	})
	use, proceed = p.requestToolExecution(ctx, e, messages, cctx, step)
	if !proceed {
		return false, false
	}
	if use == nil {
		return false, true
	}
	verdict, proceed = p.validateStep(ctx, e, messages, cctx, step)
	if !proceed {
		return false, false
	}
	if verdict.IsValid {
		logger.Debug("step recovered after refinement", zap.Int("step", step.Number))
	}
	return verdict.IsValid, true
}

// requestToolExecution asks for a tool-execution-only completion, retrying
// once with an explicit warning when no tool call comes back. Returns a nil
// result (with true) when both tries produced no tool call; that counts as
// a failed step. The bool is false on cancellation or capability error.
func (p *PlanValidate) requestToolExecution(ctx context.Context, e *emitter, messages *[]llm.Message, cctx capability.Context, step planStep) (*capability.Result, bool) {
	instruction := "Execute this plan step using a tool: " + step.Description
	for try := 1; try <= toolExecutionTries; try++ {
		if try > 1 {
			instruction = "You must call a tool to execute this step. Step: " + step.Description
		}
		*messages = append(*messages, llm.Message{Role: llm.RoleUser, Content: instruction})

		cctx.Messages = *messages
		use, err := capability.Invoke(ctx, p.caps.ToolUse, cctx)
		if err != nil {
			e.errorStep(fmt.Sprintf("step %d execution failed: %v", step.Number, err))
			return nil, false
		}
		if len(use.ToolCalls) > 0 {
			if !appendToolExchange(e, messages, use) {
				return nil, false
			}
			return use, true
		}
		if use.Output != "" {
			*messages = append(*messages, llm.Message{Role: llm.RoleAssistant, Content: use.Output})
		}
	}
	if !e.info(fmt.Sprintf("step %d produced no tool execution", step.Number)) {
		return nil, false
	}
	return nil, true
}

func (p *PlanValidate) validateStep(ctx context.Context, e *emitter, messages *[]llm.Message, cctx capability.Context, step planStep) (*capability.Verdict, bool) {
	cctx.Messages = *messages
	verdict, err := p.caps.Validation.Validate(ctx, cctx)
	if err != nil {
		e.errorStep(fmt.Sprintf("step %d validation failed: %v", step.Number, err))
		return nil, false
	}
	if !e.capabilityStep(p.caps.Validation.Name(), verdict.Output, map[string]interface{}{
		"step":     step.Number,
		"is_valid": verdict.IsValid,
		"issues":   verdict.Issues,
	}) {
		return nil, false
	}
	return verdict, true
}
