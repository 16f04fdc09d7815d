package patterns

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/agentlab-ai/agentlab/internal/capability"
	"github.com/agentlab-ai/agentlab/internal/iteration"
	"github.com/agentlab-ai/agentlab/internal/llm"
)

const defaultReactIterations = 10

// ReAct alternates reasoning and acting: think about the task, optionally
// execute tools, observe, repeat. The loop exits on an explicit completion
// signal, a terminal next action, or the iteration cap, and always falls
// through to one synthesis call for the final answer.
type ReAct struct {
	caps Capabilities
}

func NewReAct(caps Capabilities) *ReAct { return &ReAct{caps: caps} }

func (p *ReAct) Name() string { return "react" }

func (p *ReAct) Description() string {
	return "Reason-act loop: interleaves thinking with tool execution until the task completes"
}

func (p *ReAct) Execute(ctx context.Context, input string, pctx Context, opts Options) <-chan Step {
	return launch(ctx, func(e *emitter) {
		p.run(ctx, e, input, pctx, opts)
	})
}

func (p *ReAct) run(ctx context.Context, e *emitter, input string, pctx Context, opts Options) {
	maxIterations := opts.MaxIterations
	if maxIterations <= 0 {
		maxIterations = defaultReactIterations
	}
	logger := pctx.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	messages := []llm.Message{{Role: llm.RoleUser, Content: input}}
	cctx := capability.Context{Tools: pctx.Tools, Config: opts.Config, Criteria: opts.Criteria}

	for i := 0; i < maxIterations; i++ {
		cctx.Messages = messages
		reason, err := capability.Invoke(ctx, p.caps.Reasoning, cctx)
		if err != nil {
			logger.Warn("reasoning failed", zap.Error(err), zap.Int("iteration", i+1))
			if !e.errorStep("reasoning failed: " + err.Error()) {
				return
			}
			break
		}

		meta := map[string]interface{}{"iteration": i + 1}
		if reason.Reasoning != "" {
			meta["reasoning"] = reason.Reasoning
		}
		if reason.NextAction != "" {
			meta["next_action"] = reason.NextAction
		}
		if usage, ok := reason.Metadata["usage"]; ok {
			meta["usage"] = usage
		}
		if !e.capabilityStep(p.caps.Reasoning.Name(), reason.Output, meta) {
			return
		}
		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: reason.Output})

		if iteration.IsCompletionSignal(reason.Output) {
			logger.Debug("completion signal in reasoning output", zap.Int("iteration", i+1))
			break
		}

		acted := false
		if reason.NextAction != "" {
			cctx.Messages = messages
			use, err := capability.Invoke(ctx, p.caps.ToolUse, cctx)
			if err != nil {
				logger.Warn("tool use failed", zap.Error(err), zap.Int("iteration", i+1))
				if !e.errorStep("tool use failed: " + err.Error()) {
					return
				}
				break
			}
			if !appendToolExchange(e, &messages, use) {
				return
			}
			acted = len(use.ToolCalls) > 0
		}

		if shouldTerminate(reason.NextAction, messages, acted) {
			logger.Debug("react loop terminating early", zap.Int("iteration", i+1))
			break
		}
	}

	synthesize(ctx, e, p.caps, messages, cctx, logger)
}

// shouldTerminate decides whether the loop ends after this iteration. The
// "empty next action while tool results exist" rule is a heuristic, not a
// guarantee: the "none" sentinel is erased during normalization, so an
// absent next action right after a tool executed is indistinguishable from
// an explicit "none" and is treated as completion.
func shouldTerminate(nextAction string, messages []llm.Message, actedThisIteration bool) bool {
	lower := strings.ToLower(nextAction)
	if strings.Contains(lower, "terminate") || strings.Contains(lower, "complete") {
		return true
	}
	if nextAction == "" && !actedThisIteration && historyHasToolResults(messages) {
		return true
	}
	return false
}

func historyHasToolResults(messages []llm.Message) bool {
	for _, m := range messages {
		if m.Role == llm.RoleTool {
			return true
		}
	}
	return false
}
