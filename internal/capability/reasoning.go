package capability

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/agentlab-ai/agentlab/internal/llm"
)

// Reasoning asks the model to think about the task and declare its next
// action in a labeled-section format, then parses the sections back out.
type Reasoning struct {
	provider llm.Provider
	logger   *zap.Logger
}

func NewReasoning(provider llm.Provider, logger *zap.Logger) *Reasoning {
	return &Reasoning{provider: provider, logger: logger}
}

func (r *Reasoning) Name() string { return "reasoning" }

func (r *Reasoning) Description() string {
	return "Reasons over the conversation and decides what to do next"
}

// algorithmicKeywords flag tasks that likely need computation rather than
// recall, which changes the instruction emphasis.
var algorithmicKeywords = []string{
	"calculate", "compute", "sum", "average", "sort", "count", "parse",
	"algorithm", "fibonacci", "prime", "factorial", "convert",
}

func looksAlgorithmic(task string) bool {
	lower := strings.ToLower(task)
	for _, kw := range algorithmicKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func (r *Reasoning) instruction(cctx Context) string {
	var b strings.Builder
	b.WriteString("Think about the current task step by step.\n")

	if cctx.Tools != nil {
		if infos := cctx.Tools.Infos(); len(infos) > 0 {
			b.WriteString("Available tools: ")
			names := make([]string, 0, len(infos))
			for _, t := range infos {
				names = append(names, t.Name)
			}
			b.WriteString(strings.Join(names, ", "))
			b.WriteString(".\n")
		}
	}
	if hasToolResults(cctx.Messages) {
		b.WriteString("Earlier tool results are present in the conversation; factor them into your conclusion.\n")
	}
	if looksAlgorithmic(latestUserContent(cctx.Messages)) {
		b.WriteString("This task looks computational. Prefer using a tool over estimating the result yourself.\n")
	}

	b.WriteString("\nRespond in exactly this format:\n")
	b.WriteString("REASONING: your step-by-step thinking\n")
	b.WriteString("CONCLUSION: what you concluded\n")
	b.WriteString("NEXT_ACTION: the single next action to take, or \"none\" if the task is finished\n")
	return b.String()
}

func (r *Reasoning) Execute(ctx context.Context, cctx Context) (*Result, error) {
	messages := withSystem(cctx.Messages, r.instruction(cctx))

	stream, err := r.provider.Chat(ctx, messages, cctx.Config)
	if err != nil {
		return nil, fmt.Errorf("reasoning: %w", err)
	}
	resp, err := llm.Collect(stream)
	if err != nil {
		return nil, fmt.Errorf("reasoning: %w", err)
	}
	if strings.TrimSpace(resp.Content) == "" {
		return nil, fmt.Errorf("reasoning: model returned empty content")
	}

	reasoning, conclusion, nextAction := parseReasoningSections(resp.Content)
	if r.logger != nil {
		r.logger.Debug("reasoning parsed",
			zap.Bool("has_conclusion", conclusion != resp.Content),
			zap.String("next_action", nextAction),
		)
	}

	res := &Result{
		Output:     conclusion,
		Reasoning:  reasoning,
		NextAction: normalizeNextAction(nextAction),
		Metadata:   map[string]interface{}{},
	}
	if resp.Usage != nil {
		res.Metadata["usage"] = *resp.Usage
	}
	return res, nil
}

var (
	reasoningSectionRe  = regexp.MustCompile(`(?s)REASONING:\s*(.*?)\s*(?:CONCLUSION:|NEXT_ACTION:|$)`)
	conclusionSectionRe = regexp.MustCompile(`(?s)CONCLUSION:\s*(.*?)\s*(?:REASONING:|NEXT_ACTION:|$)`)
	nextActionSectionRe = regexp.MustCompile(`(?s)NEXT_ACTION:\s*(.*?)\s*(?:REASONING:|CONCLUSION:|$)`)
)

// parseReasoningSections extracts the three labeled sections from raw model
// output. Each section runs until the next label or end of text. A missing
// CONCLUSION falls back to the entire raw text.
func parseReasoningSections(raw string) (reasoning, conclusion, nextAction string) {
	if m := reasoningSectionRe.FindStringSubmatch(raw); m != nil {
		reasoning = strings.TrimSpace(m[1])
	}
	if m := conclusionSectionRe.FindStringSubmatch(raw); m != nil {
		conclusion = strings.TrimSpace(m[1])
	} else {
		conclusion = strings.TrimSpace(raw)
	}
	if m := nextActionSectionRe.FindStringSubmatch(raw); m != nil {
		nextAction = strings.TrimSpace(m[1])
	}
	return reasoning, conclusion, nextAction
}
