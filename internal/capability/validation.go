package capability

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/agentlab-ai/agentlab/internal/iteration"
	"github.com/agentlab-ai/agentlab/internal/llm"
)

// Criteria are caller-supplied checks applied to a result before any model
// call. Zero-valued fields are skipped.
type Criteria struct {
	// Exact requires the result text to equal this string after trimming.
	Exact string
	// Contains requires the result text to contain this substring.
	Contains string
	// Pattern is a regular expression the result text must match.
	Pattern string
	// Forbidden substrings fail validation when present.
	Forbidden []string
	// Check is an arbitrary predicate; a false return fails validation
	// with the attached message.
	Check        func(result string) bool
	CheckMessage string
}

func (c *Criteria) empty() bool {
	return c == nil || (c.Exact == "" && c.Contains == "" && c.Pattern == "" &&
		len(c.Forbidden) == 0 && c.Check == nil)
}

// Verdict is the validation capability's extended result.
type Verdict struct {
	Result
	IsValid bool     `json:"is_valid"`
	Issues  []string `json:"issues,omitempty"`
	Fixes   []string `json:"fixes,omitempty"`
}

// Validation checks the most recent execution result. It validates locally
// first (tool-message convention, error classification, criteria) and only
// escalates to a model call when local signals are inconclusive.
type Validation struct {
	provider llm.Provider
	logger   *zap.Logger
}

func NewValidation(provider llm.Provider, logger *zap.Logger) *Validation {
	return &Validation{provider: provider, logger: logger}
}

func (v *Validation) Name() string { return "validation" }

func (v *Validation) Description() string {
	return "Validates the most recent execution result, locally when possible"
}

func (v *Validation) Execute(ctx context.Context, cctx Context) (*Result, error) {
	verdict, err := v.Validate(ctx, cctx)
	if err != nil {
		return nil, err
	}
	res := verdict.Result
	if res.Metadata == nil {
		res.Metadata = map[string]interface{}{}
	}
	res.Metadata["is_valid"] = verdict.IsValid
	res.Metadata["issues"] = verdict.Issues
	res.Metadata["fixes"] = verdict.Fixes
	return &res, nil
}

// Validate is the typed entry point patterns use directly.
func (v *Validation) Validate(ctx context.Context, cctx Context) (*Verdict, error) {
	// Locate the most recent tool-role message and reconstruct its result.
	var toolContent string
	var found bool
	for i := len(cctx.Messages) - 1; i >= 0; i-- {
		if cctx.Messages[i].Role == llm.RoleTool {
			toolContent = cctx.Messages[i].Content
			found = true
			break
		}
	}
	if !found {
		return &Verdict{
			Result:  Result{Output: "no tool execution result found to validate"},
			IsValid: false,
			Issues:  []string{"no tool execution result found"},
			Fixes:   []string{"Execute a tool so there is a result to validate"},
		}, nil
	}

	res, ok := ParseToolMessage(toolContent)
	if !ok {
		return &Verdict{
			Result:  Result{Output: "tool result in unrecognized format"},
			IsValid: false,
			Issues:  []string{"tool result did not follow the succeeded/failed convention"},
			Fixes:   []string{"Re-run the tool to produce a well-formed result"},
		}, nil
	}

	// A failed execution is conclusive: classify and suggest fixes.
	if !res.Success {
		cat := iteration.Categorize(res.Error)
		if v.logger != nil {
			v.logger.Debug("local validation failed",
				zap.String("category", string(cat)),
			)
		}
		return &Verdict{
			Result:  Result{Output: fmt.Sprintf("execution failed (%s): %s", cat, res.Error)},
			IsValid: false,
			Issues:  []string{res.Error},
			Fixes:   iteration.Suggestions(cat),
		}, nil
	}

	resultText := fmt.Sprintf("%v", res.Data)

	// Caller-supplied criteria are conclusive either way.
	if !cctx.Criteria.empty() {
		issues := checkCriteria(cctx.Criteria, resultText)
		if len(issues) > 0 {
			return &Verdict{
				Result:  Result{Output: "result failed validation criteria"},
				IsValid: false,
				Issues:  issues,
				Fixes:   iteration.Suggestions(iteration.CategoryLogical),
			}, nil
		}
		return &Verdict{
			Result:  Result{Output: "result meets all validation criteria"},
			IsValid: true,
		}, nil
	}

	// No error and no criteria: local validation is inconclusive, ask the
	// model for a structured verdict.
	return v.escalate(ctx, cctx, resultText)
}

func checkCriteria(c *Criteria, result string) []string {
	var issues []string
	trimmed := strings.TrimSpace(result)
	if c.Exact != "" && trimmed != c.Exact {
		issues = append(issues, fmt.Sprintf("expected exactly %q, got %q", c.Exact, trimmed))
	}
	if c.Contains != "" && !strings.Contains(result, c.Contains) {
		issues = append(issues, fmt.Sprintf("result does not contain %q", c.Contains))
	}
	if c.Pattern != "" {
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			issues = append(issues, fmt.Sprintf("invalid validation pattern %q: %v", c.Pattern, err))
		} else if !re.MatchString(result) {
			issues = append(issues, fmt.Sprintf("result does not match pattern %q", c.Pattern))
		}
	}
	for _, forbidden := range c.Forbidden {
		if strings.Contains(result, forbidden) {
			issues = append(issues, fmt.Sprintf("result contains forbidden text %q", forbidden))
		}
	}
	if c.Check != nil && !c.Check(result) {
		msg := c.CheckMessage
		if msg == "" {
			msg = "custom validation check failed"
		}
		issues = append(issues, msg)
	}
	return issues
}

const escalationInstruction = `Assess whether the most recent execution result correctly addresses the task.
Respond line by line in exactly this format:
VALID: yes or no
ISSUES: one issue per line after this label (omit if none)
FIXES: one suggested fix per line after this label (omit if none)
SUMMARY: one-line assessment`

// escalate asks the model for a VALID/ISSUES/FIXES/SUMMARY verdict and
// parses it line by line with simple section tracking.
func (v *Validation) escalate(ctx context.Context, cctx Context, resultText string) (*Verdict, error) {
	messages := withSystem(cctx.Messages,
		escalationInstruction+"\n\nResult under review: "+resultText)

	stream, err := v.provider.Chat(ctx, messages, cctx.Config)
	if err != nil {
		return nil, fmt.Errorf("validation: %w", err)
	}
	resp, err := llm.Collect(stream)
	if err != nil {
		return nil, fmt.Errorf("validation: %w", err)
	}
	if strings.TrimSpace(resp.Content) == "" {
		return nil, fmt.Errorf("validation: model returned empty content")
	}

	verdict := parseVerdict(resp.Content)
	if resp.Usage != nil {
		if verdict.Metadata == nil {
			verdict.Metadata = map[string]interface{}{}
		}
		verdict.Metadata["usage"] = *resp.Usage
	}
	return verdict, nil
}

func parseVerdict(raw string) *Verdict {
	verdict := &Verdict{}
	section := ""
	var summary string
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		upper := strings.ToUpper(trimmed)
		switch {
		case strings.HasPrefix(upper, "VALID:"):
			section = ""
			value := strings.ToLower(strings.TrimSpace(trimmed[len("VALID:"):]))
			verdict.IsValid = strings.HasPrefix(value, "yes") || strings.HasPrefix(value, "true")
		case strings.HasPrefix(upper, "ISSUES:"):
			section = "issues"
			if rest := strings.TrimSpace(trimmed[len("ISSUES:"):]); rest != "" {
				verdict.Issues = append(verdict.Issues, rest)
			}
		case strings.HasPrefix(upper, "FIXES:"):
			section = "fixes"
			if rest := strings.TrimSpace(trimmed[len("FIXES:"):]); rest != "" {
				verdict.Fixes = append(verdict.Fixes, rest)
			}
		case strings.HasPrefix(upper, "SUMMARY:"):
			section = ""
			summary = strings.TrimSpace(trimmed[len("SUMMARY:"):])
		default:
			item := strings.TrimLeft(trimmed, "-* ")
			switch section {
			case "issues":
				verdict.Issues = append(verdict.Issues, item)
			case "fixes":
				verdict.Fixes = append(verdict.Fixes, item)
			}
		}
	}
	if summary == "" {
		if verdict.IsValid {
			summary = "result validated by model review"
		} else {
			summary = "result rejected by model review"
		}
	}
	verdict.Output = summary
	return verdict
}
