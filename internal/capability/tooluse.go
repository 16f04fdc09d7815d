package capability

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentlab-ai/agentlab/internal/llm"
	"github.com/agentlab-ai/agentlab/internal/metrics"
	"github.com/agentlab-ai/agentlab/internal/tools"
)

// ToolUse presents the available tools to the model and executes whatever
// calls come back, strictly in order. Later calls may depend on side effects
// of earlier ones (files written to the shared workspace), so there is no
// parallel dispatch.
type ToolUse struct {
	provider llm.Provider
	logger   *zap.Logger
}

func NewToolUse(provider llm.Provider, logger *zap.Logger) *ToolUse {
	return &ToolUse{provider: provider, logger: logger}
}

func (t *ToolUse) Name() string { return "tool_use" }

func (t *ToolUse) Description() string {
	return "Lets the model pick and execute tools, returning their results"
}

func (t *ToolUse) instruction(cctx Context) string {
	var b strings.Builder
	b.WriteString("You can call the following tools:\n")
	if cctx.Tools != nil {
		for _, info := range cctx.Tools.Infos() {
			fmt.Fprintf(&b, "- %s: %s\n", info.Name, info.Description)
		}
	}
	b.WriteString("Call a tool when it helps with the task. Otherwise answer directly.")
	return b.String()
}

func (t *ToolUse) defs(cctx Context) []llm.ToolDef {
	if cctx.Tools == nil {
		return nil
	}
	infos := cctx.Tools.Infos()
	defs := make([]llm.ToolDef, 0, len(infos))
	for _, info := range infos {
		defs = append(defs, llm.ToolDef{
			Name:        info.Name,
			Description: info.Description,
			Parameters: map[string]interface{}{
				"type":       info.Parameters.Type,
				"properties": info.Parameters.Properties,
				"required":   info.Parameters.Required,
			},
		})
	}
	return defs
}

func (t *ToolUse) Execute(ctx context.Context, cctx Context) (*Result, error) {
	messages := withSystem(cctx.Messages, t.instruction(cctx))

	stream, err := t.provider.ChatWithTools(ctx, messages, t.defs(cctx), cctx.Config)
	if err != nil {
		return nil, fmt.Errorf("tool use: %w", err)
	}
	resp, err := llm.Collect(stream)
	if err != nil {
		return nil, fmt.Errorf("tool use: %w", err)
	}

	results := make([]tools.Result, 0, len(resp.ToolCalls))
	var visualizations []interface{}
	for _, call := range resp.ToolCalls {
		res := t.dispatch(ctx, cctx, call)
		if viz, ok := visualizationsFrom(res); ok {
			visualizations = append(visualizations, viz)
		}
		results = append(results, res)
	}

	out := &Result{
		Output:    resp.Content,
		ToolCalls: resp.ToolCalls,
		Metadata: map[string]interface{}{
			"tool_results": results,
		},
	}
	if resp.Usage != nil {
		out.Metadata["usage"] = *resp.Usage
	}
	if len(visualizations) > 0 {
		out.Metadata["visualizations"] = visualizations
	}
	return out, nil
}

// dispatch runs one tool call. An unknown tool name is a recoverable error
// result, never a failure of the capability itself.
func (t *ToolUse) dispatch(ctx context.Context, cctx Context, call llm.ToolCall) tools.Result {
	var tool tools.Tool
	if cctx.Tools != nil {
		tool, _ = cctx.Tools.Get(call.Name)
	}
	if tool == nil {
		if t.logger != nil {
			t.logger.Warn("model requested unknown tool", zap.String("tool", call.Name))
		}
		return tools.Fail("logical", "tool %q not found", call.Name)
	}

	started := time.Now()
	res := tool.Execute(ctx, call.Arguments)
	status := "success"
	if !res.Success {
		status = "error"
	}
	metrics.ToolExecutions.WithLabelValues(call.Name, status).Inc()
	metrics.ToolExecutionDuration.WithLabelValues(call.Name).Observe(time.Since(started).Seconds())
	if t.logger != nil {
		t.logger.Debug("tool executed",
			zap.String("tool", call.Name),
			zap.String("call_id", call.ID),
			zap.Bool("success", res.Success),
			zap.Duration("elapsed", time.Since(started)),
		)
	}
	return res
}

// ToolResults pulls the ordered result list out of a tool-use capability
// result. Result i corresponds to ToolCalls[i].
func ToolResults(res *Result) []tools.Result {
	if res == nil || res.Metadata == nil {
		return nil
	}
	list, _ := res.Metadata["tool_results"].([]tools.Result)
	return list
}
