package capability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/agentlab-ai/agentlab/internal/llm"
	"github.com/agentlab-ai/agentlab/internal/tools"
)

func TestReasoningParsesSections(t *testing.T) {
	provider := llm.NewScriptedProvider(llm.Turn{
		Content: "REASONING: the task needs arithmetic\nCONCLUSION: use the calculator\nNEXT_ACTION: use calculator",
	})
	r := NewReasoning(provider, zaptest.NewLogger(t))

	res, err := r.Execute(context.Background(), Context{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Calculate 2+2"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "the task needs arithmetic", res.Reasoning)
	assert.Equal(t, "use the calculator", res.Output)
	assert.Equal(t, "use calculator", res.NextAction)
}

func TestReasoningNextActionNoneSuppressed(t *testing.T) {
	for _, raw := range []string{"none", "None", "NONE.", " none! ", "none;"} {
		provider := llm.NewScriptedProvider(llm.Turn{
			Content: "CONCLUSION: done\nNEXT_ACTION: " + raw,
		})
		r := NewReasoning(provider, zaptest.NewLogger(t))
		res, err := r.Execute(context.Background(), Context{})
		require.NoError(t, err)
		assert.Empty(t, res.NextAction, "raw next action %q", raw)
	}
}

func TestReasoningMissingConclusionFallsBackToRaw(t *testing.T) {
	provider := llm.NewScriptedProvider(llm.Turn{Content: "just some freeform thinking"})
	r := NewReasoning(provider, zaptest.NewLogger(t))
	res, err := r.Execute(context.Background(), Context{})
	require.NoError(t, err)
	assert.Equal(t, "just some freeform thinking", res.Output)
}

func TestReasoningEmptyContentFails(t *testing.T) {
	provider := llm.NewScriptedProvider(llm.Turn{Content: "   "})
	r := NewReasoning(provider, zaptest.NewLogger(t))
	_, err := r.Execute(context.Background(), Context{})
	assert.ErrorContains(t, err, "empty content")
}

func TestReasoningDoesNotMutateHistory(t *testing.T) {
	provider := llm.NewScriptedProvider(llm.Turn{Content: "CONCLUSION: ok"})
	r := NewReasoning(provider, zaptest.NewLogger(t))
	history := []llm.Message{{Role: llm.RoleUser, Content: "task"}}
	_, err := r.Execute(context.Background(), Context{Messages: history})
	require.NoError(t, err)
	require.Len(t, history, 1)
	// The provider saw the appended instruction, the caller's slice did not.
	require.Len(t, provider.Calls, 1)
	assert.Len(t, provider.Calls[0], 2)
}

func TestToolUseExecutesCallsInOrder(t *testing.T) {
	provider := llm.NewScriptedProvider(llm.Turn{
		Content: "running the numbers",
		ToolCalls: []llm.ToolCall{
			{ID: "call_1", Name: "calculator", Arguments: map[string]interface{}{"expression": "2+2"}},
			{ID: "call_2", Name: "calculator", Arguments: map[string]interface{}{"expression": "10/4"}},
		},
	})
	tu := NewToolUse(provider, zaptest.NewLogger(t))
	registry := tools.NewRegistry(tools.NewCalculator())

	res, err := tu.Execute(context.Background(), Context{Tools: registry})
	require.NoError(t, err)
	require.Len(t, res.ToolCalls, 2)

	results := ToolResults(res)
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.Equal(t, float64(4), results[0].Data)
	assert.True(t, results[1].Success)
	assert.Equal(t, 2.5, results[1].Data)
}

func TestToolUseUnknownToolIsContained(t *testing.T) {
	provider := llm.NewScriptedProvider(llm.Turn{
		ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "launch_rocket", Arguments: nil}},
	})
	tu := NewToolUse(provider, zaptest.NewLogger(t))

	res, err := tu.Execute(context.Background(), Context{Tools: tools.NewRegistry()})
	require.NoError(t, err)
	results := ToolResults(res)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "not found")
}

func TestValidationNoToolResult(t *testing.T) {
	v := NewValidation(llm.NewScriptedProvider(), zaptest.NewLogger(t))
	verdict, err := v.Validate(context.Background(), Context{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "task"}},
	})
	require.NoError(t, err)
	assert.False(t, verdict.IsValid)
	assert.Contains(t, verdict.Output, "no tool execution result found")
}

func TestValidationClassifiesFailedExecution(t *testing.T) {
	v := NewValidation(llm.NewScriptedProvider(), zaptest.NewLogger(t))
	verdict, err := v.Validate(context.Background(), Context{
		Messages: []llm.Message{
			{Role: llm.RoleTool, Name: "run_script", ToolCallID: "call_1", Content: "failed: ReferenceError: x is not defined"},
		},
	})
	require.NoError(t, err)
	assert.False(t, verdict.IsValid)
	assert.Contains(t, verdict.Output, "runtime")
	assert.NotEmpty(t, verdict.Fixes)
}

func TestValidationCriteria(t *testing.T) {
	v := NewValidation(llm.NewScriptedProvider(), zaptest.NewLogger(t))
	history := []llm.Message{
		{Role: llm.RoleTool, Name: "calculator", ToolCallID: "call_1", Content: "succeeded: 4"},
	}

	verdict, err := v.Validate(context.Background(), Context{
		Messages: history,
		Criteria: &Criteria{Exact: "4"},
	})
	require.NoError(t, err)
	assert.True(t, verdict.IsValid)

	verdict, err = v.Validate(context.Background(), Context{
		Messages: history,
		Criteria: &Criteria{Exact: "5"},
	})
	require.NoError(t, err)
	assert.False(t, verdict.IsValid)
	assert.NotEmpty(t, verdict.Issues)
}

func TestValidationEscalatesToModel(t *testing.T) {
	provider := llm.NewScriptedProvider(llm.Turn{
		Content: "VALID: no\nISSUES:\n- result ignores the second input\nFIXES:\n- include both inputs\nSUMMARY: partially correct",
	})
	v := NewValidation(provider, zaptest.NewLogger(t))
	verdict, err := v.Validate(context.Background(), Context{
		Messages: []llm.Message{
			{Role: llm.RoleTool, Name: "run_script", ToolCallID: "call_1", Content: `succeeded: {"value": 12}`},
		},
	})
	require.NoError(t, err)
	assert.False(t, verdict.IsValid)
	assert.Equal(t, []string{"result ignores the second input"}, verdict.Issues)
	assert.Equal(t, []string{"include both inputs"}, verdict.Fixes)
	assert.Equal(t, "partially correct", verdict.Output)
}

func TestSynthesisStripsMetaPrefix(t *testing.T) {
	provider := llm.NewScriptedProvider(llm.Turn{Content: "The answer is: 42"})
	s := NewSynthesis(provider, zaptest.NewLogger(t))
	res, err := s.Execute(context.Background(), Context{})
	require.NoError(t, err)
	assert.Equal(t, "42", res.Output)
}

func TestInvokeContainsPanics(t *testing.T) {
	_, err := Invoke(context.Background(), panicky{}, Context{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

type panicky struct{}

func (panicky) Name() string        { return "panicky" }
func (panicky) Description() string { return "always panics" }
func (panicky) Execute(context.Context, Context) (*Result, error) {
	panic("unexpected")
}

func TestToolMessageConvention(t *testing.T) {
	ok := FormatToolMessage(tools.Result{Success: true, Data: map[string]interface{}{"value": 4}})
	assert.Equal(t, `succeeded: {"value":4}`, ok)
	parsed, matched := ParseToolMessage(ok)
	require.True(t, matched)
	assert.True(t, parsed.Success)

	bad := FormatToolMessage(tools.Result{Success: false, Error: "boom"})
	assert.Equal(t, "failed: boom", bad)
	parsed, matched = ParseToolMessage(bad)
	require.True(t, matched)
	assert.False(t, parsed.Success)
	assert.Equal(t, "boom", parsed.Error)

	_, matched = ParseToolMessage("free text")
	assert.False(t, matched)
}
