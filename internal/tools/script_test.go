package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/agentlab-ai/agentlab/internal/workspace"
)

func newTestWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	return ws
}

func TestScriptRunnerReturnsFinalValue(t *testing.T) {
	ws := newTestWorkspace(t)
	runner := NewScriptRunner(ws, time.Second, zaptest.NewLogger(t))

	res := runner.Execute(context.Background(), map[string]interface{}{
		"code": `const xs = [1, 2, 3]; xs.reduce((a, b) => a + b, 0)`,
	})
	require.True(t, res.Success, res.Error)
	data := res.Data.(map[string]interface{})
	assert.EqualValues(t, 6, data["value"])
}

func TestScriptRunnerCollectsLogs(t *testing.T) {
	ws := newTestWorkspace(t)
	runner := NewScriptRunner(ws, time.Second, zaptest.NewLogger(t))

	res := runner.Execute(context.Background(), map[string]interface{}{
		"code": `log("first"); log("second"); 1`,
	})
	require.True(t, res.Success, res.Error)
	data := res.Data.(map[string]interface{})
	assert.Equal(t, []string{"first", "second"}, data["logs"])
}

func TestScriptRunnerWorkspaceRoundTrip(t *testing.T) {
	ws := newTestWorkspace(t)
	runner := NewScriptRunner(ws, time.Second, zaptest.NewLogger(t))

	res := runner.Execute(context.Background(), map[string]interface{}{
		"code": `writeFile("out/result.txt", "hello"); readFile("out/result.txt")`,
	})
	require.True(t, res.Success, res.Error)
	data := res.Data.(map[string]interface{})
	assert.Equal(t, "hello", data["value"])

	files, err := ws.List()
	require.NoError(t, err)
	assert.Contains(t, files, "out/result.txt")
}

func TestScriptRunnerEmitsVisualizations(t *testing.T) {
	ws := newTestWorkspace(t)
	runner := NewScriptRunner(ws, time.Second, zaptest.NewLogger(t))

	res := runner.Execute(context.Background(), map[string]interface{}{
		"code": `emit({type: "table", title: "totals"}); 1`,
	})
	require.True(t, res.Success, res.Error)
	data := res.Data.(map[string]interface{})
	viz, ok := data["visualizations"].([]workspace.Visualization)
	require.True(t, ok)
	require.Len(t, viz, 1)
	assert.Equal(t, "table", viz[0].Type)
	assert.Equal(t, "totals", viz[0].Title)
}

func TestScriptRunnerFallsBackToManifest(t *testing.T) {
	ws := newTestWorkspace(t)
	runner := NewScriptRunner(ws, time.Second, zaptest.NewLogger(t))

	res := runner.Execute(context.Background(), map[string]interface{}{
		"code": `writeFile("viz.yaml", "visualizations:\n  - type: chart\n    title: trend\n"); 1`,
	})
	require.True(t, res.Success, res.Error)
	data := res.Data.(map[string]interface{})
	viz, ok := data["visualizations"].([]workspace.Visualization)
	require.True(t, ok)
	require.Len(t, viz, 1)
	assert.Equal(t, "chart", viz[0].Type)
}

func TestScriptRunnerClearsStaleManifest(t *testing.T) {
	ws := newTestWorkspace(t)
	runner := NewScriptRunner(ws, time.Second, zaptest.NewLogger(t))

	require.NoError(t, ws.WriteFile(workspace.ManifestName, []byte("visualizations:\n  - type: chart\n")))

	res := runner.Execute(context.Background(), map[string]interface{}{"code": `1+1`})
	require.True(t, res.Success, res.Error)
	data := res.Data.(map[string]interface{})
	_, present := data["visualizations"]
	assert.False(t, present)
}

func TestScriptRunnerTimesOut(t *testing.T) {
	ws := newTestWorkspace(t)
	runner := NewScriptRunner(ws, 50*time.Millisecond, zaptest.NewLogger(t))

	res := runner.Execute(context.Background(), map[string]interface{}{
		"code": `while (true) {}`,
	})
	assert.False(t, res.Success)
	assert.Equal(t, "timeout", res.ErrorType)
}

func TestScriptRunnerCancellationInterrupts(t *testing.T) {
	ws := newTestWorkspace(t)
	runner := NewScriptRunner(ws, 10*time.Second, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res := runner.Execute(ctx, map[string]interface{}{
		"code": `while (true) {}`,
	})
	assert.False(t, res.Success)
}

func TestScriptRunnerSyntaxError(t *testing.T) {
	ws := newTestWorkspace(t)
	runner := NewScriptRunner(ws, time.Second, zaptest.NewLogger(t))

	res := runner.Execute(context.Background(), map[string]interface{}{
		"code": `function (`,
	})
	assert.False(t, res.Success)
	assert.Equal(t, "syntax", res.ErrorType)
}

func TestScriptRunnerRequiresCode(t *testing.T) {
	ws := newTestWorkspace(t)
	runner := NewScriptRunner(ws, time.Second, zaptest.NewLogger(t))

	res := runner.Execute(context.Background(), map[string]interface{}{"code": "   "})
	assert.False(t, res.Success)
	assert.Equal(t, "syntax", res.ErrorType)
}
