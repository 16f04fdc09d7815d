package tools

import (
	"context"
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/agentlab-ai/agentlab/internal/workspace"
)

// ScriptRunner executes JavaScript in a goja VM with an interrupt deadline.
// The only host surface is the run workspace: readFile, writeFile, listFiles,
// log, and emit for visualization manifests. The VM's own timeout is
// independent of the orchestrator's run-level timeout; a script is killed
// here even if the run budget has more headroom.
type ScriptRunner struct {
	ws      *workspace.Workspace
	timeout time.Duration
	logger  *zap.Logger
}

const defaultScriptTimeout = 10 * time.Second

func NewScriptRunner(ws *workspace.Workspace, timeout time.Duration, logger *zap.Logger) *ScriptRunner {
	if timeout <= 0 {
		timeout = defaultScriptTimeout
	}
	return &ScriptRunner{ws: ws, timeout: timeout, logger: logger}
}

func (s *ScriptRunner) Name() string { return "run_script" }

func (s *ScriptRunner) Description() string {
	return "Runs a JavaScript snippet in a sandbox with access to the run workspace. " +
		"Available functions: readFile(path), writeFile(path, content), listFiles(), log(msg), " +
		"emit(visualizations). The value of the final expression is the result."
}

func (s *ScriptRunner) Parameters() Schema {
	return Schema{
		Type: "object",
		Properties: map[string]interface{}{
			"code": map[string]interface{}{
				"type":        "string",
				"description": "JavaScript source to execute",
			},
		},
		Required: []string{"code"},
	}
}

func (s *ScriptRunner) Execute(ctx context.Context, args map[string]interface{}) Result {
	code, ok := stringArg(args, "code")
	if !ok || strings.TrimSpace(code) == "" {
		return Fail("syntax", "run_script: missing required argument %q", "code")
	}

	// Drop any manifest left by a previous step so emit() output is
	// attributable to this execution.
	if err := s.ws.ClearManifest(); err != nil {
		return Fail("runtime", "run_script: reset manifest: %v", err)
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	var logs []string
	var emitted []workspace.Visualization
	if err := s.bind(vm, &logs, &emitted); err != nil {
		return Fail("runtime", "run_script: %v", err)
	}

	done := make(chan struct{})
	defer close(done)
	timer := time.AfterFunc(s.timeout, func() {
		vm.Interrupt("script timed out")
	})
	defer timer.Stop()
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt("script cancelled")
		case <-done:
		}
	}()

	started := time.Now()
	value, err := vm.RunString(code)
	elapsed := time.Since(started)
	if s.logger != nil {
		s.logger.Debug("script executed",
			zap.Duration("elapsed", elapsed),
			zap.Int("log_lines", len(logs)),
			zap.Bool("failed", err != nil),
		)
	}
	if err != nil {
		if _, interrupted := err.(*goja.InterruptedError); interrupted {
			return Fail("timeout", "run_script: execution timed out after %s", s.timeout)
		}
		errType := "runtime"
		if _, compile := err.(*goja.CompilerSyntaxError); compile {
			errType = "syntax"
		}
		return Fail(errType, "run_script: %v", err)
	}

	data := map[string]interface{}{
		"value": value.Export(),
		"logs":  logs,
	}

	// Visualizations from emit() win over a manifest file; the manifest path
	// exists for scripts that write viz.yaml directly.
	if len(emitted) == 0 {
		fromManifest, mErr := s.ws.LoadManifest()
		if mErr != nil {
			return Fail("logical", "run_script: %v", mErr)
		}
		emitted = fromManifest
	}
	if len(emitted) > 0 {
		data["visualizations"] = emitted
	}

	return Result{
		Success:  true,
		Data:     data,
		Metadata: map[string]interface{}{"duration_ms": elapsed.Milliseconds()},
	}
}

func (s *ScriptRunner) bind(vm *goja.Runtime, logs *[]string, emitted *[]workspace.Visualization) error {
	if err := vm.Set("readFile", func(path string) (string, error) {
		data, err := s.ws.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}); err != nil {
		return err
	}
	if err := vm.Set("writeFile", func(path, content string) error {
		return s.ws.WriteFile(path, []byte(content))
	}); err != nil {
		return err
	}
	if err := vm.Set("listFiles", func() ([]string, error) {
		return s.ws.List()
	}); err != nil {
		return err
	}
	if err := vm.Set("log", func(msg string) {
		*logs = append(*logs, msg)
	}); err != nil {
		return err
	}
	return vm.Set("emit", func(call goja.FunctionCall) goja.Value {
		for _, arg := range call.Arguments {
			var viz workspace.Visualization
			if err := vm.ExportTo(arg, &viz); err == nil && viz.Type != "" {
				*emitted = append(*emitted, viz)
			}
		}
		return goja.Undefined()
	})
}
