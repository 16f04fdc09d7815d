// Package tools defines the tool contract consumed by the pattern core and
// ships the built-in tools: a calculator, a sandboxed script runner and
// workspace file operations. Tool failures are data, never panics; a failed
// Result flows back into the conversation as corrective context.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Result is the outcome of one tool execution. Error implies Success=false,
// but Success=false does not require Error; consumers check both.
type Result struct {
	Success   bool                   `json:"success"`
	Data      interface{}            `json:"data,omitempty"`
	Error     string                 `json:"error,omitempty"`
	ErrorType string                 `json:"error_type,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Fail builds a failed Result with a formatted error message.
func Fail(errType, format string, args ...interface{}) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...), ErrorType: errType}
}

// Schema is a JSON-Schema-shaped parameter declaration.
type Schema struct {
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties"`
	Required   []string               `json:"required,omitempty"`
}

// Tool is a named capability callable by the model. Implementations must be
// safe for concurrent use across runs; per-run state lives in the workspace.
type Tool interface {
	Name() string
	Description() string
	Parameters() Schema
	Execute(ctx context.Context, args map[string]interface{}) Result
}

// Info is the transport-facing description of a tool.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  Schema `json:"parameters"`
}

// Registry holds the tools available to a run. Explicitly constructed and
// passed; there is no process-wide registry.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

func (r *Registry) Register(t Tool) {
	if t == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all tools sorted by name for stable API output.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Infos returns transport descriptions for all registered tools.
func (r *Registry) Infos() []Info {
	list := r.List()
	out := make([]Info, 0, len(list))
	for _, t := range list {
		out = append(out, Info{Name: t.Name(), Description: t.Description(), Parameters: t.Parameters()})
	}
	return out
}

// stringArg extracts a required string argument.
func stringArg(args map[string]interface{}, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
