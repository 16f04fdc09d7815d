// Package capability implements the single LLM-mediated operations patterns
// compose: reason over context, decide-and-call tools, validate a result,
// synthesize a final answer. Capabilities are stateless with respect to a
// run; all state lives in the message history and iteration state passed in,
// and a capability never mutates the message slice it is given.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/agentlab-ai/agentlab/internal/iteration"
	"github.com/agentlab-ai/agentlab/internal/llm"
	"github.com/agentlab-ai/agentlab/internal/tools"
)

// Context is the read-only view a capability receives. Messages is owned by
// the calling pattern; capabilities copy before appending.
type Context struct {
	Messages  []llm.Message
	Tools     *tools.Registry
	Config    llm.Config
	State     map[string]interface{}
	Iteration []iteration.Attempt
	Criteria  *Criteria
}

// Result is the uniform capability output. NextAction is empty when the
// model requested no further tool use; the "none" sentinel is normalized
// away by the producing capability so consumers test emptiness alone.
type Result struct {
	Output     string                 `json:"output"`
	ToolCalls  []llm.ToolCall         `json:"tool_calls,omitempty"`
	Reasoning  string                 `json:"reasoning,omitempty"`
	NextAction string                 `json:"next_action,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Capability is a single reusable model-mediated operation.
type Capability interface {
	Name() string
	Description() string
	Execute(ctx context.Context, cctx Context) (*Result, error)
}

// Invoke runs a capability and contains truly unexpected failures: a panic
// inside a capability is converted into an error result here, at the one
// boundary where that conversion happens.
func Invoke(ctx context.Context, c Capability, cctx Context) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("capability %s panicked: %v", c.Name(), r)
		}
	}()
	return c.Execute(ctx, cctx)
}

// Registry lists the capabilities exposed over the API. Explicitly
// constructed; no process-wide state.
type Registry struct {
	mu   sync.RWMutex
	caps map[string]Capability
}

func NewRegistry(caps ...Capability) *Registry {
	r := &Registry{caps: make(map[string]Capability)}
	for _, c := range caps {
		r.Register(c)
	}
	return r
}

func (r *Registry) Register(c Capability) {
	if c == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caps[c.Name()] = c
}

func (r *Registry) Get(name string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[name]
	return c, ok
}

func (r *Registry) List() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Capability, 0, len(r.caps))
	for _, c := range r.caps {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// withSystem returns a new slice with an appended system message, leaving
// the caller's history untouched.
func withSystem(messages []llm.Message, instruction string) []llm.Message {
	out := make([]llm.Message, len(messages), len(messages)+1)
	copy(out, messages)
	return append(out, llm.Message{Role: llm.RoleSystem, Content: instruction})
}

// latestUserContent returns the content of the most recent user message.
func latestUserContent(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// hasToolResults reports whether the history contains any tool-role message.
func hasToolResults(messages []llm.Message) bool {
	for _, m := range messages {
		if m.Role == llm.RoleTool {
			return true
		}
	}
	return false
}

// normalizeNextAction suppresses the "none" sentinel: trimmed, trailing
// punctuation stripped, case-insensitive. Downstream consumers then test
// emptiness alone.
func normalizeNextAction(s string) string {
	trimmed := strings.TrimSpace(s)
	stripped := strings.TrimRight(trimmed, ".!?,;:")
	if strings.EqualFold(strings.TrimSpace(stripped), "none") {
		return ""
	}
	return trimmed
}

// FormatToolMessage renders a tool result using the textual convention the
// validation capability parses back: "succeeded: <json>" on success,
// "failed: <message>" otherwise.
func FormatToolMessage(res tools.Result) string {
	if res.Success {
		data, err := json.Marshal(res.Data)
		if err != nil {
			data = []byte("null")
		}
		return "succeeded: " + string(data)
	}
	msg := res.Error
	if msg == "" {
		msg = "tool reported failure without a message"
	}
	return "failed: " + msg
}

// ParseToolMessage reconstructs a tool result from the textual convention.
// The second return is false when the content does not follow it.
func ParseToolMessage(content string) (tools.Result, bool) {
	if rest, ok := strings.CutPrefix(content, "succeeded: "); ok {
		var data interface{}
		if err := json.Unmarshal([]byte(rest), &data); err != nil {
			data = rest
		}
		return tools.Result{Success: true, Data: data}, true
	}
	if rest, ok := strings.CutPrefix(content, "failed: "); ok {
		return tools.Result{Success: false, Error: rest}, true
	}
	return tools.Result{}, false
}

// visualizationsFrom extracts a visualizations payload from a tool result's
// data, if present.
func visualizationsFrom(res tools.Result) (interface{}, bool) {
	data, ok := res.Data.(map[string]interface{})
	if !ok {
		return nil, false
	}
	viz, ok := data["visualizations"]
	if !ok || viz == nil {
		return nil, false
	}
	return viz, true
}
