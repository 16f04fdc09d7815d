// Package llm defines the model provider abstraction the pattern core
// depends on: a streaming chat interface returning content, tool-call and
// usage chunks. Two implementations ship with the harness: a scripted
// deterministic provider for tests and offline runs, and a real streaming
// provider backed by the OpenAI API.
package llm

import (
	"context"
	"fmt"
	"io"
)

// Role identifies who produced a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model-initiated tool invocation. ID is the caller-assigned
// correlation key echoed back on the matching tool-role message.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Message is one entry in a conversation history. The slice order is the
// conversation timeline; histories are append-only and owned by a single run.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// Usage reports token consumption for one model call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChunkType discriminates streamed chunks.
type ChunkType string

const (
	ChunkContent  ChunkType = "content"
	ChunkToolCall ChunkType = "tool_call"
	ChunkDone     ChunkType = "done"
)

// Chunk is one element of a streamed model response. A well-formed stream
// ends with exactly one ChunkDone carrying usage and a finish reason.
type Chunk struct {
	Type         ChunkType `json:"type"`
	Content      string    `json:"content,omitempty"`
	ToolCall     *ToolCall `json:"tool_call,omitempty"`
	Usage        *Usage    `json:"usage,omitempty"`
	FinishReason string    `json:"finish_reason,omitempty"`
}

// ToolDef describes a tool to the model: name, description and a
// JSON-Schema-shaped parameter object.
type ToolDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Config carries per-call model options. Validation happens before any
// network call; invalid values never reach a provider.
type Config struct {
	Provider    string  `json:"provider,omitempty" mapstructure:"provider"`
	Model       string  `json:"model,omitempty" mapstructure:"model"`
	Temperature float64 `json:"temperature,omitempty" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty" mapstructure:"max_tokens"`
	Stream      bool    `json:"stream,omitempty" mapstructure:"stream"`
}

const (
	defaultModel     = "gpt-4o-mini"
	defaultMaxTokens = 2048
)

// WithDefaults fills unset fields with harness defaults. It never touches
// fields the caller set explicitly, so validation still catches bad values.
func (c Config) WithDefaults() Config {
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = defaultMaxTokens
	}
	return c
}

// Validate fails fast on configuration errors. Temperature must be in
// [0, 2] and MaxTokens must be positive.
func (c Config) Validate() error {
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("llm: temperature %.2f out of range [0, 2]", c.Temperature)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("llm: max tokens must be positive, got %d", c.MaxTokens)
	}
	return nil
}

// Stream is a pull-based sequence of chunks. Recv returns io.EOF after the
// final chunk has been delivered. Close releases the underlying connection
// and is safe to call more than once.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Provider is the model abstraction the capabilities call. Implementations
// must be safe for concurrent use; per-run state lives in the messages.
type Provider interface {
	// Chat streams a completion for the given history.
	Chat(ctx context.Context, messages []Message, cfg Config) (Stream, error)
	// ChatWithTools streams a completion with tool definitions attached, so
	// the model may answer with tool calls instead of (or alongside) text.
	ChatWithTools(ctx context.Context, messages []Message, tools []ToolDef, cfg Config) (Stream, error)
}

// Response is a fully collected model turn.
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	Usage        *Usage
	FinishReason string
}

// Collect drains a stream into a Response, concatenating content chunks and
// gathering tool calls in arrival order. The stream is closed on return.
func Collect(s Stream) (*Response, error) {
	defer s.Close()
	resp := &Response{}
	for {
		chunk, err := s.Recv()
		if err == io.EOF {
			return resp, nil
		}
		if err != nil {
			return nil, err
		}
		switch chunk.Type {
		case ChunkContent:
			resp.Content += chunk.Content
		case ChunkToolCall:
			if chunk.ToolCall != nil {
				resp.ToolCalls = append(resp.ToolCalls, *chunk.ToolCall)
			}
		case ChunkDone:
			resp.Usage = chunk.Usage
			resp.FinishReason = chunk.FinishReason
		}
	}
}

// chunkStream serves a fixed chunk slice. Used by the scripted provider and
// by providers that buffer before replay.
type chunkStream struct {
	chunks []Chunk
	pos    int
}

func (s *chunkStream) Recv() (Chunk, error) {
	if s.pos >= len(s.chunks) {
		return Chunk{}, io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

func (s *chunkStream) Close() error { return nil }
