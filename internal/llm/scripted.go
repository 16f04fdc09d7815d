package llm

import (
	"context"
	"fmt"
	"sync"
)

// Turn is one scripted model response. Content is streamed as a single
// content chunk; tool calls are streamed one chunk each, in order.
type Turn struct {
	Content      string
	ToolCalls    []ToolCall
	Usage        Usage
	FinishReason string
	// Err aborts the call instead of producing chunks.
	Err error
}

// ScriptedProvider replays a fixed sequence of turns, one per Chat or
// ChatWithTools call. It backs the deterministic end-to-end tests and the
// offline demo mode. Safe for concurrent use, though scripted runs are
// normally single-threaded.
type ScriptedProvider struct {
	mu    sync.Mutex
	turns []Turn
	next  int

	// Calls records the histories each call received, for assertions.
	Calls [][]Message
}

// NewScriptedProvider builds a provider that will serve the given turns in
// order and fail once they are exhausted.
func NewScriptedProvider(turns ...Turn) *ScriptedProvider {
	return &ScriptedProvider{turns: turns}
}

func (p *ScriptedProvider) Chat(ctx context.Context, messages []Message, cfg Config) (Stream, error) {
	return p.serve(ctx, messages, cfg)
}

func (p *ScriptedProvider) ChatWithTools(ctx context.Context, messages []Message, tools []ToolDef, cfg Config) (Stream, error) {
	return p.serve(ctx, messages, cfg)
}

func (p *ScriptedProvider) serve(ctx context.Context, messages []Message, cfg Config) (Stream, error) {
	if err := cfg.WithDefaults().Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	snapshot := make([]Message, len(messages))
	copy(snapshot, messages)
	p.Calls = append(p.Calls, snapshot)

	if p.next >= len(p.turns) {
		return nil, fmt.Errorf("llm: scripted provider exhausted after %d turns", len(p.turns))
	}
	turn := p.turns[p.next]
	p.next++

	if turn.Err != nil {
		return nil, turn.Err
	}

	var chunks []Chunk
	if turn.Content != "" {
		chunks = append(chunks, Chunk{Type: ChunkContent, Content: turn.Content})
	}
	for i := range turn.ToolCalls {
		tc := turn.ToolCalls[i]
		chunks = append(chunks, Chunk{Type: ChunkToolCall, ToolCall: &tc})
	}
	finish := turn.FinishReason
	if finish == "" {
		if len(turn.ToolCalls) > 0 {
			finish = "tool_calls"
		} else {
			finish = "stop"
		}
	}
	usage := turn.Usage
	chunks = append(chunks, Chunk{Type: ChunkDone, Usage: &usage, FinishReason: finish})

	return &chunkStream{chunks: chunks}, nil
}

// Remaining reports how many scripted turns have not been consumed yet.
func (p *ScriptedProvider) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.turns) - p.next
}
