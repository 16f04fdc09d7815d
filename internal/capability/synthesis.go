package capability

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/agentlab-ai/agentlab/internal/llm"
)

// Synthesis produces one final standalone answer from the full conversation.
type Synthesis struct {
	provider llm.Provider
	logger   *zap.Logger
}

func NewSynthesis(provider llm.Provider, logger *zap.Logger) *Synthesis {
	return &Synthesis{provider: provider, logger: logger}
}

func (s *Synthesis) Name() string { return "synthesis" }

func (s *Synthesis) Description() string {
	return "Synthesizes a final answer from the whole conversation"
}

const synthesisInstruction = "Produce the single final answer to the original request, " +
	"drawing on everything in this conversation. State the answer directly; " +
	"do not describe your process or restate the question."

// metaPrefixRe strips common meta-commentary openers so the answer stands
// on its own.
var metaPrefixRe = regexp.MustCompile(`(?i)^\s*(the (final )?answer is[:,]?|in conclusion[:,]?|to summarize[:,]?|in summary[:,]?|based on the (above|conversation)[:,]?)\s*`)

func (s *Synthesis) Execute(ctx context.Context, cctx Context) (*Result, error) {
	messages := withSystem(cctx.Messages, synthesisInstruction)

	stream, err := s.provider.Chat(ctx, messages, cctx.Config)
	if err != nil {
		return nil, fmt.Errorf("synthesis: %w", err)
	}
	resp, err := llm.Collect(stream)
	if err != nil {
		return nil, fmt.Errorf("synthesis: %w", err)
	}

	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		return nil, fmt.Errorf("synthesis: model returned empty content")
	}
	stripped := strings.TrimSpace(metaPrefixRe.ReplaceAllString(answer, ""))
	if stripped != "" {
		answer = stripped
	}
	if s.logger != nil {
		s.logger.Debug("synthesized answer", zap.Int("length", len(answer)))
	}

	res := &Result{Output: answer, Metadata: map[string]interface{}{}}
	if resp.Usage != nil {
		res.Metadata["usage"] = *resp.Usage
	}
	return res, nil
}
