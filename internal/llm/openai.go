package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/agentlab-ai/agentlab/internal/metrics"
)

// OpenAIProvider streams chat completions from the OpenAI API. A run-wide
// rate limiter smooths bursts from patterns that fire many model calls in
// quick succession.
type OpenAIProvider struct {
	client  openai.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// OpenAIOptions configures the live provider.
type OpenAIOptions struct {
	APIKey  string
	BaseURL string
	// RequestsPerSecond caps outbound calls; zero disables limiting.
	RequestsPerSecond float64
	Burst             int
}

// NewOpenAIProvider builds the live provider. The API key is required.
func NewOpenAIProvider(opts OpenAIOptions, logger *zap.Logger) (*OpenAIProvider, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("llm: openai provider requires an API key")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return &OpenAIProvider{
		client:  openai.NewClient(reqOpts...),
		limiter: limiter,
		logger:  logger,
	}, nil
}

func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message, cfg Config) (Stream, error) {
	return p.stream(ctx, messages, nil, cfg)
}

func (p *OpenAIProvider) ChatWithTools(ctx context.Context, messages []Message, tools []ToolDef, cfg Config) (Stream, error) {
	return p.stream(ctx, messages, tools, cfg)
}

func (p *OpenAIProvider) stream(ctx context.Context, messages []Message, tools []ToolDef, cfg Config) (Stream, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(cfg.Model),
		Messages:            convertMessages(messages),
		Temperature:         openai.Float(cfg.Temperature),
		MaxCompletionTokens: openai.Int(int64(cfg.MaxTokens)),
	}
	if len(tools) > 0 {
		params.Tools = convertToolDefs(tools)
	}

	raw := p.client.Chat.Completions.NewStreaming(ctx, params)
	return &openaiStream{raw: raw, model: cfg.Model, started: time.Now(), logger: p.logger}, nil
}

// openaiStream adapts the SDK stream to the provider Chunk contract using
// the SDK accumulator, which reassembles tool-call argument fragments.
type openaiStream struct {
	raw     *ssestream.Stream[openai.ChatCompletionChunk]
	acc     openai.ChatCompletionAccumulator
	pending []Chunk
	done    bool
	model   string
	started time.Time
	logger  *zap.Logger
}

func (s *openaiStream) Recv() (Chunk, error) {
	for {
		if len(s.pending) > 0 {
			c := s.pending[0]
			s.pending = s.pending[1:]
			return c, nil
		}
		if s.done {
			return Chunk{}, io.EOF
		}
		if !s.raw.Next() {
			if err := s.raw.Err(); err != nil {
				metrics.ModelRequests.WithLabelValues("openai", s.model, "error").Inc()
				return Chunk{}, fmt.Errorf("llm: openai stream: %w", err)
			}
			s.done = true
			s.pending = append(s.pending, s.finalChunk())
			continue
		}

		chunk := s.raw.Current()
		s.acc.AddChunk(chunk)

		if tc, ok := s.acc.JustFinishedToolCall(); ok {
			args := map[string]interface{}{}
			if tc.Arguments != "" {
				if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil && s.logger != nil {
					s.logger.Warn("unparseable tool call arguments",
						zap.String("tool", tc.Name),
						zap.Error(err),
					)
				}
			}
			s.pending = append(s.pending, Chunk{
				Type:     ChunkToolCall,
				ToolCall: &ToolCall{ID: tc.ID, Name: tc.Name, Arguments: args},
			})
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			s.pending = append(s.pending, Chunk{Type: ChunkContent, Content: chunk.Choices[0].Delta.Content})
		}
	}
}

func (s *openaiStream) finalChunk() Chunk {
	usage := &Usage{
		PromptTokens:     int(s.acc.Usage.PromptTokens),
		CompletionTokens: int(s.acc.Usage.CompletionTokens),
		TotalTokens:      int(s.acc.Usage.TotalTokens),
	}
	finish := "stop"
	if len(s.acc.Choices) > 0 && s.acc.Choices[0].FinishReason != "" {
		finish = s.acc.Choices[0].FinishReason
	}
	metrics.ModelRequests.WithLabelValues("openai", s.model, "success").Inc()
	metrics.ModelLatency.WithLabelValues("openai", s.model).Observe(time.Since(s.started).Seconds())
	metrics.ModelTokens.WithLabelValues("openai", s.model, "prompt").Add(float64(usage.PromptTokens))
	metrics.ModelTokens.WithLabelValues("openai", s.model, "completion").Add(float64(usage.CompletionTokens))
	return Chunk{Type: ChunkDone, Usage: usage, FinishReason: finish}
}

func (s *openaiStream) Close() error { return s.raw.Close() }

func convertMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case RoleAssistant:
			if len(m.ToolCalls) > 0 {
				asst := openai.ChatCompletionAssistantMessageParam{}
				if m.Content != "" {
					asst.Content.OfString = openai.String(m.Content)
				}
				for _, tc := range m.ToolCalls {
					args, _ := json.Marshal(tc.Arguments)
					asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: string(args),
						},
					})
				}
				out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
			} else {
				out = append(out, openai.AssistantMessage(m.Content))
			}
		case RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		}
	}
	return out
}

func convertToolDefs(tools []ToolDef) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  shared.FunctionParameters(t.Parameters),
			},
		})
	}
	return out
}
