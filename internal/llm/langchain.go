package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/models"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/tracing"
)

// DefaultBaseURL is the OpenAI compatible gateway used when none is set.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// GatewayConfig configures the OpenAI compatible gateway.
type GatewayConfig struct {
	BaseURL string
	APIKey  string
	// Referer and Title are sent as HTTP-Referer and X-Title for gateway
	// attribution.
	Referer string
	Title   string
	// HTTPTimeout bounds a single HTTP exchange. Zero leaves it to the
	// caller's context.
	HTTPTimeout time.Duration
}

// headerDoer stamps attribution and trace headers on every outgoing request.
type headerDoer struct {
	client  *http.Client
	headers map[string]string
}

func (d *headerDoer) Do(req *http.Request) (*http.Response, error) {
	for k, v := range d.headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}
	tracing.InjectTraceparent(req.Context(), req)
	return d.client.Do(req)
}

// LangChainBackend talks to an OpenAI compatible endpoint via langchaingo.
type LangChainBackend struct {
	llm *openai.LLM
}

// NewLangChainBackend builds the gateway backend. defaultModel is only used
// when a request carries no model.
func NewLangChainBackend(cfg GatewayConfig, defaultModel string) (*LangChainBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("reasoning gateway api key is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	doer := &headerDoer{
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		headers: map[string]string{
			"HTTP-Referer": cfg.Referer,
			"X-Title":      cfg.Title,
		},
	}
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithBaseURL(baseURL),
		openai.WithHTTPClient(doer),
	}
	if defaultModel != "" {
		opts = append(opts, openai.WithModel(defaultModel))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create gateway client: %w", err)
	}
	return &LangChainBackend{llm: model}, nil
}

// Generate performs a blocking chat completion.
func (b *LangChainBackend) Generate(ctx context.Context, req Request) (*Completion, error) {
	resp, err := b.llm.GenerateContent(ctx, toMessageContent(req.Messages), callOptions(req)...)
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty completion from %s", req.Model)
	}
	choice := resp.Choices[0]
	return &Completion{
		Text:  choice.Content,
		Model: req.Model,
		Usage: usageFromInfo(choice.GenerationInfo),
	}, nil
}

// GenerateStream performs a streaming chat completion, forwarding each
// content delta to emit.
func (b *LangChainBackend) GenerateStream(ctx context.Context, req Request, emit func(string) error) (models.TokenUsage, error) {
	opts := append(callOptions(req), llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
		return emit(string(chunk))
	}))
	resp, err := b.llm.GenerateContent(ctx, toMessageContent(req.Messages), opts...)
	if err != nil {
		return models.TokenUsage{}, err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return models.TokenUsage{}, nil
	}
	return usageFromInfo(resp.Choices[0].GenerationInfo), nil
}

func toMessageContent(messages []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		role := schema.ChatMessageTypeHuman
		switch m.Role {
		case "system":
			role = schema.ChatMessageTypeSystem
		case "assistant":
			role = schema.ChatMessageTypeAI
		}
		out = append(out, llms.TextParts(role, m.Content))
	}
	return out
}

func callOptions(req Request) []llms.CallOption {
	opts := []llms.CallOption{llms.WithModel(req.Model)}
	if req.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(req.Temperature))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	return opts
}

func usageFromInfo(info map[string]any) models.TokenUsage {
	u := models.TokenUsage{
		PromptTokens:     intFromInfo(info, "PromptTokens"),
		CompletionTokens: intFromInfo(info, "CompletionTokens"),
		TotalTokens:      intFromInfo(info, "TotalTokens"),
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}

func intFromInfo(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
