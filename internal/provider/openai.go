package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/raaihank/medgateway/internal/logger"
	"go.uber.org/zap"
)

// OpenAIEndpoint is the only chat completions endpoint the cloud backend
// talks to.
const OpenAIEndpoint = "https://api.openai.com/v1/chat/completions"

// OpenAIOptions configures the OpenAI backend
type OpenAIOptions struct {
	APIKey        string
	Model         string
	Temperature   float64
	Timeout       time.Duration
	ProbeTimeout  time.Duration
	WarmupTimeout time.Duration
}

// OpenAIProvider calls the OpenAI chat completions API
type OpenAIProvider struct {
	endpoint      string
	apiKey        string
	model         string
	temperature   float64
	timeout       time.Duration
	probeTimeout  time.Duration
	warmupTimeout time.Duration
	client        *http.Client
	logger        *logger.Logger
}

// NewOpenAI creates an OpenAI backend. Without an API key the backend is
// reported as unconfigured and every call fails with ErrNotConfigured.
func NewOpenAI(opts OpenAIOptions, log *logger.Logger) *OpenAIProvider {
	return &OpenAIProvider{
		endpoint:      OpenAIEndpoint,
		apiKey:        opts.APIKey,
		model:         opts.Model,
		temperature:   opts.Temperature,
		timeout:       orDefault(opts.Timeout, 60*time.Second),
		probeTimeout:  orDefault(opts.ProbeTimeout, 5*time.Second),
		warmupTimeout: orDefault(opts.WarmupTimeout, 30*time.Second),
		client:        &http.Client{},
		logger:        log.WithComponent("provider").WithProvider(string(OpenAI), opts.Model),
	}
}

func (p *OpenAIProvider) Name() string { return string(OpenAI) }
func (p *OpenAIProvider) Model() string { return p.model }
func (p *OpenAIProvider) IsLocal() bool { return false }
func (p *OpenAIProvider) IsConfigured() bool { return p.apiKey != "" }
func (p *OpenAIProvider) Descriptor() Descriptor { return describe(p) }

type openAIChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// CheckConnection sends a minimal completion within the probe timeout.
func (p *OpenAIProvider) CheckConnection(ctx context.Context) (bool, string) {
	if !p.IsConfigured() {
		return false, "OpenAI API key not configured"
	}

	ctx, cancel := context.WithTimeout(ctx, p.probeTimeout)
	defer cancel()

	if _, err := p.complete(ctx, []Message{{Role: "user", Content: "test"}}, 5); err != nil {
		return false, fmt.Sprintf("OpenAI connection failed: %v", err)
	}
	return true, fmt.Sprintf("OpenAI connected - %s", p.model)
}

// Warmup sends a short greeting within the warm-up timeout.
func (p *OpenAIProvider) Warmup(ctx context.Context) (bool, string) {
	if !p.IsConfigured() {
		return false, "OpenAI API key not configured"
	}

	ctx, cancel := context.WithTimeout(ctx, p.warmupTimeout)
	defer cancel()

	if _, err := p.complete(ctx, []Message{{Role: "user", Content: warmupPrompt}}, 10); err != nil {
		return false, fmt.Sprintf("warm-up failed: %v", err)
	}
	return true, fmt.Sprintf("warm-up succeeded - %s ready", p.model)
}

// GenerateText sends prompt as a single user message.
func (p *OpenAIProvider) GenerateText(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return p.Chat(ctx, "", []Message{{Role: "user", Content: prompt}}, maxTokens)
}

// Chat sends the system prompt followed by the conversation.
func (p *OpenAIProvider) Chat(ctx context.Context, systemPrompt string, messages []Message, maxTokens int) (string, error) {
	if !p.IsConfigured() {
		return "", ErrNotConfigured
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	return p.complete(ctx, withSystem(systemPrompt, messages), maxTokens)
}

func (p *OpenAIProvider) complete(ctx context.Context, messages []Message, maxTokens int) (string, error) {
	req := openAIChatRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: p.temperature,
		MaxTokens:   maxTokens,
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+p.apiKey)

	var resp openAIChatResponse
	if err := doJSON(ctx, p.client, p.Name(), http.MethodPost, p.endpoint, header, req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai response had no choices")
	}

	p.logger.Debug("OpenAI completion",
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.String("finish_reason", resp.Choices[0].FinishReason),
	)
	return resp.Choices[0].Message.Content, nil
}
