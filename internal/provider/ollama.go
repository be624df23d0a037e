package provider

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/raaihank/medgateway/internal/logger"
	"go.uber.org/zap"
)

const warmupPrompt = "Bonjour"

// OllamaOptions configures an Ollama backend
type OllamaOptions struct {
	BaseURL       string
	Model         string
	Temperature   float64
	Timeout       time.Duration
	ProbeTimeout  time.Duration
	WarmupTimeout time.Duration
}

// OllamaProvider talks to a self-hosted Ollama server
type OllamaProvider struct {
	baseURL       string
	model         string
	temperature   float64
	timeout       time.Duration
	probeTimeout  time.Duration
	warmupTimeout time.Duration
	client        *http.Client
	logger        *logger.Logger
}

// NewOllama creates an Ollama backend
func NewOllama(opts OllamaOptions, log *logger.Logger) *OllamaProvider {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	return &OllamaProvider{
		baseURL:       baseURL,
		model:         opts.Model,
		temperature:   opts.Temperature,
		timeout:       orDefault(opts.Timeout, 3*time.Minute),
		probeTimeout:  orDefault(opts.ProbeTimeout, 5*time.Second),
		warmupTimeout: orDefault(opts.WarmupTimeout, 30*time.Second),
		client:        &http.Client{},
		logger:        log.WithComponent("provider").WithProvider(string(Ollama), opts.Model),
	}
}

func (p *OllamaProvider) Name() string { return string(Ollama) }
func (p *OllamaProvider) Model() string { return p.model }
func (p *OllamaProvider) IsLocal() bool { return true }
func (p *OllamaProvider) IsConfigured() bool { return p.model != "" }
func (p *OllamaProvider) Descriptor() Descriptor { return describe(p) }

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []Message     `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  ollamaOptions `json:"options"`
}

type ollamaChatResponse struct {
	Message Message `json:"message"`
	Done    bool    `json:"done"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListModels returns the installed model names, sorted.
func (p *OllamaProvider) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.probeTimeout)
	defer cancel()

	var tags ollamaTagsResponse
	if err := doJSON(ctx, p.client, p.Name(), http.MethodGet, p.baseURL+"/api/tags", nil, nil, &tags); err != nil {
		return nil, err
	}

	models := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		if m.Name != "" {
			models = append(models, m.Name)
		}
	}
	sort.Strings(models)
	return models, nil
}

// CheckConnection probes /api/tags within the probe timeout.
func (p *OllamaProvider) CheckConnection(ctx context.Context) (bool, string) {
	models, err := p.ListModels(ctx)
	if err != nil {
		p.logger.Debug("Ollama probe failed", zap.Error(err))
		return false, fmt.Sprintf("Ollama not reachable at %s: %v", p.baseURL, err)
	}

	for _, m := range models {
		if m == p.model {
			return true, fmt.Sprintf("Ollama connected - %d model(s) available", len(models))
		}
	}
	return true, fmt.Sprintf("Ollama connected - %d model(s) available, %s not installed yet", len(models), p.model)
}

// Warmup loads the model into memory with a tiny prompt.
func (p *OllamaProvider) Warmup(ctx context.Context) (bool, string) {
	ctx, cancel := context.WithTimeout(ctx, p.warmupTimeout)
	defer cancel()

	if _, err := p.generate(ctx, warmupPrompt, 10); err != nil {
		return false, fmt.Sprintf("warm-up failed: %v", err)
	}
	return true, fmt.Sprintf("warm-up succeeded - %s ready", p.model)
}

// GenerateText runs a single completion. A non-positive maxTokens leaves
// the length to the model.
func (p *OllamaProvider) GenerateText(ctx context.Context, prompt string, maxTokens int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	return p.generate(ctx, prompt, maxTokens)
}

func (p *OllamaProvider) generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	req := ollamaGenerateRequest{
		Model:   p.model,
		Prompt:  prompt,
		Options: p.options(maxTokens),
	}

	var resp ollamaGenerateResponse
	if err := doJSON(ctx, p.client, p.Name(), http.MethodPost, p.baseURL+"/api/generate", nil, req, &resp); err != nil {
		return "", err
	}
	return resp.Response, nil
}

// Chat sends the system prompt followed by the conversation.
func (p *OllamaProvider) Chat(ctx context.Context, systemPrompt string, messages []Message, maxTokens int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req := ollamaChatRequest{
		Model:    p.model,
		Messages: withSystem(systemPrompt, messages),
		Options:  p.options(maxTokens),
	}

	var resp ollamaChatResponse
	if err := doJSON(ctx, p.client, p.Name(), http.MethodPost, p.baseURL+"/api/chat", nil, req, &resp); err != nil {
		return "", err
	}

	p.logger.Debug("Ollama chat completed",
		zap.Int("messages", len(req.Messages)),
		zap.Int("response_length", len(resp.Message.Content)),
	)
	return resp.Message.Content, nil
}

func (p *OllamaProvider) options(maxTokens int) ollamaOptions {
	opts := ollamaOptions{Temperature: p.temperature}
	if maxTokens > 0 {
		opts.NumPredict = maxTokens
	}
	return opts
}

func withSystem(systemPrompt string, messages []Message) []Message {
	out := make([]Message, 0, len(messages)+1)
	if strings.TrimSpace(systemPrompt) != "" {
		out = append(out, Message{Role: "system", Content: systemPrompt})
	}
	return append(out, messages...)
}
