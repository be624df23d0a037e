// Package provider defines the contract shared by language model backends
// and its Ollama and OpenAI implementations.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/raaihank/medgateway/internal/config"
	"github.com/raaihank/medgateway/internal/logger"
)

// Kind identifies a backend implementation
type Kind string

const (
	// Ollama is a self-hosted model reached over plain HTTP
	Ollama Kind = "ollama"

	// OpenAI is the cloud chat completions API
	OpenAI Kind = "openai"
)

// IsLocal reports whether text sent to this kind stays on the machine.
func (k Kind) IsLocal() bool { return k == Ollama }

// DefaultMaxTokens is used when a caller passes a non-positive budget to a
// backend that requires one.
const DefaultMaxTokens = 1500

// Message is one chat turn
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Descriptor summarizes a backend instance
type Descriptor struct {
	Name         string `json:"name"`
	Model        string `json:"model"`
	IsLocal      bool   `json:"is_local"`
	IsConfigured bool   `json:"is_configured"`
}

// Provider is the contract every backend implements. CheckConnection and
// Warmup never return errors; they report a human readable status instead.
type Provider interface {
	Name() string
	Model() string
	IsLocal() bool
	IsConfigured() bool
	Descriptor() Descriptor
	CheckConnection(ctx context.Context) (bool, string)
	Warmup(ctx context.Context) (bool, string)
	GenerateText(ctx context.Context, prompt string, maxTokens int) (string, error)
	Chat(ctx context.Context, systemPrompt string, messages []Message, maxTokens int) (string, error)
}

// ModelLister is implemented by backends that can enumerate installed models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

func describe(p Provider) Descriptor {
	return Descriptor{
		Name:         p.Name(),
		Model:        p.Model(),
		IsLocal:      p.IsLocal(),
		IsConfigured: p.IsConfigured(),
	}
}

// New creates a backend of the given kind. An empty model selects the
// configured default. apiKey is ignored by local backends.
func New(kind Kind, model string, cfg config.ProvidersConfig, apiKey string, log *logger.Logger) (Provider, error) {
	if err := ValidateKind(kind); err != nil {
		return nil, err
	}

	switch kind {
	case Ollama:
		if model == "" {
			model = cfg.Ollama.Model
		}
		return NewOllama(OllamaOptions{
			BaseURL:       cfg.Ollama.BaseURL,
			Model:         model,
			Temperature:   cfg.Ollama.Temperature,
			Timeout:       cfg.Ollama.Timeout,
			ProbeTimeout:  cfg.ProbeTimeout,
			WarmupTimeout: cfg.WarmupTimeout,
		}, log), nil
	default:
		if model == "" {
			model = cfg.OpenAI.Model
		}
		return NewOpenAI(OpenAIOptions{
			APIKey:        apiKey,
			Model:         model,
			Temperature:   cfg.OpenAI.Temperature,
			Timeout:       cfg.OpenAI.Timeout,
			ProbeTimeout:  cfg.ProbeTimeout,
			WarmupTimeout: cfg.WarmupTimeout,
		}, log), nil
	}
}

// ValidateKind rejects unknown backend names
func ValidateKind(kind Kind) error {
	switch kind {
	case Ollama, OpenAI:
		return nil
	default:
		return fmt.Errorf("unknown provider: %q (must be one of: ollama, openai)", kind)
	}
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
