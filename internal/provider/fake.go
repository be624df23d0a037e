package provider

import (
	"context"
	"sync"
)

// Fake is an in-memory Provider for tests and dry runs. It records every
// call so tests can assert what crossed the backend boundary.
type Fake struct {
	ProviderName string
	ModelName    string
	Local        bool
	Configured   bool

	ConnectOK bool
	WarmupOK  bool
	Response  string
	Err       error
	Models    []string

	// Respond, when set, computes the reply from the request.
	Respond func(systemPrompt string, messages []Message) string
	// BeforeCall runs at the start of GenerateText and Chat.
	BeforeCall func(ctx context.Context)

	mu           sync.Mutex
	checkCalls   int
	warmupCalls  int
	genCalls     int
	chatCalls    int
	lastSystem   string
	lastMessages []Message
	lastPrompt   string
}

// NewFake returns a healthy fake that answers with response.
func NewFake(name, model string, local bool, response string) *Fake {
	return &Fake{
		ProviderName: name,
		ModelName:    model,
		Local:        local,
		Configured:   true,
		ConnectOK:    true,
		WarmupOK:     true,
		Response:     response,
	}
}

func (f *Fake) Name() string { return f.ProviderName }
func (f *Fake) Model() string { return f.ModelName }
func (f *Fake) IsLocal() bool { return f.Local }
func (f *Fake) IsConfigured() bool { return f.Configured }
func (f *Fake) Descriptor() Descriptor { return describe(f) }

func (f *Fake) CheckConnection(ctx context.Context) (bool, string) {
	f.mu.Lock()
	f.checkCalls++
	f.mu.Unlock()
	if !f.ConnectOK {
		return false, f.ProviderName + " unreachable"
	}
	return true, f.ProviderName + " connected"
}

func (f *Fake) Warmup(ctx context.Context) (bool, string) {
	f.mu.Lock()
	f.warmupCalls++
	f.mu.Unlock()
	if !f.WarmupOK {
		return false, "warm-up failed"
	}
	return true, "ready"
}

func (f *Fake) GenerateText(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if f.BeforeCall != nil {
		f.BeforeCall(ctx)
	}
	f.mu.Lock()
	f.genCalls++
	f.lastPrompt = prompt
	f.mu.Unlock()
	return f.reply("", []Message{{Role: "user", Content: prompt}})
}

func (f *Fake) Chat(ctx context.Context, systemPrompt string, messages []Message, maxTokens int) (string, error) {
	if f.BeforeCall != nil {
		f.BeforeCall(ctx)
	}
	f.mu.Lock()
	f.chatCalls++
	f.lastSystem = systemPrompt
	f.lastMessages = append([]Message(nil), messages...)
	f.mu.Unlock()
	return f.reply(systemPrompt, messages)
}

func (f *Fake) reply(systemPrompt string, messages []Message) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	if f.Respond != nil {
		return f.Respond(systemPrompt, messages), nil
	}
	return f.Response, nil
}

// ListModels returns Models.
func (f *Fake) ListModels(ctx context.Context) ([]string, error) {
	return append([]string(nil), f.Models...), nil
}

// Calls returns the number of GenerateText and Chat calls.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.genCalls + f.chatCalls
}

// ProbeCalls returns the number of CheckConnection and Warmup calls.
func (f *Fake) ProbeCalls() (checks, warmups int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checkCalls, f.warmupCalls
}

// LastRequest returns what the most recent call sent.
func (f *Fake) LastRequest() (systemPrompt string, messages []Message, prompt string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSystem, append([]Message(nil), f.lastMessages...), f.lastPrompt
}
