package credentials

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/raaihank/medgateway/internal/logger"
	"go.uber.org/zap"
)

// Source tells where a credential was found
type Source string

const (
	SourceStore       Source = "secure_store"
	SourceEnvironment Source = "environment"
)

// EnvVars maps provider names to the documented environment fallback.
var EnvVars = map[string]string{
	"openai": "OPENAI_API_KEY",
}

// Resolution is a resolved credential
type Resolution struct {
	Secret string
	Source Source
}

// Migration is emitted when a credential was found only in the environment
// and should be moved into the secure store.
type Migration struct {
	Provider string `json:"provider"`
	EnvVar   string `json:"env_var"`
}

// Resolver looks up the credential for a provider
type Resolver interface {
	Resolve(provider string) (Resolution, error)
}

// Chain checks the secure store first and the environment second.
type Chain struct {
	store       Store
	lookupEnv   func(string) (string, bool)
	onMigration func(Migration)
	logger      *logger.Logger

	mu       sync.Mutex
	notified map[string]bool
}

// ChainOption customizes a Chain
type ChainOption func(*Chain)

// WithEnvLookup replaces os.LookupEnv
func WithEnvLookup(fn func(string) (string, bool)) ChainOption {
	return func(c *Chain) { c.lookupEnv = fn }
}

// WithMigrationHandler registers the callback fired at most once per
// provider when a credential comes from the environment only.
func WithMigrationHandler(fn func(Migration)) ChainOption {
	return func(c *Chain) { c.onMigration = fn }
}

// NewChain creates a resolver over store. A nil store skips straight to
// the environment.
func NewChain(store Store, log *logger.Logger, opts ...ChainOption) *Chain {
	c := &Chain{
		store:     store,
		lookupEnv: os.LookupEnv,
		logger:    log.WithComponent("credentials"),
		notified:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve returns the credential for provider. The environment variable
// is never modified.
func (c *Chain) Resolve(provider string) (Resolution, error) {
	if c.store != nil {
		secret, err := c.store.Get(provider)
		switch {
		case err == nil:
			return Resolution{Secret: secret, Source: SourceStore}, nil
		case !errors.Is(err, ErrNotFound):
			c.logger.Warn("Secure store lookup failed, trying environment",
				zap.String("provider", provider), zap.Error(err))
		}
	}

	envVar, ok := EnvVars[provider]
	if !ok {
		return Resolution{}, fmt.Errorf("%w for %s", ErrNotFound, provider)
	}
	secret, ok := c.lookupEnv(envVar)
	secret = strings.TrimSpace(secret)
	if !ok || secret == "" {
		return Resolution{}, fmt.Errorf("%w for %s (secure store and %s are empty)", ErrNotFound, provider, envVar)
	}

	c.notifyMigration(Migration{Provider: provider, EnvVar: envVar})
	return Resolution{Secret: secret, Source: SourceEnvironment}, nil
}

func (c *Chain) notifyMigration(m Migration) {
	c.mu.Lock()
	already := c.notified[m.Provider]
	c.notified[m.Provider] = true
	c.mu.Unlock()
	if already {
		return
	}

	c.logger.Warn("Credential loaded from environment; import it into the secure store",
		zap.String("provider", m.Provider),
		zap.String("env_var", m.EnvVar),
	)
	if c.onMigration != nil {
		c.onMigration(m)
	}
}

// Import copies the environment credential for provider into the store.
// It returns false when nothing was found in the environment.
func (c *Chain) Import(provider string) (bool, error) {
	if c.store == nil {
		return false, errors.New("no secure store configured")
	}
	envVar, ok := EnvVars[provider]
	if !ok {
		return false, fmt.Errorf("no environment fallback for %s", provider)
	}
	secret, ok := c.lookupEnv(envVar)
	secret = strings.TrimSpace(secret)
	if !ok || secret == "" {
		return false, nil
	}
	if err := c.store.Set(provider, secret); err != nil {
		return false, fmt.Errorf("store credential: %w", err)
	}
	return true, nil
}
