package gateway

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/raaihank/medgateway/internal/config"
	"github.com/raaihank/medgateway/internal/credentials"
	"github.com/raaihank/medgateway/internal/logger"
	"github.com/raaihank/medgateway/internal/provider"
)

// NewBuilder returns a Builder backed by configuration. Cloud credentials
// are resolved on every build so a key imported at runtime is picked up by
// the next switch.
func NewBuilder(cfg config.ProvidersConfig, resolver credentials.Resolver, log *logger.Logger) Builder {
	return func(kind provider.Kind, model string) (provider.Provider, error) {
		var apiKey string
		if !kind.IsLocal() {
			res, err := resolver.Resolve(string(kind))
			if err != nil {
				if errors.Is(err, credentials.ErrNotFound) {
					return nil, fmt.Errorf("%w: %w", provider.ErrNotConfigured, err)
				}
				return nil, err
			}
			apiKey = res.Secret
			log.Debug("Credential resolved",
				zap.String("provider", string(kind)),
				zap.String("source", string(res.Source)),
			)
		}
		return provider.New(kind, model, cfg, apiKey, log)
	}
}
