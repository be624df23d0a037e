package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

var knownProviders = map[string]bool{"ollama": true, "openai": true}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	return load(viper.GetViper(), configPath)
}

func load(v *viper.Viper, configPath string) (*Config, error) {
	config := GetDefaults()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/medgateway/")
	v.AddConfigPath("$HOME/.medgateway/")

	// Environment variable overrides
	v.SetEnvPrefix("MEDGATEWAY")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	if len(config.Providers.Order) == 0 {
		return fmt.Errorf("providers.order must list at least one provider")
	}
	seen := make(map[string]bool)
	for _, name := range config.Providers.Order {
		if !knownProviders[name] {
			return fmt.Errorf("unknown provider in providers.order: %s", name)
		}
		if seen[name] {
			return fmt.Errorf("duplicate provider in providers.order: %s", name)
		}
		seen[name] = true
	}
	if config.Providers.Active != "" && !seen[config.Providers.Active] {
		return fmt.Errorf("providers.active %q is not listed in providers.order", config.Providers.Active)
	}

	if config.Providers.ProbeTimeout <= 0 || config.Providers.WarmupTimeout <= 0 {
		return fmt.Errorf("provider probe and warmup timeouts must be positive")
	}
	if config.Providers.Ollama.Timeout <= 0 || config.Providers.OpenAI.Timeout <= 0 {
		return fmt.Errorf("provider generation timeouts must be positive")
	}

	if config.Anonymization.MinEntityLength < 1 {
		return fmt.Errorf("invalid anonymization.min_entity_length: %d", config.Anonymization.MinEntityLength)
	}

	if config.Settings.Backend != "memory" && config.Settings.Backend != "redis" {
		return fmt.Errorf("invalid settings backend: %s (must be memory or redis)", config.Settings.Backend)
	}

	if config.Audit.Enabled && config.Audit.DatabaseURL == "" {
		return fmt.Errorf("audit.database_url is required when audit is enabled")
	}

	if config.RateLimit.Enabled && config.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("invalid rate_limit.requests_per_minute: %d", config.RateLimit.RequestsPerMinute)
	}

	return nil
}

// Watch starts watching the configuration file for changes. Invalid
// revisions are reported through onError and otherwise ignored.
func Watch(callback func(*Config), onError func(error)) {
	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		newConfig := GetDefaults()
		if err := viper.Unmarshal(newConfig); err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}

		if err := validateConfig(newConfig); err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}

		callback(newConfig)
	})
}
