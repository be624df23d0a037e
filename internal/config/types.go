package config

import "time"

// Config represents the main configuration structure
type Config struct {
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Logging       LoggingConfig       `yaml:"logging" mapstructure:"logging"`
	Providers     ProvidersConfig     `yaml:"providers" mapstructure:"providers"`
	Anonymization AnonymizationConfig `yaml:"anonymization" mapstructure:"anonymization"`
	Extraction    ExtractionConfig    `yaml:"extraction" mapstructure:"extraction"`
	Credentials   CredentialsConfig   `yaml:"credentials" mapstructure:"credentials"`
	Settings      SettingsConfig      `yaml:"settings" mapstructure:"settings"`
	Audit         AuditConfig         `yaml:"audit" mapstructure:"audit"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" mapstructure:"rate_limit"`
	WebSocket     WebSocketConfig     `yaml:"websocket" mapstructure:"websocket"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
		Path    string `yaml:"path" mapstructure:"path"`
	} `yaml:"file" mapstructure:"file"`
}

// ProvidersConfig selects and tunes the language model backends.
type ProvidersConfig struct {
	// Order is the candidate list walked by Initialize.
	Order         []string      `yaml:"order" mapstructure:"order"`
	Active        string        `yaml:"active" mapstructure:"active"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout" mapstructure:"probe_timeout"`
	WarmupTimeout time.Duration `yaml:"warmup_timeout" mapstructure:"warmup_timeout"`
	Ollama        OllamaConfig  `yaml:"ollama" mapstructure:"ollama"`
	OpenAI        OpenAIConfig  `yaml:"openai" mapstructure:"openai"`
}

// OllamaConfig contains local backend settings
type OllamaConfig struct {
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	Model       string        `yaml:"model" mapstructure:"model"`
	Temperature float64       `yaml:"temperature" mapstructure:"temperature"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// OpenAIConfig contains cloud backend settings. The endpoint is fixed and
// is not read from configuration.
type OpenAIConfig struct {
	Model       string        `yaml:"model" mapstructure:"model"`
	Temperature float64       `yaml:"temperature" mapstructure:"temperature"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// AnonymizationConfig tunes the substitution engine
type AnonymizationConfig struct {
	MinEntityLength int      `yaml:"min_entity_length" mapstructure:"min_entity_length"`
	Exclusions      []string `yaml:"exclusions" mapstructure:"exclusions"`
	Detectors       []string `yaml:"detectors" mapstructure:"detectors"`
	PseudonymSeed   int64    `yaml:"pseudonym_seed" mapstructure:"pseudonym_seed"`
}

// ExtractionConfig tunes the local entity extractor
type ExtractionConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxTokens int           `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// CredentialsConfig locates the secure credential store
type CredentialsConfig struct {
	StorePath string `yaml:"store_path" mapstructure:"store_path"`
}

// SettingsConfig selects where the active provider selection is persisted
type SettingsConfig struct {
	Backend string      `yaml:"backend" mapstructure:"backend"` // memory or redis
	Redis   RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host      string `yaml:"host" mapstructure:"host"`
	Port      int    `yaml:"port" mapstructure:"port"`
	Password  string `yaml:"password" mapstructure:"password"`
	Database  int    `yaml:"database" mapstructure:"database"`
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// AuditConfig contains request audit settings
type AuditConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// RateLimitConfig contains per-client request limits for the HTTP API
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	Burst             int  `yaml:"burst" mapstructure:"burst"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	Path            string        `yaml:"path" mapstructure:"path"`
	MaxConnections  int           `yaml:"max_connections" mapstructure:"max_connections"`
	ReadBufferSize  int           `yaml:"read_buffer_size" mapstructure:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size" mapstructure:"write_buffer_size"`
	PingInterval    time.Duration `yaml:"ping_interval" mapstructure:"ping_interval"`
	PongTimeout     time.Duration `yaml:"pong_timeout" mapstructure:"pong_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	MaxMessageSize  int64         `yaml:"max_message_size" mapstructure:"max_message_size"`
	AllowedOrigins  []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	Events          struct {
		BroadcastStatus      bool `yaml:"broadcast_status" mapstructure:"broadcast_status"`
		BroadcastRequests    bool `yaml:"broadcast_requests" mapstructure:"broadcast_requests"`
		BroadcastCredentials bool `yaml:"broadcast_credentials" mapstructure:"broadcast_credentials"`
	} `yaml:"events" mapstructure:"events"`
}

// DefaultExclusions are clinical terms that extracted entities must never
// be replaced with placeholders for.
var DefaultExclusions = []string{
	"patient", "patiente", "docteur", "médecin", "enfant", "parent", "parents",
	"mère", "père", "école", "collège", "lycée", "hôpital", "clinique",
	"TDAH", "TSA", "TOC", "DYS", "CMP", "CMPP", "CAMSP", "MDPH", "PAI", "PPS",
	"AESH", "ULIS", "SESSAD", "IME", "psychiatre", "pédopsychiatre",
	"psychologue", "orthophoniste", "psychomotricien", "ergothérapeute",
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8088,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 4 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Providers: ProvidersConfig{
			Order:         []string{"ollama", "openai"},
			Active:        "ollama",
			ProbeTimeout:  5 * time.Second,
			WarmupTimeout: 30 * time.Second,
			Ollama: OllamaConfig{
				BaseURL:     "http://localhost:11434",
				Model:       "llama3.2:latest",
				Temperature: 0.3,
				Timeout:     3 * time.Minute,
			},
			OpenAI: OpenAIConfig{
				Model:       "gpt-4o-mini",
				Temperature: 0.3,
				Timeout:     60 * time.Second,
			},
		},
		Anonymization: AnonymizationConfig{
			MinEntityLength: 3,
			Exclusions:      append([]string(nil), DefaultExclusions...),
			Detectors:       []string{"all"},
		},
		Extraction: ExtractionConfig{
			Enabled:   true,
			Timeout:   60 * time.Second,
			MaxTokens: 512,
		},
		Credentials: CredentialsConfig{
			StorePath: "medgateway-credentials.db",
		},
		Settings: SettingsConfig{
			Backend: "memory",
			Redis: RedisConfig{
				Host:      "localhost",
				Port:      6379,
				KeyPrefix: "medgateway",
			},
		},
		Audit: AuditConfig{
			Enabled:         false,
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 60,
			Burst:             10,
		},
		WebSocket: WebSocketConfig{
			Enabled:         true,
			Path:            "/ws",
			MaxConnections:  20,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingInterval:    54 * time.Second,
			PongTimeout:     60 * time.Second,
			WriteTimeout:    10 * time.Second,
			MaxMessageSize:  512,
			AllowedOrigins:  []string{"http://localhost", "http://127.0.0.1"},
		},
	}
	cfg.WebSocket.Events.BroadcastStatus = true
	cfg.WebSocket.Events.BroadcastRequests = true
	cfg.WebSocket.Events.BroadcastCredentials = true
	return cfg
}
