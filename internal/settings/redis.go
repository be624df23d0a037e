package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/raaihank/medgateway/internal/config"
	"github.com/raaihank/medgateway/internal/logger"
)

// RedisStore keeps the selection in Redis so several gateway processes
// share the same active backend.
type RedisStore struct {
	client *redis.Client
	key    string
	logger *logger.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg config.RedisConfig, log *logger.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.Database,
	})

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "medgateway"
	}

	store := &RedisStore{
		client: client,
		key:    prefix + ":selection",
		logger: log.WithComponent("settings"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	store.logger.Info("Settings store connected to Redis",
		zap.String("addr", client.Options().Addr),
		zap.Int("db", cfg.Database),
	)

	return store, nil
}

func (s *RedisStore) Load(ctx context.Context) (Selection, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Selection{}, ErrNoSelection
	}
	if err != nil {
		return Selection{}, fmt.Errorf("load selection: %w", err)
	}

	var sel Selection
	if err := json.Unmarshal(data, &sel); err != nil {
		return Selection{}, fmt.Errorf("decode selection: %w", err)
	}
	return sel, nil
}

func (s *RedisStore) Save(ctx context.Context, sel Selection) error {
	if sel.UpdatedAt.IsZero() {
		sel.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(sel)
	if err != nil {
		return fmt.Errorf("encode selection: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("save selection: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

// New returns the store selected by configuration.
func New(cfg config.SettingsConfig, log *logger.Logger) (Store, error) {
	switch cfg.Backend {
	case "redis":
		return NewRedisStore(cfg.Redis, log)
	case "memory", "":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown settings backend: %s", cfg.Backend)
	}
}
