package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/deepgram/chatrelay/internal/config"
	"github.com/deepgram/chatrelay/pkg/logger"
)

type Service struct {
	client *redis.Client
	log    zerolog.Logger
}

// NewService connects to redis. It returns nil when redis is not configured
// or cannot be reached, and callers fall back to in-process state.
func NewService(cfg config.RedisConfig) *Service {
	l := logger.For(logger.REDIS)

	if !cfg.Enabled() {
		l.Info().Msg("Redis URL not configured - using in-memory state")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.URL,
		Password: cfg.Password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		l.Error().
			Err(err).
			Str("addr", cfg.URL).
			Msg("Failed to establish Redis connection")
		_ = client.Close()
		return nil
	}

	return NewServiceWithClient(client)
}

// NewServiceWithClient wraps an existing client
func NewServiceWithClient(client *redis.Client) *Service {
	return &Service{
		client: client,
		log:    logger.For(logger.REDIS),
	}
}

// incrWindowScript starts the expiry on the first increment only, so later
// hits never extend the window. EVAL is atomic on every Redis since 2.6.
var incrWindowScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// IncrWindow increments the counter at key and returns its new value. The
// first increment of a key starts its expiry, so the counter covers one
// fixed window.
func (s *Service) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := incrWindowScript.Run(ctx, s.client, []string{key}, window.Milliseconds()).Int64()
	if err != nil {
		s.log.Error().
			Err(err).
			Str("key", key).
			Dur("window", window).
			Msg("Redis window increment failed")
		return 0, err
	}

	return n, nil
}

// Ping checks if Redis is accessible
func (s *Service) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *Service) Close() error {
	return s.client.Close()
}
