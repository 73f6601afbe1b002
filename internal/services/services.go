package services

import (
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/deepgram/chatrelay/internal/config"
	"github.com/deepgram/chatrelay/internal/connections"
	"github.com/deepgram/chatrelay/internal/infrastructure/redis"
	"github.com/deepgram/chatrelay/internal/infrastructure/upstream"
	"github.com/deepgram/chatrelay/internal/services/relay"
	"github.com/deepgram/chatrelay/pkg/ratelimit"
)

type Services struct {
	config          *config.Config
	redisService    *redis.Service
	upstreamService *upstream.Service
	relayService    *relay.Service
	chatLimiter     ratelimit.Limiter
	connManager     *connections.Manager
}

// InitializeServices builds every service from a validated configuration
func InitializeServices(cfg *config.Config) (*Services, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}

	log.Info().Msg("Initializing core services")

	// Initialize Redis service (optional)
	redisService := redis.NewService(cfg.Redis)

	upstreamService := upstream.NewService(cfg.Upstream)
	log.Info().Str("upstream_url", cfg.Upstream.URL).Dur("read_timeout", cfg.Upstream.ReadTimeout).Msg("Initializing upstream service")

	relayService := relay.NewService(upstreamService, cfg.Upstream.ReadTimeout)
	log.Info().Msg("Initializing relay service")

	var chatLimiter ratelimit.Limiter
	switch {
	case !cfg.RateLimit.Enabled:
		log.Info().Msg("Rate limiting disabled")
	case redisService != nil:
		chatLimiter = ratelimit.NewSharedLimiter(redisService, "ratelimit:chat:", cfg.RateLimit.Window, cfg.RateLimit.MaxHits)
		log.Info().Int("max_hits", cfg.RateLimit.MaxHits).Msg("Rate limiting with Redis")
	default:
		chatLimiter = ratelimit.NewMemoryLimiter(cfg.RateLimit.Window, cfg.RateLimit.MaxHits)
		log.Info().Int("max_hits", cfg.RateLimit.MaxHits).Msg("Rate limiting in memory")
	}

	log.Info().Msg("All services initialized successfully")

	return &Services{
		config:          cfg,
		redisService:    redisService,
		upstreamService: upstreamService,
		relayService:    relayService,
		chatLimiter:     chatLimiter,
		connManager:     connections.NewManager(connections.DefaultTimeouts),
	}, nil
}

// GetConfig returns the configuration the services were built from
func (s *Services) GetConfig() *config.Config {
	return s.config
}

// GetRelayService returns the relay service
func (s *Services) GetRelayService() *relay.Service {
	return s.relayService
}

// GetChatLimiter returns the chat route limiter, nil when rate limiting is off
func (s *Services) GetChatLimiter() ratelimit.Limiter {
	return s.chatLimiter
}

// GetConnectionManager returns the manager tracking open chat WebSockets
func (s *Services) GetConnectionManager() *connections.Manager {
	return s.connManager
}

// Close releases connections and background work held by the services
func (s *Services) Close() error {
	var errs []error
	if closer, ok := s.chatLimiter.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}
	if s.redisService != nil {
		errs = append(errs, s.redisService.Close())
	}
	return errors.Join(errs...)
}
