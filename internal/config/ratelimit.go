package config

import (
	"time"
)

type RateLimitConfig struct {
	Enabled bool
	MaxHits int
	Window  time.Duration
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled: parseEnvBool("RATELIMIT_ENABLED", false),
		MaxHits: parseEnvInt("RATELIMIT_CHAT", 60), // 60 requests per minute per client
		Window:  time.Minute,
	}
}
