package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

const (
	defaultListenAddr      = ":8080"
	defaultCollection      = "39"
	defaultUpstreamTimeout = 30 * time.Second
	defaultConnectTimeout  = 15 * time.Second
	defaultLogLevel        = "info"
	defaultLogFormat       = "console"
)

// UpstreamConfig describes the conversational query endpoint the relay forwards to
type UpstreamConfig struct {
	URL   string
	Token string

	// ReadTimeout is the longest the relay waits between two upstream chunks
	ReadTimeout time.Duration

	// ConnectTimeout bounds the wait for upstream response headers
	ConnectTimeout time.Duration
}

// Config is loaded once at startup and passed to every service that needs it
type Config struct {
	ListenAddr        string
	LogLevel          string
	LogFormat         string
	DefaultCollection string
	AllowedOrigins    []string

	Upstream  UpstreamConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
}

// Load reads the configuration from the environment and validates it
func Load() (*Config, error) {
	readTimeout, err := parseEnvDuration("UPSTREAM_TIMEOUT", defaultUpstreamTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid UPSTREAM_TIMEOUT: %w", err)
	}

	connectTimeout, err := parseEnvDuration("UPSTREAM_CONNECT_TIMEOUT", defaultConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid UPSTREAM_CONNECT_TIMEOUT: %w", err)
	}

	cfg := &Config{
		ListenAddr:        GetEnvOrDefault("LISTEN_ADDR", defaultListenAddr),
		LogLevel:          GetEnvOrDefault("LOG_LEVEL", defaultLogLevel),
		LogFormat:         GetEnvOrDefault("LOG_FORMAT", defaultLogFormat),
		DefaultCollection: GetEnvOrDefault("DEFAULT_COLLECTION", defaultCollection),
		AllowedOrigins:    splitList(GetEnvOrDefault("ALLOWED_ORIGINS", "")),
		Upstream: UpstreamConfig{
			URL:            GetEnvOrDefault("UPSTREAM_URL", ""),
			Token:          GetEnvOrDefault("UPSTREAM_TOKEN", ""),
			ReadTimeout:    readTimeout,
			ConnectTimeout: connectTimeout,
		},
		Redis:     loadRedisConfig(),
		RateLimit: loadRateLimitConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration can serve requests
func (c *Config) Validate() error {
	var errs []error

	if c.Upstream.URL == "" {
		errs = append(errs, errors.New("UPSTREAM_URL is required"))
	} else if u, err := url.Parse(c.Upstream.URL); err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("UPSTREAM_URL must be an absolute http(s) URL, got %q", c.Upstream.URL))
	}

	if c.Upstream.Token == "" {
		errs = append(errs, errors.New("UPSTREAM_TOKEN is required"))
	} else if err := CheckCredential(c.Upstream.Token, time.Now()); err != nil {
		errs = append(errs, err)
	}

	if c.Upstream.ReadTimeout <= 0 {
		errs = append(errs, errors.New("UPSTREAM_TIMEOUT must be positive"))
	}
	if c.Upstream.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("UPSTREAM_CONNECT_TIMEOUT must be positive"))
	}

	if c.RateLimit.Enabled && c.RateLimit.MaxHits <= 0 {
		errs = append(errs, errors.New("RATELIMIT_CHAT must be positive when rate limiting is enabled"))
	}

	return errors.Join(errs...)
}
