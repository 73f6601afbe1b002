package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepgram/chatrelay/internal/config"
	"github.com/deepgram/chatrelay/pkg/ratelimit"
)

func testConfig() *config.Config {
	return &config.Config{
		Upstream: config.UpstreamConfig{
			URL:            "https://upstream.example.com/api/query/conversational",
			Token:          "token",
			ReadTimeout:    time.Second,
			ConnectTimeout: time.Second,
		},
	}
}

func TestInitializeServices(t *testing.T) {
	svcs, err := InitializeServices(testConfig())
	require.NoError(t, err)
	defer svcs.Close()

	assert.NotNil(t, svcs.GetRelayService())
	assert.NotNil(t, svcs.GetConnectionManager())
	assert.Nil(t, svcs.GetChatLimiter())
	assert.Equal(t, "token", svcs.GetConfig().Upstream.Token)
}

func TestInitializeServicesWithMemoryLimiter(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{Enabled: true, MaxHits: 5, Window: time.Minute}

	svcs, err := InitializeServices(cfg)
	require.NoError(t, err)

	limiter, ok := svcs.GetChatLimiter().(*ratelimit.MemoryLimiter)
	require.True(t, ok)
	assert.NoError(t, svcs.Close())
	assert.NoError(t, limiter.Close(), "limiter already stopped by Close")
}

func TestInitializeServicesRequiresConfig(t *testing.T) {
	_, err := InitializeServices(nil)
	assert.Error(t, err)
}
