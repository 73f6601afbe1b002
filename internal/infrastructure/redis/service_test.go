package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepgram/chatrelay/internal/config"
)

func TestNewServiceWithoutURL(t *testing.T) {
	assert.Nil(t, NewService(config.RedisConfig{}))
}

func TestNewServiceUnreachable(t *testing.T) {
	// Port 1 is reserved and refuses connections
	assert.Nil(t, NewService(config.RedisConfig{URL: "127.0.0.1:1"}))
}

func TestNewServiceConnects(t *testing.T) {
	mr := miniredis.RunT(t)

	svc := NewService(config.RedisConfig{URL: mr.Addr()})
	require.NotNil(t, svc)
	defer svc.Close()

	assert.NoError(t, svc.Ping(context.Background()))
}

func TestIncrWindow(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	svc := NewServiceWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer svc.Close()

	const key = "ratelimit:chat:1.2.3.4"
	for want := int64(1); want <= 3; want++ {
		n, err := svc.IncrWindow(ctx, key, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	assert.Equal(t, time.Minute, mr.TTL(key))

	// Later hits do not push the window out
	mr.FastForward(40 * time.Second)
	n, err := svc.IncrWindow(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.Equal(t, 20*time.Second, mr.TTL(key))

	mr.FastForward(21 * time.Second)
	n, err = svc.IncrWindow(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "a new window starts once the old one expires")

	n, err = svc.IncrWindow(ctx, "ratelimit:chat:other", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestIncrWindowError(t *testing.T) {
	mr := miniredis.RunT(t)
	svc := NewServiceWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer svc.Close()

	mr.SetError("LOADING")
	_, err := svc.IncrWindow(context.Background(), "k", time.Minute)
	assert.Error(t, err)
}
