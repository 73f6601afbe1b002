package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryLimiter(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	l := NewMemoryLimiter(time.Minute, 2)
	defer l.Close()
	l.now = func() time.Time { return clock }

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "1.2.3.4")
		assert.NoError(t, err)
		assert.True(t, ok, "hit %d", i)
	}

	ok, _ := l.Allow(ctx, "1.2.3.4")
	assert.False(t, ok, "third hit in window is rejected")

	ok, _ = l.Allow(ctx, "5.6.7.8")
	assert.True(t, ok, "keys are independent")

	clock = clock.Add(time.Minute + time.Second)
	ok, _ = l.Allow(ctx, "1.2.3.4")
	assert.True(t, ok, "budget refills over the window")
}

func TestMemoryLimiterEvictsIdleKeys(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	l := NewMemoryLimiter(time.Minute, 2)
	defer l.Close()
	l.now = func() time.Time { return clock }

	for i := 0; i < 10000; i++ {
		_, err := l.Allow(ctx, fmt.Sprintf("10.0.%d.%d", i/256, i%256))
		assert.NoError(t, err)
	}
	assert.Equal(t, 10000, l.Len())

	clock = clock.Add(30 * time.Second)
	_, _ = l.Allow(ctx, "192.168.0.1")
	assert.Equal(t, 0, l.sweep(), "nothing is idle for a full window yet")

	clock = clock.Add(time.Hour)
	_, _ = l.Allow(ctx, "172.16.0.1")
	assert.Equal(t, 10001, l.sweep())
	assert.Equal(t, 1, l.Len(), "only the key used since is kept")

	ok, _ := l.Allow(ctx, "172.16.0.1")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "172.16.0.1")
	assert.False(t, ok, "surviving key keeps its spent budget")
}

func TestMemoryLimiterCloseIsIdempotent(t *testing.T) {
	l := NewMemoryLimiter(time.Minute, 1)
	assert.NoError(t, l.Close())
	assert.NoError(t, l.Close())
}

type fakeCounter struct {
	counts map[string]int64
	err    error
}

func (f *fakeCounter) IncrWindow(_ context.Context, key string, _ time.Duration) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.counts[key]++
	return f.counts[key], nil
}

func TestSharedLimiter(t *testing.T) {
	ctx := context.Background()
	counter := &fakeCounter{counts: map[string]int64{}}
	l := NewSharedLimiter(counter, "ratelimit:chat:", time.Minute, 2)

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "client")
		assert.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, "client")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(3), counter.counts["ratelimit:chat:client"])

	counter.err = errors.New("redis down")
	_, err = l.Allow(ctx, "client")
	assert.Error(t, err)
}
