package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryConfig_Defaults(t *testing.T) {
	t.Parallel()
	rc := RetryConfig{}.withDefaults()
	assert.Equal(t, 10*time.Second, rc.ConnectTimeout)
	assert.Equal(t, 3, rc.Attempts)
	assert.Equal(t, 2*time.Second, rc.Interval)

	custom := RetryConfig{ConnectTimeout: time.Second, Attempts: 5, Interval: time.Millisecond}.withDefaults()
	assert.Equal(t, 5, custom.Attempts)
	assert.Equal(t, time.Millisecond, custom.Interval)
}

func TestConnectRedis_InvalidURL(t *testing.T) {
	t.Parallel()
	_, err := ConnectRedis(context.Background(), "not-a-redis-url", RetryConfig{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFailedToParseRedisConnString)
}

func TestConnectRedis_Unreachable(t *testing.T) {
	t.Parallel()
	rc := RetryConfig{ConnectTimeout: 50 * time.Millisecond, Attempts: 2, Interval: time.Millisecond}
	_, err := ConnectRedis(context.Background(), "redis://127.0.0.1:1/0", rc)
	assert.ErrorIs(t, err, ErrRedisNotReady)
}

func TestSleep_Cancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, sleep(ctx, time.Hour))
	assert.True(t, sleep(context.Background(), time.Millisecond))
}
