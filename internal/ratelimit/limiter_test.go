package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/testematch/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDisabledLimiterAllowsEverything(t *testing.T) {
	limiter, err := NewLimiter(nil, config.Config{}, zap.NewNop())
	require.NoError(t, err)
	require.Nil(t, limiter)
	assert.False(t, limiter.Enabled())

	res, err := limiter.AllowAPI(context.Background(), "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	token, ok, err := limiter.TryLockDelivery(context.Background(), "appmax", "tx1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, token)
	assert.NoError(t, limiter.ReleaseDelivery(context.Background(), "appmax", "tx1", token))
}

func TestNewLimiterValidatesRates(t *testing.T) {
	cfg := config.Config{RateLimit: config.RateLimitConfig{
		Enabled:      true,
		RedisAddr:    "localhost:6379",
		APIRate:      0,
		APIBurst:     10,
		WebhookRate:  1,
		WebhookBurst: 1,
	}}
	_, err := NewLimiter(nil, cfg, zap.NewNop())
	assert.Error(t, err)

	cfg.RateLimit.RedisAddr = " "
	cfg.RateLimit.APIRate = 1
	_, err = NewLimiter(nil, cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestBuildResult(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)

	allowed := buildResult(true, 4.5, now.UnixMilli(), 2, 10)
	assert.True(t, allowed.Allowed)
	assert.Equal(t, 4, allowed.Remaining)
	assert.Equal(t, 10, allowed.Limit)
	assert.Zero(t, allowed.RetryAfter)

	denied := buildResult(false, 0.5, now.UnixMilli(), 2, 10)
	assert.False(t, denied.Allowed)
	assert.Equal(t, 250*time.Millisecond, denied.RetryAfter)
	assert.Equal(t, now.Add(250*time.Millisecond), denied.ResetTime)
}

func TestDefaultBucketTTL(t *testing.T) {
	assert.Equal(t, 20*time.Second, defaultBucketTTL(10, 100))
	assert.Equal(t, time.Second, defaultBucketTTL(1000, 1))
	assert.Equal(t, time.Second, defaultBucketTTL(0, 10))
}

func TestCastHelpers(t *testing.T) {
	assert.Equal(t, int64(3), castToInt(int64(3)))
	assert.Equal(t, int64(7), castToInt("7"))
	assert.Equal(t, 2.25, castToFloat("2.25"))
	assert.Equal(t, float64(5), castToFloat(int64(5)))
	assert.Zero(t, castToFloat(nil))
}

func TestDeliveryLockWithoutClient(t *testing.T) {
	var lock *deliveryLock
	assert.Nil(t, newDeliveryLock(nil, time.Second))

	_, ok, err := lock.acquire(context.Background(), "appmax", "tx1")
	assert.ErrorIs(t, err, ErrLockNotConfigured)
	assert.False(t, ok)
	assert.NoError(t, lock.releaseHeld(context.Background(), "appmax", "tx1", "holder"))
}

func TestDeliveryKey(t *testing.T) {
	assert.Equal(t, "ratelimit:webhook:lock:appmax:tx-9", deliveryKey(" appmax", "tx-9 "))
}
