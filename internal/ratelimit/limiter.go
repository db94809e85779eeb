package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/testematch/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	keyAPIClient       = "ratelimit:api:%s"
	keyWebhookProvider = "ratelimit:webhook:%s"
	keyWebhookLock     = "ratelimit:webhook:lock:%s:%s"
)

// Limiter guards the public API and webhook routes. A nil *Limiter allows
// everything.
type Limiter struct {
	client *redis.Client
	bucket *TokenBucket
	lock   *deliveryLock

	apiRate      float64
	apiBurst     int
	webhookRate  float64
	webhookBurst int
}

func NewLimiter(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*Limiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.APIRate <= 0 || limitCfg.APIBurst <= 0 {
		return nil, errors.New("api rate limit must be positive")
	}
	if limitCfg.WebhookRate <= 0 || limitCfg.WebhookBurst <= 0 {
		return nil, errors.New("webhook rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})
	if lc != nil {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := client.Ping(ctx).Err(); err != nil {
					log.Warn("rate limit redis unreachable", zap.String("addr", addr), zap.Error(err))
				}
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return client.Close()
			},
		})
	}

	return &Limiter{
		client:       client,
		bucket:       NewTokenBucket(client),
		lock:         newDeliveryLock(client, limitCfg.WebhookLockTTL),
		apiRate:      limitCfg.APIRate,
		apiBurst:     limitCfg.APIBurst,
		webhookRate:  limitCfg.WebhookRate,
		webhookBurst: limitCfg.WebhookBurst,
	}, nil
}

func (l *Limiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// AllowAPI meters one client, identified by account id or address.
func (l *Limiter) AllowAPI(ctx context.Context, client string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyAPIClient, strings.TrimSpace(client)), l.apiRate, l.apiBurst)
}

func (l *Limiter) AllowWebhook(ctx context.Context, provider string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyWebhookProvider, strings.TrimSpace(provider)), l.webhookRate, l.webhookBurst)
}

// TryLockDelivery keeps concurrent deliveries of one transaction from
// queueing on the same ledger row.
func (l *Limiter) TryLockDelivery(ctx context.Context, provider, ref string) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.lock.acquire(ctx, provider, ref)
}

func (l *Limiter) ReleaseDelivery(ctx context.Context, provider, ref, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.lock.releaseHeld(ctx, provider, ref, token)
}
