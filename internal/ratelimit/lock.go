package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Only the holder's token may delete the key; a delivery that outlived its
// TTL must not drop a lock taken by the next one.
const deliveryReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var (
	ErrLockNotConfigured = errors.New("delivery lock not configured")
	ErrEmptyReference    = errors.New("delivery reference is empty")
)

// deliveryLock serialises webhook deliveries that carry the same provider
// transaction reference.
type deliveryLock struct {
	client  *redis.Client
	release *redis.Script
	ttl     time.Duration
}

func newDeliveryLock(client *redis.Client, ttl time.Duration) *deliveryLock {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &deliveryLock{
		client:  client,
		release: redis.NewScript(deliveryReleaseScript),
		ttl:     ttl,
	}
}

func deliveryKey(provider, ref string) string {
	return fmt.Sprintf(keyWebhookLock, strings.TrimSpace(provider), strings.TrimSpace(ref))
}

// acquire returns the holder token and whether the lock was taken. A held
// lock is reported as ok=false with no error.
func (d *deliveryLock) acquire(ctx context.Context, provider, ref string) (string, bool, error) {
	if d == nil || d.client == nil {
		return "", false, ErrLockNotConfigured
	}
	if strings.TrimSpace(ref) == "" {
		return "", false, ErrEmptyReference
	}

	holder := uuid.NewString()
	ok, err := d.client.SetNX(ctx, deliveryKey(provider, ref), holder, d.ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return holder, true, nil
}

func (d *deliveryLock) releaseHeld(ctx context.Context, provider, ref, holder string) error {
	if d == nil || d.client == nil || holder == "" || strings.TrimSpace(ref) == "" {
		return nil
	}
	return d.release.Run(ctx, d.client, []string{deliveryKey(provider, ref)}, holder).Err()
}
