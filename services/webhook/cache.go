package webhook

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

const processedTTL = 72 * time.Hour

// EventCache remembers event ids already processed. It only short-circuits
// redeliveries; correctness never depends on it.
type EventCache interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
}

type RedisEventCache struct {
	client *redis.Client
	prefix string
}

func NewRedisEventCache(client *redis.Client) *RedisEventCache {
	return &RedisEventCache{client: client, prefix: "webhook:event:"}
}

func (c *RedisEventCache) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := c.client.Exists(ctx, c.prefix+eventID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *RedisEventCache) MarkProcessed(ctx context.Context, eventID string) error {
	return c.client.SetNX(ctx, c.prefix+eventID, time.Now().Unix(), processedTTL).Err()
}

type noCache struct{}

func (noCache) Seen(context.Context, string) (bool, error)  { return false, nil }
func (noCache) MarkProcessed(context.Context, string) error { return nil }
