package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

type sentValue struct {
	AttemptNumber int       `json:"attemptNumber"`
	SentAt        time.Time `json:"sentAt"`
}

func (c *RedisCache) StoreSent(ctx context.Context, messageID string, attemptNumber int, sentAt time.Time) error {
	key := fmt.Sprintf("sent:%s", messageID)
	b, err := json.Marshal(sentValue{
		AttemptNumber: attemptNumber,
		SentAt:        sentAt.UTC(),
	})
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, b, c.ttl).Err()
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
