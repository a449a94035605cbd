package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisDeduper struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

func NewRedisDeduper(rdb *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{rdb: rdb, ttl: ttl, now: time.Now}
}

type seenValue struct {
	SeenAt time.Time `json:"seenAt"`
}

func deliveryKey(messageID string) string {
	return fmt.Sprintf("inbound:%s", messageID)
}

func (c *RedisDeduper) FirstDelivery(ctx context.Context, messageID string) (bool, error) {
	if messageID == "" {
		return true, nil
	}

	b, err := json.Marshal(seenValue{SeenAt: c.now().UTC()})
	if err != nil {
		return false, err
	}

	return c.rdb.SetNX(ctx, deliveryKey(messageID), b, c.ttl).Result()
}

var (
	_ DeliveryDeduper = (*RedisDeduper)(nil)
	_ DeliveryDeduper = NoopDeduper{}
)
