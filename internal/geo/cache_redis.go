package geo

import (
	"context"
	"encoding/json"
	"log"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisCache shares oracle legs between API replicas.
type RedisCache struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb, prefix: "dist:"}
}

func (c *RedisCache) Get(ctx context.Context, key string) (Leg, bool) {
	data, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("distance cache get key=%s err=%v", key, err)
		}
		return Leg{}, false
	}
	var leg Leg
	if err := json.Unmarshal(data, &leg); err != nil {
		return Leg{}, false
	}
	return leg, true
}

func (c *RedisCache) Set(ctx context.Context, key string, leg Leg, ttl time.Duration) {
	data, err := json.Marshal(leg)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, c.prefix+key, data, ttl).Err(); err != nil {
		log.Printf("distance cache set key=%s err=%v", key, err)
	}
}
