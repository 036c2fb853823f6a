package blob

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const reservationPrefix = "certifier:upload:"

// DefaultReservationTTL outlives any single upload write.
const DefaultReservationTTL = 10 * time.Minute

// RedisReserver claims upload keys with SETNX so that concurrent service
// instances never hand out the same key.
type RedisReserver struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisReserver(client redis.Cmdable, ttl time.Duration) *RedisReserver {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	return &RedisReserver{client: client, ttl: ttl}
}

func (r *RedisReserver) Reserve(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, reservationPrefix+key, time.Now().UnixNano(), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reserve %s: %w", key, err)
	}
	return ok, nil
}
