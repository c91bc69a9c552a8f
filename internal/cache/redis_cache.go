package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"loja/backend/internal/domain"
)

const cartKeyPrefix = "loja:cart:"

type RedisCartStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCartStore(addr string, password string, db int, ttl time.Duration) *RedisCartStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisCartStore{client: client, ttl: ttl}
}

func (c *RedisCartStore) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCartStore) Close() error {
	return c.client.Close()
}

func (c *RedisCartStore) Load(ctx context.Context, sessionID string) ([]domain.CartEntry, error) {
	val, err := c.client.Get(ctx, cartKeyPrefix+sessionID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []domain.CartEntry
	if err := json.Unmarshal([]byte(val), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *RedisCartStore) Save(ctx context.Context, sessionID string, entries []domain.CartEntry) error {
	if len(entries) == 0 {
		return c.Delete(ctx, sessionID)
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cartKeyPrefix+sessionID, payload, c.ttl).Err()
}

func (c *RedisCartStore) Delete(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, cartKeyPrefix+sessionID).Err()
}

func (c *RedisCartStore) DeleteAll(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, cartKeyPrefix+"*", 200).Iterator()
	keys := make([]string, 0, 200)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == cap(keys) {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
