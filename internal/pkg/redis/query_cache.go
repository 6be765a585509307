package redis

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const scanBatch = 200

// QueryCache 以 JSON 形式缓存查询结果
type QueryCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewQueryCache(rdb *redis.Client, ttl time.Duration) *QueryCache {
	return &QueryCache{rdb: rdb, ttl: ttl}
}

// Get 读取缓存并反序列化到 dest，未命中返回 false
func (c *QueryCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		// 结构变化后的旧数据，删掉当作未命中
		_ = c.rdb.Del(ctx, key).Err()
		return false, nil
	}
	return true, nil
}

// Set 写入缓存
func (c *QueryCache) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, raw, c.ttl).Err()
}

// Delete 删除若干键
func (c *QueryCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// DeletePrefix 按前缀批量删除
func (c *QueryCache) DeletePrefix(ctx context.Context, prefix string) error {
	iter := c.rdb.Scan(ctx, 0, prefix+"*", scanBatch).Iterator()
	batch := make([]string, 0, scanBatch)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= scanBatch {
			if err := c.rdb.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	return c.Delete(ctx, batch...)
}
