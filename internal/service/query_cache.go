package service

import "context"

// QueryCache 会话列表与消息分页的查询缓存
type QueryCache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, keys ...string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// NopQueryCache 不做任何缓存
type NopQueryCache struct{}

func (NopQueryCache) Get(context.Context, string, any) (bool, error) { return false, nil }
func (NopQueryCache) Set(context.Context, string, any) error { return nil }
func (NopQueryCache) Delete(context.Context, ...string) error { return nil }
func (NopQueryCache) DeletePrefix(context.Context, string) error { return nil }
