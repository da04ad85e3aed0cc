package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound key 不存在或已过期
var ErrNotFound = errors.New("key 不存在")

// Entry 批量写入的键值对
type Entry struct {
	Key   string
	Value []byte
}

// Store 带 TTL 的键值存储，用于任务状态、报告缓存和向量缓存
type Store interface {
	// Get 读取单个 key，不存在时返回 ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)
	// Set 写入单个 key，ttl 为 0 表示不过期
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// MGet 批量读取，结果与 keys 一一对应，未命中的位置为 nil
	MGet(ctx context.Context, keys []string) ([][]byte, error)
	// SetMany 批量写入，所有条目使用相同的 ttl
	SetMany(ctx context.Context, entries []Entry, ttl time.Duration) error
	// Keys 返回匹配 glob 模式的全部 key，复杂度 O(N)，只适合小规模数据
	Keys(ctx context.Context, pattern string) ([]string, error)
	// Del 删除 key，不存在的 key 被忽略
	Del(ctx context.Context, keys ...string) error
	Close() error
}
