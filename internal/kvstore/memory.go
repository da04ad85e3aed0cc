package kvstore

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultMemoryCapacity = 10000

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore 进程内存储，未启用 Redis 时使用；容量满时按 LRU 淘汰
type MemoryStore struct {
	cache *lru.Cache[string, memoryEntry]
	now   func() time.Time
	mu    sync.Mutex
}

func NewMemoryStore(capacity int) (*MemoryStore, error) {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	cache, err := lru.New[string, memoryEntry](capacity)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{cache: cache, now: time.Now}, nil
}

func (s *MemoryStore) get(key string) ([]byte, bool) {
	entry, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		s.cache.Remove(key)
		return nil, false
	}
	return entry.value, true
}

func (s *MemoryStore) set(key string, value []byte, ttl time.Duration) {
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.cache.Add(key, entry)
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.get(key)
	if !ok {
		return nil, ErrNotFound
	}
	return value, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.set(key, value, ttl)
	return nil
}

func (s *MemoryStore) MGet(ctx context.Context, keys []string) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([][]byte, len(keys))
	for i, key := range keys {
		if value, ok := s.get(key); ok {
			result[i] = value
		}
	}
	return result, nil
}

func (s *MemoryStore) SetMany(ctx context.Context, entries []Entry, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		s.set(e.Key, e.Value, ttl)
	}
	return nil
}

func (s *MemoryStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	re, err := globToRegexp(pattern)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, key := range s.cache.Keys() {
		if !re.MatchString(key) {
			continue
		}
		if _, ok := s.get(key); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *MemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		s.cache.Remove(key)
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.cache.Purge()
	return nil
}

// globToRegexp 支持 Redis KEYS 的 '*' 与 '?' 通配符
func globToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
