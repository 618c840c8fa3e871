package quota

import (
	"bufio"
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// UsageProvider reports the bytes the persistent store currently holds.
type UsageProvider interface {
	Usage(ctx context.Context) (int64, error)
}

// RedisUsage reads used_memory from redis INFO. This measures the whole
// instance, which matches a deployment where the instance is dedicated
// to the cache.
type RedisUsage struct {
	client *redis.Client
}

// NewRedisUsage creates a redis-backed usage provider.
func NewRedisUsage(client *redis.Client) *RedisUsage {
	return &RedisUsage{client: client}
}

// Usage returns the instance's used_memory in bytes.
func (r *RedisUsage) Usage(ctx context.Context) (int64, error) {
	info, err := r.client.Info(ctx, "memory").Result()
	if err != nil {
		return 0, err
	}

	scanner := bufio.NewScanner(strings.NewReader(info))
	for scanner.Scan() {
		line := scanner.Text()
		if value, ok := strings.CutPrefix(line, "used_memory:"); ok {
			return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		}
	}
	return 0, nil
}

// StaticUsage is a fixed usage source for tests.
type StaticUsage struct {
	mu    sync.Mutex
	bytes int64
}

// NewStaticUsage creates a static provider reporting the given bytes.
func NewStaticUsage(bytes int64) *StaticUsage {
	return &StaticUsage{bytes: bytes}
}

// Set updates the reported usage.
func (s *StaticUsage) Set(bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bytes = bytes
}

// Usage returns the configured usage.
func (s *StaticUsage) Usage(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes, nil
}
