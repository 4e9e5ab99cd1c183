// Package session tracks which external sync session ids have already been
// flushed, so repeated deliveries of the same session are no-ops.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// SeenSet records sync session ids for a bounded window. MarkOnce reports
// true exactly once per id.
type SeenSet interface {
	MarkOnce(ctx context.Context, sessionID string) (bool, error)
	Seen(ctx context.Context, sessionID string) (bool, error)
	Close() error
}

// RedisSeenSet implements SeenSet on Redis so idempotency survives process
// restarts and is shared across instances.
type RedisSeenSet struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisSeenSet(redisURL string, ttl time.Duration) (*RedisSeenSet, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisSeenSetWithClient(client, ttl), nil
}

func NewRedisSeenSetWithClient(client *redis.Client, ttl time.Duration) *RedisSeenSet {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisSeenSet{
		client: client,
		prefix: "syncseen:",
		ttl:    ttl,
	}
}

func (s *RedisSeenSet) key(sessionID string) string {
	return s.prefix + sessionID
}

// MarkOnce claims the session id. SETNX makes the claim atomic across
// concurrent deliveries.
func (s *RedisSeenSet) MarkOnce(ctx context.Context, sessionID string) (bool, error) {
	claimed, err := s.client.SetNX(ctx, s.key(sessionID), time.Now().UTC().Format(time.RFC3339), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark sync session: %w", err)
	}
	return claimed, nil
}

func (s *RedisSeenSet) Seen(ctx context.Context, sessionID string) (bool, error) {
	count, err := s.client.Exists(ctx, s.key(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("lookup sync session: %w", err)
	}
	return count > 0, nil
}

func (s *RedisSeenSet) Close() error {
	return s.client.Close()
}

func (s *RedisSeenSet) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// MemorySeenSet is the single-process fallback used when no Redis URL is
// configured, and the default in tests.
type MemorySeenSet struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
}

func NewMemorySeenSet(ttl time.Duration) *MemorySeenSet {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemorySeenSet{
		ttl:  ttl,
		seen: make(map[string]time.Time),
	}
}

func (s *MemorySeenSet) MarkOnce(_ context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	if _, ok := s.seen[sessionID]; ok {
		return false, nil
	}
	s.seen[sessionID] = time.Now().Add(s.ttl)
	return true, nil
}

func (s *MemorySeenSet) Seen(_ context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	_, ok := s.seen[sessionID]
	return ok, nil
}

func (s *MemorySeenSet) Close() error {
	return nil
}

func (s *MemorySeenSet) prune() {
	now := time.Now()
	for id, expiry := range s.seen {
		if now.After(expiry) {
			delete(s.seen, id)
		}
	}
}
