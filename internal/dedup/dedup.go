// Package dedup provides the bounded-retention set used to deduplicate rail
// settlement events by event id. Events older than the retention horizon are
// assumed never to repeat.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Set records event ids for the retention window. MarkSeen returns true the
// first time an id is recorded and false on every replay inside the window.
// Unmark forgets an id so the sender's redelivery is processed again; callers
// use it when an event failed transiently after being marked.
type Set interface {
	MarkSeen(ctx context.Context, eventID string) (bool, error)
	Unmark(ctx context.Context, eventID string) error
}

const redisKeyPrefix = "rail-event"

// RedisSet is the production implementation: SET NX with the retention
// window as TTL.
type RedisSet struct {
	client    redis.Cmdable
	retention time.Duration
}

func NewRedisSet(client redis.Cmdable, retention time.Duration) *RedisSet {
	return &RedisSet{client: client, retention: retention}
}

func (s *RedisSet) MarkSeen(ctx context.Context, eventID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, fmt.Sprintf("%s:%s", redisKeyPrefix, eventID), 1, s.retention).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return ok, nil
}

func (s *RedisSet) Unmark(ctx context.Context, eventID string) error {
	if err := s.client.Del(ctx, fmt.Sprintf("%s:%s", redisKeyPrefix, eventID)).Err(); err != nil {
		return fmt.Errorf("dedup del: %w", err)
	}
	return nil
}

// MemorySet is the in-process implementation used by tests and local runs.
// Expired entries are evicted lazily on insert.
type MemorySet struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	retention time.Duration
	now       func() time.Time
}

func NewMemorySet(retention time.Duration) *MemorySet {
	return &MemorySet{
		seen:      make(map[string]time.Time),
		retention: retention,
		now:       time.Now,
	}
}

// WithClock overrides the time source (tests).
func (s *MemorySet) WithClock(now func() time.Time) *MemorySet {
	s.now = now
	return s
}

func (s *MemorySet) MarkSeen(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	horizon := now.Add(-s.retention)
	for id, at := range s.seen {
		if at.Before(horizon) {
			delete(s.seen, id)
		}
	}

	if _, ok := s.seen[eventID]; ok {
		return false, nil
	}
	s.seen[eventID] = now
	return true, nil
}

func (s *MemorySet) Unmark(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, eventID)
	return nil
}
