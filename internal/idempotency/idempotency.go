// Package idempotency remembers the result of a request keyed by a
// client-supplied Idempotency-Key so that retried checkouts do not create
// duplicate orders.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultTTL is how long a key and its result are remembered.
const DefaultTTL = 24 * time.Hour

const pendingMarker = "__pending__"

// ErrInFlight is returned when the first request for a key is still running.
var ErrInFlight = errors.New("request with this idempotency key is still in progress")

// Store reserves keys and records results.
type Store interface {
	// Begin reserves key. If a result was already saved it is returned with
	// found=true. If the key is reserved but has no result, ErrInFlight.
	Begin(ctx context.Context, key string) (result []byte, found bool, err error)
	// Complete stores the result for a reserved key.
	Complete(ctx context.Context, key string, result []byte) error
	// Release drops a reservation so the client may retry after a failure.
	Release(ctx context.Context, key string) error
}

// Scoped prefixes the client key with the user id so two users cannot
// collide on the same key.
func Scoped(userID int64, key string) string {
	return fmt.Sprintf("checkout:%d:%s", userID, key)
}

// --- Redis ---

// RedisStore keeps keys in redis with a TTL.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore wraps an existing redis client.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func redisKey(key string) string {
	return "idempotent-key:" + key
}

func (s *RedisStore) Begin(ctx context.Context, key string) ([]byte, bool, error) {
	ok, err := s.rdb.SetNX(ctx, redisKey(key), pendingMarker, s.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if ok {
		return nil, false, nil
	}

	val, err := s.rdb.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; try once more.
		return s.Begin(ctx, key)
	}
	if err != nil {
		return nil, false, fmt.Errorf("read idempotency key: %w", err)
	}
	if string(val) == pendingMarker {
		return nil, false, ErrInFlight
	}
	return val, true, nil
}

func (s *RedisStore) Complete(ctx context.Context, key string, result []byte) error {
	return s.rdb.Set(ctx, redisKey(key), result, s.ttl).Err()
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, redisKey(key)).Err()
}

// --- In-memory ---

type memEntry struct {
	result  []byte
	done    bool
	expires time.Time
}

// MemoryStore is a process-local Store used when redis is not configured.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{ttl: ttl, entries: make(map[string]memEntry), now: time.Now}
}

func (s *MemoryStore) Begin(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expires) {
		if !e.done {
			return nil, false, ErrInFlight
		}
		return e.result, true, nil
	}
	s.entries[key] = memEntry{expires: now.Add(s.ttl)}
	return nil, false, nil
}

func (s *MemoryStore) Complete(_ context.Context, key string, result []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memEntry{result: result, done: true, expires: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Sweep drops expired entries.
func (s *MemoryStore) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, k)
		}
	}
}
