package notification

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultHintTTL bounds how long a latest hint survives without new records.
const DefaultHintTTL = 7 * 24 * time.Hour

// hintKeyPrefix namespaces latest-hint keys in a shared Redis.
const hintKeyPrefix = "herald:notif:latest:"

// HintStore is the per-user "latest record" side channel. It is an
// accelerator only: the Store stays authoritative and callers must work
// without it.
type HintStore interface {
	// Publish records at as the newest record time for userID.
	Publish(ctx context.Context, userID string, at time.Time) error
	// Latest returns the newest published time. ok is false when no hint
	// exists (never published or expired).
	Latest(ctx context.Context, userID string) (at time.Time, ok bool, err error)
}

// HintKey returns the Redis key holding userID's latest hint.
func HintKey(userID string) string {
	return hintKeyPrefix + userID
}

// RedisHintStore keeps hints in Redis as epoch milliseconds with a TTL.
type RedisHintStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisHintStore creates a hint store on client. ttl <= 0 uses DefaultHintTTL.
func NewRedisHintStore(client *redis.Client, ttl time.Duration) *RedisHintStore {
	if ttl <= 0 {
		ttl = DefaultHintTTL
	}
	return &RedisHintStore{client: client, ttl: ttl}
}

// Publish implements HintStore.
func (s *RedisHintStore) Publish(ctx context.Context, userID string, at time.Time) error {
	if s == nil || s.client == nil {
		return ErrHintUnavailable
	}
	if err := s.client.Set(ctx, HintKey(userID), EpochMillis(at), s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrHintUnavailable, err)
	}
	return nil
}

// Latest implements HintStore.
func (s *RedisHintStore) Latest(ctx context.Context, userID string) (time.Time, bool, error) {
	if s == nil || s.client == nil {
		return time.Time{}, false, ErrHintUnavailable
	}
	raw, err := s.client.Get(ctx, HintKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %v", ErrHintUnavailable, err)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: malformed hint %q", ErrHintUnavailable, raw)
	}
	return FromEpochMillis(ms), true, nil
}

// MemoryHintStore is a process-local HintStore. Expiry is not modelled.
type MemoryHintStore struct {
	mu     sync.RWMutex
	latest map[string]time.Time
	fail   bool
}

// NewMemoryHintStore creates an empty in-memory hint store.
func NewMemoryHintStore() *MemoryHintStore {
	return &MemoryHintStore{latest: make(map[string]time.Time)}
}

// Publish implements HintStore.
func (s *MemoryHintStore) Publish(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return ErrHintUnavailable
	}
	s.latest[userID] = at.UTC()
	return nil
}

// Latest implements HintStore.
func (s *MemoryHintStore) Latest(_ context.Context, userID string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fail {
		return time.Time{}, false, ErrHintUnavailable
	}
	at, ok := s.latest[userID]
	return at, ok, nil
}

// SetFail makes every call return ErrHintUnavailable until reset.
func (s *MemoryHintStore) SetFail(fail bool) {
	s.mu.Lock()
	s.fail = fail
	s.mu.Unlock()
}

// compile-time checks
var (
	_ HintStore = (*RedisHintStore)(nil)
	_ HintStore = (*MemoryHintStore)(nil)
)
