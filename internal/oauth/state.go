package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrInvalidState is returned when a callback carries a state that was never
// issued, already consumed, or has expired.
var ErrInvalidState = errors.New("oauth: invalid or expired state")

// StateStore keeps one-time OAuth state values for the duration of the
// redirect handshake.
type StateStore interface {
	Save(ctx context.Context, state string, ttl time.Duration) error
	// Consume deletes state and reports ErrInvalidState if it was not present.
	Consume(ctx context.Context, state string) error
}

// NewState returns a random URL-safe state value.
func NewState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// RedisStateStore keeps state in Redis so any replica can complete a
// handshake started on another.
type RedisStateStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStateStore creates a RedisStateStore.
func NewRedisStateStore(client redis.UniversalClient) *RedisStateStore {
	return &RedisStateStore{client: client, prefix: "animora:oauth:state:"}
}

func (s *RedisStateStore) Save(ctx context.Context, state string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+state, 1, ttl).Err(); err != nil {
		return fmt.Errorf("save oauth state: %w", err)
	}
	return nil
}

func (s *RedisStateStore) Consume(ctx context.Context, state string) error {
	if state == "" {
		return ErrInvalidState
	}
	err := s.client.GetDel(ctx, s.prefix+state).Err()
	if errors.Is(err, redis.Nil) {
		return ErrInvalidState
	}
	if err != nil {
		return fmt.Errorf("consume oauth state: %w", err)
	}
	return nil
}

// MemoryStateStore is a single-process StateStore.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]time.Time
	now    func() time.Time
}

// NewMemoryStateStore creates a MemoryStateStore.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]time.Time), now: time.Now}
}

func (s *MemoryStateStore) Save(_ context.Context, state string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, exp := range s.states {
		if now.After(exp) {
			delete(s.states, k)
		}
	}
	s.states[state] = now.Add(ttl)
	return nil
}

func (s *MemoryStateStore) Consume(_ context.Context, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.states[state]
	if !ok {
		return ErrInvalidState
	}
	delete(s.states, state)
	if s.now().After(exp) {
		return ErrInvalidState
	}
	return nil
}
