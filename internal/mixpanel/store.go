package mixpanel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// State is the part of the client that survives a restart: the active identity
// and the registered super properties.
type State struct {
	DistinctID      string         `json:"distinct_id"`
	SuperProperties map[string]any `json:"super_properties,omitempty"`
}

// StateStore archives client state by key: the project token, or token and
// session for a session-scoped client.
type StateStore interface {
	Load(ctx context.Context, key string) (State, bool, error)
	Save(ctx context.Context, key string, state State) error
}

type MemoryStore struct {
	mu     sync.Mutex
	states map[string]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: map[string]State{}}
}

func (s *MemoryStore) Load(_ context.Context, key string) (State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[key]
	return state, ok, nil
}

func (s *MemoryStore) Save(_ context.Context, key string, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.states[key] = state
	return nil
}

// RedisStore keeps archived state in Redis so several processes sharing a token
// also share the identity.
type RedisStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

type RedisStoreConfig struct {
	Prefix string
	TTL    time.Duration // zero keeps keys forever
}

func NewRedisStore(client redis.Cmdable, cfg RedisStoreConfig) *RedisStore {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "analytical:mixpanel:state:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: cfg.TTL}
}

func (s *RedisStore) Load(ctx context.Context, key string) (State, bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("load mixpanel state: %w", err)
	}

	var state State
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&state); err != nil {
		return State{}, false, fmt.Errorf("decode mixpanel state: %w", err)
	}
	return state, true, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, state State) error {
	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode mixpanel state: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, encoded, s.ttl).Err(); err != nil {
		return fmt.Errorf("save mixpanel state: %w", err)
	}
	return nil
}
