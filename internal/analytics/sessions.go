package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSessionCapacity bounds how many callers keep a live provider.
const DefaultSessionCapacity = 10000

// SessionFactory builds the provider for one caller.
type SessionFactory func(sessionID string) Provider

// Sessions keeps one provider per caller so identity, globals and timers are
// never shared between callers. The least recently used session is flushed
// and dropped once capacity is reached; its archived state is picked up again
// the next time the caller shows up.
type Sessions struct {
	name    string
	factory SessionFactory
	logger  *slog.Logger
	cache   *lru.Cache[string, Provider]

	mu     sync.Mutex
	config Properties
}

func NewSessions(name string, capacity int, factory SessionFactory) (*Sessions, error) {
	if capacity <= 0 {
		capacity = DefaultSessionCapacity
	}

	s := &Sessions{name: name, factory: factory, logger: slog.Default()}
	cache, err := lru.NewWithEvict[string, Provider](capacity, s.evicted)
	if err != nil {
		return nil, fmt.Errorf("create session cache: %w", err)
	}
	s.cache = cache
	return s, nil
}

func (s *Sessions) Name() string { return s.name }

func (s *Sessions) Len() int { return s.cache.Len() }

// Get returns the provider for sessionID, creating and configuring it on first use.
func (s *Sessions) Get(ctx context.Context, sessionID string) Provider {
	if p, ok := s.cache.Get(sessionID); ok {
		return p
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.cache.Get(sessionID); ok {
		return p
	}
	p := s.factory(sessionID)
	if s.config != nil {
		p.Setup(ctx, s.config)
	}
	s.cache.Add(sessionID, p)
	return p
}

// Setup configures every live session and is remembered for sessions created
// later. Keys missing from configuration keep their earlier values. Live
// sessions are flushed first so a provider that rebuilds its client on Setup
// restores the same state.
func (s *Sessions) Setup(ctx context.Context, configuration Properties) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.config = merge(s.config, configuration)
	for _, p := range s.cache.Values() {
		p.Flush(ctx)
		p.Setup(ctx, s.config)
	}
}

func (s *Sessions) Flush(ctx context.Context) {
	for _, p := range s.cache.Values() {
		p.Flush(ctx)
	}
}

func (s *Sessions) evicted(sessionID string, p Provider) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p.Flush(ctx)
	s.logger.Debug("analytics session evicted", "session", sessionID)
}
