package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type entry struct {
	resolver   *Resolver
	lastAccess time.Time
}

// Registry maps cookie session ids to resolvers and evicts idle ones.
type Registry struct {
	store  TierStore
	logger *slog.Logger
	ttl    time.Duration
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewRegistry starts a background loop that closes resolvers idle for longer than ttl.
func NewRegistry(store TierStore, logger *slog.Logger, ttl time.Duration) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	g := &Registry{
		store:    store,
		logger:   logger,
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*entry),
		stopCh:   make(chan struct{}),
	}
	go g.cleanupLoop()
	return g
}

// Get returns the resolver for id and refreshes its idle timer.
func (g *Registry) Get(id string) (*Resolver, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.sessions[id]
	if !ok {
		return nil, false
	}
	e.lastAccess = g.now()
	return e.resolver, true
}

// Create starts a fresh session. Sessions live in this process only.
func (g *Registry) Create() (string, *Resolver) {
	id := uuid.NewString()
	r := NewResolver(g.store, g.logger.With(slog.String("sessionId", id)))

	g.mu.Lock()
	g.sessions[id] = &entry{resolver: r, lastAccess: g.now()}
	g.mu.Unlock()
	return id, r
}

// Remove closes and forgets the session.
func (g *Registry) Remove(id string) {
	g.mu.Lock()
	e, ok := g.sessions[id]
	delete(g.sessions, id)
	g.mu.Unlock()

	if ok {
		e.resolver.Close()
	}
}

// Stop ends the cleanup loop and closes every resolver.
func (g *Registry) Stop() {
	g.stopOnce.Do(func() { close(g.stopCh) })

	g.mu.Lock()
	sessions := g.sessions
	g.sessions = make(map[string]*entry)
	g.mu.Unlock()

	for _, e := range sessions {
		e.resolver.Close()
	}
}

func (g *Registry) cleanupLoop() {
	interval := g.ttl / 2
	if interval > 5*time.Minute {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.evictIdle()
		case <-g.stopCh:
			return
		}
	}
}

func (g *Registry) evictIdle() {
	now := g.now()

	var expired []*Resolver
	g.mu.Lock()
	for id, e := range g.sessions {
		if now.Sub(e.lastAccess) > g.ttl {
			expired = append(expired, e.resolver)
			delete(g.sessions, id)
		}
	}
	g.mu.Unlock()

	for _, r := range expired {
		r.Close()
	}
	if len(expired) > 0 {
		g.logger.Info("evicted idle sessions", slog.Int("count", len(expired)))
	}
}
