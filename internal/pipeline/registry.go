// Package pipeline keeps one photo pipeline per browsing session.
package pipeline

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"gtg-gateway/internal/cache"
	"gtg-gateway/internal/clock"
	"gtg-gateway/internal/photoqueue"
	"gtg-gateway/internal/session"
	"gtg-gateway/internal/tracker"
	"gtg-gateway/pkg/logging/logging"
)

// Session is the pipeline state of one browsing session. Its counters live in the shared
// session store under the session's scope, so they survive the Session itself being evicted.
type Session struct {
	ID      string
	Tracker *tracker.Tracker
	Budget  *tracker.Budget
	Queue   *photoqueue.Queue
}

type Config struct {
	IdleTTL       time.Duration // default: 30m
	SessionBudget int           // default: 20
	Queue         photoqueue.Config
	Tracker       tracker.Config
}

func (c Config) WithDefaults() Config {
	if c.IdleTTL <= 0 {
		c.IdleTTL = 30 * time.Minute
	}
	if c.SessionBudget <= 0 {
		c.SessionBudget = tracker.DefaultBudget
	}
	return c
}

type Deps struct {
	Fetcher photoqueue.PhotoFetcher
	Blobs   *cache.BlobCache
	Store   session.Store
	Clock   clock.Clock
	Logger  *zap.Logger
}

// Registry hands out Sessions by id. Idle sessions are evicted and their queues closed.
type Registry struct {
	cfg  Config
	deps Deps

	mu       sync.Mutex
	sessions *gocache.Cache
	closed   bool
}

func NewRegistry(cfg Config, deps Deps) *Registry {
	cfg = cfg.WithDefaults()
	deps.Logger = logging.OrNop(deps.Logger).Named("pipeline")
	if deps.Store == nil {
		deps.Store = session.NewMemoryStoreTTL(cfg.IdleTTL)
	}

	r := &Registry{
		cfg:      cfg,
		deps:     deps,
		sessions: gocache.New(cfg.IdleTTL, cfg.IdleTTL/2),
	}
	r.sessions.OnEvicted(func(id string, v any) {
		if s, ok := v.(*Session); ok {
			s.Queue.Close()
			r.deps.Logger.Debug("session_evicted", zap.String("session_id", id))
		}
	})
	return r
}

// Get returns the session for id, creating it on first use. Every call restarts the idle timer.
func (r *Registry) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.sessions.Get(id); ok {
		s := v.(*Session)
		r.sessions.SetDefault(id, s)
		return s
	}
	// an expired entry the janitor has not reached yet still owns a running queue
	r.sessions.DeleteExpired()

	store := session.NewScoped(r.deps.Store, id)
	logger := r.deps.Logger.With(zap.String("session_id", id))
	tr := tracker.New(store, r.deps.Clock, r.cfg.Tracker, logger)
	budget := tracker.NewBudget(store, r.cfg.SessionBudget, logger)

	s := &Session{
		ID:      id,
		Tracker: tr,
		Budget:  budget,
		Queue: photoqueue.New(r.cfg.Queue, photoqueue.Deps{
			Fetcher: r.deps.Fetcher,
			Blobs:   r.deps.Blobs,
			Tracker: tr,
			Budget:  budget,
			Clock:   r.deps.Clock,
			Logger:  logger,
		}),
	}
	if r.closed {
		s.Queue.Close()
		return s
	}
	r.sessions.SetDefault(id, s)
	logger.Debug("session_started")
	return s
}

// Len reports how many sessions are live.
func (r *Registry) Len() int { return r.sessions.ItemCount() }

// Close closes every session's queue. Sessions requested afterwards come back already closed.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	r.closed = true
	items := r.sessions.Items()
	r.mu.Unlock()

	for id := range items {
		r.sessions.Delete(id)
	}
	logging.L(ctx).Info("sessions_closed", zap.Int("count", len(items)))
}
