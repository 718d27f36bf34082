// Package photoqueue resolves photo references into images one at a time.
//
// A single worker drains the queue, so at most one fetch against the photo endpoint is in
// flight per queue. Every job consults the blob cache first; a miss waits out any host
// cooldown before fetching. Failed fetches go back to the front of the queue after a
// backoff, so a failing job is retried before anything queued behind it.
package photoqueue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"gtg-gateway/internal/cache"
	"gtg-gateway/internal/clock"
	"gtg-gateway/internal/metrics"
	"gtg-gateway/internal/places"
	"gtg-gateway/internal/retry"
	"gtg-gateway/internal/session"
	"gtg-gateway/internal/tracker"
	"gtg-gateway/pkg/logging/logging"
)

// Target is the image a photo is for.
type Target interface {
	Alive() bool
	Show(src string, p cache.Payload)
}

// PhotoFetcher exchanges a photo reference for image bytes. Host names the remote host the
// fetch is charged against for cooldowns.
type PhotoFetcher interface {
	FetchPhoto(ctx context.Context, ref string) (cache.Payload, error)
	Host() string
}

type Config struct {
	BaseDelay       time.Duration // default: 2.5s
	MaxRetries      int           // default: 2
	Jitter          time.Duration // default: 200ms
	TTL             time.Duration // blob cache lifetime, default: 1h
	MaxCooldownWait time.Duration // longest single pause for a cooling host, default: 30s
	PageAutoLimit   int           // automatic fetches per page, default: 6
}

const (
	DefaultBaseDelay       = 2500 * time.Millisecond
	DefaultMaxRetries      = 2
	DefaultJitter          = 200 * time.Millisecond
	DefaultMaxCooldownWait = 30 * time.Second
	DefaultPageAutoLimit   = 6
)

func (c Config) WithDefaults() Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.Jitter <= 0 {
		c.Jitter = DefaultJitter
	}
	if c.TTL <= 0 {
		c.TTL = cache.PhotoBlobTTL
	}
	if c.MaxCooldownWait <= 0 {
		c.MaxCooldownWait = DefaultMaxCooldownWait
	}
	if c.PageAutoLimit <= 0 {
		c.PageAutoLimit = DefaultPageAutoLimit
	}
	return c
}

// Options tune one job. Zero fields fall back to the queue's Config.
type Options struct {
	// Page is the rendering context the job belongs to; it selects the auto-fetch counter.
	Page string
	// Manual marks a user-initiated load, which skips the per-page auto-fetch gate.
	Manual bool

	MaxRetries int
	BaseDelay  time.Duration
	TTL        time.Duration
}

// Deps are the collaborators shared with the rest of the session.
type Deps struct {
	Fetcher PhotoFetcher
	Blobs   *cache.BlobCache
	Tracker *tracker.Tracker
	Budget  *tracker.Budget
	Clock   clock.Clock
	Logger  *zap.Logger
}

type job struct {
	target  Target
	ref     string
	retries int
	opts    Options
	ticket  *Ticket
}

type Queue struct {
	cfg     Config
	fetcher PhotoFetcher
	blobs   *cache.BlobCache
	tracker *tracker.Tracker
	budget  *tracker.Budget
	clock   clock.Clock
	logger  *zap.Logger

	mu     sync.Mutex
	jobs   []*job
	wake   chan struct{}
	closed bool

	// resolved is the host that answered the last failed fetch when it differs from the
	// fetcher's own (the photo endpoint redirects). Worker-owned.
	resolved string

	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
	writes  sync.WaitGroup
}

// New creates a queue and starts its worker. A missing Tracker or Budget gets a private
// in-memory one.
func New(cfg Config, deps Deps) *Queue {
	if deps.Tracker == nil || deps.Budget == nil {
		store := session.NewMemoryStore()
		if deps.Tracker == nil {
			deps.Tracker = tracker.New(store, deps.Clock, tracker.Config{}, deps.Logger)
		}
		if deps.Budget == nil {
			deps.Budget = tracker.NewBudget(store, 0, deps.Logger)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		cfg:     cfg.WithDefaults(),
		fetcher: deps.Fetcher,
		blobs:   deps.Blobs,
		tracker: deps.Tracker,
		budget:  deps.Budget,
		clock:   clock.Or(deps.Clock),
		logger:  logging.OrNop(deps.Logger).Named("photoqueue"),
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) Config() Config { return q.cfg }

// Enqueue queues ref for target without consulting any budget. It is used for retries the
// pipeline schedules itself.
func (q *Queue) Enqueue(target Target, ref string, opts Options) *Ticket {
	t := newTicket()
	q.push(&job{target: target, ref: ref, opts: opts, ticket: t}, false)
	return t
}

// TryEnqueue queues ref unless a budget refuses it. A reference whose blob is already cached
// is always accepted and costs nothing. Otherwise the page's auto-fetch counter (skipped for
// manual loads) and then the session budget must both allow one more fetch. A refused job is
// never queued; the caller should offer a manual load instead.
func (q *Queue) TryEnqueue(ctx context.Context, target Target, ref string, opts Options) (*Ticket, bool) {
	if q.blobs != nil {
		if _, ok := q.blobs.Get(ctx, cache.PhotoBlobKey(ref)); ok {
			return q.Enqueue(target, ref, opts), true
		}
	}

	if !opts.Manual && !q.budget.ConsumePage(ctx, opts.Page, q.cfg.PageAutoLimit) {
		logging.L(ctx).Debug("photo_refused", zap.String("photo_ref", ref), zap.String("gate", "page"))
		return nil, false
	}
	if !q.budget.Consume(ctx) {
		if !opts.Manual {
			q.budget.ReleasePage(ctx, opts.Page)
		}
		logging.L(ctx).Debug("photo_refused", zap.String("photo_ref", ref), zap.String("gate", "session"))
		return nil, false
	}
	return q.Enqueue(target, ref, opts), true
}

// Len reports how many jobs are waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Close stops the worker after its current step and resolves every waiting job as failed.
// It waits for pending cache writes.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	<-q.stopped

	q.mu.Lock()
	dropped := q.jobs
	q.jobs = nil
	q.mu.Unlock()

	metrics.PhotoQueueDepth.Sub(float64(len(dropped)))
	for _, j := range dropped {
		j.ticket.resolve(false)
	}
	q.writes.Wait()
}

func (q *Queue) push(j *job, front bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		j.ticket.resolve(false)
		return
	}
	if front {
		q.jobs = append([]*job{j}, q.jobs...)
	} else {
		q.jobs = append(q.jobs, j)
	}
	q.mu.Unlock()

	metrics.PhotoQueueDepth.Inc()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) pop() *job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil
	}
	j := q.jobs[0]
	q.jobs = q.jobs[1:]
	metrics.PhotoQueueDepth.Dec()
	return j
}

func (q *Queue) run() {
	defer close(q.stopped)

	for {
		j := q.pop()
		if j == nil {
			select {
			case <-q.ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}
		if pause := q.process(j); pause > 0 {
			if err := clock.Sleep(q.ctx, q.clock, pause); err != nil {
				return
			}
		}
		if q.ctx.Err() != nil {
			return
		}
	}
}

// process runs one step of j and returns how long the worker must pause before the next.
func (q *Queue) process(j *job) time.Duration {
	ctx := q.ctx
	log := q.logger.With(zap.String("photo_ref", j.ref))

	if !j.target.Alive() {
		metrics.PhotoFetchesTotal.WithLabelValues("abandoned").Inc()
		j.ticket.resolve(false)
		return 0
	}

	key := cache.PhotoBlobKey(j.ref)
	if q.blobs != nil {
		if p, ok := q.blobs.Get(ctx, key); ok {
			metrics.PhotoFetchesTotal.WithLabelValues("cache_hit").Inc()
			j.target.Show(key, p)
			j.ticket.resolve(true)
			return 0
		}
	}

	host := q.fetcher.Host()
	remaining := q.tracker.HostCooldownRemaining(ctx, host)
	if q.resolved != "" {
		if r := q.tracker.HostCooldownRemaining(ctx, q.resolved); r > remaining {
			host, remaining = q.resolved, r
		}
	}
	if remaining > 0 {
		wait := min(remaining, q.cfg.MaxCooldownWait)
		log.Debug("host_cooling_down", zap.String("host", host), zap.Duration("wait", wait))
		q.push(j, true)
		return wait
	}

	p, err := q.fetcher.FetchPhoto(ctx, j.ref)
	if err == nil {
		metrics.PhotoFetchesTotal.WithLabelValues("fetched").Inc()
		if j.target.Alive() {
			j.target.Show(key, p)
			j.ticket.resolve(true)
		} else {
			j.ticket.resolve(false)
		}
		q.persist(key, p, j.ttl(q.cfg))
		return 0
	}
	if ctx.Err() != nil {
		q.push(j, true)
		return 0
	}

	charged := q.fetcher.Host()
	if h := places.HostOf(err); h != "" {
		charged = h
	}
	if charged != q.fetcher.Host() {
		q.resolved = charged
	}
	q.tracker.RecordHostFailureAtLeast(ctx, charged, places.RetryAfterOf(err))

	maxRetries := j.opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = q.cfg.MaxRetries
	}
	if j.retries < maxRetries {
		base := j.opts.BaseDelay
		if base <= 0 {
			base = q.cfg.BaseDelay
		}
		backoff := retry.Backoff(base, j.retries, q.cfg.Jitter)
		j.retries++
		metrics.PhotoFetchesTotal.WithLabelValues("retry").Inc()
		log.Info("photo_fetch_retry",
			zap.Int("retry", j.retries),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		q.push(j, true)
		return backoff
	}

	failures := q.tracker.RecordReferenceFailure(ctx, j.ref)
	metrics.PhotoFetchesTotal.WithLabelValues("failed").Inc()
	log.Warn("photo_fetch_gave_up",
		zap.Int("attempts", j.retries+1),
		zap.Int("reference_failures", failures),
		zap.Error(err),
	)
	j.ticket.resolve(false)
	return 0
}

// persist writes the blob in the background; failures only get logged.
func (q *Queue) persist(key string, p cache.Payload, ttl time.Duration) {
	if q.blobs == nil {
		return
	}
	q.writes.Add(1)
	go func() {
		defer q.writes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		q.blobs.Put(ctx, key, p, ttl)
	}()
}

func (j *job) ttl(cfg Config) time.Duration {
	if j.opts.TTL > 0 {
		return j.opts.TTL
	}
	return cfg.TTL
}
