// Package imageloader loads ordinary image URLs through a small fixed pool of workers.
// Failed loads are retried with exponential backoff; a retry waits outside the pool and then
// rejoins the back of the queue, so one failing image never holds a worker.
package imageloader

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"gtg-gateway/internal/cache"
	"gtg-gateway/internal/clock"
	"gtg-gateway/internal/metrics"
	"gtg-gateway/internal/retry"
	"gtg-gateway/pkg/logging/logging"
)

// Target is the image a load is for. Completions never touch a target that is no longer alive.
type Target interface {
	Alive() bool
	Show(src string, p cache.Payload)
}

type Config struct {
	Concurrency int           // default: 2
	MaxRetries  int           // default: 6
	BaseDelay   time.Duration // default: 500ms
}

func (c Config) WithDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 6
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	return c
}

type job struct {
	ctx      context.Context
	target   Target
	url      string
	failures int
	done     chan bool
}

func (j *job) resolve(ok bool) {
	j.done <- ok
	close(j.done)
}

type Loader struct {
	cfg     Config
	fetcher Fetcher
	clock   clock.Clock
	logger  *zap.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*job
	waiting map[*job]clock.Timer
	closed  bool

	inflight atomic.Int32
	wg       sync.WaitGroup
}

// New starts cfg.Concurrency workers. Call Close to stop them.
func New(cfg Config, fetcher Fetcher, clk clock.Clock, logger *zap.Logger) *Loader {
	l := &Loader{
		cfg:     cfg.WithDefaults(),
		fetcher: fetcher,
		clock:   clock.Or(clk),
		logger:  logging.OrNop(logger).Named("imageloader"),
		waiting: make(map[*job]clock.Timer),
	}
	l.cond = sync.NewCond(&l.mu)

	for i := 0; i < l.cfg.Concurrency; i++ {
		l.wg.Add(1)
		go l.worker()
	}
	return l
}

// Enqueue schedules a load of url into target. The returned channel yields exactly one value:
// true once the picture is shown, false when the loader gave up, the target went away, ctx
// ended or the loader was closed.
func (l *Loader) Enqueue(ctx context.Context, target Target, url string) <-chan bool {
	j := &job{ctx: ctx, target: target, url: url, done: make(chan bool, 1)}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		j.resolve(false)
		return j.done
	}
	l.queue = append(l.queue, j)
	l.cond.Signal()
	return j.done
}

// InFlight reports how many fetches are running right now.
func (l *Loader) InFlight() int { return int(l.inflight.Load()) }

// Pending reports how many jobs are queued or waiting to be retried.
func (l *Loader) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue) + len(l.waiting)
}

// Close stops the workers after their current fetch. Queued and waiting jobs resolve false.
func (l *Loader) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	dropped := l.queue
	l.queue = nil
	for j, t := range l.waiting {
		if t.Stop() {
			dropped = append(dropped, j)
		}
	}
	l.waiting = nil
	l.cond.Broadcast()
	l.mu.Unlock()

	for _, j := range dropped {
		j.resolve(false)
	}
	l.wg.Wait()
}

func (l *Loader) next() (*job, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for len(l.queue) == 0 && !l.closed {
		l.cond.Wait()
	}
	if l.closed {
		return nil, false
	}
	j := l.queue[0]
	l.queue = l.queue[1:]
	return j, true
}

func (l *Loader) worker() {
	defer l.wg.Done()
	for {
		j, ok := l.next()
		if !ok {
			return
		}
		l.run(j)
	}
}

func (l *Loader) run(j *job) {
	if j.ctx.Err() != nil || !j.target.Alive() {
		j.resolve(false)
		return
	}

	l.inflight.Add(1)
	metrics.ImageLoaderInflight.Inc()
	p, err := l.fetcher.Fetch(j.ctx, j.url)
	metrics.ImageLoaderInflight.Dec()
	l.inflight.Add(-1)

	if err == nil {
		if !j.target.Alive() {
			j.resolve(false)
			return
		}
		j.target.Show(j.url, p)
		j.resolve(true)
		return
	}

	j.failures++
	if j.failures > l.cfg.MaxRetries || j.ctx.Err() != nil {
		l.logger.Warn("image_load_gave_up",
			zap.String("url", j.url),
			zap.Int("attempts", j.failures),
			zap.Error(err),
		)
		j.resolve(false)
		return
	}

	delay := retry.Backoff(l.cfg.BaseDelay, j.failures-1, l.cfg.BaseDelay)
	l.logger.Debug("image_load_retry",
		zap.String("url", j.url),
		zap.Int("attempt", j.failures),
		zap.Duration("backoff", delay),
		zap.Error(err),
	)
	l.requeueAfter(j, delay)
}

// requeueAfter puts j at the back of the queue once delay has passed.
func (l *Loader) requeueAfter(j *job, delay time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		j.resolve(false)
		return
	}
	l.waiting[j] = l.clock.AfterFunc(delay, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.closed {
			// Close could not stop this timer, so the job is ours to resolve.
			j.resolve(false)
			return
		}
		delete(l.waiting, j)
		l.queue = append(l.queue, j)
		l.cond.Signal()
	})
}
