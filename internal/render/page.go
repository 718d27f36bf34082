// Package render wires place cards to images. A card's image starts on a placeholder, loads
// only when it comes near the viewport, and on failure falls back from the direct photo URL to
// the place's first photo reference and finally to the placeholder.
package render

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"gtg-gateway/internal/clock"
	"gtg-gateway/internal/imageloader"
	"gtg-gateway/internal/photoqueue"
	"gtg-gateway/internal/places"
	"gtg-gateway/internal/tracker"
	"gtg-gateway/pkg/logging/logging"
)

// Loader loads ordinary image URLs.
type Loader interface {
	Enqueue(ctx context.Context, target imageloader.Target, url string) <-chan bool
}

// Queue resolves photo references.
type Queue interface {
	Enqueue(target photoqueue.Target, ref string, opts photoqueue.Options) *photoqueue.Ticket
	TryEnqueue(ctx context.Context, target photoqueue.Target, ref string, opts photoqueue.Options) (*photoqueue.Ticket, bool)
}

type PageConfig struct {
	// ID names the page for the per-page auto-fetch counter.
	ID string
	// PhotoBaseURL is used to build photo reference URLs for the fallback step.
	PhotoBaseURL string
	MaxWidth     int

	RetryDelay       time.Duration // before the retry sweep starts, default: 10s
	RetryStagger     time.Duration // between swept images, default: 800ms
	RetryBaseDelay   time.Duration // queue backoff for swept images, default: 2s
	RetryMaxRetries  int           // queue retries for swept images, default: 3
	BreakerThreshold int           // reference failures that disable automatic reference loads, default: 3
	ProximityMargin  float64       // activation distance outside the viewport, default: 200
}

func (c PageConfig) WithDefaults() PageConfig {
	if c.ID == "" {
		c.ID = "default"
	}
	if c.PhotoBaseURL == "" {
		c.PhotoBaseURL = places.DefaultBaseURL
	}
	if c.MaxWidth <= 0 {
		c.MaxWidth = 800
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 10 * time.Second
	}
	if c.RetryStagger <= 0 {
		c.RetryStagger = 800 * time.Millisecond
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 2 * time.Second
	}
	if c.RetryMaxRetries <= 0 {
		c.RetryMaxRetries = 3
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 3
	}
	if c.ProximityMargin <= 0 {
		c.ProximityMargin = 200
	}
	return c
}

type Deps struct {
	Loader  Loader
	Queue   Queue
	Tracker *tracker.Tracker
	Clock   clock.Clock
	Logger  *zap.Logger
}

type retryItem struct {
	slot *Slot
	ref  string
}

// Page is one rendering context. It owns the reference circuit breaker and the retry sweep,
// both of which last as long as the page.
type Page struct {
	cfg     PageConfig
	loader  Loader
	queue   Queue
	tracker *tracker.Tracker
	clock   clock.Clock
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	slots       []*Slot
	refFailures int
	disabled    bool
	retryList   []retryItem
	retryTimer  clock.Timer
	timers      []clock.Timer
	closed      bool
}

func NewPage(cfg PageConfig, deps Deps) *Page {
	ctx, cancel := context.WithCancel(context.Background())
	cfg = cfg.WithDefaults()
	return &Page{
		cfg:     cfg,
		loader:  deps.Loader,
		queue:   deps.Queue,
		tracker: deps.Tracker,
		clock:   clock.Or(deps.Clock),
		logger:  logging.OrNop(deps.Logger).Named("render").With(zap.String("page", cfg.ID)),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (p *Page) ID() string { return p.cfg.ID }

// Bind creates the image slot of a card for place. The slot shows its placeholder until it
// is activated.
func (p *Page) Bind(place places.Place, kind Kind) *Slot {
	s := &Slot{
		page:        p,
		place:       place,
		kind:        kind,
		alive:       true,
		src:         kind.Placeholder(),
		placeholder: true,
	}
	p.mu.Lock()
	p.slots = append(p.slots, s)
	p.mu.Unlock()
	return s
}

// Viewport activates every slot within ProximityMargin of the visible band [top, bottom]
// and returns how many were activated by this call.
func (p *Page) Viewport(top, bottom float64) int {
	p.mu.Lock()
	slots := append([]*Slot{}, p.slots...)
	p.mu.Unlock()

	lo, hi := top-p.cfg.ProximityMargin, bottom+p.cfg.ProximityMargin
	n := 0
	for _, s := range slots {
		y, h := s.Bounds()
		if y+h < lo || y > hi {
			continue
		}
		if s.Activate() {
			n++
		}
	}
	return n
}

// ReferencesDisabled reports whether the circuit breaker has tripped.
func (p *Page) ReferencesDisabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disabled
}

// Close detaches every slot and stops pending retries. Loads already queued finish without
// touching the slots.
func (p *Page) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.retryTimer != nil {
		p.retryTimer.Stop()
	}
	for _, t := range p.timers {
		t.Stop()
	}
	p.retryList = nil
	slots := p.slots
	p.mu.Unlock()

	for _, s := range slots {
		s.Detach()
	}
	p.cancel()
	p.wg.Wait()
}

// recordReferenceFailure counts a failed reference load against the breaker.
func (p *Page) recordReferenceFailure(ref string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refFailures++
	if !p.disabled && p.refFailures >= p.cfg.BreakerThreshold {
		p.disabled = true
		p.logger.Warn("photo_reference_breaker_open",
			zap.Int("failures", p.refFailures),
			zap.String("photo_ref", ref),
		)
	}
}

// scheduleRetry adds s to the retry sweep. The first scheduled image starts the sweep timer;
// later ones join the pending run.
func (p *Page) scheduleRetry(s *Slot, ref string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	for _, it := range p.retryList {
		if it.slot == s {
			return
		}
	}
	p.retryList = append(p.retryList, retryItem{slot: s, ref: ref})
	if p.retryTimer == nil {
		p.retryTimer = p.clock.AfterFunc(p.cfg.RetryDelay, p.sweep)
	}
}

func (p *Page) sweep() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	items := p.retryList
	p.retryList = nil
	p.retryTimer = nil
	for i, it := range items {
		p.timers = append(p.timers, p.clock.AfterFunc(time.Duration(i)*p.cfg.RetryStagger, func() {
			p.retryOne(it)
		}))
	}
	p.mu.Unlock()
}

// retryOne makes the single automatic retry a slot is allowed.
func (p *Page) retryOne(it retryItem) {
	if p.ReferencesDisabled() {
		return
	}
	if p.tracker != nil && p.tracker.Suppressed(p.ctx, it.ref) {
		return
	}
	if !it.slot.claimRetry() {
		return
	}

	p.logger.Debug("photo_reference_retry", zap.String("photo_ref", it.ref))
	t := p.queue.Enqueue(it.slot, it.ref, photoqueue.Options{
		Page:       p.cfg.ID,
		MaxRetries: p.cfg.RetryMaxRetries,
		BaseDelay:  p.cfg.RetryBaseDelay,
	})
	p.await(t.Done(), t.OK, func(ok bool) {
		if !ok {
			p.recordReferenceFailure(it.ref)
		}
	})
}

// await runs then(result) once done is closed, unless the page closes first.
func (p *Page) await(done <-chan struct{}, result func() bool, then func(bool)) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		select {
		case <-done:
			then(result())
		case <-p.ctx.Done():
		}
	}()
}

// awaitLoad is await for a loader result channel.
func (p *Page) awaitLoad(done <-chan bool, then func(bool)) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		select {
		case ok := <-done:
			then(ok)
		case <-p.ctx.Done():
		}
	}()
}

func (p *Page) photoURL(ref string) string {
	return places.PhotoURL(p.cfg.PhotoBaseURL, ref, p.cfg.MaxWidth, "")
}
