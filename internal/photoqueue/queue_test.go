package photoqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"gtg-gateway/internal/cache"
	"gtg-gateway/internal/clock"
	"gtg-gateway/internal/places"
	"gtg-gateway/internal/session"
	"gtg-gateway/internal/tracker"
)

const photoHost = "maps.example.test"

type fakeTarget struct {
	mu    sync.Mutex
	alive bool
	shown []string
}

func newTarget() *fakeTarget { return &fakeTarget{alive: true} }

func (f *fakeTarget) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeTarget) Show(src string, _ cache.Payload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shown = append(f.shown, src)
}

func (f *fakeTarget) shownCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.shown)
}

var errRateLimited = errors.New("upstream 429")

// fakeFetcher records calls and checks that no two fetches overlap.
type fakeFetcher struct {
	fail     func(ref string, call int) bool
	failWith error // returned by failing calls, default errRateLimited

	mu       sync.Mutex
	calls    []string
	perRef   map[string]int
	inflight atomic.Int32
	overlap  atomic.Bool
}

func newFetcher(fail func(ref string, call int) bool) *fakeFetcher {
	if fail == nil {
		fail = func(string, int) bool { return false }
	}
	return &fakeFetcher{fail: fail, perRef: map[string]int{}}
}

func (f *fakeFetcher) Host() string { return photoHost }

func (f *fakeFetcher) FetchPhoto(_ context.Context, ref string) (cache.Payload, error) {
	if f.inflight.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.inflight.Add(-1)

	f.mu.Lock()
	f.calls = append(f.calls, ref)
	f.perRef[ref]++
	n := f.perRef[ref]
	f.mu.Unlock()

	time.Sleep(time.Millisecond)
	if f.fail(ref, n) {
		if f.failWith != nil {
			return cache.Payload{}, f.failWith
		}
		return cache.Payload{}, errRateLimited
	}
	return cache.Payload{ContentType: "image/jpeg", Data: []byte("jpeg:" + ref)}, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeFetcher) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.calls...)
}

type harness struct {
	q       *Queue
	fetcher *fakeFetcher
	blobs   *cache.BlobCache
	tracker *tracker.Tracker
	budget  *tracker.Budget
	clk     *clock.Manual
}

// newHarness builds a queue over fresh stores. A budget of 0 means an exhausted session.
func newHarness(t *testing.T, cfg Config, budget int, fetcher *fakeFetcher) *harness {
	t.Helper()
	clk := clock.NewManual(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	logger := zaptest.NewLogger(t)
	store := session.NewMemoryStore()

	h := &harness{
		fetcher: fetcher,
		blobs:   cache.NewBlobCache(cache.NewMemoryStore(), clk, logger),
		tracker: tracker.New(store, clk, tracker.Config{}, logger),
		budget:  tracker.NewBudget(store, budget, logger),
		clk:     clk,
	}
	if budget == 0 {
		require.NoError(t, store.Set(context.Background(), "photoSessionBudget", "0", 0))
	}
	h.q = New(cfg, Deps{
		Fetcher: fetcher,
		Blobs:   h.blobs,
		Tracker: h.tracker,
		Budget:  h.budget,
		Clock:   clk,
		Logger:  logger,
	})
	t.Cleanup(h.q.Close)
	return h
}

// pump keeps advancing the manual clock while the worker is sleeping, until stop is closed.
func (h *harness) pump(stop <-chan struct{}) {
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			if h.clk.Waiters() > 0 {
				h.clk.Advance(time.Minute)
				continue
			}
			time.Sleep(time.Millisecond)
		}
	}()
}

func wait(t *testing.T, tk *Ticket) bool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	select {
	case <-tk.Done():
		return tk.OK()
	case <-ctx.Done():
		t.Fatal("ticket did not resolve")
		return false
	}
}

func TestCacheFirstNeverFetches(t *testing.T) {
	h := newHarness(t, Config{}, 0, newFetcher(nil))
	ctx := context.Background()

	require.True(t, h.blobs.Put(ctx, cache.PhotoBlobKey("cached-ref"), cache.Payload{ContentType: "image/jpeg", Data: []byte("x")}, time.Hour))

	target := newTarget()
	assert.True(t, wait(t, h.q.Enqueue(target, "cached-ref", Options{})))

	// budget is zero, yet a cached reference is still accepted and costs nothing
	tk, ok := h.q.TryEnqueue(ctx, newTarget(), "cached-ref", Options{Page: "destinations"})
	require.True(t, ok)
	assert.True(t, wait(t, tk))

	assert.Zero(t, h.fetcher.callCount())
	assert.Equal(t, []string{"photoBlob:cached-ref"}, target.shown)
	assert.Equal(t, 0, h.budget.PageUsage(ctx, "destinations"))
}

func TestBudgetZeroRefusesWithoutGoingNegative(t *testing.T) {
	h := newHarness(t, Config{}, 1, newFetcher(nil))
	ctx := context.Background()

	tk, ok := h.q.TryEnqueue(ctx, newTarget(), "r1", Options{Page: "p"})
	require.True(t, ok)
	assert.True(t, wait(t, tk))
	assert.Equal(t, 0, h.budget.Remaining(ctx))

	for range 5 {
		tk, ok := h.q.TryEnqueue(ctx, newTarget(), "r2", Options{Page: "p"})
		assert.False(t, ok)
		assert.Nil(t, tk)
		assert.Equal(t, 0, h.budget.Remaining(ctx))
	}
	assert.Equal(t, 1, h.budget.PageUsage(ctx, "p"), "session refusals give the page slot back")
	assert.Equal(t, 1, h.fetcher.callCount())
}

func TestPageGateAndManualLoads(t *testing.T) {
	h := newHarness(t, Config{PageAutoLimit: 2}, 10, newFetcher(nil))
	ctx := context.Background()

	for _, ref := range []string{"a", "b"} {
		_, ok := h.q.TryEnqueue(ctx, newTarget(), ref, Options{Page: "cuisine"})
		assert.True(t, ok)
	}
	_, ok := h.q.TryEnqueue(ctx, newTarget(), "c", Options{Page: "cuisine"})
	assert.False(t, ok, "third automatic load on the page is refused")

	tk, ok := h.q.TryEnqueue(ctx, newTarget(), "c", Options{Page: "cuisine", Manual: true})
	require.True(t, ok, "manual loads skip the page gate")
	assert.True(t, wait(t, tk))
	assert.Equal(t, 7, h.budget.Remaining(ctx))

	_, ok = h.q.TryEnqueue(ctx, newTarget(), "d", Options{Page: "destinations"})
	assert.True(t, ok, "other pages have their own counter")
}

func TestSerializedOrderWithoutOverlap(t *testing.T) {
	fetcher := newFetcher(func(ref string, _ int) bool { return ref == "r2" })
	h := newHarness(t, Config{MaxRetries: 1}, 100, fetcher)

	stop := make(chan struct{})
	defer close(stop)
	h.pump(stop)

	refs := []string{"r0", "r1", "r2", "r3", "r4"}
	tickets := make([]*Ticket, len(refs))
	for i, ref := range refs {
		tickets[i] = h.q.Enqueue(newTarget(), ref, Options{})
	}

	var outOfOrder atomic.Bool
	var wg sync.WaitGroup
	for i, tk := range tickets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-tk.Done()
			for _, earlier := range tickets[:i] {
				select {
				case <-earlier.Done():
				default:
					outOfOrder.Store(true)
				}
			}
		}()
	}

	for i, tk := range tickets {
		assert.Equal(t, refs[i] != "r2", wait(t, tk), refs[i])
	}
	wg.Wait()

	assert.False(t, outOfOrder.Load(), "tickets resolved out of submission order")
	assert.False(t, fetcher.overlap.Load(), "fetch phases overlapped")
	assert.Equal(t, []string{"r0", "r1", "r2", "r2", "r3", "r4"}, fetcher.callLog(), "failed job is retried at the front")
}

func TestRetryExhaustionRecordsReferenceFailure(t *testing.T) {
	fetcher := newFetcher(func(string, int) bool { return true })
	h := newHarness(t, Config{}, 100, fetcher)
	ctx := context.Background()

	stop := make(chan struct{})
	defer close(stop)
	h.pump(stop)

	target := newTarget()
	assert.False(t, wait(t, h.q.Enqueue(target, "dead-ref", Options{})))

	assert.Equal(t, 1+DefaultMaxRetries, fetcher.callCount())
	assert.Equal(t, 1, h.tracker.ReferenceFailures(ctx, "dead-ref"))
	assert.Equal(t, 1+DefaultMaxRetries, h.tracker.HostEntry(ctx, photoHost).Failures)
	assert.Zero(t, target.shownCount(), "placeholder stays")
}

func TestHostCooldownDelaysFetch(t *testing.T) {
	h := newHarness(t, Config{}, 100, newFetcher(nil))
	ctx := context.Background()

	h.tracker.RecordHostFailure(ctx, photoHost) // 10s cooldown

	tk := h.q.Enqueue(newTarget(), "r1", Options{})
	h.clk.BlockUntil(1)
	assert.Zero(t, h.fetcher.callCount(), "no fetch while the host cools down")
	assert.Equal(t, 1, h.q.Len(), "job waits at the front of the queue")

	h.clk.Advance(10 * time.Second)
	assert.True(t, wait(t, tk))
	assert.Equal(t, 1, h.fetcher.callCount())
}

func TestFailureChargesRespondingHost(t *testing.T) {
	fetcher := newFetcher(func(_ string, call int) bool { return call == 1 })
	fetcher.failWith = &places.StatusError{Code: 503, Host: "lh3.example.test"}
	h := newHarness(t, Config{}, 100, fetcher)
	ctx := context.Background()

	tk := h.q.Enqueue(newTarget(), "r1", Options{})
	h.clk.BlockUntil(1) // backoff after the first failure
	assert.Equal(t, 1, h.tracker.HostEntry(ctx, "lh3.example.test").Failures)
	assert.Zero(t, h.tracker.HostEntry(ctx, photoHost).Failures)

	h.clk.Advance(3 * time.Second)
	h.clk.BlockUntil(1)
	assert.Equal(t, 1, fetcher.callCount(), "the retry waits out the responding host's cooldown")

	h.clk.Advance(10 * time.Second)
	assert.True(t, wait(t, tk))
	assert.Equal(t, 2, fetcher.callCount())
}

func TestSuccessPersistsBlob(t *testing.T) {
	h := newHarness(t, Config{}, 100, newFetcher(nil))
	ctx := context.Background()

	target := newTarget()
	require.True(t, wait(t, h.q.Enqueue(target, "fresh", Options{})))
	assert.Equal(t, []string{"photoBlob:fresh"}, target.shown)

	require.Eventually(t, func() bool {
		_, ok := h.blobs.Get(ctx, cache.PhotoBlobKey("fresh"))
		return ok
	}, time.Second, time.Millisecond)

	assert.True(t, wait(t, h.q.Enqueue(newTarget(), "fresh", Options{})))
	assert.Equal(t, 1, h.fetcher.callCount())
}

func TestDetachedTargetIsAbandoned(t *testing.T) {
	h := newHarness(t, Config{}, 100, newFetcher(nil))

	target := newTarget()
	target.alive = false
	assert.False(t, wait(t, h.q.Enqueue(target, "r1", Options{})))
	assert.Zero(t, h.fetcher.callCount())
	assert.Zero(t, target.shownCount())
}

func TestCloseResolvesWaitingJobs(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"))

	clk := clock.NewManual(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	store := session.NewMemoryStore()
	tr := tracker.New(store, clk, tracker.Config{}, nil)
	tr.RecordHostFailure(context.Background(), photoHost)

	q := New(Config{}, Deps{
		Fetcher: newFetcher(nil),
		Tracker: tr,
		Budget:  tracker.NewBudget(store, 0, nil),
		Clock:   clk,
	})

	first := q.Enqueue(newTarget(), "a", Options{})
	second := q.Enqueue(newTarget(), "b", Options{})
	clk.BlockUntil(1)

	q.Close()
	assert.False(t, wait(t, first))
	assert.False(t, wait(t, second))
	assert.False(t, wait(t, q.Enqueue(newTarget(), "late", Options{})))
}
