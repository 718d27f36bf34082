// Package clock abstracts wall time so TTL, cooldown and backoff logic can be driven by tests.
package clock

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Clock is the time source used by the photo pipeline.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

// wall clock
type Real struct{}

func (Real) Now() time.Time                         { return time.Now() }
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Or returns c, or the wall clock when c is nil.
func Or(c Clock) Clock {
	if c == nil {
		return Real{}
	}
	return c
}

// Sleep waits for d on c, returning early with ctx.Err() when ctx is done.
func Sleep(ctx context.Context, c Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.After(d):
		return nil
	}
}

// Manual is a Clock that only moves when Advance or Set is called.
type Manual struct {
	mu      sync.Mutex
	cond    *sync.Cond
	now     time.Time
	waiters []*waiter
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
	fn       func()
}

func (w *waiter) fire(now time.Time) {
	if w.fn != nil {
		go w.fn()
		return
	}
	w.ch <- now
}

type manualTimer struct {
	c *Manual
	w *waiter
}

func (t manualTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	for i, w := range t.c.waiters {
		if w == t.w {
			t.c.waiters = append(t.c.waiters[:i], t.c.waiters[i+1:]...)
			return true
		}
	}
	return false
}

func NewManual(start time.Time) *Manual {
	m := &Manual{now: start}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) After(d time.Duration) <-chan time.Time {
	w := &waiter{ch: make(chan time.Time, 1)}
	m.add(w, d)
	return w.ch
}

func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	w := &waiter{fn: f}
	m.add(w, d)
	return manualTimer{c: m, w: w}
}

func (m *Manual) add(w *waiter, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w.deadline = m.now.Add(d)
	if d <= 0 {
		w.fire(m.now)
		return
	}
	m.waiters = append(m.waiters, w)
	m.cond.Broadcast()
}

// Advance moves the clock forward by d and fires every waiter whose deadline has passed.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.fireLocked()
	m.mu.Unlock()
}

func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.fireLocked()
	m.mu.Unlock()
}

func (m *Manual) fireLocked() {
	sort.SliceStable(m.waiters, func(i, j int) bool {
		return m.waiters[i].deadline.Before(m.waiters[j].deadline)
	})
	pending := m.waiters[:0]
	for _, w := range m.waiters {
		if !w.deadline.After(m.now) {
			w.fire(m.now)
			continue
		}
		pending = append(pending, w)
	}
	m.waiters = pending
}

// pending timers
func (m *Manual) Waiters() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}

// BlockUntil blocks until at least n timers are pending.
func (m *Manual) BlockUntil(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.waiters) < n {
		m.cond.Wait()
	}
}
