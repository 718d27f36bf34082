package photoqueue

import (
	"context"
	"sync"
)

// Ticket reports the outcome of one queued photo.
type Ticket struct {
	once sync.Once
	done chan struct{}
	ok   bool
}

func newTicket() *Ticket {
	return &Ticket{done: make(chan struct{})}
}

func (t *Ticket) resolve(ok bool) {
	t.once.Do(func() {
		t.ok = ok
		close(t.done)
	})
}

// Done is closed once the job succeeded or gave up.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// OK reports the outcome. Only meaningful after Done is closed.
func (t *Ticket) OK() bool {
	select {
	case <-t.done:
		return t.ok
	default:
		return false
	}
}

// Wait blocks until the job finishes or ctx ends, and reports whether the photo was shown.
func (t *Ticket) Wait(ctx context.Context) bool {
	select {
	case <-t.done:
		return t.ok
	case <-ctx.Done():
		return false
	}
}
