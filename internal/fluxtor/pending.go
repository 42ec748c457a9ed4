package fluxtor

import (
	"context"
	"sync"
)

// Pending tracks one dispatch through the pipeline.
//
// A dispatch whose middleware never forwards stays pending forever; bound
// Wait with a context deadline when that is possible.
type Pending struct {
	ID     string
	Action string
	Seq    int64

	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	payload any
	err     error
}

func newPending(id, action string, seq int64) *Pending {
	return &Pending{
		ID:     id,
		Action: action,
		Seq:    seq,
		done:   make(chan struct{}),
	}
}

// finish records the outcome and releases waiters. Only the first call
// counts.
func (p *Pending) finish(payload any, err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.payload = payload
		p.err = err
		p.mu.Unlock()
		close(p.done)
	})
}

// Done returns a channel closed when the dispatch finished, successfully or not.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Completed reports whether the dispatch finished.
func (p *Pending) Completed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the dispatch finishes or ctx ends. It returns the
// dispatch error, or ctx.Err() if the context ended first. Ending ctx does
// not cancel the dispatch.
func (p *Pending) Wait(ctx context.Context) error {
	if p.Completed() {
		return p.Err()
	}
	select {
	case <-p.done:
		return p.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the dispatch error. Nil while pending.
func (p *Pending) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Payload returns the payload that reached the reducers. Nil while pending.
func (p *Pending) Payload() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.payload
}
