package browser

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrPoolClosed is returned by Acquire once the pool has been closed.
	ErrPoolClosed = errors.New("page pool is closed")
	// ErrNotAcquired reports a release of a handle this pool does not
	// currently consider acquired: a double release or a release from a
	// caller that never acquired. Integration bug, not a runtime condition.
	ErrNotAcquired = errors.New("page handle is not acquired from this pool")
)

// PageFactory opens a fresh page when the pool grows.
type PageFactory func(ctx context.Context) (Page, error)

// Handle is an owned reference to one pooled page. Ownership moves only
// through Acquire and Release.
type Handle struct {
	Page Page
	pool *Pool
}

// Pool is a bounded set of page handles with a FIFO queue of pending
// acquires. Construct one per automation run; there is no process-wide
// instance.
type Pool struct {
	factory PageFactory
	max     int

	mu        sync.Mutex
	available []*Handle
	acquired  map[*Handle]bool
	waiters   []chan *Handle
	total     int
	closed    bool
}

// NewPool builds a pool capped at max live pages (minimum 1).
func NewPool(max int, factory PageFactory) *Pool {
	if max < 1 {
		max = 1
	}
	return &Pool{
		factory:  factory,
		max:      max,
		acquired: make(map[*Handle]bool),
	}
}

// Acquire returns a page handle owned exclusively by the caller. It reuses an
// available handle, grows the pool while under the cap, or queues behind
// earlier callers until a release hands a handle over. The pool imposes no
// deadline of its own; compose one over ctx.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if len(p.available) > 0 {
		h := p.available[0]
		p.available = p.available[1:]
		p.acquired[h] = true
		p.mu.Unlock()
		return h, nil
	}
	if p.total < p.max {
		p.total++
		p.mu.Unlock()
		pg, err := p.factory(ctx)
		if err != nil {
			p.mu.Lock()
			p.total--
			p.mu.Unlock()
			return nil, err
		}
		h := &Handle{Page: pg, pool: p}
		p.mu.Lock()
		p.acquired[h] = true
		p.mu.Unlock()
		return h, nil
	}
	ch := make(chan *Handle, 1)
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()

	select {
	case h, ok := <-ch:
		if !ok {
			return nil, ErrPoolClosed
		}
		return h, nil
	case <-ctx.Done():
		p.mu.Lock()
		queued := false
		for i, w := range p.waiters {
			if w == ch {
				p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
				queued = true
				break
			}
		}
		p.mu.Unlock()
		if !queued {
			// The channel is no longer queued, so a release has already
			// committed a handle to this waiter (or close is shutting the
			// channel). The send may not have landed yet; receive for real
			// and hand the handle back, or its slot leaks.
			if h, ok := <-ch; ok {
				_ = p.Release(h)
			}
		}
		return nil, ctx.Err()
	}
}

// Release returns a handle to the pool. With waiters pending the handle goes
// straight to the oldest one and is never marked available in between.
func (p *Pool) Release(h *Handle) error {
	if h == nil || h.pool != p {
		return ErrNotAcquired
	}
	p.mu.Lock()
	if !p.acquired[h] {
		p.mu.Unlock()
		return ErrNotAcquired
	}
	delete(p.acquired, h)
	if len(p.waiters) > 0 {
		ch := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.acquired[h] = true
		p.mu.Unlock()
		ch <- h
		return nil
	}
	if p.closed {
		p.total--
		p.mu.Unlock()
		return h.Page.Close()
	}
	p.available = append(p.available, h)
	p.mu.Unlock()
	return nil
}

// Close rejects future acquires, wakes queued waiters with ErrPoolClosed and
// closes idle pages. Pages still acquired are closed as their owners release
// them.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	waiters := p.waiters
	p.waiters = nil
	idle := p.available
	p.available = nil
	p.total -= len(idle)
	p.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
	var firstErr error
	for _, h := range idle {
		if err := h.Page.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Live reports how many pages currently exist, acquired or idle.
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}
