package confirm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// Pool owns a bounded set of broker channels and leases them to publishing
// operations. A channel is recycled only once every confirmation published
// on it has been resolved; a channel with outstanding confirmations that is
// released enters a draining state and returns to the pool automatically
// when its last entry resolves.
//
// The pool never opens more channels than its configured maximum. When the
// pool is exhausted, Acquire blocks up to the acquisition timeout and then
// fails with ErrChannelUnavailable instead of creating an unbounded number
// of channels. This is the central defense against channel churn under load.
type Pool struct {
	transport      Transport
	maxSize        int
	acquireTimeout time.Duration

	// idle holds channels ready for lease. slots holds one token per
	// channel the pool is still allowed to open. Both are sized to maxSize
	// so sends never block.
	idle  chan *Channel
	slots chan struct{}

	closed atomic.Bool
	nextID atomic.Uint64

	idleN       atomic.Int64
	leasedN     atomic.Int64
	drainingN   atomic.Int64
	openN       atomic.Int64
	outstanding atomic.Int64
	confirmedN  atomic.Uint64
	rejectedN   atomic.Uint64
	timedOutN   atomic.Uint64
}

// NewPool creates a channel pool on top of the given transport.
//
// maxSize bounds the number of live channels and must be positive.
// acquireTimeout bounds how long Acquire blocks when the pool is exhausted
// and must be positive: a pool without an acquisition bound hides
// backpressure until the process runs out of channels, so it is rejected
// here rather than allowed silently.
func NewPool(transport Transport, maxSize int, acquireTimeout time.Duration) (*Pool, error) {
	if transport == nil {
		return nil, errors.New("transport must not be nil")
	}
	if maxSize <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got %d", maxSize)
	}
	if acquireTimeout <= 0 {
		return nil, fmt.Errorf("acquisition timeout must be positive, got %s", acquireTimeout)
	}

	p := &Pool{
		transport:      transport,
		maxSize:        maxSize,
		acquireTimeout: acquireTimeout,
		idle:           make(chan *Channel, maxSize),
		slots:          make(chan struct{}, maxSize),
	}
	for i := 0; i < maxSize; i++ {
		p.slots <- struct{}{}
	}
	return p, nil
}

// Acquire leases a channel for exclusive use by one publishing operation.
// It prefers an idle channel, opens a new one while the pool is below
// capacity, and otherwise blocks until a channel becomes idle, the
// acquisition timeout elapses (ErrChannelUnavailable) or ctx is done.
//
// An expired Acquire has no side effects: no channel is created.
func (p *Pool) Acquire(ctx context.Context) (*Channel, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	for {
		// Prefer reusing an idle channel over opening a new one.
		select {
		case c := <-p.idle:
			if p.tryLease(c) {
				return c, nil
			}
			continue
		default:
		}

		select {
		case c := <-p.idle:
			if p.tryLease(c) {
				return c, nil
			}
		case <-p.slots:
			return p.openChannel(ctx)
		case <-timer.C:
			return nil, ErrChannelUnavailable
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// tryLease transitions an idle channel to leased. Channels that were closed
// broker-side while sitting in the free list are discarded and their
// capacity token returned.
func (p *Pool) tryLease(c *Channel) bool {
	c.mu.Lock()
	if c.state != stateIdle {
		c.mu.Unlock()
		p.slots <- struct{}{}
		return false
	}
	c.state = stateLeased
	p.idleN.Add(-1)
	p.leasedN.Add(1)
	c.mu.Unlock()
	return true
}

func (p *Pool) openChannel(ctx context.Context) (*Channel, error) {
	tc, err := p.transport.OpenChannel(ctx)
	if err != nil {
		p.slots <- struct{}{}
		return nil, fmt.Errorf("opening transport channel: %w", err)
	}
	p.openN.Add(1)
	p.leasedN.Add(1)
	return newChannel(p, tc, p.nextID.Add(1)), nil
}

// Release returns a leased channel to the pool. A channel with zero
// outstanding confirmations becomes idle immediately; otherwise it enters
// the draining state and becomes idle once its last entry resolves. Suspect
// channels (write failure, confirmation timeout) are closed instead of
// recycled: their bookkeeping may no longer agree with the broker. Channels
// released after the pool closed are closed as well.
func (p *Pool) Release(c *Channel) {
	c.mu.Lock()
	if c.state != stateLeased {
		c.mu.Unlock()
		return
	}

	if c.suspect || p.closed.Load() {
		c.state = stateClosed
		p.channelClosed(stateLeased)
		c.mu.Unlock()
		_ = c.tc.Close()
		return
	}

	if len(c.pending) == 0 {
		c.state = stateIdle
		p.leasedN.Add(-1)
		p.idleN.Add(1)
		p.idle <- c
		c.mu.Unlock()
		// Close may have run between the check above and the push; reap so
		// the channel cannot sit idle on a closed pool.
		if p.closed.Load() {
			p.reapIdle()
		}
		return
	}

	c.state = stateDraining
	p.leasedN.Add(-1)
	p.drainingN.Add(1)
	c.mu.Unlock()
}

// Close closes the pool's idle channels and stops handing out new leases.
// Channels currently leased or draining are closed as their owners release
// them or their confirmations resolve.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.reapIdle()
	return nil
}

// reapIdle closes every channel sitting in the free list. Called on Close
// and again by any operation that may have pooled a channel concurrently
// with it.
func (p *Pool) reapIdle() {
	for {
		select {
		case c := <-p.idle:
			c.mu.Lock()
			if c.state == stateIdle {
				c.state = stateClosed
				p.idleN.Add(-1)
				p.openN.Add(-1)
				c.mu.Unlock()
				_ = c.tc.Close()
			} else {
				c.mu.Unlock()
			}
		default:
			return
		}
	}
}

// channelClosed updates pool bookkeeping when a channel leaves the given
// state for closed. Channels closed while idle keep their capacity token
// until they are popped from the free list by an Acquire.
func (p *Pool) channelClosed(prev channelState) {
	switch prev {
	case stateIdle:
		p.idleN.Add(-1)
	case stateLeased:
		p.leasedN.Add(-1)
		p.slots <- struct{}{}
	case stateDraining:
		p.drainingN.Add(-1)
		p.slots <- struct{}{}
	}
	p.openN.Add(-1)
}

// drainFinished is called with the channel lock held once the last
// outstanding entry of a draining channel resolves.
func (p *Pool) drainFinished(c *Channel) {
	p.drainingN.Add(-1)
	p.idleN.Add(1)
	p.idle <- c
}

func (p *Pool) recordOutcome(s Status) {
	switch s {
	case StatusConfirmed:
		p.confirmedN.Add(1)
	case StatusRejected:
		p.rejectedN.Add(1)
	case StatusTimedOut:
		p.timedOutN.Add(1)
	}
}
