package confirm

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type channelState int

const (
	stateIdle channelState = iota
	stateLeased
	stateDraining
	stateClosed
)

func (s channelState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateLeased:
		return "leased"
	case stateDraining:
		return "draining"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Channel is a broker channel leased from a Pool. It is exclusively owned by
// one publishing operation at a time; its confirmation bookkeeping is shared
// with the tracker goroutine that consumes the transport's ack/nack stream.
//
// Delivery sequences are scoped to this channel. At most one outstanding
// correlation entry exists per sequence; resolving an entry removes it and
// emits exactly one terminal outcome for the associated message.
type Channel struct {
	id   uint64
	pool *Pool
	tc   TransportChannel

	mu      sync.Mutex
	state   channelState
	suspect bool
	pending map[uint64]*entry
}

// entry correlates one outstanding (channel, delivery sequence) pair with
// the message and batch awaiting its confirmation.
type entry struct {
	msgID uuid.UUID
	batch *BatchReceipt
}

type resolvedEntry struct {
	entry   *entry
	outcome Outcome
}

func newChannel(pool *Pool, tc TransportChannel, id uint64) *Channel {
	c := &Channel{
		id:      id,
		pool:    pool,
		tc:      tc,
		state:   stateLeased,
		pending: make(map[uint64]*entry),
	}
	go c.trackConfirmations()
	return c
}

// ID returns the pool-assigned identity of the channel.
func (c *Channel) ID() uint64 { return c.id }

// Outstanding returns the number of messages published on this channel that
// are still awaiting a broker confirmation.
func (c *Channel) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// register creates the correlation entry for the next message to be written.
// It must be called before the corresponding write so that a confirmation
// can never arrive for an unregistered sequence.
func (c *Channel) register(msg *Message, batch *BatchReceipt) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	seq := c.tc.NextSequence()
	c.pending[seq] = &entry{msgID: msg.ID, batch: batch}
	c.pool.outstanding.Add(1)
	return seq
}

func (c *Channel) write(ctx context.Context, msg *Message) error {
	return c.tc.Write(ctx, msg)
}

// markSuspect flags the channel so that it is closed instead of returned to
// the pool. Used after write failures and confirmation timeouts, when the
// channel's bookkeeping may no longer agree with the broker.
func (c *Channel) markSuspect() {
	c.mu.Lock()
	c.suspect = true
	c.mu.Unlock()
}

// trackConfirmations is the single consumer of the transport's confirmation
// stream for this channel. Modeling broker callbacks as message passing
// keeps pending-state mutation single-writer per channel.
func (c *Channel) trackConfirmations() {
	for conf := range c.tc.Confirmations() {
		c.resolveConfirmation(conf)
	}
	c.streamClosed()
}

func (c *Channel) resolveConfirmation(conf Confirmation) {
	c.mu.Lock()
	var resolved []resolvedEntry
	if conf.Multiple {
		for seq, e := range c.pending {
			if seq <= conf.Seq {
				resolved = append(resolved, resolvedEntry{e, c.outcomeFor(e, conf)})
				delete(c.pending, seq)
			}
		}
	} else if e, ok := c.pending[conf.Seq]; ok {
		// Unknown or already resolved sequences are a no-op: transports may
		// deliver duplicate or out-of-order notifications.
		resolved = append(resolved, resolvedEntry{e, c.outcomeFor(e, conf)})
		delete(c.pending, conf.Seq)
	}
	needsClose := c.finishDrainLocked()
	c.mu.Unlock()

	c.finish(resolved)
	if needsClose {
		_ = c.tc.Close()
	} else if c.pool.closed.Load() {
		c.pool.reapIdle()
	}
}

func (c *Channel) outcomeFor(e *entry, conf Confirmation) Outcome {
	if conf.Ack {
		return Outcome{MessageID: e.msgID, Status: StatusConfirmed}
	}
	return Outcome{MessageID: e.msgID, Status: StatusRejected, Reason: conf.Reason}
}

// rejectSeq resolves a single registered sequence as rejected without a
// broker notification. Used when the write for that sequence failed and no
// confirmation will ever arrive.
func (c *Channel) rejectSeq(seq uint64, reason Reason) {
	c.mu.Lock()
	var resolved []resolvedEntry
	if e, ok := c.pending[seq]; ok {
		resolved = append(resolved, resolvedEntry{e, Outcome{MessageID: e.msgID, Status: StatusRejected, Reason: reason}})
		delete(c.pending, seq)
	}
	c.mu.Unlock()
	c.finish(resolved)
}

// expireBatch resolves every entry of the given batch still outstanding on
// this channel as TimedOut and marks the channel suspect. Entries belonging
// to other batches (a later lease of a recycled channel) are untouched.
func (c *Channel) expireBatch(b *BatchReceipt) {
	c.mu.Lock()
	var resolved []resolvedEntry
	for seq, e := range c.pending {
		if e.batch != b {
			continue
		}
		resolved = append(resolved, resolvedEntry{e, Outcome{MessageID: e.msgID, Status: StatusTimedOut, Reason: ReasonConfirmTimeout}})
		delete(c.pending, seq)
	}
	if len(resolved) > 0 {
		c.suspect = true
	}
	needsClose := c.finishDrainLocked()
	c.mu.Unlock()

	c.finish(resolved)
	if needsClose {
		_ = c.tc.Close()
	} else if c.pool.closed.Load() {
		c.pool.reapIdle()
	}
}

// streamClosed runs when the transport confirmation stream closes, either
// because the pool closed the channel or because the broker did. Entries
// still outstanding can never be confirmed and resolve as transiently
// rejected.
func (c *Channel) streamClosed() {
	c.mu.Lock()
	var resolved []resolvedEntry
	for seq, e := range c.pending {
		resolved = append(resolved, resolvedEntry{e, Outcome{MessageID: e.msgID, Status: StatusRejected, Reason: ReasonChannelClosed}})
		delete(c.pending, seq)
	}
	prev := c.state
	c.state = stateClosed
	c.mu.Unlock()

	c.finish(resolved)
	if prev != stateClosed {
		c.pool.channelClosed(prev)
		_ = c.tc.Close()
	}
}

// finishDrainLocked completes the Draining -> Idle | Closed transition once
// the last outstanding entry resolves. Suspect channels and channels whose
// pool has closed go to Closed instead of back to the free list. Returns
// true when the caller must close the transport channel after releasing the
// lock.
func (c *Channel) finishDrainLocked() bool {
	if c.state != stateDraining || len(c.pending) != 0 {
		return false
	}
	if c.suspect || c.pool.closed.Load() {
		c.state = stateClosed
		c.pool.channelClosed(stateDraining)
		return true
	}
	c.state = stateIdle
	c.pool.drainFinished(c)
	return false
}

func (c *Channel) finish(resolved []resolvedEntry) {
	for _, r := range resolved {
		c.pool.recordOutcome(r.outcome.Status)
		c.pool.outstanding.Add(-1)
		r.entry.batch.deliver(r.outcome)
	}
}
