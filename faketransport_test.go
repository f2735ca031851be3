package confirm

import (
	"context"
	"errors"
	"sync"
)

var errBrokenWrite = errors.New("write failed: connection down")

// fakeTransport is an in-memory Transport for tests. Channel behavior is
// controlled per transport: automatic acks/nacks, write failures after a
// number of successful writes, or manual confirmation injection.
type fakeTransport struct {
	mu      sync.Mutex
	openErr error
	opened  []*fakeChannel

	// behavior applied to newly opened channels
	autoAck        bool
	autoNack       bool
	autoNackReason Reason
	failWriteAfter int // fail writes once this many succeeded; -1 = never
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{failWriteAfter: -1}
}

func (t *fakeTransport) OpenChannel(_ context.Context) (TransportChannel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.openErr != nil {
		return nil, t.openErr
	}
	c := &fakeChannel{
		autoAck:        t.autoAck,
		autoNack:       t.autoNack,
		autoNackReason: t.autoNackReason,
		failWriteAfter: t.failWriteAfter,
		confirms:       make(chan Confirmation, 16384),
	}
	t.opened = append(t.opened, c)
	return c, nil
}

func (t *fakeTransport) openedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.opened)
}

func (t *fakeTransport) channel(i int) *fakeChannel {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opened[i]
}

type fakeChannel struct {
	mu             sync.Mutex
	seq            uint64
	writes         []*Message
	autoAck        bool
	autoNack       bool
	autoNackReason Reason
	failWriteAfter int
	closed         bool

	confirms chan Confirmation
}

func (c *fakeChannel) NextSequence() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq + 1
}

func (c *fakeChannel) Write(_ context.Context, msg *Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWriteAfter >= 0 && len(c.writes) >= c.failWriteAfter {
		return errBrokenWrite
	}
	c.seq++
	c.writes = append(c.writes, msg)
	if c.autoAck {
		c.confirms <- Confirmation{Seq: c.seq, Ack: true}
	}
	if c.autoNack {
		c.confirms <- Confirmation{Seq: c.seq, Ack: false, Reason: c.autoNackReason}
	}
	return nil
}

func (c *fakeChannel) Confirmations() <-chan Confirmation {
	return c.confirms
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.confirms)
	}
	return nil
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

func (c *fakeChannel) ack(seq uint64, multiple bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.confirms <- Confirmation{Seq: seq, Ack: true, Multiple: multiple}
	}
}

func (c *fakeChannel) nack(seq uint64, multiple bool, reason Reason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.confirms <- Confirmation{Seq: seq, Ack: false, Multiple: multiple, Reason: reason}
	}
}
