package natsjs

import (
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oagudo/confirm"
)

type fakePubAckFuture struct {
	ok  chan *nats.PubAck
	err chan error
}

func newFakeFuture() *fakePubAckFuture {
	return &fakePubAckFuture{
		ok:  make(chan *nats.PubAck, 1),
		err: make(chan error, 1),
	}
}

func (f *fakePubAckFuture) Ok() <-chan *nats.PubAck { return f.ok }
func (f *fakePubAckFuture) Err() <-chan error       { return f.err }
func (f *fakePubAckFuture) Msg() *nats.Msg          { return nil }

func newTestChannel() *channel {
	return &channel{
		config: Config{Subject: "events"}.applyDefaults(),
		out:    make(chan confirm.Confirmation, 16),
		closed: make(chan struct{}),
	}
}

func TestConfigApplyDefaults(t *testing.T) {
	c := Config{}.applyDefaults()
	assert.Equal(t, 256, c.MaxPending)
	assert.Equal(t, 256, c.BufferSize)
	assert.NotNil(t, c.Logger)

	c = Config{MaxPending: 8, BufferSize: 4}.applyDefaults()
	assert.Equal(t, 8, c.MaxPending)
	assert.Equal(t, 4, c.BufferSize)
}

func TestNextSequenceIsOneAhead(t *testing.T) {
	c := newTestChannel()
	assert.Equal(t, uint64(1), c.NextSequence())

	c.seq.Add(1)
	assert.Equal(t, uint64(2), c.NextSequence())
}

func TestAwaitResolvesAck(t *testing.T) {
	c := newTestChannel()
	future := newFakeFuture()

	c.awaiters.Add(1)
	go c.await(1, future)
	future.ok <- &nats.PubAck{Stream: "EVENTS", Sequence: 42}

	select {
	case conf := <-c.out:
		assert.Equal(t, confirm.Confirmation{Seq: 1, Ack: true}, conf)
	case <-time.After(time.Second):
		t.Fatal("expected an ack")
	}
}

func TestAwaitResolvesErrorAsTransientNack(t *testing.T) {
	c := newTestChannel()
	future := newFakeFuture()

	c.awaiters.Add(1)
	go c.await(1, future)
	future.err <- errors.New("nats: no response from stream")

	select {
	case conf := <-c.out:
		assert.False(t, conf.Ack)
		assert.False(t, conf.Reason.Permanent)
		assert.Equal(t, "nats: no response from stream", conf.Reason.Code)
	case <-time.After(time.Second):
		t.Fatal("expected a nack")
	}
}

func TestCloseAbandonsInFlightFutures(t *testing.T) {
	c := newTestChannel()
	future := newFakeFuture() // never resolves

	c.awaiters.Add(1)
	go c.await(1, future)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close()) // idempotent

	select {
	case _, open := <-c.out:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("expected the confirmation stream to close")
	}
}
