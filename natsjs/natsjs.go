// Package natsjs implements the confirm.Transport interface on top of NATS
// JetStream asynchronous publishing using github.com/nats-io/nats.go.
//
// JetStream has no channel multiplexing, so each transport channel is an
// independent JetStream context with its own in-flight publish window.
// Delivery sequences are assigned locally in publish order; publish ack
// futures resolve them one at a time, so confirmations never carry the
// multiple flag.
package natsjs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"github.com/oagudo/confirm"
)

// Config configures the JetStream transport.
type Config struct {
	// Subject is the subject messages are published to.
	Subject string

	// MaxPending is the JetStream in-flight publish window per channel.
	// Default is 256.
	MaxPending int

	// BufferSize is the buffer of the confirmation channel.
	// Default is 256.
	BufferSize int

	// Logger for operational logging.
	Logger *slog.Logger
}

func (c Config) applyDefaults() Config {
	if c.MaxPending <= 0 {
		c.MaxPending = 256
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 256
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Transport is a confirm.Transport backed by one NATS connection.
type Transport struct {
	nc     *nats.Conn
	config Config
}

// NewTransport wraps an existing NATS connection. The caller keeps ownership
// of the connection lifecycle.
func NewTransport(nc *nats.Conn, config Config) *Transport {
	return &Transport{
		nc:     nc,
		config: config.applyDefaults(),
	}
}

// OpenChannel creates a new JetStream context with its own publish window.
func (t *Transport) OpenChannel(_ context.Context) (confirm.TransportChannel, error) {
	js, err := t.nc.JetStream(nats.PublishAsyncMaxPending(t.config.MaxPending))
	if err != nil {
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	return &channel{
		js:     js,
		config: t.config,
		out:    make(chan confirm.Confirmation, t.config.BufferSize),
		closed: make(chan struct{}),
	}, nil
}

type channel struct {
	js     nats.JetStreamContext
	config Config

	seq       atomic.Uint64
	out       chan confirm.Confirmation
	closed    chan struct{}
	closeOnce sync.Once
	awaiters  sync.WaitGroup
}

func (c *channel) NextSequence() uint64 {
	return c.seq.Load() + 1
}

func (c *channel) Write(_ context.Context, msg *confirm.Message) error {
	m := &nats.Msg{
		Subject: c.config.Subject,
		Data:    msg.Payload,
		Header:  make(nats.Header),
	}
	m.Header.Set("message_id", msg.ID.String())

	future, err := c.js.PublishMsgAsync(m)
	if err != nil {
		return fmt.Errorf("publishing message %s: %w", msg.ID, err)
	}

	seq := c.seq.Add(1)
	c.awaiters.Add(1)
	go c.await(seq, future)
	return nil
}

// await resolves one publish ack future into a confirmation. JetStream
// publish errors (no stream, timeout) are transient: retrying on a fresh
// channel can succeed.
func (c *channel) await(seq uint64, future nats.PubAckFuture) {
	defer c.awaiters.Done()

	select {
	case <-future.Ok():
		c.emit(confirm.Confirmation{Seq: seq, Ack: true})
	case err := <-future.Err():
		c.config.Logger.Warn("Async publish failed",
			"seq", seq,
			"error", err,
		)
		c.emit(confirm.Confirmation{Seq: seq, Ack: false, Reason: confirm.Reason{Code: err.Error()}})
	case <-c.closed:
	}
}

func (c *channel) emit(conf confirm.Confirmation) {
	select {
	case c.out <- conf:
	case <-c.closed:
	}
}

func (c *channel) Confirmations() <-chan confirm.Confirmation {
	return c.out
}

// Close stops the channel. In-flight ack futures are abandoned; the
// confirmation stream closes once the last awaiter exits.
func (c *channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		go func() {
			c.awaiters.Wait()
			close(c.out)
		}()
	})
	return nil
}
