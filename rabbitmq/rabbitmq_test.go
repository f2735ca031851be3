package rabbitmq

import (
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oagudo/confirm"
)

func TestConfigApplyDefaults(t *testing.T) {
	c := Config{}.applyDefaults()
	assert.Equal(t, 256, c.BufferSize)
	assert.NotNil(t, c.Logger)

	c = Config{BufferSize: 16, Logger: slog.Default()}.applyDefaults()
	assert.Equal(t, 16, c.BufferSize)
}

func newTestChannel() *channel {
	return &channel{
		config:   Config{}.applyDefaults(),
		out:      make(chan confirm.Confirmation, 16),
		seqByID:  make(map[string]uint64),
		idBySeq:  make(map[uint64]string),
		returned: make(map[uint64]bool),
	}
}

func (c *channel) track(id string, seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seqByID[id] = seq
	c.idBySeq[seq] = id
}

func TestTranslateAck(t *testing.T) {
	c := newTestChannel()
	c.track(uuid.NewString(), 7)

	got := c.translate(amqp.Confirmation{DeliveryTag: 7, Ack: true})
	assert.Equal(t, confirm.Confirmation{Seq: 7, Ack: true}, got)

	// Bookkeeping for the sequence is released once it is confirmed.
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Empty(t, c.seqByID)
	assert.Empty(t, c.idBySeq)
}

func TestTranslateNack(t *testing.T) {
	c := newTestChannel()
	c.track(uuid.NewString(), 3)

	got := c.translate(amqp.Confirmation{DeliveryTag: 3, Ack: false})
	assert.Equal(t, confirm.Confirmation{Seq: 3, Ack: false, Reason: reasonNack}, got)
	assert.False(t, got.Reason.Permanent)
}

func TestReturnedMessageAckBecomesPermanentRejection(t *testing.T) {
	c := newTestChannel()
	id := uuid.NewString()
	c.track(id, 5)

	// RabbitMQ returns an unroutable message first, then acks it.
	c.markReturned(amqp.Return{MessageId: id, ReplyText: "NO_ROUTE"})
	got := c.translate(amqp.Confirmation{DeliveryTag: 5, Ack: true})

	assert.False(t, got.Ack)
	assert.Equal(t, confirm.ReasonUnroutable, got.Reason)
	assert.True(t, got.Reason.Permanent)
}

func TestReturnForUnknownMessageIsIgnored(t *testing.T) {
	c := newTestChannel()
	c.track(uuid.NewString(), 1)

	c.markReturned(amqp.Return{MessageId: uuid.NewString(), ReplyText: "NO_ROUTE"})
	got := c.translate(amqp.Confirmation{DeliveryTag: 1, Ack: true})
	assert.True(t, got.Ack)
}

func TestRunMergesReturnsAndConfirms(t *testing.T) {
	c := newTestChannel()
	id := uuid.NewString()
	c.track(id, 1)
	c.track(uuid.NewString(), 2)

	confirms := make(chan amqp.Confirmation, 4)
	returns := make(chan amqp.Return, 4)
	go c.run(confirms, returns)

	returns <- amqp.Return{MessageId: id, ReplyText: "NO_ROUTE"}
	// Give run a moment to process the return before the ack arrives;
	// the broker guarantees this ordering on a real channel.
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.returned[1]
	}, time.Second, time.Millisecond)

	confirms <- amqp.Confirmation{DeliveryTag: 1, Ack: true}
	confirms <- amqp.Confirmation{DeliveryTag: 2, Ack: true}
	close(returns)
	close(confirms)

	var got []confirm.Confirmation
	for conf := range c.out {
		got = append(got, conf)
	}

	require.Len(t, got, 2)
	assert.Equal(t, confirm.Confirmation{Seq: 1, Ack: false, Reason: confirm.ReasonUnroutable}, got[0])
	assert.Equal(t, confirm.Confirmation{Seq: 2, Ack: true}, got[1])
}
