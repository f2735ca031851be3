package confirm

import (
	"context"
	"time"
)

// PublisherOption is a function that configures a Publisher instance.
type PublisherOption func(*Publisher)

// WithConfirmTimeout bounds how long a batch may wait for broker
// confirmations. When the bound elapses, messages still outstanding resolve
// as TimedOut and the channel that produced the timeout is closed rather
// than recycled. Default is 30 seconds. Must be positive.
func WithConfirmTimeout(timeout time.Duration) PublisherOption {
	return func(p *Publisher) {
		if timeout > 0 {
			p.confirmTimeout = timeout
		}
	}
}

// Publisher writes batches of messages onto pooled broker channels and
// correlates each message with the channel-scoped delivery sequence the
// broker will confirm it under.
//
// A message is never reported Confirmed on anything less than an explicit
// broker acknowledgment.
type Publisher struct {
	pool           *Pool
	confirmTimeout time.Duration
}

// NewPublisher creates a Publisher on top of the given channel pool.
func NewPublisher(pool *Pool, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		pool:           pool,
		confirmTimeout: 30 * time.Second,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// PublishBatch publishes the messages in order on one leased channel and
// blocks until every message reaches a terminal outcome or the deadline
// elapses. The deadline is the earlier of ctx and the configured confirm
// timeout; messages still outstanding at the deadline resolve as TimedOut.
//
// The returned slice always contains exactly one outcome per message. The
// error is non-nil when the batch could not be published at all
// (ErrChannelUnavailable, ErrPoolClosed) or when a transport write failed
// mid-batch (*WriteError); in the latter case outcomes are still complete,
// with the unwritten portion rejected.
func (p *Publisher) PublishBatch(ctx context.Context, msgs []*Message) ([]Outcome, error) {
	receipt, err := p.PublishBatchAsync(ctx, msgs)
	if receipt == nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.confirmTimeout)
	defer cancel()

	return receipt.Wait(waitCtx), err
}

// PublishBatchAsync publishes the messages in order on one leased channel
// and returns immediately after the last write. Outcomes arrive individually
// on the receipt as the broker resolves them; the configured confirm timeout
// bounds how long they can remain outstanding.
//
// The channel is released back to the pool right away: it drains its
// outstanding confirmations in the background and becomes idle once the
// last one resolves.
//
// A nil receipt is returned only when no message was published at all. When
// a transport write fails mid-batch, the receipt is still returned together
// with a *WriteError: written messages resolve through the broker or the
// channel close, unwritten ones are rejected immediately.
func (p *Publisher) PublishBatchAsync(ctx context.Context, msgs []*Message) (*BatchReceipt, error) {
	if len(msgs) == 0 {
		return newBatchReceipt(0, nil), nil
	}

	ch, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	receipt := newBatchReceipt(len(msgs), ch)

	// Arm the timeout before the first register so every goroutine that can
	// complete the batch observes the timer and stops it. It fires only for
	// batches still outstanding past the confirm timeout.
	receipt.timer = time.AfterFunc(p.confirmTimeout, receipt.expire)

	var writeErr error
	for i, msg := range msgs {
		// Register before writing so the confirmation for this sequence can
		// never arrive unmatched, however quickly the broker responds.
		seq := ch.register(msg, receipt)

		if err := ch.write(ctx, msg); err != nil {
			writeErr = &WriteError{MessageID: msg.ID, Err: err}

			// The broker never saw this message; no confirmation will come.
			ch.rejectSeq(seq, ReasonWriteFailed)
			for _, rest := range msgs[i+1:] {
				receipt.deliver(Outcome{MessageID: rest.ID, Status: StatusRejected, Reason: ReasonWriteFailed})
			}

			// The channel is no longer trustworthy. Closing it also resolves
			// any written-but-unconfirmed messages of this batch.
			ch.markSuspect()
			break
		}
	}

	p.pool.Release(ch)

	return receipt, writeErr
}
