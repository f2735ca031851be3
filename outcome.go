package confirm

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Status is the terminal state of a message for one publish attempt.
type Status int

// Terminal statuses.
const (
	// StatusConfirmed means the broker explicitly acknowledged the message.
	StatusConfirmed Status = iota

	// StatusRejected means the broker explicitly rejected the message, or it
	// could not be written to the broker at all.
	StatusRejected

	// StatusTimedOut means the confirmation deadline elapsed while the
	// message was still awaiting broker acknowledgment.
	StatusTimedOut

	// StatusFailed means the retry budget for the message is exhausted or
	// its rejection was permanent. Emitted by the Retryer only.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusConfirmed:
		return "confirmed"
	case StatusRejected:
		return "rejected"
	case StatusTimedOut:
		return "timed out"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the terminal result of one publish attempt for one message.
// Exactly one Outcome is produced per message per attempt.
type Outcome struct {
	// MessageID identifies the message this outcome belongs to.
	MessageID uuid.UUID

	// Status is the terminal status of the attempt.
	Status Status

	// Reason describes the rejection or failure. Zero for confirmed messages.
	Reason Reason
}

// BatchReceipt tracks the outcomes of one published batch. It is returned by
// Publisher.PublishBatchAsync and supports both consumption styles: reading
// individual outcomes from Outcomes as they resolve, or joining on the whole
// batch with Wait.
type BatchReceipt struct {
	size      int
	outcomes  chan Outcome
	remaining atomic.Int64
	done      chan struct{}

	ch    *Channel
	timer *time.Timer
}

func newBatchReceipt(size int, ch *Channel) *BatchReceipt {
	b := &BatchReceipt{
		size:     size,
		outcomes: make(chan Outcome, size),
		done:     make(chan struct{}),
		ch:       ch,
	}
	b.remaining.Store(int64(size))
	if size == 0 {
		close(b.done)
	}
	return b
}

// deliver records one terminal outcome. Each message in the batch is
// delivered exactly once; the outcomes channel has capacity for the whole
// batch so sends never block. The last delivery disarms the timeout so a
// finished receipt does not pin its channel for the rest of the window.
func (b *BatchReceipt) deliver(o Outcome) {
	b.outcomes <- o
	if b.remaining.Add(-1) == 0 {
		if b.timer != nil {
			b.timer.Stop()
		}
		close(b.done)
	}
}

// expire transitions every message of this batch still awaiting confirmation
// to TimedOut. The channel that produced the timeout is marked suspect and
// will be closed instead of returned to the pool, since its bookkeeping may
// no longer agree with the broker.
func (b *BatchReceipt) expire() {
	if b.ch != nil {
		b.ch.expireBatch(b)
	}
}

// Size returns the number of messages in the batch.
func (b *BatchReceipt) Size() int { return b.size }

// Outcomes returns the stream of terminal outcomes for this batch. Outcomes
// arrive individually as the broker resolves them. Exactly Size outcomes are
// delivered in total.
func (b *BatchReceipt) Outcomes() <-chan Outcome {
	return b.outcomes
}

// Done returns a channel that is closed once every message in the batch has
// reached a terminal outcome.
func (b *BatchReceipt) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until every message in the batch has a terminal outcome or ctx
// expires. If ctx expires first, messages still outstanding are resolved as
// TimedOut, so the returned slice always contains Size outcomes.
//
// Wait consumes the Outcomes channel; use either Wait or Outcomes, not both.
func (b *BatchReceipt) Wait(ctx context.Context) []Outcome {
	collected := make([]Outcome, 0, b.size)
	for len(collected) < b.size {
		select {
		case o := <-b.outcomes:
			collected = append(collected, o)
		case <-ctx.Done():
			b.expire()
			// Expiry resolves every remaining message synchronously, so the
			// loop below cannot block.
			for len(collected) < b.size {
				collected = append(collected, <-b.outcomes)
			}
			return collected
		}
	}
	return collected
}
