package confirm

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ReasonChannelUnavailable is reported for messages whose batch could not be
// published because the pool stayed exhausted past the acquisition timeout.
var ReasonChannelUnavailable = Reason{Code: "channel unavailable"}

// ReasonCanceled is reported for messages abandoned because the caller's
// context was canceled between retry attempts.
var ReasonCanceled = Reason{Code: "canceled"}

// Failure is a terminal, non-retryable failure for one message: either its
// rejection was permanent or its retry budget is exhausted. Failures are
// surfaced for manual intervention (e.g. dead-letter routing), never
// silently dropped.
type Failure struct {
	// MessageID identifies the failed message.
	MessageID uuid.UUID

	// Reason is the last rejection reason observed for the message.
	Reason Reason

	// Attempts is the number of publish attempts made for the message.
	Attempts int
}

// RetryerOption is a function that configures a Retryer instance.
type RetryerOption func(*Retryer)

// WithMaxAttempts sets the maximum number of publish attempts per message.
// Once the budget is exhausted the message is reported as Failed.
// Default is 3. Must be positive.
func WithMaxAttempts(maxAttempts int) RetryerOption {
	return func(r *Retryer) {
		if maxAttempts > 0 {
			r.maxAttempts = maxAttempts
		}
	}
}

// WithExponentialDelay sets the delay between attempts to be exponential,
// doubling from initialDelay up to maxDelay.
func WithExponentialDelay(initialDelay time.Duration, maxDelay time.Duration) RetryerOption {
	return WithDelay(Exponential(initialDelay, maxDelay))
}

// WithFixedDelay sets the delay between attempts to be fixed.
func WithFixedDelay(delay time.Duration) RetryerOption {
	return WithDelay(Fixed(delay))
}

// WithDelay sets the delay function applied between publish attempts.
// Default is Exponential(200ms, 30s).
func WithDelay(delayFunc DelayFunc) RetryerOption {
	return func(r *Retryer) {
		r.delayFunc = delayFunc
	}
}

// WithFailedChannelSize sets the size of the failures channel.
// Default is 128. Size must be positive.
func WithFailedChannelSize(size int) RetryerOption {
	return func(r *Retryer) {
		if size > 0 {
			r.failedCh = make(chan Failure, size)
		}
	}
}

// Retryer owns all retry and backoff decisions for rejected or timed out
// messages. Re-submission goes back through the Publisher, which always
// acquires a fresh channel: a channel involved in a failed attempt is never
// reused for its retry.
//
// Permanent rejections (e.g. unroutable messages) are escalated immediately
// without consuming retry budget. Transient rejections and timeouts are
// retried with backoff up to the configured budget.
type Retryer struct {
	pub *Publisher

	maxAttempts int
	delayFunc   DelayFunc
	failedCh    chan Failure
}

// NewRetryer creates a Retryer on top of the given publisher.
func NewRetryer(pub *Publisher, opts ...RetryerOption) *Retryer {
	r := &Retryer{
		pub:         pub,
		maxAttempts: 3,
		delayFunc:   Exponential(200*time.Millisecond, 30*time.Second),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.failedCh == nil {
		r.failedCh = make(chan Failure, 128)
	}

	return r
}

// Failed returns a channel that receives terminal failures. The channel is
// buffered to avoid blocking the retry loop; if the buffer is full,
// subsequent failures are dropped from the channel (they are still present
// in the outcomes returned by Publish).
//
// Consumers should drain this channel promptly.
func (r *Retryer) Failed() <-chan Failure {
	return r.failedCh
}

func (r *Retryer) sendFailure(f Failure) {
	select {
	case r.failedCh <- f:
	default:
		// Channel buffer full, drop the failure to prevent blocking
	}
}

// Publish publishes the batch and retries rejected or timed out messages
// until they confirm, fail permanently, or exhaust the retry budget.
//
// The returned slice contains exactly one terminal outcome per message, in
// the order the messages were submitted: StatusConfirmed, or StatusFailed
// carrying the last rejection reason. A non-nil error is returned only when
// the loop stopped early (context canceled, pool closed); outcomes are
// complete even then.
func (r *Retryer) Publish(ctx context.Context, msgs []*Message) ([]Outcome, error) {
	final := make(map[uuid.UUID]Outcome, len(msgs))
	pending := msgs

	for attempt := 0; len(pending) > 0; attempt++ {
		outcomes, err := r.pub.PublishBatch(ctx, pending)
		if outcomes == nil {
			if errors.Is(err, ErrChannelUnavailable) {
				if attempt+1 >= r.maxAttempts {
					r.failAll(final, pending, ReasonChannelUnavailable, attempt+1)
					break
				}
				if !r.wait(ctx, attempt) {
					r.failAll(final, pending, ReasonCanceled, attempt+1)
					return orderOutcomes(final, msgs), ctx.Err()
				}
				continue
			}
			// Pool closed or context error: not recoverable from here.
			r.failAll(final, pending, ReasonCanceled, attempt+1)
			return orderOutcomes(final, msgs), err
		}

		byID := make(map[uuid.UUID]*Message, len(pending))
		for _, m := range pending {
			byID[m.ID] = m
		}

		var retry []*Message
		for _, o := range outcomes {
			switch {
			case o.Status == StatusConfirmed:
				final[o.MessageID] = o

			case o.Status == StatusRejected && o.Reason.Permanent:
				final[o.MessageID] = Outcome{MessageID: o.MessageID, Status: StatusFailed, Reason: o.Reason}
				r.sendFailure(Failure{MessageID: o.MessageID, Reason: o.Reason, Attempts: attempt + 1})

			case attempt+1 >= r.maxAttempts:
				final[o.MessageID] = Outcome{MessageID: o.MessageID, Status: StatusFailed, Reason: o.Reason}
				r.sendFailure(Failure{MessageID: o.MessageID, Reason: o.Reason, Attempts: attempt + 1})

			default:
				retry = append(retry, byID[o.MessageID])
			}
		}

		pending = retry
		if len(pending) == 0 {
			break
		}

		if !r.wait(ctx, attempt) {
			r.failAll(final, pending, ReasonCanceled, attempt+1)
			return orderOutcomes(final, msgs), ctx.Err()
		}
	}

	return orderOutcomes(final, msgs), nil
}

func (r *Retryer) failAll(final map[uuid.UUID]Outcome, msgs []*Message, reason Reason, attempts int) {
	for _, m := range msgs {
		final[m.ID] = Outcome{MessageID: m.ID, Status: StatusFailed, Reason: reason}
		r.sendFailure(Failure{MessageID: m.ID, Reason: reason, Attempts: attempts})
	}
}

// wait sleeps for the configured delay after the given attempt. Returns
// false if ctx was canceled while waiting.
func (r *Retryer) wait(ctx context.Context, attempt int) bool {
	timer := time.NewTimer(r.delayFunc(attempt))
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func orderOutcomes(final map[uuid.UUID]Outcome, msgs []*Message) []Outcome {
	outcomes := make([]Outcome, 0, len(msgs))
	for _, m := range msgs {
		if o, ok := final[m.ID]; ok {
			outcomes = append(outcomes, o)
		}
	}
	return outcomes
}
