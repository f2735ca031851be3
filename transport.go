package confirm

import "context"

// Transport abstracts the broker connection. It hands out channels on which
// messages can be published and confirmations are delivered asynchronously.
//
// Implementations for RabbitMQ and NATS JetStream are provided in the
// rabbitmq and natsjs subpackages.
type Transport interface {
	// OpenChannel opens a new broker channel in confirmation mode.
	OpenChannel(ctx context.Context) (TransportChannel, error)
}

// TransportChannel is a single broker channel. Delivery sequences are scoped
// to the channel that issued them and are never meaningful across channels.
//
// Write calls are serialized by the pool lease; Confirmations is consumed
// concurrently by the confirmation tracker.
type TransportChannel interface {
	// NextSequence returns the delivery sequence the next successful Write
	// will be assigned. Sequences start at 1 and increase monotonically for
	// the lifetime of the channel.
	NextSequence() uint64

	// Write publishes a message on the channel. On success the broker will
	// eventually deliver a Confirmation for the sequence returned by
	// NextSequence just before this call.
	Write(ctx context.Context, msg *Message) error

	// Confirmations returns the stream of broker acknowledgments for this
	// channel. The stream is closed when the channel closes; any messages
	// still outstanding at that point will never be confirmed.
	Confirmations() <-chan Confirmation

	// Close closes the underlying broker channel.
	Close() error
}

// Confirmation is a single broker acknowledgment or rejection, keyed by the
// channel-scoped delivery sequence assigned at publish time.
type Confirmation struct {
	// Seq is the delivery sequence this confirmation refers to.
	Seq uint64

	// Ack reports whether the broker accepted the message.
	Ack bool

	// Multiple, when true, means this confirmation also resolves every
	// unresolved sequence on this channel up to and including Seq.
	Multiple bool

	// Reason describes the rejection when Ack is false.
	Reason Reason
}

// Reason classifies a broker rejection.
type Reason struct {
	// Code is a short broker or transport specific description,
	// e.g. "unroutable" or "channel closed".
	Code string

	// Permanent reports whether retrying the message can ever succeed.
	// Permanent rejections (e.g. unroutable messages) are escalated
	// immediately instead of being retried.
	Permanent bool
}

// ReasonUnroutable is reported when the broker has no queue bound for the
// message's routing information. It is permanent: retrying cannot succeed
// until the topology changes.
var ReasonUnroutable = Reason{Code: "unroutable", Permanent: true}

// ReasonChannelClosed is reported for messages whose channel closed before
// the broker confirmed them. Their true broker-side state is unknown, so
// they are treated as transiently rejected and may be retried.
var ReasonChannelClosed = Reason{Code: "channel closed"}

// ReasonWriteFailed is reported for messages that could not be written to
// the broker at all.
var ReasonWriteFailed = Reason{Code: "write failed"}

// ReasonConfirmTimeout is reported for messages whose confirmation deadline
// elapsed while they were still outstanding.
var ReasonConfirmTimeout = Reason{Code: "confirm timeout"}
