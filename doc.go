// Package confirm implements reliable, confirmation-tracked message publishing
// on top of a broker transport that exposes channels with asynchronous
// ack/nack notifications (e.g. RabbitMQ publisher confirms).
//
// The package is built around a small number of cooperating components:
//
//  1. A bounded channel Pool that leases broker channels to publishing
//     operations and only recycles a channel once every confirmation
//     published on it has been resolved.
//
//  2. A Publisher that writes batches of messages onto a leased channel,
//     correlating each message with the channel-scoped delivery sequence
//     the broker will acknowledge it under.
//
//  3. A per-channel confirmation tracker that consumes the transport's
//     ack/nack stream and resolves each outstanding message to exactly one
//     terminal Outcome: Confirmed, Rejected or TimedOut.
//
//  4. A Retryer that re-submits transiently rejected or timed out messages
//     with backoff, escalating permanent rejections and exhausted messages
//     as Failed instead of silently dropping them.
//
// A message is never considered durably delivered on anything less than an
// explicit broker acknowledgment. Callers integrating with a transactional
// outbox can use the Forwarder together with a Source implementation (see
// the sqlsource package) to drive the fetch-publish-report loop.
//
// Broker integrations live in the rabbitmq and natsjs subpackages. The core
// is transport agnostic; any system able to satisfy the Transport interface
// can be used.
package confirm
