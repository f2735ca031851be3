package confirm

import (
	"time"

	"github.com/google/uuid"
)

// MessageOption is a function that can be used to configure a Message.
type MessageOption func(*Message)

// Message represents a single unit of application payload to be published
// to the broker. Messages are owned by the caller and are only read by this
// package; they are immutable once created.
type Message struct {
	// ID is a unique identifier for the message.
	ID uuid.UUID

	// CreatedAt is the timestamp when the message was created.
	CreatedAt time.Time

	// Metadata is an optional field containing additional information about the message,
	// such as correlation IDs, trace IDs, user context, or other custom attributes.
	// This data is typically JSON-serialized. Broker transports attach it as
	// message headers where supported.
	Metadata []byte

	// Payload contains the actual message data, typically JSON serialized.
	Payload []byte
}

// WithID sets the unique identifier of the message.
// If not provided, a new UUID will be generated.
func WithID(id uuid.UUID) MessageOption {
	return func(m *Message) {
		m.ID = id
	}
}

// WithCreatedAt sets the time the message was created.
// If not provided, the current time will be used.
func WithCreatedAt(createdAt time.Time) MessageOption {
	return func(m *Message) {
		m.CreatedAt = createdAt
	}
}

// WithMetadata attaches message metadata (e.g. correlation ID, trace ID, etc).
func WithMetadata(metadata []byte) MessageOption {
	return func(m *Message) {
		m.Metadata = metadata
	}
}

// NewMessage creates a new Message with the given payload.
func NewMessage(payload []byte, opts ...MessageOption) *Message {
	m := &Message{
		ID:        uuid.New(),
		CreatedAt: time.Now().UTC(),
		Payload:   payload,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}
