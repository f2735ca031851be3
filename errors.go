package confirm

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrChannelUnavailable is returned by Pool.Acquire when the pool is at
// capacity and no channel became idle within the acquisition timeout.
// Callers should back off and retry the whole batch; the pool never creates
// channels beyond its configured maximum.
var ErrChannelUnavailable = errors.New("no channel available within acquisition timeout")

// ErrPoolClosed is returned when operating on a closed pool.
var ErrPoolClosed = errors.New("pool is closed")

// WriteError indicates that writing a message to the broker failed.
// The unresolved portion of the batch is rejected immediately and the
// channel is closed, never returned to the pool.
type WriteError struct {
	// MessageID identifies the message whose write failed.
	MessageID uuid.UUID
	Err       error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("writing message %s to transport: %v", e.MessageID, e.Err)
}
func (e *WriteError) Unwrap() error { return e.Err }

// FetchError indicates an error when fetching messages from the source.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetching unconfirmed messages: %v", e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// ReportError indicates an error when reporting outcomes back to the source.
// It includes the outcomes that could not be reported.
type ReportError struct {
	Outcomes []Outcome
	Err      error
}

func (e *ReportError) Error() string {
	return fmt.Sprintf("reporting %d outcomes: %v", len(e.Outcomes), e.Err)
}
func (e *ReportError) Unwrap() error { return e.Err }

// PublishError indicates an error while publishing a batch from the forwarder.
type PublishError struct {
	Err error
}

func (e *PublishError) Error() string { return fmt.Sprintf("publishing batch: %v", e.Err) }
func (e *PublishError) Unwrap() error { return e.Err }
