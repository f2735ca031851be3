package confirm

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Forwarder periodically fetches unconfirmed messages from a Source,
// publishes them through a Retryer, and reports the terminal outcomes back
// to the Source.
type Forwarder struct {
	source  Source
	retryer *Retryer

	interval       time.Duration
	fetchTimeout   time.Duration
	publishTimeout time.Duration
	reportTimeout  time.Duration
	batchSize      int

	started int32
	closed  int32
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	errCh   chan error
}

// ForwarderOption is a function that configures a Forwarder instance.
type ForwarderOption func(*Forwarder)

// WithInterval sets the time between forwarder processing attempts.
// Default is 10 seconds.
func WithInterval(interval time.Duration) ForwarderOption {
	return func(f *Forwarder) {
		f.interval = interval
	}
}

// WithFetchTimeout sets the timeout for fetching messages from the source.
// Default is 5 seconds.
func WithFetchTimeout(timeout time.Duration) ForwarderOption {
	return func(f *Forwarder) {
		f.fetchTimeout = timeout
	}
}

// WithPublishTimeout bounds one publish pass including retries.
// Default is 1 minute.
func WithPublishTimeout(timeout time.Duration) ForwarderOption {
	return func(f *Forwarder) {
		f.publishTimeout = timeout
	}
}

// WithReportTimeout sets the timeout for reporting outcomes to the source.
// Default is 5 seconds.
func WithReportTimeout(timeout time.Duration) ForwarderOption {
	return func(f *Forwarder) {
		f.reportTimeout = timeout
	}
}

// WithBatchSize sets the maximum number of messages fetched and published
// per processing attempt. Default is 100 messages. Must be positive.
func WithBatchSize(batchSize int) ForwarderOption {
	return func(f *Forwarder) {
		if batchSize > 0 {
			f.batchSize = batchSize
		}
	}
}

// WithErrorChannelSize sets the size of the error channel.
// Default is 128. Size must be positive.
func WithErrorChannelSize(size int) ForwarderOption {
	return func(f *Forwarder) {
		if size > 0 {
			f.errCh = make(chan error, size)
		}
	}
}

// NewForwarder creates a new Forwarder with the given source, retryer and
// options.
func NewForwarder(source Source, retryer *Retryer, opts ...ForwarderOption) *Forwarder {
	ctx, cancel := context.WithCancel(context.Background())

	f := &Forwarder{
		source:         source,
		retryer:        retryer,
		ctx:            ctx,
		cancel:         cancel,
		interval:       10 * time.Second,
		fetchTimeout:   5 * time.Second,
		publishTimeout: 1 * time.Minute,
		reportTimeout:  5 * time.Second,
		batchSize:      100,
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.errCh == nil {
		f.errCh = make(chan error, 128)
	}

	return f
}

// Start begins the background processing loop. It periodically fetches
// unconfirmed messages, publishes them and reports outcomes.
// If Start is called multiple times, only the first call has an effect.
func (f *Forwarder) Start() {
	if !atomic.CompareAndSwapInt32(&f.started, 0, 1) {
		return
	}

	f.wg.Add(1)
	go func() {
		ticker := time.NewTicker(f.interval)

		defer f.wg.Done()
		defer close(f.errCh)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				f.forward()
			case <-f.ctx.Done():
				return
			}
		}
	}()
}

// Stop gracefully shuts down the forwarder. It prevents new processing
// attempts from starting and waits for any ongoing pass to complete. The
// provided context controls how long to wait before giving up.
//
// Calling Stop multiple times is safe and only the first call has an effect.
func (f *Forwarder) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&f.closed, 0, 1) {
		return nil
	}

	f.cancel() // signal stop

	// Never started: there is no processing goroutine to close the errors
	// channel, so close it here. Claiming the started flag keeps a late
	// Start from spawning one.
	if atomic.CompareAndSwapInt32(&f.started, 0, 1) {
		close(f.errCh)
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.wg.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Errors returns a channel that receives errors from the forwarder.
// The channel is buffered to prevent blocking the processing loop. If the
// buffer becomes full, subsequent errors are dropped to maintain
// throughput. The channel is closed when the forwarder is stopped.
//
// The returned error will be one of the following types, which can be
// checked using a type switch:
//   - *FetchError:   failed to read messages from the source.
//   - *PublishError: the publish pass stopped early.
//   - *ReportError:  failed to report outcomes. Contains the outcomes.
func (f *Forwarder) Errors() <-chan error {
	return f.errCh
}

func (f *Forwarder) sendError(err error) {
	select {
	case f.errCh <- err:
	default:
		// Channel buffer full, drop the error to prevent blocking
	}
}

func (f *Forwarder) forward() {
	msgs, err := f.fetchMessages()
	if err != nil {
		f.sendError(&FetchError{Err: err})
		return
	}
	if len(msgs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(f.ctx, f.publishTimeout)
	outcomes, err := f.retryer.Publish(ctx, msgs)
	cancel()
	if err != nil {
		f.sendError(&PublishError{Err: err})
	}
	if len(outcomes) == 0 {
		return
	}

	if err := f.reportOutcomes(outcomes); err != nil {
		f.sendError(&ReportError{Outcomes: outcomes, Err: err})
	}
}

func (f *Forwarder) fetchMessages() ([]*Message, error) {
	ctx, cancel := context.WithTimeout(f.ctx, f.fetchTimeout)
	defer cancel()

	return f.source.FetchUnconfirmed(ctx, f.batchSize)
}

func (f *Forwarder) reportOutcomes(outcomes []Outcome) error {
	// Do not use the forwarder context here: when the forwarder is stopped
	// we still want outcomes of the last pass to reach the store.
	ctx, cancel := context.WithTimeout(context.Background(), f.reportTimeout)
	defer cancel()

	return f.source.ReportOutcomes(ctx, outcomes)
}
