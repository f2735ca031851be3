package confirm

import "context"

// Source is the durable message store collaborator (e.g. an outbox table).
// The engine never writes durable state itself: it fetches unconfirmed
// messages, publishes them, and reports the terminal outcomes back so the
// store can mark messages as delivered or schedule them for another pass.
//
// A database/sql implementation is provided by the sqlsource package.
type Source interface {
	// FetchUnconfirmed returns up to limit messages awaiting publication,
	// in creation order.
	FetchUnconfirmed(ctx context.Context, limit int) ([]*Message, error)

	// ReportOutcomes updates durable state from the given terminal
	// outcomes. It must tolerate being called again for a message whose
	// previous report failed.
	ReportOutcomes(ctx context.Context, outcomes []Outcome) error
}
