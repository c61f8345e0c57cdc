package ports

import "context"

// InboxStore deduplicates inbound messages by message ID so at-least-once
// delivery from the transport never double-applies an effect. The orchestrator
// checks Seen before processing and calls MarkProcessed after the saga update
// committed; a crash between the two is absorbed by the state machine's own
// duplicate guards.
type InboxStore interface {
	// Seen reports whether the message ID was already processed.
	Seen(ctx context.Context, messageID string) (bool, error)

	// MarkProcessed records the message ID. It reports false if the ID was
	// already recorded by a concurrent worker.
	MarkProcessed(ctx context.Context, messageID string) (bool, error)
}
