// Package notify fans out append notices to live sessions. The bus is
// best-effort by contract: it may drop, duplicate, or reorder notices,
// because the event log is the source of truth and tailers re-query it
// on every notice. Three bindings share the contract: an in-process
// broadcaster, redis pub/sub, and NATS.
package notify

import "context"

// Notice signals that an append may have happened at or before Seq.
// Receivers treat it as "query the log", never as the event itself.
type Notice struct {
	Seq int64
}

// Subscription is one session's feed of notices for a single stream.
// Notices() closes after Close returns.
type Subscription interface {
	Notices() <-chan Notice
	Close() error
}

// Notifier publishes and subscribes append notices keyed by (user, save).
type Notifier interface {
	Publish(ctx context.Context, user, save string, seq int64) error
	Subscribe(ctx context.Context, user, save string) (Subscription, error)

	// Close releases the underlying client. Subscriptions still open
	// stop receiving notices.
	Close() error
}

// subscriber channels are buffered this deep; a slower consumer loses
// notices rather than blocking the publisher.
const noticeBuffer = 16
