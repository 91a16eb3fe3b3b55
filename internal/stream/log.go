package stream

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/fablehq/fable-relay/internal/notify"
)

// Log is the event log facade sessions and producers use: appends go
// through the store transaction and then publish a notice; replays and
// acks delegate to the store. The notifier is best-effort, so a failed
// publish is logged and swallowed; the committed event reaches tailers
// on their next drain.
type Log struct {
	store    Store
	notifier notify.Notifier
	logger   zerolog.Logger
}

// NewLog wires a store and a notifier into a Log.
func NewLog(store Store, notifier notify.Notifier, logger zerolog.Logger) *Log {
	return &Log{store: store, notifier: notifier, logger: logger}
}

// Append serializes the payload canonically, persists the event, and
// publishes an append notice. Serialization failures happen before any
// write; publish failures do not fail the append.
func (l *Log) Append(ctx context.Context, user, save, frameType string, payload any, ackRequired bool) (Frame, error) {
	body, err := MarshalCanonical(payload)
	if err != nil {
		return Frame{}, err
	}

	seq, err := l.store.AppendEvent(ctx, user, save, frameType, body, ackRequired)
	if err != nil {
		return Frame{}, err
	}

	if err := l.notifier.Publish(ctx, user, save, seq); err != nil {
		l.logger.Warn().Err(err).
			Str("user", user).Str("save", save).Int64("seq", seq).
			Msg("append notice publish failed")
	}

	return LogFrame(user, save, seq, frameType, body, ackRequired), nil
}

// Replay returns frames for every event with seq > resumeFrom in
// ascending order. Trimmed events are silently absent.
func (l *Log) Replay(ctx context.Context, user, save string, resumeFrom int64) ([]Frame, error) {
	events, err := l.store.EventsAfter(ctx, user, save, resumeFrom)
	if err != nil {
		return nil, err
	}
	frames := make([]Frame, 0, len(events))
	for _, e := range events {
		frames = append(frames, e.Frame())
	}
	return frames, nil
}

// Ack records a device acknowledgement, trimming when the stream-wide
// minimum advances. Returns the effective cursor.
func (l *Log) Ack(ctx context.Context, user, save, device string, cursor int64) (int64, error) {
	return l.store.Ack(ctx, user, save, device, cursor)
}

// EnsureDevice admits a device to a stream.
func (l *Log) EnsureDevice(ctx context.Context, user, save, device string, maxDevices int) error {
	return l.store.EnsureDevice(ctx, user, save, device, maxDevices)
}

// DeviceCursor returns a device's last acked seq.
func (l *Log) DeviceCursor(ctx context.Context, user, save, device string) (int64, error) {
	return l.store.DeviceCursor(ctx, user, save, device)
}

// Subscribe opens this stream's notice feed.
func (l *Log) Subscribe(ctx context.Context, user, save string) (notify.Subscription, error) {
	return l.notifier.Subscribe(ctx, user, save)
}
