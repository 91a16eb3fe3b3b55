package stream

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrDeviceLimit is returned when admitting a new device would push a
// stream past its configured cap. Sessions close 1008 on it.
var ErrDeviceLimit = errors.New("stream: device limit reached")

// Event is one persisted row of a stream's log.
type Event struct {
	UserID      string
	SaveID      string
	Seq         int64
	FrameType   string
	Payload     json.RawMessage
	AckRequired bool
	CreatedAt   time.Time
}

// Frame renders the event as its wire envelope.
func (e Event) Frame() Frame {
	return LogFrame(e.UserID, e.SaveID, e.Seq, e.FrameType, e.Payload, e.AckRequired)
}

// Store is the transactional persistence contract behind the Log. The
// PostgreSQL binding is production; the memory binding backs tests.
//
// Sequence semantics every binding must uphold: seqs start at 1, are
// contiguous per stream, and two appends never share one; Ack clamps to
// [0, next_seq-1], never moves a cursor backward, and trims events up to
// the minimum cursor across all of the stream's devices in the same
// transaction.
type Store interface {
	// AppendEvent reserves the next seq and inserts the event row, both
	// in one transaction. The payload must already be canonical JSON
	// (nil for a null payload).
	AppendEvent(ctx context.Context, user, save, frameType string, payload json.RawMessage, ackRequired bool) (int64, error)

	// EventsAfter returns events with seq > afterSeq in ascending order.
	// Trimmed seqs are simply absent.
	EventsAfter(ctx context.Context, user, save string, afterSeq int64) ([]Event, error)

	// Ack records a device acknowledgement and trims if the stream-wide
	// minimum advanced. Returns the device's effective cursor.
	Ack(ctx context.Context, user, save, device string, cursor int64) (int64, error)

	// EnsureDevice admits a device to a stream, creating its cursor row
	// at 0. Returns ErrDeviceLimit if the device is new and the stream
	// already holds maxDevices cursors.
	EnsureDevice(ctx context.Context, user, save, device string, maxDevices int) error

	// DeviceCursor returns the device's last acked seq, 0 when the
	// device is unknown.
	DeviceCursor(ctx context.Context, user, save, device string) (int64, error)
}
