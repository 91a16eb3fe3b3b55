package session

import (
	"sync"

	"github.com/fablehq/fable-relay/internal/stream"
)

// frameWriter is the subset of *websocket.Conn the writer needs.
type frameWriter interface {
	WriteJSON(v any) error
}

// writer is the session's single outbound path. Sends are serialized,
// and log frames deduplicate by seq so the connect replay, the tailer,
// and chat delivery can overlap without repeats or regressions. Control
// frames carry seq 0 and bypass dedup.
type writer struct {
	mu       sync.Mutex
	conn     frameWriter
	lastSent int64
}

// newWriter starts the dedup watermark at floor: everything at or
// below it is history the client already holds (its resume point or
// its acked cursor, whichever is later) and must not be resent.
func newWriter(conn frameWriter, floor int64) *writer {
	return &writer{conn: conn, lastSent: floor}
}

func (w *writer) send(f stream.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if f.Seq > 0 && f.Seq <= w.lastSent {
		return nil
	}
	if err := w.conn.WriteJSON(f); err != nil {
		return err
	}
	if f.Seq > w.lastSent {
		w.lastSent = f.Seq
	}
	return nil
}

// lastSentSeq returns the dedup watermark.
func (w *writer) lastSentSeq() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSent
}
