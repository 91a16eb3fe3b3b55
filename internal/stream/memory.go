package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemStore is an in-memory Store with the same sequence, cursor, and
// trim semantics as the PostgreSQL binding. It backs tests and
// single-process dev runs; nothing survives a restart.
type MemStore struct {
	mu      sync.Mutex
	streams map[string]*memStream
}

type memStream struct {
	nextSeq int64
	trimmed int64
	events  []Event
	cursors map[string]int64
}

// NewMemStore creates an empty in-memory stream store.
func NewMemStore() *MemStore {
	return &MemStore{streams: make(map[string]*memStream)}
}

func (s *MemStore) stream(user, save string) *memStream {
	key := user + ":" + save
	st, ok := s.streams[key]
	if !ok {
		st = &memStream{nextSeq: 1, cursors: make(map[string]int64)}
		s.streams[key] = st
	}
	return st
}

func (s *MemStore) AppendEvent(_ context.Context, user, save, frameType string, payload json.RawMessage, ackRequired bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stream(user, save)
	seq := st.nextSeq
	st.nextSeq++

	// Copy the payload so later caller mutations cannot reach the log.
	var stored json.RawMessage
	if payload != nil {
		stored = append(json.RawMessage(nil), payload...)
	}

	st.events = append(st.events, Event{
		UserID:      user,
		SaveID:      save,
		Seq:         seq,
		FrameType:   frameType,
		Payload:     stored,
		AckRequired: ackRequired,
		CreatedAt:   time.Now(),
	})
	return seq, nil
}

func (s *MemStore) EventsAfter(_ context.Context, user, save string, afterSeq int64) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stream(user, save)
	events := []Event{}
	for _, e := range st.events {
		if e.Seq > afterSeq {
			events = append(events, e)
		}
	}
	return events, nil
}

func (s *MemStore) Ack(_ context.Context, user, save, device string, cursor int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stream(user, save)

	if cursor < 0 {
		cursor = 0
	}
	if max := st.nextSeq - 1; cursor > max {
		cursor = max
	}
	if prev, ok := st.cursors[device]; ok && prev > cursor {
		cursor = prev
	}
	st.cursors[device] = cursor

	minAcked := cursor
	for _, c := range st.cursors {
		if c < minAcked {
			minAcked = c
		}
	}
	if minAcked > st.trimmed {
		st.trimmed = minAcked
		kept := st.events[:0]
		for _, e := range st.events {
			if e.Seq > minAcked {
				kept = append(kept, e)
			}
		}
		st.events = kept
	}
	return cursor, nil
}

func (s *MemStore) EnsureDevice(_ context.Context, user, save, device string, maxDevices int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stream(user, save)
	if _, ok := st.cursors[device]; ok {
		return nil
	}
	if len(st.cursors) >= maxDevices {
		return fmt.Errorf("%w: stream %s:%s at %d devices", ErrDeviceLimit, user, save, len(st.cursors))
	}
	st.cursors[device] = 0
	return nil
}

func (s *MemStore) DeviceCursor(_ context.Context, user, save, device string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stream(user, save).cursors[device], nil
}

// TrimmedUpto reports the stream's trim floor. Test helper.
func (s *MemStore) TrimmedUpto(user, save string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stream(user, save).trimmed
}
