package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fablehq/fable-relay/internal/database"
)

// PGStore provides the transactional event log backed by PostgreSQL.
type PGStore struct {
	db *database.DB
}

// NewPGStore creates a stream store over the shared pool.
func NewPGStore(db *database.DB) *PGStore {
	return &PGStore{db: db}
}

// AppendEvent reserves the next seq and inserts the event row in one
// transaction. The stream row is created on first append: a fresh row
// starts with next_seq=2 so the returned seq is 1.
func (s *PGStore) AppendEvent(ctx context.Context, user, save, frameType string, payload json.RawMessage, ackRequired bool) (int64, error) {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("stream: begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	var seq int64
	err = tx.QueryRow(ctx,
		`INSERT INTO streams (user_id, save_id, next_seq) VALUES ($1, $2, 2)
		 ON CONFLICT (user_id, save_id)
		 DO UPDATE SET next_seq = streams.next_seq + 1, updated_at = NOW()
		 RETURNING next_seq - 1`,
		user, save,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("stream: reserve seq: %w", err)
	}

	var payloadArg any
	if payload != nil {
		payloadArg = payload
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO stream_events (user_id, save_id, seq, frame_type, payload, ack_required)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		user, save, seq, frameType, payloadArg, ackRequired)
	if err != nil {
		return 0, fmt.Errorf("stream: insert event seq %d: %w", seq, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("stream: commit append: %w", err)
	}
	return seq, nil
}

// EventsAfter returns events with seq > afterSeq in ascending order.
func (s *PGStore) EventsAfter(ctx context.Context, user, save string, afterSeq int64) ([]Event, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT user_id, save_id, seq, frame_type, payload, ack_required, created_at
		 FROM stream_events
		 WHERE user_id = $1 AND save_id = $2 AND seq > $3
		 ORDER BY seq ASC`,
		user, save, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("stream: events after %d: %w", afterSeq, err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.UserID, &e.SaveID, &e.Seq, &e.FrameType, &e.Payload, &e.AckRequired, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("stream: events scan: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Ack clamps and records a device cursor, then trims events up to the
// stream-wide minimum cursor, all in one transaction. The stream row is
// locked FOR UPDATE so concurrent acks serialize.
func (s *PGStore) Ack(ctx context.Context, user, save, device string, cursor int64) (int64, error) {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("stream: begin ack: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO streams (user_id, save_id) VALUES ($1, $2)
		 ON CONFLICT (user_id, save_id) DO NOTHING`,
		user, save)
	if err != nil {
		return 0, fmt.Errorf("stream: ack upsert stream: %w", err)
	}

	var nextSeq, trimmed int64
	err = tx.QueryRow(ctx,
		`SELECT next_seq, trimmed_upto_seq FROM streams
		 WHERE user_id = $1 AND save_id = $2 FOR UPDATE`,
		user, save,
	).Scan(&nextSeq, &trimmed)
	if err != nil {
		return 0, fmt.Errorf("stream: ack lock stream: %w", err)
	}

	if cursor < 0 {
		cursor = 0
	}
	if max := nextSeq - 1; cursor > max {
		cursor = max
	}

	var effective int64
	err = tx.QueryRow(ctx,
		`INSERT INTO device_cursors (user_id, save_id, device_id, last_acked_seq)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, save_id, device_id)
		 DO UPDATE SET last_acked_seq = GREATEST(device_cursors.last_acked_seq, EXCLUDED.last_acked_seq),
		               updated_at = NOW()
		 RETURNING last_acked_seq`,
		user, save, device, cursor,
	).Scan(&effective)
	if err != nil {
		return 0, fmt.Errorf("stream: ack cursor: %w", err)
	}

	var minAcked int64
	err = tx.QueryRow(ctx,
		`SELECT MIN(last_acked_seq) FROM device_cursors
		 WHERE user_id = $1 AND save_id = $2`,
		user, save,
	).Scan(&minAcked)
	if err != nil {
		return 0, fmt.Errorf("stream: ack min cursor: %w", err)
	}

	if minAcked > trimmed {
		_, err = tx.Exec(ctx,
			`UPDATE streams SET trimmed_upto_seq = $3, updated_at = NOW()
			 WHERE user_id = $1 AND save_id = $2`,
			user, save, minAcked)
		if err != nil {
			return 0, fmt.Errorf("stream: advance trim: %w", err)
		}
		_, err = tx.Exec(ctx,
			`DELETE FROM stream_events
			 WHERE user_id = $1 AND save_id = $2 AND seq <= $3`,
			user, save, minAcked)
		if err != nil {
			return 0, fmt.Errorf("stream: trim events: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("stream: commit ack: %w", err)
	}
	return effective, nil
}

// EnsureDevice admits a device, creating its cursor row at 0. The stream
// row lock serializes admissions so the cap cannot be raced past.
func (s *PGStore) EnsureDevice(ctx context.Context, user, save, device string, maxDevices int) error {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("stream: begin ensure device: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO streams (user_id, save_id) VALUES ($1, $2)
		 ON CONFLICT (user_id, save_id) DO NOTHING`,
		user, save)
	if err != nil {
		return fmt.Errorf("stream: ensure device upsert stream: %w", err)
	}

	var nextSeq int64
	err = tx.QueryRow(ctx,
		`SELECT next_seq FROM streams
		 WHERE user_id = $1 AND save_id = $2 FOR UPDATE`,
		user, save,
	).Scan(&nextSeq)
	if err != nil {
		return fmt.Errorf("stream: ensure device lock stream: %w", err)
	}

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM device_cursors
		   WHERE user_id = $1 AND save_id = $2 AND device_id = $3
		 )`,
		user, save, device,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("stream: ensure device lookup: %w", err)
	}

	if !exists {
		var count int
		err = tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM device_cursors
			 WHERE user_id = $1 AND save_id = $2`,
			user, save,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("stream: ensure device count: %w", err)
		}
		if count >= maxDevices {
			return fmt.Errorf("%w: stream %s:%s at %d devices", ErrDeviceLimit, user, save, count)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO device_cursors (user_id, save_id, device_id)
			 VALUES ($1, $2, $3)`,
			user, save, device)
		if err != nil {
			return fmt.Errorf("stream: ensure device insert: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("stream: commit ensure device: %w", err)
	}
	return nil
}

// DeviceCursor returns the device's last acked seq, 0 when unknown.
func (s *PGStore) DeviceCursor(ctx context.Context, user, save, device string) (int64, error) {
	var cursor int64
	err := s.db.Pool.QueryRow(ctx,
		`SELECT last_acked_seq FROM device_cursors
		 WHERE user_id = $1 AND save_id = $2 AND device_id = $3`,
		user, save, device,
	).Scan(&cursor)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("stream: device cursor: %w", err)
	}
	return cursor, nil
}
