// Package stream implements the append-only per-(user, save) event log:
// transactional appends with contiguous sequence numbers, ordered replay
// from a resume cursor, and per-device acknowledgement with safe trimming
// once every device has acked.
package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ProtocolVersion is stamped on every frame sent to a client.
const ProtocolVersion = 1

// Server frame types. HELLO and PONG are control frames (seq 0, never
// persisted); the rest are log frames with seq >= 1.
const (
	FrameHello      = "HELLO"
	FramePong       = "PONG"
	FrameEvent      = "EVENT"
	FrameChatToken  = "CHAT_TOKEN"
	FrameChatDone   = "CHAT_DONE"
	FrameTimeline   = "TIMELINE_EVENT"
	FrameRoomEvent  = "ROOM_EVENT"
	FrameSuggestion = "SUGGESTION"
)

// Client frame types.
const (
	FrameAck       = "ACK"
	FramePing      = "PING"
	FrameInterrupt = "INTERRUPT"
	FrameChatSend  = "CHAT_SEND"
)

// Frame is the JSON envelope for every server-to-client message.
type Frame struct {
	ProtocolVersion int             `json:"protocol_version"`
	Type            string          `json:"type"`
	Seq             int64           `json:"seq"`
	Cursor          int64           `json:"cursor"`
	ServerEventID   *string         `json:"server_event_id"`
	AckRequired     bool            `json:"ack_required"`
	Payload         json.RawMessage `json:"payload"`
}

// ServerEventID renders the globally unique id of a log event.
func ServerEventID(user, save string, seq int64) string {
	return fmt.Sprintf("%s:%s:%d", user, save, seq)
}

// LogFrame builds the envelope for a persisted event. Cursor equals seq
// for log frames.
func LogFrame(user, save string, seq int64, frameType string, payload json.RawMessage, ackRequired bool) Frame {
	id := ServerEventID(user, save, seq)
	return Frame{
		ProtocolVersion: ProtocolVersion,
		Type:            frameType,
		Seq:             seq,
		Cursor:          seq,
		ServerEventID:   &id,
		AckRequired:     ackRequired,
		Payload:         payload,
	}
}

// ControlFrame builds a HELLO or PONG envelope. Control frames carry
// seq 0, a null server_event_id, and the device's current ack cursor.
func ControlFrame(frameType string, cursor int64, payload json.RawMessage) Frame {
	return Frame{
		ProtocolVersion: ProtocolVersion,
		Type:            frameType,
		Seq:             0,
		Cursor:          cursor,
		ServerEventID:   nil,
		AckRequired:     false,
		Payload:         payload,
	}
}

// MarshalCanonical renders a payload as canonical JSON: object keys
// sorted, no non-structural whitespace, numbers kept verbatim. A nil
// payload stays nil (stored and sent as JSON null). Values that do not
// serialize fail here, before anything is written.
func MarshalCanonical(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("stream: marshal payload: %w", err)
	}

	// Round-trip through any so struct fields become sorted map keys.
	// UseNumber keeps numeric text intact instead of going through
	// float64.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var norm any
	if err := dec.Decode(&norm); err != nil {
		return nil, fmt.Errorf("stream: normalize payload: %w", err)
	}

	out, err := json.Marshal(norm)
	if err != nil {
		return nil, fmt.Errorf("stream: marshal payload: %w", err)
	}
	return out, nil
}
