package stream

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalSortsKeys(t *testing.T) {
	out, err := MarshalCanonical(map[string]any{
		"zeta":  1,
		"alpha": 2,
		"mid":   map[string]any{"b": 1, "a": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"mid":{"a":2,"b":1},"zeta":1}`, string(out))
}

func TestMarshalCanonicalSortsStructFields(t *testing.T) {
	type payload struct {
		Token           string `json:"token"`
		ClientRequestID string `json:"client_request_id"`
	}
	out, err := MarshalCanonical(payload{Token: "hi", ClientRequestID: "req-1"})
	require.NoError(t, err)
	assert.Equal(t, `{"client_request_id":"req-1","token":"hi"}`, string(out))
}

func TestMarshalCanonicalPreservesNumbers(t *testing.T) {
	out, err := MarshalCanonical(map[string]any{"big": json.Number("9007199254740993")})
	require.NoError(t, err)
	assert.Equal(t, `{"big":9007199254740993}`, string(out))
}

func TestMarshalCanonicalNil(t *testing.T) {
	out, err := MarshalCanonical(nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestMarshalCanonicalRejectsUnserializable(t *testing.T) {
	_, err := MarshalCanonical(map[string]any{"ch": make(chan int)})
	require.Error(t, err)
}

func TestServerEventID(t *testing.T) {
	assert.Equal(t, "u1:s1:12", ServerEventID("u1", "s1", 12))
}

func TestLogFrameEnvelope(t *testing.T) {
	payload, err := MarshalCanonical(map[string]any{"text": "once upon"})
	require.NoError(t, err)

	f := LogFrame("u1", "s1", 3, FrameEvent, payload, true)
	raw, err := json.Marshal(f)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"protocol_version": 1,
		"type": "EVENT",
		"seq": 3,
		"cursor": 3,
		"server_event_id": "u1:s1:3",
		"ack_required": true,
		"payload": {"text": "once upon"}
	}`, string(raw))
}

func TestControlFrameEnvelope(t *testing.T) {
	f := ControlFrame(FrameHello, 5, nil)
	raw, err := json.Marshal(f)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"protocol_version": 1,
		"type": "HELLO",
		"seq": 0,
		"cursor": 5,
		"server_event_id": null,
		"ack_required": false,
		"payload": null
	}`, string(raw))
}
