// Package session owns one duplex connection end to end: handshake
// resolution, the HELLO/replay/tail outbound path, and the inbound
// dispatch loop for acks, pings, interrupts, and chat sends.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/fablehq/fable-relay/internal/auth"
	"github.com/fablehq/fable-relay/internal/chat"
	"github.com/fablehq/fable-relay/internal/llm"
	"github.com/fablehq/fable-relay/internal/notify"
	"github.com/fablehq/fable-relay/internal/save"
	"github.com/fablehq/fable-relay/internal/stream"
	"github.com/fablehq/fable-relay/internal/usage"
)

// errProtocol marks inbound messages the protocol does not allow; the
// session closes 1003 when it surfaces.
var errProtocol = errors.New("session: protocol violation")

// Deps wires the collaborators every session shares.
type Deps struct {
	Auth   *auth.Manager
	Saves  save.Store
	Log    *stream.Log
	LLM    llm.Client
	Usage  usage.Store
	Logger zerolog.Logger

	MaxDevicesPerSave int
	MaxDeviceIDLen    int
}

// helloPayload is the HELLO control frame body.
type helloPayload struct {
	UserID string `json:"user_id"`
	SaveID string `json:"save_id"`
}

// inbound is the envelope for client-to-server messages.
type inbound struct {
	Type            string          `json:"type"`
	Cursor          *int64          `json:"cursor"`
	Seq             *int64          `json:"seq"`
	Payload         json.RawMessage `json:"payload"`
	ClientRequestID string          `json:"client_request_id"`
}

type session struct {
	deps   Deps
	params Params
	conn   *websocket.Conn
	writer *writer
	chat   *chat.Orchestrator
	logger zerolog.Logger
}

// Run owns conn for the life of one session and returns when it ends.
// The connection is closed on return.
func Run(ctx context.Context, conn *websocket.Conn, req ConnectRequest, deps Deps) {
	defer conn.Close()

	params, err := resolve(ctx, deps, req)
	if err != nil {
		deps.Logger.Info().Err(err).Str("save", req.SaveID).Msg("session rejected")
		closeWith(conn, websocket.ClosePolicyViolation, err)
		return
	}

	logger := deps.Logger.With().
		Str("user", params.UserID).
		Str("save", params.SaveID).
		Str("device", params.DeviceID).
		Logger()

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(sessionCtx)

	helloCursor, err := deps.Log.DeviceCursor(sessionCtx, params.UserID, params.SaveID, params.DeviceID)
	if err != nil {
		logger.Error().Err(err).Msg("device cursor lookup failed")
		closeWith(conn, websocket.CloseInternalServerErr, err)
		return
	}

	// The replay floor is the later of the client's resume point and
	// this device's acked cursor: an event a device has acked is never
	// resent to it, even across reconnects. HELLO carries the cursor so
	// the client can detect the skip.
	floor := params.ResumeFrom
	if helloCursor > floor {
		floor = helloCursor
	}

	s := &session{
		deps:   deps,
		params: params,
		conn:   conn,
		writer: newWriter(conn, floor),
		logger: logger,
	}
	s.chat = chat.New(deps.Log, deps.LLM, deps.Usage, params.UserID, params.SaveID, s.pump, logger)

	// Closing the socket is how cancellation reaches the blocked reader;
	// gctx also dies when the tailer fails.
	go func() {
		<-gctx.Done()
		conn.Close()
	}()

	logger.Info().
		Int64("resume_from", params.ResumeFrom).
		Int64("cursor", helloCursor).
		Msg("session open")

	hello, err := stream.MarshalCanonical(helloPayload{UserID: params.UserID, SaveID: params.SaveID})
	if err != nil {
		closeWith(conn, websocket.CloseInternalServerErr, err)
		return
	}
	if err := s.writer.send(stream.ControlFrame(stream.FrameHello, helloCursor, hello)); err != nil {
		return
	}

	// Connect replay: everything above the replay floor.
	if err := s.pump(gctx); err != nil {
		logger.Warn().Err(err).Msg("connect replay failed")
		return
	}

	sub, err := deps.Log.Subscribe(gctx, params.UserID, params.SaveID)
	if err != nil {
		logger.Error().Err(err).Msg("notifier subscribe failed")
		closeWith(conn, websocket.CloseInternalServerErr, err)
		return
	}
	defer sub.Close()

	g.Go(func() error {
		return s.tail(gctx, sub)
	})

	s.readLoop(gctx)

	// Teardown. The chat stream is interrupted but still finalizes, so
	// its done event and usage row land even though the client is gone.
	cancel()
	s.chat.Close()
	if err := g.Wait(); err != nil && sessionCtx.Err() == nil {
		logger.Warn().Err(err).Msg("tailer failed")
	}
	logger.Info().Msg("session closed")
}

// pump drains the log through the writer from the dedup watermark. Both
// the tailer and the chat stream deliver through here, so everything a
// client sees flows through one serialized, deduplicating path.
func (s *session) pump(ctx context.Context) error {
	frames, err := s.deps.Log.Replay(ctx, s.params.UserID, s.params.SaveID, s.writer.lastSentSeq())
	if err != nil {
		return err
	}
	for _, f := range frames {
		if err := s.writer.send(f); err != nil {
			return err
		}
	}
	return nil
}

// tail drains once immediately, covering appends that landed between
// the connect replay and the subscribe, then once per append notice.
// Notices are only hints; every drain re-queries the log, so drops,
// duplicates, and reordering on the notifier are harmless.
func (s *session) tail(ctx context.Context, sub notify.Subscription) error {
	if err := s.pump(ctx); err != nil {
		return s.tailErr(ctx, err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-sub.Notices():
			if !ok {
				return nil
			}
			if err := s.pump(ctx); err != nil {
				return s.tailErr(ctx, err)
			}
		}
	}
}

// tailErr suppresses pump failures caused by teardown itself.
func (s *session) tailErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("session: tail drain: %w", err)
}

// readLoop dispatches inbound messages until the socket dies or the
// client violates the protocol.
func (s *session) readLoop(ctx context.Context) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Err(err).Msg("socket read ended")
			}
			return
		}
		if err := s.dispatch(ctx, data); err != nil {
			if errors.Is(err, errProtocol) {
				s.logger.Info().Err(err).Msg("closing on protocol violation")
				closeWith(s.conn, websocket.CloseUnsupportedData, err)
			} else {
				s.logger.Error().Err(err).Msg("inbound dispatch failed")
				closeWith(s.conn, websocket.CloseInternalServerErr, err)
			}
			return
		}
	}
}

func (s *session) dispatch(ctx context.Context, data []byte) error {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("%w: malformed frame", errProtocol)
	}

	switch msg.Type {
	case stream.FrameAck:
		cursor := msg.Cursor
		if cursor == nil {
			// Legacy clients ack with "seq".
			cursor = msg.Seq
		}
		if cursor == nil {
			return fmt.Errorf("%w: ACK without cursor", errProtocol)
		}
		_, err := s.deps.Log.Ack(ctx, s.params.UserID, s.params.SaveID, s.params.DeviceID, *cursor)
		return err

	case stream.FramePing:
		cursor, err := s.deps.Log.DeviceCursor(ctx, s.params.UserID, s.params.SaveID, s.params.DeviceID)
		if err != nil {
			return err
		}
		return s.writer.send(stream.ControlFrame(stream.FramePong, cursor, msg.Payload))

	case stream.FrameInterrupt:
		s.chat.Interrupt()
		return nil

	case stream.FrameChatSend:
		var p struct {
			Text *string `json:"text"`
		}
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				return fmt.Errorf("%w: malformed CHAT_SEND payload", errProtocol)
			}
		}
		if p.Text == nil {
			return fmt.Errorf("%w: CHAT_SEND without text", errProtocol)
		}
		s.chat.Start(ctx, *p.Text, msg.ClientRequestID)
		return nil

	default:
		return fmt.Errorf("%w: unknown type %q", errProtocol, msg.Type)
	}
}

// closeWith sends a close frame and closes the socket. The reason is
// bounded by the close frame's control payload limit.
func closeWith(conn *websocket.Conn, code int, err error) {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	if len(reason) > 120 {
		reason = reason[:120]
	}
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}
