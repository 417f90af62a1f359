// Package ws implements the realtime gateway transport over WebSocket.
// A dial performs the hello handshake and hands back a live session; the
// connection manager owns the session lifecycle from there.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/sharebite/sharebite-client/internal/proto"
	"github.com/sharebite/sharebite-client/internal/realtime"
)

// Dialer opens authenticated sessions against one gateway URL.
type Dialer struct {
	url string
	log *zerolog.Logger
}

// NewDialer builds a dialer for the given ws:// or wss:// URL.
func NewDialer(url string, logger *zerolog.Logger) *Dialer {
	return &Dialer{url: url, log: logger}
}

// Dial connects, sends the hello intent and waits for the server's answer.
// The caller bounds the whole handshake through ctx. A credential the
// server refuses is surfaced as *realtime.AuthError.
func (d *Dialer) Dial(ctx context.Context, token string) (realtime.Session, error) {
	conn, _, err := websocket.Dial(ctx, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.url, err)
	}

	hello, err := proto.NewIntent(proto.IntentHello, proto.HelloData{
		Token:    token,
		Protocol: proto.ProtocolVersion,
	})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "handshake encode")
		return nil, err
	}
	if err := wsjson.Write(ctx, conn, hello); err != nil {
		conn.Close(websocket.StatusInternalError, "handshake write")
		return nil, fmt.Errorf("write hello: %w", err)
	}

	var ack proto.Event
	if err := wsjson.Read(ctx, conn, &ack); err != nil {
		conn.Close(websocket.StatusInternalError, "handshake read")
		if websocket.CloseStatus(err) == websocket.StatusPolicyViolation {
			return nil, &realtime.AuthError{Reason: "connection rejected"}
		}
		return nil, fmt.Errorf("read handshake answer: %w", err)
	}

	switch ack.Type {
	case proto.EventHelloAck:
		var data proto.HelloAckData
		if err := json.Unmarshal(ack.Data, &data); err == nil && data.UserID != "" {
			d.log.Debug().Str("user_id", data.UserID).Msg("handshake complete")
		}
	case proto.EventError:
		conn.Close(websocket.StatusNormalClosure, "handshake rejected")
		if ack.Error != nil && ack.Error.Code == proto.ErrCodeUnauthorized {
			return nil, &realtime.AuthError{Reason: ack.Error.Msg}
		}
		msg := "unknown error"
		if ack.Error != nil {
			msg = ack.Error.Msg
		}
		return nil, fmt.Errorf("handshake rejected: %s", msg)
	default:
		conn.Close(websocket.StatusProtocolError, "unexpected handshake frame")
		return nil, fmt.Errorf("unexpected handshake frame %q", ack.Type)
	}

	return &session{conn: conn}, nil
}

// session wraps one websocket connection. The first transport error marks
// the session dead; Alive is just an atomic load, cheap enough for the
// manager's heartbeat.
type session struct {
	conn   *websocket.Conn
	closed atomic.Bool
}

func (s *session) Send(ctx context.Context, intent proto.Intent) error {
	if s.closed.Load() {
		return net.ErrClosed
	}
	if err := wsjson.Write(ctx, s.conn, intent); err != nil {
		s.closed.Store(true)
		return err
	}
	return nil
}

func (s *session) Receive(ctx context.Context) (*proto.Event, error) {
	var ev proto.Event
	if err := wsjson.Read(ctx, s.conn, &ev); err != nil {
		s.closed.Store(true)
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("read frame: %w", err)
	}
	return &ev, nil
}

func (s *session) Alive() bool {
	return !s.closed.Load()
}

func (s *session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.conn.Close(websocket.StatusNormalClosure, "closing")
}
