package internal

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"boardlive/internal/wire"
)

var (
	errAlreadyAuthenticated = errors.New("already authenticated")
	errInvalidToken         = errors.New("invalid or expired token")
)

// Dispatch handles one inbound frame from conn. Bad frames are answered with an
// error envelope on conn only; they never close it.
func (h *Hub) Dispatch(ctx context.Context, conn *Connection, raw []byte) {
	if conn.State() == StateClosed {
		return
	}
	msg, err := wire.Decode(raw)
	if err != nil {
		h.metrics.ProtocolError(protocolReason(err))
		conn.log.Debug("rejecting frame", zap.Error(err))
		h.replyError(conn, err.Error())
		return
	}
	h.metrics.Envelope(msg.Type())

	if _, isAuth := msg.(*wire.Auth); !isAuth {
		if _, ok := conn.User(); !ok {
			h.metrics.ProtocolError("unauthenticated")
			h.replyError(conn, ErrNotAuthenticated.Error())
			return
		}
	}

	switch m := msg.(type) {
	case *wire.Auth:
		h.handleAuth(ctx, conn, m)
	case *wire.JoinRoom:
		h.handleJoin(conn, m)
	case *wire.LeaveRoom:
		h.handleLeave(conn, m)
	case *wire.Message:
		h.handleMessage(conn, m)
	case *wire.Typing:
		h.handleTyping(conn, m.Room, true)
	case *wire.StopTyping:
		h.handleTyping(conn, m.Room, false)
	case *wire.Presence:
		h.handlePresence(conn, m)
	case *wire.Notification:
		h.handleNotification(conn, m)
	default:
		h.metrics.ProtocolError("unknown_type")
		h.replyError(conn, wire.ErrUnknownType.Error())
	}
}

func protocolReason(err error) string {
	switch {
	case errors.Is(err, wire.ErrUnknownType):
		return "unknown_type"
	case errors.Is(err, wire.ErrMissingField):
		return "missing_field"
	default:
		return "malformed"
	}
}

func (h *Hub) replyError(conn *Connection, message string) {
	h.reply(conn, wire.Error(message))
}

func (h *Hub) reply(conn *Connection, env wire.Envelope) {
	payload, ok := h.encode(env)
	if !ok {
		return
	}
	h.deliver([]*Connection{conn}, payload)
}

func (h *Hub) encode(env wire.Envelope) ([]byte, bool) {
	payload, err := wire.Encode(env)
	if err != nil {
		h.log.Error("encode envelope", zap.String("type", string(env.Type)), zap.Error(err))
		return nil, false
	}
	return payload, true
}
