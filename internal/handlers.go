package internal

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"boardlive/internal/wire"
)

// handleAuth binds the token's user to conn. Only the user's first live
// connection announces online; further tabs reuse the existing presence.
func (h *Hub) handleAuth(ctx context.Context, conn *Connection, m *wire.Auth) {
	if _, ok := conn.User(); ok {
		h.replyError(conn, errAlreadyAuthenticated.Error())
		return
	}
	if h.gate == nil {
		h.replyError(conn, "authentication unavailable")
		return
	}
	user := h.gate.Authenticate(ctx, m.Token)
	if user == nil {
		conn.log.Info("authentication failed")
		h.replyError(conn, errInvalidToken.Error())
		return
	}
	first, err := h.authenticate(conn, *user)
	if err != nil {
		if errors.Is(err, errAlreadyAuthenticated) {
			h.replyError(conn, err.Error())
		}
		return
	}
	conn.log.Info("authenticated", zap.Int64("user_id", user.ID), zap.String("username", user.Username))
	h.reply(conn, wire.AuthSuccess(user.wire()))
	if first {
		h.Announce(*user, StatusOnline)
	}
}

func (h *Hub) handleJoin(conn *Connection, m *wire.JoinRoom) {
	user, _ := conn.User()
	_, added, err := h.Join(conn.ID(), m.Room)
	if err != nil {
		return
	}
	if added {
		if payload, ok := h.encode(wire.UserJoined(user.wire(), m.Room)); ok {
			h.Broadcast(m.Room, payload, conn.ID())
		}
	}
	h.reply(conn, wire.RoomJoined(m.Room, h.memberNames(m.Room)))
}

func (h *Hub) handleLeave(conn *Connection, m *wire.LeaveRoom) {
	user, _ := conn.User()
	if _, err := h.Leave(conn.ID(), m.Room); err != nil {
		if errors.Is(err, ErrNotMember) {
			h.replyError(conn, ErrNotMember.Error()+": "+m.Room)
		}
		return
	}
	if payload, ok := h.encode(wire.UserLeft(user.wire(), m.Room)); ok {
		h.Broadcast(m.Room, payload, 0)
	}
}

func (h *Hub) handleMessage(conn *Connection, m *wire.Message) {
	user, _ := conn.User()
	if !h.isMember(conn.ID(), m.Room) {
		h.replyError(conn, ErrNotMember.Error()+": "+m.Room)
		return
	}
	if !h.chatLimiter.Allow(limiterKey(conn.ID())) {
		h.metrics.ProtocolError("rate_limited")
		h.replyError(conn, "sending too fast, slow down")
		return
	}
	id, at := uuid.NewString(), h.now()
	payload, ok := h.encode(wire.ChatMessage(id, user.wire(), m.Room, m.Message, at))
	if !ok {
		return
	}
	h.Broadcast(m.Room, payload, conn.ID())
	if h.archivist.Accepts(m.Room) {
		h.archivist.Submit(ArchiveJob{ID: id, Room: m.Room, UserID: user.ID, Message: m.Message, At: at})
	}
}

func (h *Hub) handleTyping(conn *Connection, room string, started bool) {
	user, _ := conn.User()
	if !h.isMember(conn.ID(), room) {
		h.replyError(conn, ErrNotMember.Error()+": "+room)
		return
	}
	env := wire.TypingStopped(user.wire(), room)
	if started {
		env = wire.TypingStarted(user.wire(), room)
	}
	if payload, ok := h.encode(env); ok {
		h.Broadcast(room, payload, conn.ID())
	}
}

func (h *Hub) handlePresence(conn *Connection, m *wire.Presence) {
	user, _ := conn.User()
	h.presence.SetStatus(user.ID, m.Status)
	h.Announce(user, m.Status)
}

// handleNotification delivers to every connection of the target user. An offline
// target means the notification is dropped.
func (h *Hub) handleNotification(conn *Connection, m *wire.Notification) {
	targets := h.ConnectionsForUser(m.UserID)
	if len(targets) == 0 {
		conn.log.Debug("notification target offline", zap.Int64("user_id", m.UserID))
		return
	}
	if payload, ok := h.encode(wire.NotificationData(m.Data)); ok {
		h.deliver(targets, payload)
	}
}

func (h *Hub) isMember(id ConnID, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms.IsMember(id, room)
}
