package internal

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 8192
)

// newUpgrader accepts any origin when allowed is empty, otherwise only the listed
// hosts (or full origins).
func newUpgrader(allowed []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if slices.Contains(allowed, origin) {
				return true
			}
			u, err := url.Parse(origin)
			return err == nil && slices.ContainsFunc(allowed, func(a string) bool {
				return strings.EqualFold(a, u.Host)
			})
		},
	}
}

// ServeWS upgrades the request and runs the connection until it closes. ctx is the
// server's lifetime context, not the request's.
func ServeWS(ctx context.Context, hub *Hub, upgrader *websocket.Upgrader, writer http.ResponseWriter, request *http.Request) {
	websocketConn, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		hub.log.Warn("upgrade failed", zap.Error(err), zap.String("remote", request.RemoteAddr))
		return
	}
	conn := hub.Register(websocketConn)
	conn.log.Info("websocket connected", zap.String("remote", request.RemoteAddr), zap.String("user_agent", request.UserAgent()))

	go writePump(hub, conn, websocketConn)
	go readPump(ctx, hub, conn, websocketConn)
}

// readPump feeds every frame to the router. A read error (including a missed pong)
// ends the connection.
func readPump(ctx context.Context, hub *Hub, conn *Connection, ws *websocket.Conn) {
	defer hub.Disconnect(conn)
	ws.SetReadLimit(maxMsgSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				conn.log.Info("read failed", zap.Error(err))
			}
			return
		}
		hub.Dispatch(ctx, conn, payload)
	}
}

func writePump(hub *Hub, conn *Connection, ws *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		hub.Disconnect(conn)
	}()
	for {
		select {
		case <-conn.Done():
			return
		case message := <-conn.Mailbox():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
				conn.log.Debug("write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
