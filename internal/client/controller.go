// Package client is the reconnecting realtime client used by terminal and test
// front ends.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"boardlive/internal/wire"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrNoURL        = errors.New("server URL is required")
)

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = time.Second
)

type Config struct {
	URL         string
	Token       string
	MaxAttempts int
	BaseDelay   time.Duration
	Header      http.Header
	Dialer      Dialer
	Scheduler   Scheduler
	Logger      *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.Dialer == nil {
		c.Dialer = WebsocketDialer{}
	}
	if c.Scheduler == nil {
		c.Scheduler = realScheduler{}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Controller keeps one realtime connection alive. After an unexpected close it
// retries with linear backoff until the attempts run out, then reports
// reconnect_failed and waits for an explicit Connect.
type Controller struct {
	cfg Config
	log *zap.Logger

	mu       sync.Mutex
	ctx      context.Context
	token    string
	conn     Conn
	policy   *retryPolicy
	retry    Timer
	stopped  bool
	rooms    map[string]struct{}
	handlers map[Event][]subscription
	nextID   HandlerID

	writeMu sync.Mutex
}

func New(cfg Config) *Controller {
	cfg = cfg.withDefaults()
	return &Controller{
		cfg:      cfg,
		log:      cfg.Logger.Named("client"),
		ctx:      context.Background(),
		token:    cfg.Token,
		policy:   newRetryPolicy(cfg.BaseDelay, cfg.MaxAttempts),
		rooms:    make(map[string]struct{}),
		handlers: make(map[Event][]subscription),
	}
}

// On subscribes handler to event. Handlers run in subscription order.
func (c *Controller) On(event Event, handler Handler) HandlerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.handlers[event] = append(c.handlers[event], subscription{id: c.nextID, handler: handler})
	return c.nextID
}

// Off removes the given subscriptions, or every handler of event when ids is
// empty.
func (c *Controller) Off(event Event, ids ...HandlerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(ids) == 0 {
		delete(c.handlers, event)
		return
	}
	c.handlers[event] = slices.DeleteFunc(c.handlers[event], func(s subscription) bool {
		return slices.Contains(ids, s.id)
	})
	if len(c.handlers[event]) == 0 {
		delete(c.handlers, event)
	}
}

// SetToken replaces the token sent on the next (re)connect.
func (c *Controller) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Attempt is the number of reconnects tried since the last successful connect.
func (c *Controller) Attempt() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.policy.attempt()
}

// Connect dials the server, starting a fresh retry budget. A failed dial is
// returned and also enters the retry path. ctx bounds every later reconnect too.
func (c *Controller) Connect(ctx context.Context) error {
	if c.cfg.URL == "" {
		return ErrNoURL
	}
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	c.stopped = false
	c.ctx = ctx
	c.stopRetryLocked()
	c.policy.reset()
	c.mu.Unlock()
	return c.dial()
}

// Disconnect closes the connection, cancels a pending retry, and turns automatic
// reconnects off until the next Connect.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	c.stopped = true
	c.stopRetryLocked()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return
	}
	_ = conn.Close()
	c.emit(EventDisconnected, EventData{})
}

func (c *Controller) dial() error {
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()

	conn, err := c.cfg.Dialer.Dial(ctx, c.cfg.URL, c.cfg.Header)
	if err != nil {
		c.log.Debug("dial failed", zap.String("url", c.cfg.URL), zap.Error(err))
		c.scheduleRetry(err)
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	if c.stopped || c.conn != nil {
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.conn = conn
	c.policy.reset()
	token := c.token
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	c.mu.Unlock()
	slices.Sort(rooms)

	c.emit(EventConnected, EventData{})
	if token != "" {
		if err := c.writeTo(conn, &wire.Auth{Token: token}); err != nil {
			c.log.Warn("send auth", zap.Error(err))
		}
	}
	for _, room := range rooms {
		if err := c.writeTo(conn, &wire.JoinRoom{Room: room}); err != nil {
			c.log.Warn("rejoin room", zap.String("room", room), zap.Error(err))
		}
	}
	go c.readLoop(conn)
	return nil
}

func (c *Controller) readLoop(conn Conn) {
	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		env, err := wire.DecodeEnvelope(payload)
		if err != nil {
			c.log.Debug("ignoring frame", zap.Error(err))
			continue
		}
		c.emit(EventFor(env.Type), EventData{Envelope: &env})
	}
}

func (c *Controller) handleClose(conn Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		// Disconnect or a newer connection already took over.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()
	_ = conn.Close()
	c.emit(EventDisconnected, EventData{Err: cause})
	c.scheduleRetry(cause)
}

func (c *Controller) scheduleRetry(cause error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	if c.ctx.Err() != nil {
		c.stopped = true
		c.mu.Unlock()
		return
	}
	attempt, delay, ok := c.policy.next()
	c.mu.Unlock()

	if !ok {
		c.log.Warn("giving up reconnecting", zap.Int("attempts", attempt), zap.Error(cause))
		c.emit(EventReconnectFailed, EventData{Attempt: attempt, MaxAttempts: c.cfg.MaxAttempts, Err: cause})
		return
	}
	c.emit(EventReconnecting, EventData{Attempt: attempt, MaxAttempts: c.cfg.MaxAttempts, Delay: delay, Err: cause})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopRetryLocked()
	c.retry = c.cfg.Scheduler.AfterFunc(delay, c.retryNow)
}

func (c *Controller) retryNow() {
	c.mu.Lock()
	c.retry = nil
	if c.stopped || c.conn != nil {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	_ = c.dial()
}

func (c *Controller) stopRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

// emit runs the handlers for event in order. A panicking handler is logged and
// skipped.
func (c *Controller) emit(event Event, data EventData) {
	c.mu.Lock()
	subs := slices.Clone(c.handlers[event])
	c.mu.Unlock()
	for _, sub := range subs {
		c.invoke(event, sub, data)
	}
}

func (c *Controller) invoke(event Event, sub subscription, data EventData) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("event handler panicked",
				zap.String("event", string(event)),
				zap.Uint64("handler", uint64(sub.id)),
				zap.Any("panic", r))
		}
	}()
	sub.handler(data)
}

// Send writes any client envelope on the live connection.
func (c *Controller) Send(msg wire.Inbound) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return c.writeTo(conn, msg)
}

func (c *Controller) writeTo(conn Conn, msg wire.Inbound) error {
	payload, err := wire.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Controller) SendMessage(room, message string) error {
	return c.Send(&wire.Message{Room: room, Message: message})
}

// JoinRoom joins room now and again after every reconnect.
func (c *Controller) JoinRoom(room string) error {
	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
	return c.Send(&wire.JoinRoom{Room: room})
}

func (c *Controller) LeaveRoom(room string) error {
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
	return c.Send(&wire.LeaveRoom{Room: room})
}

// Rooms lists the rooms that are rejoined on reconnect.
func (c *Controller) Rooms() []string {
	c.mu.Lock()
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	c.mu.Unlock()
	slices.Sort(rooms)
	return rooms
}

func (c *Controller) StartTyping(room string) error {
	return c.Send(&wire.Typing{Room: room})
}

func (c *Controller) StopTyping(room string) error {
	return c.Send(&wire.StopTyping{Room: room})
}

func (c *Controller) SetPresence(status string) error {
	return c.Send(&wire.Presence{Status: status})
}

func (c *Controller) Notify(userID int64, data []byte) error {
	return c.Send(&wire.Notification{UserID: userID, Data: data})
}
