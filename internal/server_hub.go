package internal

import (
	"cmp"
	"errors"
	"io"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"boardlive/internal/wire"
)

var (
	ErrUnknownConnection = errors.New("unknown connection")
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrNotMember         = errors.New("not a member of room")
)

const (
	defaultMailboxSize = 256
	defaultChatBurst   = 5
	defaultChatWindow  = 3 * time.Second
)

// HubConfig tunes per-connection limits.
type HubConfig struct {
	MailboxSize int
	ChatBurst   int
	ChatWindow  time.Duration
}

func (c HubConfig) withDefaults() HubConfig {
	if c.MailboxSize <= 0 {
		c.MailboxSize = defaultMailboxSize
	}
	if c.ChatBurst == 0 {
		c.ChatBurst = defaultChatBurst
	}
	if c.ChatWindow <= 0 {
		c.ChatWindow = defaultChatWindow
	}
	return c
}

// the hub is the connection registry and the room index behind one lock. every
// mutation of either happens under mu. room fanout also enqueues under mu, which
// is fine because enqueue never blocks.
type Hub struct {
	mu    sync.Mutex
	conns map[ConnID]*Connection
	rooms *RoomIndex

	nextID      atomic.Uint64
	presence    *PresenceTracker
	gate        *AuthGate
	archivist   *Archivist
	chatLimiter *RateLimiter
	metrics     *Metrics
	log         *zap.Logger
	mailboxSize int
	now         func() time.Time
}

// NewHub builds an empty hub. archivist may be nil when nothing is persisted.
func NewHub(cfg HubConfig, gate *AuthGate, archivist *Archivist, metrics *Metrics, log *zap.Logger) *Hub {
	cfg = cfg.withDefaults()
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Hub{
		conns:       make(map[ConnID]*Connection),
		rooms:       NewRoomIndex(),
		presence:    NewPresenceTracker(),
		gate:        gate,
		archivist:   archivist,
		chatLimiter: NewRateLimiter(cfg.ChatBurst, cfg.ChatWindow),
		metrics:     metrics,
		log:         log.Named("hub"),
		mailboxSize: cfg.MailboxSize,
		now:         time.Now,
	}
}

// Register adds a freshly accepted transport. The returned connection is open
// but not authenticated.
func (h *Hub) Register(closer io.Closer) *Connection {
	id := ConnID(h.nextID.Add(1))
	conn := newConnection(id, closer, h.mailboxSize, h.log)
	h.mu.Lock()
	h.conns[id] = conn
	conn.open()
	h.mu.Unlock()
	h.metrics.ConnOpened()
	conn.log.Debug("connection registered")
	return conn
}

func (h *Hub) Get(id ConnID) *Connection {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[id]
}

// Disconnect is Remove for callers holding the connection.
func (h *Hub) Disconnect(conn *Connection) {
	h.Remove(conn.ID())
}

type leaveNotice struct {
	room       string
	recipients []*Connection
}

// Remove closes the connection and purges it from every room. It is safe to call
// any number of times; only the first call notifies anybody.
func (h *Hub) Remove(id ConnID) {
	h.mu.Lock()
	conn, ok := h.conns[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	user, authenticated := conn.User()
	purged := h.rooms.Purge(id)
	delete(h.conns, id)
	notices := make([]leaveNotice, 0, len(purged))
	for _, p := range purged {
		notices = append(notices, leaveNotice{room: p.Room, recipients: h.lookupLocked(p.Remaining)})
	}
	remaining := 0
	if authenticated {
		remaining = h.presence.Decrement(user.ID)
	}
	roomCount := h.rooms.Len()
	h.mu.Unlock()

	conn.close()
	h.chatLimiter.Forget(limiterKey(id))
	h.metrics.ConnClosed()
	h.metrics.SetRooms(roomCount)
	conn.log.Debug("connection removed", zap.Int("rooms", len(purged)))

	if !authenticated {
		return
	}
	h.metrics.Deauthenticated()
	for _, n := range notices {
		if payload, err := wire.Encode(wire.UserLeft(user.wire(), n.room)); err == nil {
			h.deliver(n.recipients, payload)
		}
	}
	if remaining == 0 {
		h.Announce(user, StatusOffline)
	}
}

// authenticate binds user to conn and reports whether this is the user's first
// live connection.
func (h *Hub) authenticate(conn *Connection, user UserIdentity) (first bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn.ID()]; !ok {
		return false, ErrUnknownConnection
	}
	if !conn.bind(user) {
		return false, errAlreadyAuthenticated
	}
	h.metrics.Authenticated()
	return h.presence.Increment(user) == 1, nil
}

// Join adds the connection to room. Joining twice is harmless; added reports
// whether membership changed.
func (h *Hub) Join(id ConnID, room string) (members []ConnID, added bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[id]; !ok {
		return nil, false, ErrUnknownConnection
	}
	members, added = h.rooms.Join(id, room)
	h.metrics.SetRooms(h.rooms.Len())
	return members, added, nil
}

// Leave removes the connection from room and returns who is left.
func (h *Hub) Leave(id ConnID, room string) ([]ConnID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[id]; !ok {
		return nil, ErrUnknownConnection
	}
	remaining, removed := h.rooms.Leave(id, room)
	if !removed {
		return nil, ErrNotMember
	}
	h.metrics.SetRooms(h.rooms.Len())
	return remaining, nil
}

// Broadcast sends payload to every member of room except exclude (0 excludes
// nobody) and returns the number of mailboxes it reached.
func (h *Hub) Broadcast(room string, payload []byte, exclude ConnID) int {
	h.mu.Lock()
	delivered, slow := h.fanoutLocked(h.rooms.Members(room), payload, exclude)
	h.mu.Unlock()
	h.dropSlow(slow)
	return delivered
}

// BroadcastAll sends payload to every registered connection.
func (h *Hub) BroadcastAll(payload []byte) int {
	h.mu.Lock()
	ids := make([]ConnID, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	delivered, slow := h.fanoutLocked(ids, payload, 0)
	h.mu.Unlock()
	h.dropSlow(slow)
	return delivered
}

// SendTo delivers payload to a single connection.
func (h *Hub) SendTo(id ConnID, payload []byte) error {
	conn := h.Get(id)
	if conn == nil {
		return ErrUnknownConnection
	}
	if h.deliver([]*Connection{conn}, payload) == 0 {
		return ErrUnknownConnection
	}
	return nil
}

// Announce tells every connection about a presence change of user.
func (h *Hub) Announce(user UserIdentity, status string) int {
	payload, err := wire.Encode(wire.PresenceUpdate(user.wire(), status, h.now()))
	if err != nil {
		h.log.Error("encode presence update", zap.Error(err))
		return 0
	}
	return h.BroadcastAll(payload)
}

// ConnectionsForUser lists the authenticated connections bound to userID.
func (h *Hub) ConnectionsForUser(userID int64) []*Connection {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*Connection
	for _, conn := range h.conns {
		if user, ok := conn.User(); ok && user.ID == userID {
			out = append(out, conn)
		}
	}
	slices.SortFunc(out, func(a, b *Connection) int {
		return cmp.Compare(a.ID(), b.ID())
	})
	return out
}

// memberNames lists the distinct usernames currently in room.
func (h *Hub) memberNames(room string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var names []string
	for _, id := range h.rooms.Members(room) {
		conn, ok := h.conns[id]
		if !ok {
			continue
		}
		if user, ok := conn.User(); ok {
			names = append(names, user.Username)
		}
	}
	slices.Sort(names)
	return slices.Compact(names)
}

func (h *Hub) RoomExists(room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms.Exists(room)
}

func (h *Hub) Members(room string) []ConnID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms.Members(room)
}

func (h *Hub) RoomsOf(id ConnID) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms.RoomsOf(id)
}

// Count is the number of registered connections.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// RoomCount is the number of rooms with at least one member.
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms.Len()
}

func (h *Hub) Presence() *PresenceTracker {
	return h.presence
}

// CloseAll removes every connection, as on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	ids := make([]ConnID, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	h.mu.Unlock()
	for _, id := range ids {
		h.Remove(id)
	}
}

// deliver pushes payload into each mailbox without blocking. A full mailbox gets
// its connection dropped.
func (h *Hub) deliver(recipients []*Connection, payload []byte) int {
	delivered := 0
	var slow []*Connection
	for _, conn := range recipients {
		if conn.enqueue(payload) {
			delivered++
		} else if conn.State() != StateClosed {
			slow = append(slow, conn)
		}
	}
	h.dropSlow(slow)
	return delivered
}

// fanoutLocked enqueues payload for every id except exclude. Holding h.mu keeps
// per-room order the same for every recipient. Full mailboxes are returned for
// dropSlow.
func (h *Hub) fanoutLocked(ids []ConnID, payload []byte, exclude ConnID) (int, []*Connection) {
	delivered := 0
	var slow []*Connection
	for _, id := range ids {
		if id == exclude {
			continue
		}
		conn, ok := h.conns[id]
		if !ok {
			continue
		}
		if conn.enqueue(payload) {
			delivered++
		} else if conn.State() != StateClosed {
			slow = append(slow, conn)
		}
	}
	return delivered, slow
}

// dropSlow disconnects consumers whose mailbox overflowed. Must be called
// without h.mu.
func (h *Hub) dropSlow(slow []*Connection) {
	for _, conn := range slow {
		conn.log.Warn("mailbox full, dropping slow consumer")
		h.metrics.SlowConsumerDropped()
		h.Remove(conn.ID())
	}
}

func (h *Hub) lookupLocked(ids []ConnID) []*Connection {
	out := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if conn, ok := h.conns[id]; ok {
			out = append(out, conn)
		}
	}
	return out
}

func limiterKey(id ConnID) string {
	return strconv.FormatUint(uint64(id), 10)
}
