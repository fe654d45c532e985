package internal

import (
	"io"
	"sync"

	"go.uber.org/zap"
)

// ConnID identifies a connection for the lifetime of the process.
type ConnID uint64

// ConnState is the lifecycle state of a connection.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateUnauthenticated
	StateAuthenticated
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateUnauthenticated:
		return "open_unauthenticated"
	case StateAuthenticated:
		return "open_authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection is one duplex session. The hub owns it; rooms refer to it only by
// ConnID.
type Connection struct {
	id     ConnID
	closer io.Closer
	// send is the bounded outbound mailbox. It is never closed: writers stop on
	// done instead, so a late broadcast can never panic.
	send chan []byte
	done chan struct{}
	log  *zap.Logger

	mu        sync.Mutex
	state     ConnState
	user      *UserIdentity
	closeOnce sync.Once
}

func newConnection(id ConnID, closer io.Closer, mailboxSize int, log *zap.Logger) *Connection {
	return &Connection{
		id:     id,
		closer: closer,
		send:   make(chan []byte, mailboxSize),
		done:   make(chan struct{}),
		log:    log.With(zap.Uint64("conn_id", uint64(id))),
		state:  StateConnecting,
	}
}

func (c *Connection) ID() ConnID {
	return c.id
}

func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// User returns the bound identity while the connection is authenticated.
func (c *Connection) User() (UserIdentity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateAuthenticated || c.user == nil {
		return UserIdentity{}, false
	}
	return *c.user, true
}

// Done is closed once the connection reaches StateClosed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Mailbox exposes the outbound queue to the transport writer.
func (c *Connection) Mailbox() <-chan []byte {
	return c.send
}

func (c *Connection) open() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateConnecting {
		c.state = StateUnauthenticated
	}
}

// bind promotes an unauthenticated connection. It fails if the connection is
// already authenticated or closed.
func (c *Connection) bind(user UserIdentity) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateUnauthenticated {
		return false
	}
	c.user = &user
	c.state = StateAuthenticated
	return true
}

// enqueue never blocks. It reports false when the mailbox is full or the
// connection is closed.
func (c *Connection) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// close moves the connection to StateClosed and closes the transport. Only the
// first call has any effect.
func (c *Connection) close() bool {
	closed := false
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		close(c.done)
		if c.closer != nil {
			if err := c.closer.Close(); err != nil {
				c.log.Debug("transport close", zap.Error(err))
			}
		}
		closed = true
	})
	return closed
}
