package client

import (
	"time"

	"boardlive/internal/wire"
)

// Event names what a handler subscribes to. Server envelopes are re-emitted under
// their wire type ("message", "user_joined", ...).
type Event string

const (
	EventConnected       Event = "connected"
	EventDisconnected    Event = "disconnected"
	EventReconnecting    Event = "reconnecting"
	EventReconnectFailed Event = "reconnect_failed"
)

// EventFor maps a server envelope type to its event name.
func EventFor(t wire.Type) Event {
	return Event(t)
}

// EventData is passed to every handler. Only the fields relevant to the event
// are set.
type EventData struct {
	Attempt     int
	MaxAttempts int
	Delay       time.Duration
	Err         error
	Envelope    *wire.Envelope
}

type Handler func(EventData)

// HandlerID identifies one subscription for Off.
type HandlerID uint64

type subscription struct {
	id      HandlerID
	handler Handler
}
