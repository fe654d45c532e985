// Package wire defines the JSON envelopes exchanged over a realtime connection.
//
// Every frame is a single JSON object carrying a "type" discriminant. Frames sent
// by clients decode into a closed set of types implementing Inbound; frames sent
// by the server are flat Envelope values built by the constructors in this
// package.
package wire

import (
	stdjson "encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Type is the envelope discriminant.
type Type string

// Client to server.
const (
	TypeAuth         Type = "auth"
	TypeJoinRoom     Type = "join_room"
	TypeLeaveRoom    Type = "leave_room"
	TypeMessage      Type = "message"
	TypeTyping       Type = "typing"
	TypeStopTyping   Type = "stop_typing"
	TypePresence     Type = "presence"
	TypeNotification Type = "notification"
)

// Server to client. message, typing, stop_typing and notification reuse the
// client-side names.
const (
	TypeAuthSuccess    Type = "auth_success"
	TypeRoomJoined     Type = "room_joined"
	TypeUserJoined     Type = "user_joined"
	TypeUserLeft       Type = "user_left"
	TypePresenceUpdate Type = "presence_update"
	TypeError          Type = "error"
)

// MaxRoomLength bounds room names accepted from clients.
const MaxRoomLength = 128

var (
	// ErrMalformed is returned for frames that are not valid JSON objects or
	// whose fields have the wrong JSON type.
	ErrMalformed = errors.New("malformed envelope")
	// ErrUnknownType is returned when the discriminant is not recognised.
	ErrUnknownType = errors.New("unknown envelope type")
	// ErrMissingField is returned when a required field is absent or empty.
	ErrMissingField = errors.New("missing required field")
)

// Inbound is implemented by every client to server envelope. The set is closed:
// only this package can add members.
type Inbound interface {
	Type() Type
	validate() error
}

type Auth struct {
	Token string `json:"token"`
}

type JoinRoom struct {
	Room string `json:"room"`
}

type LeaveRoom struct {
	Room string `json:"room"`
}

type Message struct {
	Room    string `json:"room"`
	Message string `json:"message"`
}

type Typing struct {
	Room string `json:"room"`
}

type StopTyping struct {
	Room string `json:"room"`
}

type Presence struct {
	Status string `json:"status"`
}

type Notification struct {
	UserID int64              `json:"user_id"`
	Data   stdjson.RawMessage `json:"data"`
}

func (*Auth) Type() Type         { return TypeAuth }
func (*JoinRoom) Type() Type     { return TypeJoinRoom }
func (*LeaveRoom) Type() Type    { return TypeLeaveRoom }
func (*Message) Type() Type      { return TypeMessage }
func (*Typing) Type() Type       { return TypeTyping }
func (*StopTyping) Type() Type   { return TypeStopTyping }
func (*Presence) Type() Type     { return TypePresence }
func (*Notification) Type() Type { return TypeNotification }

func (m *Auth) validate() error       { return required("token", m.Token) }
func (m *JoinRoom) validate() error   { return validRoom(m.Room) }
func (m *LeaveRoom) validate() error  { return validRoom(m.Room) }
func (m *Typing) validate() error     { return validRoom(m.Room) }
func (m *StopTyping) validate() error { return validRoom(m.Room) }
func (m *Presence) validate() error   { return required("status", m.Status) }

func (m *Message) validate() error {
	if err := validRoom(m.Room); err != nil {
		return err
	}
	return required("message", m.Message)
}

func (m *Notification) validate() error {
	if m.UserID == 0 {
		return fmt.Errorf("%w: user_id", ErrMissingField)
	}
	if len(m.Data) == 0 || string(m.Data) == "null" {
		return fmt.Errorf("%w: data", ErrMissingField)
	}
	return nil
}

func required(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s", ErrMissingField, name)
	}
	return nil
}

func validRoom(room string) error {
	if err := required("room", room); err != nil {
		return err
	}
	if len(room) > MaxRoomLength {
		return fmt.Errorf("%w: room name longer than %d bytes", ErrMalformed, MaxRoomLength)
	}
	return nil
}

// Decode parses a client frame into its concrete Inbound type and checks that the
// required fields are present.
func Decode(data []byte) (Inbound, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var msg Inbound
	switch head.Type {
	case "":
		return nil, fmt.Errorf("%w: type", ErrMissingField)
	case TypeAuth:
		msg = &Auth{}
	case TypeJoinRoom:
		msg = &JoinRoom{}
	case TypeLeaveRoom:
		msg = &LeaveRoom{}
	case TypeMessage:
		msg = &Message{}
	case TypeTyping:
		msg = &Typing{}
	case TypeStopTyping:
		msg = &StopTyping{}
	case TypePresence:
		msg = &Presence{}
	case TypeNotification:
		msg = &Notification{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := msg.validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

// Marshal encodes a client envelope together with its discriminant.
func Marshal(msg Inbound) ([]byte, error) {
	if err := msg.validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	var fields map[string]stdjson.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["type"], err = json.Marshal(msg.Type())
	if err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

// User is the public identity carried in server envelopes.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// Envelope is a server to client frame. Only the fields relevant to Type are set.
type Envelope struct {
	Type      Type               `json:"type"`
	ID        string             `json:"id,omitempty"`
	User      *User              `json:"user,omitempty"`
	Room      string             `json:"room,omitempty"`
	Message   string             `json:"message,omitempty"`
	Status    string             `json:"status,omitempty"`
	Timestamp int64              `json:"timestamp,omitempty"`
	Members   []string           `json:"members,omitempty"`
	Data      stdjson.RawMessage `json:"data,omitempty"`
}

// Encode serialises the envelope once so the bytes can be shared by every
// recipient mailbox.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// DecodeEnvelope parses a server frame.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: type", ErrMissingField)
	}
	return env, nil
}

func AuthSuccess(u User) Envelope {
	return Envelope{Type: TypeAuthSuccess, User: &u}
}

func RoomJoined(room string, members []string) Envelope {
	return Envelope{Type: TypeRoomJoined, Room: room, Members: members}
}

func UserJoined(u User, room string) Envelope {
	return Envelope{Type: TypeUserJoined, User: &u, Room: room}
}

func UserLeft(u User, room string) Envelope {
	return Envelope{Type: TypeUserLeft, User: &u, Room: room}
}

func ChatMessage(id string, u User, room, text string, at time.Time) Envelope {
	return Envelope{Type: TypeMessage, ID: id, User: &u, Room: room, Message: text, Timestamp: at.UnixMilli()}
}

func TypingStarted(u User, room string) Envelope {
	return Envelope{Type: TypeTyping, User: &u, Room: room}
}

func TypingStopped(u User, room string) Envelope {
	return Envelope{Type: TypeStopTyping, User: &u, Room: room}
}

func PresenceUpdate(u User, status string, at time.Time) Envelope {
	return Envelope{Type: TypePresenceUpdate, User: &u, Status: status, Timestamp: at.UnixMilli()}
}

func NotificationData(data []byte) Envelope {
	return Envelope{Type: TypeNotification, Data: stdjson.RawMessage(data)}
}

func Error(message string) Envelope {
	return Envelope{Type: TypeError, Message: message}
}
