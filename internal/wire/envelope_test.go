package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInbound(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Inbound
		wantErr error
	}{
		{name: "auth", raw: `{"type":"auth","token":"tok-A"}`, want: &Auth{Token: "tok-A"}},
		{name: "join", raw: `{"type":"join_room","room":"lobby"}`, want: &JoinRoom{Room: "lobby"}},
		{name: "message", raw: `{"type":"message","room":"lobby","message":"hi"}`, want: &Message{Room: "lobby", Message: "hi"}},
		{name: "notification", raw: `{"type":"notification","user_id":7,"data":{"thread":3}}`, want: &Notification{UserID: 7, Data: []byte(`{"thread":3}`)}},
		{name: "not json", raw: `hello`, wantErr: ErrMalformed},
		{name: "array", raw: `[1,2]`, wantErr: ErrMalformed},
		{name: "no type", raw: `{"room":"lobby"}`, wantErr: ErrMissingField},
		{name: "unknown type", raw: `{"type":"shout"}`, wantErr: ErrUnknownType},
		{name: "wrong field type", raw: `{"type":"join_room","room":5}`, wantErr: ErrMalformed},
		{name: "blank room", raw: `{"type":"typing","room":"  "}`, wantErr: ErrMissingField},
		{name: "message without text", raw: `{"type":"message","room":"lobby"}`, wantErr: ErrMissingField},
		{name: "auth without token", raw: `{"type":"auth"}`, wantErr: ErrMissingField},
		{name: "presence without status", raw: `{"type":"presence"}`, wantErr: ErrMissingField},
		{name: "notification without user", raw: `{"type":"notification","data":{}}`, wantErr: ErrMissingField},
		{name: "notification with null data", raw: `{"type":"notification","user_id":1,"data":null}`, wantErr: ErrMissingField},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.raw))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeRejectsLongRoom(t *testing.T) {
	room := make([]byte, MaxRoomLength+1)
	for i := range room {
		room[i] = 'r'
	}
	_, err := Decode([]byte(`{"type":"join_room","room":"` + string(room) + `"}`))
	require.ErrorIs(t, err, ErrMalformed)
}

func TestMarshalAddsDiscriminant(t *testing.T) {
	raw, err := Marshal(&Message{Room: "lobby", Message: "hi"})
	require.NoError(t, err)

	back, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, &Message{Room: "lobby", Message: "hi"}, back)

	_, err = Marshal(&JoinRoom{})
	require.ErrorIs(t, err, ErrMissingField)
}

func TestChatMessageEnvelope(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_123)
	raw, err := Encode(ChatMessage("m1", User{ID: 1, Username: "alice"}, "lobby", "hi", at))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"message","id":"m1","user":{"id":1,"username":"alice"},"room":"lobby","message":"hi","timestamp":1700000000123}`, string(raw))

	env, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, TypeMessage, env.Type)
	assert.Equal(t, "alice", env.User.Username)
}

func TestErrorEnvelopeOmitsEmptyFields(t *testing.T) {
	raw, err := Encode(Error("not authenticated"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","message":"not authenticated"}`, string(raw))
}

func TestDecodeEnvelopeRequiresType(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"room":"lobby"}`))
	require.ErrorIs(t, err, ErrMissingField)
}
