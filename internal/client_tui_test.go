package internal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardlive/internal/client"
	"boardlive/internal/wire"
)

func TestHTTPBaseFromJoinURL(t *testing.T) {
	base, err := httpBaseFromJoinURL("ws://localhost:8080/ws?x=1")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", base)

	base, err = httpBaseFromJoinURL("wss://boards.example.com/ws")
	require.NoError(t, err)
	assert.Equal(t, "https://boards.example.com", base)

	_, err = httpBaseFromJoinURL("ftp://nope")
	assert.Error(t, err)
}

func TestSessionFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")

	_, err := loadSessionFromDisk(path)
	require.Error(t, err)

	require.NoError(t, saveSessionToDisk(path, sessionFile{Username: "alice", Token: "tok-A"}))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	session, err := loadSessionFromDisk(path)
	require.NoError(t, err)
	assert.Equal(t, "alice", session.Username)
	assert.Equal(t, "tok-A", session.Token)

	require.NoError(t, deleteSessionFile(path))
	require.NoError(t, deleteSessionFile(path))
	_, err = loadSessionFromDisk(path)
	assert.Error(t, err)
}

func TestAPIClientAgainstServer(t *testing.T) {
	ts := newTestServer(t)
	base := ts.http.URL

	require.NoError(t, apiSignup(base, "alice", "s3cret"))
	err := apiSignup(base, "alice", "s3cret")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")

	_, err = apiLogin(base, "alice", "wrong")
	assert.True(t, errors.Is(err, errUnauthorized))

	resp, err := apiLogin(base, "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "alice", resp.Username)

	users, err := apiOnline(base)
	require.NoError(t, err)
	assert.Empty(t, users)

	history, err := apiHistory(base, resp.Token, "chat_general", 10)
	require.NoError(t, err)
	assert.Empty(t, history)

	require.NoError(t, apiLogout(base, resp.Token))
	assert.True(t, errors.Is(apiLogout(base, resp.Token), errUnauthorized))
}

func newTestModel(t *testing.T) *TUIModel {
	t.Helper()
	model := NewTUIModel(ClientOptions{
		ServerURL:   "ws://127.0.0.1:1/ws",
		Username:    "alice",
		SessionPath: filepath.Join(t.TempDir(), "session.json"),
	})
	model.room = "lobby"
	model.mode = modeChat
	return model
}

func envelopeEvent(env wire.Envelope) (client.Event, client.EventData) {
	return client.EventFor(env.Type), client.EventData{Envelope: &env}
}

func TestModelTracksConnectionStatus(t *testing.T) {
	model := newTestModel(t)

	model.handleEvent(client.EventReconnecting, client.EventData{Attempt: 2, MaxAttempts: 5, Err: errors.New("refused")})
	assert.False(t, model.status.connected)
	assert.Equal(t, 2, model.status.attempt)
	assert.Contains(t, model.renderStatusLine(), "Reconnecting (2/5)")

	model.handleEvent(client.EventReconnectFailed, client.EventData{})
	assert.True(t, model.status.gaveUp)
	assert.Contains(t, model.renderStatusLine(), "gave up")

	model.handleEvent(client.EventConnected, client.EventData{})
	assert.True(t, model.status.connected)
	assert.False(t, model.status.gaveUp)
	assert.Zero(t, model.status.attempt)
	assert.Nil(t, model.lastError)
}

func TestModelRendersRoomEvents(t *testing.T) {
	model := newTestModel(t)
	bob := wire.User{ID: 2, Username: "bob"}

	model.handleEvent(envelopeEvent(wire.UserJoined(bob, "lobby")))
	model.handleEvent(envelopeEvent(wire.TypingStarted(bob, "lobby")))
	assert.Contains(t, model.renderTyping(), "bob is typing")

	model.handleEvent(envelopeEvent(wire.ChatMessage("m1", bob, "lobby", "hi", time.Now())))
	assert.Empty(t, model.typing, "a message clears the sender's typing indicator")

	// other rooms are not shown in the current log
	model.handleEvent(envelopeEvent(wire.ChatMessage("m2", bob, "elsewhere", "psst", time.Now())))

	model.handleEvent(envelopeEvent(wire.PresenceUpdate(bob, StatusOffline, time.Now())))

	var bodies []string
	for _, line := range model.lines {
		bodies = append(bodies, line.body)
	}
	assert.Equal(t, []string{"bob joined", "hi", "bob is offline"}, bodies)
	assert.Contains(t, model.View(), "hi")
}

func TestModelTypingExpires(t *testing.T) {
	model := newTestModel(t)
	model.typing["bob"] = time.Now().Add(-2 * typingTimeout)
	model.typing["carol"] = time.Now()

	model.expireTyping(time.Now())
	assert.NotContains(t, model.typing, "bob")
	assert.Contains(t, model.typing, "carol")
}

func TestModelInvalidTokenReturnsToMenu(t *testing.T) {
	model := newTestModel(t)
	require.NoError(t, saveSessionToDisk(model.sessionPath, sessionFile{Username: "alice", Token: "stale"}))

	model.handleEvent(envelopeEvent(wire.Error(errInvalidToken.Error())))

	assert.Equal(t, modeAuthMenu, model.mode)
	assert.Empty(t, model.token)
	_, err := loadSessionFromDisk(model.sessionPath)
	assert.Error(t, err)
	assert.Contains(t, model.renderSystemNotices(), "session expired")
}

func TestModelSlashCommands(t *testing.T) {
	model := newTestModel(t)

	assert.Nil(t, model.runCommand("/join"))
	assert.Contains(t, model.notices[len(model.notices)-1], "Usage: /join")

	assert.Nil(t, model.runCommand("/frobnicate"))
	assert.Contains(t, model.notices[len(model.notices)-1], "Unknown command")

	assert.NotNil(t, model.runCommand("/join chat_general"))
}

func TestModelAuthFlow(t *testing.T) {
	model := newTestModel(t)
	model.mode = modeAuthMenu

	model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("2")})
	assert.Equal(t, modeAuthUsername, model.mode)
	assert.Equal(t, authIntentSignup, model.authIntent)

	model.textInput.SetValue("bob")
	model.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, modeAuthPassword, model.mode)
	assert.Equal(t, "bob", model.username)

	model.textInput.SetValue("pw")
	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.NotNil(t, cmd)
	assert.True(t, model.loading)

	model.Update(authDoneMsg{err: errUnauthorized})
	assert.False(t, model.loading)
	assert.Equal(t, modeAuthMenu, model.mode)
	assert.Contains(t, model.renderSystemNotices(), "Invalid username or password")
}

func TestFormatOnline(t *testing.T) {
	assert.Equal(t, "Nobody is online.", formatOnline(nil))
	users := []onlineUserDTO{
		{userDTO: userDTO{ID: 1, Username: "alice"}, Status: StatusOnline},
		{userDTO: userDTO{ID: 2, Username: "bob"}, Status: "away"},
	}
	assert.Equal(t, "Online: alice, bob (away)", formatOnline(users))
}

func TestModelSessionAgainstServer(t *testing.T) {
	ts := newTestServer(t)
	ts.seedUser(t, "alice", "tok-A")
	ts.seedUser(t, "bob", "tok-B")

	model := NewTUIModel(ClientOptions{
		ServerURL:   "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws",
		SessionPath: filepath.Join(t.TempDir(), "session.json"),
	})
	t.Cleanup(model.shutdown)
	model.startSession("tok-A")
	require.NoError(t, model.ctrl.Connect(context.Background()))

	pump := func(want wire.Type) {
		t.Helper()
		deadline := time.After(3 * time.Second)
		for {
			select {
			case msg := <-model.events:
				ev := msg.(controllerEventMsg)
				model.handleEvent(ev.event, ev.data)
				if ev.data.Envelope != nil && ev.data.Envelope.Type == want {
					return
				}
			case <-deadline:
				t.Fatalf("timed out waiting for %s", want)
			}
		}
	}
	pump(wire.TypeAuthSuccess)
	assert.True(t, model.status.connected)
	assert.Equal(t, "alice", model.username)

	model.enterRoom("lobby")
	pump(wire.TypeRoomJoined)

	bob := ts.login(t, "tok-B")
	writeFrame(t, bob, &wire.JoinRoom{Room: "lobby"})
	readUntil(t, bob, wire.TypeRoomJoined)
	pump(wire.TypeUserJoined)

	writeFrame(t, bob, &wire.Message{Room: "lobby", Message: "hello alice"})
	pump(wire.TypeMessage)
	last := model.lines[len(model.lines)-1]
	assert.Equal(t, "bob", last.user)
	assert.Equal(t, "hello alice", last.body)
}
