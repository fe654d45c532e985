package internal

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"boardlive/internal/client"
	"boardlive/internal/storage"
	"boardlive/internal/wire"
)

const historyFetchLimit = 50

// controllerEventMsg carries one controller callback into the bubbletea loop.
type controllerEventMsg struct {
	event client.Event
	data  client.EventData
}

type (
	authDoneMsg struct {
		resp *loginResponse
		err  error
	}
	connectDoneMsg struct{ err error }
	existsMsg      struct {
		room   string
		exists bool
		err    error
	}
	historyMsg struct {
		room     string
		messages []historyMessageDTO
		err      error
	}
	onlineMsg struct {
		users []onlineUserDTO
		err   error
	}
	logoutDoneMsg struct{ err error }
	typingTickMsg struct{}
)

// authCmd signs up first when asked to, then logs in.
func (model *TUIModel) authCmd(intent authIntent, username, password string) tea.Cmd {
	base := model.httpBase
	return func() tea.Msg {
		if intent == authIntentSignup {
			if err := apiSignup(base, username, password); err != nil {
				return authDoneMsg{err: err}
			}
		}
		resp, err := apiLogin(base, username, password)
		return authDoneMsg{resp: resp, err: err}
	}
}

func (model *TUIModel) logoutCmd() tea.Cmd {
	base, token := model.httpBase, model.token
	return func() tea.Msg {
		return logoutDoneMsg{err: apiLogout(base, token)}
	}
}

// startSession builds a controller for token and dials in the background.
// Controller callbacks are funnelled through model.events.
func (model *TUIModel) startSession(token string) tea.Cmd {
	model.shutdown()
	model.token = token
	model.status = connStatus{maxAttempts: client.DefaultMaxAttempts}

	ctrl := client.New(client.Config{
		URL:    model.serverURL,
		Token:  token,
		Header: http.Header{"User-Agent": []string{UserAgent()}},
		Logger: model.log,
	})
	events := model.events
	forward := func(event client.Event) client.Handler {
		return func(data client.EventData) {
			select {
			case events <- controllerEventMsg{event: event, data: data}:
			default:
				model.log.Warn("dropping client event, ui is behind")
			}
		}
	}
	for _, event := range subscribedEvents {
		ctrl.On(event, forward(event))
	}
	model.ctrl = ctrl

	if model.listening {
		return connectCmd(ctrl)
	}
	model.listening = true
	return tea.Batch(connectCmd(ctrl), model.waitForEvent(), typingTick())
}

var subscribedEvents = []client.Event{
	client.EventConnected,
	client.EventDisconnected,
	client.EventReconnecting,
	client.EventReconnectFailed,
	client.EventFor(wire.TypeAuthSuccess),
	client.EventFor(wire.TypeRoomJoined),
	client.EventFor(wire.TypeUserJoined),
	client.EventFor(wire.TypeUserLeft),
	client.EventFor(wire.TypeMessage),
	client.EventFor(wire.TypeTyping),
	client.EventFor(wire.TypeStopTyping),
	client.EventFor(wire.TypePresenceUpdate),
	client.EventFor(wire.TypeNotification),
	client.EventFor(wire.TypeError),
}

func connectCmd(ctrl *client.Controller) tea.Cmd {
	return func() tea.Msg {
		return connectDoneMsg{err: ctrl.Connect(context.Background())}
	}
}

// waitForEvent blocks on the next controller event. Update re-arms it after
// every controllerEventMsg.
func (model *TUIModel) waitForEvent() tea.Cmd {
	events := model.events
	return func() tea.Msg {
		return <-events
	}
}

// HTTP GET against /exists so we can tell the user whether they open a new room
func (model *TUIModel) existsCmd(room string) tea.Cmd {
	base := model.httpBase
	return func() tea.Msg {
		endpoint := fmt.Sprintf("%s/exists?room=%s", base, url.QueryEscape(room))
		httpClient := &http.Client{Timeout: 3 * time.Second}
		resp, err := httpClient.Get(endpoint)
		if err != nil {
			return existsMsg{room: room, err: err}
		}
		_ = resp.Body.Close()
		return existsMsg{room: room, exists: resp.StatusCode == http.StatusOK}
	}
}

func (model *TUIModel) historyCmd(room string) tea.Cmd {
	base, token := model.httpBase, model.token
	return func() tea.Msg {
		messages, err := apiHistory(base, token, room, historyFetchLimit)
		return historyMsg{room: room, messages: messages, err: err}
	}
}

func (model *TUIModel) onlineCmd() tea.Cmd {
	base := model.httpBase
	return func() tea.Msg {
		users, err := apiOnline(base)
		return onlineMsg{users: users, err: err}
	}
}

func typingTick() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		return typingTickMsg{}
	})
}

// shutdown tears down the current controller, if any.
func (model *TUIModel) shutdown() {
	if model.ctrl != nil {
		model.ctrl.Disconnect()
		model.ctrl = nil
	}
}

// runCommand handles a slash command typed in the chat view.
func (model *TUIModel) runCommand(line string) tea.Cmd {
	fields := strings.Fields(line)
	name := strings.ToLower(fields[0])
	args := fields[1:]

	switch name {
	case "/quit", "/exit":
		model.shutdown()
		return tea.Quit
	case "/join":
		if len(args) != 1 {
			model.addNotice("Usage: /join <room>")
			return nil
		}
		return model.existsCmd(args[0])
	case "/leave":
		if model.room == "" {
			return nil
		}
		model.stopTyping()
		if err := model.ctrl.LeaveRoom(model.room); err != nil && !errors.Is(err, client.ErrNotConnected) {
			model.addNotice(fmt.Sprintf("Leave failed: %v", err))
		}
		model.addSystemLine(fmt.Sprintf("You left %s", model.room))
		model.room = ""
		model.typing = make(map[string]time.Time)
		model.mode = modeRoomPrompt
		model.setPrompt("room> ", "Enter a room name, or leave empty for a new chat room…")
		return nil
	case "/status":
		if len(args) != 1 {
			model.addNotice("Usage: /status <online|away|busy>")
			return nil
		}
		if err := model.ctrl.SetPresence(args[0]); err != nil {
			model.addNotice(fmt.Sprintf("Status not sent: %v", err))
		}
		return nil
	case "/who":
		return model.onlineCmd()
	case "/reconnect":
		if model.ctrl == nil {
			return nil
		}
		model.status.gaveUp = false
		return connectCmd(model.ctrl)
	case "/logout":
		cmd := model.logoutCmd()
		model.resetToMenu()
		return cmd
	default:
		model.addNotice(fmt.Sprintf("Unknown command %s", name))
		return nil
	}
}

// enterRoom joins room, leaving the current one first.
func (model *TUIModel) enterRoom(room string) tea.Cmd {
	if model.room != "" && model.room != room {
		model.stopTyping()
		_ = model.ctrl.LeaveRoom(model.room)
	}
	model.room = room
	model.typing = make(map[string]time.Time)
	if err := model.ctrl.JoinRoom(room); err != nil && !errors.Is(err, client.ErrNotConnected) {
		model.addNotice(fmt.Sprintf("Join failed: %v", err))
	}
	model.mode = modeChat
	model.setPrompt("> ", "Type a message…")

	if storage.IsChatRoom(room) {
		return model.historyCmd(room)
	}
	return nil
}

func (model *TUIModel) stopTyping() {
	if !model.typingSent || model.room == "" {
		return
	}
	model.typingSent = false
	_ = model.ctrl.StopTyping(model.room)
}

// make shareable room code using base32
func generateSecureKey(length int) string {
	if length < 8 {
		length = 8
	}
	// base32 encoding gets 1.6 bytes per char
	byteLen := (length * 5) / 8
	if (length*5)%8 != 0 {
		byteLen++
	}
	b := make([]byte, byteLen)
	_, _ = rand.Read(b)
	//  base32 without padding, uppercase A-Z2-7
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b)
	if len(enc) >= length {
		return strings.ToLower(enc[:length])
	}
	return strings.ToLower(enc)
}
