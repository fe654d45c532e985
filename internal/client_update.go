package internal

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"boardlive/internal/client"
	"boardlive/internal/wire"
)

func (model *TUIModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typedMessage := message.(type) {
	case tea.KeyMsg:
		// Ctrl+C always bails out, whatever the mode.
		if typedMessage.Type == tea.KeyCtrlC {
			model.shutdown()
			return model, tea.Quit
		}
		switch model.mode {
		case modeAuthMenu:
			return model, model.updateAuthMenu(typedMessage)
		case modeAuthUsername, modeAuthPassword:
			return model, model.updateAuthPrompt(typedMessage)
		case modeRoomPrompt:
			return model, model.updateRoomPrompt(typedMessage)
		default:
			return model, model.updateChat(typedMessage)
		}

	case authDoneMsg:
		model.loading = false
		if typedMessage.err != nil {
			if errors.Is(typedMessage.err, errUnauthorized) {
				model.addNotice("Invalid username or password.")
			} else {
				model.addNotice(fmt.Sprintf("Authentication failed: %v", typedMessage.err))
			}
			model.mode = modeAuthMenu
			model.textInput.Blur()
			return model, nil
		}
		resp := typedMessage.resp
		model.username = resp.Username
		model.userID = resp.UserID
		if err := saveSessionToDisk(model.sessionPath, sessionFile{Username: resp.Username, Token: resp.Token}); err != nil {
			model.log.Warn("failed to save session", zap.Error(err))
		}
		return model, model.resumeSession(resp.Token)

	case connectDoneMsg:
		if typedMessage.err != nil {
			model.lastError = typedMessage.err
		}
		return model, nil

	case controllerEventMsg:
		cmd := model.handleEvent(typedMessage.event, typedMessage.data)
		return model, tea.Batch(cmd, model.waitForEvent())

	case existsMsg:
		if typedMessage.err != nil {
			model.addNotice(fmt.Sprintf("Error checking room: %v", typedMessage.err))
		} else if !typedMessage.exists {
			model.addSystemLine(fmt.Sprintf("Room %s is empty, you are the first one here.", typedMessage.room))
		}
		return model, model.enterRoom(typedMessage.room)

	case historyMsg:
		if typedMessage.err != nil {
			model.addNotice(fmt.Sprintf("Could not load history: %v", typedMessage.err))
			return model, nil
		}
		if typedMessage.room == model.room {
			model.prependHistory(typedMessage.messages)
		}
		return model, nil

	case onlineMsg:
		if typedMessage.err != nil {
			model.addNotice(fmt.Sprintf("Could not list online users: %v", typedMessage.err))
			return model, nil
		}
		model.addSystemLine(formatOnline(typedMessage.users))
		return model, nil

	case logoutDoneMsg:
		if typedMessage.err != nil {
			model.log.Warn("logout failed", zap.Error(typedMessage.err))
		}
		return model, nil

	case typingTickMsg:
		model.expireTyping(time.Now())
		return model, typingTick()
	}
	return model, nil
}

func (model *TUIModel) updateAuthMenu(key tea.KeyMsg) tea.Cmd {
	switch key.String() {
	case "1", "l", "L":
		model.authIntent = authIntentLogin
	case "2", "s", "S":
		model.authIntent = authIntentSignup
	case "q", "Q", "esc":
		return tea.Quit
	default:
		return nil
	}
	model.mode = modeAuthUsername
	model.textInput.EchoMode = textinput.EchoNormal
	model.textInput.SetValue(model.username)
	model.setPrompt("user> ", "Username…")
	return model.textInput.Focus()
}

func (model *TUIModel) updateAuthPrompt(key tea.KeyMsg) tea.Cmd {
	switch key.Type {
	case tea.KeyEsc:
		model.mode = modeAuthMenu
		model.textInput.SetValue("")
		model.textInput.EchoMode = textinput.EchoNormal
		model.textInput.Blur()
		return nil
	case tea.KeyEnter:
		value := strings.TrimSpace(model.textInput.Value())
		if value == "" || model.loading {
			return nil
		}
		if model.mode == modeAuthUsername {
			model.username = value
			model.mode = modeAuthPassword
			model.textInput.SetValue("")
			model.textInput.EchoMode = textinput.EchoPassword
			model.setPrompt("password> ", "")
			return nil
		}
		model.textInput.SetValue("")
		model.textInput.EchoMode = textinput.EchoNormal
		model.loading = true
		return model.authCmd(model.authIntent, model.username, value)
	}
	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	return cmd
}

func (model *TUIModel) updateRoomPrompt(key tea.KeyMsg) tea.Cmd {
	switch key.Type {
	case tea.KeyEsc:
		cmd := model.logoutCmd()
		model.resetToMenu()
		return cmd
	case tea.KeyEnter:
		room := strings.TrimSpace(model.textInput.Value())
		if room == "" {
			room = "chat_" + generateSecureKey(12)
		}
		model.textInput.SetValue("")
		return model.existsCmd(room)
	}
	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	return cmd
}

func (model *TUIModel) updateChat(key tea.KeyMsg) tea.Cmd {
	switch key.Type {
	case tea.KeyEsc:
		return model.runCommand("/leave")
	case tea.KeyEnter:
		trimmed := strings.TrimSpace(model.textInput.Value())
		if trimmed == "" {
			return nil
		}
		model.textInput.SetValue("")
		if strings.HasPrefix(trimmed, "/") {
			return model.runCommand(trimmed)
		}
		model.stopTyping()
		if err := model.ctrl.SendMessage(model.room, trimmed); err != nil {
			model.addNotice(fmt.Sprintf("Message not sent: %v", err))
			return nil
		}
		// the server does not echo to the sender
		model.addChatLine(chatLine{room: model.room, user: model.username, body: trimmed, at: time.Now()})
		return nil
	}

	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	model.syncTyping()
	return cmd
}

// syncTyping sends typing or stop_typing when the input turns non-empty or empty.
func (model *TUIModel) syncTyping() {
	if model.ctrl == nil || model.room == "" || strings.HasPrefix(model.textInput.Value(), "/") {
		return
	}
	empty := strings.TrimSpace(model.textInput.Value()) == ""
	switch {
	case !empty && !model.typingSent && model.status.connected:
		if err := model.ctrl.StartTyping(model.room); err == nil {
			model.typingSent = true
		}
	case empty && model.typingSent:
		model.stopTyping()
	}
}

func (model *TUIModel) handleEvent(event client.Event, data client.EventData) tea.Cmd {
	switch event {
	case client.EventConnected:
		model.status = connStatus{connected: true, maxAttempts: model.status.maxAttempts}
		model.lastError = nil
		return nil
	case client.EventDisconnected:
		model.status.connected = false
		model.typingSent = false
		if data.Err != nil {
			model.lastError = data.Err
		}
		return nil
	case client.EventReconnecting:
		model.status.connected = false
		model.status.attempt = data.Attempt
		model.status.maxAttempts = data.MaxAttempts
		if data.Err != nil {
			model.lastError = data.Err
		}
		return nil
	case client.EventReconnectFailed:
		model.status.connected = false
		model.status.gaveUp = true
		model.addNotice("Could not reconnect. Type /reconnect to try again.")
		return nil
	}

	env := data.Envelope
	if env == nil {
		return nil
	}
	name := ""
	if env.User != nil {
		name = env.User.Username
	}
	switch env.Type {
	case wire.TypeAuthSuccess:
		if env.User != nil {
			model.userID = env.User.ID
			model.username = env.User.Username
		}
	case wire.TypeRoomJoined:
		if env.Room == model.room {
			model.addSystemLine(fmt.Sprintf("Joined %s. Here: %s", env.Room, strings.Join(env.Members, ", ")))
		}
	case wire.TypeUserJoined:
		if env.Room == model.room {
			model.addSystemLine(fmt.Sprintf("%s joined", name))
		}
	case wire.TypeUserLeft:
		if env.Room == model.room {
			delete(model.typing, name)
			model.addSystemLine(fmt.Sprintf("%s left", name))
		}
	case wire.TypeMessage:
		delete(model.typing, name)
		if env.Room == model.room {
			model.addChatLine(chatLine{room: env.Room, user: name, body: env.Message, at: time.UnixMilli(env.Timestamp)})
		}
	case wire.TypeTyping:
		if env.Room == model.room && name != model.username {
			model.typing[name] = time.Now()
		}
	case wire.TypeStopTyping:
		delete(model.typing, name)
	case wire.TypePresenceUpdate:
		if name != "" && name != model.username {
			model.addSystemLine(fmt.Sprintf("%s is %s", name, env.Status))
		}
	case wire.TypeNotification:
		model.addSystemLine(fmt.Sprintf("Notification: %s", string(env.Data)))
	case wire.TypeError:
		if env.Message == errInvalidToken.Error() {
			if err := deleteSessionFile(model.sessionPath); err != nil {
				model.log.Warn("failed to delete session", zap.Error(err))
			}
			model.resetToMenu()
			model.addNotice("Your session expired. Please log in again.")
			return nil
		}
		model.addNotice(env.Message)
	}
	return nil
}

// resumeSession connects with token and moves to the room prompt, or straight
// into the configured room.
func (model *TUIModel) resumeSession(token string) tea.Cmd {
	connect := model.startSession(token)
	model.mode = modeRoomPrompt
	model.setPrompt("room> ", "Enter a room name, or leave empty for a new chat room…")
	focus := model.textInput.Focus()
	if model.room != "" {
		room := model.room
		model.room = ""
		return tea.Batch(connect, focus, model.existsCmd(room))
	}
	return tea.Batch(connect, focus)
}

func (model *TUIModel) resetToMenu() {
	model.shutdown()
	model.token = ""
	model.room = ""
	model.status = connStatus{}
	model.typing = make(map[string]time.Time)
	model.typingSent = false
	model.mode = modeAuthMenu
	model.textInput.SetValue("")
	model.textInput.Blur()
	if err := deleteSessionFile(model.sessionPath); err != nil {
		model.log.Warn("failed to delete session", zap.Error(err))
	}
}

func (model *TUIModel) setPrompt(prompt, placeholder string) {
	model.textInput.Prompt = prompt
	model.textInput.Placeholder = placeholder
}

func (model *TUIModel) addChatLine(line chatLine) {
	model.lines = append(model.lines, line)
	if over := len(model.lines) - maxChatLines; over > 0 {
		model.lines = model.lines[over:]
	}
}

func (model *TUIModel) addSystemLine(body string) {
	model.addChatLine(chatLine{room: model.room, body: body, at: time.Now(), system: true})
}

func (model *TUIModel) addNotice(body string) {
	model.notices = append(model.notices, body)
	if over := len(model.notices) - maxNotices; over > 0 {
		model.notices = model.notices[over:]
	}
}

func (model *TUIModel) prependHistory(messages []historyMessageDTO) {
	history := make([]chatLine, 0, len(messages)+len(model.lines))
	for _, msg := range messages {
		history = append(history, chatLine{
			room: model.room,
			user: msg.User.Username,
			body: msg.Message,
			at:   time.UnixMilli(msg.Timestamp),
		})
	}
	model.lines = append(history, model.lines...)
	if over := len(model.lines) - maxChatLines; over > 0 {
		model.lines = model.lines[over:]
	}
}

func (model *TUIModel) expireTyping(now time.Time) {
	for name, at := range model.typing {
		if now.Sub(at) > typingTimeout {
			delete(model.typing, name)
		}
	}
}

func formatOnline(users []onlineUserDTO) string {
	if len(users) == 0 {
		return "Nobody is online."
	}
	parts := make([]string, 0, len(users))
	for _, u := range users {
		if u.Status == StatusOnline {
			parts = append(parts, u.Username)
			continue
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", u.Username, u.Status))
	}
	return "Online: " + strings.Join(parts, ", ")
}
