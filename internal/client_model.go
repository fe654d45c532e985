package internal

import (
	"os"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"boardlive/internal/client"
)

// chatLine is one rendered entry in the chat log. System lines have no user.
type chatLine struct {
	room   string
	user   string
	body   string
	at     time.Time
	system bool
}

type connStatus struct {
	connected   bool
	attempt     int
	maxAttempts int
	gaveUp      bool
}

// tui model struct for all the components and modes
type TUIModel struct {
	textInput   textinput.Model
	lines       []chatLine
	notices     []string
	serverURL   string
	httpBase    string
	sessionPath string
	log         *zap.Logger

	username   string
	token      string
	userID     int64
	authIntent authIntent
	loading    bool

	room       string
	ctrl       *client.Controller
	events     chan tea.Msg
	listening  bool
	status     connStatus
	typing     map[string]time.Time
	typingSent bool
	lastError  error
	mode       appMode
}

type appMode int

const (
	modeAuthMenu appMode = iota
	modeAuthUsername
	modeAuthPassword
	modeRoomPrompt
	modeChat
)

type authIntent int

const (
	authIntentLogin authIntent = iota
	authIntentSignup
)

const (
	maxChatLines  = 500
	maxNotices    = 5
	typingTimeout = 5 * time.Second
)

// ClientOptions configures the terminal client.
type ClientOptions struct {
	ServerURL   string
	Room        string
	Username    string
	SessionPath string
	Logger      *zap.Logger
}

func NewTUIModel(opts ClientOptions) *TUIModel {
	input := textinput.New()
	input.CharLimit = 2000
	input.Prompt = ""

	username := opts.Username
	if username == "" {
		username = defaultUsername()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	model := &TUIModel{
		textInput:   input,
		lines:       make([]chatLine, 0, 64),
		serverURL:   opts.ServerURL,
		sessionPath: opts.SessionPath,
		log:         log,
		username:    username,
		room:        opts.Room,
		events:      make(chan tea.Msg, 64),
		typing:      make(map[string]time.Time),
		mode:        modeAuthMenu,
	}
	if base, err := httpBaseFromJoinURL(opts.ServerURL); err == nil {
		model.httpBase = base
	} else {
		model.lastError = err
	}
	if session, err := loadSessionFromDisk(opts.SessionPath); err == nil {
		model.username = session.Username
		model.token = session.Token
	}
	return model
}

// init user
func defaultUsername() string {
	if user := os.Getenv("BOARDLIVE_USER"); user != "" {
		return user
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return ""
}

func (model *TUIModel) Init() tea.Cmd {
	if model.token != "" && model.httpBase != "" {
		return model.resumeSession(model.token)
	}
	return nil
}

//entry for bubbletea
func RunClient(opts ClientOptions) error {
	model := NewTUIModel(opts)
	program := tea.NewProgram(model)
	_, err := program.Run()
	model.shutdown()
	return err
}
