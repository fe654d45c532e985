package app

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	intrnl "boardlive/internal"
)

// ServerConfig defines how the HTTP/WebSocket backend should run.
type ServerConfig struct {
	Addr   string
	Path   string
	DBPath string

	MailboxSize    int
	ChatBurst      int
	ChatWindow     time.Duration
	TokenTTL       time.Duration
	ArchiveQueue   int
	AllowedOrigins []string
	TrustProxy     bool
}

// ClientConfig defines the parameters the TUI client needs.
type ClientConfig struct {
	ServerURL   string
	Username    string
	Room        string
	SessionPath string
	LogPath     string
}

// core converts the app-level settings into the server core's configuration.
func (c ServerConfig) core() intrnl.Config {
	return intrnl.Config{
		Hub: intrnl.HubConfig{
			MailboxSize: c.MailboxSize,
			ChatBurst:   c.ChatBurst,
			ChatWindow:  c.ChatWindow,
		},
		TokenTTL:       c.TokenTTL,
		ArchiveQueue:   c.ArchiveQueue,
		AllowedOrigins: c.AllowedOrigins,
		SweepInterval:  time.Minute,
		TrustProxy:     c.TrustProxy,
	}
}

// ServerConfigFromEnv reads BOARDLIVE_* variables on top of the defaults.
// Unparseable numbers fall back to the default.
func ServerConfigFromEnv() ServerConfig {
	return ServerConfig{
		Addr:           EnvOrDefault("BOARDLIVE_ADDR", ":8080"),
		Path:           NormalizeJoinPath(os.Getenv("BOARDLIVE_PATH")),
		DBPath:         DefaultDBPath(),
		MailboxSize:    envInt("BOARDLIVE_MAILBOX_SIZE", 256),
		ChatBurst:      envInt("BOARDLIVE_CHAT_BURST", 5),
		ChatWindow:     envDuration("BOARDLIVE_CHAT_WINDOW", 3*time.Second),
		TokenTTL:       envDuration("BOARDLIVE_TOKEN_TTL", 24*time.Hour),
		ArchiveQueue:   envInt("BOARDLIVE_ARCHIVE_QUEUE", 1024),
		AllowedOrigins: splitList(os.Getenv("BOARDLIVE_ALLOWED_ORIGINS")),
		TrustProxy:     os.Getenv("BOARDLIVE_TRUST_PROXY") == "1",
	}
}

// DefaultDBPath returns a per-user data path for the bundled SQLite file.
func DefaultDBPath() string {
	if env := os.Getenv("BOARDLIVE_DB_PATH"); env != "" {
		return env
	}
	if env := os.Getenv("BOARDLIVE_DATA_DIR"); env != "" {
		return filepath.Join(env, "boardlive.db")
	}
	return filepath.Join(dataDir(), "boardlive.db")
}

// DefaultSessionPath is where the terminal client keeps its login token.
func DefaultSessionPath() string {
	if env := os.Getenv("BOARDLIVE_SESSION_PATH"); env != "" {
		return env
	}
	return filepath.Join(dataDir(), "session.json")
}

func dataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "boardlive")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Boardlive")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "Boardlive")
		}
		return filepath.Join(home, ".local", "share", "boardlive")
	}
	return filepath.Join(".", ".boardlive")
}

// NormalizeJoinPath guarantees the websocket join path starts with '/' and
// falls back to /ws when empty.
func NormalizeJoinPath(path string) string {
	if path == "" {
		return "/ws"
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}

func EnvOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
