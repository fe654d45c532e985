package app

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"boardlive/internal/client"
	"boardlive/internal/wire"
)

func TestNormalizeJoinPath(t *testing.T) {
	assert.Equal(t, "/ws", NormalizeJoinPath(""))
	assert.Equal(t, "/live", NormalizeJoinPath("live"))
	assert.Equal(t, "/live", NormalizeJoinPath("/live"))
}

func TestServerConfigFromEnv(t *testing.T) {
	t.Setenv("BOARDLIVE_ADDR", ":9999")
	t.Setenv("BOARDLIVE_PATH", "realtime")
	t.Setenv("BOARDLIVE_DB_PATH", "/tmp/x.db")
	t.Setenv("BOARDLIVE_MAILBOX_SIZE", "32")
	t.Setenv("BOARDLIVE_CHAT_WINDOW", "bogus")
	t.Setenv("BOARDLIVE_ALLOWED_ORIGINS", "a.example.com, ,b.example.com")

	cfg := ServerConfigFromEnv()
	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, "/realtime", cfg.Path)
	assert.Equal(t, "/tmp/x.db", cfg.DBPath)
	assert.Equal(t, 32, cfg.MailboxSize)
	assert.Equal(t, 3*time.Second, cfg.ChatWindow)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, []string{"a.example.com", "b.example.com"}, cfg.AllowedOrigins)
}

func TestDefaultPathsHonourDataDir(t *testing.T) {
	t.Setenv("BOARDLIVE_DB_PATH", "")
	t.Setenv("BOARDLIVE_SESSION_PATH", "")
	t.Setenv("BOARDLIVE_DATA_DIR", "/srv/board")
	t.Setenv("XDG_DATA_HOME", "/xdg")

	assert.Equal(t, filepath.Join("/srv/board", "boardlive.db"), DefaultDBPath())
	assert.Equal(t, filepath.Join("/xdg", "boardlive", "session.json"), DefaultSessionPath())
}

func TestRunServerLifecycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handle, err := RunServer(ctx, ServerConfig{
		Addr:   "127.0.0.1:0",
		DBPath: filepath.Join(t.TempDir(), "data", "boardlive.db"),
	}, zap.NewNop())
	require.NoError(t, err)

	base := "http://" + handle.Addr()
	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	events := make(chan client.Event, 16)
	ctrl := client.New(client.Config{URL: "ws://" + handle.Addr() + "/ws", Token: "nope"})
	ctrl.On(client.EventConnected, func(client.EventData) { events <- client.EventConnected })
	ctrl.On(client.EventFor(wire.TypeError), func(client.EventData) { events <- client.EventFor(wire.TypeError) })
	require.NoError(t, ctrl.Connect(ctx))
	defer ctrl.Disconnect()

	assert.Equal(t, client.EventConnected, <-events)
	select {
	case ev := <-events:
		assert.Equal(t, client.EventFor(wire.TypeError), ev, "an unknown token is rejected")
	case <-time.After(3 * time.Second):
		t.Fatal("no auth error received")
	}

	cancel()
	require.NoError(t, handle.Wait())
	assert.Zero(t, handle.Core().Hub().Count())
}

func TestRunServerRequiresDBPath(t *testing.T) {
	_, err := RunServer(context.Background(), ServerConfig{Addr: "127.0.0.1:0"}, nil)
	assert.Error(t, err)
}
