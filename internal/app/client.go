package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	intrnl "boardlive/internal"
	"boardlive/internal/logging"
)

// RunClient launches the Bubble Tea TUI with the provided configuration.
// Logs go to cfg.LogPath, or nowhere, so they never draw over the UI.
func RunClient(cfg ClientConfig) error {
	if cfg.ServerURL == "" {
		return errors.New("server URL is required")
	}
	if cfg.SessionPath == "" {
		cfg.SessionPath = DefaultSessionPath()
	}

	log := zap.NewNop()
	if cfg.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0o700); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		fileLog, err := logging.New(logging.Config{
			Environment: "production",
			Level:       EnvOrDefault("BOARDLIVE_LOG_LEVEL", "info"),
			Service:     "boardlive-client",
			OutputPath:  cfg.LogPath,
		})
		if err != nil {
			return fmt.Errorf("client logger: %w", err)
		}
		defer func() { _ = fileLog.Sync() }()
		log = fileLog
	}

	return intrnl.RunClient(intrnl.ClientOptions{
		ServerURL:   cfg.ServerURL,
		Room:        cfg.Room,
		Username:    cfg.Username,
		SessionPath: cfg.SessionPath,
		Logger:      log,
	})
}
