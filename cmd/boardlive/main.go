package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	intrnl "boardlive/internal"
	"boardlive/internal/app"
	"boardlive/internal/logging"
)

const (
	modeServer = "server"
	modeClient = "client"
	modeLocal  = "local"
)

func main() {
	mode, args := parseMode(os.Args[1:])
	env := app.ServerConfigFromEnv()

	flagSet := flag.NewFlagSet("boardlive", flag.ExitOnError)
	addr := flagSet.String("addr", app.EnvOrDefault("BOARDLIVE_ADDR", defaultAddrForMode(mode)), "server listen address")
	path := flagSet.String("path", env.Path, "websocket join path")
	db := flagSet.String("db", os.Getenv("BOARDLIVE_DB_PATH"), "sqlite database path (defaults to a per-user path)")
	origins := flagSet.String("allowed-origins", strings.Join(env.AllowedOrigins, ","), "comma separated origins allowed to open websockets (empty allows all)")
	serverURL := flagSet.String("server-url", app.EnvOrDefault("BOARDLIVE_SERVER", "ws://localhost:8080/ws"), "server websocket URL (client mode)")
	username := flagSet.String("user", app.EnvOrDefault("BOARDLIVE_USER", ""), "default username for login prompts")
	logLevel := flagSet.String("log-level", app.EnvOrDefault("BOARDLIVE_LOG_LEVEL", "info"), "debug, info, warn or error")
	logFormat := flagSet.String("log-env", app.EnvOrDefault("BOARDLIVE_LOG_ENV", "production"), "production (json) or development (console)")
	clientLog := flagSet.String("client-log", os.Getenv("BOARDLIVE_CLIENT_LOG"), "file the terminal client logs to")
	showVersion := flagSet.Bool("version", false, "print the version and exit")
	flagSet.Parse(args)

	if *showVersion {
		fmt.Println(intrnl.UserAgent())
		return
	}

	room := ""
	if remaining := flagSet.Args(); len(remaining) > 0 {
		room = remaining[0]
	}

	serverCfg := env
	serverCfg.Addr = *addr
	serverCfg.Path = app.NormalizeJoinPath(*path)
	serverCfg.DBPath = *db
	if serverCfg.DBPath == "" {
		serverCfg.DBPath = app.DefaultDBPath()
	}
	serverCfg.AllowedOrigins = nil
	for _, origin := range strings.Split(*origins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			serverCfg.AllowedOrigins = append(serverCfg.AllowedOrigins, origin)
		}
	}

	clientCfg := app.ClientConfig{
		ServerURL: *serverURL,
		Username:  *username,
		Room:      room,
		LogPath:   *clientLog,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch mode {
	case modeServer:
		err = runServerMode(ctx, serverCfg, *logFormat, *logLevel)
	case modeLocal:
		err = runLocalMode(ctx, serverCfg, clientCfg)
	default:
		err = runClientMode(clientCfg)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "boardlive: %v\n", err)
		os.Exit(1)
	}
}

func runServerMode(ctx context.Context, cfg app.ServerConfig, environment, level string) error {
	log, err := logging.New(logging.Config{Environment: environment, Level: level, Service: "boardlive"})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	handle, err := app.RunServer(ctx, cfg, log)
	if err != nil {
		return err
	}
	log.Info("boardlive server listening",
		zap.String("addr", handle.Addr()),
		zap.String("path", cfg.Path),
		zap.String("db", cfg.DBPath),
		zap.String("version", intrnl.Version),
	)
	return handle.Wait()
}

func runClientMode(cfg app.ClientConfig) error {
	if cfg.ServerURL == "" {
		return errors.New("client mode requires --server-url or BOARDLIVE_SERVER")
	}
	return app.RunClient(cfg)
}

// runLocalMode starts an embedded server on a loopback port and points the
// client at it. Server logs go to the client log file, if any.
func runLocalMode(ctx context.Context, serverCfg app.ServerConfig, clientCfg app.ClientConfig) error {
	log := zap.NewNop()
	if clientCfg.LogPath != "" {
		fileLog, err := logging.New(logging.Config{Service: "boardlive-local", OutputPath: clientCfg.LogPath})
		if err != nil {
			return fmt.Errorf("logger: %w", err)
		}
		defer func() { _ = fileLog.Sync() }()
		log = fileLog
	}

	handle, err := app.RunServer(ctx, serverCfg, log)
	if err != nil {
		return err
	}
	defer stopServer(handle)

	if err := waitForServer(handle.Addr(), 5*time.Second); err != nil {
		return err
	}

	clientCfg.ServerURL = buildWebsocketURL(handle.Addr(), serverCfg.Path)
	log.Info("launching client", zap.String("server_url", clientCfg.ServerURL))

	if err := app.RunClient(clientCfg); err != nil {
		return err
	}
	stopServer(handle)
	return handle.Wait()
}

func waitForServer(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server did not become ready: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func buildWebsocketURL(addr, path string) string {
	path = app.NormalizeJoinPath(path)
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("ws://%s%s", addr, path)
	}
	if host == "" || host == "::" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("ws://%s%s", net.JoinHostPort(host, port), path)
}

func parseMode(args []string) (string, []string) {
	if len(args) == 0 {
		return modeClient, args
	}
	switch strings.ToLower(args[0]) {
	case modeServer, modeClient, modeLocal:
		return strings.ToLower(args[0]), args[1:]
	}
	return modeClient, args
}

func defaultAddrForMode(mode string) string {
	if mode == modeLocal {
		return "127.0.0.1:0"
	}
	return ":8080"
}

func stopServer(handle *app.ServerHandle) {
	if handle == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = handle.Stop(shutdownCtx)
}
