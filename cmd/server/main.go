package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"boardlive/internal/app"
	"boardlive/internal/logging"
)

func main() {
	port := flag.Int("port", envPort("BOARDLIVE_PORT", 8080), "server listen port")
	flag.Parse()

	log, err := logging.New(logging.Config{
		Environment: app.EnvOrDefault("BOARDLIVE_LOG_ENV", "production"),
		Level:       app.EnvOrDefault("BOARDLIVE_LOG_LEVEL", "info"),
		Service:     "boardlive",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.StartServer(ctx, *port, log); err != nil {
		log.Error("server error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func envPort(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
