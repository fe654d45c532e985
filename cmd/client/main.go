package main

import (
	"flag"
	"fmt"
	"os"

	"boardlive/internal/app"
)

func main() {
	serverURL := flag.String("server", app.EnvOrDefault("BOARDLIVE_SERVER", "ws://localhost:8080/ws"), "WebSocket URL (e.g., ws://localhost:8080/ws)")
	username := flag.String("user", app.EnvOrDefault("BOARDLIVE_USER", ""), "default username for login prompts")
	logPath := flag.String("log", os.Getenv("BOARDLIVE_CLIENT_LOG"), "file to write client logs to")
	flag.Parse()

	var room string
	if args := flag.Args(); len(args) >= 1 {
		room = args[0]
	}

	cfg := app.ClientConfig{
		ServerURL: *serverURL,
		Room:      room,
		Username:  *username,
		LogPath:   *logPath,
	}

	if err := app.RunClient(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
