package main

import (
	"flag"
	"fmt"
	"os"

	"relaychat/internal/app"
)

func main() {
	defaultServer := envOrDefault("RELAYCHAT_SERVER", "ws://localhost:8080/socket")
	defaultUser := envOrDefault("RELAYCHAT_USER", "")

	serverJoinURL := flag.String("server", defaultServer, "WebSocket join URL (e.g., ws://localhost:8080/socket)")
	username := flag.String("user", defaultUser, "display name")
	flag.Parse()

	// an optional positional argument opens a private conversation
	var peer string
	if args := flag.Args(); len(args) >= 1 {
		peer = args[0]
	}

	cfg := app.ClientConfig{
		ServerURL: *serverJoinURL,
		Username:  *username,
		Peer:      peer,
	}

	if err := app.RunClient(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
