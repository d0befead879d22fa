package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	intrnl "relaychat/internal"
	"relaychat/internal/app"
	"relaychat/internal/logger"
)

const (
	modeServer = "server"
	modeClient = "client"
	modeLocal  = "local"
)

func main() {
	// dotenv values must be in place before flag defaults read the environment
	if err := app.LoadDotEnv(envOrDefault("RELAYCHAT_ENV_FILE", ".env")); err != nil {
		fmt.Fprintf(os.Stderr, "relaychat: %v\n", err)
		os.Exit(1)
	}

	mode, args := parseMode(os.Args[1:])
	flagSet := flag.NewFlagSet("relaychat", flag.ExitOnError)
	configPath := flagSet.String("config", envOrDefault("RELAYCHAT_CONFIG", ""), "YAML config file (server and local modes)")
	addr := flagSet.String("addr", "", "server listen address, overrides the config")
	serverURL := flagSet.String("server-url", envOrDefault("RELAYCHAT_SERVER", "ws://localhost:8080/socket"), "server websocket URL (client mode)")
	username := flagSet.String("user", envOrDefault("RELAYCHAT_USER", ""), "display name")
	peer := flagSet.String("peer", "", "open the private conversation with this user")
	quiet := flagSet.Bool("quiet", false, "suppress informational logs")
	showVersion := flagSet.Bool("version", false, "print version and exit")
	flagSet.Parse(args)

	if *showVersion {
		fmt.Println(intrnl.BuildInfo())
		return
	}

	clientCfg := app.ClientConfig{
		ServerURL: *serverURL,
		Username:  *username,
		Peer:      *peer,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch mode {
	case modeClient:
		err = app.RunClient(clientCfg)
	default:
		var serverCfg app.ServerConfig
		serverCfg, err = app.LoadServerConfig(*configPath)
		if err != nil {
			break
		}
		if *addr != "" {
			serverCfg.Server.Addr = *addr
		} else if mode == modeLocal && os.Getenv(app.EnvPrefix+"ADDR") == "" {
			serverCfg.Server.Addr = "127.0.0.1:0"
		}
		logger.Init(serverCfg.Log.Level, serverCfg.Log.Format)
		// the TUI owns the terminal in local mode
		if *quiet || (mode == modeLocal && os.Getenv("RELAYCHAT_LOG_SINK") == "") {
			slog.SetDefault(logger.Discard())
		}
		if mode == modeLocal {
			err = runLocalMode(ctx, serverCfg, clientCfg)
		} else {
			err = runServerMode(ctx, serverCfg)
		}
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "relaychat: %v\n", err)
		os.Exit(1)
	}
}

func runServerMode(ctx context.Context, cfg app.ServerConfig) error {
	handle, err := app.RunServer(ctx, cfg)
	if err != nil {
		return err
	}
	slog.Info("relaychat ready", "version", intrnl.Version, "addr", handle.Addr())
	return handle.Wait()
}

func runLocalMode(ctx context.Context, serverCfg app.ServerConfig, clientCfg app.ClientConfig) error {
	handle, err := app.RunServer(ctx, serverCfg)
	if err != nil {
		return err
	}
	defer stopServer(handle)

	if err := waitForServer(handle.Addr(), 5*time.Second); err != nil {
		return err
	}

	clientCfg.ServerURL = buildWebsocketURL(handle.Addr(), serverCfg.Server.Path)
	slog.Info("launching client", "url", clientCfg.ServerURL)

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

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func stopServer(handle *app.ServerHandle) {
	if handle == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = handle.Stop(shutdownCtx)
}
