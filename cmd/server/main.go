package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"relaychat/internal/app"
	"relaychat/internal/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("RELAYCHAT_CONFIG"), "YAML config file")
	addr := flag.String("addr", "", "server listen address, overrides the config")
	flag.Parse()

	if err := app.LoadDotEnv(".env"); err != nil {
		slog.Error("load env", "err", err)
		os.Exit(1)
	}
	cfg, err := app.LoadServerConfig(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := app.RunServer(ctx, cfg)
	if err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
	if err := handle.Wait(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
