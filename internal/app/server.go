package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	intrnl "relaychat/internal"
	"relaychat/internal/storage"
)

// ServerHandle represents a running HTTP/WebSocket server instance.
type ServerHandle struct {
	addr      string
	server    *http.Server
	hub       *intrnl.Server
	store     *storage.Store
	cancelHub context.CancelFunc
	done      chan struct{}
	err       error
}

// Addr returns the actual listen address (after the OS allocated a port).
func (h *ServerHandle) Addr() string {
	return h.addr
}

// Online returns the current presence snapshot.
func (h *ServerHandle) Online() []string {
	return h.hub.Hub().OnlineUsers()
}

// Stop triggers a graceful shutdown with the provided context deadline.
func (h *ServerHandle) Stop(ctx context.Context) error {
	if h == nil || h.server == nil {
		return nil
	}
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	return h.server.Shutdown(ctx)
}

// Wait blocks until the server exits.
func (h *ServerHandle) Wait() error {
	if h == nil {
		return nil
	}
	<-h.done
	return h.err
}

// RunServer opens the in-memory message log, starts the hub loop, wires the
// handlers and starts serving in the background. Call Stop/Wait to manage its
// lifecycle; cancelling ctx stops it too.
func RunServer(ctx context.Context, cfg ServerConfig) (*ServerHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.Server.Path = NormalizeJoinPath(cfg.Server.Path)
	log := slog.Default()

	store, err := storage.NewStore("")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	server := intrnl.NewServer(store, cfg.Options(log))
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newRouter(cfg.Server.Path, server),
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}

	hubCtx, cancelHub := context.WithCancel(context.Background())
	go server.Run(hubCtx)

	handle := &ServerHandle{
		addr:      listener.Addr().String(),
		server:    httpServer,
		hub:       server,
		store:     store,
		cancelHub: cancelHub,
		done:      make(chan struct{}),
	}

	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
			case <-handle.done:
				return
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("server shutdown error", "err", err)
			}
		}()
	}

	go handle.serve(listener)

	log.Info("relaychat server listening", "addr", handle.addr, "path", cfg.Server.Path,
		"policy", cfg.Registry.Policy, "max_attachment", cfg.Messages.MaxAttachmentBytes.String())
	return handle, nil
}

func (h *ServerHandle) serve(listener net.Listener) {
	defer close(h.done)
	err := h.server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	// websocket connections are hijacked, so the hub closes them itself
	h.cancelHub()
	<-h.hub.Hub().Done()
	if err := h.store.Close(); err != nil {
		slog.Error("store close error", "err", err)
	}
	h.err = err
}

// newRouter mounts every route. Handlers check their own methods so that
// rejections keep the JSON error shape.
func newRouter(wsPath string, server *intrnl.Server) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc(wsPath, server.ServeWS)
	router.HandleFunc("/healthz", server.HandleHealth)
	router.Handle("/metrics", server.MetricsHandler())

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/online", server.HandleOnline)
	api.HandleFunc("/history", server.HandleHistory)

	// attachment upload/download routes
	api.HandleFunc("/upload", server.HandleFileUpload)
	api.HandleFunc("/files/{id}", server.HandleFileDownload)
	return router
}
