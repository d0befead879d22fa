package internal

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"relaychat/internal/storage"
)

// Server exposes one Hub over HTTP: the websocket endpoint plus the small
// JSON and file API around it.
type Server struct {
	hub        *Hub
	store      *storage.Store
	metrics    *Metrics
	handshakes *RateLimiter
	upgrader   websocket.Upgrader
	opts       Options
	log        *slog.Logger
}

// NewServer builds a server around a migrated store. Call Run to start the
// hub loop before serving requests.
func NewServer(store *storage.Store, opts Options) *Server {
	opts = opts.withDefaults()
	metrics := NewMetrics()
	s := &Server{
		hub:        NewHub(store, metrics, opts),
		store:      store,
		metrics:    metrics,
		handshakes: NewRateLimiter(opts.HandshakesPerSecond, opts.HandshakeBurst),
		opts:       opts,
		log:        opts.Logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.originAllowed,
	}
	return s
}

func (s *Server) Hub() *Hub {
	return s.hub
}

// Run drives the hub until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	s.hub.Run(ctx)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics
}

// originAllowed accepts requests without an Origin header (non-browser
// clients) and origins on the configured list. An empty list or "*" allows
// every origin.
func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range s.opts.AllowedOrigins {
		allowed = strings.TrimSpace(allowed)
		switch {
		case allowed == "*":
			return true
		case strings.EqualFold(allowed, origin):
			return true
		case !strings.Contains(allowed, "://") && strings.EqualFold(allowed, parsed.Host):
			return true
		}
	}
	return false
}

func (s *Server) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
