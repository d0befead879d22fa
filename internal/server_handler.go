package internal

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// DisplayNameHeader carries the display name for clients that cannot set a
// query parameter.
const DisplayNameHeader = "X-Display-Name"

// ServeWS performs the handshake: the display name is checked before the
// upgrade so a bad or taken name gets a plain HTTP error, then the hub makes
// the final admission decision.
func (s *Server) ServeWS(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		methodNotAllowed(writer, http.MethodGet)
		return
	}
	if !s.handshakes.Allow(s.clientIP(request)) {
		s.metrics.IncRejection("rate_limited")
		http.Error(writer, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}
	raw := request.URL.Query().Get("username")
	if strings.TrimSpace(raw) == "" {
		raw = request.Header.Get(DisplayNameHeader)
	}
	username, err := s.hub.registry.ValidateName(raw)
	if err != nil {
		s.metrics.IncRejection(errorCode(err))
		writeError(writer, http.StatusBadRequest, err)
		return
	}
	if s.hub.registry.Policy() == PolicyUnique {
		if _, taken := s.hub.registry.Lookup(username); taken {
			s.metrics.IncRejection(errorCode(ErrNameTaken))
			writeError(writer, http.StatusConflict, ErrNameTaken)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "remote", request.RemoteAddr, "err", err)
		return
	}

	client := newClient(s.hub, conn, username, s.clientIP(request))
	go client.writePump()
	if err := s.hub.Register(request.Context(), client); err != nil {
		code := websocket.CloseGoingAway
		if errors.Is(err, ErrNameTaken) {
			code = closeNameTaken
		}
		client.close(code, err.Error())
		return
	}
	go client.readPump()
}
