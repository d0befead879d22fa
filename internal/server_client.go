package internal

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

// application close codes sent to clients the server drops
const (
	closeSuperseded = 4001
	closeIdle       = 4002
	closeSlow       = 4003
	closeNameTaken  = 4009
)

// Client is one live websocket connection bound to a display name.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	username   string
	remoteAddr string
	limiter    *rate.Limiter

	// room is only touched by the hub goroutine
	room string

	mu          sync.Mutex
	closed      bool
	closeCode   int
	closeReason string
}

func newClient(hub *Hub, conn *websocket.Conn, username, remoteAddr string) *Client {
	client := &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		username:   username,
		remoteAddr: remoteAddr,
		room:       PublicRoom,
	}
	if hub != nil && hub.opts.MessagesPerSecond > 0 {
		client.limiter = rate.NewLimiter(rate.Limit(hub.opts.MessagesPerSecond), hub.opts.MessageBurst)
	}
	return client
}

func (client *Client) Username() string {
	return client.username
}

// trySend queues a frame without blocking. It reports false when the client
// is closed or its queue is full.
func (client *Client) trySend(frame []byte) bool {
	client.mu.Lock()
	defer client.mu.Unlock()
	if client.closed {
		return false
	}
	select {
	case client.send <- frame:
		return true
	default:
		return false
	}
}

// close ends the send queue once. The write pump flushes what is queued and
// then sends a close frame with code and reason.
func (client *Client) close(code int, reason string) {
	client.mu.Lock()
	defer client.mu.Unlock()
	if client.closed {
		return
	}
	client.closed = true
	client.closeCode = code
	client.closeReason = reason
	close(client.send)
}

func (client *Client) isClosed() bool {
	client.mu.Lock()
	defer client.mu.Unlock()
	return client.closed
}

func (client *Client) closeFrame() []byte {
	client.mu.Lock()
	defer client.mu.Unlock()
	code := client.closeCode
	if code == 0 {
		code = websocket.CloseNormalClosure
	}
	return websocket.FormatCloseMessage(code, client.closeReason)
}

// allow applies the per-connection event budget.
func (client *Client) allow() bool {
	return client.limiter == nil || client.limiter.Allow()
}

func (client *Client) readPump() {
	defer func() {
		client.hub.Unregister(client)
		client.conn.Close()
	}()
	client.conn.SetReadLimit(client.hub.opts.readLimit())
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.hub.markAlive(client)
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) &&
				!errors.Is(err, websocket.ErrCloseSent) && !client.isClosed() {
				client.hub.log.Debug("websocket read failed", "username", client.username, "err", err)
			}
			return
		}
		event, err := DecodeInbound(payload)
		if err != nil {
			client.hub.reject(client, err)
			continue
		}
		switch event.(type) {
		case MessageInput, ReactionInput, JoinRoomInput:
			if !client.allow() {
				client.hub.reject(client, ErrRateLimited)
				continue
			}
		}
		if !client.hub.Dispatch(client, event) {
			return
		}
	}
}

func (client *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()
	for {
		select {
		case message, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, client.closeFrame())
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
