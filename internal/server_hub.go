package internal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"relaychat/internal/storage"
)

type registration struct {
	client *Client
	result chan error
}

type inboundEvent struct {
	client *Client
	event  InboundEvent
}

// Hub owns the registry and the message log. Run is the only goroutine that
// mutates them; read and write pumps talk to it through channels.
type Hub struct {
	opts     Options
	log      *slog.Logger
	store    *storage.Store
	registry *Registry
	metrics  *Metrics
	clock    *clock
	newID    func() string

	register   chan registration
	unregister chan *Client
	inbound    chan inboundEvent
	done       chan struct{}
	stopOnce   sync.Once
}

// NewHub builds a hub around an already migrated store. metrics may be nil.
func NewHub(store *storage.Store, metrics *Metrics, opts Options) *Hub {
	opts = opts.withDefaults()
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Hub{
		opts:       opts,
		log:        opts.Logger,
		store:      store,
		registry:   NewRegistry(opts.Policy, opts.MaxNameLength),
		metrics:    metrics,
		clock:      newClock(nil),
		newID:      uuid.NewString,
		register:   make(chan registration),
		unregister: make(chan *Client, sendBuffer),
		inbound:    make(chan inboundEvent, sendBuffer),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Registry() *Registry {
	return h.registry
}

// Run processes registrations, disconnects and inbound events one at a time
// until ctx is cancelled, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()

	var sweep <-chan time.Time
	if h.opts.IdleTimeout > 0 {
		ticker := time.NewTicker(sweepInterval(h.opts.IdleTimeout))
		defer ticker.Stop()
		sweep = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case reg := <-h.register:
			reg.result <- h.admit(ctx, reg.client)
		case client := <-h.unregister:
			h.disconnect(client)
		case in := <-h.inbound:
			h.dispatch(ctx, in.client, in.event)
		case <-sweep:
			h.sweepIdle()
		}
	}
}

// Done is closed once the hub stopped.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) stopped() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Register hands a freshly upgraded client to the hub and waits for the
// admission verdict.
func (h *Hub) Register(ctx context.Context, client *Client) error {
	result := make(chan error, 1)
	select {
	case h.register <- registration{client: client, result: result}:
	case <-h.done:
		return errHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-result
}

func (h *Hub) Unregister(client *Client) {
	if h.stopped() {
		return
	}
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Dispatch queues an inbound event. It reports false once the hub stopped.
func (h *Hub) Dispatch(client *Client, event InboundEvent) bool {
	if h.stopped() {
		return false
	}
	select {
	case h.inbound <- inboundEvent{client: client, event: event}:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) admit(ctx context.Context, client *Client) error {
	name, err := h.registry.ValidateName(client.username)
	if err != nil {
		h.metrics.IncRejection(errorCode(err))
		return err
	}
	client.username = name
	evicted, err := h.registry.Admit(name, client, h.clock.Now())
	if err != nil {
		h.metrics.IncRejection(errorCode(err))
		h.log.Info("display name refused", "username", name, "remote", client.remoteAddr, "err", err)
		return err
	}
	if evicted != nil {
		evicted.close(closeSuperseded, "signed in from another connection")
		h.metrics.IncEviction("superseded")
		h.log.Info("connection superseded", "username", name, "previous", evicted.remoteAddr, "remote", client.remoteAddr)
	}
	client.room = PublicRoom
	h.log.Info("client admitted", "username", name, "remote", client.remoteAddr, "online", h.registry.Len())
	h.memberJoined(client)
	if err := h.sendHistory(ctx, client, PublicRoom); err != nil {
		h.log.Error("load public history", "username", name, "err", err)
	}
	return nil
}

// disconnect handles a transport close reported by the read pump.
func (h *Hub) disconnect(client *Client) {
	client.close(websocket.CloseNormalClosure, "")
	if h.registry.Remove(client) {
		h.log.Info("client disconnected", "username", client.username, "remote", client.remoteAddr)
		h.memberLeft(client.username)
	}
}

// evict closes a connection the server decided to drop.
func (h *Hub) evict(client *Client, code int, reason string) {
	client.close(code, reason)
	h.metrics.IncEviction(reason)
	if h.registry.Remove(client) {
		h.log.Info("client evicted", "username", client.username, "reason", reason)
		h.memberLeft(client.username)
	}
}

// sweepInterval is half the idle timeout, never below a millisecond.
func sweepInterval(idle time.Duration) time.Duration {
	return max(idle/2, time.Millisecond)
}

// markAlive records transport-level liveness (a pong) as activity. It runs on
// the client's read goroutine.
func (h *Hub) markAlive(client *Client) {
	h.registry.Touch(client, h.clock.Now())
}

func (h *Hub) sweepIdle() {
	cutoff := h.clock.Now().Add(-h.opts.IdleTimeout)
	for _, client := range h.registry.Idle(cutoff) {
		h.evict(client, closeIdle, "idle")
	}
}

func (h *Hub) dispatch(ctx context.Context, client *Client, event InboundEvent) {
	// events still queued from a superseded or dropped connection are ignored
	if !h.registry.Current(client) {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("event handler panicked", "event", event.EventName(), "username", client.username, "panic", r)
			h.reject(client, errInternal)
		}
	}()
	h.registry.Touch(client, h.clock.Now())

	var err error
	switch ev := event.(type) {
	case MessageInput:
		_, err = h.Submit(ctx, client, ev)
	case ReactionInput:
		_, err = h.React(ctx, client, ev)
	case JoinRoomInput:
		err = h.JoinRoom(ctx, client, ev.Target)
	case OnlineUsersRequest:
		h.sendOnlineUsers(client)
	case ActivityPing:
	default:
		err = ErrBadRequest
	}
	if err != nil {
		h.reject(client, err)
	}
}

// reject reports err to the client alone. Errors without a wire code are
// logged and replaced by a generic internal error.
func (h *Hub) reject(client *Client, err error) {
	code := errorCode(err)
	if code == "internal" {
		h.log.Error("event failed", "username", client.username, "err", err)
		err = errInternal
	}
	h.metrics.IncRejection(code)
	client.trySend(encodeError(err))
}

// deliver queues frame for each client. Clients whose queue is full are
// evicted as slow consumers.
func (h *Hub) deliver(frame []byte, clients ...*Client) {
	var slow []*Client
	for _, client := range clients {
		if !client.trySend(frame) && !client.isClosed() {
			slow = append(slow, client)
		}
	}
	for _, client := range slow {
		h.evict(client, closeSlow, "slow_consumer")
	}
}

func (h *Hub) shutdown() {
	h.stopOnce.Do(func() {
		close(h.done)
		for _, client := range h.registry.Clients() {
			client.close(websocket.CloseGoingAway, "server shutting down")
			h.registry.Remove(client)
		}
		h.metrics.SetConnections(0)
		h.log.Info("hub stopped")
	})
}
