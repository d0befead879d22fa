package internal

// OnlineUsers returns the sorted presence snapshot. Safe from any goroutine.
func (h *Hub) OnlineUsers() []string {
	return h.registry.Snapshot()
}

func (h *Hub) memberJoined(client *Client) {
	h.metrics.SetConnections(h.registry.Len())
	clients := h.registry.Clients()
	h.deliver(encodeEvent(EventUserJoined, userPayload{Username: client.username}), clients...)
	h.publishOnlineUsers()
}

func (h *Hub) memberLeft(name string) {
	h.metrics.SetConnections(h.registry.Len())
	clients := h.registry.Clients()
	h.deliver(encodeEvent(EventUserLeft, userPayload{Username: name}), clients...)
	h.publishOnlineUsers()
}

// publishOnlineUsers sends the same snapshot to every connection.
func (h *Hub) publishOnlineUsers() {
	h.deliver(encodeEvent(EventOnlineUsers, h.registry.Snapshot()), h.registry.Clients()...)
}

func (h *Hub) sendOnlineUsers(client *Client) {
	h.deliver(encodeEvent(EventOnlineUsers, h.registry.Snapshot()), client)
}
