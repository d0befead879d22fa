package internal

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"
)

// NamePolicy decides what happens when a display name that is already online
// connects again.
type NamePolicy string

const (
	// PolicyTakeover admits the newcomer and evicts the previous connection.
	PolicyTakeover NamePolicy = "takeover"
	// PolicyUnique rejects the newcomer.
	PolicyUnique NamePolicy = "unique"
)

// ParseNamePolicy accepts "takeover" or "unique"; empty means takeover.
func ParseNamePolicy(value string) (NamePolicy, error) {
	switch NamePolicy(strings.ToLower(strings.TrimSpace(value))) {
	case "", PolicyTakeover:
		return PolicyTakeover, nil
	case PolicyUnique:
		return PolicyUnique, nil
	default:
		return "", fmt.Errorf("unknown name policy %q", value)
	}
}

type registryEntry struct {
	client     *Client
	lastActive time.Time
}

// Registry maps each online display name to its single live connection.
// The hub goroutine is the only writer; HTTP handlers read through the lock.
type Registry struct {
	mu      sync.RWMutex
	policy  NamePolicy
	maxName int
	entries map[string]*registryEntry
}

func NewRegistry(policy NamePolicy, maxNameLength int) *Registry {
	if policy == "" {
		policy = PolicyTakeover
	}
	return &Registry{
		policy:  policy,
		maxName: maxNameLength,
		entries: make(map[string]*registryEntry),
	}
}

func (r *Registry) Policy() NamePolicy {
	return r.policy
}

// ValidateName trims the name and checks it can identify a connection.
func (r *Registry) ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is empty", ErrInvalidName)
	}
	if r.maxName > 0 && utf8.RuneCountInString(name) > r.maxName {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidName, r.maxName)
	}
	if strings.Contains(name, roomSeparator) {
		return "", fmt.Errorf("%w: %q is reserved", ErrInvalidName, roomSeparator)
	}
	for _, ch := range name {
		if unicode.IsControl(ch) {
			return "", fmt.Errorf("%w: control characters are not allowed", ErrInvalidName)
		}
	}
	return name, nil
}

// Admit binds name to client. Under the takeover policy an existing holder is
// replaced and returned so the caller can close it.
func (r *Registry) Admit(name string, client *Client, now time.Time) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var evicted *Client
	if current, ok := r.entries[name]; ok && current.client != client {
		if r.policy == PolicyUnique {
			return nil, fmt.Errorf("%w: %s", ErrNameTaken, name)
		}
		evicted = current.client
	}
	r.entries[name] = &registryEntry{client: client, lastActive: now}
	return evicted, nil
}

// Remove unbinds the client's name, but only while the client still holds it.
// A connection that was taken over leaves the newer binding alone.
func (r *Registry) Remove(client *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[client.username]
	if !ok || entry.client != client {
		return false
	}
	delete(r.entries, client.username)
	return true
}

// Lookup returns the live connection for name.
func (r *Registry) Lookup(name string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return entry.client, true
}

// Current reports whether client is still the registered holder of its name.
func (r *Registry) Current(client *Client) bool {
	current, ok := r.Lookup(client.username)
	return ok && current == client
}

// Snapshot lists online names in sorted order.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clients returns every live connection, ordered by name.
func (r *Registry) Clients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clients := make([]*Client, 0, len(r.entries))
	for _, entry := range r.entries {
		clients = append(clients, entry.client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].username < clients[j].username })
	return clients
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Touch records activity for the client if it still holds its name.
func (r *Registry) Touch(client *Client, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[client.username]; ok && entry.client == client {
		entry.lastActive = now
	}
}

// Idle returns the connections whose last activity is before cutoff.
func (r *Registry) Idle(cutoff time.Time) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var idle []*Client
	for _, entry := range r.entries {
		if entry.lastActive.Before(cutoff) {
			idle = append(idle, entry.client)
		}
	}
	sort.Slice(idle, func(i, j int) bool { return idle[i].username < idle[j].username })
	return idle
}
