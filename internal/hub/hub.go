// Package hub fans converter records out to record stream clients.
package hub

import (
	"sync"
	"sync/atomic"

	"github.com/kstaniek/go-fp-driver/internal/convert"
	"github.com/kstaniek/go-fp-driver/internal/logging"
	"github.com/kstaniek/go-fp-driver/internal/metrics"
	"github.com/kstaniek/go-fp-driver/internal/syncutil"
)

type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota
	PolicyKick
)

func (p BackpressurePolicy) String() string {
	if p == PolicyKick {
		return "kick"
	}
	return "drop"
}

// ParsePolicy maps drop|kick to a policy.
func ParsePolicy(s string) (BackpressurePolicy, bool) {
	switch s {
	case "drop":
		return PolicyDrop, true
	case "kick":
		return PolicyKick, true
	}
	return PolicyDrop, false
}

type Client struct {
	Out       chan convert.Record
	Closed    chan struct{}
	closeOnce sync.Once
	filter    atomic.Pointer[map[convert.Category]bool]
}

func NewClient(buf int) *Client {
	return &Client{Out: make(chan convert.Record, buf), Closed: make(chan struct{})}
}

// Close signals the client is closed (idempotent).
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.Closed)
	})
}

// Subscribe limits the client to cats. An empty list restores everything.
func (c *Client) Subscribe(cats []convert.Category) {
	if len(cats) == 0 {
		c.filter.Store(nil)
		return
	}
	m := make(map[convert.Category]bool, len(cats))
	for _, cat := range cats {
		m[cat] = true
	}
	c.filter.Store(&m)
}

func (c *Client) wants(cat convert.Category) bool {
	m := c.filter.Load()
	return m == nil || (*m)[cat]
}

type Hub struct {
	mu         syncutil.RWMutex
	clients    map[*Client]struct{}
	OutBufSize int
	Policy     BackpressurePolicy
}

// New creates a Hub with default settings.
func New() *Hub { return &Hub{clients: make(map[*Client]struct{})} }

// Add registers a client with the hub.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	prev := len(h.clients)
	h.clients[c] = struct{}{}
	cur := len(h.clients)
	h.mu.Unlock()
	metrics.SetHubClients(cur)
	if prev == 0 && cur == 1 {
		logging.L().Info("clients_first_connected")
	}
}

// Remove unregisters a client and updates metrics; safe to call multiple times.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	_, existed := h.clients[c]
	if existed {
		delete(h.clients, c)
	}
	cur := len(h.clients)
	h.mu.Unlock()
	c.Close()
	metrics.SetHubClients(cur)
	if existed && cur == 0 {
		logging.L().Info("clients_last_disconnected")
	}
}

// Broadcast hands rec to every interested client without blocking. A full
// client queue either drops the record or kicks the client, per Policy.
func (h *Hub) Broadcast(rec convert.Record) {
	for _, c := range h.Snapshot() {
		if !c.wants(rec.Category) {
			continue
		}
		select {
		case c.Out <- rec:
		default:
			if h.Policy == PolicyKick {
				metrics.IncHubKick()
				c.Close() // writer exits; server removes the client
			} else {
				metrics.IncHubDrop()
			}
		}
	}
}

// Snapshot returns a slice copy of current clients (read-only use).
func (h *Hub) Snapshot() []*Client {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	return clients
}

// Count returns the number of active clients.
func (h *Hub) Count() int { h.mu.RLock(); n := len(h.clients); h.mu.RUnlock(); return n }
