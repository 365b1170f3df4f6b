package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNotDelivered is returned when a user address has no session that accepted the frame.
var ErrNotDelivered = errors.New("ws: frame not delivered")

// Client represents a single WebSocket connection with user context.
type Client struct {
	UserID uint
	Admin  bool
	Send   chan []byte
	hub    *Hub
	mu     sync.Mutex
	closed bool
}

func NewClient(userID uint, admin bool) *Client {
	return &Client{UserID: userID, Admin: admin, Send: make(chan []byte, 256)}
}

func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.Send)
	h := c.hub
	c.mu.Unlock()
	if h != nil {
		h.unregister(c)
	}
}

// push is a non-blocking send; a slow client drops frames instead of stalling publishers.
func (c *Client) push(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// PresenceTracker is told when a user's first session opens and last session closes.
type PresenceTracker interface {
	Online(ctx context.Context, userID uint)
	Offline(ctx context.Context, userID uint)
}

// Hub maintains the set of active clients and delivers envelopes to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	// userID -> clients (one user can have multiple connections)
	byUser   map[uint]map[*Client]struct{}
	admins   map[*Client]struct{}
	presence PresenceTracker
	log      *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		byUser:  make(map[uint]map[*Client]struct{}),
		admins:  make(map[*Client]struct{}),
		log:     log,
	}
}

// SetPresenceTracker must be called before clients register.
func (h *Hub) SetPresenceTracker(p PresenceTracker) {
	h.presence = p
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	c.hub = h
	h.clients[c] = struct{}{}
	first := false
	if c.UserID != 0 {
		if h.byUser[c.UserID] == nil {
			h.byUser[c.UserID] = make(map[*Client]struct{})
			first = true
		}
		h.byUser[c.UserID][c] = struct{}{}
	}
	if c.Admin {
		h.admins[c] = struct{}{}
	}
	h.mu.Unlock()
	if first && h.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		h.presence.Online(ctx, c.UserID)
		cancel()
	}
	h.log.Debug("client registered", zap.Uint("user_id", c.UserID), zap.Bool("admin", c.Admin))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	delete(h.admins, c)
	last := false
	if m := h.byUser[c.UserID]; m != nil {
		delete(m, c)
		if len(m) == 0 {
			delete(h.byUser, c.UserID)
			last = true
		}
	}
	h.mu.Unlock()
	if last && h.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		h.presence.Offline(ctx, c.UserID)
		cancel()
	}
	h.log.Debug("client unregistered", zap.Uint("user_id", c.UserID))
}

// Publish wraps payload in an envelope and delivers it to the local sessions behind addr.
func (h *Hub) Publish(_ context.Context, addr Address, event string, payload any) error {
	if err := addr.Validate(); err != nil {
		return err
	}
	env, err := NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	if h.Deliver(addr, env) == 0 && addr.Kind == KindUser {
		return fmt.Errorf("%w: user %d", ErrNotDelivered, addr.UserID)
	}
	return nil
}

// Deliver writes an already built envelope and returns how many sessions accepted it.
func (h *Hub) Deliver(addr Address, env *Envelope) int {
	data, err := json.Marshal(env)
	if err != nil {
		h.log.Error("marshal envelope", zap.Error(err))
		return 0
	}
	targets := h.targets(addr)
	sent := 0
	for _, c := range targets {
		if c.push(data) {
			sent++
		} else {
			h.log.Warn("dropped frame for slow client",
				zap.Uint("user_id", c.UserID), zap.String("event", env.Event))
		}
	}
	return sent
}

func (h *Hub) targets(addr Address) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var set map[*Client]struct{}
	switch addr.Kind {
	case KindBroadcast:
		set = h.clients
	case KindAdmin:
		set = h.admins
	case KindUser:
		set = h.byUser[addr.UserID]
	}
	clients := make([]*Client, 0, len(set))
	for c := range set {
		clients = append(clients, c)
	}
	return clients
}

// IsOnline reports whether the user holds a session on this instance.
func (h *Hub) IsOnline(_ context.Context, userID uint) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID]) > 0
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) OnlineUsers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser)
}

// UserIDs lists users with at least one local session.
func (h *Hub) UserIDs() []uint {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]uint, 0, len(h.byUser))
	for id := range h.byUser {
		ids = append(ids, id)
	}
	return ids
}
