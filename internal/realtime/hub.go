// Package realtime pushes events to websocket clients. Island events go to
// clients watching that island; global events go to everyone.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/orfeixyz/solara/internal/auth"
	"github.com/orfeixyz/solara/internal/events"
	"github.com/orfeixyz/solara/internal/presence"
	"github.com/orfeixyz/solara/internal/shared/config"
	"github.com/orfeixyz/solara/internal/shared/errors"
	"github.com/orfeixyz/solara/internal/shared/response"
)

const maxMessageBytes = 4096

// ClientMessage is what clients send over the socket.
type ClientMessage struct {
	Type     string `json:"type"`
	IslandID int64  `json:"island_id,omitempty"`
}

const (
	MessageWatch   = "watch_island"
	MessageUnwatch = "unwatch_island"
	MessagePing    = "ping"
)

type client struct {
	conn *websocket.Conn
	user presence.User

	// mu serialises writes; gorilla connections allow one writer at a time.
	mu       sync.Mutex
	islandID atomic.Int64
}

func (c *client) write(data []byte, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}

	tracker      presence.Tracker
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	logger       *slog.Logger
}

func NewHub(cfg config.RealtimeConfig, frontendURL string, tracker presence.Tracker, logger *slog.Logger) *Hub {
	h := &Hub{
		clients:      make(map[*client]struct{}),
		tracker:      tracker,
		writeTimeout: cfg.WriteTimeout,
		logger:       logger.With("component", "realtime_hub"),
	}
	if h.writeTimeout <= 0 {
		h.writeTimeout = 10 * time.Second
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			if cfg.AllowAnyOrigin {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || origin == frontendURL
		},
	}
	return h
}

// ServeWS upgrades an authenticated request. Wrap it in the auth middleware.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	logger := slog.With("handler", "websocket")

	actor, ok := auth.IdentityFrom(r.Context())
	if !ok {
		response.Error(w, r, logger, errors.Unauthorized("authentication required"))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "user_id", actor.UserID, "error", err)
		return
	}
	conn.SetReadLimit(maxMessageBytes)

	c := &client{conn: conn, user: presence.User{UserID: actor.UserID, Username: actor.Username}}
	h.register(c)
	defer h.unregister(c)

	h.touch(r.Context(), c)
	h.readLoop(r.Context(), c)
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Websocket closed unexpectedly", "user_id", c.user.UserID, "error", err)
			}
			return
		}

		h.touch(ctx, c)

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("Ignoring malformed client message", "user_id", c.user.UserID, "error", err)
			continue
		}
		switch msg.Type {
		case MessageWatch:
			c.islandID.Store(msg.IslandID)
		case MessageUnwatch:
			c.islandID.Store(0)
		case MessagePing:
			h.send(c, map[string]string{"type": "pong"})
		}
	}
}

func (h *Hub) touch(ctx context.Context, c *client) {
	if h.tracker == nil {
		return
	}
	if err := h.tracker.Touch(ctx, c.user); err != nil {
		h.logger.Warn("Failed to record presence", "user_id", c.user.UserID, "error", err)
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("Client connected", "user_id", c.user.UserID, "clients", count)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.conn.Close()
		h.logger.Debug("Client disconnected", "user_id", c.user.UserID)
	}
}

func (h *Hub) send(c *client, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("Failed to encode message", "error", err)
		return
	}
	if err := c.write(data, h.writeTimeout); err != nil {
		h.unregister(c)
	}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(_ context.Context, e events.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Error("Failed to encode event", "type", e.Type, "error", err)
		return
	}

	for _, c := range h.recipients(e.IslandID) {
		if err := c.write(data, h.writeTimeout); err != nil {
			h.logger.Debug("Dropping client after write failure", "user_id", c.user.UserID, "error", err)
			h.unregister(c)
		}
	}
}

func (h *Hub) recipients(islandID int64) []*client {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if islandID == events.Global || c.islandID.Load() == islandID {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		h.unregister(c)
	}
}
