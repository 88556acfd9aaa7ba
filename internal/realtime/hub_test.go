package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/orfeixyz/solara/internal/auth"
	"github.com/orfeixyz/solara/internal/events"
	"github.com/orfeixyz/solara/internal/presence"
	"github.com/orfeixyz/solara/internal/shared/config"
	"github.com/orfeixyz/solara/internal/shared/logger"
)

func dial(t *testing.T, hub *Hub, id auth.Identity) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
}

func readType(t *testing.T, conn *websocket.Conn) (string, int64) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type     string `json:"type"`
		IslandID int64  `json:"island_id"`
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return msg.Type, msg.IslandID
}

// roundTrip waits for a pong so every earlier client message has been handled.
func roundTrip(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	sendJSON(t, conn, ClientMessage{Type: MessagePing})
	if typ, _ := readType(t, conn); typ != "pong" {
		t.Fatalf("got %q, want pong", typ)
	}
}

func TestHubRoutesEventsToWatchers(t *testing.T) {
	tracker := presence.NewMemoryTracker(time.Minute, nil)
	hub := NewHub(config.RealtimeConfig{}, "", tracker, logger.Discard())
	conn := dial(t, hub, auth.Identity{UserID: 3, Username: "ana"})

	sendJSON(t, conn, ClientMessage{Type: MessageWatch, IslandID: 7})
	roundTrip(t, conn)

	if hub.ClientCount() != 1 {
		t.Fatalf("clients = %d, want 1", hub.ClientCount())
	}

	now := time.Now()
	hub.Emit(t.Context(), events.New(events.ResourceUpdate, 8, nil, now))
	hub.Emit(t.Context(), events.New(events.BuildingUpdate, 7, nil, now))
	hub.Emit(t.Context(), events.New(events.CoreUpdate, events.Global, nil, now))

	if typ, island := readType(t, conn); typ != string(events.BuildingUpdate) || island != 7 {
		t.Fatalf("first message = %s/%d", typ, island)
	}
	if typ, _ := readType(t, conn); typ != string(events.CoreUpdate) {
		t.Fatalf("second message = %s", typ)
	}

	sendJSON(t, conn, ClientMessage{Type: MessageUnwatch})
	roundTrip(t, conn)
	hub.Emit(t.Context(), events.New(events.BuildingUpdate, 7, nil, now))
	roundTrip(t, conn)

	active, _ := tracker.ActiveUsers(t.Context())
	if len(active) != 1 || active[0].UserID != 3 {
		t.Fatalf("active = %+v", active)
	}
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	hub := NewHub(config.RealtimeConfig{}, "", nil, logger.Discard())
	conn := dial(t, hub, auth.Identity{UserID: 1, Username: "bea"})
	roundTrip(t, conn)

	hub.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("err = %v, want going away close", err)
	}
	if hub.ClientCount() != 0 {
		t.Fatalf("clients = %d after close", hub.ClientCount())
	}
}

func TestHubRejectsForeignOrigin(t *testing.T) {
	hub := NewHub(config.RealtimeConfig{}, "https://solara.example", nil, logger.Discard())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r.WithContext(auth.WithIdentity(r.Context(), auth.Identity{UserID: 1})))
	}))
	defer srv.Close()

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
	if err == nil {
		t.Fatalf("foreign origin accepted")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("resp = %+v", resp)
	}
}
