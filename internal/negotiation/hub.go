// Package negotiation — websocket hub delivering events to actors.
package negotiation

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/questforge/trade-engine/internal/metrics"
	"github.com/questforge/trade-engine/internal/model"
)

// Hub tracks one websocket connection per actor and routes events to them.
// It doubles as the engine's presence check: an actor is reachable while
// their connection is up. A connection dropping fires the disconnect
// handler, which rolls back any negotiation the actor was in.
type Hub struct {
	clients      map[model.ActorID]*websocket.Conn
	register     chan registration
	unregister   chan registration
	send         chan envelope
	mu           sync.RWMutex
	onDisconnect func(model.ActorID)
}

type registration struct {
	actor model.ActorID
	conn  *websocket.Conn
}

type envelope struct {
	actor model.ActorID
	data  []byte
}

// NewHub creates a hub. Call Run in a goroutine before serving.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[model.ActorID]*websocket.Conn),
		register:   make(chan registration),
		unregister: make(chan registration),
		send:       make(chan envelope, 256),
	}
}

// SetDisconnectHandler installs the callback fired when an actor's
// connection drops. Set once, before Run.
func (h *Hub) SetDisconnectHandler(fn func(model.ActorID)) {
	h.onDisconnect = fn
}

// Run starts the hub's main event loop. Must be called in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case reg := <-h.register:
			h.mu.Lock()
			if old, ok := h.clients[reg.actor]; ok {
				old.Close() // newer connection wins
			}
			h.clients[reg.actor] = reg.conn
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ConnectedActors.Set(float64(n))
			slog.Info("actor connected", "actor", reg.actor, "total", n)

		case reg := <-h.unregister:
			h.mu.Lock()
			current, ok := h.clients[reg.actor]
			if ok && current == reg.conn {
				delete(h.clients, reg.actor)
			}
			n := len(h.clients)
			h.mu.Unlock()
			reg.conn.Close()
			metrics.ConnectedActors.Set(float64(n))
			if ok && current == reg.conn && h.onDisconnect != nil {
				h.onDisconnect(reg.actor)
			}

		case env := <-h.send:
			h.mu.RLock()
			conn, ok := h.clients[env.actor]
			h.mu.RUnlock()
			if !ok {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, env.data); err != nil {
				h.mu.Lock()
				if h.clients[env.actor] == conn {
					delete(h.clients, env.actor)
				}
				h.mu.Unlock()
				conn.Close()
			}
		}
	}
}

// Publish delivers an event to one actor. Drops on a full buffer rather
// than blocking the negotiation path.
func (h *Hub) Publish(actor model.ActorID, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	select {
	case h.send <- envelope{actor: actor, data: data}:
	default:
	}
}

// Reachable reports whether the actor currently has a live connection.
func (h *Hub) Reachable(actor model.ActorID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[actor]
	return ok
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles websocket upgrades at GET /api/v1/ws?actor=<id>.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	actor := model.ActorID(r.URL.Query().Get("actor"))
	if actor == "" {
		http.Error(w, "actor query parameter required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	h.register <- registration{actor: actor, conn: conn}

	// Read pump: keep the connection alive and detect disconnects.
	go func() {
		defer func() { h.unregister <- registration{actor: actor, conn: conn} }()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep the connection alive through proxies.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			current, ok := h.clients[actor]
			h.mu.RUnlock()
			if !ok || current != conn {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}()
}
