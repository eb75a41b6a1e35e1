package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/kinetic-rehab/reach.report/internal/engine"
	"github.com/kinetic-rehab/reach.report/internal/monitoring"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The engine serves on a clinic-local network; origin policy is
		// enforced at the reverse proxy.
		return true
	},
}

// ResultHub fans result snapshots out to every connected viewer. Slow or
// dead connections are dropped on write error rather than allowed to stall
// the broadcast.
type ResultHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan engine.Result
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.Mutex
}

// NewResultHub creates an idle hub; call Run to start it.
func NewResultHub() *ResultHub {
	return &ResultHub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan engine.Result, 16),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}
}

// Run services the hub channels until ctx is cancelled, then closes every
// remaining viewer connection. Run on its own goroutine.
func (h *ResultHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			monitoring.Logf("api: results viewer connected, total %d", len(h.clients))
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				monitoring.Logf("api: results viewer disconnected, total %d", len(h.clients))
			}
			h.mu.Unlock()

		case res := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteJSON(res); err != nil {
					monitoring.Logf("api: dropping results viewer: %v", err)
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast offers a result to all viewers without blocking the caller:
// when the hub is saturated the frame snapshot is stale by definition, so
// it is dropped.
func (h *ResultHub) Broadcast(res engine.Result) {
	h.mu.Lock()
	viewers := len(h.clients)
	h.mu.Unlock()
	if viewers == 0 {
		return
	}
	select {
	case h.broadcast <- res:
	default:
	}
}

// ConnectedCount returns the number of connected viewers.
func (h *ResultHub) ConnectedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleWebSocket upgrades a results viewer connection and registers it
// with the hub. The read loop exists only to detect disconnects.
func (h *ResultHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("api: results upgrade failed: %v", err)
		return
	}
	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				select {
				case h.unregister <- conn:
				case <-h.done:
					conn.Close()
				}
				return
			}
		}
	}()
}
