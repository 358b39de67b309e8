// Package feed streams new history entries to WebSocket subscribers.
//
// The prediction service publishes each entry once it is stored; the hub fans it
// out to every connected client as a JSON text frame. Slow clients never block
// a prediction: when the broadcast queue is full the entry is dropped for the
// live feed (it is still in the history store).
package feed

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"rasp/internal/storage"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 512
	queueSize      = 100
)

// Metrics defines the metrics methods the hub reports to.
type Metrics interface {
	FeedClientsSet(n int)
}

// Hub is the set of connected feed clients.
type Hub struct {
	upgrader  websocket.Upgrader
	metrics   Metrics
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	broadcast chan []byte
	stop      chan struct{}
	isRunning bool
	mu        sync.Mutex
}

// NewHub creates a hub. checkOrigin may be nil to accept any origin.
func NewHub(metrics Metrics, checkOrigin func(r *http.Request) bool) *Hub {
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &Hub{
		upgrader:  websocket.Upgrader{CheckOrigin: checkOrigin},
		metrics:   metrics,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, queueSize),
		stop:      make(chan struct{}),
	}
}

// Start runs the broadcaster.
func (h *Hub) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.isRunning {
		return fmt.Errorf("feed hub is already running")
	}
	go h.broadcaster()
	h.isRunning = true
	return nil
}

// Stop disconnects every client and stops the broadcaster.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.isRunning {
		return
	}
	close(h.stop)

	h.clientsMu.Lock()
	for c := range h.clients {
		c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.Close()
	}
	h.clients = make(map[*websocket.Conn]bool)
	h.clientsMu.Unlock()
	h.reportClients(0)

	h.isRunning = false
	log.Info().Msg("Feed hub stopped")
}

// Publish queues an entry for all clients. It never blocks.
func (h *Hub) Publish(entry storage.HistoryEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		log.Error().Err(err).Str("id", entry.ID).Msg("Failed to marshal history entry for feed")
		return
	}
	select {
	case h.broadcast <- data:
	default:
		log.Warn().Str("id", entry.ID).Msg("Feed queue full, dropping entry")
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcaster() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data := <-h.broadcast:
			h.sendAll(websocket.TextMessage, data)
		case <-ticker.C:
			h.sendAll(websocket.PingMessage, nil)
		case <-h.stop:
			return
		}
	}
}

// sendAll writes one message to every client and drops the ones that fail.
func (h *Hub) sendAll(messageType int, data []byte) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()

	before := len(h.clients)
	for c := range h.clients {
		c.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.WriteMessage(messageType, data); err != nil {
			log.Debug().Err(err).Str("remote", c.RemoteAddr().String()).Msg("Dropping feed client")
			c.Close()
			delete(h.clients, c)
		}
	}
	if len(h.clients) != before {
		h.reportClients(len(h.clients))
	}
}

// ServeHTTP upgrades the request and keeps the client subscribed until it
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}
	defer conn.Close()

	h.clientsMu.Lock()
	h.clients[conn] = true
	n := len(h.clients)
	h.clientsMu.Unlock()
	h.reportClients(n)

	log.Info().Str("remote", r.RemoteAddr).Int("clients", n).Msg("Feed client connected")

	// Clients only listen; reads serve to notice the disconnect and pongs.
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.clientsMu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	n = len(h.clients)
	h.clientsMu.Unlock()
	if ok {
		h.reportClients(n)
	}

	log.Info().Str("remote", r.RemoteAddr).Msg("Feed client disconnected")
}

func (h *Hub) reportClients(n int) {
	if h.metrics != nil {
		h.metrics.FeedClientsSet(n)
	}
}
