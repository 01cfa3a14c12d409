package http

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sentigrade/sentigrade/internal/agent"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 30 * time.Second
)

// Hub streams cycle reports to websocket subscribers. It observes the
// agent: every report is broadcast as one JSON text message. Slow or dead
// clients are dropped, never waited on.
type Hub struct {
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

var _ agent.Observer = (*Hub)(nil)

// wsClient serializes writes; the broadcast path and the per-connection
// ping loop both write to the same conn.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(messageType, data)
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			// Monitoring endpoint on a local interface; any origin may read.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  log.With().Str("component", "ws_hub").Logger(),
		clients: make(map[*wsClient]struct{}),
	}
}

// ServeHTTP upgrades the connection and holds it until the client goes
// away. Inbound messages are discarded; the stream is one-way.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Websocket upgrade failed")
		return
	}

	client := &wsClient{conn: conn}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug().Str("remote", r.RemoteAddr).Int("clients", count).Msg("Websocket client connected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			h.drop(client)
			return
		case <-ticker.C:
			if err := client.write(websocket.PingMessage, nil); err != nil {
				h.drop(client)
				return
			}
		}
	}
}

// OnCycle broadcasts one report to every subscriber.
func (h *Hub) OnCycle(report agent.CycleReport) {
	data, err := json.Marshal(report)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode cycle report")
		return
	}

	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		if err := client.write(websocket.TextMessage, data); err != nil {
			h.drop(client)
		}
	}
}

// ClientCount reports current subscribers, for the status endpoint.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) drop(client *wsClient) {
	h.mu.Lock()
	_, present := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()
	if present {
		client.conn.Close()
	}
}
