// Package events pushes provider status, credential migration notices and
// request metadata to the desktop shell over a websocket.
package events

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/raaihank/medgateway/internal/audit"
	"github.com/raaihank/medgateway/internal/config"
	"github.com/raaihank/medgateway/internal/credentials"
	"github.com/raaihank/medgateway/internal/gateway"
	"github.com/raaihank/medgateway/internal/logger"
)

const sendBuffer = 256

// HubStats tracks hub statistics
type HubStats struct {
	TotalConnections  int64     `json:"total_connections"`
	ActiveConnections int64     `json:"active_connections"`
	TotalMessages     int64     `json:"total_messages"`
	DroppedEvents     int64     `json:"dropped_events"`
	LastBroadcastTime time.Time `json:"last_broadcast_time"`
}

type control struct {
	client *Client
	msg    ClientMessage
}

// Hub maintains the set of active clients and broadcasts events to them.
// The client set is owned by the Run goroutine.
type Hub struct {
	cfg      config.WebSocketConfig
	upgrader websocket.Upgrader
	logger   *logger.Logger

	clients    map[*Client]bool
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	control    chan control
	done       chan struct{}

	mu    sync.RWMutex
	stats HubStats
}

// NewHub creates a hub. Call Run before serving connections.
func NewHub(cfg config.WebSocketConfig, log *logger.Logger) *Hub {
	h := &Hub{
		cfg:        cfg,
		logger:     log.WithComponent("events"),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Event, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		control:    make(chan control),
		done:       make(chan struct{}),
	}
	if h.cfg.PingInterval <= 0 {
		h.cfg.PingInterval = 54 * time.Second
	}
	if h.cfg.PongTimeout <= h.cfg.PingInterval {
		h.cfg.PongTimeout = h.cfg.PingInterval * 10 / 9
	}
	if h.cfg.WriteTimeout <= 0 {
		h.cfg.WriteTimeout = 10 * time.Second
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Run handles registration and broadcasting until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("Starting event hub")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			h.logger.Info("Event hub stopped")
			return

		case client := <-h.register:
			h.clients[client] = true
			h.mu.Lock()
			h.stats.TotalConnections++
			h.stats.ActiveConnections = int64(len(h.clients))
			h.mu.Unlock()
			h.logger.Info("Client connected",
				zap.String("client_id", client.ID),
				zap.Int("active_connections", len(h.clients)),
			)
			h.deliver(Event{
				Type:      EventTypeConnection,
				Timestamp: time.Now(),
				Data:      ConnectionEvent{Action: "connected", ClientID: client.ID},
			}, client)

		case client := <-h.unregister:
			if h.clients[client] {
				h.drop(client)
				h.logger.Info("Client disconnected",
					zap.String("client_id", client.ID),
					zap.Int("active_connections", len(h.clients)),
				)
			}

		case c := <-h.control:
			if h.clients[c.client] {
				h.handleClientMessage(c.client, c.msg)
			}

		case event := <-h.broadcast:
			h.deliver(event, nil)
		}
	}
}

// deliver sends event to every subscribed client except skip. Clients
// that cannot keep up are disconnected.
func (h *Hub) deliver(event Event, skip *Client) {
	var sent int64
	for client := range h.clients {
		if client == skip || !client.wants(event.Type) {
			continue
		}
		select {
		case client.send <- event:
			sent++
		default:
			h.logger.Warn("Client send buffer full, closing connection", zap.String("client_id", client.ID))
			h.drop(client)
		}
	}

	h.mu.Lock()
	h.stats.TotalMessages += sent
	h.stats.LastBroadcastTime = event.Timestamp
	h.mu.Unlock()
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
	h.mu.Lock()
	h.stats.ActiveConnections = int64(len(h.clients))
	h.mu.Unlock()
}

func (h *Hub) handleClientMessage(client *Client, msg ClientMessage) {
	switch msg.Type {
	case "subscribe":
		client.subscription = make(map[EventType]bool, len(msg.Events))
		for _, t := range msg.Events {
			client.subscription[t] = true
		}
	case "ping":
		select {
		case client.send <- Event{Type: EventTypePong, Timestamp: time.Now()}:
		default:
		}
	}
}

func (c *Client) wants(t EventType) bool {
	return c.subscription == nil || c.subscription[t]
}

// Publish queues an event for broadcast. Events are dropped when the queue
// is full.
func (h *Hub) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case h.broadcast <- event:
	default:
		h.mu.Lock()
		h.stats.DroppedEvents++
		h.mu.Unlock()
		h.logger.Warn("Broadcast queue full, dropping event", zap.String("event_type", string(event.Type)))
	}
}

// ProviderStatus publishes a backend lifecycle step
func (h *Hub) ProviderStatus(e gateway.StatusEvent) {
	if !h.cfg.Events.BroadcastStatus {
		return
	}
	h.Publish(Event{Type: EventTypeProviderStatus, Data: e})
}

// CredentialMigration publishes an import offer for an env credential
func (h *Hub) CredentialMigration(m credentials.Migration) {
	if !h.cfg.Events.BroadcastCredentials {
		return
	}
	h.Publish(Event{Type: EventTypeCredentialMigration, Data: m})
}

// RequestCompleted publishes the metadata of a finished call
func (h *Hub) RequestCompleted(e audit.Entry) {
	if !h.cfg.Events.BroadcastRequests {
		return
	}
	h.Publish(Event{
		Type:      EventTypeRequestLog,
		RequestID: e.RequestID,
		Data: RequestLogEvent{
			RequestID:          e.RequestID,
			Provider:           e.Provider,
			Model:              e.Model,
			Local:              e.Local,
			Outcome:            e.Outcome,
			ErrorKind:          e.ErrorKind,
			Replacements:       e.Replacements,
			ExtractionDegraded: e.ExtractionDegraded,
			DurationMS:         float64(e.Duration.Microseconds()) / 1000,
		},
	})
}

// Stats returns a snapshot of hub statistics
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stats
}

// HandleWebSocket upgrades the connection and registers the client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.cfg.MaxConnections > 0 && h.Stats().ActiveConnections >= int64(h.cfg.MaxConnections) {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade websocket connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:          uuid.NewString(),
		conn:        conn,
		send:        make(chan Event, sendBuffer),
		ConnectedAt: time.Now(),
		IP:          r.RemoteAddr,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(client)
	go h.readPump(client)
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.HasPrefix(origin, allowed) {
			return true
		}
	}
	h.logger.Warn("Rejected websocket origin", zap.String("origin", origin))
	return false
}

func (h *Hub) writePump(client *Client) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case event, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteJSON(event); err != nil {
				h.logger.Debug("Websocket write failed", zap.String("client_id", client.ID), zap.Error(err))
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(client *Client) {
	defer func() {
		select {
		case h.unregister <- client:
		case <-h.done:
		}
		client.conn.Close()
	}()

	client.conn.SetReadLimit(h.cfg.MaxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	})

	for {
		var msg ClientMessage
		if err := client.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Websocket read failed", zap.String("client_id", client.ID), zap.Error(err))
			}
			return
		}

		select {
		case h.control <- control{client: client, msg: msg}:
		case <-h.done:
			return
		}
	}
}
