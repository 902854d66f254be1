package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/transponder/internal/infrastructure/config"
	"github.com/nerrad567/transponder/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSubscribe = "subscribe"
	WSTypePing      = "ping"
	WSTypePong      = "pong"
	WSTypeEvent     = "event"
	WSTypeResponse  = "response"
	WSTypeError     = "error"

	// WSChannelAll subscribes a client to every event channel.
	WSChannelAll = "*"

	wsSendBufferSize = 256
)

// WSMessage is the envelope for every frame in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload replaces a client's subscription. An empty Mailboxes
// list means every mailbox; events not tied to a mailbox always pass the
// mailbox filter. Subscribing to no channels stops all events.
type WSSubscribePayload struct {
	Channels  []string `json:"channels"`
	Mailboxes []string `json:"mailboxes,omitempty"`
}

// knownChannels are the event channels a client may name.
var knownChannels = map[string]struct{}{
	WSChannelAll:             {},
	EventStationStateChanged: {},
	EventMessageDelivered:    {},
	EventUploadFailed:        {},
	EventVersionChanged:      {},
}

// subscription is a client's event filter.
type subscription struct {
	channels  map[string]struct{}
	mailboxes map[string]struct{}
}

func newSubscription(p WSSubscribePayload) (subscription, error) {
	sub := subscription{
		channels:  make(map[string]struct{}, len(p.Channels)),
		mailboxes: make(map[string]struct{}, len(p.Mailboxes)),
	}
	for _, ch := range p.Channels {
		if _, ok := knownChannels[ch]; !ok {
			return subscription{}, fmt.Errorf("unknown channel: %s", ch)
		}
		sub.channels[ch] = struct{}{}
	}
	for _, id := range p.Mailboxes {
		if id != "" {
			sub.mailboxes[id] = struct{}{}
		}
	}
	return sub, nil
}

// wants reports whether an event on channel about mailboxes passes the filter.
func (s subscription) wants(channel string, mailboxes []string) bool {
	_, all := s.channels[WSChannelAll]
	if _, ok := s.channels[channel]; !ok && !all {
		return false
	}
	if len(s.mailboxes) == 0 || len(mailboxes) == 0 {
		return true
	}
	for _, id := range mailboxes {
		if _, ok := s.mailboxes[id]; ok {
			return true
		}
	}
	return false
}

// Hub fans events out to WebSocket clients. It is created before the API
// server so station and upload hooks can publish into it.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*wsClient]struct{}
	mu      sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// Run blocks until ctx ends, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "subject", c.subject, "clients", n)
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.close()
	h.logger.Debug("websocket client disconnected", "subject", c.subject, "clients", n)
}

// Broadcast sends payload on channel to every client whose subscription
// matches. mailboxes names the mailboxes the event concerns, if any.
// A client that cannot keep up is disconnected.
func (h *Hub) Broadcast(channel string, mailboxes []string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.wants(channel, mailboxes) {
			continue
		}
		if !c.trySend(data) {
			h.logger.Warn("dropping slow websocket client", "subject", c.subject, "channel", channel)
			c.close()
		}
	}
}

// wsClient is one connection. send is closed exactly once, by close.
type wsClient struct {
	hub     *Hub
	conn    *websocket.Conn
	subject string

	mu     sync.Mutex
	sub    subscription
	send   chan []byte
	closed bool
}

func (c *wsClient) wants(channel string, mailboxes []string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sub.wants(channel, mailboxes)
}

func (c *wsClient) setSubscription(sub subscription) {
	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()
}

// trySend queues data without blocking. It reports false when the
// buffer is full; a closed client swallows data.
func (c *wsClient) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebSocket upgrades an authenticated request. Clients receive
// nothing until they subscribe.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, wsSendBufferSize),
	}
	if claims := claimsFromContext(r.Context()); claims != nil {
		c.subject = claims.Subject
	}

	s.hub.register(c)
	go c.writeLoop(s.wsCfg)
	go c.readLoop(s.wsCfg)
}

func (c *wsClient) readLoop(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	deadline := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(deadline)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	extend() //nolint:errcheck // Read error surfaces below
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "subject", c.subject, "error", err)
			}
			return
		}
		// Browsers may not answer protocol pings; any frame counts.
		extend() //nolint:errcheck // Read error surfaces above
		c.handle(data)
	}
}

func (c *wsClient) writeLoop(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // Write error surfaces below
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // Closing anyway
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handle answers one client frame.
func (c *wsClient) handle(data []byte) {
	var msg struct {
		Type    string             `json:"type"`
		ID      string             `json:"id"`
		Payload WSSubscribePayload `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply(msg.ID, WSTypeError, map[string]string{"message": "invalid JSON message"})
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		sub, err := newSubscription(msg.Payload)
		if err != nil {
			c.reply(msg.ID, WSTypeError, map[string]string{"message": err.Error()})
			return
		}
		c.setSubscription(sub)
		c.hub.logger.Debug("websocket subscription set",
			"subject", c.subject, "channels", msg.Payload.Channels, "mailboxes", msg.Payload.Mailboxes)
		c.reply(msg.ID, WSTypeResponse, msg.Payload)
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.reply(msg.ID, WSTypeError, map[string]string{"message": "unknown message type: " + msg.Type})
	}
}

func (c *wsClient) reply(id, kind string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      kind,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}
