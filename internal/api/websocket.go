package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-irrigation/internal/automation"
	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-irrigation/internal/infrastructure/logging"
)

// Messages a dashboard sends.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
)

// Messages the server sends.
const (
	WSTypePong     = "pong"
	WSTypeEvent    = "event"
	WSTypeResponse = "response"
	WSTypeError    = "error"
)

// WSChannelAll subscribes to every engine channel.
const WSChannelAll = "*"

const wsSendBufferSize = 256

// wsChannels are the engine channels a client may subscribe to.
var wsChannels = map[string]bool{
	automation.ChannelIrrigationExecuted: true,
	automation.ChannelAutomationDisabled: true,
	automation.ChannelAutomationAlert:    true,
	WSChannelAll:                         true,
}

// WSMessage is the envelope for every frame in both directions. Events carry
// the channel in EventType and, when the payload names one, the plant.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	PlantID   string `json:"plant_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload names channels and, optionally, plants. A client with
// no plant filter receives events for every plant.
type WSSubscribePayload struct {
	Channels []string `json:"channels,omitempty"`
	Plants   []string `json:"plants,omitempty"`
}

// ─── Hub ────────────────────────────────────────────────────────────

// Hub fans engine events out to connected dashboards. It implements
// automation.WSHub.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// NewHub creates an empty hub. Call Run in a goroutine so clients are
// disconnected when the daemon shuts down.
//
// Parameters:
//   - cfg: Ping interval, pong timeout and message size limits
//   - logger: Structured logger for connect and drop events
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

// Register adds a client.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "subject", c.subject, "clients", n)
}

// Unregister removes a client. Only the call that finds the client closes
// its send channel, so a concurrent Run cannot double-close it.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		close(c.send)
		h.logger.Debug("websocket client disconnected", "subject", c.subject, "clients", n)
	}
}

// Broadcast delivers payload to every client subscribed to channel whose
// plant filter admits the event's plant. Slow clients drop the event.
//
// Parameters:
//   - channel: One of the automation channels, sent as event_type
//   - payload: Event body; a HistoryEntry or map with plant_id sets plant_id
func (h *Hub) Broadcast(channel string, payload any) {
	plantID := eventPlant(payload)
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		PlantID:   plantID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal websocket event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if c.wants(channel, plantID) && c.trySend(data) {
			sent++
		}
	}
	if sent > 0 {
		h.logger.Debug("websocket event sent", "channel", channel, "plant_id", plantID, "recipients", sent)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// eventPlant extracts the plant an engine event concerns.
func eventPlant(payload any) string {
	switch p := payload.(type) {
	case automation.HistoryEntry:
		return p.PlantID
	case *automation.HistoryEntry:
		if p != nil {
			return p.PlantID
		}
	case map[string]any:
		s, _ := p["plant_id"].(string)
		return s
	}
	return ""
}

// ─── Upgrade ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by corsMiddleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebSocket upgrades GET /api/v1/ws. With authentication on, the
// caller presents a single-use ticket (?ticket=, from POST /ws-ticket) or
// a bearer token.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	subject, ok := s.authenticateWebSocket(r)
	if !ok {
		writeUnauthorized(w, "valid ticket or bearer token is required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := newWSClient(s.hub, conn, subject)
	s.hub.Register(c)
	go c.writePump(s.wsCfg)
	go c.readPump(s.wsCfg)
}

func (s *Server) authenticateWebSocket(r *http.Request) (string, bool) {
	if !s.authEnabled() {
		return "anonymous", true
	}
	if ticket := r.URL.Query().Get("ticket"); ticket != "" {
		return "ticket", s.tickets.redeem(ticket)
	}
	raw, ok := bearerToken(r)
	if !ok {
		return "", false
	}
	subject, err := ParseToken(s.secCfg.JWT.Secret, raw)
	if err != nil {
		return "", false
	}
	return subject, true
}

// ─── Client ─────────────────────────────────────────────────────────

// WSClient is one dashboard connection.
type WSClient struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	subject string

	mu       sync.RWMutex
	channels map[string]struct{}
	plants   map[string]struct{}
}

func newWSClient(hub *Hub, conn *websocket.Conn, subject string) *WSClient {
	return &WSClient{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, wsSendBufferSize),
		subject:  subject,
		channels: make(map[string]struct{}),
		plants:   make(map[string]struct{}),
	}
}

// wants reports whether an event on channel for plantID should reach c.
// Events without a plant pass any plant filter.
func (c *WSClient) wants(channel, plantID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, exact := c.channels[channel]
	_, all := c.channels[WSChannelAll]
	if !exact && !all {
		return false
	}
	if len(c.plants) == 0 || plantID == "" {
		return true
	}
	_, ok := c.plants[plantID]
	return ok
}

// trySend queues data without blocking. It reports false when the buffer
// is full or the client has already been unregistered.
func (c *WSClient) trySend(data []byte) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func pumpTimings(cfg config.WebSocketConfig) (ping, pong time.Duration) {
	return time.Duration(cfg.PingInterval) * time.Second, time.Duration(cfg.PongTimeout) * time.Second
}

func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	ping, pong := pumpTimings(cfg)
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(ping + pong)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	extend() //nolint:errcheck // a failed deadline surfaces on the next read
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "subject", c.subject, "error", err)
			}
			return
		}
		extend() //nolint:errcheck // as above
		c.handleMessage(data)
	}
}

func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	ping, pong := pumpTimings(cfg)
	ticker := time.NewTicker(ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(pong)) //nolint:errcheck // write reports it
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // closing anyway
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

func (c *WSClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply("", WSTypeError, errorPayload("invalid JSON message"))
		return
	}

	switch msg.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.updateSubscriptions(msg)
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.reply(msg.ID, WSTypeError, errorPayload("unknown message type: "+msg.Type))
	}
}

// updateSubscriptions applies a subscribe or unsubscribe. Unknown channels
// reject the whole request.
func (c *WSClient) updateSubscriptions(msg WSMessage) {
	sub, err := decodeSubscription(msg.Payload)
	if err != nil {
		c.reply(msg.ID, WSTypeError, errorPayload("invalid "+msg.Type+" payload: "+err.Error()))
		return
	}

	add := msg.Type == WSTypeSubscribe
	c.mu.Lock()
	toggle(c.channels, sub.Channels, add)
	toggle(c.plants, sub.Plants, add)
	c.mu.Unlock()

	key := "unsubscribed"
	if add {
		key = "subscribed"
		c.hub.logger.Info("websocket client subscribed",
			"subject", c.subject, "channels", sub.Channels, "plants", sub.Plants)
	}
	c.reply(msg.ID, WSTypeResponse, map[string]any{key: sub})
}

func decodeSubscription(payload any) (WSSubscribePayload, error) {
	var sub WSSubscribePayload
	raw, err := json.Marshal(payload)
	if err != nil {
		return sub, err
	}
	if err := json.Unmarshal(raw, &sub); err != nil {
		return sub, err
	}
	if len(sub.Channels) == 0 && len(sub.Plants) == 0 {
		return sub, fmt.Errorf("no channels or plants")
	}
	for _, ch := range sub.Channels {
		if !wsChannels[ch] {
			return sub, fmt.Errorf("unknown channel %q", ch)
		}
	}
	return sub, nil
}

func toggle(set map[string]struct{}, keys []string, add bool) {
	for _, k := range keys {
		if add {
			set[k] = struct{}{}
		} else {
			delete(set, k)
		}
	}
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err == nil {
		c.trySend(data)
	}
}

func errorPayload(message string) map[string]string {
	return map[string]string{"message": message}
}
