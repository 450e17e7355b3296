package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/aestimo/internal/common"
	"github.com/ternarybob/aestimo/internal/interfaces"
	"github.com/ternarybob/aestimo/internal/logs"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Same-host UI only; the API carries no credentials beyond the session cookie
	},
}

// WSMessage is the envelope for every websocket push
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// WebSocketHandler fans subscribed events out to connected UI clients.
// Pushes are refresh triggers; polling the JSON API remains the contract.
type WebSocketHandler struct {
	logger           arbor.ILogger
	eventService     interfaces.EventService
	clients          map[*websocket.Conn]bool
	clientMutex      map[*websocket.Conn]*sync.Mutex
	mu               sync.RWMutex
	allowedEvents    map[string]bool          // Whitelist of events to broadcast (empty = allow all)
	throttlers       map[string]*rate.Limiter // Rate limiters for high-frequency events
	excludePatterns  []string                 // Log messages never streamed to the UI
	serverInstanceID string                   // Unique per startup - clients clear state on change
}

// NewWebSocketHandler creates the handler and subscribes it to the UI-facing
// event types
func NewWebSocketHandler(eventService interfaces.EventService, logger arbor.ILogger, config *common.WebSocketConfig) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		eventService:     eventService,
		clients:          make(map[*websocket.Conn]bool),
		clientMutex:      make(map[*websocket.Conn]*sync.Mutex),
		allowedEvents:    make(map[string]bool),
		throttlers:       make(map[string]*rate.Limiter),
		serverInstanceID: uuid.New().String(),
	}

	if config != nil {
		for _, eventType := range config.AllowedEvents {
			h.allowedEvents[eventType] = true
		}
		h.excludePatterns = config.ExcludePatterns

		for eventType, intervalStr := range config.ThrottleIntervals {
			duration, err := time.ParseDuration(intervalStr)
			if err != nil {
				logger.Warn().
					Err(err).
					Str("event_type", eventType).
					Str("interval", intervalStr).
					Msg("Failed to parse throttle interval - skipping throttler")
				continue
			}
			h.throttlers[eventType] = rate.NewLimiter(rate.Every(duration), 1)
			logger.Debug().
				Str("event_type", eventType).
				Str("interval", intervalStr).
				Msg("Throttler initialized for event type")
		}
	}

	if eventService != nil {
		h.subscribeAll()
	}

	return h
}

// subscribeAll registers the handler for every event type pushed to the UI
func (h *WebSocketHandler) subscribeAll() {
	h.eventService.Subscribe(interfaces.EventStatusChanged, h.handleEvent)
	h.eventService.Subscribe(interfaces.EventProcessingProgress, h.handleEvent)
	h.eventService.Subscribe(interfaces.EventLogEvent, h.handleLogEvent)
}

// handleEvent broadcasts status and progress events, subject to the
// whitelist and per-type throttling
func (h *WebSocketHandler) handleEvent(_ context.Context, event interfaces.Event) error {
	if !h.shouldBroadcast(string(event.Type)) {
		return nil
	}
	h.broadcast(string(event.Type), event.Payload)
	return nil
}

// handleLogEvent streams log entries, dropping configured noise patterns
func (h *WebSocketHandler) handleLogEvent(_ context.Context, event interfaces.Event) error {
	if !h.shouldBroadcast(string(event.Type)) {
		return nil
	}

	if entry, ok := event.Payload.(logs.Entry); ok {
		for _, pattern := range h.excludePatterns {
			if strings.Contains(entry.Message, pattern) {
				return nil
			}
		}
	}

	h.broadcast(string(event.Type), event.Payload)
	return nil
}

// shouldBroadcast applies the event whitelist and throttling
func (h *WebSocketHandler) shouldBroadcast(eventType string) bool {
	if len(h.allowedEvents) > 0 && !h.allowedEvents[eventType] {
		return false
	}
	if limiter, ok := h.throttlers[eventType]; ok && !limiter.Allow() {
		return false
	}
	return true
}

// HandleWebSocket handles GET /ws connections
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Msgf("WebSocket client connected (total: %d)", clientCount)

	h.sendHello(conn)

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Msgf("WebSocket client disconnected (remaining: %d)", remaining)
	}()

	// Keep the connection alive; clients never send meaningful messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
	}
}

// sendHello tells a fresh client which server instance it reached, so the UI
// can reset cached state after a restart
func (h *WebSocketHandler) sendHello(conn *websocket.Conn) {
	msg := WSMessage{
		Type: "connected",
		Payload: map[string]string{
			"server_instance_id": h.serverInstanceID,
		},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal hello message")
		return
	}

	h.mu.RLock()
	mutex := h.clientMutex[conn]
	h.mu.RUnlock()

	if mutex != nil {
		mutex.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()
		if err != nil {
			h.logger.Warn().Err(err).Msg("Failed to send hello")
		}
	}
}

// broadcast fans one message out to every connected client
func (h *WebSocketHandler) broadcast(messageType string, payload interface{}) {
	msg := WSMessage{
		Type:    messageType,
		Payload: payload,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("message_type", messageType).Msg("Failed to marshal websocket message")
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
		mutexes = append(mutexes, h.clientMutex[conn])
	}
	h.mu.RUnlock()

	for i, conn := range clients {
		mutex := mutexes[i]
		mutex.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		// Logging a log_event delivery failure would feed the consumer its
		// own output; stay silent for that type
		if err != nil && messageType != string(interfaces.EventLogEvent) {
			h.logger.Warn().Err(err).Str("message_type", messageType).Msg("Failed to send message to client")
		}
	}
}

// ClientCount reports the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
