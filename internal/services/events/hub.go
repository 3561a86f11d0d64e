package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/zentra/nbot/pkg/database"
)

// Event types sent to dashboard clients by the hub itself. Pipeline events
// are defined next to the code that publishes them.
const (
	EventTypeReady        = "READY"
	EventTypeHeartbeatAck = "HEARTBEAT_ACK"
)

// Client represents a WebSocket client connection
type Client struct {
	ID         uuid.UUID
	Subject    string
	Conn       *websocket.Conn
	Send       chan []byte
	Hub        *Hub
	Subscribed map[string]bool // event types; empty means all
	mu         sync.RWMutex
}

// Hub fans pipeline events out to connected dashboard clients. Events
// published on one instance reach the clients of every instance through
// Redis pub/sub.
type Hub struct {
	id        string
	clients   map[uuid.UUID]*Client
	broadcast chan *Event
	closed    bool
	redis     *redis.Client
	mu        sync.RWMutex
}

// Event represents a WebSocket event
type Event struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage represents an incoming message from a client
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type relayedEvent struct {
	Origin string          `json:"origin"`
	Event  json.RawMessage `json:"event"`
}

// NewHub creates a hub. redisClient may be nil, in which case events stay
// on this instance.
func NewHub(redisClient *redis.Client) *Hub {
	return &Hub{
		id:        uuid.NewString(),
		clients:   make(map[uuid.UUID]*Client),
		broadcast: make(chan *Event, 256),
		redis:     redisClient,
	}
}

func (h *Hub) Run(ctx context.Context) {
	if h.redis != nil {
		go h.subscribeToRedis(ctx)
	}

	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				log.Error().Err(err).Str("type", event.Type).Msg("Failed to marshal event")
				continue
			}
			h.broadcastLocal(event.Type, data)
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, client := range h.clients {
		close(client.Send)
		delete(h.clients, id)
	}
	h.closed = true
}

// registerClient adds client to the hub. It reports false once the hub has
// stopped.
func (h *Hub) registerClient(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	h.clients[client.ID] = client

	log.Info().
		Str("clientId", client.ID.String()).
		Str("subject", client.Subject).
		Msg("Event stream client connected")
	return true
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		close(client.Send)

		log.Info().
			Str("clientId", client.ID.String()).
			Str("subject", client.Subject).
			Msg("Event stream client disconnected")
	}
}

func (h *Hub) broadcastLocal(eventType string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for clientID, client := range h.clients {
		if !client.wants(eventType) {
			continue
		}
		select {
		case client.Send <- data:
		default:
			log.Warn().Str("clientId", clientID.String()).Msg("Client send buffer full")
		}
	}
}

// Publish sends an event to every subscribed client. It never blocks; when
// the hub is backed up the event is dropped.
func (h *Hub) Publish(eventType string, payload any) {
	event := &Event{Type: eventType, Data: payload, Timestamp: time.Now().UTC()}

	select {
	case h.broadcast <- event:
	default:
		log.Warn().Str("type", eventType).Msg("Event buffer full, dropping event")
	}

	if h.redis != nil {
		h.publishToRedis(context.Background(), event)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) publishToRedis(ctx context.Context, event *Event) {
	eventData, err := json.Marshal(event)
	if err != nil {
		return
	}
	data, err := json.Marshal(relayedEvent{Origin: h.id, Event: eventData})
	if err != nil {
		return
	}

	if err := h.redis.Publish(ctx, database.ChannelEmoterEvents, data).Err(); err != nil {
		log.Warn().Err(err).Str("type", event.Type).Msg("Failed to relay event")
	}
}

func (h *Hub) subscribeToRedis(ctx context.Context) {
	pubsub := h.redis.Subscribe(ctx, database.ChannelEmoterEvents)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var relayed relayedEvent
			if err := json.Unmarshal([]byte(msg.Payload), &relayed); err != nil {
				continue
			}
			// Already delivered locally by Publish.
			if relayed.Origin == h.id {
				continue
			}

			var head struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(relayed.Event, &head); err != nil {
				continue
			}
			h.broadcastLocal(head.Type, relayed.Event)
		}
	}
}
