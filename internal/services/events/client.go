package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096
)

func NewClient(subject string, conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		ID:         uuid.New(),
		Subject:    subject,
		Conn:       conn,
		Send:       make(chan []byte, 256),
		Hub:        hub,
		Subscribed: make(map[string]bool),
	}
}

// ReadPump reads control messages from the connection until it closes
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.unregisterClient(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("clientId", c.ID.String()).
					Msg("WebSocket read error")
			}
			break
		}

		c.handleMessage(message)
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Error().
			Err(err).
			Str("clientId", c.ID.String()).
			Msg("Failed to parse client message")
		return
	}

	switch msg.Type {
	case "SUBSCRIBE":
		c.setSubscription(msg.Data, true)
	case "UNSUBSCRIBE":
		c.setSubscription(msg.Data, false)
	case "HEARTBEAT":
		c.SendEvent(&Event{
			Type: EventTypeHeartbeatAck,
			Data: map[string]any{"timestamp": time.Now().UnixMilli()},
		})
	default:
		log.Warn().
			Str("type", msg.Type).
			Str("clientId", c.ID.String()).
			Msg("Unknown message type")
	}
}

func (c *Client) setSubscription(data json.RawMessage, on bool) {
	var req struct {
		Types []string `json:"types"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range req.Types {
		if on {
			c.Subscribed[t] = true
		} else {
			delete(c.Subscribed, t)
		}
	}
}

func (c *Client) wants(eventType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.Subscribed) == 0 || c.Subscribed[eventType]
}

// SendEvent sends an event directly to this client if it is still
// registered with the hub.
func (c *Client) SendEvent(event *Event) {
	data, err := encodeEvent(event)
	if err != nil {
		return
	}

	c.Hub.mu.RLock()
	defer c.Hub.mu.RUnlock()
	if c.Hub.clients[c.ID] != c {
		return
	}

	select {
	case c.Send <- data:
	default:
	}
}

func encodeEvent(event *Event) ([]byte, error) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return json.Marshal(event)
}
